// Package export renders the panel report of a project as PDF or DOCX.
package export

import (
	"errors"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts "pdf" and "docx" case-insensitively; empty means PDF.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Report is everything the panel report shows about one project.
type Report struct {
	ProjectID   int64
	ProjectName string
	Client      string
	Category    string
	Finalized   bool
	ClosedAt    *time.Time
	GeneratedAt time.Time
	Moderator   string
	Panel       []Panelist
	Items       []ReportItem
}

type Panelist struct {
	Name        string
	Coefficient float64
	Comments    string
	Moderator   bool
}

type ReportItem struct {
	Title         string
	Description   string
	Author        string
	State         string
	AgreeVotes    int
	DisagreeVotes int
	Average       *float64
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ArchiveKey is the object key in the report archive; empty when archiving is off.
	ArchiveKey string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
