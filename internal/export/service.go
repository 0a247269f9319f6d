package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elio-info/tesis/internal/store"
)

// DataStore is the read side the report needs.
type DataStore interface {
	GetProject(ctx context.Context, projectID int64) (store.Project, error)
	ListSelected(ctx context.Context, projectID int64) ([]store.SelectionRecord, error)
	ListItems(ctx context.Context, filter store.ItemFilter) ([]store.IdeaItem, error)
}

type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Service builds panel reports and renders them in the requested format.
type Service struct {
	store   DataStore
	pdf     Renderer
	docx    Renderer
	archive Archive
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(dataStore DataStore, pdf, docx Renderer, logger zerolog.Logger) *Service {
	return &Service{store: dataStore, pdf: pdf, docx: docx, logger: logger, now: time.Now}
}

// WithArchive uploads every generated report; a failed upload is logged, never returned.
func (s *Service) WithArchive(archive Archive) *Service {
	s.archive = archive
	return s
}

// BuildReport collects the project, its selected panel and the idea items with vote tallies.
func (s *Service) BuildReport(ctx context.Context, projectID int64) (Report, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return Report{}, fmt.Errorf("get project: %w", err)
	}
	selected, err := s.store.ListSelected(ctx, projectID)
	if err != nil {
		return Report{}, fmt.Errorf("list panel: %w", err)
	}
	items, err := s.store.ListItems(ctx, store.ItemFilter{ProjectID: projectID})
	if err != nil {
		return Report{}, fmt.Errorf("list items: %w", err)
	}

	report := Report{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Client:      project.Client,
		Category:    project.Category,
		Finalized:   len(selected) > 0,
		ClosedAt:    project.BrainstormClosedAt,
		GeneratedAt: s.now(),
		Panel:       make([]Panelist, 0, len(selected)),
		Items:       make([]ReportItem, 0, len(items)),
	}
	for _, rec := range selected {
		if rec.IsModerator {
			report.Moderator = rec.ExpertName
		}
		report.Panel = append(report.Panel, Panelist{
			Name:        rec.ExpertName,
			Coefficient: rec.CoefficientSnapshot,
			Comments:    rec.Comments,
			Moderator:   rec.IsModerator,
		})
	}
	for _, item := range items {
		report.Items = append(report.Items, ReportItem{
			Title:         item.Title,
			Description:   item.Description,
			Author:        item.ExpertName,
			State:         item.State,
			AgreeVotes:    item.AgreeVotes,
			DisagreeVotes: item.DisagreeVotes,
			Average:       item.AverageEvaluation,
		})
	}
	return report, nil
}

// Export renders the project's report. sql.ErrNoRows propagates for unknown projects.
func (s *Service) Export(ctx context.Context, projectID int64, format Format) (*Result, error) {
	report, err := s.BuildReport(ctx, projectID)
	if err != nil {
		return nil, err
	}
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result := &Result{}
	base := "panel-" + sanitizeFilename(report.ProjectName)
	switch format {
	case FormatPDF:
		result.Data, err = s.pdf.Render(ctx, html)
		result.Filename = base + ".pdf"
		result.MimeType = "application/pdf"
	case FormatDOCX:
		result.Data, err = s.docx.Render(ctx, html)
		result.Filename = base + ".docx"
		result.MimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		key := archiveKey(projectID, result.Filename, report.GeneratedAt)
		if err := s.archive.Put(ctx, key, result.Data, result.MimeType); err != nil {
			s.logger.Warn().Err(err).Int64("project_id", projectID).Msg("report archive upload failed")
		} else {
			result.ArchiveKey = key
		}
	}
	return result, nil
}
