// Package search finds idea items and chat messages inside one project.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultItem    ResultType = "item"
	ResultMessage ResultType = "message"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         int64      `json:"id"`
	ProjectID  int64      `json:"project_id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ExpertName string     `json:"expert_name"`
}

// Query describes a search request. ProjectID is mandatory: results never cross projects.
type Query struct {
	Text       string
	ProjectID  int64
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer keeps an external index in sync with PostgreSQL.
type Indexer interface {
	Searcher
	IndexItems(items []ItemRecord) error
	IndexMessages(messages []MessageRecord) error
	DeleteItem(id int64) error
}

// ItemRecord is the data we index for an idea item.
type ItemRecord struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	ExpertName  string `json:"expertName"`
}

// MessageRecord is the data we index for a chat message.
type MessageRecord struct {
	ID         int64  `json:"id"`
	ProjectID  int64  `json:"projectId"`
	Content    string `json:"content"`
	ExpertName string `json:"expertName"`
	SentAt     int64  `json:"sentAt"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
