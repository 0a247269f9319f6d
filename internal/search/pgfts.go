package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches the generated tsvector columns of idea_items and chat_messages.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL over both tables using the spanish text search configuration.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('spanish', $1)"
	args := []any{q.Text, q.ProjectID}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultItem {
		subQueries = append(subQueries, `
			SELECT 'item'::text AS type, i.id, i.project_id, i.title,
				ts_headline('spanish', coalesce(i.description, ''), `+tsQuery+`, 'MaxFragments=1,MaxWords=30') AS snippet,
				TRIM(e.first_name || ' ' || e.last_name) AS expert_name,
				ts_rank(i.fts, `+tsQuery+`) AS rank
			FROM idea_items i
			JOIN experts e ON e.id = i.expert_id
			WHERE i.project_id = $2 AND i.fts @@ `+tsQuery)
	}
	if q.FilterType == "" || q.FilterType == ResultMessage {
		subQueries = append(subQueries, `
			SELECT 'message'::text AS type, m.id, m.project_id, TRIM(e.first_name || ' ' || e.last_name) AS title,
				ts_headline('spanish', m.content, `+tsQuery+`, 'MaxFragments=1,MaxWords=30') AS snippet,
				TRIM(e.first_name || ' ' || e.last_name) AS expert_name,
				ts_rank(m.fts, `+tsQuery+`) AS rank
			FROM chat_messages m
			JOIN experts e ON e.id = m.expert_id
			WHERE m.project_id = $2 AND m.fts @@ `+tsQuery)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, project_id, title, snippet, expert_name
		FROM (%s) sub
		ORDER BY rank DESC, id DESC
		LIMIT %d OFFSET %d`, union, normalizeLimit(q.Limit), offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.ProjectID, &r.Title, &r.Snippet, &r.ExpertName); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable row for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, []MessageRecord, error) {
	itemRows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.project_id, i.title, i.description, i.state, TRIM(e.first_name || ' ' || e.last_name)
		FROM idea_items i
		JOIN experts e ON e.id = i.expert_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var r ItemRecord
		if err := itemRows.Scan(&r.ID, &r.ProjectID, &r.Title, &r.Description, &r.State, &r.ExpertName); err != nil {
			return nil, nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, r)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate items: %w", err)
	}

	messageRows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.content, TRIM(e.first_name || ' ' || e.last_name), EXTRACT(EPOCH FROM m.sent_at)::bigint
		FROM chat_messages m
		JOIN experts e ON e.id = m.expert_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer messageRows.Close()

	messages := make([]MessageRecord, 0)
	for messageRows.Next() {
		var r MessageRecord
		if err := messageRows.Scan(&r.ID, &r.ProjectID, &r.Content, &r.ExpertName, &r.SentAt); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, r)
	}
	if err := messageRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, messages, nil
}
