package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) CreateProject(ctx context.Context, p Project) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, client, category, researcher_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, p.Name, p.Client, p.Category, p.ResearcherID).Scan(&id)
	if err != nil {
		return 0, translate(err, "insert project")
	}
	return id, nil
}

const projectSelect = `
	SELECT p.id, p.name, p.client, p.category, p.brainstorm_state, p.brainstorm_closed_at, p.researcher_id, p.created_at,
		(SELECT COUNT(*) FROM selection_records sr WHERE sr.project_id = p.id AND sr.state = 'selected')
	FROM projects p`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	var closedAt sql.NullTime
	var researcherID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &p.Client, &p.Category, &p.BrainstormState, &closedAt, &researcherID, &p.CreatedAt, &p.SelectedCount); err != nil {
		return Project{}, err
	}
	p.BrainstormClosedAt = nullableTime(closedAt)
	if researcherID.Valid {
		id := researcherID.Int64
		p.ResearcherID = &id
	}
	return p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID int64) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, projectSelect+` WHERE p.id=$1`, projectID))
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, projectSelect+` ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) CountProjects(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return count, nil
}

// CloseBrainstorm flips an active brainstorm to closed and records who did it.
// It reports false when the brainstorm was already closed.
func (s *PostgresStore) CloseBrainstorm(ctx context.Context, projectID int64, actor string) (bool, error) {
	closed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET brainstorm_state='closed', brainstorm_closed_at=NOW()
			WHERE id=$1 AND brainstorm_state='active'
		`, projectID)
		if err != nil {
			return fmt.Errorf("close brainstorm: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("close brainstorm rows: %w", err)
		}
		if affected == 0 {
			return nil
		}
		closed = true
		return insertAudit(ctx, tx, AuditEvent{ProjectID: projectID, Actor: actor, Action: "brainstorm_closed"})
	})
	return closed, err
}
