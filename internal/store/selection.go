package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/elio-info/tesis/internal/panel"
)

// FinalizeSelection turns every completed survey of the project into a selected record
// and nominates the moderator, all inside one transaction that holds the project row lock.
// A project that already has a selected record is left untouched.
func (s *PostgresStore) FinalizeSelection(ctx context.Context, projectID, moderatorID int64, decidedBy string) (FinalizeResult, error) {
	var result FinalizeResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var locked int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE id=$1 FOR UPDATE`, projectID).Scan(&locked); err != nil {
			return fmt.Errorf("lock project: %w", err)
		}

		var finalized bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM selection_records WHERE project_id=$1 AND state='selected')
		`, projectID).Scan(&finalized); err != nil {
			return fmt.Errorf("check finalized: %w", err)
		}
		if finalized {
			result.AlreadyFinalized = true
			return nil
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT expert_id, coefficient_k
			FROM surveys
			WHERE project_id=$1 AND state='completed'
			ORDER BY coefficient_k DESC, id ASC
		`, projectID)
		if err != nil {
			return fmt.Errorf("list completed surveys: %w", err)
		}
		type scored struct {
			expertID int64
			k        float64
		}
		completed := make([]scored, 0)
		for rows.Next() {
			var item scored
			if err := rows.Scan(&item.expertID, &item.k); err != nil {
				rows.Close()
				return fmt.Errorf("scan completed survey: %w", err)
			}
			completed = append(completed, item)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate completed surveys: %w", err)
		}
		if len(completed) == 0 {
			return ErrNoCompletedSurveys
		}

		if _, err := tx.ExecContext(ctx, `UPDATE selection_records SET is_moderator=FALSE WHERE project_id=$1 AND is_moderator`, projectID); err != nil {
			return fmt.Errorf("clear moderator: %w", err)
		}

		for _, item := range completed {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO selection_records (project_id, expert_id, state, decided_by, decided_at, coefficient_snapshot, comments, is_moderator)
				VALUES ($1, $2, 'selected', $3, NOW(), $4, $5, FALSE)
				ON CONFLICT (project_id, expert_id) DO UPDATE SET
					state='selected',
					decided_by=EXCLUDED.decided_by,
					decided_at=EXCLUDED.decided_at,
					coefficient_snapshot=EXCLUDED.coefficient_snapshot,
					comments=EXCLUDED.comments
			`, projectID, item.expertID, decidedBy, item.k, fmt.Sprintf("Seleccionado. K=%.2f", item.k)); err != nil {
				return fmt.Errorf("select expert %d: %w", item.expertID, err)
			}
		}

		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM experts WHERE id=$1)`, moderatorID).Scan(&exists); err != nil {
			return fmt.Errorf("check moderator: %w", err)
		}
		if !exists {
			return ErrModeratorNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO selection_records (project_id, expert_id, state, decided_by, decided_at, coefficient_snapshot, comments, is_moderator)
			VALUES ($1, $2, 'selected', $3, NOW(), 0, 'Moderador del proyecto', TRUE)
			ON CONFLICT (project_id, expert_id) DO UPDATE SET
				state='selected',
				decided_by=EXCLUDED.decided_by,
				decided_at=EXCLUDED.decided_at,
				coefficient_snapshot=EXCLUDED.coefficient_snapshot,
				comments=EXCLUDED.comments,
				is_moderator=TRUE
		`, projectID, moderatorID, decidedBy); err != nil {
			return fmt.Errorf("assign moderator: %w", err)
		}

		result.Selected = len(completed)
		return insertAudit(ctx, tx, AuditEvent{
			ProjectID: projectID,
			Actor:     decidedBy,
			Action:    "selection_finalized",
			Detail:    fmt.Sprintf("selected=%d moderator=%d", len(completed), moderatorID),
		})
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	return result, nil
}

const selectionSelect = `
	SELECT sr.id, sr.project_id, sr.expert_id, sr.state, sr.decided_by, sr.decided_at,
		sr.coefficient_snapshot, sr.comments, sr.is_moderator,
		TRIM(e.first_name || ' ' || e.last_name), p.name, p.brainstorm_state
	FROM selection_records sr
	JOIN experts e ON e.id = sr.expert_id
	JOIN projects p ON p.id = sr.project_id`

func scanSelection(row interface{ Scan(...any) error }) (SelectionRecord, error) {
	var rec SelectionRecord
	var decidedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.ProjectID, &rec.ExpertID, &rec.State, &rec.DecidedBy, &decidedAt,
		&rec.CoefficientSnapshot, &rec.Comments, &rec.IsModerator,
		&rec.ExpertName, &rec.ProjectName, &rec.BrainstormState)
	if err != nil {
		return SelectionRecord{}, err
	}
	rec.DecidedAt = nullableTime(decidedAt)
	return rec, nil
}

func (s *PostgresStore) querySelection(ctx context.Context, query string, args ...any) ([]SelectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list selection records: %w", err)
	}
	defer rows.Close()

	records := make([]SelectionRecord, 0)
	for rows.Next() {
		rec, err := scanSelection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan selection record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selection records: %w", err)
	}
	return records, nil
}

// ListSelected returns the project's selected panel, highest coefficient first.
func (s *PostgresStore) ListSelected(ctx context.Context, projectID int64) ([]SelectionRecord, error) {
	return s.querySelection(ctx, selectionSelect+`
		WHERE sr.project_id=$1 AND sr.state='selected'
		ORDER BY sr.coefficient_snapshot DESC, sr.id ASC`, projectID)
}

// ListExpertSelections returns every project where the expert sits on the selected panel.
func (s *PostgresStore) ListExpertSelections(ctx context.Context, expertID int64) ([]SelectionRecord, error) {
	return s.querySelection(ctx, selectionSelect+`
		WHERE sr.expert_id=$1 AND sr.state='selected'
		ORDER BY p.created_at DESC, sr.id DESC`, expertID)
}

// GetModerator returns sql.ErrNoRows when the project has no moderator yet.
func (s *PostgresStore) GetModerator(ctx context.Context, projectID int64) (SelectionRecord, error) {
	return scanSelection(s.db.QueryRowContext(ctx, selectionSelect+`
		WHERE sr.project_id=$1 AND sr.is_moderator AND sr.state='selected'`, projectID))
}

func (s *PostgresStore) IsSelected(ctx context.Context, projectID, expertID int64) (bool, error) {
	var selected bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM selection_records WHERE project_id=$1 AND expert_id=$2 AND state='selected')
	`, projectID, expertID).Scan(&selected)
	if err != nil {
		return false, fmt.Errorf("check selected: %w", err)
	}
	return selected, nil
}

// LoadAccess reads everything the guards need for one expert in one project.
// It returns sql.ErrNoRows when the project does not exist.
func (s *PostgresStore) LoadAccess(ctx context.Context, projectID, expertID int64) (panel.Access, error) {
	var brainstormState string
	var snapshot panel.Snapshot
	access := panel.Access{ProjectID: projectID, ExpertID: expertID}
	err := s.db.QueryRowContext(ctx, `
		SELECT p.brainstorm_state,
			EXISTS(SELECT 1 FROM selection_records WHERE project_id=p.id AND state='selected'),
			EXISTS(SELECT 1 FROM selection_records WHERE project_id=p.id AND state='selected' AND is_moderator),
			COALESCE((SELECT state='selected' FROM selection_records WHERE project_id=p.id AND expert_id=$2), FALSE),
			COALESCE((SELECT is_moderator FROM selection_records WHERE project_id=p.id AND expert_id=$2), FALSE)
		FROM projects p
		WHERE p.id=$1
	`, projectID, expertID).Scan(&brainstormState, &snapshot.Finalized, &snapshot.HasModerator, &access.Selected, &access.Moderator)
	if err != nil {
		return panel.Access{}, err
	}
	snapshot.BrainstormClosed = brainstormState == BrainstormClosed
	access.Phase = panel.DerivePhase(snapshot)
	return access, nil
}
