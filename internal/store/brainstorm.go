package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) InsertMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO chat_messages (project_id, expert_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, sent_at, expert_id
		)
		SELECT i.id, i.sent_at, TRIM(e.first_name || ' ' || e.last_name)
		FROM inserted i
		JOIN experts e ON e.id = i.expert_id
	`, msg.ProjectID, msg.ExpertID, msg.Content).Scan(&msg.ID, &msg.SentAt, &msg.ExpertName)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return msg, nil
}

// ListMessages returns up to limit messages with id greater than afterID, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, projectID, afterID int64, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.expert_id, m.content, m.sent_at, TRIM(e.first_name || ' ' || e.last_name)
		FROM chat_messages m
		JOIN experts e ON e.id = m.expert_id
		WHERE m.project_id=$1 AND m.id > $2
		ORDER BY m.sent_at ASC, m.id ASC
		LIMIT $3
	`, projectID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]ChatMessage, 0)
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.ID, &msg.ProjectID, &msg.ExpertID, &msg.Content, &msg.SentAt, &msg.ExpertName); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	ProjectID     int64
	OwnerExpertID int64
	State         string
}

const itemSelect = `
	SELECT i.id, i.project_id, i.expert_id, i.owner_expert_id, i.title, i.description, i.score, i.state,
		i.created_at, i.updated_at, i.edited_at, TRIM(e.first_name || ' ' || e.last_name),
		COUNT(v.id) FILTER (WHERE v.agrees),
		COUNT(v.id) FILTER (WHERE NOT v.agrees),
		ROUND(AVG(v.evaluation), 2)
	FROM idea_items i
	JOIN experts e ON e.id = i.expert_id
	LEFT JOIN votes v ON v.item_id = i.id`

const itemGroupBy = ` GROUP BY i.id, e.first_name, e.last_name`

func scanItem(row interface{ Scan(...any) error }) (IdeaItem, error) {
	var item IdeaItem
	var editedAt sql.NullTime
	var avg sql.NullFloat64
	err := row.Scan(&item.ID, &item.ProjectID, &item.ExpertID, &item.OwnerExpertID, &item.Title, &item.Description,
		&item.Score, &item.State, &item.CreatedAt, &item.UpdatedAt, &editedAt, &item.ExpertName,
		&item.AgreeVotes, &item.DisagreeVotes, &avg)
	if err != nil {
		return IdeaItem{}, err
	}
	item.EditedAt = nullableTime(editedAt)
	if avg.Valid {
		value := avg.Float64
		item.AverageEvaluation = &value
	}
	return item, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemFilter) ([]IdeaItem, error) {
	rows, err := s.db.QueryContext(ctx, itemSelect+`
		WHERE i.project_id=$1
			AND ($2 = 0 OR i.owner_expert_id = $2)
			AND ($3 = '' OR i.state = $3)`+itemGroupBy+`
		ORDER BY i.created_at ASC, i.id ASC
	`, filter.ProjectID, filter.OwnerExpertID, filter.State)
	if err != nil {
		return nil, fmt.Errorf("list idea items: %w", err)
	}
	defer rows.Close()

	items := make([]IdeaItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idea items: %w", err)
	}
	return items, nil
}

// GetItem returns sql.ErrNoRows when the item does not exist in the project.
func (s *PostgresStore) GetItem(ctx context.Context, projectID, itemID int64) (IdeaItem, error) {
	return scanItem(s.db.QueryRowContext(ctx, itemSelect+` WHERE i.project_id=$1 AND i.id=$2`+itemGroupBy, projectID, itemID))
}

func (s *PostgresStore) InsertItem(ctx context.Context, item IdeaItem) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO idea_items (project_id, expert_id, owner_expert_id, title, description, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, item.ProjectID, item.ExpertID, item.OwnerExpertID, item.Title, item.Description, item.State).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert idea item: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item IdeaItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idea_items
		SET title=$3, description=$4, expert_id=$5, owner_expert_id=$5, state=$6, updated_at=NOW(), edited_at=NOW()
		WHERE project_id=$1 AND id=$2
	`, item.ProjectID, item.ID, item.Title, item.Description, item.ExpertID, item.State)
	if err != nil {
		return fmt.Errorf("update idea item: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) DeleteItem(ctx context.Context, projectID, itemID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idea_items WHERE project_id=$1 AND id=$2`, projectID, itemID)
	if err != nil {
		return false, fmt.Errorf("delete idea item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete idea item rows: %w", err)
	}
	return affected > 0, nil
}

// InsertVote fails with ErrDuplicate when the expert already voted on the item.
func (s *PostgresStore) InsertVote(ctx context.Context, vote Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (expert_id, item_id, project_id, agrees, evaluation)
		VALUES ($1, $2, $3, $4, $5)
	`, vote.ExpertID, vote.ItemID, vote.ProjectID, vote.Agrees, vote.Evaluation)
	return translate(err, "insert vote")
}

func (s *PostgresStore) HasVoted(ctx context.Context, expertID, itemID int64) (bool, error) {
	var voted bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM votes WHERE expert_id=$1 AND item_id=$2)`, expertID, itemID).Scan(&voted)
	if err != nil {
		return false, fmt.Errorf("check vote: %w", err)
	}
	return voted, nil
}

// VotedItemIDs returns the ids of the project's items the expert already voted on.
func (s *PostgresStore) VotedItemIDs(ctx context.Context, projectID, expertID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM votes WHERE project_id=$1 AND expert_id=$2`, projectID, expertID)
	if err != nil {
		return nil, fmt.Errorf("list voted items: %w", err)
	}
	defer rows.Close()

	voted := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan voted item: %w", err)
		}
		voted[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voted items: %w", err)
	}
	return voted, nil
}

// PendingVotations lists closed brainstorms on the expert's panels that still have
// selected items without the expert's vote.
func (s *PostgresStore) PendingVotations(ctx context.Context, expertID int64) ([]PendingVotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name,
			COALESCE((
				SELECT TRIM(e.first_name || ' ' || e.last_name)
				FROM selection_records m
				JOIN experts e ON e.id = m.expert_id
				WHERE m.project_id = p.id AND m.is_moderator AND m.state = 'selected'
			), ''),
			COUNT(i.id)
		FROM selection_records sr
		JOIN projects p ON p.id = sr.project_id
		JOIN idea_items i ON i.project_id = p.id AND i.state = 'selected'
		WHERE sr.expert_id = $1
			AND sr.state = 'selected'
			AND p.brainstorm_state = 'closed'
			AND NOT EXISTS (SELECT 1 FROM votes v WHERE v.item_id = i.id AND v.expert_id = $1)
		GROUP BY p.id, p.name
		ORDER BY p.brainstorm_closed_at DESC NULLS LAST, p.id DESC
	`, expertID)
	if err != nil {
		return nil, fmt.Errorf("list pending votations: %w", err)
	}
	defer rows.Close()

	pending := make([]PendingVotation, 0)
	for rows.Next() {
		var pv PendingVotation
		if err := rows.Scan(&pv.ProjectID, &pv.ProjectName, &pv.ModeratorName, &pv.PendingItems); err != nil {
			return nil, fmt.Errorf("scan pending votation: %w", err)
		}
		pending = append(pending, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending votations: %w", err)
	}
	return pending, nil
}
