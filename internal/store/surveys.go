package store

import (
	"context"
	"database/sql"
	"fmt"
)

const surveySelect = `
	SELECT s.id, s.project_id, s.expert_id, s.state,
		s.analysis_rating, s.experience_rating, s.national_authors_rating, s.foreign_authors_rating,
		s.foreign_knowledge_rating, s.intuition_rating, s.subject_knowledge, s.coefficient_k,
		s.job_title, s.years_experience, s.scientific_degree, s.sent_at, s.responded_at,
		p.name, TRIM(e.first_name || ' ' || e.last_name),
		EXISTS(SELECT 1 FROM selection_records sr WHERE sr.project_id = s.project_id AND sr.state = 'selected')
	FROM surveys s
	JOIN projects p ON p.id = s.project_id
	JOIN experts e ON e.id = s.expert_id`

func scanSurvey(row interface{ Scan(...any) error }) (Survey, error) {
	var sv Survey
	var respondedAt sql.NullTime
	err := row.Scan(&sv.ID, &sv.ProjectID, &sv.ExpertID, &sv.State,
		&sv.Analysis, &sv.Experience, &sv.NationalAuthors, &sv.ForeignAuthors,
		&sv.ForeignKnowledge, &sv.Intuition, &sv.SubjectKnowledge, &sv.CoefficientK,
		&sv.JobTitle, &sv.YearsExperience, &sv.ScientificDegree, &sv.SentAt, &respondedAt,
		&sv.ProjectName, &sv.ExpertName, &sv.ProjectFinalized)
	if err != nil {
		return Survey{}, err
	}
	sv.RespondedAt = nullableTime(respondedAt)
	return sv, nil
}

func (s *PostgresStore) querySurveys(ctx context.Context, query string, args ...any) ([]Survey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	surveys := make([]Survey, 0)
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		surveys = append(surveys, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return surveys, nil
}

// CreateSurvey inserts a pending survey prefilled from the expert profile.
// A second survey for the same project and expert fails with ErrDuplicate.
func (s *PostgresStore) CreateSurvey(ctx context.Context, projectID, expertID int64) (Survey, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO surveys (project_id, expert_id, job_title, years_experience, scientific_degree)
		SELECT $1, e.id, e.job_title, e.years_experience, e.scientific_degree
		FROM experts e
		WHERE e.id = $2
		RETURNING id
	`, projectID, expertID).Scan(&id)
	if err != nil {
		return Survey{}, translate(err, "insert survey")
	}
	return scanSurvey(s.db.QueryRowContext(ctx, surveySelect+` WHERE s.id=$1`, id))
}

// GetSurveyForExpert returns sql.ErrNoRows both when the survey is absent and when it belongs to someone else.
func (s *PostgresStore) GetSurveyForExpert(ctx context.Context, surveyID, expertID int64) (Survey, error) {
	return scanSurvey(s.db.QueryRowContext(ctx, surveySelect+` WHERE s.id=$1 AND s.expert_id=$2`, surveyID, expertID))
}

func (s *PostgresStore) ListProjectSurveys(ctx context.Context, projectID int64) ([]Survey, error) {
	return s.querySurveys(ctx, surveySelect+` WHERE s.project_id=$1 ORDER BY s.coefficient_k DESC, s.id ASC`, projectID)
}

func (s *PostgresStore) ListExpertSurveys(ctx context.Context, expertID int64) ([]Survey, error) {
	return s.querySurveys(ctx, surveySelect+` WHERE s.expert_id=$1 ORDER BY s.sent_at DESC, s.id DESC`, expertID)
}

func (s *PostgresStore) DeleteSurvey(ctx context.Context, projectID, surveyID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM surveys WHERE id=$1 AND project_id=$2`, surveyID, projectID)
	if err != nil {
		return false, fmt.Errorf("delete survey: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete survey rows: %w", err)
	}
	return affected > 0, nil
}

// CompleteSurvey persists answers, K and the completed state in one statement guarded on
// the survey still being pending and the project not yet finalized, then refreshes the
// expert's derived coefficient. It reports false when the guard rejected the update.
func (s *PostgresStore) CompleteSurvey(ctx context.Context, sv Survey) (bool, error) {
	completed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE surveys SET
				state='completed',
				analysis_rating=$3,
				experience_rating=$4,
				national_authors_rating=$5,
				foreign_authors_rating=$6,
				foreign_knowledge_rating=$7,
				intuition_rating=$8,
				subject_knowledge=$9,
				coefficient_k=$10,
				job_title=$11,
				years_experience=$12,
				scientific_degree=$13,
				responded_at=NOW()
			WHERE id=$1 AND expert_id=$2 AND state='pending'
				AND NOT EXISTS (
					SELECT 1 FROM selection_records sr
					WHERE sr.project_id = surveys.project_id AND sr.state = 'selected'
				)
		`, sv.ID, sv.ExpertID, sv.Analysis, sv.Experience, sv.NationalAuthors, sv.ForeignAuthors,
			sv.ForeignKnowledge, sv.Intuition, sv.SubjectKnowledge, sv.CoefficientK,
			sv.JobTitle, sv.YearsExperience, sv.ScientificDegree)
		if err != nil {
			return fmt.Errorf("complete survey: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete survey rows: %w", err)
		}
		if affected == 0 {
			return nil
		}
		completed = true

		if _, err := tx.ExecContext(ctx, `
			UPDATE experts e SET
				competence_coefficient = agg.avg_k,
				experience_index = ROUND(agg.avg_k / 100, 2)
			FROM (
				SELECT ROUND(AVG(coefficient_k), 2) AS avg_k
				FROM surveys
				WHERE expert_id=$1 AND state IN ('completed', 'in_review', 'approved')
			) agg
			WHERE e.id=$1 AND agg.avg_k IS NOT NULL
		`, sv.ExpertID); err != nil {
			return fmt.Errorf("refresh expert coefficient: %w", err)
		}
		return nil
	})
	return completed, err
}
