package store

import (
	"context"
	"fmt"
)

const expertColumns = `e.id, e.first_name, e.last_name, e.email, e.scientific_degree, e.years_experience,
	e.job_title, e.department, e.category, e.competence_coefficient, e.experience_index, e.created_at`

func scanExpert(row interface{ Scan(...any) error }) (Expert, error) {
	var e Expert
	err := row.Scan(&e.ID, &e.FirstName, &e.LastName, &e.Email, &e.ScientificDegree, &e.YearsExperience,
		&e.JobTitle, &e.Department, &e.Category, &e.CompetenceCoefficient, &e.ExperienceIndex, &e.CreatedAt)
	return e, err
}

var expertOrderings = map[string]string{
	"nombre":      "e.last_name ASC, e.first_name ASC",
	"name":        "e.last_name ASC, e.first_name ASC",
	"coeficiente": "e.competence_coefficient DESC, e.id ASC",
	"coefficient": "e.competence_coefficient DESC, e.id ASC",
	"grado":       "e.scientific_degree ASC, e.id ASC",
	"degree":      "e.scientific_degree ASC, e.id ASC",
	"experiencia": "e.years_experience DESC, e.id ASC",
	"experience":  "e.years_experience DESC, e.id ASC",
}

// ExpertOrderClause returns the ORDER BY clause for a user-supplied ordering key.
func ExpertOrderClause(order string) string {
	if clause, ok := expertOrderings[order]; ok {
		return clause
	}
	return "e.id ASC"
}

func (s *PostgresStore) CreateExpert(ctx context.Context, e Expert) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO experts (first_name, last_name, email, scientific_degree, years_experience, job_title, department, category)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
		RETURNING id
	`, e.FirstName, e.LastName, e.Email, e.ScientificDegree, e.YearsExperience, e.JobTitle, e.Department, e.Category).Scan(&id)
	if err != nil {
		return 0, translate(err, "insert expert")
	}
	return id, nil
}

func (s *PostgresStore) GetExpert(ctx context.Context, expertID int64) (Expert, error) {
	return scanExpert(s.db.QueryRowContext(ctx, `SELECT `+expertColumns+` FROM experts e WHERE e.id=$1`, expertID))
}

// ListExperts returns experts, restricted to category when it is not empty.
func (s *PostgresStore) ListExperts(ctx context.Context, category, order string) ([]Expert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+expertColumns+`
		FROM experts e
		WHERE $1 = '' OR e.category = $1
		ORDER BY `+ExpertOrderClause(order), category)
	if err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}
	defer rows.Close()

	experts := make([]Expert, 0)
	for rows.Next() {
		e, err := scanExpert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expert: %w", err)
		}
		experts = append(experts, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experts: %w", err)
	}
	return experts, nil
}

func (s *PostgresStore) ExpertStats(ctx context.Context, expertID int64) (ExpertStats, error) {
	var stats ExpertStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM surveys WHERE expert_id=$1),
			(SELECT COUNT(*) FROM idea_items WHERE expert_id=$1),
			(SELECT COUNT(*) FROM idea_items WHERE expert_id=$1 AND state IN ('pending', 'selected'))
	`, expertID).Scan(&stats.TotalSurveys, &stats.TotalContributions, &stats.ActiveContributions)
	if err != nil {
		return ExpertStats{}, fmt.Errorf("expert stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) CountExperts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count experts: %w", err)
	}
	return count, nil
}
