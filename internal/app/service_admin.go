package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/elio-info/tesis/internal/authpw"
	"github.com/elio-info/tesis/internal/rbac"
	"github.com/elio-info/tesis/internal/store"
)

const minAdminPassword = 8

// ListUsers returns paginated login accounts
func (s *Service) ListUsers(ctx context.Context, search string, limit, offset int) (map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	users, total, err := s.store.ListUsers(ctx, search, limit, offset)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"users": mapSlice(users, userJSON),
		"total": total,
	}, nil
}

type CreateExpertInput struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	ScientificDegree string `json:"scientific_degree"`
	YearsExperience  int    `json:"years_experience"`
	JobTitle         string `json:"job_title"`
	Department       string `json:"department"`
	Category         string `json:"category"`
}

// AdminCreateExpert creates an expert profile and the login account bound to it.
func (s *Service) AdminCreateExpert(ctx context.Context, input CreateExpertInput) (map[string]any, error) {
	first := strings.TrimSpace(input.FirstName)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if first == "" || email == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Nombre y correo son obligatorios", nil)
	}
	if len(input.Password) < minAdminPassword {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "La contraseña debe tener al menos 8 caracteres", nil)
	}
	if input.YearsExperience < 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Años de experiencia inválidos", nil)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, authpw.ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	expert := store.Expert{
		FirstName:        first,
		LastName:         strings.TrimSpace(input.LastName),
		Email:            email,
		ScientificDegree: strings.TrimSpace(input.ScientificDegree),
		YearsExperience:  input.YearsExperience,
		JobTitle:         strings.TrimSpace(input.JobTitle),
		Department:       strings.TrimSpace(input.Department),
		Category:         strings.TrimSpace(input.Category),
	}
	id, err := s.store.CreateExpert(ctx, expert)
	if err != nil {
		return nil, err
	}
	expert.ID = id

	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		DisplayName: expert.FullName(),
		Email:       email,
		Password:    input.Password,
		Role:        string(rbac.RoleExpert),
		ExpertID:    &id,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("expert_id", id).Str("user_id", user.ID).Msg("expert account created")
	return map[string]any{
		"expert": expertJSON(expert),
		"user":   userJSON(user),
	}, nil
}

// UpdateUserRole changes an account's role; unknown roles are rejected rather than normalized.
func (s *Service) UpdateUserRole(ctx context.Context, userID, role string) error {
	switch rbac.Role(role) {
	case rbac.RoleExpert, rbac.RoleResearcher, rbac.RoleAdmin:
	default:
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Rol inválido", nil)
	}
	return s.store.UpdateUserRole(ctx, userID, role)
}

// SetUserDeactivated activates or deactivates a user
func (s *Service) SetUserDeactivated(ctx context.Context, actor Session, userID string, deactivated bool) error {
	if deactivated && actor.UserID == userID {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "No puedes desactivar tu propia cuenta", nil)
	}
	return s.store.SetUserDeactivated(ctx, userID, deactivated)
}
