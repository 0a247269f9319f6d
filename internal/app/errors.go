package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/elio-info/tesis/internal/auth"
	"github.com/elio-info/tesis/internal/authpw"
	"github.com/elio-info/tesis/internal/export"
	"github.com/elio-info/tesis/internal/panel"
	"github.com/elio-info/tesis/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Idempotency signals (already voted, closed, finalized or completed) are soft
// failures: 400 with the user-facing message.
var panelStatus = map[panel.Kind]struct {
	status int
	code   string
}{
	panel.KindValidation:   {http.StatusBadRequest, "VALIDATION_ERROR"},
	panel.KindAccessDenied: {http.StatusForbidden, "ACCESS_DENIED"},
	panel.KindNotFound:     {http.StatusNotFound, "NOT_FOUND"},
	panel.KindAlreadyDone:  {http.StatusBadRequest, "ALREADY_DONE"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var panelErr *panel.Error
	if errors.As(err, &panelErr) {
		if mapped, ok := panelStatus[panelErr.Kind]; ok {
			return mapped.status, mapped.code, panelErr.Message, nil
		}
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Correo o contraseña incorrectos", nil
	case errors.Is(err, authpw.ErrDeactivated):
		return http.StatusForbidden, "ACCOUNT_DEACTIVATED", "La cuenta está desactivada", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "El correo ya está registrado", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "CONFLICT", "Duplicate record", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Formato no soportado", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Error inesperado: " + err.Error(), nil
}

// notFoundAs replaces sql.ErrNoRows with a panel not-found error carrying message.
func notFoundAs(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return panel.NotFound(message)
	}
	return err
}
