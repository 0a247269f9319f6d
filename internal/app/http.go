package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/elio-info/tesis/internal/auth"
	"github.com/elio-info/tesis/internal/rbac"
	"github.com/elio-info/tesis/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/auth/signin", s.handleSignIn).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/session/logout", s.handleLogout).Methods(http.MethodPost)

	researcher := func(path string, h sessionHandler, methods ...string) {
		api.HandleFunc(path, s.authed(rbac.ActionManageProjects, h)).Methods(methods...)
	}
	researcher("/projects", s.handleListProjects, http.MethodGet)
	researcher("/projects", s.handleCreateProject, http.MethodPost)
	researcher("/projects/{id:[0-9]+}/experts", s.handleProjectExperts, http.MethodGet)
	researcher("/experts/{expertId:[0-9]+}", s.handleExpertDetail, http.MethodGet)
	researcher("/projects/{id:[0-9]+}/surveys/send", s.handleSendSurveys, http.MethodPost)
	researcher("/projects/{id:[0-9]+}/surveys/send/{expertId:[0-9]+}", s.handleSendSurvey, http.MethodPost)
	researcher("/projects/{id:[0-9]+}/surveys", s.handleProjectSurveys, http.MethodGet)
	researcher("/projects/{id:[0-9]+}/surveys/states", s.handleSurveyStates, http.MethodGet)
	researcher("/projects/{id:[0-9]+}/surveys/{surveyId:[0-9]+}", s.handleDeleteSurvey, http.MethodDelete)
	researcher("/projects/{id:[0-9]+}/panel", s.handleFinalList, http.MethodGet)
	researcher("/projects/{id:[0-9]+}/finalize", s.handleFinalize, http.MethodPost)
	researcher("/projects/{id:[0-9]+}/report", s.handleReport, http.MethodGet)

	expert := func(path string, h sessionHandler, methods ...string) {
		api.HandleFunc(path, s.authed(rbac.ActionParticipate, h)).Methods(methods...)
	}
	expert("/me/dashboard", s.handleDashboard, http.MethodGet)
	expert("/me/surveys/{surveyId:[0-9]+}", s.handleSurveyForm, http.MethodGet)
	expert("/me/surveys/{surveyId:[0-9]+}", s.handleCompleteSurvey, http.MethodPost)
	expert("/projects/{id:[0-9]+}/chat", s.handleChatContext, http.MethodGet)
	expert("/projects/{id:[0-9]+}/chat/messages", s.handleRecentMessages, http.MethodGet)
	expert("/projects/{id:[0-9]+}/chat/messages", s.handleSendMessage, http.MethodPost)
	expert("/projects/{id:[0-9]+}/moderation", s.handleModeration, http.MethodGet)
	expert("/projects/{id:[0-9]+}/items", s.handleCreateItem, http.MethodPost)
	expert("/projects/{id:[0-9]+}/items/{itemId:[0-9]+}", s.handleUpdateItem, http.MethodPut)
	expert("/projects/{id:[0-9]+}/items/{itemId:[0-9]+}", s.handleDeleteItem, http.MethodDelete)
	expert("/projects/{id:[0-9]+}/brainstorm/close", s.handleCloseBrainstorm, http.MethodPost)
	expert("/projects/{id:[0-9]+}/votation", s.handleVotation, http.MethodGet)
	expert("/projects/{id:[0-9]+}/items/{itemId:[0-9]+}/vote", s.handleVote, http.MethodPost)
	expert("/projects/{id:[0-9]+}/search", s.handleSearch, http.MethodGet)
	// browsers cannot set headers on a websocket handshake
	api.HandleFunc("/projects/{id:[0-9]+}/chat/ws", s.handleChatStream).Methods(http.MethodGet)

	admin := func(path string, h sessionHandler, methods ...string) {
		api.HandleFunc(path, s.authed(rbac.ActionAdmin, h)).Methods(methods...)
	}
	admin("/admin/users", s.handleListUsers, http.MethodGet)
	admin("/admin/experts", s.handleCreateExpert, http.MethodPost)
	admin("/admin/users/{userId}/role", s.handleUpdateRole, http.MethodPut)
	admin("/admin/users/{userId}/deactivate", s.handleSetDeactivated(true), http.MethodPost)
	admin("/admin/users/{userId}/reactivate", s.handleSetDeactivated(false), http.MethodPost)
	admin("/projects/{id:[0-9]+}/audit", s.handleAudit, http.MethodGet)

	return router
}

type sessionHandler func(http.ResponseWriter, *http.Request, Session)

// authed resolves the bearer session and checks the role may perform action.
func (s *HTTPServer) authed(action rbac.Action, next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r, bearerToken(r))
		if !ok {
			return
		}
		if !s.service.Can(session.Role, action) {
			s.forbid(w, r, session, action)
			return
		}
		next(w, r, session)
	}
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.Warn().
		Str("request_id", requestIDFrom(r.Context())).
		Str("user_id", session.UserID).
		Str("role", session.Role).
		Str("action", string(action)).
		Msg("forbidden")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail maps err onto the JSON error contract; unexpected errors are logged.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = withSurveyMemo(ctx)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// pathID reads a numeric route variable; the routes constrain them to digits.
func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Parámetro inválido: "+name, nil)
	}
	return value, nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":         session.Token,
		"refresh_token": session.RefreshToken,
		"user_id":       session.UserID,
		"user_name":     session.UserName,
		"role":          session.Role,
		"expert_id":     session.ExpertID,
		"expires_at":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user_name": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user_name": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user_name":     session.UserName,
		"user_id":       session.UserID,
		"role":          session.Role,
		"expert_id":     session.ExpertID,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, sessionPayload(session))
}

// handleLogout revokes whatever it is given; an invalid access token still clears the refresh token.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var session Session
	if token := bearerToken(r); token != "" {
		if current, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = current
		}
	}
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}
