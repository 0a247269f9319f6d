package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request, session Session) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.ListUsers(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateExpert(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateExpertInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.AdminCreateExpert(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleUpdateRole(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.UpdateUserRole(r.Context(), mux.Vars(r)["userId"], body.Role); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *HTTPServer) handleSetDeactivated(deactivated bool) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, session Session) {
		if err := s.service.SetUserDeactivated(r.Context(), session, mux.Vars(r)["userId"], deactivated); err != nil {
			s.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"deactivated": deactivated})
	}
}

func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request, session Session) {
	events, err := s.service.AuditTrail(r.Context(), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"events": events})
}
