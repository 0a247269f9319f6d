package app

import (
	"net/http"
	"strconv"
)

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request, session Session) {
	projects, err := s.service.ListProjects(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateProjectInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateProject(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"project": project})
}

func (s *HTTPServer) handleProjectExperts(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ListExpertsForProject(r.Context(), pathID(r, "id"), r.URL.Query().Get("order"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleExpertDetail(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ExpertDetail(r.Context(), pathID(r, "expertId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSendSurvey(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.SendSurvey(r.Context(), pathID(r, "id"), pathID(r, "expertId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleSendSurveys(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		ExpertIDs []int64 `json:"expert_ids"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if len(body.ExpertIDs) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Debes seleccionar al menos un experto", nil)
		return
	}
	result, err := s.service.SendSurveys(r.Context(), pathID(r, "id"), body.ExpertIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleProjectSurveys(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ProjectSurveys(r.Context(), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSurveyStates(w http.ResponseWriter, r *http.Request, session Session) {
	states, err := s.service.SurveyStates(r.Context(), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"states": states})
}

func (s *HTTPServer) handleDeleteSurvey(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteSurvey(r.Context(), pathID(r, "id"), pathID(r, "surveyId")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Encuesta eliminada"})
}

func (s *HTTPServer) handleFinalList(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.FinalList(r.Context(), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleFinalize(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		ModeratorID int64 `json:"moderator_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.FinalizeSelection(r.Context(), session, pathID(r, "id"), body.ModeratorID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ExportPanelReport(r.Context(), pathID(r, "id"), r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	if result.ArchiveKey != "" {
		w.Header().Set("X-Archive-Key", result.ArchiveKey)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
