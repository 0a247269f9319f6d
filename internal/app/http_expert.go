package app

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/elio-info/tesis/internal/rbac"
	"github.com/elio-info/tesis/internal/search"
)

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.Dashboard(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSurveyForm(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.SurveyForm(r.Context(), session, pathID(r, "surveyId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCompleteSurvey(w http.ResponseWriter, r *http.Request, session Session) {
	var body SurveyAnswersInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.CompleteSurvey(r.Context(), session, pathID(r, "surveyId"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleChatContext(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ChatContext(r.Context(), session, pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleRecentMessages(w http.ResponseWriter, r *http.Request, session Session) {
	var afterID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Parámetro inválido: after", nil)
			return
		}
		afterID = parsed
	}
	messages, err := s.service.RecentMessages(r.Context(), session, pathID(r, "id"), afterID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	message, err := s.service.SendMessage(r.Context(), session, pathID(r, "id"), body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"message": message})
}

// handleChatStream accepts the access token from the access_token query parameter.
func (s *HTTPServer) handleChatStream(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	session, ok := s.requireSession(w, r, token)
	if !ok {
		return
	}
	if !s.service.Can(session.Role, rbac.ActionParticipate) {
		s.forbid(w, r, session, rbac.ActionParticipate)
		return
	}
	projectID := pathID(r, "id")
	access, err := s.service.StreamChat(r.Context(), session, projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.JoinChat(w, r, access); err != nil {
		s.logger.Debug().Err(err).Int64("project_id", projectID).Msg("websocket upgrade failed")
	}
}

func (s *HTTPServer) handleModeration(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ModeratorContext(r.Context(), session, pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request, session Session) {
	var body ItemInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.CreateItem(r.Context(), session, pathID(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleUpdateItem(w http.ResponseWriter, r *http.Request, session Session) {
	var body ItemInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.UpdateItem(r.Context(), session, pathID(r, "id"), pathID(r, "itemId"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleDeleteItem(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteItem(r.Context(), session, pathID(r, "id"), pathID(r, "itemId")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Item eliminado"})
}

func (s *HTTPServer) handleCloseBrainstorm(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.CloseBrainstorm(r.Context(), session, pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleVotation(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.VotationContext(r.Context(), session, pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *HTTPServer) handleVote(w http.ResponseWriter, r *http.Request, session Session) {
	var body VoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.CastVote(r.Context(), session, pathID(r, "id"), pathID(r, "itemId"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := search.Query{
		Text:   r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	}
	switch search.ResultType(r.URL.Query().Get("type")) {
	case search.ResultItem:
		query.FilterType = search.ResultItem
	case search.ResultMessage:
		query.FilterType = search.ResultMessage
	}
	response, err := s.service.SearchProject(r.Context(), session, pathID(r, "id"), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	})
}
