package app

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/elio-info/tesis/internal/chat"
	"github.com/elio-info/tesis/internal/coefficient"
	"github.com/elio-info/tesis/internal/panel"
	"github.com/elio-info/tesis/internal/search"
	"github.com/elio-info/tesis/internal/store"
)

const (
	chatContextMessages = 50
	recentMessagesLimit = 20
	defaultItemNote     = "Item seleccionado desde chat moderador"
)

// defaultSubjectKnowledge scores an unanswered subject knowledge question.
const defaultSubjectKnowledge = 5.0

// answerText holds a form answer sent either as a JSON string or as a JSON number.
type answerText string

func (a *answerText) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*a = answerText(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*a = answerText(number.String())
	return nil
}

type SurveyAnswersInput struct {
	Analysis         string     `json:"analysis"`
	Experience       string     `json:"experience"`
	NationalAuthors  string     `json:"national_authors"`
	ForeignAuthors   string     `json:"foreign_authors"`
	ForeignKnowledge string     `json:"foreign_knowledge"`
	Intuition        string     `json:"intuition"`
	SubjectKnowledge answerText `json:"subject_knowledge"`
	JobTitle         string     `json:"job_title"`
	YearsExperience  answerText `json:"years_experience"`
	ScientificDegree string     `json:"scientific_degree"`
}

type ItemInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ExpertID    int64  `json:"expert_id"`
	State       string `json:"state"`
}

type VoteInput struct {
	Agrees     bool `json:"agrees"`
	Evaluation *int `json:"evaluation"`
}

var itemStates = map[string]struct{}{
	store.ItemPending:  {},
	store.ItemSelected: {},
	store.ItemRejected: {},
	store.ItemArchived: {},
}

func requireExpert(sess Session) (int64, error) {
	if sess.ExpertID == 0 {
		return 0, panel.Denied(panel.MsgExpertUnknown)
	}
	return sess.ExpertID, nil
}

// access loads the acting expert's panel.Access; the phase is derived once here per request.
func (s *Service) access(ctx context.Context, sess Session, projectID int64) (panel.Access, error) {
	expertID, err := requireExpert(sess)
	if err != nil {
		return panel.Access{}, err
	}
	access, err := s.store.LoadAccess(ctx, projectID, expertID)
	if err != nil {
		return panel.Access{}, notFoundAs(err, panel.MsgProjectNotFound)
	}
	return access, nil
}

func (s *Service) Dashboard(ctx context.Context, sess Session) (map[string]any, error) {
	expertID, err := requireExpert(sess)
	if err != nil {
		return nil, err
	}
	selections, err := s.store.ListExpertSelections(ctx, expertID)
	if err != nil {
		return nil, err
	}
	surveys, err := s.store.ListExpertSurveys(ctx, expertID)
	if err != nil {
		return nil, err
	}
	votations, err := s.store.PendingVotations(ctx, expertID)
	if err != nil {
		return nil, err
	}

	activeChats := make([]map[string]any, 0)
	closedChats := make([]map[string]any, 0)
	for _, rec := range selections {
		if rec.BrainstormState == store.BrainstormClosed {
			closedChats = append(closedChats, selectionJSON(rec))
		} else {
			activeChats = append(activeChats, selectionJSON(rec))
		}
	}

	pendingOpen := make([]map[string]any, 0)
	pendingBlocked := make([]map[string]any, 0)
	completed := make([]map[string]any, 0)
	for _, sv := range surveys {
		switch {
		case sv.State != store.SurveyPending:
			completed = append(completed, surveyJSON(sv))
		case sv.ProjectFinalized:
			pendingBlocked = append(pendingBlocked, surveyJSON(sv))
		default:
			pendingOpen = append(pendingOpen, surveyJSON(sv))
		}
	}

	return map[string]any{
		"chats": map[string]any{
			"active": activeChats,
			"closed": closedChats,
		},
		"pending_surveys": map[string]any{
			"unblocked": pendingOpen,
			"blocked":   pendingBlocked,
		},
		"completed_surveys": completed,
		"pending_votations": mapSlice(votations, func(pv store.PendingVotation) map[string]any {
			return map[string]any{
				"project_id":     pv.ProjectID,
				"project_name":   pv.ProjectName,
				"moderator_name": pv.ModeratorName,
				"pending_items":  pv.PendingItems,
			}
		}),
	}, nil
}

func (s *Service) expertSurvey(ctx context.Context, sess Session, surveyID int64) (store.Survey, error) {
	expertID, err := requireExpert(sess)
	if err != nil {
		return store.Survey{}, err
	}
	sv, err := s.store.GetSurveyForExpert(ctx, surveyID, expertID)
	if err != nil {
		return store.Survey{}, notFoundAs(err, panel.MsgSurveyNotFound)
	}
	return sv, nil
}

// SurveyForm returns the survey with the form defaults applied to unanswered fields.
func (s *Service) SurveyForm(ctx context.Context, sess Session, surveyID int64) (map[string]any, error) {
	sv, err := s.expertSurvey(ctx, sess, surveyID)
	if err != nil {
		return nil, err
	}
	access, err := s.store.LoadAccess(ctx, sv.ProjectID, sv.ExpertID)
	if err != nil {
		return nil, err
	}
	if sv.State == store.SurveyPending {
		for _, rating := range []*string{&sv.Analysis, &sv.Experience, &sv.NationalAuthors, &sv.ForeignAuthors, &sv.ForeignKnowledge, &sv.Intuition} {
			*rating = string(coefficient.Normalize(*rating))
		}
	}
	decision := panel.CanCompleteSurvey(access.Phase, sv.State)
	return map[string]any{
		"survey":       surveyJSON(sv),
		"phase":        access.Phase,
		"can_complete": decision.Allowed,
		"reason":       decision.Reason,
	}, nil
}

// CompleteSurvey recomputes K from the answers and completes the survey.
func (s *Service) CompleteSurvey(ctx context.Context, sess Session, surveyID int64, input SurveyAnswersInput) (map[string]any, error) {
	sv, err := s.expertSurvey(ctx, sess, surveyID)
	if err != nil {
		return nil, err
	}
	access, err := s.store.LoadAccess(ctx, sv.ProjectID, sv.ExpertID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanCompleteSurvey(access.Phase, sv.State).Err(); err != nil {
		return nil, err
	}

	years, err := parseYears(string(input.YearsExperience))
	if err != nil {
		return nil, err
	}
	knowledge := parseKnowledge(string(input.SubjectKnowledge))

	answers := coefficient.Answers{
		Analysis:         coefficient.Normalize(input.Analysis),
		Experience:       coefficient.Normalize(input.Experience),
		NationalAuthors:  coefficient.Normalize(input.NationalAuthors),
		ForeignAuthors:   coefficient.Normalize(input.ForeignAuthors),
		ForeignKnowledge: coefficient.Normalize(input.ForeignKnowledge),
		Intuition:        coefficient.Normalize(input.Intuition),
		SubjectKnowledge: knowledge,
	}
	result, err := s.calculator.Evaluate(answers)
	if errors.Is(err, coefficient.ErrUnconvertible) {
		return nil, panel.Validation("Error en los datos: conocimiento del tema inválido")
	}
	if err != nil {
		return nil, err
	}
	if result.FellBack {
		s.logger.Warn().Err(result.Cause).Int64("survey_id", sv.ID).Msg("coefficient fell back to zero")
	}

	sv.Analysis = string(answers.Analysis)
	sv.Experience = string(answers.Experience)
	sv.NationalAuthors = string(answers.NationalAuthors)
	sv.ForeignAuthors = string(answers.ForeignAuthors)
	sv.ForeignKnowledge = string(answers.ForeignKnowledge)
	sv.Intuition = string(answers.Intuition)
	if knowledge != nil {
		sv.SubjectKnowledge = int(math.Round(math.Max(0, math.Min(coefficient.MaxSubjectKnowledge, *knowledge))))
	}
	sv.CoefficientK = result.K
	sv.YearsExperience = years
	if v := strings.TrimSpace(input.JobTitle); v != "" {
		sv.JobTitle = v
	}
	if v := strings.TrimSpace(input.ScientificDegree); v != "" {
		sv.ScientificDegree = v
	}

	completed, err := s.store.CompleteSurvey(ctx, sv)
	if err != nil {
		return nil, err
	}
	if !completed {
		// lost a race with another completion or with finalization
		current, err := s.store.GetSurveyForExpert(ctx, sv.ID, sv.ExpertID)
		if err == nil && current.State != store.SurveyPending {
			return nil, panel.AlreadyDone(panel.MsgSurveyCompleted)
		}
		return nil, panel.Denied(panel.MsgSelectionClosed)
	}

	return map[string]any{
		"coefficient_k": result.K,
		"fell_back":     result.FellBack,
		"message":       "Encuesta completada exitosamente",
	}, nil
}

func parseYears(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	years, err := strconv.Atoi(value)
	if err != nil || years < 0 {
		return 0, panel.Validation("Error en los datos: años de experiencia inválidos")
	}
	return years, nil
}

// parseKnowledge defaults a blank answer to 5. An unreadable answer yields nil and the
// calculator policy decides between K=0 and a validation error.
func parseKnowledge(value string) *float64 {
	knowledge := defaultSubjectKnowledge
	if value = strings.TrimSpace(value); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return nil
		}
		knowledge = parsed
	}
	return &knowledge
}

func (s *Service) panelSize(ctx context.Context, projectID int64) ([]store.SelectionRecord, error) {
	return s.store.ListSelected(ctx, projectID)
}

func (s *Service) ChatContext(ctx context.Context, sess Session, projectID int64) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanChat(access).Err(); err != nil {
		return nil, err
	}
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, projectID, 0, chatContextMessages)
	if err != nil {
		return nil, err
	}
	selected, err := s.panelSize(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, store.ItemFilter{ProjectID: projectID, State: store.ItemSelected})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project":      projectJSON(project),
		"phase":        access.Phase,
		"is_moderator": access.IsModerator(),
		"messages":     s.messagesFor(messages, access.ExpertID),
		"panel_size":   len(selected),
		"items":        mapSlice(items, itemJSON),
	}, nil
}

func (s *Service) messagesFor(messages []store.ChatMessage, viewer int64) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageJSON(msg, viewer))
	}
	return out
}

func (s *Service) SendMessage(ctx context.Context, sess Session, projectID int64, content string) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanChat(access).Err(); err != nil {
		return nil, err
	}
	normalized, err := panel.NormalizeMessage(content)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.InsertMessage(ctx, store.ChatMessage{ProjectID: projectID, ExpertID: access.ExpertID, Content: normalized})
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.Publish(ctx, chat.Envelope{
			Type:      chat.EventMessage,
			ProjectID: projectID,
			Message: &chat.Message{
				ID:         msg.ID,
				Content:    msg.Content,
				SentAt:     msg.SentAt,
				ExpertName: msg.ExpertName,
				ExpertID:   msg.ExpertID,
			},
		})
	}
	if s.search != nil {
		s.search.IndexMessage(search.MessageRecord{
			ID:         msg.ID,
			ProjectID:  projectID,
			Content:    msg.Content,
			ExpertName: msg.ExpertName,
			SentAt:     msg.SentAt.Unix(),
		})
	}
	return messageJSON(msg, access.ExpertID), nil
}

func (s *Service) RecentMessages(ctx context.Context, sess Session, projectID, afterID int64) ([]map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanChat(access).Err(); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, projectID, afterID, recentMessagesLimit)
	if err != nil {
		return nil, err
	}
	return s.messagesFor(messages, access.ExpertID), nil
}

// StreamChat gates the websocket upgrade with the same guard as the chat endpoints.
func (s *Service) StreamChat(ctx context.Context, sess Session, projectID int64) (panel.Access, error) {
	if s.hub == nil {
		return panel.Access{}, domainError(http.StatusServiceUnavailable, "CHAT_UNAVAILABLE", "Chat en vivo no disponible", nil)
	}
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return panel.Access{}, err
	}
	return access, panel.CanChat(access).Err()
}

// JoinChat upgrades the request and attaches the expert to the project room.
func (s *Service) JoinChat(w http.ResponseWriter, r *http.Request, access panel.Access) error {
	return s.hub.ServeWS(w, r, access.ProjectID, access.ExpertID)
}

func (s *Service) ModeratorContext(ctx context.Context, sess Session, projectID int64) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanModerate(access).Err(); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, projectID, 0, chatContextMessages)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, store.ItemFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	selected, err := s.panelSize(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messages":   s.messagesFor(messages, access.ExpertID),
		"items":      mapSlice(items, itemJSON),
		"experts":    mapSlice(selected, selectionJSON),
		"panel_size": len(selected),
	}, nil
}

func validateItem(input ItemInput) (title string, err error) {
	title = strings.TrimSpace(input.Title)
	if title == "" {
		return "", panel.Validation(panel.MsgEmptyTitle)
	}
	if input.ExpertID == 0 {
		return "", panel.Validation(panel.MsgExpertRequired)
	}
	if input.State != "" {
		if _, ok := itemStates[input.State]; !ok {
			return "", panel.Validation("Estado de item inválido")
		}
	}
	return title, nil
}

func (s *Service) guardItemTarget(ctx context.Context, access panel.Access, targetExpertID int64) error {
	if err := panel.CanModerate(access).Err(); err != nil {
		return err
	}
	selected, err := s.store.IsSelected(ctx, access.ProjectID, targetExpertID)
	if err != nil {
		return err
	}
	return panel.CanManageItemFor(access, selected).Err()
}

func (s *Service) CreateItem(ctx context.Context, sess Session, projectID int64, input ItemInput) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanModerate(access).Err(); err != nil {
		return nil, err
	}
	title, err := validateItem(input)
	if err != nil {
		return nil, err
	}
	if err := s.guardItemTarget(ctx, access, input.ExpertID); err != nil {
		return nil, err
	}

	item := store.IdeaItem{
		ProjectID:     projectID,
		ExpertID:      input.ExpertID,
		OwnerExpertID: input.ExpertID,
		Title:         title,
		Description:   strings.TrimSpace(input.Description),
		State:         store.ItemSelected,
	}
	if item.Description == "" {
		item.Description = defaultItemNote
	}
	if input.State != "" {
		item.State = input.State
	}
	id, err := s.store.InsertItem(ctx, item)
	if err != nil {
		return nil, err
	}
	created, err := s.store.GetItem(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	s.itemChanged(ctx, created)
	return map[string]any{"item": itemJSON(created), "message": "Item creado"}, nil
}

func (s *Service) UpdateItem(ctx context.Context, sess Session, projectID, itemID int64, input ItemInput) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanModerate(access).Err(); err != nil {
		return nil, err
	}
	existing, err := s.store.GetItem(ctx, projectID, itemID)
	if err != nil {
		return nil, notFoundAs(err, panel.MsgItemNotFound)
	}
	// blank fields keep their stored values
	if input.ExpertID == 0 {
		input.ExpertID = existing.ExpertID
	}
	if strings.TrimSpace(input.Title) == "" {
		input.Title = existing.Title
	}
	title, err := validateItem(input)
	if err != nil {
		return nil, err
	}
	if err := s.guardItemTarget(ctx, access, input.ExpertID); err != nil {
		return nil, err
	}

	existing.Title = title
	if description := strings.TrimSpace(input.Description); description != "" {
		existing.Description = description
	}
	existing.ExpertID = input.ExpertID
	if input.State != "" {
		existing.State = input.State
	}
	if err := s.store.UpdateItem(ctx, existing); err != nil {
		return nil, notFoundAs(err, panel.MsgItemNotFound)
	}
	updated, err := s.store.GetItem(ctx, projectID, itemID)
	if err != nil {
		return nil, err
	}
	s.itemChanged(ctx, updated)
	return map[string]any{"item": itemJSON(updated), "message": "Item actualizado"}, nil
}

func (s *Service) DeleteItem(ctx context.Context, sess Session, projectID, itemID int64) error {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return err
	}
	if err := panel.CanModerate(access).Err(); err != nil {
		return err
	}
	deleted, err := s.store.DeleteItem(ctx, projectID, itemID)
	if err != nil {
		return err
	}
	if !deleted {
		return panel.NotFound(panel.MsgItemNotFound)
	}
	if s.search != nil {
		s.search.DeleteItem(itemID)
	}
	if s.hub != nil {
		s.hub.Publish(ctx, chat.Envelope{Type: chat.EventItemChanged, ProjectID: projectID, ItemID: itemID})
	}
	return nil
}

func (s *Service) itemChanged(ctx context.Context, item store.IdeaItem) {
	if s.search != nil {
		s.search.IndexItem(search.ItemRecord{
			ID:          item.ID,
			ProjectID:   item.ProjectID,
			Title:       item.Title,
			Description: item.Description,
			State:       item.State,
			ExpertName:  item.ExpertName,
		})
	}
	if s.hub != nil {
		s.hub.Publish(ctx, chat.Envelope{Type: chat.EventItemChanged, ProjectID: item.ProjectID, ItemID: item.ID})
	}
}

func (s *Service) CloseBrainstorm(ctx context.Context, sess Session, projectID int64) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanCloseBrainstorm(access).Err(); err != nil {
		return nil, err
	}
	closed, err := s.store.CloseBrainstorm(ctx, projectID, sess.UserName)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, panel.AlreadyDone(panel.MsgBrainstormClosed)
	}
	s.logger.Info().Int64("project_id", projectID).Str("actor", sess.UserName).Msg("brainstorm closed")
	if s.hub != nil {
		s.hub.Publish(ctx, chat.Envelope{Type: chat.EventBrainstormClosed, ProjectID: projectID})
	}
	return map[string]any{"message": "Tormenta cerrada exitosamente"}, nil
}

func (s *Service) VotationContext(ctx context.Context, sess Session, projectID int64) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if !access.Selected {
		return nil, panel.Denied(panel.MsgNotInProject)
	}
	items, err := s.store.ListItems(ctx, store.ItemFilter{ProjectID: projectID, State: store.ItemSelected})
	if err != nil {
		return nil, err
	}
	voted, err := s.store.VotedItemIDs(ctx, projectID, access.ExpertID)
	if err != nil {
		return nil, err
	}

	toVote := make([]map[string]any, 0)
	done := make([]map[string]any, 0)
	for _, item := range items {
		if voted[item.ID] {
			done = append(done, itemJSON(item))
		} else {
			toVote = append(toVote, itemJSON(item))
		}
	}
	return map[string]any{
		"phase":       access.Phase,
		"items":       toVote,
		"voted_items": done,
		"total_items": len(items),
		"voted":       len(done),
		"pending":     len(toVote),
	}, nil
}

// CastVote records one vote per expert and item; a duplicate is an idempotency signal.
func (s *Service) CastVote(ctx context.Context, sess Session, projectID, itemID int64, input VoteInput) (map[string]any, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanVote(access, false).Err(); err != nil {
		return nil, err
	}
	if err := panel.ValidateEvaluation(input.Evaluation); err != nil {
		return nil, err
	}
	if _, err := s.store.GetItem(ctx, projectID, itemID); err != nil {
		return nil, notFoundAs(err, panel.MsgItemOrProject)
	}
	voted, err := s.store.HasVoted(ctx, access.ExpertID, itemID)
	if err != nil {
		return nil, err
	}
	if err := panel.CanVote(access, voted).Err(); err != nil {
		return nil, err
	}

	err = s.store.InsertVote(ctx, store.Vote{
		ExpertID:   access.ExpertID,
		ItemID:     itemID,
		ProjectID:  projectID,
		Agrees:     input.Agrees,
		Evaluation: input.Evaluation,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, panel.AlreadyDone(panel.MsgAlreadyVoted)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": "Voto registrado"}, nil
}

func (s *Service) SearchProject(ctx context.Context, sess Session, projectID int64, q search.Query) (search.Response, error) {
	access, err := s.access(ctx, sess, projectID)
	if err != nil {
		return search.Response{}, err
	}
	if !access.Selected {
		return search.Response{}, panel.Denied(panel.MsgNotInProject)
	}
	q.ProjectID = projectID
	if strings.TrimSpace(q.Text) == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}
