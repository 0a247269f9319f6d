package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elio-info/tesis/internal/export"
	"github.com/elio-info/tesis/internal/panel"
	"github.com/elio-info/tesis/internal/store"
)

type CreateProjectInput struct {
	Name     string `json:"name"`
	Client   string `json:"client"`
	Category string `json:"category"`
}

func (s *Service) ListProjects(ctx context.Context) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return mapSlice(projects, projectJSON), nil
}

func (s *Service) CreateProject(ctx context.Context, sess Session, input CreateProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, panel.Validation(panel.MsgProjectNameEmpty)
	}
	project := store.Project{
		Name:     name,
		Client:   strings.TrimSpace(input.Client),
		Category: strings.TrimSpace(input.Category),
	}
	if sess.ExpertID != 0 {
		owner := sess.ExpertID
		project.ResearcherID = &owner
	}
	id, err := s.store.CreateProject(ctx, project)
	if err != nil {
		return nil, err
	}
	created, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return projectJSON(created), nil
}

func (s *Service) getProject(ctx context.Context, projectID int64) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, notFoundAs(err, panel.MsgProjectNotFound)
	}
	return project, nil
}

// ListExpertsForProject lists the experts of the project's category with their survey state.
func (s *Service) ListExpertsForProject(ctx context.Context, projectID int64, order string) (map[string]any, error) {
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	experts, err := s.store.ListExperts(ctx, project.Category, order)
	if err != nil {
		return nil, err
	}
	surveys, err := s.store.ListProjectSurveys(ctx, projectID)
	if err != nil {
		return nil, err
	}
	states := make(map[int64]store.Survey, len(surveys))
	for _, sv := range surveys {
		states[sv.ExpertID] = sv
	}

	rows := make([]map[string]any, 0, len(experts))
	for _, e := range experts {
		row := expertJSON(e)
		if sv, ok := states[e.ID]; ok {
			row["survey_id"] = sv.ID
			row["survey_state"] = sv.State
		} else {
			row["survey_id"] = nil
			row["survey_state"] = nil
		}
		rows = append(rows, row)
	}
	return map[string]any{
		"project": projectJSON(project),
		"experts": rows,
		"order":   order,
	}, nil
}

func (s *Service) ExpertDetail(ctx context.Context, expertID int64) (map[string]any, error) {
	expert, err := s.store.GetExpert(ctx, expertID)
	if err != nil {
		return nil, notFoundAs(err, panel.MsgExpertNotFound)
	}
	stats, err := s.store.ExpertStats(ctx, expertID)
	if err != nil {
		return nil, err
	}
	surveys, err := s.store.ListExpertSurveys(ctx, expertID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"expert": expertJSON(expert),
		"stats": map[string]any{
			"total_surveys":        stats.TotalSurveys,
			"total_contributions":  stats.TotalContributions,
			"active_contributions": stats.ActiveContributions,
		},
		"surveys": mapSlice(surveys, surveyJSON),
	}, nil
}

// SendSurvey creates the expert's survey for the project and sends the invitation.
// A survey created earlier in the same request is returned instead of failing.
func (s *Service) SendSurvey(ctx context.Context, projectID, expertID int64) (map[string]any, error) {
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	expert, err := s.store.GetExpert(ctx, expertID)
	if err != nil {
		return nil, notFoundAs(err, panel.MsgExpertNotFound)
	}

	memo := surveyMemoFrom(ctx)
	if sv, ok := memo.get(projectID, expertID); ok {
		return map[string]any{"survey": surveyJSON(sv), "created": false}, nil
	}

	sv, err := s.store.CreateSurvey(ctx, projectID, expertID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, panel.Validation(panel.MsgSurveyExists)
		}
		return nil, err
	}
	memo.put(sv)

	s.notifySurvey(expert, project, sv)
	return map[string]any{
		"survey":  surveyJSON(sv),
		"created": true,
		"message": fmt.Sprintf("Encuesta enviada a %s", expert.FullName()),
	}, nil
}

// SendSurveys dispatches surveys to several experts; per-expert failures are reported, not fatal.
func (s *Service) SendSurveys(ctx context.Context, projectID int64, expertIDs []int64) (map[string]any, error) {
	if _, err := s.getProject(ctx, projectID); err != nil {
		return nil, err
	}
	sent := make([]map[string]any, 0, len(expertIDs))
	failed := make([]map[string]any, 0)
	for _, expertID := range expertIDs {
		result, err := s.SendSurvey(ctx, projectID, expertID)
		if err != nil {
			var panelErr *panel.Error
			if !errors.As(err, &panelErr) {
				return nil, err
			}
			failed = append(failed, map[string]any{"expert_id": expertID, "error": panelErr.Message})
			continue
		}
		sent = append(sent, result["survey"].(map[string]any))
	}
	return map[string]any{
		"sent":    sent,
		"failed":  failed,
		"message": fmt.Sprintf("%d encuestas enviadas", len(sent)),
	}, nil
}

func (s *Service) notifySurvey(expert store.Expert, project store.Project, sv store.Survey) {
	if s.mail == nil || !s.mail.IsConfigured() || expert.Email == "" {
		return
	}
	if err := s.mail.SendSurveyInvitation(expert.Email, expert.FullName(), project.Name, sv.ID); err != nil {
		s.logger.Warn().Err(err).Int64("survey_id", sv.ID).Msg("survey invitation email failed")
	}
}

func (s *Service) moderatorID(ctx context.Context, projectID int64) (*int64, error) {
	moderator, err := s.store.GetModerator(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := moderator.ExpertID
	return &id, nil
}

func (s *Service) ProjectSurveys(ctx context.Context, projectID int64) (map[string]any, error) {
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	surveys, err := s.store.ListProjectSurveys(ctx, projectID)
	if err != nil {
		return nil, err
	}
	completed := make([]store.Survey, 0, len(surveys))
	for _, sv := range surveys {
		if sv.State != store.SurveyPending {
			completed = append(completed, sv)
		}
	}
	moderatorID, err := s.moderatorID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project":      projectJSON(project),
		"surveys":      mapSlice(surveys, surveyJSON),
		"completed":    mapSlice(completed, surveyJSON),
		"finalized":    project.SelectedCount > 0,
		"moderator_id": moderatorID,
	}, nil
}

// SurveyStates maps expert id to survey state for the project.
func (s *Service) SurveyStates(ctx context.Context, projectID int64) (map[string]string, error) {
	if _, err := s.getProject(ctx, projectID); err != nil {
		return nil, err
	}
	surveys, err := s.store.ListProjectSurveys(ctx, projectID)
	if err != nil {
		return nil, err
	}
	states := make(map[string]string, len(surveys))
	for _, sv := range surveys {
		states[idKey(sv.ExpertID)] = sv.State
	}
	return states, nil
}

func (s *Service) DeleteSurvey(ctx context.Context, projectID, surveyID int64) error {
	deleted, err := s.store.DeleteSurvey(ctx, projectID, surveyID)
	if err != nil {
		return err
	}
	if !deleted {
		return panel.NotFound(panel.MsgSurveyNotFound)
	}
	return nil
}

func (s *Service) FinalList(ctx context.Context, projectID int64) (map[string]any, error) {
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	selected, err := s.store.ListSelected(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var moderator map[string]any
	for _, rec := range selected {
		if rec.IsModerator {
			moderator = selectionJSON(rec)
		}
	}
	return map[string]any{
		"project":   projectJSON(project),
		"selected":  mapSlice(selected, selectionJSON),
		"moderator": moderator,
		"finalized": len(selected) > 0,
	}, nil
}

// FinalizeSelection converts the completed surveys into the panel and names the moderator.
func (s *Service) FinalizeSelection(ctx context.Context, sess Session, projectID, moderatorID int64) (map[string]any, error) {
	if moderatorID == 0 {
		return nil, panel.Validation(panel.MsgModeratorRequired)
	}
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result, err := s.store.FinalizeSelection(ctx, projectID, moderatorID, sess.UserName)
	switch {
	case errors.Is(err, store.ErrNoCompletedSurveys):
		return nil, panel.Validation(panel.MsgNoCompletedSurveys)
	case errors.Is(err, store.ErrModeratorNotFound):
		return nil, panel.Validation(panel.MsgModeratorMissing)
	case err != nil:
		return nil, err
	}
	if result.AlreadyFinalized {
		return nil, panel.AlreadyDone(panel.MsgAlreadyFinalized)
	}

	s.logger.Info().Int64("project_id", projectID).Int("selected", result.Selected).Int64("moderator_id", moderatorID).Str("actor", sess.UserName).Msg("selection finalized")
	s.notifyPanel(ctx, project)
	return map[string]any{
		"selected": result.Selected,
		"message":  fmt.Sprintf("Proceso finalizado con %d expertos.", result.Selected),
	}, nil
}

func (s *Service) notifyPanel(ctx context.Context, project store.Project) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	selected, err := s.store.ListSelected(ctx, project.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("project_id", project.ID).Msg("load panel for notification")
		return
	}
	for _, rec := range selected {
		expert, err := s.store.GetExpert(ctx, rec.ExpertID)
		if err != nil || expert.Email == "" {
			continue
		}
		if err := s.mail.SendPanelSelection(expert.Email, expert.FullName(), project.Name, project.ID, rec.IsModerator); err != nil {
			s.logger.Warn().Err(err).Int64("expert_id", rec.ExpertID).Msg("panel selection email failed")
		}
	}
}

func (s *Service) ExportPanelReport(ctx context.Context, projectID int64, format string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "La exportación no está configurada", nil)
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if _, err := s.getProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, projectID, parsed)
}

func (s *Service) AuditTrail(ctx context.Context, projectID int64) ([]map[string]any, error) {
	if _, err := s.getProject(ctx, projectID); err != nil {
		return nil, err
	}
	events, err := s.store.ListAuditEvents(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return mapSlice(events, func(e store.AuditEvent) map[string]any {
		return map[string]any{
			"id":         e.ID,
			"actor":      e.Actor,
			"action":     e.Action,
			"detail":     e.Detail,
			"created_at": e.CreatedAt,
		}
	}), nil
}
