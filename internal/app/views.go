package app

import (
	"strconv"

	"github.com/elio-info/tesis/internal/store"
)

func projectJSON(p store.Project) map[string]any {
	return map[string]any{
		"id":                   p.ID,
		"name":                 p.Name,
		"client":               p.Client,
		"category":             p.Category,
		"brainstorm_state":     p.BrainstormState,
		"brainstorm_closed_at": p.BrainstormClosedAt,
		"researcher_id":        p.ResearcherID,
		"created_at":           p.CreatedAt,
		"selected_count":       p.SelectedCount,
		"finalized":            p.SelectedCount > 0,
	}
}

func expertJSON(e store.Expert) map[string]any {
	return map[string]any{
		"id":                     e.ID,
		"first_name":             e.FirstName,
		"last_name":              e.LastName,
		"full_name":              e.FullName(),
		"email":                  e.Email,
		"scientific_degree":      e.ScientificDegree,
		"years_experience":       e.YearsExperience,
		"job_title":              e.JobTitle,
		"department":             e.Department,
		"category":               e.Category,
		"competence_coefficient": e.CompetenceCoefficient,
		"experience_index":       e.ExperienceIndex,
	}
}

func surveyJSON(sv store.Survey) map[string]any {
	return map[string]any{
		"id":                sv.ID,
		"project_id":        sv.ProjectID,
		"project_name":      sv.ProjectName,
		"expert_id":         sv.ExpertID,
		"expert_name":       sv.ExpertName,
		"state":             sv.State,
		"coefficient_k":     sv.CoefficientK,
		"sent_at":           sv.SentAt,
		"responded_at":      sv.RespondedAt,
		"project_finalized": sv.ProjectFinalized,
		"answers": map[string]any{
			"analysis":          sv.Analysis,
			"experience":        sv.Experience,
			"national_authors":  sv.NationalAuthors,
			"foreign_authors":   sv.ForeignAuthors,
			"foreign_knowledge": sv.ForeignKnowledge,
			"intuition":         sv.Intuition,
			"subject_knowledge": sv.SubjectKnowledge,
			"job_title":         sv.JobTitle,
			"years_experience":  sv.YearsExperience,
			"scientific_degree": sv.ScientificDegree,
		},
	}
}

func selectionJSON(rec store.SelectionRecord) map[string]any {
	return map[string]any{
		"id":                   rec.ID,
		"project_id":           rec.ProjectID,
		"project_name":         rec.ProjectName,
		"expert_id":            rec.ExpertID,
		"expert_name":          rec.ExpertName,
		"state":                rec.State,
		"decided_by":           rec.DecidedBy,
		"decided_at":           rec.DecidedAt,
		"coefficient_snapshot": rec.CoefficientSnapshot,
		"comments":             rec.Comments,
		"is_moderator":         rec.IsModerator,
		"brainstorm_state":     rec.BrainstormState,
	}
}

func itemJSON(item store.IdeaItem) map[string]any {
	return map[string]any{
		"id":                 item.ID,
		"project_id":         item.ProjectID,
		"expert_id":          item.ExpertID,
		"expert_name":        item.ExpertName,
		"owner_expert_id":    item.OwnerExpertID,
		"title":              item.Title,
		"description":        item.Description,
		"score":              item.Score,
		"state":              item.State,
		"created_at":         item.CreatedAt,
		"updated_at":         item.UpdatedAt,
		"edited_at":          item.EditedAt,
		"agree_votes":        item.AgreeVotes,
		"disagree_votes":     item.DisagreeVotes,
		"average_evaluation": item.AverageEvaluation,
	}
}

// messageJSON marks own for the expert viewing the message.
func messageJSON(msg store.ChatMessage, viewerExpertID int64) map[string]any {
	return map[string]any{
		"id":          msg.ID,
		"content":     msg.Content,
		"sent_at":     msg.SentAt,
		"expert_name": msg.ExpertName,
		"expert_id":   msg.ExpertID,
		"own":         msg.ExpertID == viewerExpertID,
	}
}

func userJSON(u store.User) map[string]any {
	return map[string]any{
		"id":             u.ID,
		"display_name":   u.DisplayName,
		"email":          u.Email,
		"role":           u.Role,
		"expert_id":      u.ExpertID,
		"deactivated_at": u.DeactivatedAt,
		"created_at":     u.CreatedAt,
	}
}

func mapSlice[T any](values []T, fn func(T) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(values))
	for _, v := range values {
		out = append(out, fn(v))
	}
	return out
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
