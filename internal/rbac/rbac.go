package rbac

type Role string
type Action string

const (
	RoleExpert     Role = "expert"
	RoleResearcher Role = "researcher"
	RoleAdmin      Role = "admin"
)

const (
	// ActionManageProjects covers project creation, survey dispatch and panel finalization.
	ActionManageProjects Action = "manage_projects"
	// ActionParticipate covers survey answers, chat, moderation and voting as an expert.
	ActionParticipate Action = "participate"
	ActionAdmin       Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleResearcher:
		return action == ActionManageProjects
	case RoleExpert:
		return action == ActionParticipate
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleExpert, RoleResearcher, RoleAdmin:
		return Role(role)
	default:
		return RoleExpert
	}
}
