// Package panel holds the project state machine and the access guards that
// gate survey completion, chat, moderation and voting.
package panel

// Phase is the explicit workflow state of a project, derived once per request
// from persisted rows.
type Phase string

const (
	PhaseSurveyOpen       Phase = "survey_open"
	PhaseFinalized        Phase = "finalized"
	PhaseBrainstormActive Phase = "brainstorm_active"
	PhaseBrainstormClosed Phase = "brainstorm_closed"
)

// Snapshot is the per-project data the phase is derived from.
type Snapshot struct {
	// Finalized is true once any selection record of the project is selected.
	Finalized        bool
	HasModerator     bool
	BrainstormClosed bool
}

func DerivePhase(s Snapshot) Phase {
	switch {
	case !s.Finalized:
		return PhaseSurveyOpen
	case s.BrainstormClosed:
		return PhaseBrainstormClosed
	case !s.HasModerator:
		return PhaseFinalized
	default:
		return PhaseBrainstormActive
	}
}

// SelectionClosed reports whether surveys can no longer be completed.
func (p Phase) SelectionClosed() bool {
	return p != PhaseSurveyOpen
}

func (p Phase) Closed() bool {
	return p == PhaseBrainstormClosed
}
