package panel

import (
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 1000

// Access is what one expert may do in one project at the moment it was loaded.
type Access struct {
	ProjectID int64
	ExpertID  int64
	Phase     Phase
	// Selected is true when the expert holds a selected record in the project.
	Selected  bool
	Moderator bool
}

func (a Access) IsModerator() bool {
	return a.Selected && a.Moderator
}

type Decision struct {
	Allowed bool
	Kind    Kind
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(kind Kind, reason string) Decision {
	return Decision{Kind: kind, Reason: reason}
}

// Err converts a denial into a panel error; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Error{Kind: d.Kind, Message: d.Reason}
}

func CanCompleteSurvey(phase Phase, surveyState string) Decision {
	if surveyState != "pending" {
		return deny(KindAlreadyDone, MsgSurveyCompleted)
	}
	if phase.SelectionClosed() {
		return deny(KindAccessDenied, MsgSelectionClosed)
	}
	return allow
}

func CanChat(a Access) Decision {
	if a.Phase.Closed() {
		return deny(KindAccessDenied, MsgChatClosed)
	}
	if !a.Selected {
		return deny(KindAccessDenied, MsgNoChatAccess)
	}
	return allow
}

func CanModerate(a Access) Decision {
	if a.Phase.Closed() {
		return deny(KindAccessDenied, MsgChatClosed)
	}
	if !a.IsModerator() {
		return deny(KindAccessDenied, MsgNotModerator)
	}
	return allow
}

// CanManageItemFor gates item create, update and delete on behalf of target.
func CanManageItemFor(a Access, targetSelected bool) Decision {
	if d := CanModerate(a); !d.Allowed {
		return d
	}
	if !targetSelected {
		return deny(KindValidation, MsgExpertNotInProject)
	}
	return allow
}

func CanVote(a Access, alreadyVoted bool) Decision {
	if !a.Selected {
		return deny(KindAccessDenied, MsgNotInProject)
	}
	if alreadyVoted {
		return deny(KindAlreadyDone, MsgAlreadyVoted)
	}
	return allow
}

func CanCloseBrainstorm(a Access) Decision {
	if !a.IsModerator() {
		return deny(KindAccessDenied, MsgNotModerator)
	}
	if a.Phase.Closed() {
		return deny(KindAlreadyDone, MsgBrainstormClosed)
	}
	return allow
}

// NormalizeMessage trims content and enforces the length limit counted in characters.
func NormalizeMessage(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", Validation(MsgEmptyMessage)
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", Validation(MsgMessageTooLong)
	}
	return trimmed, nil
}

func ValidateEvaluation(evaluation *int) error {
	if evaluation == nil {
		return nil
	}
	if *evaluation < 1 || *evaluation > 5 {
		return Validation(MsgInvalidEvaluation)
	}
	return nil
}
