package store

import (
	"strings"
	"time"
)

type User struct {
	ID            string
	DisplayName   string
	Email         string
	PasswordHash  string
	Role          string
	ExpertID      *int64
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Expert struct {
	ID               int64
	FirstName        string
	LastName         string
	Email            string
	ScientificDegree string
	YearsExperience  int
	JobTitle         string
	Department       string
	Category         string
	// Derived from completed surveys; never edited directly.
	CompetenceCoefficient float64
	ExperienceIndex       float64
	CreatedAt             time.Time
}

func (e Expert) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// ExpertStats summarizes an expert's participation across projects.
type ExpertStats struct {
	TotalSurveys        int
	TotalContributions  int
	ActiveContributions int
}

type Project struct {
	ID                 int64
	Name               string
	Client             string
	Category           string
	BrainstormState    string
	BrainstormClosedAt *time.Time
	ResearcherID       *int64
	CreatedAt          time.Time
	SelectedCount      int
}

const (
	BrainstormActive = "active"
	BrainstormClosed = "closed"
)

const (
	SurveyPending   = "pending"
	SurveyCompleted = "completed"
	SurveyInReview  = "in_review"
	SurveyApproved  = "approved"
)

type Survey struct {
	ID               int64
	ProjectID        int64
	ExpertID         int64
	State            string
	Analysis         string
	Experience       string
	NationalAuthors  string
	ForeignAuthors   string
	ForeignKnowledge string
	Intuition        string
	SubjectKnowledge int
	CoefficientK     float64
	JobTitle         string
	YearsExperience  int
	ScientificDegree string
	SentAt           time.Time
	RespondedAt      *time.Time

	ProjectName      string
	ExpertName       string
	ProjectFinalized bool
}

const (
	SelectionPending  = "pending"
	SelectionSelected = "selected"
	SelectionRejected = "rejected"
)

type SelectionRecord struct {
	ID                  int64
	ProjectID           int64
	ExpertID            int64
	State               string
	DecidedBy           string
	DecidedAt           *time.Time
	CoefficientSnapshot float64
	Comments            string
	IsModerator         bool

	ExpertName      string
	ProjectName     string
	BrainstormState string
}

type ChatMessage struct {
	ID         int64
	ProjectID  int64
	ExpertID   int64
	Content    string
	SentAt     time.Time
	ExpertName string
}

const (
	ItemPending  = "pending"
	ItemSelected = "selected"
	ItemRejected = "rejected"
	ItemArchived = "archived"
)

type IdeaItem struct {
	ID            int64
	ProjectID     int64
	ExpertID      int64
	OwnerExpertID int64
	Title         string
	Description   string
	Score         float64
	State         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	EditedAt      *time.Time

	ExpertName        string
	AgreeVotes        int
	DisagreeVotes     int
	AverageEvaluation *float64
}

type Vote struct {
	ID         int64
	ExpertID   int64
	ItemID     int64
	ProjectID  int64
	Agrees     bool
	Evaluation *int
	VotedAt    time.Time
}

// PendingVotation is a closed brainstorm where the expert still has items to vote on.
type PendingVotation struct {
	ProjectID     int64
	ProjectName   string
	ModeratorName string
	PendingItems  int
}

type AuditEvent struct {
	ID        int64
	ProjectID int64
	Actor     string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// FinalizeResult is the outcome of FinalizeSelection.
type FinalizeResult struct {
	AlreadyFinalized bool
	Selected         int
}
