package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/elio-info/tesis/internal/auth"
	"github.com/elio-info/tesis/internal/authpw"
	"github.com/elio-info/tesis/internal/chat"
	"github.com/elio-info/tesis/internal/coefficient"
	"github.com/elio-info/tesis/internal/config"
	"github.com/elio-info/tesis/internal/export"
	"github.com/elio-info/tesis/internal/panel"
	"github.com/elio-info/tesis/internal/rbac"
	"github.com/elio-info/tesis/internal/search"
	"github.com/elio-info/tesis/internal/session"
	"github.com/elio-info/tesis/internal/store"
	"github.com/elio-info/tesis/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	// ExpertID is zero when the account has no expert profile.
	ExpertID  int64
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	ListUsers(context.Context, string, int, int) ([]store.User, int, error)
	UpdateUserRole(context.Context, string, string) error
	SetUserDeactivated(context.Context, string, bool) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateExpert(context.Context, store.Expert) (int64, error)
	GetExpert(context.Context, int64) (store.Expert, error)
	ListExperts(context.Context, string, string) ([]store.Expert, error)
	ExpertStats(context.Context, int64) (store.ExpertStats, error)
	CountExperts(context.Context) (int, error)

	CreateProject(context.Context, store.Project) (int64, error)
	GetProject(context.Context, int64) (store.Project, error)
	ListProjects(context.Context) ([]store.Project, error)
	CountProjects(context.Context) (int, error)
	CloseBrainstorm(context.Context, int64, string) (bool, error)

	CreateSurvey(context.Context, int64, int64) (store.Survey, error)
	GetSurveyForExpert(context.Context, int64, int64) (store.Survey, error)
	ListProjectSurveys(context.Context, int64) ([]store.Survey, error)
	ListExpertSurveys(context.Context, int64) ([]store.Survey, error)
	DeleteSurvey(context.Context, int64, int64) (bool, error)
	CompleteSurvey(context.Context, store.Survey) (bool, error)

	FinalizeSelection(context.Context, int64, int64, string) (store.FinalizeResult, error)
	ListSelected(context.Context, int64) ([]store.SelectionRecord, error)
	ListExpertSelections(context.Context, int64) ([]store.SelectionRecord, error)
	GetModerator(context.Context, int64) (store.SelectionRecord, error)
	IsSelected(context.Context, int64, int64) (bool, error)
	LoadAccess(context.Context, int64, int64) (panel.Access, error)

	InsertMessage(context.Context, store.ChatMessage) (store.ChatMessage, error)
	ListMessages(context.Context, int64, int64, int) ([]store.ChatMessage, error)
	ListItems(context.Context, store.ItemFilter) ([]store.IdeaItem, error)
	GetItem(context.Context, int64, int64) (store.IdeaItem, error)
	InsertItem(context.Context, store.IdeaItem) (int64, error)
	UpdateItem(context.Context, store.IdeaItem) error
	DeleteItem(context.Context, int64, int64) (bool, error)
	InsertVote(context.Context, store.Vote) error
	HasVoted(context.Context, int64, int64) (bool, error)
	VotedItemIDs(context.Context, int64, int64) (map[int64]bool, error)
	PendingVotations(context.Context, int64) ([]store.PendingVotation, error)

	ListAuditEvents(context.Context, int64) ([]store.AuditEvent, error)
	Ping(ctx context.Context) error
}

// refreshStore keeps refresh tokens; Redis when configured, PostgreSQL otherwise.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexItem(search.ItemRecord)
	IndexMessage(search.MessageRecord)
	DeleteItem(int64)
}

type chatHub interface {
	Publish(context.Context, chat.Envelope)
	ServeWS(http.ResponseWriter, *http.Request, int64, int64) error
}

type reportExporter interface {
	Export(context.Context, int64, export.Format) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendSurveyInvitation(to, expertName, projectName string, surveyID int64) error
	SendPanelSelection(to, expertName, projectName string, projectID int64, moderator bool) error
}

type Service struct {
	cfg        config.Config
	store      dataStore
	refresh    refreshStore
	passwords  *authpw.Service
	calculator coefficient.Calculator
	search     searchIndex
	hub        chatHub
	exporter   reportExporter
	mail       mailer
	logger     zerolog.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, logger zerolog.Logger) *Service {
	return newService(cfg, dataStore, logger)
}

func newService(cfg config.Config, ds dataStore, logger zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		store:      ds,
		refresh:    ds,
		passwords:  authpw.NewService(ds),
		calculator: coefficient.Calculator{FailSoft: cfg.CoefficientFailSoft},
		logger:     logger,
	}
}

func (s *Service) WithRefreshStore(refresh refreshStore) *Service {
	s.refresh = refresh
	return s
}

func (s *Service) WithSearch(index searchIndex) *Service {
	s.search = index
	return s
}

func (s *Service) WithHub(hub chatHub) *Service {
	s.hub = hub
	return s
}

func (s *Service) WithExporter(exporter reportExporter) *Service {
	s.exporter = exporter
	return s
}

func (s *Service) WithMailer(m mailer) *Service {
	s.mail = m
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	// the Redis store only knows the user id
	user, err := s.activeUser(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) activeUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, auth.ErrInvalidToken
		}
		return store.User{}, err
	}
	if user.DeactivatedAt != nil {
		return store.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	expertID := expertIDOf(user)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      user.ID,
		Name:     user.DisplayName,
		Role:     user.Role,
		ExpertID: expertID,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		ExpertID:     expertID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.activeUser(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		ExpertID:  expertIDOf(user),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func expertIDOf(user store.User) int64 {
	if user.ExpertID == nil {
		return 0
	}
	return *user.ExpertID
}

const demoPassword = "delphi-demo-2024"

type demoExpert struct {
	first, last, email, degree, title string
	years                             int
}

var demoExperts = []demoExpert{
	{first: "Ana", last: "Pérez", email: "ana.perez@delphi.local", degree: "Doctor", title: "Profesora titular", years: 18},
	{first: "Alberto", last: "Díaz", email: "alberto.diaz@delphi.local", degree: "Máster", title: "Arquitecto de software", years: 11},
	{first: "Carla", last: "Gómez", email: "carla.gomez@delphi.local", degree: "Ingeniera", title: "Analista de calidad", years: 6},
	{first: "Daniel", last: "Ruiz", email: "daniel.ruiz@delphi.local", degree: "Doctor", title: "Investigador", years: 22},
}

// Bootstrap seeds a researcher, an admin, demo experts and a demo project when the database is empty.
func (s *Service) Bootstrap(ctx context.Context) error {
	projects, err := s.store.CountProjects(ctx)
	if err != nil {
		return err
	}
	experts, err := s.store.CountExperts(ctx)
	if err != nil {
		return err
	}
	if projects > 0 || experts > 0 {
		return nil
	}

	accounts := []authpw.RegisterRequest{
		{DisplayName: "Investigador Principal", Email: "investigador@delphi.local", Password: demoPassword, Role: string(rbac.RoleResearcher)},
		{DisplayName: "Administrador", Email: "admin@delphi.local", Password: demoPassword, Role: string(rbac.RoleAdmin)},
	}
	for _, e := range demoExperts {
		id, err := s.store.CreateExpert(ctx, store.Expert{
			FirstName:        e.first,
			LastName:         e.last,
			Email:            e.email,
			ScientificDegree: e.degree,
			YearsExperience:  e.years,
			JobTitle:         e.title,
			Department:       "Informática",
			Category:         "software",
		})
		if err != nil {
			return fmt.Errorf("seed expert %s: %w", e.email, err)
		}
		expertID := id
		accounts = append(accounts, authpw.RegisterRequest{
			DisplayName: e.first + " " + e.last,
			Email:       e.email,
			Password:    demoPassword,
			Role:        string(rbac.RoleExpert),
			ExpertID:    &expertID,
		})
	}
	for _, account := range accounts {
		if _, err := s.passwords.Register(ctx, account); err != nil {
			return fmt.Errorf("seed account %s: %w", account.Email, err)
		}
	}

	if _, err := s.store.CreateProject(ctx, store.Project{
		Name:     "Evaluación de Software Educativo",
		Client:   "Universidad de Ciencias Informáticas",
		Category: "software",
	}); err != nil {
		return fmt.Errorf("seed project: %w", err)
	}

	s.logger.Info().Int("experts", len(demoExperts)).Msg("seeded demo data")
	return nil
}
