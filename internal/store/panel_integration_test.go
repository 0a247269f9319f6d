package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/elio-info/tesis/internal/panel"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("DELPHI_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DELPHI_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func seedExpert(t *testing.T, ctx context.Context, s *PostgresStore, first, email string) int64 {
	t.Helper()
	id, err := s.CreateExpert(ctx, Expert{FirstName: first, LastName: "Test", Email: email, ScientificDegree: "Doctor", YearsExperience: 10, Category: "software"})
	if err != nil {
		t.Fatalf("create expert %s: %v", first, err)
	}
	return id
}

func completeWithK(t *testing.T, ctx context.Context, s *PostgresStore, projectID, expertID int64, k float64) {
	t.Helper()
	sv, err := s.CreateSurvey(ctx, projectID, expertID)
	if err != nil {
		t.Fatalf("create survey: %v", err)
	}
	sv.Analysis, sv.Experience, sv.NationalAuthors = "high", "high", "medium"
	sv.ForeignAuthors, sv.ForeignKnowledge, sv.Intuition = "medium", "low", "low"
	sv.SubjectKnowledge = 5
	sv.CoefficientK = k
	ok, err := s.CompleteSurvey(ctx, sv)
	if err != nil {
		t.Fatalf("complete survey: %v", err)
	}
	if !ok {
		t.Fatal("expected survey completion to be accepted")
	}
}

func TestFinalizeSelectionSelectsCompletedSurveysAndModerator(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	projectID, err := s.CreateProject(ctx, Project{Name: "Panel", Client: "Cliente", Category: "software"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	a := seedExpert(t, ctx, s, "Ana", "ana@example.com")
	b := seedExpert(t, ctx, s, "Beto", "beto@example.com")
	c := seedExpert(t, ctx, s, "Carla", "carla@example.com")
	outsider := seedExpert(t, ctx, s, "Dario", "dario@example.com")

	completeWithK(t, ctx, s, projectID, a, 81.0)
	completeWithK(t, ctx, s, projectID, b, 70.5)
	completeWithK(t, ctx, s, projectID, c, 65.0)

	if _, err := s.CreateSurvey(ctx, projectID, a); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate survey error, got %v", err)
	}

	result, err := s.FinalizeSelection(ctx, projectID, outsider, "investigador")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result.AlreadyFinalized || result.Selected != 3 {
		t.Fatalf("unexpected finalize result: %+v", result)
	}

	selected, err := s.ListSelected(ctx, projectID)
	if err != nil {
		t.Fatalf("list selected: %v", err)
	}
	if len(selected) != 4 {
		t.Fatalf("expected 3 panelists plus moderator, got %d", len(selected))
	}
	if selected[0].ExpertID != a || selected[0].Comments != "Seleccionado. K=81.00" {
		t.Fatalf("unexpected top record: %+v", selected[0])
	}

	moderator, err := s.GetModerator(ctx, projectID)
	if err != nil {
		t.Fatalf("get moderator: %v", err)
	}
	if moderator.ExpertID != outsider || moderator.Comments != "Moderador del proyecto" {
		t.Fatalf("unexpected moderator: %+v", moderator)
	}

	again, err := s.FinalizeSelection(ctx, projectID, b, "investigador")
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if !again.AlreadyFinalized {
		t.Fatal("expected second finalize to be a no-op")
	}

	access, err := s.LoadAccess(ctx, projectID, outsider)
	if err != nil {
		t.Fatalf("load access: %v", err)
	}
	if access.Phase != panel.PhaseBrainstormActive || !access.IsModerator() {
		t.Fatalf("unexpected access: %+v", access)
	}
}

type selectionCounts struct {
	total, selected, moderators int
}

func countSelection(t *testing.T, ctx context.Context, s *PostgresStore, projectID int64) selectionCounts {
	t.Helper()
	var c selectionCounts
	err := s.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE state='selected'),
			COUNT(*) FILTER (WHERE is_moderator)
		FROM selection_records WHERE project_id=$1
	`, projectID).Scan(&c.total, &c.selected, &c.moderators)
	if err != nil {
		t.Fatalf("count selection records: %v", err)
	}
	return c
}

func TestFinalizeSelectionModeratorFromPanel(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	projectID, err := s.CreateProject(ctx, Project{Name: "Escenario", Client: "Cliente", Category: "software"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	a := seedExpert(t, ctx, s, "Ana", "ana@example.com")
	b := seedExpert(t, ctx, s, "Beto", "beto@example.com")
	c := seedExpert(t, ctx, s, "Carla", "carla@example.com")
	completeWithK(t, ctx, s, projectID, a, 72.5)
	completeWithK(t, ctx, s, projectID, b, 81.0)
	completeWithK(t, ctx, s, projectID, c, 55.0)

	result, err := s.FinalizeSelection(ctx, projectID, b, "investigador")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result.Selected != 3 {
		t.Fatalf("expected 3 selected experts reported, got %d", result.Selected)
	}

	// one row per (project, expert): the moderator's scored record becomes the moderator record
	if got := countSelection(t, ctx, s, projectID); got != (selectionCounts{total: 3, selected: 3, moderators: 1}) {
		t.Fatalf("unexpected selection counts: %+v", got)
	}
	moderator, err := s.GetModerator(ctx, projectID)
	if err != nil {
		t.Fatalf("get moderator: %v", err)
	}
	if moderator.ExpertID != b || moderator.CoefficientSnapshot != 0 {
		t.Fatalf("unexpected moderator record: %+v", moderator)
	}
}

func TestFinalizeSelectionUnknownModeratorLeavesNoTrace(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	projectID, err := s.CreateProject(ctx, Project{Name: "Atomico"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	a := seedExpert(t, ctx, s, "Ana", "ana@example.com")
	b := seedExpert(t, ctx, s, "Beto", "beto@example.com")
	completeWithK(t, ctx, s, projectID, a, 72.5)
	completeWithK(t, ctx, s, projectID, b, 81.0)

	// a pending record carrying the moderator flag, which finalization would clear and overwrite
	if _, err := s.DB().ExecContext(ctx, `
		INSERT INTO selection_records (project_id, expert_id, state, comments, is_moderator)
		VALUES ($1, $2, 'pending', 'previo', TRUE)
	`, projectID, a); err != nil {
		t.Fatalf("seed pending record: %v", err)
	}
	before := countSelection(t, ctx, s, projectID)
	audits, err := s.ListAuditEvents(ctx, projectID)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}

	if _, err := s.FinalizeSelection(ctx, projectID, a+b+1000, "investigador"); !errors.Is(err, ErrModeratorNotFound) {
		t.Fatalf("expected ErrModeratorNotFound, got %v", err)
	}

	if after := countSelection(t, ctx, s, projectID); after != before {
		t.Fatalf("selection records changed: before %+v after %+v", before, after)
	}
	var state, comments string
	var isModerator bool
	if err := s.DB().QueryRowContext(ctx, `
		SELECT state, comments, is_moderator FROM selection_records WHERE project_id=$1 AND expert_id=$2
	`, projectID, a).Scan(&state, &comments, &isModerator); err != nil {
		t.Fatalf("read pending record: %v", err)
	}
	if state != "pending" || comments != "previo" || !isModerator {
		t.Fatalf("pending record was modified: %s %q %v", state, comments, isModerator)
	}
	auditsAfter, err := s.ListAuditEvents(ctx, projectID)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	if len(auditsAfter) != len(audits) {
		t.Fatalf("expected no audit event, got %d new", len(auditsAfter)-len(audits))
	}
}

func TestFinalizeSelectionRejectsProjectWithoutCompletedSurveys(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	projectID, err := s.CreateProject(ctx, Project{Name: "Vacio"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	expertID := seedExpert(t, ctx, s, "Ana", "ana@example.com")
	if _, err := s.CreateSurvey(ctx, projectID, expertID); err != nil {
		t.Fatalf("create survey: %v", err)
	}

	if _, err := s.FinalizeSelection(ctx, projectID, expertID, "investigador"); !errors.Is(err, ErrNoCompletedSurveys) {
		t.Fatalf("expected ErrNoCompletedSurveys, got %v", err)
	}
}

func TestVotesAndChatMessagesAreAppendOnly(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	projectID, err := s.CreateProject(ctx, Project{Name: "Votos"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	expertID := seedExpert(t, ctx, s, "Ana", "ana@example.com")
	itemID, err := s.InsertItem(ctx, IdeaItem{ProjectID: projectID, ExpertID: expertID, OwnerExpertID: expertID, Title: "Idea", State: ItemSelected})
	if err != nil {
		t.Fatalf("insert item: %v", err)
	}

	evaluation := 4
	if err := s.InsertVote(ctx, Vote{ExpertID: expertID, ItemID: itemID, ProjectID: projectID, Agrees: true, Evaluation: &evaluation}); err != nil {
		t.Fatalf("insert vote: %v", err)
	}
	if err := s.InsertVote(ctx, Vote{ExpertID: expertID, ItemID: itemID, ProjectID: projectID, Agrees: false}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate vote error, got %v", err)
	}

	item, err := s.GetItem(ctx, projectID, itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.AgreeVotes != 1 || item.DisagreeVotes != 0 || item.AverageEvaluation == nil || *item.AverageEvaluation != 4 {
		t.Fatalf("unexpected tallies: %+v", item)
	}

	msg, err := s.InsertMessage(ctx, ChatMessage{ProjectID: projectID, ExpertID: expertID, Content: "hola"})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if msg.ExpertName != "Ana Test" {
		t.Fatalf("unexpected author name %q", msg.ExpertName)
	}

	for _, stmt := range []string{
		`UPDATE votes SET agrees = FALSE WHERE item_id = $1`,
		`UPDATE chat_messages SET content = 'editado' WHERE project_id = $1`,
	} {
		arg := itemID
		if strings.Contains(stmt, "chat_messages") {
			arg = projectID
		}
		_, err := s.DB().ExecContext(ctx, stmt, arg)
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
			t.Fatalf("expected append-only rejection for %q, got %v", stmt, err)
		}
	}

	deleted, err := s.DeleteItem(ctx, projectID, itemID)
	if err != nil || !deleted {
		t.Fatalf("delete item: deleted=%v err=%v", deleted, err)
	}
}
