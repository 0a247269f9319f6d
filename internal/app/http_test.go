package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/elio-info/tesis/internal/panel"
	"github.com/elio-info/tesis/internal/store"
)

func newTestServer(svc *Service) http.Handler {
	return NewHTTPServer(svc, "*", zerolog.Nop()).Handler()
}

// tokenFor issues an access token for user and makes the fake store resolve it.
func tokenFor(t *testing.T, svc *Service, fs *fakeStore, user store.User) string {
	t.Helper()
	previous := fs.getUserByIDFn
	fs.getUserByIDFn = func(ctx context.Context, id string) (store.User, error) {
		if id == user.ID {
			return user, nil
		}
		if previous != nil {
			return previous(ctx, id)
		}
		return store.User{}, sql.ErrNoRows
	}
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func expertUser(expertID int64) store.User {
	return store.User{ID: "usr_expert", DisplayName: "Ana Pérez", Role: "expert", ExpertID: &expertID}
}

func researcherUser() store.User {
	return store.User{ID: "usr_researcher", DisplayName: "Investigador", Role: "researcher"}
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func TestHealthEndpoint(t *testing.T) {
	rr, payload := doJSON(t, newTestServer(newTestService(&fakeStore{})), http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
	if id := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Fatalf("expected generated X-Request-ID, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "client-42")
	echoed := httptest.NewRecorder()
	newTestServer(newTestService(&fakeStore{})).ServeHTTP(echoed, req)
	if got := echoed.Header().Get("X-Request-ID"); got != "client-42" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("database up", func(t *testing.T) {
		rr, payload := doJSON(t, newTestServer(newTestService(&fakeStore{})), http.MethodGet, "/api/ready", "", "")
		if rr.Code != http.StatusOK || payload["status"] != "ready" {
			t.Fatalf("expected ready, got %d %v", rr.Code, payload)
		}
	})

	t.Run("database down", func(t *testing.T) {
		fs := &fakeStore{pingFn: func(context.Context) error { return errors.New("connection refused") }}
		rr, payload := doJSON(t, newTestServer(newTestService(fs)), http.MethodGet, "/api/ready", "", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if payload["ok"] != false || payload["status"] != "not_ready" {
			t.Fatalf("unexpected payload %v", payload)
		}
	})
}

func TestPreflightRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	rr := httptest.NewRecorder()
	NewHTTPServer(newTestService(&fakeStore{}), "https://panel.example.com", zerolog.Nop()).Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://panel.example.com" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
}

func TestSignInReturnsSessionContract(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	svc.passwords.WithCost(4)
	hash, err := svc.passwords.HashPassword("delphi-demo-2024")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	expertID := int64(3)
	fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		if email != "ana@example.com" {
			return store.User{}, errors.New("unexpected email")
		}
		return store.User{ID: "usr_1", DisplayName: "Ana", Email: email, PasswordHash: hash, Role: "expert", ExpertID: &expertID}, nil
	}

	rr, payload := doJSON(t, newTestServer(svc), http.MethodPost, "/api/auth/signin", "", `{"email":"ana@example.com","password":"delphi-demo-2024"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["success"] != true {
		t.Fatalf("expected success=true, got %v", payload)
	}
	if token, _ := payload["token"].(string); token == "" {
		t.Fatal("expected token")
	}
	if refresh, _ := payload["refresh_token"].(string); refresh == "" {
		t.Fatal("expected refresh_token")
	}
	if payload["expert_id"] != float64(3) {
		t.Fatalf("expected expert_id 3, got %v", payload["expert_id"])
	}

	rr, payload = doJSON(t, newTestServer(svc), http.MethodPost, "/api/auth/signin", "", `{"email":"ana@example.com","password":"wrong-password"}`)
	if rr.Code != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d %v", rr.Code, payload)
	}
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
}

func TestSessionEndpoint(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))
	handler := newTestServer(svc)

	_, payload := doJSON(t, handler, http.MethodGet, "/api/session", "", "")
	if payload["authenticated"] != false {
		t.Fatalf("expected anonymous session, got %v", payload)
	}

	_, payload = doJSON(t, handler, http.MethodGet, "/api/session", token, "")
	if payload["authenticated"] != true || payload["user_name"] != "Ana Pérez" {
		t.Fatalf("expected authenticated session, got %v", payload)
	}
}

func TestDeactivatedUserTokenIsRejected(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))
	fs.getUserByIDFn = func(_ context.Context, id string) (store.User, error) {
		user := expertUser(3)
		now := user.CreatedAt
		user.DeactivatedAt = &now
		return user, nil
	}

	rr, _ := doJSON(t, newTestServer(svc), http.MethodGet, "/api/me/dashboard", token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRoutesRequireSessionAndRole(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	handler := newTestServer(svc)

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/projects", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	expertToken := tokenFor(t, svc, fs, expertUser(3))
	rr, _ = doJSON(t, handler, http.MethodGet, "/api/projects", expertToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected expert to be forbidden from researcher routes, got %d", rr.Code)
	}
	rr, _ = doJSON(t, handler, http.MethodGet, "/api/admin/users", expertToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected expert to be forbidden from admin routes, got %d", rr.Code)
	}

	researcherToken := tokenFor(t, svc, fs, researcherUser())
	rr, _ = doJSON(t, handler, http.MethodGet, "/api/me/dashboard", researcherToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected researcher to be forbidden from expert routes, got %d", rr.Code)
	}
	rr, payload := doJSON(t, handler, http.MethodGet, "/api/projects", researcherToken, "")
	if rr.Code != http.StatusOK || payload["success"] != true {
		t.Fatalf("expected researcher project list, got %d %v", rr.Code, payload)
	}
}

func TestUnknownRouteReturnsJSONNotFound(t *testing.T) {
	rr, payload := doJSON(t, newTestServer(newTestService(&fakeStore{})), http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected JSON 404, got %d %v", rr.Code, payload)
	}
}

func TestChatRouteGating(t *testing.T) {
	fs := &fakeStore{loadAccessFn: activeAccess(false, false)}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))

	rr, payload := doJSON(t, newTestServer(svc), http.MethodGet, "/api/projects/1/chat", token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if payload["error"] != panel.MsgNoChatAccess || payload["success"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestChatRouteMissingProject(t *testing.T) {
	fs := &fakeStore{
		loadAccessFn: func(context.Context, int64, int64) (panel.Access, error) {
			return panel.Access{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))

	rr, payload := doJSON(t, newTestServer(svc), http.MethodGet, "/api/projects/99/chat", token, "")
	if rr.Code != http.StatusNotFound || payload["error"] != panel.MsgProjectNotFound {
		t.Fatalf("expected 404 project not found, got %d %v", rr.Code, payload)
	}
}

func TestSendMessageRouteLengthLimit(t *testing.T) {
	fs := &fakeStore{loadAccessFn: activeAccess(true, false)}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))
	handler := newTestServer(svc)

	ok, _ := json.Marshal(map[string]string{"content": strings.Repeat("x", 1000)})
	rr, payload := doJSON(t, handler, http.MethodPost, "/api/projects/1/chat/messages", token, string(ok))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	message, _ := payload["message"].(map[string]any)
	if message["own"] != true {
		t.Fatalf("expected own message, got %v", payload)
	}

	tooLong, _ := json.Marshal(map[string]string{"content": strings.Repeat("x", 1001)})
	rr, payload = doJSON(t, handler, http.MethodPost, "/api/projects/1/chat/messages", token, string(tooLong))
	if rr.Code != http.StatusBadRequest || payload["error"] != panel.MsgMessageTooLong {
		t.Fatalf("expected 400 too long, got %d %v", rr.Code, payload)
	}
}

func TestRecentMessagesRejectsBadCursor(t *testing.T) {
	fs := &fakeStore{loadAccessFn: activeAccess(true, false)}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))

	rr, _ := doJSON(t, newTestServer(svc), http.MethodGet, "/api/projects/1/chat/messages?after=abc", token, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDuplicateVoteRoute(t *testing.T) {
	voted := false
	fs := &fakeStore{
		loadAccessFn: activeAccess(true, false),
		getItemFn: func(_ context.Context, projectID, itemID int64) (store.IdeaItem, error) {
			return store.IdeaItem{ID: itemID, ProjectID: projectID}, nil
		},
		hasVotedFn: func(context.Context, int64, int64) (bool, error) { return voted, nil },
		insertVoteFn: func(context.Context, store.Vote) error {
			voted = true
			return nil
		},
	}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))
	handler := newTestServer(svc)

	rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects/1/items/8/vote", token, `{"agrees":true,"evaluation":5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, payload := doJSON(t, handler, http.MethodPost, "/api/projects/1/items/8/vote", token, `{"agrees":false}`)
	if rr.Code != http.StatusBadRequest || payload["error"] != panel.MsgAlreadyVoted {
		t.Fatalf("expected 400 already voted, got %d %v", rr.Code, payload)
	}
}

func TestFinalizeRoute(t *testing.T) {
	var gotModerator int64
	fs := &fakeStore{
		finalizeFn: func(_ context.Context, _ int64, moderatorID int64, _ string) (store.FinalizeResult, error) {
			gotModerator = moderatorID
			return store.FinalizeResult{Selected: 3}, nil
		},
	}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, researcherUser())

	rr, payload := doJSON(t, newTestServer(svc), http.MethodPost, "/api/projects/1/finalize", token, `{"moderator_id":5}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotModerator != 5 || payload["selected"] != float64(3) {
		t.Fatalf("unexpected finalize result %v (moderator %d)", payload, gotModerator)
	}
}

func TestBulkSendMemoizesWithinRequest(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		createSurveyFn: func(_ context.Context, projectID, expertID int64) (store.Survey, error) {
			calls++
			return store.Survey{ID: int64(calls), ProjectID: projectID, ExpertID: expertID, State: store.SurveyPending}, nil
		},
	}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, researcherUser())
	handler := newTestServer(svc)

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/projects/1/surveys/send", token, `{"expert_ids":[4,4,5]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if calls != 2 {
		t.Fatalf("expected two inserts, got %d", calls)
	}
	if sent, _ := payload["sent"].([]any); len(sent) != 3 {
		t.Fatalf("expected three answered entries, got %v", payload["sent"])
	}

	// the memo does not outlive the request
	doJSON(t, handler, http.MethodPost, "/api/projects/1/surveys/send/4", token, "")
	if calls != 3 {
		t.Fatalf("expected a fresh request to hit the store, got %d calls", calls)
	}
}

func TestReportUnavailableWithoutExporter(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, researcherUser())

	rr, payload := doJSON(t, newTestServer(svc), http.MethodGet, "/api/projects/1/report?format=pdf", token, "")
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("expected 503, got %d %v", rr.Code, payload)
	}
}

func TestAdminCannotDeactivateSelf(t *testing.T) {
	fs := &fakeStore{
		setUserDeactivatedFn: func(context.Context, string, bool) error {
			t.Fatal("self deactivation must not reach the store")
			return nil
		},
	}
	svc := newTestService(fs)
	admin := store.User{ID: "usr_admin", DisplayName: "Admin", Role: "admin"}
	token := tokenFor(t, svc, fs, admin)

	rr, _ := doJSON(t, newTestServer(svc), http.MethodPost, "/api/admin/users/usr_admin/deactivate", token, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminRejectsUnknownRole(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, store.User{ID: "usr_admin", DisplayName: "Admin", Role: "admin"})

	rr, _ := doJSON(t, newTestServer(svc), http.MethodPut, "/api/admin/users/usr_2/role", token, `{"role":"owner"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCompleteSurveyRouteAcceptsNumericAnswers(t *testing.T) {
	var saved store.Survey
	fs := pendingSurveyStore(&saved)
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, expertUser(3))

	body := `{"analysis":"A","experience":"A","national_authors":"A","foreign_authors":"A",` +
		`"foreign_knowledge":"A","intuition":"A","subject_knowledge":10,"years_experience":12}`
	rr, payload := doJSON(t, newTestServer(svc), http.MethodPost, "/api/me/surveys/9", token, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["coefficient_k"] != 93.33 {
		t.Fatalf("expected K 93.33, got %v", payload["coefficient_k"])
	}
	if saved.SubjectKnowledge != 10 || saved.YearsExperience != 12 {
		t.Fatalf("unexpected saved survey: %+v", saved)
	}
}

func TestUnexpectedFailureReportsUnderlyingMessage(t *testing.T) {
	fs := &fakeStore{
		finalizeFn: func(context.Context, int64, int64, string) (store.FinalizeResult, error) {
			return store.FinalizeResult{}, errors.New("deadlock detected")
		},
	}
	svc := newTestService(fs)
	token := tokenFor(t, svc, fs, researcherUser())

	rr, payload := doJSON(t, newTestServer(svc), http.MethodPost, "/api/projects/1/finalize", token, `{"moderator_id":5}`)
	if rr.Code != http.StatusInternalServerError || payload["success"] != false {
		t.Fatalf("expected 500, got %d %v", rr.Code, payload)
	}
	if payload["error"] != "Error inesperado: deadlock detected" {
		t.Fatalf("unexpected error message %v", payload["error"])
	}
}
