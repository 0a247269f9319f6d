package app

import (
	"context"
	"sync"

	"github.com/elio-info/tesis/internal/store"
)

type surveyMemoKey struct{}

type surveyKey struct {
	projectID int64
	expertID  int64
}

// surveyMemo remembers surveys created during one request so a bulk dispatch
// that names the same expert twice returns the survey it just created.
type surveyMemo struct {
	mu      sync.Mutex
	surveys map[surveyKey]store.Survey
}

func withSurveyMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, surveyMemoKey{}, &surveyMemo{surveys: make(map[surveyKey]store.Survey)})
}

// surveyMemoFrom returns nil outside a request.
func surveyMemoFrom(ctx context.Context) *surveyMemo {
	memo, _ := ctx.Value(surveyMemoKey{}).(*surveyMemo)
	return memo
}

func (m *surveyMemo) get(projectID, expertID int64) (store.Survey, bool) {
	if m == nil {
		return store.Survey{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sv, ok := m.surveys[surveyKey{projectID, expertID}]
	return sv, ok
}

func (m *surveyMemo) put(sv store.Survey) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.surveys[surveyKey{sv.ProjectID, sv.ExpertID}] = sv
	m.mu.Unlock()
}
