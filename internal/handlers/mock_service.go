package handlers

import (
	"context"
	"net/http"
	"time"

	"wallbox_control/internal/models"
	"wallbox_control/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockControl struct {
	outcome models.ActionOutcome
	calls   []models.Action
}

func (m *mockControl) Execute(ctx context.Context, a models.Action) models.ActionOutcome {
	m.calls = append(m.calls, a)
	out := m.outcome
	out.Action = a.Kind
	out.Mode = a.Mode
	return out
}

type mockRouter struct {
	action   models.Action
	err      error
	lastEnvs []service.Envelope
}

func (m *mockRouter) Route(env service.Envelope) (models.Action, error) {
	m.lastEnvs = append(m.lastEnvs, env)
	return m.action, m.err
}

type mockMonitoring struct {
	snap models.Snapshot
	err  error
}

func (m *mockMonitoring) Snapshot(ctx context.Context) (models.Snapshot, error) {
	return m.snap, m.err
}

type mockEventLog struct {
	resp     []models.WallboxEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.WallboxEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service, secret string) *gin.Engine {
	h := NewHandler(s, nil, secret)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
