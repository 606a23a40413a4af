package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/packets"
	"tradeflow/internal/security"
	"tradeflow/internal/session"
	"tradeflow/internal/store"
	"tradeflow/internal/workflow"
)

type bufCloser struct{ bytes.Buffer }

func (b *bufCloser) Close() error { return nil }

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *bufCloser) {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	audit := &bufCloser{}
	al := security.NewAuditLoggerWithWriter(audit)

	wopts := workflow.DefaultOptions()
	wopts.Audit = al
	engine, err := workflow.NewEngine(s, wopts)
	require.NoError(t, err)

	opts := Options{Resolver: session.HeaderResolver{}, Audit: al}
	if mutate != nil {
		mutate(&opts)
	}
	return NewServer(engine, opts), audit
}

func do(t *testing.T, srv http.Handler, method, path, workspace, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if workspace != "" {
		r.Header.Set(session.WorkspaceHeader, workspace)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const planBatch = `{"events": [{
	"event_type": "trade.plan.created",
	"entity": {"symbol": "AAPL"},
	"payload": {"plan_id": "p1", "symbol": "AAPL", "entry": {"zone": 190}},
	"correlation": {"workflow_id": "wf1"}
}]}`

func TestIngestEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := do(t, srv, http.MethodPost, "/workflow/events", "ws1", planBatch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 1, body["eventsLogged"])
	assert.EqualValues(t, 1, body["sourceEventsLogged"])
	assert.EqualValues(t, 1, body["decisionPacketsUpserted"])
	assert.EqualValues(t, 1, body["autoAlertsCreated"])
	assert.EqualValues(t, 1, body["autoJournalDraftsCreated"])
	assert.EqualValues(t, 0, body["riskGovernorBlocks"])

	w = do(t, srv, http.MethodPost, "/workflow/events", "ws1", planBatch)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.EqualValues(t, 0, body["autoAlertsCreated"])
	assert.EqualValues(t, 0, body["autoJournalDraftsCreated"])
	assert.EqualValues(t, 1, body["decisionPacketsUpserted"])
}

func TestIngestWithoutWorkspace(t *testing.T) {
	srv, audit := newTestServer(t, nil)

	w := do(t, srv, http.MethodPost, "/workflow/events", "", planBatch)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, w)["error"])
	assert.Contains(t, audit.String(), string(security.AuditAuthFailed))
}

func TestIngestValidationError(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := do(t, srv, http.MethodPost, "/workflow/events", "ws1",
		`{"events": [{"event_type": "trade.teleported", "correlation": {"workflow_id": "wf1"}}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "events[0].event_type", decodeBody(t, w)["field"])

	w = do(t, srv, http.MethodPost, "/workflow/events", "ws1", `{"events": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "body", decodeBody(t, w)["field"])

	w = do(t, srv, http.MethodPost, "/workflow/events", "ws1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "events", decodeBody(t, w)["field"])
}

func TestIngestBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) { o.MaxBodyBytes = 64 })

	w := do(t, srv, http.MethodPost, "/workflow/events", "ws1", planBatch)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "exceeds")
}

func TestSystemExecutionForbidden(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	exec := `{"events": [{
		"event_type": "trade.executed",
		"actor": {"type": "system"},
		"payload": {"symbol": "AAPL"},
		"correlation": {"workflow_id": "wf1"}
	}]}`

	w := do(t, srv, http.MethodPost, "/workflow/events", "ws1", exec)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "system_execution_opt_in_required", decodeBody(t, w)["reasonCode"])

	w = do(t, srv, http.MethodGet, "/workflow/packets", "ws1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["packets"])

	w = do(t, srv, http.MethodPost, "/workflow/operator/context", "ws1", `{"context": {"execution_opt_in": true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/workflow/events", "ws1", exec)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPacketEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/workflow/events", "ws1", planBatch).Code)

	w := do(t, srv, http.MethodGet, "/workflow/packets?limit=10&status=alerted", "ws1", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody(t, w)["packets"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "AAPL", list[0].(map[string]interface{})["symbol"])

	w = do(t, srv, http.MethodGet, "/workflow/packets?status=planned", "ws1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["packets"])

	id := packets.FallbackID("wf1", "AAPL")
	w = do(t, srv, http.MethodGet, "/workflow/packets/"+id, "ws1", "")
	require.Equal(t, http.StatusOK, w.Code)
	pkt := decodeBody(t, w)["packet"].(map[string]interface{})
	assert.Equal(t, id, pkt["decision_packet_id"])
	assert.Equal(t, "alerted", pkt["status"])
	stages := pkt["stage_event_ids"].(map[string]interface{})
	assert.Contains(t, stages, "planned")
	assert.Contains(t, stages, "alerted")

	// workspaces are isolated
	w = do(t, srv, http.MethodGet, "/workflow/packets/"+id, "ws2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodGet, "/workflow/packets?status=pending", "ws1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, srv, http.MethodGet, "/workflow/packets?limit=abc", "ws1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperatorEndpoints(t *testing.T) {
	srv, audit := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/workflow/operator-state", "ws1", "")
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeBody(t, w)["operatorState"].(map[string]interface{})
	assert.Equal(t, "normal", state["risk_environment"])
	assert.Empty(t, state["active_candidates"])

	w = do(t, srv, http.MethodPost, "/workflow/operator/context", "ws1", `{"context": {"Bad Key": 1}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, audit.String(), string(security.AuditInputValidation))

	w = do(t, srv, http.MethodPost, "/workflow/operator/context", "ws1", `{"context": {}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/workflow/operator/context", "ws1", `{"context": {"focus_mode": "scalping"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	state = decodeBody(t, w)["operatorState"].(map[string]interface{})
	assert.Equal(t, "scalping", state["context_state"].(map[string]interface{})["focus_mode"])
}

func TestRateLimitPerWorkspace(t *testing.T) {
	srv, audit := newTestServer(t, func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 2
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/workflow/operator-state", "ws1", "").Code)
	}
	w := do(t, srv, http.MethodGet, "/workflow/operator-state", "ws1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, audit.String(), string(security.AuditRateLimited))

	// another workspace has its own bucket
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/workflow/operator-state", "ws2", "").Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["ok"])
}

func TestWorkspaceLimiterEvictsIdle(t *testing.T) {
	l := NewWorkspaceLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }
	assert.True(t, l.Allow("ws1"))
	assert.False(t, l.Allow("ws1"))

	now = now.Add(10 * time.Minute)
	l.evict(3 * time.Minute)
	assert.Empty(t, l.visitors)
	assert.True(t, l.Allow("ws1"))
}
