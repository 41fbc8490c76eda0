package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/operator/pkg/agent"
	"github.com/entrhq/operator/pkg/browser/browsertest"
	"github.com/entrhq/operator/pkg/decision"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/session"
	"github.com/entrhq/operator/pkg/step"
	"github.com/entrhq/operator/pkg/types"
)

type stubEngine struct {
	mu    sync.Mutex
	steps []types.Step
}

func (e *stubEngine) SelectStart(ctx context.Context, goal string) (*decision.Start, error) {
	return &decision.Start{URL: "https://example.com"}, nil
}

func (e *stubEngine) Decide(ctx context.Context, req decision.Request) (*types.Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steps) == 0 {
		return &types.Step{Text: "Done", Tool: types.ToolClose}, nil
	}
	s := e.steps[0]
	e.steps = e.steps[1:]
	return &s, nil
}

type testServer struct {
	launcher *browsertest.Launcher
	registry *session.Registry
	runner   *agent.Runner
	handler  http.Handler
}

func newTestServer(t *testing.T, steps ...types.Step) *testServer {
	t.Helper()
	ts := &testServer{launcher: &browsertest.Launcher{}}
	ts.registry = session.NewRegistry(session.NewLocalFactory(ts.launcher))
	controller := agent.NewController(&stubEngine{steps: steps}, step.NewExecutor(ts.registry), ts.registry)
	ts.runner = agent.NewRunner(controller)
	m := metrics.New()
	m.RunStarted()
	ts.handler = New(Config{Addr: ":0"}, ts.runner, controller, ts.registry, WithMetrics(m)).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func readJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (ts *testServer) waitState(t *testing.T, runID string, want agent.State) agent.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := ts.do(t, http.MethodGet, "/api/runs/"+runID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		snap := readJSON[agent.Snapshot](t, rec)
		if snap.State == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s stuck in %s, want %s", runID, snap.State, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunLifecycle(t *testing.T) {
	ts := newTestServer(t,
		types.Step{Text: "Ask", Tool: types.ToolUserInput, Instruction: "Accept the cookie banner"},
		types.Step{Text: "Read", Tool: types.ToolExtract, Instruction: "title"},
	)

	rec := ts.do(t, http.MethodPost, "/api/runs", map[string]string{"goal": "read the title", "sessionId": "s1"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	run := readJSON[agent.Snapshot](t, rec)
	assert.Equal(t, "s1", run.SessionID)

	snap := ts.waitState(t, run.ID, agent.StateAwaitingUserInput)
	assert.Equal(t, "Accept the cookie banner", snap.Message)

	rec = ts.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"s1"`)

	rec = ts.do(t, http.MethodPost, "/api/runs/"+run.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	snap = ts.waitState(t, run.ID, agent.StateTerminated)
	assert.Nil(t, snap.Error)
	require.Len(t, snap.History, 4)
	assert.Equal(t, types.ToolClose, snap.History[3].Tool)
	assert.Equal(t, 0, ts.registry.Len())

	rec = ts.do(t, http.MethodPost, "/api/runs/"+run.ID+"/resume", map[string]string{"note": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, kindConflict, readJSON[types.ErrorBody](t, rec).Kind)
}

func TestCancelRun(t *testing.T) {
	ts := newTestServer(t, types.Step{Tool: types.ToolUserInput, Instruction: "Log in"})

	rec := ts.do(t, http.MethodPost, "/api/runs", map[string]string{"goal": "check mail"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	run := readJSON[agent.Snapshot](t, rec)
	ts.waitState(t, run.ID, agent.StateAwaitingUserInput)

	rec = ts.do(t, http.MethodDelete, "/api/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := readJSON[agent.Snapshot](t, rec)
	assert.Equal(t, agent.StateTerminated, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, types.KindCanceled, snap.Error.Kind)
	assert.Equal(t, 0, ts.registry.Len())
}

func TestStepwiseEndpointsRejectRunSession(t *testing.T) {
	ts := newTestServer(t, types.Step{Tool: types.ToolUserInput, Instruction: "Log in"})

	rec := ts.do(t, http.MethodPost, "/api/runs", map[string]string{"goal": "check mail", "sessionId": "s1"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	run := readJSON[agent.Snapshot](t, rec)
	ts.waitState(t, run.ID, agent.StateAwaitingUserInput)

	rec = ts.do(t, http.MethodPost, "/api/sessions/s1/apply", map[string]any{
		"step": types.Step{Text: "Go", Tool: types.ToolGoto, Instruction: "https://other.example"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, kindConflict, readJSON[types.ErrorBody](t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/api/sessions/s1/start", map[string]string{"goal": "take over"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/sessions/s1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, 1, ts.registry.Len())
	assert.Equal(t, "https://example.com", ts.launcher.Pages()[0].URL())
	assert.Equal(t, agent.StateAwaitingUserInput, ts.waitState(t, run.ID, agent.StateAwaitingUserInput).State)

	rec = ts.do(t, http.MethodDelete, "/api/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/sessions/s1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStepwiseEndpoints(t *testing.T) {
	ts := newTestServer(t, types.Step{Text: "Read", Tool: types.ToolExtract, Instruction: "price"})

	rec := ts.do(t, http.MethodPost, "/api/sessions/s9/start", map[string]string{"goal": "get the price"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	start := readJSON[struct {
		FirstStep types.Step `json:"firstStep"`
	}](t, rec)
	assert.Equal(t, types.ToolGoto, start.FirstStep.Tool)

	rec = ts.do(t, http.MethodPost, "/api/sessions/s9/next", map[string]any{
		"goal":    "get the price",
		"history": types.History{start.FirstStep},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dec := readJSON[agent.Decision](t, rec)
	assert.Equal(t, types.ToolExtract, dec.Step.Tool)
	assert.False(t, dec.IsTerminal)

	rec = ts.do(t, http.MethodPost, "/api/sessions/s9/apply", map[string]any{"step": dec.Step})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := readJSON[agent.Applied](t, rec)
	assert.Equal(t, "extracted", applied.Result.Output)

	rec = ts.do(t, http.MethodDelete, "/api/sessions/s9", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, ts.registry.Len())
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, kindNotFound, readJSON[types.ErrorBody](t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/api/runs", map[string]string{"goal": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.KindConfiguration, readJSON[types.ErrorBody](t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/api/runs", map[string]string{"unknown": "field"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, kindBadRequest, readJSON[types.ErrorBody](t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/api/sessions/nope/apply", map[string]any{
		"step": types.Step{Tool: types.ToolExtract, Instruction: "x"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, types.KindExecution, readJSON[types.ErrorBody](t, rec).Kind)
}

func TestErrorResponseMapping(t *testing.T) {
	tests := []struct {
		kind   types.ErrorKind
		status int
	}{
		{types.KindConfiguration, http.StatusBadRequest},
		{types.KindMalformedDecision, http.StatusUnprocessableEntity},
		{types.KindProvisioning, http.StatusBadGateway},
		{types.KindOracle, http.StatusBadGateway},
		{types.KindExecution, http.StatusInternalServerError},
		{types.KindCanceled, http.StatusConflict},
		{types.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			status, body := errorResponse(types.NewRunError(tt.kind, "boom"))
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, "boom", body.Detail)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "operator_runs_started_total")
}
