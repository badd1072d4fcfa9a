package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/apply"
	"github.com/versus-control/web-topology/pkg/interfaces"
	"github.com/versus-control/web-topology/pkg/simulate"
	"github.com/versus-control/web-topology/pkg/state"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/types"
	"github.com/versus-control/web-topology/pkg/webapp"
)

func testSettings() webapp.Settings {
	s := webapp.DefaultSettings()
	s.WebSSHKeyName = "web-key"
	s.BastionSSHKeyName = "bastion-key"
	s.CertificateARN = "arn:aws:acm:us-west-2:123456789012:certificate/abc"
	return s
}

func newTestServer(t *testing.T, withProvider bool) *WebServer {
	t.Helper()
	logger := logging.NewDiscardLogger()
	s := testSettings()
	stateManager := state.NewManager("", "us-west-2", logger)

	opts := Options{
		Build: func() (*topology.Topology, error) {
			topo, _, err := webapp.Build(s, logger)
			return topo, err
		},
		Executor: apply.NewExecutor(stateManager, apply.DefaultConcurrency, logger),
		State:    stateManager,
		Intent:   s.Expectations(),
		Logger:   logger,
	}
	if withProvider {
		opts.Provider = func(ctx context.Context, topo *topology.Topology) (interfaces.Provider, error) {
			return simulate.NewProvider("us-west-2", logger), nil
		}
	}
	return NewWebServer(opts)
}

func get(t *testing.T, ws *WebServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	return rec
}

func postApply(t *testing.T, ws *WebServer, body ApplyRequest) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/apply", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPlanEndpoint(t *testing.T) {
	ws := newTestServer(t, false)

	rec := get(t, ws, "/api/plan")
	require.Equal(t, http.StatusOK, rec.Code)

	var plan topology.ProvisioningPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, "WebApplication", plan.Topology)
	require.Len(t, plan.Steps, 13)
	assert.Equal(t, "network:WebApplicationVPC", plan.Steps[0].ID)

	rec = get(t, ws, "/api/plan?format=yaml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "topology: WebApplication")
}

func TestGraphEndpoint(t *testing.T) {
	ws := newTestServer(t, false)

	rec := get(t, ws, "/api/graph")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "digraph")

	rec = get(t, ws, "/api/graph?format=mermaid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "WebServer")

	rec = get(t, ws, "/api/graph?format=svg")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditEndpointReportsCleanStack(t *testing.T) {
	ws := newTestServer(t, false)

	rec := get(t, ws, "/api/audit")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Clean      bool              `json:"clean"`
		Violations []json.RawMessage `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Clean)
	assert.Empty(t, body.Violations)
}

func TestBuildErrorsAreUnprocessable(t *testing.T) {
	logger := logging.NewDiscardLogger()
	s := testSettings()
	s.CertificateARN = ""

	ws := NewWebServer(Options{
		Build: func() (*topology.Topology, error) {
			topo, _, err := webapp.Build(s, logger)
			return topo, err
		},
		Logger: logger,
	})

	rec := get(t, ws, "/api/plan")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "certificate")
}

func TestApplyPublishesParameter(t *testing.T) {
	ws := newTestServer(t, true)

	rec := get(t, ws, "/api/parameter?key=/Instance/WebServer")
	require.Equal(t, http.StatusOK, rec.Code)
	var view topology.ParameterView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.Resolved)

	rec = postApply(t, ws, ApplyRequest{Wait: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Execution *types.PlanExecution `json:"execution"`
		Error     string               `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Execution)
	assert.Empty(t, result.Error)
	assert.Equal(t, types.StatusCompleted, result.Execution.Status)

	rec = get(t, ws, "/api/parameter?key=/Instance/WebServer")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Resolved)
	assert.True(t, strings.HasSuffix(view.Value, ".compute.internal"))

	rec = get(t, ws, "/api/executions/"+result.Execution.ID)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, ws, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var infra types.InfrastructureState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infra))
	assert.Len(t, infra.Resources, 13)
}

func TestParameterLookupErrors(t *testing.T) {
	ws := newTestServer(t, false)

	assert.Equal(t, http.StatusBadRequest, get(t, ws, "/api/parameter").Code)
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/api/parameter?key=/Instance/Missing").Code)
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/api/executions/unknown").Code)
}

func TestApplyWithoutProviderOnlyAllowsDryRun(t *testing.T) {
	ws := newTestServer(t, false)

	rec := postApply(t, ws, ApplyRequest{Wait: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postApply(t, ws, ApplyRequest{DryRun: true, Wait: true})
	require.Equal(t, http.StatusOK, rec.Code)

	// Dry runs never resolve the served parameters
	rec = get(t, ws, "/api/parameters")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []topology.ParameterView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.False(t, views[0].Resolved)
}

func TestAsyncApplyReturnsExecutionID(t *testing.T) {
	ws := newTestServer(t, true)

	rec := postApply(t, ws, ApplyRequest{DryRun: true})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted struct {
		Status      string `json:"status"`
		ExecutionID string `json:"executionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "accepted", accepted.Status)
	require.NotEmpty(t, accepted.ExecutionID)

	// the execution is visible while it runs and keeps its id when it finishes
	rec = get(t, ws, "/api/executions/"+accepted.ExecutionID)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		rec := get(t, ws, "/api/executions/"+accepted.ExecutionID)
		if rec.Code != http.StatusOK {
			return false
		}
		var execution types.PlanExecution
		if err := json.Unmarshal(rec.Body.Bytes(), &execution); err != nil {
			return false
		}
		return execution.ID == accepted.ExecutionID && execution.Status == types.StatusCompleted && len(execution.Steps) == 13
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFailedStartIsRecorded(t *testing.T) {
	logger := logging.NewDiscardLogger()
	s := testSettings()
	stateManager := state.NewManager("", "us-west-2", logger)
	ws := NewWebServer(Options{
		Build: func() (*topology.Topology, error) {
			topo, _, err := webapp.Build(s, logger)
			return topo, err
		},
		Provider: func(ctx context.Context, topo *topology.Topology) (interfaces.Provider, error) {
			return nil, errors.New("no credentials")
		},
		Executor: apply.NewExecutor(stateManager, apply.DefaultConcurrency, logger),
		State:    stateManager,
		Logger:   logger,
	})

	id := ws.registerExecution(mustBuild(t, s), false)
	execution, err := ws.runApply(context.Background(), id, mustBuild(t, s), false)
	require.Error(t, err)
	assert.Nil(t, execution)

	rec := get(t, ws, "/api/executions/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var recorded types.PlanExecution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recorded))
	assert.Equal(t, types.StatusFailed, recorded.Status)
	assert.Equal(t, []string{"no credentials"}, recorded.Errors)
}

func mustBuild(t *testing.T, s webapp.Settings) *topology.Topology {
	t.Helper()
	topo, _, err := webapp.Build(s, nil)
	require.NoError(t, err)
	return topo
}

func TestWebSocketStreamsExecutionUpdates(t *testing.T) {
	ws := newTestServer(t, false)
	server := httptest.NewServer(ws.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]interface{}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])

	rec := postApply(t, ws, ApplyRequest{DryRun: true, Wait: true})
	require.Equal(t, http.StatusOK, rec.Code)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	completed := 0
	for {
		var update types.ExecutionUpdate
		require.NoError(t, conn.ReadJSON(&update))
		if update.Type == "step_completed" {
			completed++
		}
		if update.Type == "execution_completed" {
			break
		}
	}
	assert.Equal(t, 13, completed)
}

func TestMetricsEndpoint(t *testing.T) {
	ws := newTestServer(t, false)
	postApply(t, ws, ApplyRequest{DryRun: true, Wait: true})

	rec := get(t, ws, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "topology_apply_steps_total")
}

func TestDisabledSurfacesAreNotRouted(t *testing.T) {
	logger := logging.NewDiscardLogger()
	ws := NewWebServer(Options{
		Build:             webapp.Factory(testSettings(), logger),
		Logger:            logger,
		DisableWebSockets: true,
		DisableMetrics:    true,
	})

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/ws").Code)
	assert.Equal(t, http.StatusOK, get(t, ws, "/health").Code)
}
