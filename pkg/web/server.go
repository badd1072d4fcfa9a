package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/apply"
	"github.com/versus-control/web-topology/pkg/graph"
	"github.com/versus-control/web-topology/pkg/interfaces"
	"github.com/versus-control/web-topology/pkg/policy"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/types"
)

// TopologyFactory builds a fresh topology. Deferred values resolve once, so
// every apply needs its own.
type TopologyFactory func() (*topology.Topology, error)

// ProviderFactory returns the provider used for a real apply
type ProviderFactory func(ctx context.Context, topo *topology.Topology) (interfaces.Provider, error)

// WebSocket connection wrapper; gorilla connections allow one writer at a time
type wsConnection struct {
	conn     *websocket.Conn
	lastPong time.Time
	writeMu  sync.Mutex
}

func (c *wsConnection) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// Options wire the server to the rest of the system
type Options struct {
	Build    TopologyFactory
	Provider ProviderFactory // nil restricts the server to dry runs
	Executor *apply.Executor
	State    interfaces.StateManager
	Intent   *policy.Intent
	Logger   *logging.Logger

	DisableWebSockets bool
	DisableMetrics    bool
}

// WebServer serves the plan, graph, audit and parameter views of a topology
// and runs applies, streaming their progress over WebSocket.
type WebServer struct {
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   *logging.Logger

	build    TopologyFactory
	provider ProviderFactory
	executor *apply.Executor
	state    interfaces.StateManager
	auditor  *policy.Auditor
	intent   *policy.Intent

	// WebSocket connection management
	connections map[string]*wsConnection
	connMutex   sync.RWMutex

	executions     map[string]*types.PlanExecution
	applied        *topology.Topology
	executionMutex sync.RWMutex
	applyMutex     sync.Mutex

	baseCtx context.Context

	webSockets bool
	metrics    bool
}

// ApplyRequest is the body of POST /api/apply
type ApplyRequest struct {
	DryRun bool `json:"dryRun"`
	Wait   bool `json:"wait"`
}

// NewWebServer creates a new web server instance
func NewWebServer(opts Options) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	ws := &WebServer{
		router:      mux.NewRouter(),
		logger:      logger,
		build:       opts.Build,
		provider:    opts.Provider,
		executor:    opts.Executor,
		state:       opts.State,
		auditor:     policy.NewAuditor(logger),
		intent:      opts.Intent,
		connections: make(map[string]*wsConnection),
		executions:  make(map[string]*types.PlanExecution),
		baseCtx:     context.Background(),
		webSockets:  !opts.DisableWebSockets,
		metrics:     !opts.DisableMetrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	ws.setupRoutes()
	return ws
}

// setupRoutes configures HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.healthHandler).Methods("GET")
	if ws.metrics {
		ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	// API routes
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/plan", ws.getPlanHandler).Methods("GET")
	api.HandleFunc("/graph", ws.getGraphHandler).Methods("GET")
	api.HandleFunc("/audit", ws.getAuditHandler).Methods("GET")
	api.HandleFunc("/parameters", ws.getParametersHandler).Methods("GET")
	api.HandleFunc("/parameter", ws.getParameterHandler).Methods("GET")
	api.HandleFunc("/state", ws.getStateHandler).Methods("GET")
	api.HandleFunc("/apply", ws.applyHandler).Methods("POST")
	api.HandleFunc("/executions/{id}", ws.getExecutionHandler).Methods("GET")

	// WebSocket for real-time updates
	if ws.webSockets {
		ws.router.HandleFunc("/ws", ws.websocketHandler)
	}
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves on addr until ctx is cancelled
func (ws *WebServer) Start(ctx context.Context, addr string) error {
	ws.baseCtx = ctx
	server := &http.Server{
		Addr:              addr,
		Handler:           ws.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ws.logger.WithField("addr", addr).Info("Starting web server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.logger.Info("Shutting down web server")
		return server.Shutdown(shutdownCtx)
	}
}

// Handlers

func (ws *WebServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (ws *WebServer) getPlanHandler(w http.ResponseWriter, r *http.Request) {
	topo, err := ws.build()
	if err != nil {
		ws.writeBuildError(w, err)
		return
	}
	plan := topo.Plan()

	if r.URL.Query().Get("format") == "yaml" {
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		err := encoder.Encode(plan)
		if err == nil {
			err = encoder.Close()
		}
		if err != nil {
			ws.logger.WithError(err).Error("Failed to encode plan as YAML")
			http.Error(w, "Failed to encode plan", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(buf.Bytes())
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

func (ws *WebServer) getGraphHandler(w http.ResponseWriter, r *http.Request) {
	format, err := graph.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	topo, err := ws.build()
	if err != nil {
		ws.writeBuildError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := topo.Render(&buf, format); err != nil {
		ws.logger.WithError(err).Error("Failed to render dependency graph")
		http.Error(w, "Failed to render graph", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

func (ws *WebServer) getAuditHandler(w http.ResponseWriter, r *http.Request) {
	if ws.intent == nil {
		http.Error(w, "No access policy configured", http.StatusNotFound)
		return
	}

	topo, err := ws.build()
	if err != nil {
		ws.writeBuildError(w, err)
		return
	}

	violations := ws.auditor.Audit(topo, ws.intent)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topology":   topo.Name(),
		"clean":      len(violations) == 0,
		"violations": violations,
	})
}

func (ws *WebServer) getParametersHandler(w http.ResponseWriter, r *http.Request) {
	topo, err := ws.currentTopology()
	if err != nil {
		ws.writeBuildError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topo.Parameters().Entries())
}

// getParameterHandler takes the key as a query parameter since keys are paths
func (ws *WebServer) getParameterHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	topo, err := ws.currentTopology()
	if err != nil {
		ws.writeBuildError(w, err)
		return
	}

	if _, ok := topo.Parameters().Entry(key); !ok {
		http.Error(w, fmt.Sprintf("parameter %s not found", key), http.StatusNotFound)
		return
	}

	value, resolved := topo.Parameters().Lookup(key)
	writeJSON(w, http.StatusOK, topology.ParameterView{Key: key, Value: value, Resolved: resolved})
}

func (ws *WebServer) getStateHandler(w http.ResponseWriter, r *http.Request) {
	if ws.state == nil {
		http.Error(w, "No state manager configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ws.state.GetState())
}

func (ws *WebServer) applyHandler(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if !req.DryRun && ws.provider == nil {
		http.Error(w, "No provider configured, only dry runs are available", http.StatusBadRequest)
		return
	}

	if !ws.applyMutex.TryLock() {
		http.Error(w, "An apply is already running", http.StatusConflict)
		return
	}

	topo, err := ws.build()
	if err != nil {
		ws.applyMutex.Unlock()
		ws.writeBuildError(w, err)
		return
	}

	id := ws.registerExecution(topo, req.DryRun)

	if req.Wait {
		defer ws.applyMutex.Unlock()
		execution, err := ws.runApply(r.Context(), id, topo, req.DryRun)
		ws.writeExecution(w, execution, err)
		return
	}

	go func() {
		defer ws.applyMutex.Unlock()
		ws.runApply(ws.baseCtx, id, topo, req.DryRun)
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "accepted",
		"executionId": id,
		"topology":    topo.Name(),
		"dryRun":      req.DryRun,
	})
}

// registerExecution records a running execution before the apply starts, so
// its id can be looked up while the plan is in progress.
func (ws *WebServer) registerExecution(topo *topology.Topology, dryRun bool) string {
	execution := &types.PlanExecution{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("Apply %s", topo.Name()),
		Status:    types.StatusRunning,
		StartedAt: time.Now(),
		Steps:     []*types.ExecutionStep{},
		Errors:    []string{},
		DryRun:    dryRun,
	}

	ws.executionMutex.Lock()
	ws.executions[execution.ID] = execution
	ws.executionMutex.Unlock()
	return execution.ID
}

func (ws *WebServer) getExecutionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ws.executionMutex.RLock()
	execution, ok := ws.executions[id]
	ws.executionMutex.RUnlock()

	if !ok {
		http.Error(w, fmt.Sprintf("execution %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

// runApply executes the plan under the registered execution id and relays
// every update to WebSocket clients. The finished record replaces the
// registered one.
func (ws *WebServer) runApply(ctx context.Context, id string, topo *topology.Topology, dryRun bool) (*types.PlanExecution, error) {
	ctx = context.WithValue(ctx, logging.ExecutionIDKey, id)
	progress := make(chan *types.ExecutionUpdate, 64)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for update := range progress {
			ws.broadcastUpdate(update)
		}
	}()

	var (
		execution *types.PlanExecution
		err       error
	)
	if dryRun {
		execution, err = ws.executor.DryRun(ctx, topo, progress)
	} else {
		var provider interfaces.Provider
		provider, err = ws.provider(ctx, topo)
		if err == nil {
			execution, err = ws.executor.Apply(ctx, topo, provider, progress)
		}
	}
	close(progress)
	<-relayed

	ws.executionMutex.Lock()
	if execution != nil {
		ws.executions[id] = execution
		if !dryRun {
			ws.applied = topo
		}
	} else if registered, ok := ws.executions[id]; ok {
		completedAt := time.Now()
		ws.executions[id] = &types.PlanExecution{
			ID:          id,
			Name:        registered.Name,
			Status:      types.StatusFailed,
			StartedAt:   registered.StartedAt,
			CompletedAt: &completedAt,
			Steps:       []*types.ExecutionStep{},
			Errors:      []string{err.Error()},
			DryRun:      dryRun,
		}
	}
	ws.executionMutex.Unlock()

	entry := ws.logger.WithFields(logrus.Fields{
		"execution_id": id,
		"topology":     topo.Name(),
		"dry_run":      dryRun,
	})
	if err != nil {
		entry.WithError(err).Warn("Apply finished with errors")
	} else {
		entry.Info("Apply finished")
	}
	return execution, err
}

// currentTopology prefers the last applied topology, whose parameters are
// resolved, over a freshly built one.
func (ws *WebServer) currentTopology() (*topology.Topology, error) {
	ws.executionMutex.RLock()
	applied := ws.applied
	ws.executionMutex.RUnlock()
	if applied != nil {
		return applied, nil
	}
	return ws.build()
}

func (ws *WebServer) writeExecution(w http.ResponseWriter, execution *types.PlanExecution, err error) {
	if execution == nil {
		ws.logger.WithError(err).Error("Apply could not start")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{"execution": execution}
	var provisioningErr *apply.ProvisioningError
	if errors.As(err, &provisioningErr) {
		response["error"] = provisioningErr.Error()
		response["failed"] = provisioningErr.Failed
		response["skipped"] = provisioningErr.Skipped
		response["pending"] = provisioningErr.Pending
	} else if err != nil {
		response["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

func (ws *WebServer) writeBuildError(w http.ResponseWriter, err error) {
	var configErr *topology.ConfigurationError
	var dependencyErr *topology.DependencyError
	if errors.As(err, &configErr) || errors.As(err, &dependencyErr) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	ws.logger.WithError(err).Error("Failed to build topology")
	http.Error(w, "Failed to build topology", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WebSocket handler for real-time updates
func (ws *WebServer) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.WithError(err).Error("Failed to upgrade WebSocket")
		return
	}

	// Generate unique connection ID
	connID := fmt.Sprintf("%s-%d", r.RemoteAddr, time.Now().UnixNano())
	wsConn := &wsConnection{
		conn:     conn,
		lastPong: time.Now(),
	}

	ws.connMutex.Lock()
	ws.connections[connID] = wsConn
	ws.connMutex.Unlock()

	ws.logger.WithField("conn_id", connID).Info("WebSocket connection established")

	defer func() {
		ws.connMutex.Lock()
		delete(ws.connections, connID)
		ws.connMutex.Unlock()
		conn.Close()
		ws.logger.WithField("conn_id", connID).Info("WebSocket connection closed")
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		ws.connMutex.Lock()
		wsConn.lastPong = time.Now()
		ws.connMutex.Unlock()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	if err := wsConn.writeJSON(map[string]interface{}{
		"type":      "connected",
		"message":   "Subscribed to execution updates",
		"timestamp": time.Now(),
	}); err != nil {
		return
	}

	pingTicker := time.NewTicker(45 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.WithError(err).WithField("conn_id", connID).Error("WebSocket read error")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-pingTicker.C:
			wsConn.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			wsConn.writeMu.Unlock()
			if err != nil {
				ws.logger.WithError(err).WithField("conn_id", connID).Error("Failed to send ping")
				return
			}

			ws.connMutex.RLock()
			stale := time.Since(wsConn.lastPong) > 90*time.Second
			ws.connMutex.RUnlock()
			if stale {
				ws.logger.WithField("conn_id", connID).Warn("Connection seems stale, closing")
				return
			}

		case <-done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// broadcastUpdate sends an update to all active WebSocket connections
func (ws *WebServer) broadcastUpdate(update interface{}) {
	ws.connMutex.RLock()
	connections := make(map[string]*wsConnection, len(ws.connections))
	for id, conn := range ws.connections {
		connections[id] = conn
	}
	ws.connMutex.RUnlock()

	for connID, wsConn := range connections {
		if err := wsConn.writeJSON(update); err != nil {
			ws.logger.WithError(err).WithField("conn_id", connID).Debug("Failed to broadcast update, removing connection")
			ws.connMutex.Lock()
			delete(ws.connections, connID)
			ws.connMutex.Unlock()
			wsConn.conn.Close()
		}
	}
}
