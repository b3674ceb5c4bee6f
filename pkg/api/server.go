// Package api serves the pipeline studio engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/r3labs/sse/v2"

	"github.com/tcmartin/pipelinestudio/pkg/config"
	"github.com/tcmartin/pipelinestudio/pkg/loader"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/middleware"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/monitor"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
	"github.com/tcmartin/pipelinestudio/pkg/routes"
	"github.com/tcmartin/pipelinestudio/pkg/runtime"
	"github.com/tcmartin/pipelinestudio/pkg/services"
	"github.com/tcmartin/pipelinestudio/pkg/storage"
)

// BackendGate reports backend reachability. *monitor.Monitor implements it.
type BackendGate interface {
	ModeAvailable(mode models.Mode) bool
	Status() monitor.BackendStatus
	Metrics() monitor.MetricsSnapshot
}

// Dependencies are the engine components served by the API
type Dependencies struct {
	Registry *registry.Registry
	Routes   *routes.Table
	Store    *runtime.ExecutionStore
	Executor *runtime.Executor

	// Monitor is optional; without it live and stream requests go straight to the executor
	Monitor BackendGate

	// Storage is optional; without it presets live in memory and runs come from the store history
	Storage storage.Provider

	Logger logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	config   *config.Config
	router   *mux.Router
	server   *http.Server
	reg      *registry.Registry
	routes   *routes.Table
	store    *runtime.ExecutionStore
	executor *runtime.Executor
	monitor  BackendGate
	runs     storage.RunStore
	presets  storage.PresetStore
	loader   *loader.DefaultLoader
	log      logging.Logger

	ws     *WebSocketManager
	events *sse.Server

	// ctx outlives requests; asynchronous runs are bound to it
	ctx       context.Context
	cancel    context.CancelFunc
	unsub     func()
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new API server and starts forwarding store events to
// websocket and SSE clients. Call Close (or Stop) to release it.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Routes == nil {
		deps.Routes = routes.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Storage == nil {
		deps.Storage = storage.NewMemoryProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		router:   mux.NewRouter(),
		reg:      deps.Registry,
		routes:   deps.Routes,
		store:    deps.Store,
		executor: deps.Executor,
		monitor:  deps.Monitor,
		runs:     deps.Storage.Runs(),
		presets:  deps.Storage.Presets(),
		loader:   loader.NewLoader(deps.Registry),
		log:      deps.Logger,
		ws:       NewWebSocketManager(deps.Store, deps.Logger),
		events:   newEventServer(),
		ctx:      ctx,
		cancel:   cancel,
		pumpDone: make(chan struct{}),
	}

	events, unsub := s.store.Subscribe(256)
	s.unsub = unsub
	go s.pumpEvents(events)

	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// event streams and batches hold the response open
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting HTTP server", logging.F("addr", addr))

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully and aborts any active run
func (s *Server) Stop(ctx context.Context) error {
	s.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Close stops event forwarding, disconnects stream clients and cancels background runs
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.executor.Running() {
			s.executor.Abort()
		}
		s.unsub()
		<-s.pumpDone
		s.events.Close()
		s.ws.CloseAll()
	})
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	authenticated := api.PathPrefix("").Subrouter()
	if s.config.Auth.JWTSecret != "" {
		tokens := services.NewTokenService(s.config.Auth.JWTSecret, s.config.Auth.TokenExpiration)
		authenticated.Use(middleware.NewAuthMiddleware(tokens).Authenticate)
	}

	authenticated.HandleFunc("/registry", s.handleRegistry).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/routes", s.handleRoutes).Methods(http.MethodGet, http.MethodOptions)

	pipeline := authenticated.PathPrefix("/pipeline").Subrouter()
	pipeline.HandleFunc("", s.handleGetPipeline).Methods(http.MethodGet, http.MethodOptions)
	pipeline.HandleFunc("", s.handlePutPipeline).Methods(http.MethodPut, http.MethodOptions)
	pipeline.HandleFunc("/connections/validate", s.handleValidateConnection).Methods(http.MethodPost, http.MethodOptions)
	pipeline.HandleFunc("/schedule", s.handleSchedule).Methods(http.MethodGet, http.MethodOptions)

	executions := authenticated.PathPrefix("/executions").Subrouter()
	executions.HandleFunc("", s.handleExecute).Methods(http.MethodPost, http.MethodOptions)
	executions.HandleFunc("/abort", s.handleAbort).Methods(http.MethodPost, http.MethodOptions)
	executions.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost, http.MethodOptions)
	executions.HandleFunc("/state", s.handleState).Methods(http.MethodGet, http.MethodOptions)

	authenticated.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/batch", s.handleBatch).Methods(http.MethodPost, http.MethodOptions)

	presets := authenticated.PathPrefix("/presets").Subrouter()
	presets.HandleFunc("", s.handleListPresets).Methods(http.MethodGet, http.MethodOptions)
	presets.HandleFunc("", s.handleCreatePreset).Methods(http.MethodPost, http.MethodOptions)
	presets.HandleFunc("/{id}", s.handleGetPreset).Methods(http.MethodGet, http.MethodOptions)
	presets.HandleFunc("/{id}", s.handleDeletePreset).Methods(http.MethodDelete, http.MethodOptions)
	presets.HandleFunc("/{id}/load", s.handleLoadPreset).Methods(http.MethodPost, http.MethodOptions)

	authenticated.HandleFunc("/backend/status", s.handleBackendStatus).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	authenticated.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.log.Debug("request", logging.F("method", r.Method), logging.F("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	})

	if s.config.Auth.RequestsPerMinute > 0 {
		s.router.Use(middleware.NewRateLimiter(s.config.Auth.RequestsPerMinute, time.Minute).Limit)
	}

	origins := s.config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.CORS(origins))
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"running": s.executor.Running(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

const maxBodyBytes = 4 << 20
