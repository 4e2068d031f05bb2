// Package server provides the HTTP API for NestHome.
//
// Every household-scoped route lives under /api/v1/households/me and acts
// on the household named by the bearer token. Tokens come from
// POST /api/v1/auth/token (household ID + passphrase) or from
// POST /api/v1/auth/register, which creates the household as well.
//
// Endpoints:
//
//	POST   /api/v1/auth/register
//	POST   /api/v1/auth/token
//	GET    /api/v1/households/me
//	DELETE /api/v1/households/me
//	GET    /api/v1/households/me/view
//	PUT    /api/v1/households/me/passphrase
//	PUT    /api/v1/households/me/settings
//	POST   /api/v1/households/me/reset
//	POST   /api/v1/households/me/water/refill
//	POST   /api/v1/households/me/water/calibrate
//	PUT    /api/v1/households/me/water/config
//	PUT    /api/v1/households/me/sleep
//	POST   /api/v1/households/me/tasks
//	DELETE /api/v1/households/me/tasks/{id}
//	POST   /api/v1/households/me/tasks/{id}/complete
//	POST   /api/v1/households/me/items
//	DELETE /api/v1/households/me/items/{id}
//	POST   /api/v1/households/me/items/{id}/adjust
//	PUT    /api/v1/households/me/items/{id}/quantity
//	GET    /api/v1/households/me/trend/water
//	GET    /api/v1/households/me/trend/items/{id}
//	GET    /api/v1/households/me/chart/water.png
//	GET    /api/v1/households/me/chart/items/{id}.png
//	GET    /api/v1/households/me/activity
//	GET    /api/v1/admin/clock           (server.allow_clock_control)
//	POST   /api/v1/admin/clock/advance   (server.allow_clock_control)
//	POST   /api/v1/admin/clock/reset     (server.allow_clock_control)
//	GET    /health
//	GET    /metrics                      (server.enable_metrics)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/auth"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cache"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/chart"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/config"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/nesthome"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/storage"
)

// Errors for HTTP operations.
var (
	ErrServerClosed = errors.New("server closed")
	ErrBadRequest   = errors.New("bad request")
)

const (
	idleTimeout = 120 * time.Second

	chartCacheSize = 128
	chartCacheTTL  = 10 * time.Minute
)

// Server is the HTTP API server.
type Server struct {
	config *config.ServerConfig
	db     *nesthome.DB
	auth   *auth.Authenticator
	log    *slog.Logger

	metrics *metrics
	charts  *cache.Cache[[]byte]

	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time
}

// New creates a server. A nil cfg uses the defaults of config.Default.
func New(db *nesthome.DB, authenticator *auth.Authenticator, cfg *config.ServerConfig, log *slog.Logger) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if cfg == nil {
		cfg = &config.Default().Server
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		config:  cfg,
		db:      db,
		auth:    authenticator,
		log:     log.With("component", "http"),
		charts:  cache.New[[]byte](chartCacheSize, chartCacheTTL),
		started: time.Now(),
	}
	s.metrics = newMetrics(s.charts)
	return s, nil
}

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", "error", err)
		}
	}()

	s.log.Info("listening", "addr", listener.Addr().String())
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// =============================================================================
// Router Setup
// =============================================================================

// Handler returns the full handler chain: routes, CORS, request logging
// and panic recovery.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.buildRouter()
	if s.config.EnableCORS {
		handler = handlers.CORS(
			handlers.AllowedOrigins(s.config.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Accept", "Authorization", "Content-Type"}),
			handlers.MaxAge(86400),
		)(handler)
	}
	handler = handlers.CustomLoggingHandler(io.Discard, handler, s.logRequest)
	return s.recoveryMiddleware(handler)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.metrics.middleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.config.EnableMetrics {
		r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/token", s.handleToken).Methods(http.MethodPost)

	me := api.PathPrefix("/households/me").Subrouter()
	me.Use(s.withHousehold)
	me.HandleFunc("", s.handleGetHousehold).Methods(http.MethodGet)
	me.HandleFunc("", s.handleDeleteHousehold).Methods(http.MethodDelete)
	me.HandleFunc("/view", s.handleView).Methods(http.MethodGet)
	me.HandleFunc("/passphrase", s.handleChangePassphrase).Methods(http.MethodPut)
	me.HandleFunc("/settings", s.handleSettings).Methods(http.MethodPut)
	me.HandleFunc("/reset", s.handleFactoryReset).Methods(http.MethodPost)

	me.HandleFunc("/water/refill", s.handleRefill).Methods(http.MethodPost)
	me.HandleFunc("/water/calibrate", s.handleCalibrate).Methods(http.MethodPost)
	me.HandleFunc("/water/config", s.handleWaterConfig).Methods(http.MethodPut)
	me.HandleFunc("/sleep", s.handleSleep).Methods(http.MethodPut)

	me.HandleFunc("/tasks", s.handleAddTask).Methods(http.MethodPost)
	me.HandleFunc("/tasks/{id}", s.handleRemoveTask).Methods(http.MethodDelete)
	me.HandleFunc("/tasks/{id}/complete", s.handleCompleteTask).Methods(http.MethodPost)

	me.HandleFunc("/items", s.handleAddItem).Methods(http.MethodPost)
	me.HandleFunc("/items/{id}", s.handleRemoveItem).Methods(http.MethodDelete)
	me.HandleFunc("/items/{id}/adjust", s.handleAdjustItem).Methods(http.MethodPost)
	me.HandleFunc("/items/{id}/quantity", s.handleCountItem).Methods(http.MethodPut)

	me.HandleFunc("/trend/water", s.handleWaterTrend).Methods(http.MethodGet)
	me.HandleFunc("/trend/items/{id}", s.handleItemTrend).Methods(http.MethodGet)
	me.HandleFunc("/chart/water.png", s.handleWaterChart).Methods(http.MethodGet)
	me.HandleFunc("/chart/items/{id}.png", s.handleItemChart).Methods(http.MethodGet)
	me.HandleFunc("/activity", s.handleActivity).Methods(http.MethodGet)

	if s.config.AllowClockControl {
		admin := api.PathPrefix("/admin").Subrouter()
		admin.Use(s.withHousehold)
		admin.HandleFunc("/clock", s.handleClock).Methods(http.MethodGet)
		admin.HandleFunc("/clock/advance", s.handleClockAdvance).Methods(http.MethodPost)
		admin.HandleFunc("/clock/reset", s.handleClockReset).Methods(http.MethodPost)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// =============================================================================
// Middleware
// =============================================================================

// withHousehold resolves the bearer token to a household ID and stores it
// in the request context. Token expiry is checked against virtual time.
func (s *Server) withHousehold(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(
			r.Header.Get("Authorization"),
			getCookie(r, "token"),
			r.URL.Query().Get("token"),
		)
		if token == "" && s.auth.IsSecurityEnabled() {
			s.writeError(w, http.StatusUnauthorized, "no authentication provided")
			return
		}

		id, err := s.auth.ValidateToken(token, s.db.Now())
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyHousehold, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.log.Error("panic serving request", "path", r.URL.Path, "panic", err, "stack", string(buf[:n]))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logRequest is the handlers.LogFormatter for CustomLoggingHandler. Health
// checks are skipped.
func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	if p.URL.Path == "/health" {
		return
	}
	s.log.Info("request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"duration", time.Since(p.TimeStamp))
}

// =============================================================================
// Helper Functions
// =============================================================================

type contextKey string

const contextKeyHousehold = contextKey("household")

func householdID(r *http.Request) string {
	id, _ := r.Context().Value(contextKeyHousehold).(string)
	return id
}

func getCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// readJSON decodes the body, bounded by MaxRequestSize. An empty body
// leaves v untouched.
func (s *Server) readJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

// writeFailure maps a facade or auth error to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, nesthome.ErrNotFound),
		errors.Is(err, household.ErrTaskNotFound),
		errors.Is(err, household.ErrItemNotFound),
		errors.Is(err, chart.ErrNoData):
		status = http.StatusNotFound
	case errors.Is(err, household.ErrInvalidInput),
		errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, chart.ErrTooSmall),
		errors.Is(err, ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, nesthome.ErrExists),
		errors.Is(err, auth.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrAccountLocked):
		status = http.StatusTooManyRequests
	case errors.Is(err, nesthome.ErrClosed), errors.Is(err, storage.ErrStorageClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "household", householdID(r), "error", err)
		s.writeError(w, status, "internal server error")
		return
	}
	s.writeError(w, status, err.Error())
}
