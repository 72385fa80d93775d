package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/returns/internal/config"
	"github.com/liamcoop/returns/internal/logger"
	"github.com/liamcoop/returns/lifecycle"
	"github.com/liamcoop/returns/multitenantengine"
	"github.com/liamcoop/returns/returns"
	"github.com/liamcoop/returns/rules"
)

type Server struct {
	db             *sql.DB
	manager        *multitenantengine.Manager
	router         *chi.Mux
	requestTimeout time.Duration
}

// NewServer builds the HTTP API over a manager. db is optional and only used
// by the health check.
func NewServer(manager *multitenantengine.Manager, db *sql.DB, requestTimeout time.Duration) *Server {
	s := &Server{
		db:             db,
		manager:        manager,
		requestTimeout: requestTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			// Rule management
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeactivateRule)

			r.Post("/simulate", s.handleSimulate)

			// Returns
			r.Post("/returns", s.handleCreateReturn)
			r.Route("/returns/{returnId}", func(r chi.Router) {
				r.Get("/", s.handleGetReturn)
				r.Post("/evaluate", s.handleEvaluateReturn)
				r.Post("/transition", s.handleTransition)
				r.Get("/transitions", s.handleAllowedTransitions)
				r.Get("/audit", s.handleAudit)
				r.Get("/resolution", s.handleGetResolution)
				r.Post("/resolution/status", s.handleAdvanceResolution)
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs every request and feeds the 4xx/5xx counters
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}
		logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, multitenantengine.ErrTenantNotFound),
		errors.Is(err, rules.ErrRuleNotFound),
		errors.Is(err, returns.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrRuleExists),
		errors.Is(err, returns.ErrReturnExists),
		errors.Is(err, returns.ErrConcurrentUpdate),
		errors.Is(err, returns.ErrResolutionExists),
		errors.Is(err, multitenantengine.ErrNotEvaluable):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrResolutionRequired),
		errors.Is(err, lifecycle.ErrUnexpectedResolution),
		errors.Is(err, lifecycle.ErrInvalidResolutionStatus),
		errors.Is(err, multitenantengine.ErrInvalidRule),
		errors.Is(err, rules.ErrInvalidAction):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal("invalid config", "error", err)
	}

	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		logger.Fatal("invalid log level", "error", err)
	}
	if err := logger.Configure(context.Background(), logger.Options{
		Level:       cfg.LogLevel,
		SampleRate:  cfg.LogSampleRate,
		OTELEnabled: cfg.OTELEnabled,
		ServiceName: cfg.OTELService,
	}); err != nil {
		logger.Warn("falling back to stdout logging", "error", err)
	}

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	manager := multitenantengine.NewManager(
		multitenantengine.NewPostgresTenantStore(db),
		func(tenantID string) rules.RuleStore { return rules.NewPostgresRuleStore(db, tenantID) },
		returns.NewPostgresStore(db),
		rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: cfg.RuleCacheTTL, CleanupInterval: 10 * time.Minute}),
		lifecycle.NewMachine(),
	)

	logger.Info("loading tenants from database")
	if err := manager.LoadAllTenants(context.Background()); err != nil {
		logger.Fatal("failed to load tenants", "error", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewServer(manager, db, cfg.RequestTimeout),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped", "counters", logger.Counters())
	logger.Shutdown(ctx)
}

func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
