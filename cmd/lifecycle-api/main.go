// Package main provides the lifecycle API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/api/handlers"
	"github.com/careloop/rx-engine/internal/api/middleware"
	"github.com/careloop/rx-engine/internal/config"
	"github.com/careloop/rx-engine/internal/domain/prescription"
	"github.com/careloop/rx-engine/internal/domain/treatmentplan"
	"github.com/careloop/rx-engine/internal/intake"
	"github.com/careloop/rx-engine/internal/knowledge"
	"github.com/careloop/rx-engine/internal/lifecycle"
	"github.com/careloop/rx-engine/internal/notify"
	"github.com/careloop/rx-engine/internal/observability/metrics"
	"github.com/careloop/rx-engine/internal/observability/tracing"
	"github.com/careloop/rx-engine/internal/safety"
	"github.com/careloop/rx-engine/pkg/circuitbreaker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, "lifecycle-api", cfg)
	if err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("invalid database url", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)

	knowledgeCfg := knowledge.Config{
		InteractionBaseURL: cfg.InteractionAPIURL,
		PatientBaseURL:     cfg.PatientAPIURL,
		APIKey:             cfg.KnowledgeAPIKey,
	}
	var interactionSource safety.InteractionSource
	if cfg.InteractionAPIURL != "" {
		interactionSource = knowledge.NewInteractionClient(knowledgeCfg, breakers, logger)
	}
	var patientSource safety.PatientDataSource
	if cfg.PatientAPIURL != "" {
		patientSource = knowledge.NewPatientClient(knowledgeCfg, breakers, logger)
	}

	repo := prescription.NewRepository(pool, logger)
	planRepo := treatmentplan.NewRepository(pool, logger)
	planner := treatmentplan.NewService(
		treatmentplan.NewGenerator(cfg.RefillLeadDays, logger), planRepo, logger)

	notifier := notify.NewOutboxNotifier(pool, logger)
	auditor := notify.NewOutboxAuditor(pool, logger)

	validator := lifecycle.NewValidator(repo,
		safety.NewInteractionChecker(interactionSource, logger),
		safety.NewAllergyChecker(patientSource, logger),
		safety.NewContraindicationChecker(patientSource, logger),
		m, logger)
	gate := lifecycle.NewGate(cfg.LowConfidenceThreshold, logger)
	service := lifecycle.NewService(repo, gate, planner, notifier, auditor, cfg.MinReasonLength, m, logger)

	handler := handlers.NewPrescriptionHandler(
		repo, validator, service, intake.NewParser(logger), cfg.ReviewThreshold, m, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("lifecycle-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if keys := cfg.APIKeyMap(); len(keys) > 0 {
			r.Use(middleware.APIKeyAuth(keys))
		} else {
			logger.Warn("API_KEYS not set, serving unauthenticated")
		}
		r.Mount("/prescriptions", handler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting lifecycle API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"lifecycle-api","version":"1.0.0"}`)
}
