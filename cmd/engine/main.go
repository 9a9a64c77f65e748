// Package main is the entry point for the persona messaging engine.
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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/snapconnect/persona-engine/internal/config"
	"github.com/snapconnect/persona-engine/internal/conversation"
	"github.com/snapconnect/persona-engine/internal/events"
	"github.com/snapconnect/persona-engine/internal/generator"
	"github.com/snapconnect/persona-engine/internal/handler"
	"github.com/snapconnect/persona-engine/internal/lifecycle"
	"github.com/snapconnect/persona-engine/internal/listener"
	"github.com/snapconnect/persona-engine/internal/llm"
	"github.com/snapconnect/persona-engine/internal/registry"
	"github.com/snapconnect/persona-engine/internal/retry"
	"github.com/snapconnect/persona-engine/internal/scheduler"
	"github.com/snapconnect/persona-engine/internal/store"
	"github.com/snapconnect/persona-engine/pkg/logger"
	"github.com/snapconnect/persona-engine/pkg/tracing"
)

const listenerDurable = "persona-engine-listener"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting persona messaging engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "persona-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Durable store
	db, err := store.Open(cfg.SQLitePath, log)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// Change stream
	eventsClient, err := events.Connect(ctx, events.Config{
		URL:   cfg.NATSURL,
		Token: cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer eventsClient.Close()

	publisher := events.NewPublisher(eventsClient)
	if err := publisher.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}
	db.SetNotifier(publisher)

	subscription, err := events.Subscribe(ctx, eventsClient, listenerDurable)
	if err != nil {
		log.Error("failed to subscribe to change stream", zap.Error(err))
		os.Exit(1)
	}

	// Generation backend
	llmClient, err := llm.NewClient(llm.Provider(cfg.LLMProvider), apiKeyFor(cfg))
	if err != nil {
		log.Error("failed to create generation client", zap.Error(err))
		os.Exit(1)
	}

	// Core components
	personas := registry.New(db, log)
	unwatch, err := personas.WatchInvalidation(eventsClient.Conn())
	if err != nil {
		log.Warn("registry invalidation watch unavailable", zap.Error(err))
	} else {
		defer unwatch()
	}

	builder := conversation.NewBuilder(db, cfg.ContextWindowSize)
	gen := generator.New(llmClient, cfg.LLMModel, cfg.GenerationTimeout)
	lifecycleMgr := lifecycle.New(db, cfg.HumanMessageExpiry, log)

	policy := retry.Policy{
		MaxAttempts: cfg.GenerationMaxRetries + 1,
		Retryable:   llm.Retryable,
	}

	// One global bound on in-flight generation calls, shared by the
	// reactive and proactive paths.
	semaphore := make(chan struct{}, cfg.MaxConcurrentGenerations)

	inbound := listener.New(listener.Config{
		Stream:       subscription,
		Registry:     personas,
		Builder:      builder,
		Generator:    gen,
		Outbound:     lifecycleMgr,
		Policy:       policy,
		Fallback:     listener.FallbackMode(cfg.GenerationFallback),
		DedupeWindow: cfg.DedupeWindow,
		Semaphore:    semaphore,
		Log:          log,
	})

	outreach := scheduler.New(scheduler.Config{
		Store:     db,
		Registry:  personas,
		Builder:   builder,
		Generator: gen,
		Outbound:  lifecycleMgr,
		Policy:    policy,
		Triggers: []scheduler.Trigger{
			scheduler.NewCheckInTrigger(db),
			scheduler.NewInactivityTrigger(db, cfg.InactivityWindow),
		},
		Interval:       cfg.OutreachTickInterval,
		Cooldown:       cfg.OutreachCooldownWindow,
		CooldownGlobal: cfg.OutreachCooldownGlobal,
		Semaphore:      semaphore,
		Log:            log,
	})

	// Background tasks
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := inbound.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("listener stopped unexpectedly", zap.Error(err))
		}
	}()

	go lifecycleMgr.RunPurge(ctx, cfg.PurgeInterval)

	if err := outreach.Start(ctx); err != nil {
		log.Error("failed to start scheduler", zap.Error(err))
		os.Exit(1)
	}

	// Ops surface
	healthHandler := handler.NewHealthHandler(eventsClient, db)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("ops server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	outreach.Stop()
	cancel()
	<-listenerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server forced to shutdown", zap.Error(err))
	}

	log.Info("engine stopped")
}

func apiKeyFor(cfg *config.Config) string {
	if llm.Provider(cfg.LLMProvider) == llm.ProviderAnthropic {
		return cfg.AnthropicAPIKey
	}
	return cfg.OpenAIAPIKey
}
