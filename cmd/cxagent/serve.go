package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/agent"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/analysis"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/api"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/channel"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/config"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/handoff"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/identity"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/insight"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/knowledge"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/middleware"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/profile"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/prompts"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/routing"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/session"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/telemetry"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/tone"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/tools"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

// openStore opens the database and checks it is reachable.
func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)
	return repo, nil
}

// newScorer picks the remote analysis service when configured and falls
// back to prompting the analysis model. The returned func releases it.
func newScorer(ctx context.Context, cfg *config.Config, client *llm.Client, logger *slog.Logger) (analysis.Scorer, func(), error) {
	if cfg.Analysis.GRPCAddr != "" {
		slog.Info("Connecting to analysis service via gRPC", "address", cfg.Analysis.GRPCAddr)
		remote, err := analysis.NewGRPCScorer(ctx, cfg.Analysis.GRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return remote, remote.Close, nil
	}
	return analysis.NewLLMScorer(client.WithModel(cfg.Analysis.Model)), func() {}, nil
}

func newLLMClient(cfg *config.Config, logger *slog.Logger) *llm.Client {
	return llm.NewClient(llm.ClientConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, logger)
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "role", cfg.Agent.Role)

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	client := newLLMClient(cfg, logger)
	scorer, closeScorer, err := newScorer(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	defer closeScorer()

	catalog, err := prompts.Load(cfg.Agent.PromptsFile, logger)
	if err != nil {
		return err
	}
	defaultTone := cfg.Agent.DefaultTone
	if !catalog.Has(defaultTone) {
		slog.Warn("Configured default tone not in prompts, using catalogue default",
			"tone", defaultTone, "fallback", catalog.DefaultTone)
		defaultTone = catalog.DefaultTone
	}

	kb, err := knowledge.LoadDir(cfg.Agent.KnowledgeDir, logger)
	if err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}

	role, ok := tools.ParseRole(cfg.Agent.Role)
	if !ok {
		return fmt.Errorf("unknown agent role %q", cfg.Agent.Role)
	}
	executor := tools.NewExecutor(role, tools.Builtin(repo, kb)...)

	inst, err := telemetry.New()
	if err != nil {
		return fmt.Errorf("create telemetry instruments: %w", err)
	}

	profiles := profile.NewAggregator(repo, logger)
	pipeline := insight.NewPipeline(scorer, repo, profiles, cfg.Session.ClosingPhrases, inst, logger)

	hub := channel.NewHub(logger)
	sinks := []handoff.Sink{hub}
	if cfg.Slack.BotToken != "" {
		slackSink, err := handoff.NewSlackSink(cfg.Slack.BotToken, cfg.Slack.ChannelID, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, slackSink)
		slog.Info("Slack handoff notifications enabled", "channel", cfg.Slack.ChannelID)
	}
	var mqttSink *handoff.MQTTSink
	if cfg.MQTT.Broker != "" {
		mqttSink, err = handoff.NewMQTTSink(ctx, handoff.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		}, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, mqttSink)
	}
	dispatcher := handoff.NewDispatcher(cfg.Handoff.QueueSize, logger, sinks...)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}

	analysisModel := client.WithModel(cfg.Analysis.Model)
	var router agent.Classifier
	if cfg.Agent.IntentRouting {
		router = routing.NewRouter(analysisModel, logger)
		slog.Info("Intent routing enabled", "model", cfg.Analysis.Model, "min_confidence", routing.MinConfidence)
	}

	loop := agent.New(agent.Options{
		Model:      client,
		Tools:      executor,
		Detector:   handoff.NewDetector(cfg.Agent.MaxIterations, cfg.Handoff.GroundingCheck),
		Tones:      tone.NewEngine(defaultTone, nil),
		Prompts:    catalog,
		Router:     router,
		RetryDelay: cfg.LLM.RetryDelay,
		Telemetry:  inst,
		Logger:     logger,
	})
	svc := agent.NewService(agent.ServiceDeps{
		Agent:           loop,
		Sessions:        session.NewManager(logger),
		Finalizer:       pipeline,
		Insights:        repo,
		Profiles:        profiles,
		Queue:           handoff.NewQueue(),
		Dispatcher:      dispatcher,
		Customers:       hub,
		ConversationLog: conversationLogger,
		CloseTimeout:    cfg.Session.CloseTimeout,
		Telemetry:       inst,
		Logger:          logger,
	})

	reaper := session.NewReaper(svc.Sessions(), cfg.Session.IdleTTL, cfg.Session.CloseTimeout,
		func(ctx context.Context, id string) error {
			_, err := svc.CloseSession(ctx, id)
			return err
		}, logger)
	if err := reaper.Start(ctx, cfg.Session.ReapSchedule); err != nil {
		return err
	}
	slog.Info("Session reaper started", "idle_ttl", cfg.Session.IdleTTL, "schedule", cfg.Session.ReapSchedule)

	limiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins, identity.SessionHeaderName))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	api.NewHealthHandler(repo).RegisterHealth(r)
	copilot := analysis.NewCopilot(analysisModel, scorer, svc, repo, logger)
	api.NewHandler(svc, limiter, logger).WithCopilot(copilot).RegisterRoutes(r)
	channel.NewHandler(hub, svc, cfg.CORSOrigins, cfg.IsDevelopment(), logger).RegisterRoutes(r)

	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.CloseTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	hub.CloseAll()
	if err := svc.Close(shutdownCtx); err != nil {
		slog.Error("Failed to close conversation log", "error", err)
	}
	dispatcher.Close()
	if mqttSink != nil {
		if err := mqttSink.Close(shutdownCtx); err != nil {
			slog.Warn("Failed to disconnect from MQTT broker", "error", err)
		}
	}

	slog.Info("Server stopped successfully")
	return nil
}
