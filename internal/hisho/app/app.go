// Package app wires Hisho's subsystems together: the session store, the
// Matrix transport, the completion provider, the audit trail, and the
// optional health endpoint.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Hisho/internal/hisho/audit"
	"github.com/bdobrica/Hisho/internal/hisho/bot"
	"github.com/bdobrica/Hisho/internal/hisho/config"
	"github.com/bdobrica/Hisho/internal/hisho/llm"
	"github.com/bdobrica/Hisho/internal/hisho/matrix"
	"github.com/bdobrica/Hisho/internal/hisho/session"
)

// App is the assembled Hisho application.
type App struct {
	cfg          *config.Config
	audit        *audit.Store
	sessions     *session.Store
	matrix       *matrix.Client
	handlers     *bot.Handlers
	healthServer *HealthServer
}

// New builds the application from a validated configuration.
func New(cfg *config.Config) (*App, error) {
	slog.Info("opening audit database", "path", cfg.AuditDB)
	auditStore, err := audit.Open(cfg.AuditDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	slog.Info("opening session store", "dir", cfg.DataDir, "window", cfg.Window())
	sessions, err := session.Open(session.Config{
		Dir:    cfg.DataDir,
		Window: cfg.Window(),
		Logger: slog.Default(),
	})
	if err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	// Inject the audit DB so the Matrix client can persist the sync token
	// across restarts.
	slog.Info("connecting to Matrix", "homeserver", cfg.Matrix.Homeserver)
	matrixClient, err := matrix.New(&matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		AdminRoom:   cfg.Matrix.AdminRoom,
		DB:          auditStore.DB(),
	})
	if err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	provider := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout(),
	})
	slog.Info("completion provider ready", "model", cfg.OpenAI.Model)

	handlers := bot.New(bot.Config{
		Sessions:     sessions,
		Provider:     provider,
		Messenger:    matrixClient,
		Audit:        auditStore,
		AdminRoom:    cfg.Matrix.AdminRoom,
		SystemPrompt: cfg.SystemPrompt,
		Model:        cfg.OpenAI.Model,
		MaxTokens:    cfg.OpenAI.MaxTokens,
		Logger:       slog.Default(),
	})

	var healthServer *HealthServer
	if cfg.HTTPAddr != "" {
		healthServer = NewHealthServer(cfg.HTTPAddr, sessions)
		slog.Info("health server configured", "addr", cfg.HTTPAddr)
	}

	return &App{
		cfg:          cfg,
		audit:        auditStore,
		sessions:     sessions,
		matrix:       matrixClient,
		handlers:     handlers,
		healthServer: healthServer,
	}, nil
}

// Run starts the application and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handlers.HandleMessage, a.handlers.HandleMembership); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	a.matrix.SendNotice(a.cfg.Matrix.AdminRoom,
		"Hisho is up. Reply `approve <id>` / `deny <id>` to access requests, or type !hisho help.")

	total, accepted := a.sessions.Counts()
	slog.Info("Hisho is running; press Ctrl+C to stop",
		"user", a.matrix.GetUserID(), "sessions", total, "accepted", accepted)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop releases the application's resources.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing audit database")
	if err := a.audit.Close(); err != nil {
		slog.Warn("audit database close", "err", err)
	}
}
