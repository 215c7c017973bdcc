package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/suPer8Hu/radiglow/internal/ai"
	"github.com/suPer8Hu/radiglow/internal/chat"
	"github.com/suPer8Hu/radiglow/internal/config"
	"github.com/suPer8Hu/radiglow/internal/db"
	"github.com/suPer8Hu/radiglow/internal/httpapi"
	"github.com/suPer8Hu/radiglow/internal/identity"
	"github.com/suPer8Hu/radiglow/internal/vault"
	"gorm.io/gorm"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Info("no .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "dev-secret-change-me" {
		logger.Warn("JWT_SECRET is the development default")
	}
	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	identityDB := mustOpen(logger, cfg, cfg.IdentityDBDSN, identity.Migrate)
	defer func() { _ = db.Close(identityDB) }()
	chatDB := mustOpen(logger, cfg, cfg.ChatDBDSN, chat.Migrate)
	defer func() { _ = db.Close(chatDB) }()

	users := identity.NewStore(identityDB, cfg.DBBusyTimeout, cfg.BcryptCost)
	chatStore := chat.NewStore(chatDB, cfg.DBBusyTimeout)

	inference := newInferenceClient(cfg, logger)
	svc := chat.NewService(chatStore, vault.NewKeyCache(), inference, users, chat.Options{
		GuestDailyLimit: cfg.GuestDailyLimit,
		MaxTokens:       cfg.ReplyMaxTokens,
		Logger:          logger,
	})

	r := httpapi.NewRouter(cfg, users, svc, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// upstream inference can take up to MEDICAL_API_TIMEOUT
		WriteTimeout: cfg.MedicalAPITimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "db_driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

func mustOpen(logger *slog.Logger, cfg config.Config, dsn string, migrate func(*gorm.DB) error) *gorm.DB {
	gdb, err := db.Connect(db.Options{
		Driver:       cfg.DBDriver,
		DSN:          dsn,
		BusyTimeout:  cfg.DBBusyTimeout,
		MaxOpenConns: cfg.DBMaxOpenConns,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to open database", "dsn", redactDSN(dsn), "error", err)
		os.Exit(1)
	}
	if err := migrate(gdb); err != nil {
		logger.Error("failed to migrate database", "dsn", redactDSN(dsn), "error", err)
		os.Exit(1)
	}
	logger.Info("database ready", "dsn", redactDSN(dsn))
	return gdb
}

// newInferenceClient wires the medical API and the AI_PROVIDER text backend.
// Backends without credentials are left out and the client falls back to
// its demo reply.
func newInferenceClient(cfg config.Config, logger *slog.Logger) *ai.Client {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is not set")
		}
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	labels := map[string]string{"ollama": "Ollama", "openrouter": "OpenRouter"}
	var text ai.Provider
	p, err := reg.Get(context.Background(), cfg.AIProvider, "")
	if err != nil {
		logger.Warn("text provider disabled, replies fall back to demo mode",
			"ai_provider", cfg.AIProvider, "available", reg.Names(), "error", err)
	} else {
		text = p
	}

	var medical *ai.MedicalProvider
	if cfg.MedicalAPIURL != "" && cfg.MedicalAPIKey != "" {
		medical = ai.NewMedicalProvider(cfg.MedicalAPIURL, cfg.MedicalAPIKey, cfg.MedicalAPITimeout)
	} else {
		logger.Info("medical API not configured, image turns use the text provider")
	}
	return ai.NewClient(medical, text, labels[cfg.AIProvider], logger)
}

// redactDSN drops a mysql password; sqlite paths pass through.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	creds := dsn[:at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
