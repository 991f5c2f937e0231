// Command local serves the interpreter over plain HTTP with a bbolt session
// store and an on-disk vector store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"medical-interpreter/handler"
	"medical-interpreter/internal/app"
	"medical-interpreter/internal/config"
	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/integrations/openai"
	"medical-interpreter/internal/repository"
	"medical-interpreter/internal/vectorstore"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "err", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	defaults := app.DefaultTuning()
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("TRANSLATION_MODEL", "gpt-4o-mini")
	v.SetDefault("EMBEDDING_MODEL", config.DefaultEmbeddingModel)
	v.SetDefault("MAX_REFLECTION_ROUNDS", defaults.MaxReflectionRounds)
	v.SetDefault("RETRIEVAL_TOP_K", defaults.TopK)
	v.SetDefault("SIMILARITY_THRESHOLD", defaults.Threshold)
	v.SetDefault("ORACLE_TIMEOUT_MS", defaults.OracleTimeout.Milliseconds())
	v.SetDefault("ORACLE_MAX_RETRIES", defaults.OracleMaxRetries)
	v.SetDefault("MAX_MESSAGE_LENGTH", defaults.MaxMessageLength)
	v.SetDefault("USE_MODERATION", defaults.UseModeration)
	v.SetDefault("USE_SECURITY_JUDGE", defaults.UseSecurityJudge)
	v.SetDefault("LOG_LEVEL", "debug")

	var level slog.Level
	_ = level.UnmarshalText([]byte(v.GetString("LOG_LEVEL")))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(v, logger); err != nil {
		logger.Error("local server stopped", "err", err)
		os.Exit(1)
	}
}

func run(v *viper.Viper, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey := v.GetString("OPENAI_API_KEY")
	if apiKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	dataDir := v.GetString("DATA_DIR")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	settings := config.Static{
		TranslationModel: v.GetString("TRANSLATION_MODEL"),
		CritiqueModel:    v.GetString("CRITIQUE_MODEL"),
		EmbeddingModel:   v.GetString("EMBEDDING_MODEL"),
		Rubric:           v.GetString("CRITIQUE_RUBRIC"),
		RefusalMessage:   v.GetString("REFUSAL_MESSAGE"),
	}
	oa, err := openai.NewClient(nil, "", openai.WithAPIKey(apiKey), openai.WithBaseURL(v.GetString("OPENAI_BASE_URL")))
	if err != nil {
		return err
	}

	store, err := repository.OpenBolt(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	vectors, err := vectorstore.Open(filepath.Join(dataDir, "vectors"), oa.EmbeddingFunc(settings.EmbeddingModel))
	if err != nil {
		return err
	}

	tuning := app.Tuning{
		MaxReflectionRounds: v.GetInt("MAX_REFLECTION_ROUNDS"),
		TopK:                v.GetInt("RETRIEVAL_TOP_K"),
		Threshold:           v.GetFloat64("SIMILARITY_THRESHOLD"),
		OracleTimeout:       time.Duration(v.GetInt64("ORACLE_TIMEOUT_MS")) * time.Millisecond,
		OracleMaxRetries:    v.GetInt("ORACLE_MAX_RETRIES"),
		MaxMessageLength:    v.GetInt("MAX_MESSAGE_LENGTH"),
		UseModeration:       v.GetBool("USE_MODERATION"),
		UseSecurityJudge:    v.GetBool("USE_SECURITY_JUDGE"),
	}
	coordinator, err := app.NewCoordinator(settings, oa, vectors, store, tuning, logger)
	if err != nil {
		return err
	}
	h, err := handler.NewHandler(coordinator)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              v.GetString("LISTEN_ADDR"),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "medical_passages", vectors.Count(domain.TagMedical), "cultural_passages", vectors.Count(domain.TagCultural))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
