package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"medical-interpreter/handler"
	"medical-interpreter/internal/app"
	settings "medical-interpreter/internal/config"
	"medical-interpreter/internal/integrations/openai"
	"medical-interpreter/internal/integrations/paramstore"
	"medical-interpreter/internal/repository"
	"medical-interpreter/internal/vectorstore"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: envLevel("LOG_LEVEL")}))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	vectorBucket := mustEnv("VECTOR_BUCKET")
	vectorKey := mustEnv("VECTOR_KEY")

	tuning := app.DefaultTuning()
	tuning.MaxReflectionRounds = envInt("MAX_REFLECTION_ROUNDS", tuning.MaxReflectionRounds)
	tuning.TopK = envInt("RETRIEVAL_TOP_K", tuning.TopK)
	tuning.Threshold = envFloat("SIMILARITY_THRESHOLD", tuning.Threshold)
	tuning.OracleTimeout = time.Duration(envInt("ORACLE_TIMEOUT_MS", int(tuning.OracleTimeout/time.Millisecond))) * time.Millisecond
	tuning.OracleMaxRetries = envInt("ORACLE_MAX_RETRIES", tuning.OracleMaxRetries)
	tuning.MaxMessageLength = envInt("MAX_MESSAGE_LENGTH", tuning.MaxMessageLength)
	tuning.UseModeration = envBool("USE_MODERATION", tuning.UseModeration)
	tuning.UseSecurityJudge = envBool("USE_SECURITY_JUDGE", tuning.UseSecurityJudge)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	loader, err := settings.NewLoader(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create settings loader", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Vector store (cold start) ----
	s, err := loader.Settings(ctx)
	if err != nil {
		slog.Error("failed to load settings", "err", err)
		os.Exit(1)
	}
	vectors, err := vectorstore.New(openaiClient.EmbeddingFunc(s.EmbeddingModel))
	if err != nil {
		slog.Error("failed to create vector store", "err", err)
		os.Exit(1)
	}
	snapshot, err := vectorstore.NewSnapshot(awss3.NewFromConfig(cfg), vectorBucket, vectorKey)
	if err != nil {
		slog.Error("failed to create snapshot client", "err", err)
		os.Exit(1)
	}
	if err := snapshot.Load(ctx, vectors); err != nil {
		slog.Error("failed to load vector snapshot", "err", err, "bucket", vectorBucket, "key", vectorKey)
		os.Exit(1)
	}

	// ---- Handler ----
	coordinator, err := app.NewCoordinator(loader, openaiClient, vectors, stateClient, tuning, logger)
	if err != nil {
		slog.Error("failed to create coordinator", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(coordinator)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envLevel(key string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv(key))); err != nil {
		return slog.LevelInfo
	}
	return l
}
