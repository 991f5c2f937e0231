// Command ingest chunks the medical and cultural corpora, embeds them and
// publishes a vector snapshot for the interpreter to load at cold start.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tmc/langchaingo/textsplitter"

	settings "medical-interpreter/internal/config"
	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/integrations/openai"
	"medical-interpreter/internal/integrations/paramstore"
	"medical-interpreter/internal/vectorstore"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "err", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := newRootCmd(viper.New(), logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ingest",
		Short:         "Embed the reference corpora into a vector snapshot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, v, logger); err != nil {
				logger.Error("ingest failed", "err", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("medical", "", "JSONL file of medical reference records")
	f.String("cultural", "", "JSONL file of cultural reference records")
	f.String("bucket", "", "S3 bucket for the snapshot")
	f.String("key", "", "S3 key for the snapshot")
	f.String("out", "", "write the snapshot to a local file")
	f.String("param-prefix", "", "SSM prefix holding the OpenAI token")
	f.String("base-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("embedding-model", settings.DefaultEmbeddingModel, "embedding model")
	f.Int("chunk-size", 600, "chunk size in characters")
	f.Int("chunk-overlap", 100, "chunk overlap in characters")
	f.Int("concurrency", 4, "parallel embedding requests")

	_ = v.BindPFlags(f)
	_ = v.BindEnv("bucket", "VECTOR_BUCKET")
	_ = v.BindEnv("key", "VECTOR_KEY")
	_ = v.BindEnv("param-prefix", "PARAM_PREFIX")
	_ = v.BindEnv("base-url", "OPENAI_BASE_URL")
	_ = v.BindEnv("embedding-model", "EMBEDDING_MODEL")
	_ = v.BindEnv("api-key", "OPENAI_API_KEY")
	return cmd
}

func run(ctx context.Context, v *viper.Viper, logger *slog.Logger) error {
	medical, cultural := v.GetString("medical"), v.GetString("cultural")
	if medical == "" && cultural == "" {
		return errors.New("at least one of --medical or --cultural is required")
	}
	bucket, key, out := v.GetString("bucket"), v.GetString("key"), v.GetString("out")
	if out == "" && (bucket == "" || key == "") {
		return errors.New("either --out or both --bucket and --key are required")
	}
	size, overlap := v.GetInt("chunk-size"), v.GetInt("chunk-overlap")
	if size <= 0 || overlap < 0 || overlap >= size {
		return fmt.Errorf("invalid chunking: size=%d overlap=%d", size, overlap)
	}

	var (
		awsCfg    aws.Config
		clientOpt = []openai.Option{openai.WithBaseURL(v.GetString("base-url"))}
		getter    openai.Getter
	)
	prefix := v.GetString("param-prefix")
	if prefix != "" || bucket != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = cfg
	}
	if prefix != "" {
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return err
		}
		getter = ps
	} else {
		apiKey := v.GetString("api-key")
		if apiKey == "" {
			return errors.New("OPENAI_API_KEY is required without --param-prefix")
		}
		clientOpt = append(clientOpt, openai.WithAPIKey(apiKey))
	}
	client, err := openai.NewClient(getter, prefix, clientOpt...)
	if err != nil {
		return err
	}

	store, err := vectorstore.New(client.EmbeddingFunc(v.GetString("embedding-model")))
	if err != nil {
		return err
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
	conc := v.GetInt("concurrency")
	for _, src := range []struct {
		tag  domain.PassageTag
		path string
	}{
		{domain.TagMedical, medical},
		{domain.TagCultural, cultural},
	} {
		if src.path == "" {
			continue
		}
		n, err := ingestFile(ctx, store, src.tag, src.path, splitter, conc)
		if err != nil {
			return fmt.Errorf("%s corpus: %w", src.tag, err)
		}
		logger.Info("corpus indexed", "tag", src.tag, "path", src.path, "chunks", n)
	}

	if out != "" {
		if err := store.ExportFile(out); err != nil {
			return err
		}
		logger.Info("snapshot written", "path", out)
	}
	if bucket != "" && key != "" {
		snap, err := vectorstore.NewSnapshot(awss3.NewFromConfig(awsCfg), bucket, key)
		if err != nil {
			return err
		}
		if err := snap.Save(ctx, store); err != nil {
			return err
		}
		logger.Info("snapshot uploaded", "bucket", bucket, "key", key)
	}
	return nil
}

func ingestFile(ctx context.Context, store *vectorstore.Store, tag domain.PassageTag, path string, splitter textsplitter.TextSplitter, concurrency int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	docs, err := readCorpus(f, splitter)
	if err != nil {
		return 0, err
	}
	if err := store.Index(ctx, tag, docs, concurrency); err != nil {
		return 0, err
	}
	return len(docs), nil
}
