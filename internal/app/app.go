// Package app assembles the interpreter from its parts. Entrypoints read
// the environment and hand the result to NewCoordinator.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medical-interpreter/internal/config"
	"medical-interpreter/internal/intent"
	"medical-interpreter/internal/memory"
	"medical-interpreter/internal/oracle"
	"medical-interpreter/internal/pii"
	"medical-interpreter/internal/pipeline"
	"medical-interpreter/internal/retrieval"
	"medical-interpreter/internal/safety"
	"medical-interpreter/internal/translate"
)

// Tuning holds the per-deployment knobs read from the environment.
type Tuning struct {
	MaxReflectionRounds int
	TopK                int
	Threshold           float64
	OracleTimeout       time.Duration
	OracleMaxRetries    int
	MaxMessageLength    int
	UseModeration       bool
	// UseSecurityJudge adds an oracle security verdict after moderation.
	UseSecurityJudge    bool
}

func DefaultTuning() Tuning {
	p := oracle.DefaultPolicy()
	return Tuning{
		MaxReflectionRounds: translate.DefaultMaxRounds,
		TopK:                retrieval.DefaultTopK,
		Threshold:           retrieval.DefaultThreshold,
		OracleTimeout:       p.Timeout,
		OracleMaxRetries:    p.MaxRetries,
		MaxMessageLength:    pipeline.DefaultMaxMessageLength,
		UseModeration:       true,
	}
}

// Oracle is the reasoning and moderation backend.
type Oracle interface {
	translate.Reasoner
	safety.Moderator
}

// Store persists sessions, turns and refusal events.
type Store interface {
	memory.Store
	pipeline.SessionStore
}

// NewCoordinator wires every pipeline stage.
func NewCoordinator(settings config.Source, o Oracle, searcher retrieval.Searcher, store Store, t Tuning, logger *slog.Logger) (*pipeline.Coordinator, error) {
	if o == nil {
		return nil, errors.New("app: oracle must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	caller := oracle.NewCaller(oracle.Policy{
		Timeout:    t.OracleTimeout,
		MaxRetries: t.OracleMaxRetries,
	}, logger)

	mem, err := memory.New(store)
	if err != nil {
		return nil, err
	}
	retriever, err := retrieval.New(searcher, caller, retrieval.WithTopK(t.TopK), retrieval.WithThreshold(t.Threshold))
	if err != nil {
		return nil, fmt.Errorf("app: retriever: %w", err)
	}
	reflector, err := translate.NewReflector(o, caller, t.MaxReflectionRounds)
	if err != nil {
		return nil, fmt.Errorf("app: reflector: %w", err)
	}
	narrator, err := pipeline.NewNarrator(o, caller)
	if err != nil {
		return nil, err
	}

	var moderator safety.Moderator
	if t.UseModeration {
		moderator = o
	}
	screener := safety.NewScreener(moderator, caller)
	if t.UseSecurityJudge {
		judge, err := safety.NewJudge(o, func(ctx context.Context) (string, error) {
			s, err := settings.Settings(ctx)
			if err != nil {
				return "", err
			}
			return s.CritiqueModel, nil
		})
		if err != nil {
			return nil, err
		}
		screener.WithJudge(judge)
	}

	return pipeline.New(pipeline.Deps{
		Settings:         settings,
		Masker:           pii.New(pii.NewCueRecognizer()),
		Classifier:       intent.New(),
		Screener:         screener,
		Retriever:        retriever,
		Translator:       reflector,
		Memory:           mem,
		Sessions:         store,
		Narrator:         narrator,
		Logger:           logger,
		MaxMessageLength: t.MaxMessageLength,
	})
}
