// Package config resolves the runtime model settings for the interpreter.
//
// Settings live in SSM under <prefix>/config/ and are read once per process.
// A failed load is not cached, so the next turn retries.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultEmbeddingModel embeds corpus chunks and queries when no model is
// configured. Queries and corpus must use the same model.
const DefaultEmbeddingModel = "text-embedding-3-small"

// DefaultRefusalMessage is shown to a sender whose message was refused.
const DefaultRefusalMessage = "This message could not be translated because it was flagged by the safety check. Please rephrase and try again."

const (
	keyTranslationModel = "translation_model"
	keyCritiqueModel    = "critique_model"
	keyEmbeddingModel   = "embedding_model"
	keyCritiqueRubric   = "critique_rubric"
	keyRefusalMessage   = "refusal_message"
)

// Settings are the model and prompt knobs resolved at runtime.
type Settings struct {
	TranslationModel string
	CritiqueModel    string
	EmbeddingModel   string
	Rubric           string
	RefusalMessage   string
}

// Source resolves Settings for a turn.
type Source interface {
	Settings(ctx context.Context) (Settings, error)
}

// PathReader reads every parameter below a path, keyed by relative name.
type PathReader interface {
	GetParametersByPath(ctx context.Context, path string) (map[string]string, error)
}

// Loader is a Source backed by SSM.
type Loader struct {
	params PathReader
	path   string

	mu       sync.RWMutex
	loaded   bool
	settings Settings
}

func NewLoader(p PathReader, paramPrefix string) (*Loader, error) {
	if p == nil {
		return nil, errors.New("config: path reader must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("config: parameter prefix must not be empty")
	}
	return &Loader{params: p, path: paramPrefix + "/config"}, nil
}

func (l *Loader) Settings(ctx context.Context) (Settings, error) {
	l.mu.RLock()
	if l.loaded {
		s := l.settings
		l.mu.RUnlock()
		return s, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.settings, nil
	}

	raw, err := l.params.GetParametersByPath(ctx, l.path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: load %s: %w", l.path, err)
	}
	s, err := fromMap(raw)
	if err != nil {
		return Settings{}, err
	}
	l.settings = s
	l.loaded = true
	return s, nil
}

func fromMap(raw map[string]string) (Settings, error) {
	get := func(k string) string { return strings.TrimSpace(raw[k]) }
	s := Settings{
		TranslationModel: get(keyTranslationModel),
		CritiqueModel:    get(keyCritiqueModel),
		EmbeddingModel:   get(keyEmbeddingModel),
		Rubric:           get(keyCritiqueRubric),
		RefusalMessage:   get(keyRefusalMessage),
	}
	if s.TranslationModel == "" {
		return Settings{}, fmt.Errorf("config: %s is required", keyTranslationModel)
	}
	return s.withDefaults(), nil
}

func (s Settings) withDefaults() Settings {
	if s.CritiqueModel == "" {
		s.CritiqueModel = s.TranslationModel
	}
	if s.EmbeddingModel == "" {
		s.EmbeddingModel = DefaultEmbeddingModel
	}
	if s.RefusalMessage == "" {
		s.RefusalMessage = DefaultRefusalMessage
	}
	return s
}

// Static is a fixed Source for local runs and tests.
type Static Settings

func (s Static) Settings(context.Context) (Settings, error) {
	if strings.TrimSpace(s.TranslationModel) == "" {
		return Settings{}, fmt.Errorf("config: %s is required", keyTranslationModel)
	}
	return Settings(s).withDefaults(), nil
}
