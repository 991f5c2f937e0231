// Package memory is the session memory: an append-only message log plus a
// rolling summary, with one active turn per session.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"medical-interpreter/internal/domain"
)

// Store is the persistence contract. SaveTurn appends msg and overwrites the
// summary atomically; it fails with domain.ErrTurnConflict when msg.TurnIndex
// is not the session's next index.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	GetSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error)
	SaveTurn(ctx context.Context, msg domain.Message, summary domain.SessionSummary) error
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// Memory serializes turns per session and owns the summary fold.
type Memory struct {
	store Store

	mu    sync.Mutex
	locks map[string]*lockEntry
}

func New(store Store) (*Memory, error) {
	if store == nil {
		return nil, errors.New("memory: store must not be nil")
	}
	return &Memory{store: store, locks: make(map[string]*lockEntry)}, nil
}

// Lock blocks until the caller holds the session's turn lock or ctx ends.
// The returned func releases it.
func (m *Memory) Lock(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[sessionID]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		m.locks[sessionID] = e
	}
	e.refs++
	m.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.release(sessionID, e, false)
		return nil, fmt.Errorf("memory: lock session: %w", err)
	}
	var once sync.Once
	return func() { once.Do(func() { m.release(sessionID, e, true) }) }, nil
}

func (m *Memory) release(sessionID string, e *lockEntry, held bool) {
	if held {
		e.sem.Release(1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, sessionID)
	}
}

// GetSummary returns the session summary; a session with no turns has an
// empty one.
func (m *Memory) GetSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	s, err := m.store.GetSummary(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("memory: get summary: %w", err)
	}
	s.SessionID = sessionID
	return s, nil
}

// History returns the message log in turn order.
func (m *Memory) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	msgs, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("memory: list messages: %w", err)
	}
	return msgs, nil
}

// Append commits msg: it folds msg into the previous summary and persists
// both in one write. This is the turn's commit point. The caller must hold
// the session lock.
func (m *Memory) Append(ctx context.Context, msg domain.Message, prev domain.SessionSummary) (domain.SessionSummary, error) {
	next := UpdateSummary(prev, msg)
	if err := m.store.SaveTurn(ctx, msg, next); err != nil {
		return domain.SessionSummary{}, fmt.Errorf("memory: save turn: %w", err)
	}
	return next, nil
}
