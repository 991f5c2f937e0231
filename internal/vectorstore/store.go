// Package vectorstore is the retrieval oracle: two chromem-go collections
// (medical and cultural) searched by cosine similarity.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"

	"medical-interpreter/internal/domain"
)

const (
	metaTag       = "tag"
	metaIndexedAt = "indexed_at"
)

// Tags lists the collections in tag priority order.
var Tags = []domain.PassageTag{domain.TagMedical, domain.TagCultural}

// Document is a corpus chunk to index.
type Document struct {
	ID        string
	Text      string
	IndexedAt int64
}

// Store wraps a chromem DB holding one collection per passage tag.
type Store struct {
	mu    sync.RWMutex
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// New creates an in-memory store. Snapshots are loaded with ImportFile.
func New(embed chromem.EmbeddingFunc) (*Store, error) {
	if embed == nil {
		return nil, errors.New("vectorstore: embedding func must not be nil")
	}
	return &Store{db: chromem.NewDB(), embed: embed}, nil
}

// Open creates a store persisted under dir.
func Open(dir string, embed chromem.EmbeddingFunc) (*Store, error) {
	if embed == nil {
		return nil, errors.New("vectorstore: embedding func must not be nil")
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %q: %w", dir, err)
	}
	return &Store{db: db, embed: embed}, nil
}

func (s *Store) collection(tag domain.PassageTag) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(string(tag), nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: collection %q: %w", tag, err)
	}
	return col, nil
}

// Index embeds and adds docs to the collection for tag.
func (s *Store) Index(ctx context.Context, tag domain.PassageTag, docs []Document, concurrency int) error {
	if len(docs) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(tag)
	if err != nil {
		return err
	}
	chunks := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		chunks = append(chunks, chromem.Document{
			ID:      d.ID,
			Content: d.Text,
			Metadata: map[string]string{
				metaTag:       string(tag),
				metaIndexedAt: strconv.FormatInt(d.IndexedAt, 10),
			},
		})
	}
	if err := col.AddDocuments(ctx, chunks, concurrency); err != nil {
		return fmt.Errorf("vectorstore: index %q: %w", tag, err)
	}
	return nil
}

// Count returns the number of documents indexed under tag.
func (s *Store) Count(tag domain.PassageTag) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.db.GetCollection(string(tag), s.embed)
	if col == nil {
		return 0
	}
	return col.Count()
}

// Search embeds query once and returns up to k hits from each collection.
// Results are unordered; ranking belongs to the caller.
func (s *Store) Search(ctx context.Context, query domain.MaskedText, k int) ([]domain.Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	vec, err := s.embed(ctx, string(query))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embed query: %w", err)
	}

	hits := make([][]domain.Passage, len(Tags))
	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range Tags {
		col := s.db.GetCollection(string(tag), s.embed)
		if col == nil {
			continue
		}
		g.Go(func() error {
			n := min(k, col.Count())
			if n == 0 {
				return nil
			}
			res, err := col.QueryEmbedding(gctx, vec, n, nil, nil)
			if err != nil {
				return fmt.Errorf("vectorstore: query %q: %w", tag, err)
			}
			hits[i] = toPassages(tag, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.Passage
	for _, h := range hits {
		out = append(out, h...)
	}
	return out, nil
}

func toPassages(tag domain.PassageTag, res []chromem.Result) []domain.Passage {
	out := make([]domain.Passage, 0, len(res))
	for _, r := range res {
		indexedAt, _ := strconv.ParseInt(r.Metadata[metaIndexedAt], 10, 64)
		out = append(out, domain.Passage{
			ID:        r.ID,
			Text:      r.Content,
			Score:     float64(r.Similarity),
			Tag:       tag,
			IndexedAt: indexedAt,
		})
	}
	return out
}

// ExportFile writes every collection to a gzip snapshot at path.
func (s *Store) ExportFile(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.db.ExportToFile(path, true, ""); err != nil {
		return fmt.Errorf("vectorstore: export: %w", err)
	}
	return nil
}

// ImportFile replaces the in-memory collections with the snapshot at path.
func (s *Store) ImportFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("vectorstore: import: %w", err)
	}
	return nil
}
