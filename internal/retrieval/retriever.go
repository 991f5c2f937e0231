// Package retrieval fetches medical and cultural context for a masked
// message and ranks it deterministically.
package retrieval

import (
	"context"
	"errors"
	"sort"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/oracle"
)

const (
	DefaultTopK      = 3
	DefaultThreshold = 0.35
)

// Searcher is the retrieval oracle contract. Scores are cosine similarity.
type Searcher interface {
	Search(ctx context.Context, query domain.MaskedText, k int) ([]domain.Passage, error)
}

// TieBreak orders two passages with equal similarity. It returns true when a
// should come first.
type TieBreak func(a, b domain.Passage) bool

var tagPriority = map[domain.PassageTag]int{
	domain.TagMedical:  0,
	domain.TagCultural: 1,
}

func priority(t domain.PassageTag) int {
	if p, ok := tagPriority[t]; ok {
		return p
	}
	return len(tagPriority)
}

// DefaultTieBreak puts medical before cultural, then the more recently
// indexed passage, then the lower ID.
func DefaultTieBreak(a, b domain.Passage) bool {
	if pa, pb := priority(a.Tag), priority(b.Tag); pa != pb {
		return pa < pb
	}
	if a.IndexedAt != b.IndexedAt {
		return a.IndexedAt > b.IndexedAt
	}
	return a.ID < b.ID
}

type Option func(*Retriever)

func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.k = k
		}
	}
}

func WithThreshold(th float64) Option {
	return func(r *Retriever) { r.threshold = th }
}

func WithTieBreak(tb TieBreak) Option {
	return func(r *Retriever) {
		if tb != nil {
			r.tieBreak = tb
		}
	}
}

// Retriever filters and ranks oracle hits.
type Retriever struct {
	searcher  Searcher
	caller    *oracle.Caller
	k         int
	threshold float64
	tieBreak  TieBreak
}

func New(s Searcher, caller *oracle.Caller, opts ...Option) (*Retriever, error) {
	if s == nil {
		return nil, errors.New("retrieval: searcher must not be nil")
	}
	if caller == nil {
		return nil, errors.New("retrieval: oracle caller must not be nil")
	}
	r := &Retriever{
		searcher:  s,
		caller:    caller,
		k:         DefaultTopK,
		threshold: DefaultThreshold,
		tieBreak:  DefaultTieBreak,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns at most k passages scoring at or above the threshold,
// highest first. Nothing above threshold yields an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, text domain.MaskedText) ([]domain.Passage, error) {
	hits, err := oracle.Do(ctx, r.caller, "retrieve", func(ctx context.Context) ([]domain.Passage, error) {
		return r.searcher.Search(ctx, text, r.k)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Passage, 0, len(hits))
	for _, p := range hits {
		if p.Score >= r.threshold {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return r.tieBreak(out[i], out[j])
	})
	if len(out) > r.k {
		out = out[:r.k]
	}
	return out, nil
}

// GroupByTag splits passages by tag, keeping their order.
func GroupByTag(passages []domain.Passage) map[domain.PassageTag][]domain.Passage {
	out := map[domain.PassageTag][]domain.Passage{
		domain.TagMedical:  {},
		domain.TagCultural: {},
	}
	for _, p := range passages {
		out[p.Tag] = append(out[p.Tag], p)
	}
	return out
}
