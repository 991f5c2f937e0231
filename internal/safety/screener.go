// Package safety screens masked messages before any retrieval or translation
// work. Local heuristics run first, then the optional moderation oracle and
// the optional security judgement.
package safety

import (
	"context"
	"fmt"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/oracle"
)

// Verdict is the screener's decision.
type Verdict string

const (
	VerdictSafe   Verdict = "safe"
	VerdictUnsafe Verdict = "unsafe"
)

// Result is the outcome of Screen.
type Result struct {
	Verdict Verdict
	Reason  Reason
}

// Safe reports whether the turn may continue.
func (r Result) Safe() bool { return r.Verdict == VerdictSafe }

// Moderator is a content moderation oracle. It only ever receives masked text.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// Screener combines the heuristic groups with an optional Moderator.
type Screener struct {
	moderator Moderator
	judge     Moderator
	caller    *oracle.Caller
}

// NewScreener returns a Screener. A nil moderator disables the oracle check;
// a nil caller calls the moderator once with no timeout or retry.
func NewScreener(m Moderator, caller *oracle.Caller) *Screener {
	return &Screener{moderator: m, caller: caller}
}

// WithJudge adds a second oracle check that runs after the moderator. Its
// refusals carry ReasonSecurityJudgement.
func (s *Screener) WithJudge(j Moderator) *Screener {
	s.judge = j
	return s
}

// Screen returns an unsafe verdict when a heuristic matches, when the intent
// classifier already labelled the text unsafe, or when the moderator flags
// it. A moderator failure is returned as an error.
func (s *Screener) Screen(ctx context.Context, text domain.MaskedText, label domain.Intent) (Result, error) {
	if reason, hit := Match(string(text)); hit {
		return Result{Verdict: VerdictUnsafe, Reason: reason}, nil
	}
	if label == domain.IntentUnsafe {
		return Result{Verdict: VerdictUnsafe, Reason: ReasonIntentUnsafe}, nil
	}
	checks := []struct {
		op     string
		label  string
		m      Moderator
		reason Reason
	}{
		{"moderate", "moderation", s.moderator, ReasonModerationFlagged},
		{"judge", "security judgement", s.judge, ReasonSecurityJudgement},
	}
	for _, c := range checks {
		if c.m == nil {
			continue
		}
		flagged, err := s.call(ctx, c.op, c.m, text)
		if err != nil {
			return Result{}, fmt.Errorf("safety: %s: %w", c.label, err)
		}
		if flagged {
			return Result{Verdict: VerdictUnsafe, Reason: c.reason}, nil
		}
	}
	return Result{Verdict: VerdictSafe}, nil
}

func (s *Screener) call(ctx context.Context, op string, m Moderator, text domain.MaskedText) (bool, error) {
	if s.caller == nil {
		return m.Moderate(ctx, string(text))
	}
	return oracle.Do(ctx, s.caller, op, func(ctx context.Context) (bool, error) {
		return m.Moderate(ctx, string(text))
	})
}
