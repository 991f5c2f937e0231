// Package translate produces translations through a bounded
// generate-critique-regenerate loop.
//
// With max rounds M the loop issues at most M+1 generation calls and at most
// M oracle critique calls. Every candidate is checked by local rules first;
// the oracle critique runs only for rounds before M on candidates that pass
// the rules. The final candidate is judged by rules alone.
package translate

import (
	"context"
	"errors"
	"strings"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/oracle"
)

const DefaultMaxRounds = 2

// ErrNoCandidate is returned when every generation came back empty.
var ErrNoCandidate = errors.New("translate: no usable candidate")

// Reasoner is the reasoning oracle contract.
type Reasoner interface {
	Reason(ctx context.Context, req domain.ReasoningRequest) (domain.ReasoningResponse, error)
}

// Settings are the per-deployment oracle settings.
type Settings struct {
	TranslationModel string
	CritiqueModel    string
	Rubric           string
}

// Input is everything the loop may see. All text is masked.
type Input struct {
	Text         domain.MaskedText
	Role         domain.SenderRole
	Context      []domain.Passage
	Summary      domain.SessionSummary
	Placeholders []string
	// Lightweight runs a single generation checked by rules only.
	Lightweight bool
}

// Output is the accepted candidate and the call accounting.
type Output struct {
	Candidate   domain.TranslationCandidate
	Unreviewed  bool
	Generations int
	Critiques   int
	Rounds      []domain.TranslationCandidate
}

// Reflector runs the loop.
type Reflector struct {
	reasoner  Reasoner
	caller    *oracle.Caller
	maxRounds int
}

func NewReflector(r Reasoner, caller *oracle.Caller, maxRounds int) (*Reflector, error) {
	if r == nil {
		return nil, errors.New("translate: reasoner must not be nil")
	}
	if caller == nil {
		return nil, errors.New("translate: oracle caller must not be nil")
	}
	if maxRounds < 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Reflector{reasoner: r, caller: caller, maxRounds: maxRounds}, nil
}

// Translate returns an accepted candidate. When no candidate passes review
// the best-scoring one is accepted and flagged unreviewed; ties go to the
// later round. A candidate judged by rules alone is capped at the most recent
// critique score, so it never outranks a reviewed candidate on rules alone.
// Oracle failures are returned as errors.
func (r *Reflector) Translate(ctx context.Context, s Settings, in Input) (Output, error) {
	maxRounds := r.maxRounds
	if in.Lightweight {
		maxRounds = 0
	}
	target := in.Role.TargetLanguage()

	var (
		out      Output
		best     *domain.TranslationCandidate
		feedback []string
		ceiling  = 1.0
	)
	keep := func(c domain.TranslationCandidate) {
		out.Rounds = append(out.Rounds, c)
		if strings.TrimSpace(string(c.Text)) == "" {
			return
		}
		if best == nil || c.Score >= best.Score {
			cp := c
			best = &cp
		}
	}

	for round := 0; round <= maxRounds; round++ {
		text, err := r.generate(ctx, s, in, feedback)
		out.Generations++
		if err != nil {
			return out, err
		}
		cand := domain.TranslationCandidate{Text: text, ReflectionRound: round}

		rules := CheckRules(text, in.Placeholders, target)
		cand.Score = min(rules.Score, ceiling)
		cand.Deficiencies = rules.Deficiencies

		if !rules.Pass {
			keep(cand)
			feedback = rules.Deficiencies
			continue
		}
		if in.Lightweight {
			cand.Accepted = true
			out.Candidate = cand
			out.Rounds = append(out.Rounds, cand)
			return out, nil
		}
		if round == maxRounds {
			keep(cand)
			break
		}

		crit, err := r.critique(ctx, s, in, text)
		out.Critiques++
		if err != nil {
			return out, err
		}
		ceiling = clampScore(crit.Score)
		cand.Score = min(rules.Score, ceiling)
		cand.Deficiencies = crit.Deficiencies
		if crit.Pass {
			cand.Accepted = true
			out.Candidate = cand
			out.Rounds = append(out.Rounds, cand)
			return out, nil
		}
		keep(cand)
		feedback = crit.Deficiencies
		if len(feedback) == 0 {
			feedback = []string{"the reviewer rejected the translation; improve clinical accuracy and fluency"}
		}
	}

	if best == nil {
		return out, ErrNoCandidate
	}
	best.Accepted = true
	out.Candidate = *best
	out.Unreviewed = true
	return out, nil
}

func (r *Reflector) generate(ctx context.Context, s Settings, in Input, feedback []string) (domain.MaskedText, error) {
	req := domain.ReasoningRequest{
		SystemInstructions: buildTranslationInstructions(in),
		UserContent:        in.Text,
		RetrievedContext:   in.Context,
		ReflectionFeedback: feedback,
		Model:              s.TranslationModel,
	}
	resp, err := oracle.Do(ctx, r.caller, "generate", func(ctx context.Context) (domain.ReasoningResponse, error) {
		return r.reasoner.Reason(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return domain.MaskedText(strings.TrimSpace(resp.Text)), nil
}

func (r *Reflector) critique(ctx context.Context, s Settings, in Input, candidate domain.MaskedText) (domain.Critique, error) {
	model := s.CritiqueModel
	if model == "" {
		model = s.TranslationModel
	}
	req := domain.ReasoningRequest{
		SystemInstructions: buildCritiqueInstructions(in, s.Rubric),
		UserContent:        buildCritiqueContent(in.Text, candidate),
		ExpectCritique:     true,
		Model:              model,
	}
	resp, err := oracle.Do(ctx, r.caller, "critique", func(ctx context.Context) (domain.ReasoningResponse, error) {
		resp, err := r.reasoner.Reason(ctx, req)
		if err == nil && resp.Critique == nil {
			return resp, errors.New("translate: critique response missing verdict")
		}
		return resp, err
	})
	if err != nil {
		return domain.Critique{}, err
	}
	return *resp.Critique, nil
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
