package translate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/oracle"
)

type fakeReasoner struct {
	generations []string
	critiques   []domain.Critique
	genErr      error
	critErr     error

	genCalls  int
	critCalls int
	genReqs   []domain.ReasoningRequest
	critReqs  []domain.ReasoningRequest
}

func (f *fakeReasoner) Reason(_ context.Context, req domain.ReasoningRequest) (domain.ReasoningResponse, error) {
	if req.ExpectCritique {
		f.critReqs = append(f.critReqs, req)
		idx := min(f.critCalls, len(f.critiques)-1)
		f.critCalls++
		if f.critErr != nil {
			return domain.ReasoningResponse{}, f.critErr
		}
		c := f.critiques[idx]
		return domain.ReasoningResponse{Text: "{}", Critique: &c}, nil
	}
	f.genReqs = append(f.genReqs, req)
	idx := min(f.genCalls, len(f.generations)-1)
	f.genCalls++
	if f.genErr != nil {
		return domain.ReasoningResponse{}, f.genErr
	}
	return domain.ReasoningResponse{Text: f.generations[idx]}, nil
}

func noRetry() *oracle.Caller {
	return oracle.NewCaller(oracle.Policy{Timeout: time.Second, MaxRetries: 0, InitialInterval: time.Millisecond}, nil)
}

const (
	nameTok  = "[NAME_1_ab12cd]"
	phoneTok = "[PHONE_1_ab12cd]"
)

func patientInput() Input {
	return Input{
		Text:         domain.MaskedText("मेरा नाम " + nameTok + " है, मेरा फोन " + phoneTok + " है, सिर फट रहा है"),
		Role:         domain.RolePatient,
		Placeholders: []string{nameTok, phoneTok},
		Context: []domain.Passage{
			{ID: "cul-1", Text: "'sir phat raha hai' is an idiom for a severe headache", Score: 0.8, Tag: domain.TagCultural},
		},
	}
}

var goodEnglish = "My name is " + nameTok + ", my phone is " + phoneTok + ", I have a severe headache."

func TestTranslate_PassesFirstRound(t *testing.T) {
	f := &fakeReasoner{
		generations: []string{goodEnglish},
		critiques:   []domain.Critique{{Pass: true, Score: 0.9}},
	}
	r, err := NewReflector(f, noRetry(), 2)
	require.NoError(t, err)

	out, err := r.Translate(context.Background(), Settings{TranslationModel: "gen", CritiqueModel: "crit"}, patientInput())
	require.NoError(t, err)
	require.True(t, out.Candidate.Accepted)
	require.False(t, out.Unreviewed)
	require.Equal(t, domain.MaskedText(goodEnglish), out.Candidate.Text)
	require.Equal(t, 0, out.Candidate.ReflectionRound)
	require.Equal(t, 1, f.genCalls)
	require.Equal(t, 1, f.critCalls)

	require.Equal(t, "gen", f.genReqs[0].Model)
	require.Equal(t, "crit", f.critReqs[0].Model)
	require.Len(t, f.genReqs[0].RetrievedContext, 1)
	require.Contains(t, f.genReqs[0].SystemInstructions, "from Hindi into English")
	require.Contains(t, string(f.critReqs[0].UserContent), goodEnglish)
}

func TestTranslate_RegeneratesWithFeedback(t *testing.T) {
	f := &fakeReasoner{
		generations: []string{"My name is " + nameTok + ", my phone is " + phoneTok + ", my head is bursting.", goodEnglish},
		critiques: []domain.Critique{
			{Pass: false, Score: 0.5, Deficiencies: []string{"idiom translated literally"}},
			{Pass: true, Score: 0.95},
		},
	}
	r, err := NewReflector(f, noRetry(), 2)
	require.NoError(t, err)

	out, err := r.Translate(context.Background(), Settings{TranslationModel: "gen"}, patientInput())
	require.NoError(t, err)
	require.False(t, out.Unreviewed)
	require.Equal(t, 1, out.Candidate.ReflectionRound)
	require.Equal(t, []string{"idiom translated literally"}, f.genReqs[1].ReflectionFeedback)
	require.Equal(t, "gen", f.critReqs[0].Model)
	require.Len(t, out.Rounds, 2)
}

func TestTranslate_BoundedCalls(t *testing.T) {
	for maxRounds := 0; maxRounds <= 4; maxRounds++ {
		t.Run(fmt.Sprintf("max_%d", maxRounds), func(t *testing.T) {
			f := &fakeReasoner{
				generations: []string{goodEnglish},
				critiques:   []domain.Critique{{Pass: false, Score: 0.4, Deficiencies: []string{"stiff"}}},
			}
			r, err := NewReflector(f, noRetry(), maxRounds)
			require.NoError(t, err)

			out, err := r.Translate(context.Background(), Settings{}, patientInput())
			require.NoError(t, err)
			require.LessOrEqual(t, f.genCalls, maxRounds+1)
			require.LessOrEqual(t, f.critCalls, maxRounds)
			require.Equal(t, f.genCalls, out.Generations)
			require.Equal(t, f.critCalls, out.Critiques)
			require.True(t, out.Candidate.Accepted)
			require.True(t, out.Unreviewed)
		})
	}
}

func TestTranslate_RuleFailureSkipsCritique(t *testing.T) {
	f := &fakeReasoner{
		generations: []string{"My name is Ravi, ...", "मेरा नाम", goodEnglish},
		critiques:   []domain.Critique{{Pass: true, Score: 1}},
	}
	r, err := NewReflector(f, noRetry(), 2)
	require.NoError(t, err)

	out, err := r.Translate(context.Background(), Settings{}, patientInput())
	require.NoError(t, err)
	require.Equal(t, 3, f.genCalls)
	require.Zero(t, f.critCalls)
	require.True(t, out.Unreviewed)
	require.Equal(t, domain.MaskedText(goodEnglish), out.Candidate.Text)
	require.Contains(t, f.genReqs[1].ReflectionFeedback, "placeholder "+nameTok+" is missing")
}

func TestTranslate_BestScoringWins(t *testing.T) {
	cases := []struct {
		name      string
		critiques []domain.Critique
		wantRound int
		wantScore float64
		wantText  string
	}{
		{
			name:      "reviewed round beats rules-only final",
			critiques: []domain.Critique{{Pass: false, Score: 0.95}, {Pass: false, Score: 0.10}},
			wantRound: 0,
			wantScore: 0.95,
			wantText:  goodEnglish + " A",
		},
		{
			name:      "final inherits last critique and wins the tie",
			critiques: []domain.Critique{{Pass: false, Score: 0.3}, {Pass: false, Score: 0.8}},
			wantRound: 2,
			wantScore: 0.8,
			wantText:  goodEnglish + " C",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeReasoner{
				generations: []string{goodEnglish + " A", goodEnglish + " B", goodEnglish + " C"},
				critiques:   tc.critiques,
			}
			r, err := NewReflector(f, noRetry(), 2)
			require.NoError(t, err)

			out, err := r.Translate(context.Background(), Settings{}, patientInput())
			require.NoError(t, err)
			require.True(t, out.Unreviewed)
			require.Len(t, out.Rounds, 3)
			require.Equal(t, tc.wantRound, out.Candidate.ReflectionRound)
			require.InDelta(t, tc.wantScore, out.Candidate.Score, 1e-9)
			require.Equal(t, domain.MaskedText(tc.wantText), out.Candidate.Text)
			require.LessOrEqual(t, out.Rounds[2].Score, out.Rounds[1].Score)
		})
	}
}

func TestNewReflector_NegativeRoundsUseDefault(t *testing.T) {
	f := &fakeReasoner{
		generations: []string{goodEnglish},
		critiques:   []domain.Critique{{Pass: false, Score: 0.5}},
	}
	r, err := NewReflector(f, noRetry(), -1)
	require.NoError(t, err)

	_, err = r.Translate(context.Background(), Settings{}, patientInput())
	require.NoError(t, err)
	require.Equal(t, DefaultMaxRounds+1, f.genCalls)
	require.Equal(t, DefaultMaxRounds, f.critCalls)
}

func TestTranslate_EmptyContext(t *testing.T) {
	f := &fakeReasoner{
		generations: []string{goodEnglish},
		critiques:   []domain.Critique{{Pass: true, Score: 1}},
	}
	r, err := NewReflector(f, noRetry(), 2)
	require.NoError(t, err)
	in := patientInput()
	in.Context = nil

	out, err := r.Translate(context.Background(), Settings{}, in)
	require.NoError(t, err)
	require.True(t, out.Candidate.Accepted)
	require.Empty(t, f.genReqs[0].RetrievedContext)
}

func TestTranslate_Lightweight(t *testing.T) {
	f := &fakeReasoner{generations: []string{"नमस्ते, आप कैसे हैं?"}}
	r, err := NewReflector(f, noRetry(), 2)
	require.NoError(t, err)

	out, err := r.Translate(context.Background(), Settings{}, Input{Text: "Hello, how are you?", Role: domain.RoleDoctor, Lightweight: true})
	require.NoError(t, err)
	require.Equal(t, 1, f.genCalls)
	require.Zero(t, f.critCalls)
	require.True(t, out.Candidate.Accepted)
	require.False(t, out.Unreviewed)
}

func TestTranslate_AllEmpty(t *testing.T) {
	f := &fakeReasoner{generations: []string{"  "}}
	r, err := NewReflector(f, noRetry(), 1)
	require.NoError(t, err)
	_, err = r.Translate(context.Background(), Settings{}, patientInput())
	require.ErrorIs(t, err, ErrNoCandidate)
	require.Equal(t, 2, f.genCalls)
}

func TestTranslate_OracleUnavailable(t *testing.T) {
	f := &fakeReasoner{generations: []string{""}, genErr: errors.New("dial tcp: i/o timeout")}
	r, err := NewReflector(f, noRetry(), 2)
	require.NoError(t, err)
	_, err = r.Translate(context.Background(), Settings{}, patientInput())
	require.ErrorIs(t, err, oracle.ErrUnavailable)
	require.Equal(t, 1, f.genCalls)
}

func TestTranslate_CritiqueUnavailable(t *testing.T) {
	f := &fakeReasoner{
		generations: []string{goodEnglish},
		critiques:   []domain.Critique{{}},
		critErr:     errors.New("503"),
	}
	r, err := NewReflector(f, noRetry(), 2)
	require.NoError(t, err)
	_, err = r.Translate(context.Background(), Settings{}, patientInput())
	require.ErrorIs(t, err, oracle.ErrUnavailable)
}

func TestCheckRules(t *testing.T) {
	cases := []struct {
		name string
		text string
		tgt  domain.SenderRole
		pass bool
		defs int
	}{
		{name: "good english", text: goodEnglish, tgt: domain.RolePatient, pass: true},
		{name: "missing phone", text: "My name is " + nameTok + ".", tgt: domain.RolePatient, defs: 1},
		{name: "invented token", text: goodEnglish + " [NAME_2_ab12cd]", tgt: domain.RolePatient, defs: 1},
		{name: "wrong script", text: "मेरा नाम " + nameTok + " " + phoneTok, tgt: domain.RolePatient, defs: 1},
		{name: "good hindi", text: "मेरा नाम " + nameTok + " है, फोन " + phoneTok + " है, दिन में दो बार paracetamol लें", tgt: domain.RoleDoctor, pass: true},
		{name: "empty", text: " ", tgt: domain.RolePatient, defs: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CheckRules(domain.MaskedText(tc.text), []string{nameTok, phoneTok}, tc.tgt.TargetLanguage())
			require.Equal(t, tc.pass, got.Pass)
			require.Len(t, got.Deficiencies, tc.defs)
		})
	}
}
