package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/oracle"
	"medical-interpreter/internal/translate"
)

const narrativeInstructions = `You summarize a doctor-patient consultation for the treating doctor.
Write in English, in at most 8 short bullet points: presenting complaint, key symptoms with duration and severity, relevant history, advice or prescriptions given, and follow-up.
The transcript contains placeholders like [NAME_1_ab12cd] or [PHONE_1_ab12cd]. Copy any placeholder you mention exactly; never guess what it stands for.
Use only facts present in the transcript.`

// Narrator writes the on-demand narrative summary of a session.
type Narrator struct {
	reasoner translate.Reasoner
	caller   *oracle.Caller
}

func NewNarrator(r translate.Reasoner, caller *oracle.Caller) (*Narrator, error) {
	if r == nil {
		return nil, errors.New("pipeline: reasoner must not be nil")
	}
	if caller == nil {
		return nil, errors.New("pipeline: oracle caller must not be nil")
	}
	return &Narrator{reasoner: r, caller: caller}, nil
}

// Narrate summarizes msgs. An empty log yields an empty summary without an
// oracle call.
func (n *Narrator) Narrate(ctx context.Context, model string, msgs []domain.Message) (string, error) {
	if len(msgs) == 0 {
		return "", nil
	}
	req := domain.ReasoningRequest{
		SystemInstructions: narrativeInstructions,
		UserContent:        transcript(msgs),
		Model:              model,
	}
	resp, err := oracle.Do(ctx, n.caller, "summarize", func(ctx context.Context) (domain.ReasoningResponse, error) {
		return n.reasoner.Reason(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: narrate: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// transcript renders the log from masked fields only; RawText never leaves
// the process.
func transcript(msgs []domain.Message) domain.MaskedText {
	var b strings.Builder
	for _, m := range msgs {
		text := m.MaskedText
		if m.SenderRole == domain.RolePatient && m.TranslatedMasked != "" {
			text = m.TranslatedMasked
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", m.TurnIndex+1, m.SenderRole, text)
	}
	return domain.MaskedText(b.String())
}
