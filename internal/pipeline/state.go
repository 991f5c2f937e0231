package pipeline

import (
	"fmt"
	"log/slog"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/pii"
)

// State is a step of the turn state machine.
type State string

const (
	StateReceived        State = "received"
	StateMasked          State = "masked"
	StateIntentKnown     State = "intent_known"
	StateScreened        State = "screened"
	StateRetrieved       State = "retrieved"
	StateSkipRetrieve    State = "skip_retrieve"
	StateTranslated      State = "translated"
	StateSummarized      State = "summarized"
	StateTerminalRespond State = "terminal_respond"
	StateTerminalRefuse  State = "terminal_refuse"
	StateTerminalError   State = "terminal_error"
)

var transitions = map[State][]State{
	StateReceived:     {StateMasked},
	StateMasked:       {StateIntentKnown},
	StateIntentKnown:  {StateScreened, StateTerminalRefuse},
	StateScreened:     {StateRetrieved, StateSkipRetrieve},
	StateRetrieved:    {StateTranslated},
	StateSkipRetrieve: {StateTranslated},
	StateTranslated:   {StateSummarized},
	StateSummarized:   {StateTerminalRespond},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateTerminalRespond || s == StateTerminalRefuse || s == StateTerminalError
}

func allowed(from, to State) bool {
	if to == StateTerminalError {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// turn is the per-message state. The token map never leaves it.
type turn struct {
	state  State
	trace  []State
	tokens *pii.TokenMap
	logger *slog.Logger
}

func newTurn(logger *slog.Logger) *turn {
	return &turn{state: StateReceived, trace: []State{StateReceived}, logger: logger}
}

func (t *turn) advance(next State) error {
	if !allowed(t.state, next) {
		return newError(ErrorInvariant, "illegal_transition", fmt.Errorf("%s -> %s", t.state, next))
	}
	t.logger.Debug("turn transition", "from", t.state, "to", next)
	t.state = next
	t.trace = append(t.trace, next)
	return nil
}

// unmask restores placeholders in the accepted translation. It is legal
// only once, on the summarized -> terminal_respond edge.
func (t *turn) unmask(text domain.MaskedText) (string, error) {
	if t.state != StateSummarized {
		return "", newError(ErrorInvariant, "early_unmask", fmt.Errorf("unmask in state %s", t.state))
	}
	if t.tokens == nil {
		return "", newError(ErrorInvariant, "missing_token_map", nil)
	}
	out, err := t.tokens.Reveal(string(text))
	if err != nil {
		return "", newError(ErrorInvariant, "repeated_unmask", err)
	}
	if err := t.advance(StateTerminalRespond); err != nil {
		return "", err
	}
	return out, nil
}
