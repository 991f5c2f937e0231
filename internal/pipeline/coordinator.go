// Package pipeline is the turn coordinator. It drives one message through
// masking, intent, safety, retrieval, translation and the memory commit as
// an explicit state machine.
//
// Masking precedes every call that crosses the process boundary, and the
// memory append is the only write that makes a turn durable. A turn that
// ends in terminal_error leaves the message log and the summary untouched.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"medical-interpreter/internal/config"
	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/intent"
	"medical-interpreter/internal/pii"
	"medical-interpreter/internal/retrieval"
	"medical-interpreter/internal/safety"
	"medical-interpreter/internal/translate"
)

const DefaultMaxMessageLength = 2000

const (
	transientMessage = "The translation service is temporarily unavailable. Please send the message again."
	internalMessage  = "Something went wrong while translating this message. Please try again."
	cancelledMessage = "The message was cancelled before it was translated."
)

type Masker interface {
	Mask(raw string, lang language.Tag) (pii.Result, error)
}

type Classifier interface {
	Classify(text domain.MaskedText) intent.Result
}

type Screener interface {
	Screen(ctx context.Context, text domain.MaskedText, label domain.Intent) (safety.Result, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, text domain.MaskedText) ([]domain.Passage, error)
}

type Translator interface {
	Translate(ctx context.Context, s translate.Settings, in translate.Input) (translate.Output, error)
}

// Memory is the session memory seen by the coordinator.
type Memory interface {
	Lock(ctx context.Context, sessionID string) (func(), error)
	GetSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error)
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	Append(ctx context.Context, msg domain.Message, prev domain.SessionSummary) (domain.SessionSummary, error)
}

// SessionStore owns the session records and the refusal log.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	CloseSession(ctx context.Context, sessionID string) error
	SaveSafetyEvent(ctx context.Context, ev domain.SafetyEvent) error
}

// Deps wires the coordinator. Every field except Logger and
// MaxMessageLength is required.
type Deps struct {
	Settings   config.Source
	Masker     Masker
	Classifier Classifier
	Screener   Screener
	Retriever  Retriever
	Translator Translator
	Memory     Memory
	Sessions   SessionStore
	Narrator   *Narrator

	Logger           *slog.Logger
	MaxMessageLength int
}

type Coordinator struct {
	settings   config.Source
	masker     Masker
	classifier Classifier
	screener   Screener
	retriever  Retriever
	translator Translator
	memory     Memory
	sessions   SessionStore
	narrator   *Narrator
	logger     *slog.Logger
	maxLen     int
}

func New(d Deps) (*Coordinator, error) {
	switch {
	case d.Settings == nil:
		return nil, errors.New("pipeline: settings source must not be nil")
	case d.Masker == nil:
		return nil, errors.New("pipeline: masker must not be nil")
	case d.Classifier == nil:
		return nil, errors.New("pipeline: classifier must not be nil")
	case d.Screener == nil:
		return nil, errors.New("pipeline: screener must not be nil")
	case d.Retriever == nil:
		return nil, errors.New("pipeline: retriever must not be nil")
	case d.Translator == nil:
		return nil, errors.New("pipeline: translator must not be nil")
	case d.Memory == nil:
		return nil, errors.New("pipeline: memory must not be nil")
	case d.Sessions == nil:
		return nil, errors.New("pipeline: session store must not be nil")
	case d.Narrator == nil:
		return nil, errors.New("pipeline: narrator must not be nil")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLen := d.MaxMessageLength
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &Coordinator{
		settings:   d.Settings,
		masker:     d.Masker,
		classifier: d.Classifier,
		screener:   d.Screener,
		retriever:  d.Retriever,
		translator: d.Translator,
		memory:     d.Memory,
		sessions:   d.Sessions,
		narrator:   d.Narrator,
		logger:     logger,
		maxLen:     maxLen,
	}, nil
}

type TurnRequest struct {
	SessionID  string
	SenderRole domain.SenderRole
	RawText    string
}

type Status string

const (
	StatusOK        Status = "ok"
	StatusRefused   Status = "refused"
	StatusTransient Status = "transient_failure"
	StatusInvalid   Status = "invalid"
	StatusError     Status = "error"
)

// TurnResult is what the UI renders for one message. DisplayText is the only
// field that may contain unmasked text.
type TurnResult struct {
	DisplayText string
	Status      Status
	ErrorReason string
	Intent      domain.Intent
	Confidence  float64
	Unreviewed  bool
	Contexts    map[domain.PassageTag][]domain.Passage
	TurnIndex   int
	MessageID   string
	Degraded    bool
	Trace       []State
}

// ProcessTurn runs one message through the pipeline. Every non-ok outcome
// returns a populated TurnResult together with a *Error.
func (c *Coordinator) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if pe := c.validate(sessionID, req); pe != nil {
		return rejected(pe), pe
	}

	settings, err := c.settings.Settings(ctx)
	if err != nil {
		return c.abort(nil, newError(ErrorInternal, "settings_load_error", err))
	}

	unlock, err := c.memory.Lock(ctx, sessionID)
	if err != nil {
		return c.abort(nil, classify("session_lock_error", err))
	}
	defer unlock()

	sess, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		pe := classify("session_read_error", err)
		if pe.Code == ErrorValidation {
			return rejected(pe), pe
		}
		return c.abort(nil, pe)
	}
	if sess.Status != domain.SessionActive {
		pe := newError(ErrorValidation, ReasonSessionClosed, nil)
		return rejected(pe), pe
	}

	logger := c.logger.With("session_id", sessionID, "turn", sess.Turns, "sender_role", req.SenderRole)
	t := newTurn(logger)
	res := TurnResult{TurnIndex: sess.Turns}

	masked, err := c.masker.Mask(req.RawText, req.SenderRole.SourceLanguage())
	if err != nil {
		return c.fail(t, res, classify("masking_error", err))
	}
	t.tokens = masked.Tokens
	res.Degraded = masked.Degraded
	if masked.Degraded {
		logger.Warn("pii_masking_degraded", "names_detected", masked.Detected[pii.KindName], "phones_detected", masked.Detected[pii.KindPhone])
	}
	if err := t.advance(StateMasked); err != nil {
		return c.fail(t, res, classify("state_error", err))
	}

	label := c.classifier.Classify(masked.Masked)
	res.Intent = label.Label
	res.Confidence = label.Confidence
	if err := t.advance(StateIntentKnown); err != nil {
		return c.fail(t, res, classify("state_error", err))
	}

	verdict, err := c.screener.Screen(ctx, masked.Masked, label.Label)
	if err != nil {
		return c.fail(t, res, classify("moderation_error", err))
	}
	if !verdict.Safe() {
		return c.refuse(ctx, t, res, settings, req, masked.Masked, verdict.Reason)
	}
	if err := t.advance(StateScreened); err != nil {
		return c.fail(t, res, classify("state_error", err))
	}

	passages := []domain.Passage{}
	if label.Label == domain.IntentMedical {
		passages, err = c.retriever.Retrieve(ctx, masked.Masked)
		if err != nil {
			return c.fail(t, res, classify("retrieval_error", err))
		}
		err = t.advance(StateRetrieved)
	} else {
		err = t.advance(StateSkipRetrieve)
	}
	if err != nil {
		return c.fail(t, res, classify("state_error", err))
	}
	res.Contexts = retrieval.GroupByTag(passages)

	summary, err := c.memory.GetSummary(ctx, sessionID)
	if err != nil {
		return c.fail(t, res, classify("summary_read_error", err))
	}

	out, err := c.translator.Translate(ctx, translate.Settings{
		TranslationModel: settings.TranslationModel,
		CritiqueModel:    settings.CritiqueModel,
		Rubric:           settings.Rubric,
	}, translate.Input{
		Text:         masked.Masked,
		Role:         req.SenderRole,
		Context:      passages,
		Summary:      summary,
		Placeholders: masked.Tokens.Tokens(),
		Lightweight:  label.Label == domain.IntentSmallTalk,
	})
	if err != nil {
		return c.fail(t, res, classify("translation_error", err))
	}
	res.Unreviewed = out.Unreviewed
	if err := t.advance(StateTranslated); err != nil {
		return c.fail(t, res, classify("state_error", err))
	}
	logger.Debug("translation accepted", "round", out.Candidate.ReflectionRound, "score", out.Candidate.Score,
		"generations", out.Generations, "critiques", out.Critiques, "unreviewed", out.Unreviewed)

	// Last point at which cancellation is honoured.
	if err := ctx.Err(); err != nil {
		return c.fail(t, res, classify("turn_cancelled", err))
	}

	msg := domain.Message{
		ID:               newUUID(),
		SessionID:        sessionID,
		TurnIndex:        sess.Turns,
		SenderRole:       req.SenderRole,
		RawText:          req.RawText,
		MaskedText:       masked.Masked,
		TranslatedMasked: out.Candidate.Text,
		DetectedIntent:   label.Label,
		Unreviewed:       out.Unreviewed,
		Timestamp:        now(),
	}
	if _, err := c.memory.Append(ctx, msg, summary); err != nil {
		reason := "memory_write_error"
		if errors.Is(err, domain.ErrTurnConflict) {
			reason = "turn_conflict"
		}
		return c.fail(t, res, classify(reason, err))
	}
	res.MessageID = msg.ID
	if err := t.advance(StateSummarized); err != nil {
		return c.fail(t, res, classify("state_error", err))
	}

	display, err := t.unmask(out.Candidate.Text)
	if err != nil {
		return c.fail(t, res, classify("unmask_error", err))
	}
	res.DisplayText = display
	res.Status = StatusOK
	res.Trace = t.trace
	return res, nil
}

func (c *Coordinator) validate(sessionID string, req TurnRequest) *Error {
	switch {
	case sessionID == "":
		return newError(ErrorValidation, ReasonMissingSessionID, nil)
	case !req.SenderRole.Valid():
		return newError(ErrorValidation, ReasonInvalidRole, nil)
	case strings.TrimSpace(req.RawText) == "":
		return newError(ErrorValidation, ReasonEmptyMessage, nil)
	case utf8.RuneCountInString(req.RawText) > c.maxLen:
		return newError(ErrorValidation, ReasonMessageTooLong, nil)
	}
	return nil
}

// refuse ends the turn without retrieval or translation. The refusal is
// recorded apart from the message log.
func (c *Coordinator) refuse(ctx context.Context, t *turn, res TurnResult, settings config.Settings, req TurnRequest, masked domain.MaskedText, reason safety.Reason) (TurnResult, error) {
	if err := t.advance(StateTerminalRefuse); err != nil {
		return c.fail(t, res, classify("state_error", err))
	}
	ev := domain.SafetyEvent{
		SessionID:  strings.TrimSpace(req.SessionID),
		SenderRole: req.SenderRole,
		MaskedText: masked,
		ReasonCode: string(reason),
		Timestamp:  now(),
	}
	if err := c.sessions.SaveSafetyEvent(ctx, ev); err != nil {
		t.logger.Error("failed to record safety event", "reason", reason, "err", err)
	}
	t.logger.Info("turn_refused", "reason", reason)

	res.DisplayText = settings.RefusalMessage
	res.Status = StatusRefused
	res.ErrorReason = string(reason)
	res.Trace = t.trace
	return res, newError(ErrorSafetyRejection, string(reason), nil)
}

// fail moves the turn to terminal_error. No write has happened at this point.
func (c *Coordinator) fail(t *turn, res TurnResult, pe *Error) (TurnResult, error) {
	if !t.state.Terminal() {
		_ = t.advance(StateTerminalError)
	}
	res.Trace = t.trace
	res.MessageID = ""
	res.DisplayText = ""
	return c.abort(&res, pe)
}

func (c *Coordinator) abort(res *TurnResult, pe *Error) (TurnResult, error) {
	var out TurnResult
	if res != nil {
		out = *res
	}
	out.ErrorReason = pe.Reason
	switch pe.Code {
	case ErrorValidation:
		out.Status = StatusInvalid
	case ErrorTransient:
		out.Status = StatusTransient
		out.DisplayText = transientMessage
	case ErrorCancelled:
		out.Status = StatusError
		out.DisplayText = cancelledMessage
	default:
		out.Status = StatusError
		out.DisplayText = internalMessage
	}
	c.logger.Error("turn failed", "code", pe.Code, "reason", pe.Reason, "err", pe.Err)
	return out, pe
}

func rejected(pe *Error) TurnResult {
	return TurnResult{Status: StatusInvalid, ErrorReason: pe.Reason}
}

// StartSession opens a new active session.
func (c *Coordinator) StartSession(ctx context.Context, doctorID, patientID string) (domain.Session, error) {
	doctorID = strings.TrimSpace(doctorID)
	patientID = strings.TrimSpace(patientID)
	if doctorID == "" {
		return domain.Session{}, newError(ErrorValidation, ReasonMissingDoctorID, nil)
	}
	if patientID == "" {
		return domain.Session{}, newError(ErrorValidation, ReasonMissingPatientID, nil)
	}
	sess := domain.Session{
		ID:        newUUID(),
		DoctorID:  doctorID,
		PatientID: patientID,
		CreatedAt: now(),
		Status:    domain.SessionActive,
	}
	if err := c.sessions.CreateSession(ctx, sess); err != nil {
		return domain.Session{}, classify("session_write_error", err)
	}
	return sess, nil
}

// CloseSession marks a session closed. It waits for an in-flight turn.
func (c *Coordinator) CloseSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorValidation, ReasonMissingSessionID, nil)
	}
	unlock, err := c.memory.Lock(ctx, sessionID)
	if err != nil {
		return classify("session_lock_error", err)
	}
	defer unlock()
	if err := c.sessions.CloseSession(ctx, sessionID); err != nil {
		return classify("session_write_error", err)
	}
	return nil
}

// GetSummary returns the rolling digest of a session.
func (c *Coordinator) GetSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	if err := c.requireSession(ctx, sessionID); err != nil {
		return domain.SessionSummary{}, err
	}
	s, err := c.memory.GetSummary(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.SessionSummary{}, classify("summary_read_error", err)
	}
	return s, nil
}

// SummarizeSession asks the reasoning oracle for a narrative summary of the
// masked message log. Placeholders stay masked since token maps do not
// outlive their turn.
func (c *Coordinator) SummarizeSession(ctx context.Context, sessionID string) (string, error) {
	if err := c.requireSession(ctx, sessionID); err != nil {
		return "", err
	}
	settings, err := c.settings.Settings(ctx)
	if err != nil {
		return "", newError(ErrorInternal, "settings_load_error", err)
	}
	msgs, err := c.memory.History(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return "", classify("history_read_error", err)
	}
	text, err := c.narrator.Narrate(ctx, settings.TranslationModel, msgs)
	if err != nil {
		return "", classify("narrative_error", err)
	}
	return text, nil
}

func (c *Coordinator) requireSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorValidation, ReasonMissingSessionID, nil)
	}
	if _, err := c.sessions.GetSession(ctx, sessionID); err != nil {
		return classify("session_read_error", fmt.Errorf("pipeline: get session: %w", err))
	}
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
