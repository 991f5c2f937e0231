package domain

import (
	"time"

	"golang.org/x/text/language"
)

// SenderRole identifies who wrote a message.
type SenderRole string

const (
	RoleDoctor  SenderRole = "doctor"
	RolePatient SenderRole = "patient"
)

// Valid reports whether r is one of the two conversation roles.
func (r SenderRole) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// SourceLanguage is the language the sender writes in. Doctors write English,
// patients write Hindi.
func (r SenderRole) SourceLanguage() language.Tag {
	if r == RolePatient {
		return language.Hindi
	}
	return language.English
}

// TargetLanguage is the language the other party reads.
func (r SenderRole) TargetLanguage() language.Tag {
	if r == RolePatient {
		return language.English
	}
	return language.Hindi
}

// Intent labels the purpose of a message and gates downstream work.
type Intent string

const (
	IntentMedical   Intent = "medical"
	IntentSmallTalk Intent = "small_talk"
	IntentUnsafe    Intent = "unsafe"
)

// MaskedText is text that has passed through the PII masker. Stages that may
// cross the process boundary accept only this type.
type MaskedText string

func (m MaskedText) String() string { return string(m) }

// Message is a single persisted conversation turn. It is immutable once
// appended; MaskedText is derived and never replaces RawText.
type Message struct {
	ID               string
	SessionID        string
	TurnIndex        int
	SenderRole       SenderRole
	RawText          string
	MaskedText       MaskedText
	TranslatedMasked MaskedText
	DetectedIntent   Intent
	Unreviewed       bool
	Timestamp        time.Time
}

// SessionSummary is the rolling digest derived from accepted turns.
type SessionSummary struct {
	SessionID       string
	KeySymptoms     []string
	KeyDecisions    []string
	LastUpdatedTurn int
}
