package domain

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is one doctor-patient conversation. Turns counts committed
// messages and is the next turn index.
type Session struct {
	ID        string
	DoctorID  string
	PatientID string
	CreatedAt time.Time
	Status    SessionStatus
	Turns     int
}

// SafetyEvent records a refused turn. It is kept apart from the message log.
type SafetyEvent struct {
	SessionID  string
	SenderRole SenderRole
	MaskedText MaskedText
	ReasonCode string
	Timestamp  time.Time
}
