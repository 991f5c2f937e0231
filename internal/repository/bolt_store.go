package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"medical-interpreter/internal/domain"
)

var (
	bucketSessions  = []byte("sessions")
	bucketMessages  = []byte("messages")
	bucketSummaries = []byte("summaries")
	bucketEvents    = []byte("events")
)

// BoltStore is a single-file store for local runs. Messages live in one
// nested bucket per session keyed by big-endian turn index, so cursor order
// is turn order.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("repository: open bolt %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSessions, bucketMessages, bucketSummaries, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: init bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type sessionRecord struct {
	ID        string    `json:"id"`
	DoctorID  string    `json:"doctorId"`
	PatientID string    `json:"patientId"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
	Turns     int       `json:"turns"`
}

type messageRecord struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	TurnIndex        int       `json:"turnIndex"`
	SenderRole       string    `json:"senderRole"`
	RawText          string    `json:"rawText"`
	MaskedText       string    `json:"maskedText"`
	TranslatedMasked string    `json:"translatedMasked"`
	Intent           string    `json:"intent"`
	Unreviewed       bool      `json:"unreviewed"`
	Timestamp        time.Time `json:"timestamp"`
}

type summaryRecord struct {
	KeySymptoms     []string `json:"keySymptoms"`
	KeyDecisions    []string `json:"keyDecisions"`
	LastUpdatedTurn int      `json:"lastUpdatedTurn"`
}

type eventRecord struct {
	SessionID  string    `json:"sessionId"`
	SenderRole string    `json:"senderRole"`
	MaskedText string    `json:"maskedText"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

func turnKey(turn int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(turn))
	return k
}

func getSession(tx *bolt.Tx, id string) (sessionRecord, error) {
	raw := tx.Bucket(bucketSessions).Get([]byte(id))
	if raw == nil {
		return sessionRecord{}, domain.ErrSessionNotFound
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return sessionRecord{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

func putJSON(b *bolt.Bucket, k []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(k, raw)
}

func (s *BoltStore) CreateSession(_ context.Context, sess domain.Session) error {
	if sess.ID == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	status := sess.Status
	if status == "" {
		status = domain.SessionActive
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(sess.ID)) != nil {
			return fmt.Errorf("session %q already exists", sess.ID)
		}
		return putJSON(b, []byte(sess.ID), sessionRecord{
			ID:        sess.ID,
			DoctorID:  sess.DoctorID,
			PatientID: sess.PatientID,
			CreatedAt: sess.CreatedAt,
			Status:    string(status),
			Turns:     sess.Turns,
		})
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

func (s *BoltStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	var rec sessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getSession(tx, id)
		return err
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Session{}, err
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w", err)
	}
	return domain.Session{
		ID:        rec.ID,
		DoctorID:  rec.DoctorID,
		PatientID: rec.PatientID,
		CreatedAt: rec.CreatedAt,
		Status:    domain.SessionStatus(rec.Status),
		Turns:     rec.Turns,
	}, nil
}

func (s *BoltStore) CloseSession(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getSession(tx, id)
		if err != nil {
			return err
		}
		rec.Status = string(domain.SessionClosed)
		return putJSON(tx.Bucket(bucketSessions), []byte(id), rec)
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("repository: CloseSession: %w", err)
	}
	return nil
}

func (s *BoltStore) ListMessages(_ context.Context, sessionID string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec messageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			msgs = append(msgs, domain.Message{
				ID:               rec.ID,
				SessionID:        rec.SessionID,
				TurnIndex:        rec.TurnIndex,
				SenderRole:       domain.SenderRole(rec.SenderRole),
				RawText:          rec.RawText,
				MaskedText:       domain.MaskedText(rec.MaskedText),
				TranslatedMasked: domain.MaskedText(rec.TranslatedMasked),
				DetectedIntent:   domain.Intent(rec.Intent),
				Unreviewed:       rec.Unreviewed,
				Timestamp:        rec.Timestamp,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}
	return msgs, nil
}

func (s *BoltStore) GetSummary(_ context.Context, sessionID string) (domain.SessionSummary, error) {
	out := domain.SessionSummary{SessionID: sessionID, LastUpdatedTurn: -1}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSummaries).Get([]byte(sessionID))
		if raw == nil {
			return nil
		}
		var rec summaryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		out.KeySymptoms = rec.KeySymptoms
		out.KeyDecisions = rec.KeyDecisions
		out.LastUpdatedTurn = rec.LastUpdatedTurn
		return nil
	})
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("repository: GetSummary: %w", err)
	}
	return out, nil
}

// SaveTurn commits msg and summary in one bolt transaction under the same
// rules as the DynamoDB client.
func (s *BoltStore) SaveTurn(_ context.Context, msg domain.Message, summary domain.SessionSummary) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getSession(tx, msg.SessionID)
		if err != nil {
			return err
		}
		if rec.Status != string(domain.SessionActive) {
			return domain.ErrSessionClosed
		}
		if rec.Turns != msg.TurnIndex {
			return domain.ErrTurnConflict
		}
		msgs, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.SessionID))
		if err != nil {
			return err
		}
		if err := putJSON(msgs, turnKey(msg.TurnIndex), messageRecord{
			ID:               msg.ID,
			SessionID:        msg.SessionID,
			TurnIndex:        msg.TurnIndex,
			SenderRole:       string(msg.SenderRole),
			RawText:          msg.RawText,
			MaskedText:       string(msg.MaskedText),
			TranslatedMasked: string(msg.TranslatedMasked),
			Intent:           string(msg.DetectedIntent),
			Unreviewed:       msg.Unreviewed,
			Timestamp:        msg.Timestamp,
		}); err != nil {
			return err
		}
		rec.Turns++
		if err := putJSON(tx.Bucket(bucketSessions), []byte(msg.SessionID), rec); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketSummaries), []byte(msg.SessionID), summaryRecord{
			KeySymptoms:     summary.KeySymptoms,
			KeyDecisions:    summary.KeyDecisions,
			LastUpdatedTurn: summary.LastUpdatedTurn,
		})
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

func (s *BoltStore) SaveSafetyEvent(_ context.Context, ev domain.SafetyEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return putJSON(b, turnKey(int(seq)), eventRecord{
			SessionID:  ev.SessionID,
			SenderRole: string(ev.SenderRole),
			MaskedText: string(ev.MaskedText),
			Reason:     ev.ReasonCode,
			Timestamp:  ev.Timestamp.UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSafetyEvent: %w", err)
	}
	return nil
}

// SafetyEvents returns the refusal records for a session, oldest first.
func (s *BoltStore) SafetyEvents(_ context.Context, sessionID string) ([]domain.SafetyEvent, error) {
	var out []domain.SafetyEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, v []byte) error {
			var rec eventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.SessionID != sessionID {
				return nil
			}
			out = append(out, domain.SafetyEvent{
				SessionID:  rec.SessionID,
				SenderRole: domain.SenderRole(rec.SenderRole),
				MaskedText: domain.MaskedText(rec.MaskedText),
				ReasonCode: rec.Reason,
				Timestamp:  rec.Timestamp,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("repository: SafetyEvents: %w", err)
	}
	return out, nil
}
