// Package eventstream publishes memory lifecycle events for downstream
// consumers. Events are emitted off the write path; losing one degrades
// observability, never durability.
package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/turn"
)

// SchemaVersion is stamped on every event so consumers can detect payload
// shape changes.
const SchemaVersion = 1

// Event types.
const (
	TypeTurnAppended   = "turn.appended"
	TypeTurnCompleted  = "turn.completed"
	TypeTierTransition = "tier.transitioned"
	TypeSessionEnded   = "session.ended"
	TypeIndexRebuilt   = "index.rebuilt"
)

// Event is a single memory lifecycle record.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	SchemaVersion int       `json:"schema_version"`
	OccurredAt    time.Time `json:"occurred_at"`

	// Key groups related events for partition ordering; it is the session
	// ID for session-scoped events and the user ID otherwise.
	Key string `json:"key"`

	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`

	FromTier turn.Tier `json:"from_tier,omitempty"`
	ToTier   turn.Tier `json:"to_tier,omitempty"`
	Reason   string    `json:"reason,omitempty"`

	TokenCount int `json:"token_count,omitempty"`
	TurnCount  int `json:"turn_count,omitempty"`
}

func newEvent(eventType, key string) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		SchemaVersion: SchemaVersion,
		OccurredAt:    time.Now().UTC(),
		Key:           key,
	}
}

// TurnAppended records a new in-flight turn.
func TurnAppended(t *turn.Turn) *Event {
	e := newEvent(TypeTurnAppended, t.SessionID)
	e.SessionID = t.SessionID
	e.UserID = t.UserID
	e.TurnID = t.ID
	return e
}

// TurnCompleted records a turn whose assistant text has been written.
func TurnCompleted(t *turn.Turn) *Event {
	e := newEvent(TypeTurnCompleted, t.SessionID)
	e.SessionID = t.SessionID
	e.UserID = t.UserID
	e.TurnID = t.ID
	e.TokenCount = t.Tokens()
	return e
}

// TierTransitioned records a tier move from the transition log.
func TierTransitioned(sessionID string, tr *turn.Transition) *Event {
	e := newEvent(TypeTierTransition, sessionID)
	e.SessionID = sessionID
	e.TurnID = tr.TurnID
	e.FromTier = tr.FromTier
	e.ToTier = tr.ToTier
	e.Reason = tr.Reason
	return e
}

// SessionEnded records a session close with its final counters.
func SessionEnded(s *turn.Session) *Event {
	e := newEvent(TypeSessionEnded, s.ID)
	e.SessionID = s.ID
	e.UserID = s.UserID
	e.TurnCount = int(s.TurnCount)
	e.TokenCount = int(s.TotalTokens)
	return e
}

// IndexRebuilt records a full ranked-index rebuild.
func IndexRebuilt(documents int) *Event {
	e := newEvent(TypeIndexRebuilt, "index")
	e.TurnCount = documents
	return e
}
