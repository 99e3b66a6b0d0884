// Package turn defines the core conversation types for the engram system.
//
// A Turn is one user message plus the assistant response it produced. Turns
// belong to a Session and carry a retention Tier that only advances
// (Hot → Warm → Cold) as the turn ages out of the active context window.
package turn

import (
	"time"
)

// Tier indicates the retention policy and query cost for a Turn.
type Tier string

const (
	// TierHot holds the newest turns, returned verbatim with every context build.
	TierHot Tier = "hot"

	// TierWarm holds the rest of the active session, reachable via ranked search.
	TierWarm Tier = "warm"

	// TierCold holds turns from ended sessions, reachable cross-session per user.
	TierCold Tier = "cold"
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold:
		return true
	}
	return false
}

// rank orders tiers for monotonicity checks. Hot < Warm < Cold.
func (t Tier) rank() int {
	switch t {
	case TierHot:
		return 0
	case TierWarm:
		return 1
	case TierCold:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving from t to next follows the automatic
// state machine (tiers never regress without an administrative override).
func (t Tier) CanAdvanceTo(next Tier) bool {
	return t.Valid() && next.Valid() && next.rank() > t.rank()
}

// Turn is one user/assistant exchange.
//
// AssistantText is empty until generation completes; an empty AssistantText
// is valid only for the most recent in-flight turn of a session and is a
// normal, recoverable state rather than corruption.
type Turn struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	UserID              string    `json:"user_id"`
	SequenceNumber      int64     `json:"sequence_number"`
	UserText            string    `json:"user_text"`
	AssistantText       string    `json:"assistant_text,omitempty"`
	Completed           bool      `json:"completed"`
	CreatedAt           time.Time `json:"created_at"`
	TokenCountUser      int       `json:"token_count_user"`
	TokenCountAssistant int       `json:"token_count_assistant"`
	Tier                Tier      `json:"tier"`
	TierChangedAt       time.Time `json:"tier_changed_at"`
	Criticality         bool      `json:"criticality"`
}

// Tokens returns the combined user and assistant token count for the turn.
func (t *Turn) Tokens() int {
	return t.TokenCountUser + t.TokenCountAssistant
}

// Text returns the full exchange text, user first.
func (t *Turn) Text() string {
	if t.AssistantText == "" {
		return t.UserText
	}
	return t.UserText + "\n" + t.AssistantText
}

// Session is a bounded interaction window. EndedAt is zero while the
// session is active; at most one active session exists per user.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	TurnCount   int64     `json:"turn_count"`
	TotalTokens int64     `json:"total_tokens"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt.IsZero()
}

// Transition is an immutable tier transition-log entry. It is written
// atomically with the tier mutation it records.
type Transition struct {
	TurnID         string    `json:"turn_id"`
	FromTier       Tier      `json:"from_tier"`
	ToTier         Tier      `json:"to_tier"`
	TransitionedAt time.Time `json:"transitioned_at"`
	Reason         string    `json:"reason"`
}

// Transition reasons recorded in the log.
const (
	ReasonCapacity   = "capacity"
	ReasonSessionEnd = "session_end"
)
