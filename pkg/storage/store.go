// Package storage defines the persistence interface for turns, sessions, and
// the tier transition log.
package storage

import (
	"context"

	"github.com/papercomputeco/engram/pkg/turn"
)

// MaxUserTurns caps cross-session reads per user to bound query cost.
const MaxUserTurns = 100

// SessionStats summarizes a session for introspection.
type SessionStats struct {
	SessionID   string `json:"session_id"`
	TurnCount   int64  `json:"turn_count"`
	TotalTokens int64  `json:"total_tokens"`
	HotTurns    int64  `json:"hot_turns"`
	WarmTurns   int64  `json:"warm_turns"`
	ColdTurns   int64  `json:"cold_turns"`
}

// Store is the durable backing for the turn log, sessions, and the tier
// transition log. The store exclusively owns Turn persistence; tier
// mutations go through TransitionTier so the transition log and the tier
// column change atomically (both succeed or both fail).
//
// All turn reads return turns ordered by (session start time,
// sequence_number) ascending.
type Store interface {
	// CreateSession starts a new session for the user. Returns
	// ErrActiveSessionExists if the user already has an active session.
	CreateSession(ctx context.Context, userID string) (*turn.Session, error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*turn.Session, error)

	// ActiveSession returns the user's active session, or NotFoundError if
	// none exists.
	ActiveSession(ctx context.Context, userID string) (*turn.Session, error)

	// EndSession marks the session ended. Idempotent on already-ended
	// sessions.
	EndSession(ctx context.Context, sessionID string) (*turn.Session, error)

	// AppendTurn appends a new in-flight turn (assistant text pending) to
	// the session, assigning the next sequence number. The turn starts in
	// the Hot tier.
	AppendTurn(ctx context.Context, sessionID, userText string) (*turn.Turn, error)

	// CompleteTurn records the assistant text and token counts once
	// generation finishes.
	CompleteTurn(ctx context.Context, turnID, assistantText string, userTokens, assistantTokens int) (*turn.Turn, error)

	// GetTurn retrieves a turn by ID.
	GetTurn(ctx context.Context, turnID string) (*turn.Turn, error)

	// GetTurns returns the session's turns ordered by sequence number.
	GetTurns(ctx context.Context, sessionID string, offset, limit int) ([]*turn.Turn, error)

	// GetTurnsForUser returns the user's turns across sessions, newest
	// sessions last. The limit is clamped to MaxUserTurns.
	GetTurnsForUser(ctx context.Context, userID string, limit int) ([]*turn.Turn, error)

	// GetTurnsByTier returns the session's turns currently in the given
	// tier, ordered by sequence number.
	GetTurnsByTier(ctx context.Context, sessionID string, tier turn.Tier) ([]*turn.Turn, error)

	// ListTurns pages over every stored turn. Used to rebuild derived
	// projections such as the ranked index.
	ListTurns(ctx context.Context, offset, limit int) ([]*turn.Turn, error)

	// TransitionTier moves a turn to a new tier, recording a transition-log
	// entry atomically with the mutation. Automatic transitions must move
	// forward (Hot→Warm→Cold); override permits administrative regression
	// and is expected to be audit-logged by the caller.
	TransitionTier(ctx context.Context, turnID string, to turn.Tier, reason string, override bool) (*turn.Transition, error)

	// TransitionSessionTurns bulk-moves all of the session's turns in the
	// from tier to the to tier in one atomic batch. Returns the recorded
	// transitions.
	TransitionSessionTurns(ctx context.Context, sessionID string, from, to turn.Tier, reason string) ([]*turn.Transition, error)

	// GetTransitions returns the transition-log entries for a turn, oldest
	// first.
	GetTransitions(ctx context.Context, turnID string) ([]*turn.Transition, error)

	// SetCriticality flags or unflags a turn as identity-forming.
	SetCriticality(ctx context.Context, turnID string, critical bool) error

	// Stats summarizes a session.
	Stats(ctx context.Context, sessionID string) (*SessionStats, error)

	// Close releases store resources.
	Close() error
}
