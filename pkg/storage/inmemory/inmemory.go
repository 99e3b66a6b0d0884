// Package inmemory provides an in-memory storage.Store used for tests and
// local development. Data is lost on process exit.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/turn"
)

// Store implements storage.Store using in-process maps guarded by a single
// RWMutex. Reads from independent sessions never block each other beyond
// the map lock itself.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*turn.Session
	turns       map[string]*turn.Turn
	transitions map[string][]*turn.Transition

	// sessionTurns preserves append order per session.
	sessionTurns map[string][]string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]*turn.Session),
		turns:        make(map[string]*turn.Turn),
		transitions:  make(map[string][]*turn.Transition),
		sessionTurns: make(map[string][]string),
	}
}

func (s *Store) CreateSession(_ context.Context, userID string) (*turn.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Active() {
			return nil, storage.ErrActiveSessionExists
		}
	}

	sess := &turn.Session{
		ID:        turn.NewID(),
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess

	out := *sess
	return &out, nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*turn.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.NotFoundError{Kind: "session", ID: sessionID}
	}
	out := *sess
	return &out, nil
}

func (s *Store) ActiveSession(_ context.Context, userID string) (*turn.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Active() {
			out := *sess
			return &out, nil
		}
	}
	return nil, storage.NotFoundError{Kind: "session"}
}

func (s *Store) EndSession(_ context.Context, sessionID string) (*turn.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.NotFoundError{Kind: "session", ID: sessionID}
	}
	if sess.Active() {
		sess.EndedAt = time.Now().UTC()
	}
	out := *sess
	return &out, nil
}

func (s *Store) AppendTurn(_ context.Context, sessionID, userText string) (*turn.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.NotFoundError{Kind: "session", ID: sessionID}
	}
	if !sess.Active() {
		return nil, storage.ErrSessionEnded
	}

	now := time.Now().UTC()
	t := &turn.Turn{
		ID:             turn.NewID(),
		SessionID:      sessionID,
		UserID:         sess.UserID,
		SequenceNumber: sess.TurnCount + 1,
		UserText:       userText,
		CreatedAt:      now,
		TokenCountUser: turn.EstimateTokens(userText),
		Tier:           turn.TierHot,
		TierChangedAt:  now,
	}

	s.turns[t.ID] = t
	s.sessionTurns[sessionID] = append(s.sessionTurns[sessionID], t.ID)
	sess.TurnCount++
	sess.TotalTokens += int64(t.TokenCountUser)

	out := *t
	return &out, nil
}

func (s *Store) CompleteTurn(_ context.Context, turnID, assistantText string, userTokens, assistantTokens int) (*turn.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.turns[turnID]
	if !ok {
		return nil, storage.NotFoundError{Kind: "turn", ID: turnID}
	}

	if userTokens <= 0 {
		userTokens = t.TokenCountUser
	}
	if assistantTokens <= 0 {
		assistantTokens = turn.EstimateTokens(assistantText)
	}

	if sess, ok := s.sessions[t.SessionID]; ok {
		sess.TotalTokens += int64(userTokens-t.TokenCountUser) + int64(assistantTokens-t.TokenCountAssistant)
	}

	t.AssistantText = assistantText
	t.Completed = true
	t.TokenCountUser = userTokens
	t.TokenCountAssistant = assistantTokens

	out := *t
	return &out, nil
}

func (s *Store) GetTurn(_ context.Context, turnID string) (*turn.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.turns[turnID]
	if !ok {
		return nil, storage.NotFoundError{Kind: "turn", ID: turnID}
	}
	out := *t
	return &out, nil
}

func (s *Store) GetTurns(_ context.Context, sessionID string, offset, limit int) ([]*turn.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sessionTurns[sessionID]
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*turn.Turn, 0, len(ids))
	for _, id := range ids {
		t := *s.turns[id]
		out = append(out, &t)
	}
	return out, nil
}

func (s *Store) GetTurnsForUser(_ context.Context, userID string, limit int) ([]*turn.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > storage.MaxUserTurns {
		limit = storage.MaxUserTurns
	}

	// Order sessions by start time, then turns by sequence.
	sessions := make([]*turn.Session, 0)
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	var out []*turn.Turn
	for _, sess := range sessions {
		for _, id := range s.sessionTurns[sess.ID] {
			t := *s.turns[id]
			out = append(out, &t)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) GetTurnsByTier(_ context.Context, sessionID string, tier turn.Tier) ([]*turn.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*turn.Turn
	for _, id := range s.sessionTurns[sessionID] {
		if t := s.turns[id]; t.Tier == tier {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListTurns(_ context.Context, offset, limit int) ([]*turn.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.turns))
	for id := range s.turns {
		ids = append(ids, id)
	}
	sort.Strings(ids) // ULIDs sort by creation time

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*turn.Turn, 0, len(ids))
	for _, id := range ids {
		t := *s.turns[id]
		out = append(out, &t)
	}
	return out, nil
}

func (s *Store) TransitionTier(_ context.Context, turnID string, to turn.Tier, reason string, override bool) (*turn.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(turnID, to, reason, override)
}

func (s *Store) transitionLocked(turnID string, to turn.Tier, reason string, override bool) (*turn.Transition, error) {
	t, ok := s.turns[turnID]
	if !ok {
		return nil, storage.NotFoundError{Kind: "turn", ID: turnID}
	}
	if !override && !t.Tier.CanAdvanceTo(to) {
		return nil, storage.ErrTierRegression
	}

	now := time.Now().UTC()
	tr := &turn.Transition{
		TurnID:         turnID,
		FromTier:       t.Tier,
		ToTier:         to,
		TransitionedAt: now,
		Reason:         reason,
	}
	s.transitions[turnID] = append(s.transitions[turnID], tr)
	t.Tier = to
	t.TierChangedAt = now

	out := *tr
	return &out, nil
}

func (s *Store) TransitionSessionTurns(_ context.Context, sessionID string, from, to turn.Tier, reason string) ([]*turn.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*turn.Transition
	for _, id := range s.sessionTurns[sessionID] {
		if s.turns[id].Tier != from {
			continue
		}
		tr, err := s.transitionLocked(id, to, reason, false)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (s *Store) GetTransitions(_ context.Context, turnID string) ([]*turn.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trs := s.transitions[turnID]
	out := make([]*turn.Transition, len(trs))
	for i, tr := range trs {
		cp := *tr
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) SetCriticality(_ context.Context, turnID string, critical bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.turns[turnID]
	if !ok {
		return storage.NotFoundError{Kind: "turn", ID: turnID}
	}
	t.Criticality = critical
	return nil
}

func (s *Store) Stats(_ context.Context, sessionID string) (*storage.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.NotFoundError{Kind: "session", ID: sessionID}
	}

	stats := &storage.SessionStats{
		SessionID:   sessionID,
		TurnCount:   sess.TurnCount,
		TotalTokens: sess.TotalTokens,
	}
	for _, id := range s.sessionTurns[sessionID] {
		switch s.turns[id].Tier {
		case turn.TierHot:
			stats.HotTurns++
		case turn.TierWarm:
			stats.WarmTurns++
		case turn.TierCold:
			stats.ColdTurns++
		}
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

var _ storage.Store = (*Store)(nil)
