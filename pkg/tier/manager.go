// Package tier owns the Hot/Warm/Cold retention state machine and the
// ranked query surface over it.
//
// Hot holds the newest turns up to a turn count and token budget; overflow
// evicts oldest-first to Warm, synchronously with the write that caused it.
// Warm turns move to Cold in one batch when their session ends; Cold is
// terminal under normal operation. Every transition is recorded in the
// store's transition log atomically with the tier mutation.
package tier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/engram/pkg/index"
	"github.com/papercomputeco/engram/pkg/significance"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/turn"
)

// Config bounds the hot and warm tiers. Hot is limited by whichever of
// MaxTurns/MaxTokens is hit first.
type Config struct {
	HotMaxTurns  int
	HotMaxTokens int

	// WarmMaxResults caps ranked retrieval out of Warm and Cold.
	WarmMaxResults int

	// WarmMaxTurns and WarmMaxTokens are nominal Warm sizes. Warm only
	// drains on session end, so crossing them is logged rather than
	// enforced.
	WarmMaxTurns  int
	WarmMaxTokens int
}

// DefaultConfig returns the stock tier bounds.
func DefaultConfig() Config {
	return Config{
		HotMaxTurns:    5,
		HotMaxTokens:   1500,
		WarmMaxResults: 50,
		WarmMaxTurns:   50,
		WarmMaxTokens:  15000,
	}
}

// ScoredTurn pairs a retrieved turn with its ranking scores.
type ScoredTurn struct {
	Turn         *turn.Turn `json:"turn"`
	IndexScore   float64    `json:"index_score"`
	Significance float64    `json:"significance"`
}

// Manager drives tier transitions and answers tier-scoped queries. It is
// the only component that mutates a turn's tier.
type Manager struct {
	store   storage.Store
	index   *index.Index
	weights significance.Weights
	config  Config
	logger  *slog.Logger
}

// NewManager creates a tier manager over the given store and ranked index.
func NewManager(store storage.Store, idx *index.Index, weights significance.Weights, config Config, logger *slog.Logger) (*Manager, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if config.HotMaxTurns <= 0 || config.HotMaxTokens <= 0 {
		return nil, fmt.Errorf("invalid tier config: hot bounds must be positive")
	}
	if config.WarmMaxResults <= 0 {
		config.WarmMaxResults = DefaultConfig().WarmMaxResults
	}
	if config.WarmMaxTurns <= 0 {
		config.WarmMaxTurns = DefaultConfig().WarmMaxTurns
	}
	if config.WarmMaxTokens <= 0 {
		config.WarmMaxTokens = DefaultConfig().WarmMaxTokens
	}
	return &Manager{
		store:   store,
		index:   idx,
		weights: weights,
		config:  config,
		logger:  logger,
	}, nil
}

// Rebalance enforces the hot tier bound for a session, evicting oldest
// turns to Warm until Hot is back within both the turn count and token
// budget. Called synchronously after every append and complete. Returns the
// transitions it performed.
func (m *Manager) Rebalance(ctx context.Context, sessionID string) ([]*turn.Transition, error) {
	hot, err := m.store.GetTurnsByTier(ctx, sessionID, turn.TierHot)
	if err != nil {
		return nil, fmt.Errorf("loading hot tier: %w", err)
	}

	tokens := 0
	for _, t := range hot {
		tokens += t.Tokens()
	}

	var out []*turn.Transition
	// hot is ordered oldest-first; evict from the front (FIFO).
	for i := 0; len(hot)-i > m.config.HotMaxTurns || (tokens > m.config.HotMaxTokens && len(hot)-i > 1); i++ {
		evict := hot[i]
		tr, err := m.store.TransitionTier(ctx, evict.ID, turn.TierWarm, turn.ReasonCapacity, false)
		if err != nil {
			return out, fmt.Errorf("evicting turn %s: %w", evict.ID, err)
		}
		tokens -= evict.Tokens()
		out = append(out, tr)

		m.logger.Debug("evicted hot turn",
			"turn_id", evict.ID,
			"session_id", sessionID,
			"sequence", evict.SequenceNumber,
		)
	}

	if len(out) > 0 {
		m.warnWarmOverflow(ctx, sessionID)
	}
	return out, nil
}

// warnWarmOverflow reports when a session's warm tier has grown past its
// nominal size. Warm drains only on session end, so this is observability,
// not an eviction trigger.
func (m *Manager) warnWarmOverflow(ctx context.Context, sessionID string) {
	warm, err := m.store.GetTurnsByTier(ctx, sessionID, turn.TierWarm)
	if err != nil {
		return
	}
	tokens := 0
	for _, t := range warm {
		tokens += t.Tokens()
	}
	if len(warm) > m.config.WarmMaxTurns || tokens > m.config.WarmMaxTokens {
		m.logger.Warn("warm tier over nominal bound",
			"session_id", sessionID,
			"warm_turns", len(warm),
			"warm_tokens", tokens,
			"max_turns", m.config.WarmMaxTurns,
			"max_tokens", m.config.WarmMaxTokens,
		)
	}
}

// EndSession ends the session and bulk-moves its remaining Hot and Warm
// turns to Cold in one transition batch with reason "session_end".
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*turn.Session, []*turn.Transition, error) {
	sess, err := m.store.EndSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	var out []*turn.Transition
	for _, from := range []turn.Tier{turn.TierWarm, turn.TierHot} {
		trs, err := m.store.TransitionSessionTurns(ctx, sessionID, from, turn.TierCold, turn.ReasonSessionEnd)
		if err != nil {
			return sess, out, fmt.Errorf("archiving %s turns: %w", from, err)
		}
		out = append(out, trs...)
	}

	m.logger.Info("session ended",
		"session_id", sessionID,
		"archived_turns", len(out),
	)
	return sess, out, nil
}

// SetTier is the administrative override path. It bypasses the monotonicity
// rule and is audit-logged with the operator's reason.
func (m *Manager) SetTier(ctx context.Context, turnID string, to turn.Tier, reason string) (*turn.Transition, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("invalid tier %q", to)
	}
	if reason == "" {
		return nil, fmt.Errorf("override reason is required")
	}

	tr, err := m.store.TransitionTier(ctx, turnID, to, reason, true)
	if err != nil {
		return nil, err
	}

	m.logger.Warn("administrative tier override",
		"turn_id", turnID,
		"from", tr.FromTier,
		"to", tr.ToTier,
		"reason", reason,
	)
	return tr, nil
}

// GetHot returns the session's hot turns, oldest first (newest-last).
func (m *Manager) GetHot(ctx context.Context, sessionID string) ([]*turn.Turn, error) {
	return m.store.GetTurnsByTier(ctx, sessionID, turn.TierHot)
}

// SearchWarm runs a ranked query over the session's warm turns, ordered by
// composite significance.
func (m *Manager) SearchWarm(ctx context.Context, sessionID, query string, limit int) ([]*ScoredTurn, error) {
	warm, err := m.store.GetTurnsByTier(ctx, sessionID, turn.TierWarm)
	if err != nil {
		return nil, fmt.Errorf("loading warm tier: %w", err)
	}
	return m.rank(query, warm, limit), nil
}

// SearchCold runs a ranked query over the user's cold turns across
// sessions.
func (m *Manager) SearchCold(ctx context.Context, userID, query string, limit int) ([]*ScoredTurn, error) {
	all, err := m.store.GetTurnsForUser(ctx, userID, storage.MaxUserTurns)
	if err != nil {
		return nil, fmt.Errorf("loading user turns: %w", err)
	}

	cold := make([]*turn.Turn, 0, len(all))
	for _, t := range all {
		if t.Tier == turn.TierCold {
			cold = append(cold, t)
		}
	}
	return m.rank(query, cold, limit), nil
}

// rank queries the ranked index restricted to the candidate turns and folds
// in significance ordering.
func (m *Manager) rank(query string, candidates []*turn.Turn, limit int) []*ScoredTurn {
	if limit <= 0 || limit > m.config.WarmMaxResults {
		limit = m.config.WarmMaxResults
	}
	if len(candidates) == 0 {
		return nil
	}

	byID := make(map[string]*turn.Turn, len(candidates))
	for _, t := range candidates {
		byID[t.ID] = t
	}

	hits := m.index.Query(query, limit, func(id string) bool {
		_, ok := byID[id]
		return ok
	})
	if len(hits) == 0 {
		return nil
	}

	// Age in turns relative to the newest candidate: candidates arrive
	// ordered oldest-first, so age is the count of newer candidates.
	age := make(map[string]int, len(candidates))
	for i, t := range candidates {
		age[t.ID] = len(candidates) - 1 - i
	}

	scoreByID := make(map[string]float64, len(hits))
	scoredCandidates := make([]significance.Candidate, 0, len(hits))
	for _, hit := range hits {
		scoreByID[hit.TurnID] = hit.Score
		scoredCandidates = append(scoredCandidates, significance.Candidate{
			TurnID:     hit.TurnID,
			AgeInTurns: age[hit.TurnID],
			IndexScore: hit.Score,
			Critical:   byID[hit.TurnID].Criticality,
		})
	}

	ranked := significance.Score(m.weights, scoredCandidates)

	out := make([]*ScoredTurn, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, &ScoredTurn{
			Turn:         byID[r.TurnID],
			IndexScore:   scoreByID[r.TurnID],
			Significance: r.Significance,
		})
	}
	return out
}

// IndexTurn upserts a turn's text into the ranked index. Called after
// append and again after completion so the assistant half is searchable.
func (m *Manager) IndexTurn(t *turn.Turn) {
	m.index.Upsert(t.ID, t.SequenceNumber, t.Text())
}

// RebuildIndex reconstructs the ranked index from the turn store. The index
// is a derived projection; this is the recovery path and the consistency
// check used in tests.
func (m *Manager) RebuildIndex(ctx context.Context) (int, error) {
	m.index.Reset()

	const page = 500
	total := 0
	for offset := 0; ; offset += page {
		turns, err := m.store.ListTurns(ctx, offset, page)
		if err != nil {
			return total, fmt.Errorf("listing turns at offset %d: %w", offset, err)
		}
		if len(turns) == 0 {
			break
		}
		for _, t := range turns {
			m.index.Upsert(t.ID, t.SequenceNumber, t.Text())
			total++
		}
		if len(turns) < page {
			break
		}
	}

	m.logger.Info("ranked index rebuilt", "turns", total)
	return total, nil
}
