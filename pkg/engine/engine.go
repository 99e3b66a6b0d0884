// Package engine orchestrates the full turn lifecycle: append, index,
// rebalance tiers, run the two-pass recognition protocol, generate, and
// complete. It is the single entry point the serving surfaces build on.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/model"
	"github.com/papercomputeco/engram/pkg/recognition"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/tier"
	"github.com/papercomputeco/engram/pkg/turn"
	"github.com/papercomputeco/engram/pkg/worker"
)

// Response is the outcome of one processed turn.
type Response struct {
	Turn        *turn.Turn          `json:"turn"`
	Text        string              `json:"text"`
	Recognition *recognition.Result `json:"recognition"`
	Transitions []*turn.Transition  `json:"transitions,omitempty"`
}

// SearchResults groups ranked retrievals by the tier they came from.
type SearchResults struct {
	Warm []*tier.ScoredTurn `json:"warm"`
	Cold []*tier.ScoredTurn `json:"cold"`
}

// Engine coordinates storage, tiering, recognition, and generation.
// Turns within a session are serialized; sessions proceed in parallel.
type Engine struct {
	store       storage.Store
	tiers       *tier.Manager
	coordinator *recognition.Coordinator
	generator   model.GenerationModel
	events      eventstream.Publisher
	pool        *worker.Pool
	logger      *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New assembles an engine. The event publisher and worker pool are
// required; pass eventstream.Nop and a fresh pool when no broker is
// configured.
func New(
	store storage.Store,
	tiers *tier.Manager,
	coordinator *recognition.Coordinator,
	generator model.GenerationModel,
	events eventstream.Publisher,
	pool *worker.Pool,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		tiers:       tiers,
		coordinator: coordinator,
		generator:   generator,
		events:      events,
		pool:        pool,
		logger:      logger,
	}
}

// StartSession opens a session for the user, or returns the active one.
func (e *Engine) StartSession(ctx context.Context, userID string) (*turn.Session, error) {
	if sess, err := e.store.ActiveSession(ctx, userID); err == nil {
		return sess, nil
	} else if !storage.IsNotFound(err) {
		return nil, fmt.Errorf("looking up active session: %w", err)
	}
	return e.store.CreateSession(ctx, userID)
}

// ProcessTurn runs the full pipeline for a new user message. A second
// in-flight message on the same session fails fast with ErrSessionBusy.
// Cancellation abandons recognition and generation, never the appended
// turn.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, userText string) (*Response, error) {
	if !e.acquire(sessionID) {
		return nil, storage.ErrSessionBusy
	}
	defer e.release(sessionID)

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	gap := e.temporalGap(ctx, sessionID)

	t, err := e.store.AppendTurn(ctx, sessionID, userText)
	if err != nil {
		return nil, err
	}
	e.tiers.IndexTurn(t)
	e.publishAsync(eventstream.TurnAppended(t))

	transitions, err := e.tiers.Rebalance(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("rebalancing tiers: %w", err)
	}
	for _, tr := range transitions {
		e.publishAsync(eventstream.TierTransitioned(sessionID, tr))
	}

	result, err := e.coordinator.Run(ctx, sessionID, sess.UserID, userText, gap)
	if err != nil {
		return nil, err
	}

	gen, err := e.generator.Generate(ctx, result.Prompt)
	if err != nil {
		return nil, &model.ProviderError{Provider: "generation", Err: err}
	}

	userTokens := gen.PromptTokens
	if userTokens <= 0 {
		userTokens = turn.EstimateTokens(userText)
	}
	assistantTokens := gen.CompletionTokens
	if assistantTokens <= 0 {
		assistantTokens = turn.EstimateTokens(gen.Text)
	}

	completed, err := e.store.CompleteTurn(ctx, t.ID, gen.Text, userTokens, assistantTokens)
	if err != nil {
		return nil, err
	}
	e.tiers.IndexTurn(completed)
	e.publishAsync(eventstream.TurnCompleted(completed))

	// The completion's assistant tokens count against the hot budget too.
	evicted, err := e.tiers.Rebalance(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("rebalancing tiers: %w", err)
	}
	for _, tr := range evicted {
		e.publishAsync(eventstream.TierTransitioned(sessionID, tr))
	}
	transitions = append(transitions, evicted...)

	return &Response{
		Turn:        completed,
		Text:        gen.Text,
		Recognition: result,
		Transitions: transitions,
	}, nil
}

// EndSession closes the session and demotes every remaining turn to Cold.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (*turn.Session, error) {
	sess, transitions, err := e.tiers.EndSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, tr := range transitions {
		e.publishAsync(eventstream.TierTransitioned(sessionID, tr))
	}
	e.publishAsync(eventstream.SessionEnded(sess))
	return sess, nil
}

// SetTier administratively moves a turn between tiers. The reason is
// mandatory and lands in the transition log.
func (e *Engine) SetTier(ctx context.Context, turnID string, to turn.Tier, reason string) (*turn.Transition, error) {
	t, err := e.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}

	tr, err := e.tiers.SetTier(ctx, turnID, to, reason)
	if err != nil {
		return nil, err
	}
	e.publishAsync(eventstream.TierTransitioned(t.SessionID, tr))
	return tr, nil
}

// PreviewBundle runs the two-pass protocol for a hypothetical message
// without appending a turn or generating a response.
func (e *Engine) PreviewBundle(ctx context.Context, sessionID, userText string) (*recognition.Result, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.coordinator.Run(ctx, sessionID, sess.UserID, userText, e.temporalGap(ctx, sessionID))
}

// Search runs a ranked query over the session's warm tier and the user's
// cold tier.
func (e *Engine) Search(ctx context.Context, sessionID, query string, limit int) (*SearchResults, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	warm, err := e.tiers.SearchWarm(ctx, sessionID, query, limit)
	if err != nil {
		return nil, err
	}
	cold, err := e.tiers.SearchCold(ctx, sess.UserID, query, limit)
	if err != nil {
		return nil, err
	}
	return &SearchResults{Warm: warm, Cold: cold}, nil
}

// Transitions returns a turn's tier transition log, oldest first.
func (e *Engine) Transitions(ctx context.Context, turnID string) ([]*turn.Transition, error) {
	if _, err := e.store.GetTurn(ctx, turnID); err != nil {
		return nil, err
	}
	return e.store.GetTransitions(ctx, turnID)
}

// Stats summarizes a session.
func (e *Engine) Stats(ctx context.Context, sessionID string) (*storage.SessionStats, error) {
	return e.store.Stats(ctx, sessionID)
}

// RebuildIndex repopulates the ranked index from the turn log.
func (e *Engine) RebuildIndex(ctx context.Context) (int, error) {
	n, err := e.tiers.RebuildIndex(ctx)
	if err != nil {
		return 0, err
	}
	e.publishAsync(eventstream.IndexRebuilt(n))
	return n, nil
}

// Close drains background work and flushes pending writebacks.
func (e *Engine) Close() {
	e.coordinator.Flush()
	e.pool.Close()
	if err := e.events.Close(); err != nil {
		e.logger.Warn("closing event publisher", "error", err)
	}
}

func (e *Engine) acquire(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight == nil {
		e.inFlight = make(map[string]struct{})
	}
	if _, busy := e.inFlight[sessionID]; busy {
		return false
	}
	e.inFlight[sessionID] = struct{}{}
	return true
}

func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	delete(e.inFlight, sessionID)
	e.mu.Unlock()
}

// temporalGap is the time since the session's newest turn, or a day for a
// fresh session so the fallback plan does not assume continuity.
func (e *Engine) temporalGap(ctx context.Context, sessionID string) time.Duration {
	stats, err := e.store.Stats(ctx, sessionID)
	if err != nil || stats.TurnCount == 0 {
		return 24 * time.Hour
	}

	turns, err := e.store.GetTurns(ctx, sessionID, int(stats.TurnCount)-1, 1)
	if err != nil || len(turns) == 0 {
		return 24 * time.Hour
	}
	return time.Since(turns[len(turns)-1].CreatedAt)
}

func (e *Engine) publishAsync(event *eventstream.Event) {
	e.pool.Enqueue(worker.Job{
		Name: event.Type,
		Fn: func(ctx context.Context) error {
			return e.events.Publish(ctx, event)
		},
	})
}
