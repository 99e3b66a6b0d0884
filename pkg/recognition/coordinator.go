// Package recognition runs the two-pass protocol that decides what stored
// memory to surface before the user-facing generation pass. Pass one asks a
// cheap recognition capability for a retrieval plan; pass two assembles the
// memory bundle and asks the capability to annotate it. Both passes degrade
// to deterministic fallbacks, so a dead recognition capability never blocks
// a response.
package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/model"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/tier"
	"github.com/papercomputeco/engram/pkg/turn"
)

// State names a step of the two-pass protocol. The coordinator records the
// states it passes through so fallback engagement is observable rather than
// an implicit catch-all.
type State string

const (
	StateAwaitingPlan      State = "awaiting_plan"
	StatePlanReceived      State = "plan_received"
	StatePlanFallback      State = "plan_fallback"
	StateMemoryAssembled   State = "memory_assembled"
	StateContextBuilt      State = "context_built"
	StateAnnotationSkipped State = "annotation_skipped"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Config tunes the coordinator's retry budget and bundle limits.
type Config struct {
	// RetryCount is how many times a failed pass-one call is retried
	// after the initial attempt.
	RetryCount int

	// RetryBackoff is the first retry delay; it doubles per retry.
	RetryBackoff time.Duration

	// CallTimeout bounds each individual recognition call.
	CallTimeout time.Duration

	// TokenBudget caps the assembled bundle's token count.
	TokenBudget int

	// MaxResults is the server-side clamp on a plan's result cap.
	MaxResults int
}

// DefaultConfig returns the standard retry and bundle limits.
func DefaultConfig() Config {
	return Config{
		RetryCount:   3,
		RetryBackoff: time.Second,
		CallTimeout:  5 * time.Second,
		TokenBudget:  4000,
		MaxResults:   DefaultMaxResults,
	}
}

func (c Config) validate() error {
	if c.RetryCount < 0 {
		return errors.New("retry count must not be negative")
	}
	if c.TokenBudget <= 0 {
		return errors.New("token budget must be positive")
	}
	if c.MaxResults <= 0 {
		return errors.New("max results must be positive")
	}
	return nil
}

// Annotation is the structured output of the second recognition pass.
type Annotation struct {
	Topics          []string `json:"topics"`
	Domains         []string `json:"domains"`
	IdentityAnchors []string `json:"identity_anchors"`
	Summary         string   `json:"summary"`
}

// Result is everything the coordinator produced for one turn: the plan,
// the assembled bundle, the optional annotation, and the formatted
// generation prompt.
type Result struct {
	Plan       *Plan       `json:"plan"`
	Bundle     *Bundle     `json:"bundle"`
	Annotation *Annotation `json:"annotation,omitempty"`
	Prompt     string      `json:"prompt"`

	// PlanFromFallback is true when pass one exhausted its retry budget
	// and the deterministic plan was used instead.
	PlanFromFallback bool `json:"plan_from_fallback"`

	// Trace lists the states passed through, in order.
	Trace []State `json:"trace"`
}

// Coordinator drives the two-pass protocol for one turn at a time.
type Coordinator struct {
	tiers      *tier.Manager
	recognizer model.RecognitionModel
	store      storage.Store
	config     Config
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewCoordinator creates a coordinator over the given tier manager and
// recognition capability.
func NewCoordinator(tiers *tier.Manager, recognizer model.RecognitionModel, store storage.Store, config Config, logger *slog.Logger) (*Coordinator, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid recognition config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		tiers:      tiers,
		recognizer: recognizer,
		store:      store,
		config:     config,
		logger:     logger,
	}, nil
}

// Run executes both passes for a new user message and returns the
// generation-ready result. Storage failures propagate; recognition
// failures are absorbed by fallbacks.
func (c *Coordinator) Run(ctx context.Context, sessionID, userID, userText string, gap time.Duration) (*Result, error) {
	result := &Result{Trace: []State{StateAwaitingPlan}}

	hot, err := c.tiers.GetHot(ctx, sessionID)
	if err != nil {
		result.Trace = append(result.Trace, StateFailed)
		return nil, fmt.Errorf("loading hot turns: %w", err)
	}

	plan, planErr := c.inferPlan(ctx, buildPlanPrompt(userText, hot, gap))
	if planErr != nil {
		c.logger.Warn("plan selection failed, using fallback",
			"session_id", sessionID,
			"error", planErr)
		plan = FallbackPlan(userText, gap)
		result.PlanFromFallback = true
		result.Trace = append(result.Trace, StatePlanFallback)
	}
	plan.Clamp(c.config.MaxResults)
	result.Plan = plan
	result.Trace = append(result.Trace, StatePlanReceived)

	var warm, cold []*tier.ScoredTurn
	if plan.NeedsWarm {
		warm, err = c.tiers.SearchWarm(ctx, sessionID, plan.Query(), plan.MaxResults)
		if err != nil {
			result.Trace = append(result.Trace, StateFailed)
			return nil, fmt.Errorf("searching warm tier: %w", err)
		}
	}
	if plan.NeedsCold {
		cold, err = c.tiers.SearchCold(ctx, userID, plan.Query(), plan.MaxResults)
		if err != nil {
			result.Trace = append(result.Trace, StateFailed)
			return nil, fmt.Errorf("searching cold tier: %w", err)
		}
	}

	result.Bundle = AssembleBundle(hot, warm, cold, c.config.TokenBudget)
	result.Trace = append(result.Trace, StateMemoryAssembled)

	annotation, annErr := c.annotate(ctx, userText, gap, result.Bundle)
	if annErr != nil {
		c.logger.Warn("recognition annotation failed, proceeding without it",
			"session_id", sessionID,
			"error", annErr)
		result.Trace = append(result.Trace, StateAnnotationSkipped)
	} else {
		result.Annotation = annotation
		c.markAnchors(annotation, result.Bundle)
	}

	result.Prompt = buildGenerationPrompt(userText, result.Bundle, result.Annotation)
	result.Trace = append(result.Trace, StateContextBuilt, StateDone)
	return result, nil
}

// Flush blocks until pending criticality writebacks have finished. Used in
// tests and during shutdown.
func (c *Coordinator) Flush() {
	c.wg.Wait()
}

// inferPlan calls the recognition capability with exponential backoff. A
// malformed response counts as a failed attempt.
func (c *Coordinator) inferPlan(ctx context.Context, prompt string) (*Plan, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		response, err := c.recognizer.Infer(callCtx, prompt)
		cancel()

		if err == nil {
			plan, perr := parsePlan(response)
			if perr == nil {
				return plan, nil
			}
			err = perr
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %w", model.ErrRecognitionUnavailable, lastErr)
}

// annotate runs the second pass once. Enrichment is best-effort, so there
// is no retry budget here.
func (c *Coordinator) annotate(ctx context.Context, userText string, gap time.Duration, bundle *Bundle) (*Annotation, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	response, err := c.recognizer.Infer(callCtx, buildAnnotationPrompt(userText, gap, bundle))
	if err != nil {
		return nil, err
	}
	return parseAnnotation(response)
}

// markAnchors flags the annotation's identity-anchor turns as critical,
// asynchronously so the response path is never blocked on the write. Only
// turns actually present in the bundle are eligible.
func (c *Coordinator) markAnchors(annotation *Annotation, bundle *Bundle) {
	if len(annotation.IdentityAnchors) == 0 {
		return
	}

	eligible := make(map[string]struct{})
	for _, t := range bundle.Hot {
		eligible[t.ID] = struct{}{}
	}
	for _, entry := range bundle.Ranked {
		eligible[entry.Turn.ID] = struct{}{}
	}

	var anchors []string
	for _, id := range annotation.IdentityAnchors {
		if _, ok := eligible[id]; ok {
			anchors = append(anchors, id)
		}
	}
	if len(anchors) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.CallTimeout)
		defer cancel()

		for _, id := range anchors {
			if err := c.store.SetCriticality(ctx, id, true); err != nil {
				c.logger.Warn("criticality writeback failed",
					"turn_id", id,
					"error", err)
			}
		}
	}()
}

func parseAnnotation(response string) (*Annotation, error) {
	jsonStr := response
	if idx := strings.Index(response, "{"); idx >= 0 {
		endIdx := strings.LastIndex(response, "}")
		if endIdx > idx {
			jsonStr = response[idx : endIdx+1]
		}
	}

	var annotation Annotation
	if err := json.Unmarshal([]byte(jsonStr), &annotation); err != nil {
		return nil, fmt.Errorf("unmarshal annotation JSON: %w", err)
	}
	return &annotation, nil
}

func buildPlanPrompt(userText string, hot []*turn.Turn, gap time.Duration) string {
	var sb strings.Builder
	sb.WriteString("You select what stored conversation memory to retrieve before answering.\nReturn ONLY valid JSON with these fields:\n\n{\n  \"needs_warm\": \"bool, retrieve earlier turns from this session\",\n  \"needs_cold\": \"bool, retrieve turns from past sessions\",\n  \"search_terms\": [\"array of keywords to search for\"],\n  \"max_results\": \"int, how many retrieved turns are useful\",\n  \"rationale\": \"one sentence\"\n}\n\n")
	fmt.Fprintf(&sb, "Time since previous turn: %s\n\n", gap.Round(time.Second))

	if len(hot) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, t := range hot {
			writeTurn(&sb, t)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "New user message:\n%s\n", userText)
	return sb.String()
}

func buildAnnotationPrompt(userText string, gap time.Duration, bundle *Bundle) string {
	var sb strings.Builder
	sb.WriteString("You annotate retrieved conversation memory before answer generation.\nReturn ONLY valid JSON with these fields:\n\n{\n  \"topics\": [\"array of topics in play\"],\n  \"domains\": [\"array of subject domains\"],\n  \"identity_anchors\": [\"array of turn ids that reveal durable facts about the user\"],\n  \"summary\": \"1-2 sentence summary of the relevant memory\"\n}\n\n")
	fmt.Fprintf(&sb, "Time since previous turn: %s\n\n", gap.Round(time.Second))
	sb.WriteString(bundle.Render())
	fmt.Fprintf(&sb, "\nNew user message:\n%s\n", userText)
	return sb.String()
}

// buildGenerationPrompt formats the final prompt for the generation
// capability. Annotation enrichment is included when present and silently
// absent otherwise.
func buildGenerationPrompt(userText string, bundle *Bundle, annotation *Annotation) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant with memory of past conversations.\n\n")

	if annotation != nil && annotation.Summary != "" {
		fmt.Fprintf(&sb, "Memory summary: %s\n", annotation.Summary)
		if len(annotation.Topics) > 0 {
			fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(annotation.Topics, ", "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(bundle.Render())
	fmt.Fprintf(&sb, "\n[user] %s\n[assistant] ", userText)
	return sb.String()
}
