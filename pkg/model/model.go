// Package model defines the external LLM capabilities consumed by the
// engram core: a user-facing generation model and a cheap recognition
// model. Both are opaque beyond these interfaces; provider-specific wiring
// lives in subpackages.
package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrRecognitionUnavailable indicates the recognition capability could not
// be reached or produced no usable output. Recoverable: callers fall back
// to deterministic behavior, never surfacing this to the end user.
var ErrRecognitionUnavailable = errors.New("recognition model unavailable")

// ProviderError wraps a generation-model failure. Fatal for the current
// request only; the core never retries generation itself.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// GenerationResult carries the generated text and token accounting when the
// provider reports it (zero means unreported).
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// GenerationModel is the user-facing model: one prompt in, one response
// out.
type GenerationModel interface {
	// Generate produces the assistant response for a fully formatted
	// prompt. Fails with a *ProviderError.
	Generate(ctx context.Context, prompt string) (*GenerationResult, error)
}

// RecognitionModel is the background inference capability used twice per
// turn: once to select a retrieval plan and once to annotate the assembled
// memory. Implementations must honor ctx cancellation and deadlines.
type RecognitionModel interface {
	// Infer runs one bounded-time inference over the given prompt and
	// returns the model's raw textual output (expected, but not trusted,
	// to be JSON).
	Infer(ctx context.Context, prompt string) (string, error)
}
