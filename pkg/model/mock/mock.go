// Package mock provides scriptable model capabilities for tests.
package mock

import (
	"context"
	"sync"

	"github.com/papercomputeco/engram/pkg/model"
)

// Generation is a scriptable GenerationModel.
type Generation struct {
	mu sync.Mutex

	// Result is returned from Generate when Err is nil.
	Result *model.GenerationResult

	// Err is returned from Generate when set.
	Err error

	// Release, when non-nil, blocks Generate until it is closed or the
	// context is done. Simulates a slow generation call.
	Release chan struct{}

	// Prompts records every prompt passed to Generate.
	Prompts []string
}

func (g *Generation) Generate(ctx context.Context, prompt string) (*model.GenerationResult, error) {
	g.mu.Lock()
	g.Prompts = append(g.Prompts, prompt)
	release := g.Release
	g.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if g.Err != nil {
		return nil, g.Err
	}
	if g.Result != nil {
		return g.Result, nil
	}
	return &model.GenerationResult{Text: "ok"}, nil
}

// PromptCount returns how many times Generate has been invoked.
func (g *Generation) PromptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Prompts)
}

// Recognition is a scriptable RecognitionModel. Each call pops the next
// scripted response; when the script is exhausted the last entry repeats.
type Recognition struct {
	mu sync.Mutex

	// Responses are returned from Infer in order.
	Responses []string

	// Errs are returned from Infer in order, paired with Responses by
	// index; a nil entry means success.
	Errs []error

	// Hang, when set, blocks Infer until the context is done and returns
	// ctx.Err(). Simulates a timed-out capability.
	Hang bool

	// Prompts records every prompt passed to Infer.
	Prompts []string

	calls int
}

func (r *Recognition) Infer(ctx context.Context, prompt string) (string, error) {
	if r.Hang {
		<-ctx.Done()
		return "", ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Prompts = append(r.Prompts, prompt)
	i := r.calls
	r.calls++

	if len(r.Errs) > 0 {
		j := i
		if j >= len(r.Errs) {
			j = len(r.Errs) - 1
		}
		if err := r.Errs[j]; err != nil {
			return "", err
		}
	}

	if len(r.Responses) == 0 {
		return "", nil
	}
	if i >= len(r.Responses) {
		i = len(r.Responses) - 1
	}
	return r.Responses[i], nil
}

// Calls returns how many times Infer has been invoked.
func (r *Recognition) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var (
	_ model.GenerationModel  = (*Generation)(nil)
	_ model.RecognitionModel = (*Recognition)(nil)
)
