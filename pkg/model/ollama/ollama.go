// Package ollama implements pkg/model's capabilities against Ollama's
// generate API, for running the full system locally.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/papercomputeco/engram/pkg/model"
)

const (
	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultGenerationModel is the default model for user-facing output.
	DefaultGenerationModel = "llama3.2"

	// DefaultRecognitionModel is the default model for the recognition
	// passes. Smaller than the generation model on purpose.
	DefaultRecognitionModel = "llama3.2:1b"
)

// Config holds configuration for the Ollama client.
type Config struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the model name. Required per-client; see the defaults above.
	Model string

	// Timeout bounds each call. Defaults to 120s for generation clients;
	// recognition callers pass tighter deadlines via ctx.
	Timeout time.Duration
}

// Client wraps Ollama's generate API. It serves as both a GenerationModel
// and a RecognitionModel depending on the configured model.
type Client struct {
	baseURL    string
	modelName  string
	httpClient *http.Client
}

// generateRequest is the request body for Ollama's generate API.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the non-streaming response from Ollama's generate API.
type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewClient creates an Ollama client for the configured model.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL:   baseURL,
		modelName: cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate produces the assistant response for a prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (*model.GenerationResult, error) {
	resp, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, &model.ProviderError{Provider: "ollama", Err: err}
	}
	return &model.GenerationResult{
		Text:             resp.Response,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

// Infer runs a recognition inference, returning the raw model output.
func (c *Client) Infer(ctx context.Context, prompt string) (string, error) {
	resp, err := c.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrRecognitionUnavailable, err)
	}
	return resp.Response, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (*generateResponse, error) {
	reqBody := generateRequest{
		Model:  c.modelName,
		Prompt: prompt,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &genResp, nil
}

var (
	_ model.GenerationModel  = (*Client)(nil)
	_ model.RecognitionModel = (*Client)(nil)
)
