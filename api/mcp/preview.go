package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	previewToolName    = "bundle_preview"
	previewDescription = "Preview the memory bundle that would be assembled for a hypothetical user message: the retrieval plan, the hot turns, and the ranked warm/cold retrievals under the token budget. Does not append a turn or generate a response."
)

// PreviewInput represents the input arguments for the bundle_preview tool.
type PreviewInput struct {
	SessionID string `json:"session_id" jsonschema:"the session to preview retrieval for"`
	Text      string `json:"text" jsonschema:"the hypothetical user message"`
}

// PreviewOutput represents the structured output of a bundle preview.
type PreviewOutput struct {
	NeedsWarm        bool     `json:"needs_warm"`
	NeedsCold        bool     `json:"needs_cold"`
	SearchTerms      []string `json:"search_terms"`
	PlanFromFallback bool     `json:"plan_from_fallback"`
	HotTurns         int      `json:"hot_turns"`
	RankedTurns      int      `json:"ranked_turns"`
	TokenCount       int      `json:"token_count"`
	Prompt           string   `json:"prompt"`
}

// handlePreview processes a bundle preview request via MCP.
func (s *Server) handlePreview(ctx context.Context, _ *mcp.CallToolRequest, input PreviewInput) (*mcp.CallToolResult, PreviewOutput, error) {
	if input.SessionID == "" {
		return toolError("session_id is required"), PreviewOutput{}, nil
	}
	if input.Text == "" {
		return toolError("text is required"), PreviewOutput{}, nil
	}

	result, err := s.config.Engine.PreviewBundle(ctx, input.SessionID, input.Text)
	if err != nil {
		return toolError(fmt.Sprintf("Bundle preview failed: %v", err)), PreviewOutput{}, nil
	}

	output := PreviewOutput{
		NeedsWarm:        result.Plan.NeedsWarm,
		NeedsCold:        result.Plan.NeedsCold,
		SearchTerms:      result.Plan.SearchTerms,
		PlanFromFallback: result.PlanFromFallback,
		HotTurns:         len(result.Bundle.Hot),
		RankedTurns:      len(result.Bundle.Ranked),
		TokenCount:       result.Bundle.TokenCount,
		Prompt:           result.Prompt,
	}

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), PreviewOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
