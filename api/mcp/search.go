package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/tier"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search a user's stored conversation memory. Runs a ranked query over the session's warm tier and the user's cold tier and returns the most significant turns."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	SessionID string `json:"session_id" jsonschema:"the session whose memory to search"`
	Query     string `json:"query" jsonschema:"the search query text"`
	TopK      int    `json:"top_k,omitempty" jsonschema:"number of results per tier (default: 5)"`
}

// SearchResult represents a single retrieved turn.
type SearchResult struct {
	TurnID        string  `json:"turn_id"`
	Tier          string  `json:"tier"`
	Score         float64 `json:"score"`
	UserText      string  `json:"user_text"`
	AssistantText string  `json:"assistant_text,omitempty"`
}

// SearchOutput represents the output of the memory_search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// handleSearch processes a memory search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	if input.SessionID == "" {
		return toolError("session_id is required"), SearchOutput{}, nil
	}
	if input.Query == "" {
		return toolError("query is required"), SearchOutput{}, nil
	}

	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("MCP search request", "query", input.Query, "top_k", topK)

	results, err := s.config.Engine.Search(ctx, input.SessionID, input.Query, topK)
	if err != nil {
		logger.Error("memory search failed", "error", err)
		return toolError(fmt.Sprintf("Memory search failed: %v", err)), SearchOutput{}, nil
	}

	searchResults := make([]SearchResult, 0, len(results.Warm)+len(results.Cold))
	for _, st := range results.Warm {
		searchResults = append(searchResults, buildSearchResult(st))
	}
	for _, st := range results.Cold {
		searchResults = append(searchResults, buildSearchResult(st))
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: searchResults,
		Count:   len(searchResults),
	}

	// Serialize the structured output as JSON for the text field
	// Per MCP spec: tools returning structured content should also return
	// serialized JSON in a TextContent block for backwards compatibility
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal search output", "error", err)
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), SearchOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

func buildSearchResult(st *tier.ScoredTurn) SearchResult {
	return SearchResult{
		TurnID:        st.Turn.ID,
		Tier:          string(st.Turn.Tier),
		Score:         st.Significance,
		UserText:      st.Turn.UserText,
		AssistantText: st.Turn.AssistantText,
	}
}

func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
	}
}
