package recognition

import (
	"fmt"
	"sort"
	"strings"

	"github.com/papercomputeco/engram/pkg/tier"
	"github.com/papercomputeco/engram/pkg/turn"
)

// RankedEntry is a retrieved warm or cold turn with its composite
// significance.
type RankedEntry struct {
	Turn  *turn.Turn `json:"turn"`
	Score float64    `json:"score"`
}

// Bundle is the memory handed to generation: the session's hot turns
// verbatim plus the ranked warm/cold retrievals that fit the token budget.
type Bundle struct {
	// Hot holds the session's hot turns, newest last. Never trimmed.
	Hot []*turn.Turn `json:"hot"`

	// Ranked holds the warm/cold retrievals by significance descending,
	// newest first on ties.
	Ranked []RankedEntry `json:"ranked"`

	TokenCount int `json:"token_count"`
}

// AssembleBundle merges the hot turns with the ranked warm and cold
// retrievals under the token budget. Hot turns are included whole even if
// they alone exceed the budget; overflow is resolved by dropping ranked
// entries from the bottom.
func AssembleBundle(hot []*turn.Turn, warm, cold []*tier.ScoredTurn, budget int) *Bundle {
	bundle := &Bundle{Hot: hot}

	hotIDs := make(map[string]struct{}, len(hot))
	for _, t := range hot {
		bundle.TokenCount += t.Tokens()
		hotIDs[t.ID] = struct{}{}
	}

	merged := make([]*tier.ScoredTurn, 0, len(warm)+len(cold))
	seen := make(map[string]struct{}, len(warm)+len(cold))
	for _, st := range append(append([]*tier.ScoredTurn{}, warm...), cold...) {
		if _, dup := seen[st.Turn.ID]; dup {
			continue
		}
		if _, inHot := hotIDs[st.Turn.ID]; inHot {
			continue
		}
		seen[st.Turn.ID] = struct{}{}
		merged = append(merged, st)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Significance != merged[j].Significance {
			return merged[i].Significance > merged[j].Significance
		}
		return merged[i].Turn.CreatedAt.After(merged[j].Turn.CreatedAt)
	})

	for _, st := range merged {
		tokens := st.Turn.Tokens()
		if bundle.TokenCount+tokens > budget {
			continue
		}
		bundle.TokenCount += tokens
		bundle.Ranked = append(bundle.Ranked, RankedEntry{
			Turn:  st.Turn,
			Score: st.Significance,
		})
	}

	return bundle
}

// Render formats the bundle as a transcript for a recognition or
// generation prompt. Ranked retrievals come first as background, hot turns
// last so the most recent exchange sits closest to the new message.
func (b *Bundle) Render() string {
	var sb strings.Builder

	if len(b.Ranked) > 0 {
		sb.WriteString("Retrieved memory:\n")
		for _, entry := range b.Ranked {
			writeTurn(&sb, entry.Turn)
		}
		sb.WriteString("\n")
	}

	if len(b.Hot) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, t := range b.Hot {
			writeTurn(&sb, t)
		}
	}

	return sb.String()
}

func writeTurn(sb *strings.Builder, t *turn.Turn) {
	fmt.Fprintf(sb, "[user] %s\n", t.UserText)
	if t.AssistantText != "" {
		fmt.Fprintf(sb, "[assistant] %s\n", t.AssistantText)
	}
}
