package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MaxSearchTerms bounds how many keywords the fallback extractor keeps.
const MaxSearchTerms = 8

// DefaultMaxResults is the per-tier result cap when a plan does not name
// one, and the server-side clamp applied to every plan that does.
const DefaultMaxResults = 10

// SmallGap is the largest gap since the previous turn that still counts as
// a continuation of the same line of thought. Within it the fallback plan
// pulls warm context; past it the session has likely moved on.
const SmallGap = 10 * time.Minute

// cueWords are the memory-referencing phrases that make the fallback plan
// reach into cold storage. Matched case-insensitively against the user text.
var cueWords = []string{
	"remember",
	"my name is",
	"i always",
	"i never",
	"i prefer",
	"call me",
	"last time",
	"we talked about",
}

// Plan is the output of the first recognition pass: what to retrieve
// before building context for generation.
type Plan struct {
	NeedsWarm   bool     `json:"needs_warm"`
	NeedsCold   bool     `json:"needs_cold"`
	SearchTerms []string `json:"search_terms"`
	MaxResults  int      `json:"max_results"`

	// Rationale is diagnostic only. It is logged, never parsed.
	Rationale string `json:"rationale,omitempty"`
}

// Query joins the plan's search terms into a single ranked-index query.
func (p *Plan) Query() string {
	return strings.Join(p.SearchTerms, " ")
}

// Clamp bounds MaxResults to [1, limit] no matter what the recognition
// capability returned.
func (p *Plan) Clamp(limit int) {
	if p.MaxResults <= 0 || p.MaxResults > limit {
		p.MaxResults = limit
	}
	if len(p.SearchTerms) > MaxSearchTerms {
		p.SearchTerms = p.SearchTerms[:MaxSearchTerms]
	}
}

// parsePlan extracts a Plan from a model response. The JSON may be wrapped
// in markdown code fences or surrounding prose.
func parsePlan(response string) (*Plan, error) {
	jsonStr := response
	if idx := strings.Index(response, "{"); idx >= 0 {
		endIdx := strings.LastIndex(response, "}")
		if endIdx > idx {
			jsonStr = response[idx : endIdx+1]
		}
	}

	var plan Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan JSON: %w", err)
	}
	return &plan, nil
}

// FallbackPlan builds a deterministic retrieval plan from the user text and
// the gap since the previous turn. It makes no external calls, so plan
// selection always terminates even when the recognition capability is down.
func FallbackPlan(userText string, gap time.Duration) *Plan {
	lower := strings.ToLower(userText)

	needsCold := false
	for _, cue := range cueWords {
		if strings.Contains(lower, cue) {
			needsCold = true
			break
		}
	}

	return &Plan{
		NeedsWarm:   gap >= 0 && gap <= SmallGap,
		NeedsCold:   needsCold,
		SearchTerms: extractKeywords(userText),
		MaxResults:  DefaultMaxResults,
		Rationale:   "deterministic fallback",
	}
}

// extractKeywords pulls the distinct non-stop-word tokens from the text in
// order of first appearance. No stemming: terms are re-tokenized by the
// ranked index at query time.
func extractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	keywords := make([]string, 0, MaxSearchTerms)
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := fallbackStopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		keywords = append(keywords, f)
		if len(keywords) == MaxSearchTerms {
			break
		}
	}
	return keywords
}

var fallbackStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"you": {}, "your": {}, "that": {}, "this": {}, "with": {}, "have": {},
	"had": {}, "has": {}, "what": {}, "when": {}, "where": {}, "how": {},
	"why": {}, "can": {}, "could": {}, "would": {}, "should": {}, "did": {},
	"does": {}, "about": {}, "tell": {}, "please": {}, "just": {},
}
