package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// RememberFactConfig binds remember_fact to the person and memory store
// the current turn is running against.
type RememberFactConfig struct {
	Memory   store.MemoryStore
	PersonID string
}

// NewRememberFactTool builds remember_fact, which lets the model persist
// an evidence-backed piece of knowledge about the person it's talking to.
// EvidenceQuote should be a direct quote from the user's message; the
// memory-extraction pipeline that calls AddFact from conversation turns
// (rather than from this explicit tool call) is responsible for dropping
// facts whose evidence isn't actually present in the source text, but a
// model-invoked call is trusted at face value.
func NewRememberFactTool(cfg RememberFactConfig) ToolDef {
	return ToolDef{
		Name:        "remember_fact",
		Tier:        TierSafe,
		Description: "Record a durable fact about the person you're talking to, with the quote that supports it.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject":       map[string]any{"type": "string", "description": "What the fact is about, e.g. \"job\"."},
				"content":       map[string]any{"type": "string", "description": "The fact itself."},
				"category":      map[string]any{"type": "string", "description": "A short category tag, e.g. \"career\"."},
				"evidenceQuote": map[string]any{"type": "string", "description": "A direct quote from the user supporting this fact."},
			},
			"required": []string{"subject", "content", "evidenceQuote"},
		},
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			subject, _ := input["subject"].(string)
			content, _ := input["content"].(string)
			category, _ := input["category"].(string)
			evidence, _ := input["evidenceQuote"].(string)
			if strings.TrimSpace(content) == "" || strings.TrimSpace(evidence) == "" {
				return ErrorResult("content and evidenceQuote are required"), nil
			}
			_, err := cfg.Memory.AddFact(store.Fact{
				PersonID:      cfg.PersonID,
				Subject:       subject,
				Content:       content,
				Category:      category,
				EvidenceQuote: evidence,
			})
			if err != nil {
				return ErrorResult(fmt.Sprintf("failed to save fact: %v", err)).WithError(err), err
			}
			return SilentResult("fact saved"), nil
		},
	}
}

// RecallConfig binds recall to the memory store and the scope of the
// current turn.
type RecallConfig struct {
	Memory   store.MemoryStore
	PersonID string
	ChatID   string
	IsGroup  bool
	Weights  store.RetrievalWeights
}

// NewRecallTool builds recall, a direct hybrid-retrieval query the model
// can issue mid-turn when the context builder's automatic injection
// didn't surface what it needs.
func NewRecallTool(cfg RecallConfig) ToolDef {
	return ToolDef{
		Name:        "recall",
		Tier:        TierSafe,
		Description: "Search memory (facts and past conversation) relevant to a query about this person or conversation.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to search for."},
				"limit": map[string]any{"type": "number", "description": "Maximum results to return. Default 5."},
			},
			"required": []string{"query"},
		},
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			query, _ := input["query"].(string)
			if strings.TrimSpace(query) == "" {
				return ErrorResult("query is required"), nil
			}
			limit := 5
			if lf, ok := input["limit"].(float64); ok && lf >= 1 {
				limit = int(lf)
			}

			items, err := cfg.Memory.Retrieve(store.RetrievalQuery{
				PersonID: cfg.PersonID,
				ChatID:   cfg.ChatID,
				Text:     query,
				IsGroup:  cfg.IsGroup,
				Limit:    limit,
				Weights:  cfg.Weights,
			})
			if err != nil {
				return ErrorResult(fmt.Sprintf("recall failed: %v", err)).WithError(err), err
			}
			if len(items) == 0 {
				return NewResult("no relevant memory found"), nil
			}

			var sb strings.Builder
			for _, item := range items {
				switch {
				case item.Fact != nil:
					fmt.Fprintf(&sb, "[fact] %s: %s\n", item.Fact.Subject, item.Fact.Content)
				case item.Episode != nil:
					fmt.Fprintf(&sb, "[episode] %s\n", item.Episode.Content)
				}
			}
			return NewResult(sb.String()), nil
		},
	}
}
