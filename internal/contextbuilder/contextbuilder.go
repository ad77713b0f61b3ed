// Package contextbuilder assembles the per-turn system prompt and model
// input: the identity package, the built-in behavior rules, the RRF
// hybrid-retrieved memory section, and the scratchpad, plus conversation
// history translated into backend.Message and the turn's tool set
// translated into backend.ToolSpec.
package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/friendbot/internal/backend"
	"github.com/nextlevelbuilder/friendbot/internal/primitives"
	"github.com/nextlevelbuilder/friendbot/internal/sanitizer"
	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/tools"
)

// defaultIdentityMaxTokens is the specification's default identity-prompt
// token budget.
const defaultIdentityMaxTokens = 1600

// defaultMemoryBudgetTokens bounds the MEMORY CONTEXT section so a chatty
// retrieval pass can't crowd out the identity and history.
const defaultMemoryBudgetTokens = 900

// defaultScratchpadBudgetTokens bounds the wrapped scratchpad data message.
const defaultScratchpadBudgetTokens = 350

// Params is everything Build needs to assemble one turn's context.
type Params struct {
	IdentityDir       string
	IdentityMaxTokens int // 0 uses defaultIdentityMaxTokens

	IsGroup          bool
	GroupSize        int
	UniqueAuthors    int
	MaxChars         int
	BehaviorOverride string

	ChatID      string
	Person      *store.PersonRecord
	MemoryStore store.MemoryStore
	SessionStore store.SessionStore
	QueryText   string
	Weights     store.RetrievalWeights
	RetrieveN   int
	LessonLimit int
	MemoryBudgetTokens int

	HistoryLimit int

	ScratchpadBudgetTokens int

	Tools []tools.ToolDef
}

// Built is the finished context handed to the turn engine's backend call.
type Built struct {
	System               string
	HistoryForModel      []backend.Message
	DataMessagesForModel []backend.Message
	ToolsForModel        []backend.ToolSpec
	MaxChars             int
}

// Build assembles the full system prompt and model input for one turn.
func Build(p Params) (Built, error) {
	identityMaxTokens := p.IdentityMaxTokens
	if identityMaxTokens <= 0 {
		identityMaxTokens = defaultIdentityMaxTokens
	}
	memoryBudget := p.MemoryBudgetTokens
	if memoryBudget <= 0 {
		memoryBudget = defaultMemoryBudgetTokens
	}
	scratchpadBudget := p.ScratchpadBudgetTokens
	if scratchpadBudget <= 0 {
		scratchpadBudget = defaultScratchpadBudgetTokens
	}

	var identityPrompt string
	if p.IdentityDir != "" {
		identity, err := LoadIdentity(p.IdentityDir)
		if err != nil {
			return Built{}, err
		}
		identityPrompt = identity.Compose(identityMaxTokens)
	}

	rules := BuildBehaviorRules(RulesParams{
		IsGroup:          p.IsGroup,
		GroupSize:        p.GroupSize,
		UniqueAuthors:    p.UniqueAuthors,
		MaxChars:         p.MaxChars,
		BehaviorOverride: p.BehaviorOverride,
	})

	var memorySection string
	if p.MemoryStore != nil {
		var err error
		memorySection, err = BuildMemoryContext(MemoryContextParams{
			Store:        p.MemoryStore,
			Person:       p.Person,
			ChatID:       p.ChatID,
			IsGroup:      p.IsGroup,
			QueryText:    p.QueryText,
			Weights:      p.Weights,
			RetrieveN:    p.RetrieveN,
			LessonLimit:  p.LessonLimit,
			BudgetTokens: memoryBudget,
		})
		if err != nil {
			return Built{}, err
		}
	}

	sections := []string{identityPrompt, rules, memorySection}
	var nonEmpty []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	system := strings.Join(nonEmpty, "\n\n")

	var history []backend.Message
	if p.SessionStore != nil {
		limit := p.HistoryLimit
		if limit <= 0 {
			limit = 40
		}
		msgs, err := p.SessionStore.GetMessages(p.ChatID, limit)
		if err != nil {
			return Built{}, fmt.Errorf("contextbuilder: loading history: %w", err)
		}
		history = make([]backend.Message, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, backend.Message{Role: toBackendRole(m.Role), Content: m.Content})
		}
	}

	var dataMessages []backend.Message
	if p.SessionStore != nil {
		notes, err := p.SessionStore.ListNotes(p.ChatID, 50)
		if err != nil {
			return Built{}, fmt.Errorf("contextbuilder: loading notes: %w", err)
		}
		if len(notes) > 0 {
			dataMessages = append(dataMessages, backend.Message{
				Role:    backend.RoleUser,
				Content: wrapScratchpad(notes, scratchpadBudget),
			})
		}
	}

	return Built{
		System:               system,
		HistoryForModel:      history,
		DataMessagesForModel: dataMessages,
		ToolsForModel:        toBackendTools(p.Tools),
		MaxChars:             p.MaxChars,
	}, nil
}

func toBackendRole(r store.MessageRole) backend.Role {
	switch r {
	case store.RoleSystem:
		return backend.RoleSystem
	case store.RoleAssistant:
		return backend.RoleAssistant
	default:
		return backend.RoleUser
	}
}

func toBackendTools(defs []tools.ToolDef) []backend.ToolSpec {
	if len(defs) == 0 {
		return nil
	}
	out := make([]backend.ToolSpec, 0, len(defs))
	for _, d := range defs {
		out = append(out, backend.ToolSpec{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

// wrapScratchpad renders the chat's persistent notes as a single wrapped
// external data message, sanitizing each note's content (notes can
// originate from model tool calls acting on untrusted input) and clipping
// to budget tokens.
func wrapScratchpad(notes []store.SessionNote, budgetTokens int) string {
	var b strings.Builder
	for _, n := range notes {
		clean := sanitizer.Sanitize(n.Content, sanitizer.DefaultPolicy()).Sanitized
		b.WriteString(fmt.Sprintf("%s: %s\n", n.Key, clean))
	}
	body := clipToTokenBudget(b.String(), budgetTokens)
	return primitives.WrapExternal("scratchpad", body)
}
