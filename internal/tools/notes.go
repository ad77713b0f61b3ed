package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// NewSetNoteTool builds set_note, a safe-tier tool letting the model keep
// a small durable scratchpad per chat (birthdays, standing preferences,
// anything worth surviving a compaction).
func NewSetNoteTool(sessions store.SessionStore, chatID string) ToolDef {
	return ToolDef{
		Name:        "set_note",
		Tier:        TierSafe,
		Description: "Save or update a short durable note for this conversation, keyed by a short label.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key":     map[string]any{"type": "string", "description": "Short label for the note, e.g. \"birthday\"."},
				"content": map[string]any{"type": "string", "description": "The note's content."},
			},
			"required": []string{"key", "content"},
		},
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			key, _ := input["key"].(string)
			content, _ := input["content"].(string)
			if strings.TrimSpace(key) == "" {
				return ErrorResult("key is required"), nil
			}
			if err := sessions.UpsertNote(chatID, key, content); err != nil {
				return ErrorResult(fmt.Sprintf("failed to save note: %v", err)).WithError(err), err
			}
			return SilentResult(fmt.Sprintf("saved note %q", key)), nil
		},
	}
}

// NewGetNotesTool builds get_notes, the read side of the scratchpad.
func NewGetNotesTool(sessions store.SessionStore, chatID string) ToolDef {
	return ToolDef{
		Name:        "get_notes",
		Tier:        TierSafe,
		Description: "List the durable notes saved for this conversation.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			notes, err := sessions.ListNotes(chatID, 0)
			if err != nil {
				return ErrorResult(fmt.Sprintf("failed to list notes: %v", err)).WithError(err), err
			}
			if len(notes) == 0 {
				return NewResult("no notes saved yet"), nil
			}
			var sb strings.Builder
			for _, n := range notes {
				fmt.Fprintf(&sb, "%s: %s\n", n.Key, n.Content)
			}
			return NewResult(sb.String()), nil
		},
	}
}
