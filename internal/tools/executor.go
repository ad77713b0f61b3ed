package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/friendbot/internal/primitives"
)

// ErrValidation is returned by Execute when input fails InputSchema
// validation before the tool itself ever runs.
type ErrValidation struct {
	Field   string
	Problem string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("tools: invalid input for field %q: %s", e.Field, e.Problem)
}

// validateInput does a minimal JSON-schema-shaped check (type: object,
// properties, required) against input. The retrieval pack carries no
// JSON-schema validation library, so this hand-rolled check only covers
// the subset of schema the built-in tools actually declare: required
// fields and their top-level JSON types.
func validateInput(schema map[string]any, input map[string]any) error {
	if schema == nil {
		return nil
	}
	required, _ := schema["required"].([]string)
	if required == nil {
		if raw, ok := schema["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, field := range required {
		if _, ok := input[field]; !ok {
			return &ErrValidation{Field: field, Problem: "missing required field"}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for field, value := range input {
		propSchema, ok := props[field].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if !matchesJSONType(wantType, value) {
			return &ErrValidation{Field: field, Problem: fmt.Sprintf("expected type %q", wantType)}
		}
	}
	return nil
}

func matchesJSONType(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// OutputBudget enforces a per-turn ceiling on tokens returned from tool
// results, so a handful of verbose tool calls cannot blow the context
// window a single generation is allowed to spend on tool output.
type OutputBudget struct {
	mu               sync.Mutex
	maxTokensPerTool int
	remaining        int
	records          []BudgetRecord
}

// BudgetRecord is one entry in the per-turn tool-output ledger.
type BudgetRecord struct {
	ToolName   string
	TokensUsed int
	Truncated  bool
}

// NewOutputBudget creates a budget with totalTokens to spend across the
// whole turn and maxTokensPerTool as a per-call ceiling (0 disables the
// per-call ceiling, leaving only the turn total).
func NewOutputBudget(totalTokens, maxTokensPerTool int) *OutputBudget {
	return &OutputBudget{maxTokensPerTool: maxTokensPerTool, remaining: totalTokens}
}

// charge estimates text's token cost, truncates it against both the
// per-tool cap and the remaining turn total, and records the outcome.
func (b *OutputBudget) charge(toolName, text string) (string, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.remaining
	if b.maxTokensPerTool > 0 && b.maxTokensPerTool < limit {
		limit = b.maxTokensPerTool
	}

	tokens := primitives.EstimateTokens(text)
	truncated := false
	out := text
	if limit <= 0 {
		out = ""
		tokens = 0
		truncated = text != ""
	} else if tokens > limit {
		out = truncateToTokens(text, limit)
		tokens = primitives.EstimateTokens(out)
		truncated = true
	}

	if tokens > b.remaining {
		tokens = b.remaining
	}
	b.remaining -= tokens
	b.records = append(b.records, BudgetRecord{ToolName: toolName, TokensUsed: tokens, Truncated: truncated})
	return out, tokens, truncated
}

// Records returns the accumulated per-call ledger for this turn.
func (b *OutputBudget) Records() []BudgetRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BudgetRecord, len(b.records))
	copy(out, b.records)
	return out
}

func truncateToTokens(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	maxChars := int(float64(limit) * 3.3)
	if maxChars >= len(text) {
		return text
	}
	return text[:maxChars]
}

// Execute runs tool against input under the defineTool contract:
// validate the input schema, derive a cancellation scope from ctx and the
// tool's own TimeoutMs, race execution against that cancellation and
// discard whichever side loses, then meter the result's ForLLM text
// against budget. budget may be nil to skip metering (used by tests and
// by callers that don't enforce a turn-level cap).
func Execute(ctx context.Context, tool ToolDef, input map[string]any, budget *OutputBudget) (*Result, error) {
	if err := validateInput(tool.InputSchema, input); err != nil {
		return ErrorResult(err.Error()).WithError(err), err
	}

	runCtx := ctx
	cancel := func() {}
	if tool.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(tool.TimeoutMs)*time.Millisecond)
	}
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := tool.Execute(runCtx, input)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return meterResult(tool.Name, o.res, o.err, budget)
	case <-runCtx.Done():
		err := runCtx.Err()
		return ErrorResult(fmt.Sprintf("tool %q timed out or was cancelled: %v", tool.Name, err)).WithError(err), err
	}
}

func meterResult(toolName string, res *Result, err error, budget *OutputBudget) (*Result, error) {
	if res == nil {
		if err == nil {
			err = fmt.Errorf("tools: %q returned no result and no error", toolName)
		}
		return ErrorResult(err.Error()).WithError(err), err
	}
	if budget != nil {
		text, tokens, truncated := budget.charge(toolName, res.ForLLM)
		res.ForLLM = text
		res.TokensUsed = tokens
		res.Truncated = truncated
	}
	return res, err
}
