package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_ValidatesRequiredFields(t *testing.T) {
	tool := ToolDef{
		Name: "needs_x",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"x": map[string]any{"type": "string"}},
			"required":   []string{"x"},
		},
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			return NewResult("ok"), nil
		},
	}

	res, err := Execute(context.Background(), tool, map[string]any{}, nil)
	require.Error(t, err)
	assert.True(t, res.IsError)
}

func TestExecute_RunsSuccessfully(t *testing.T) {
	tool := ToolDef{
		Name: "echo",
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			return NewResult(input["msg"].(string)), nil
		},
	}
	res, err := Execute(context.Background(), tool, map[string]any{"msg": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.ForLLM)
}

func TestExecute_TimesOutAndDiscardsLateResult(t *testing.T) {
	tool := ToolDef{
		Name:      "slow",
		TimeoutMs: 20,
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return NewResult("too late"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	res, err := Execute(context.Background(), tool, map[string]any{}, nil)
	require.Error(t, err)
	assert.True(t, res.IsError)
}

func TestExecute_CancelledParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tool := ToolDef{
		Name: "blocks",
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Execute(ctx, tool, map[string]any{}, nil)
	assert.Error(t, err)
}

func TestOutputBudget_TruncatesOverPerToolCap(t *testing.T) {
	budget := NewOutputBudget(10_000, 10)
	text := strings.Repeat("word ", 200)
	out, tokens, truncated := budget.charge("big_tool", text)
	assert.True(t, truncated)
	assert.LessOrEqual(t, tokens, 10)
	assert.Less(t, len(out), len(text))
}

func TestOutputBudget_RecordsEachCall(t *testing.T) {
	budget := NewOutputBudget(1000, 0)
	budget.charge("a", "hello")
	budget.charge("b", "world")
	records := budget.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ToolName)
	assert.Equal(t, "b", records[1].ToolName)
}

func TestOutputBudget_ZeroRemainingEmptiesOutput(t *testing.T) {
	budget := NewOutputBudget(0, 0)
	out, tokens, truncated := budget.charge("a", "some content")
	assert.Equal(t, "", out)
	assert.Equal(t, 0, tokens)
	assert.True(t, truncated)
}

func TestExecute_MetersResultThroughBudget(t *testing.T) {
	tool := ToolDef{
		Name: "verbose",
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			return NewResult(strings.Repeat("x", 1000)), nil
		},
	}
	budget := NewOutputBudget(5, 5)
	res, err := Execute(context.Background(), tool, map[string]any{}, budget)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
}
