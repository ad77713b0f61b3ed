// Package backend implements the LLMBackend contract: a uniform completion
// interface over both in-process streaming providers (Anthropic,
// OpenAI-compatible, MPP, OpenRouter) and subprocess-driven CLI agents
// (Claude Code, Codex), plus the shared error classification and usage
// normalization both families need.
package backend

import (
	"context"
	"errors"
)

// Role mirrors the roles a backend message may carry. Kept independent of
// internal/store.MessageRole so this package has no dependency on the
// session store.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is a tool invocation the model asked for mid-completion.
type ToolCallRequest struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// Message is one turn of conversation handed to a backend.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCallRequest
	ToolCallID string // set when Role == RoleTool
}

// ToolSpec describes one tool available to the model for this completion.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolExecutor runs a tool call requested by the model and returns its
// result text. The backend's bounded tool loop calls this once per
// requested tool call, per step, up to CompletionParams.MaxSteps.
type ToolExecutor func(ctx context.Context, call ToolCallRequest) (string, error)

// CompletionStreamObserver receives streaming events during a completion.
// Every method has a no-op default via NoopObserver so callers only
// implement what they need.
type CompletionStreamObserver interface {
	OnTextDelta(text string)
	OnReasoningDelta(text string)
	OnToolCall(call ToolCallRequest)
	OnToolInputStart(id, name string)
	OnToolInputDelta(id, partialJSON string)
	OnToolInputEnd(id string)
	OnToolResult(id, result string)
	OnStepFinish(step int)
	OnError(err error)
	OnAbort()
	OnFinish(result CompletionResult)
}

// NoopObserver implements CompletionStreamObserver with no-ops; embed it
// to override only the callbacks a caller cares about.
type NoopObserver struct{}

func (NoopObserver) OnTextDelta(string)               {}
func (NoopObserver) OnReasoningDelta(string)           {}
func (NoopObserver) OnToolCall(ToolCallRequest)        {}
func (NoopObserver) OnToolInputStart(string, string)   {}
func (NoopObserver) OnToolInputDelta(string, string)   {}
func (NoopObserver) OnToolInputEnd(string)             {}
func (NoopObserver) OnToolResult(string, string)       {}
func (NoopObserver) OnStepFinish(int)                  {}
func (NoopObserver) OnError(error)                     {}
func (NoopObserver) OnAbort()                          {}
func (NoopObserver) OnFinish(CompletionResult)         {}

// Usage normalizes token/cost accounting across providers.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	ReasoningTokens     int
	CacheCreationTokens int
	CacheReadTokens     int
	CostUSD             float64
	PaymentTxHash       string
}

// CompletionResult is the terminal value of a completion, streamed or not.
type CompletionResult struct {
	Text    string
	Steps   int
	Usage   Usage
	ModelID string
}

// CompletionParams parameters a single call to LLMBackend.Complete.
type CompletionParams struct {
	Model        string
	System       string
	Messages     []Message
	Tools        []ToolSpec
	MaxSteps     int
	MaxTokens    int
	Temperature  float64
	Observer     CompletionStreamObserver
	ToolExecutor ToolExecutor
}

// CompleteObjectParams parameters a JSON-schema-constrained completion.
type CompleteObjectParams struct {
	Model    string
	System   string
	Messages []Message
	Schema   map[string]any
}

// LLMBackend is the uniform contract the turn engine, behavior engine, and
// proactive dispatcher generate text through.
type LLMBackend interface {
	Complete(ctx context.Context, params CompletionParams) (CompletionResult, error)
}

// ObjectBackend is implemented by backends that can additionally produce
// schema-constrained JSON output (used by the context builder's memory
// extractor and the behavior engine's classifier when a provider supports
// native structured output).
type ObjectBackend interface {
	LLMBackend
	CompleteObject(ctx context.Context, params CompleteObjectParams) (map[string]any, error)
}

// ErrAborted is returned when a completion is cancelled, whether or not
// any output had already been streamed.
var ErrAborted = errors.New("backend: completion aborted")
