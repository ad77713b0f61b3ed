package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// CLIBackend drives a subprocess-based agent CLI (Claude Code, Codex) as an
// LLMBackend. Streamed deltas are never retried once emitted, per
// specification: a transient failure after the first delta is surfaced as
// fatal rather than replayed.
type CLIBackend struct {
	command       string
	buildArgs     func(params CompletionParams) []string
	extractLine   func(line []byte, acc *cliAccumulator)
	timeouts      TimeoutConfig
	fallbackModel string
}

type cliAccumulator struct {
	text         string
	usage        Usage
	sawAnyOutput bool
}

// NewClaudeCodeBackend builds a CLIBackend that shells out to the `claude`
// CLI, per the specification's external-process invocation:
// `claude --append-system-prompt <...> --output-format stream-json`.
func NewClaudeCodeBackend(timeouts TimeoutConfig, fallbackModel string) *CLIBackend {
	return &CLIBackend{
		command: "claude",
		buildArgs: func(p CompletionParams) []string {
			args := []string{"--append-system-prompt", p.System, "--output-format", "stream-json"}
			if p.Model != "" {
				args = append(args, "--model", p.Model)
			}
			return args
		},
		extractLine:   extractClaudeCodeLine,
		timeouts:      timeouts,
		fallbackModel: fallbackModel,
	}
}

// NewCodexBackend builds a CLIBackend that shells out to the `codex` CLI,
// consuming its JSONL item stream and extracting
// {type:"item.completed", item:{type:"agent_message", text}}.
func NewCodexBackend(timeouts TimeoutConfig, fallbackModel string) *CLIBackend {
	return &CLIBackend{
		command: "codex",
		buildArgs: func(p CompletionParams) []string {
			args := []string{"exec", "--json"}
			if p.Model != "" {
				args = append(args, "--model", p.Model)
			}
			return args
		},
		extractLine:   extractCodexLine,
		timeouts:      timeouts,
		fallbackModel: fallbackModel,
	}
}

// Complete runs the CLI once per attempted model (primary, then fallback
// on model_unavailable), streaming text deltas to params.Observer.
func (b *CLIBackend) Complete(ctx context.Context, params CompletionParams) (CompletionResult, error) {
	return WithModelFallback(params.Model, b.fallbackModel, func(model string) (CompletionResult, error) {
		return b.runOnce(ctx, params, model)
	})
}

func (b *CLIBackend) runOnce(ctx context.Context, params CompletionParams, model string) (CompletionResult, error) {
	attemptParams := params
	attemptParams.Model = model

	acc := &cliAccumulator{}
	prompt := renderPromptForCLI(params.Messages)

	spawnResult, err := SpawnWithTimeouts(ctx, b.timeouts, b.command, b.buildArgs(attemptParams), prompt, func(line string) {
		acc.sawAnyOutput = true
		ParseNDJSON([]byte(line), func(raw []byte) {
			prev := acc.text
			b.extractLine(raw, acc)
			if params.Observer != nil && len(acc.text) > len(prev) && strings.HasPrefix(acc.text, prev) {
				params.Observer.OnTextDelta(acc.text[len(prev):])
			}
		})
	})
	if err != nil {
		return CompletionResult{}, err
	}

	if spawnResult.TimedOut == "first_byte" {
		return CompletionResult{}, &Error{Kind: ErrFirstByteTimeout, Err: errors.New("subprocess produced no output before firstByteMs")}
	}
	if spawnResult.TimedOut == "idle" || spawnResult.TimedOut == "total" {
		if acc.sawAnyOutput {
			// A delta has already been streamed; do not let the caller
			// retry this attempt.
			return CompletionResult{}, errors.New("subprocess timed out after streaming output")
		}
		return CompletionResult{}, &Error{Kind: ErrTransient, Err: errors.New("subprocess timed out: " + spawnResult.TimedOut)}
	}
	if spawnResult.TimedOut == "cancelled" {
		if params.Observer != nil {
			params.Observer.OnAbort()
		}
		return CompletionResult{}, ErrAborted
	}

	if spawnResult.ExitErr != nil && !acc.sawAnyOutput {
		output := string(spawnResult.Stdout) + string(spawnResult.Stderr)
		if classified := Classify(output, spawnResult.ExitErr); classified != nil {
			return CompletionResult{}, classified
		}
		return CompletionResult{}, spawnResult.ExitErr
	}

	result := CompletionResult{Text: acc.text, Steps: 1, Usage: acc.usage, ModelID: model}
	if params.Observer != nil {
		params.Observer.OnFinish(result)
	}
	return result, nil
}

// renderPromptForCLI flattens conversation history into a single stdin
// payload, since the CLI agents manage their own turn structure internally
// and only accept the latest user turn plus light history context.
func renderPromptForCLI(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func extractClaudeCodeLine(raw []byte, acc *cliAccumulator) {
	var obj struct {
		Type    string `json:"type"`
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
		Result string `json:"result"`
		Usage  struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if json.Unmarshal(raw, &obj) != nil {
		return
	}
	switch obj.Type {
	case "assistant":
		for _, c := range obj.Message.Content {
			if c.Type == "text" {
				acc.text += c.Text
			}
		}
	case "result":
		if obj.Result != "" {
			acc.text = obj.Result
		}
		acc.usage.InputTokens = obj.Usage.InputTokens
		acc.usage.OutputTokens = obj.Usage.OutputTokens
	}
}

func extractCodexLine(raw []byte, acc *cliAccumulator) {
	var obj struct {
		Type string `json:"type"`
		Item struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"item"`
	}
	if json.Unmarshal(raw, &obj) != nil {
		return
	}
	if obj.Type == "item.completed" && obj.Item.Type == "agent_message" {
		acc.text += obj.Item.Text
	}
}
