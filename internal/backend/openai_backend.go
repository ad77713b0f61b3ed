package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend drives any OpenAI-compatible chat completions endpoint:
// OpenAI itself, OpenRouter, or an MPP (model provider proxy) gateway,
// distinguished only by BaseURL. It runs a bounded tool loop, streaming
// text deltas to the observer and retrying transient connection failures
// with bounded backoff.
type OpenAIBackend struct {
	client        *openai.Client
	fallbackModel string
	retryAttempts uint
}

// NewOpenAIBackend builds a backend against baseURL (empty for the real
// OpenAI API) using apiKey. The wire protocol is identical across
// openai-compatible/mpp/openrouter.
func NewOpenAIBackend(apiKey, baseURL, fallbackModel string, retryAttempts uint) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), fallbackModel: fallbackModel, retryAttempts: retryAttempts}
}

func (b *OpenAIBackend) Complete(ctx context.Context, params CompletionParams) (CompletionResult, error) {
	return WithModelFallback(params.Model, b.fallbackModel, func(model string) (CompletionResult, error) {
		attempt := params
		attempt.Model = model
		return RetryTransient(ctx, b.retryAttempts, func() (CompletionResult, error) {
			return b.runSteps(ctx, attempt)
		})
	})
}

// runSteps executes the bounded tool loop: stream a completion, and if the
// model requested tool calls, execute them via ToolExecutor and feed the
// results back for up to MaxSteps rounds.
func (b *OpenAIBackend) runSteps(ctx context.Context, params CompletionParams) (CompletionResult, error) {
	maxSteps := params.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	messages := toOpenAIMessages(params.System, params.Messages)
	tools := toOpenAITools(params.Tools)

	var finalText string
	var usage Usage
	step := 0

	for step < maxSteps {
		step++
		req := openai.ChatCompletionRequest{
			Model:       params.Model,
			Messages:    messages,
			Tools:       tools,
			Temperature: float32(params.Temperature),
			Stream:      true,
		}
		if params.MaxTokens > 0 {
			req.MaxTokens = params.MaxTokens
		}

		stream, err := b.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if params.Observer != nil {
				params.Observer.OnError(err)
			}
			return CompletionResult{}, classifyOpenAIErr(err)
		}

		text, toolCalls, stepUsage, streamErr := b.consumeStream(stream, params.Observer)
		stream.Close()
		if streamErr != nil {
			return CompletionResult{}, classifyOpenAIErr(streamErr)
		}

		finalText += text
		usage.InputTokens += stepUsage.InputTokens
		usage.OutputTokens += stepUsage.OutputTokens

		if params.Observer != nil {
			params.Observer.OnStepFinish(step)
		}

		if len(toolCalls) == 0 || params.ToolExecutor == nil {
			break
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: toOpenAIToolCallsParam(toolCalls),
		})
		for _, call := range toolCalls {
			if params.Observer != nil {
				params.Observer.OnToolCall(call)
			}
			result, err := params.ToolExecutor(ctx, call)
			if err != nil {
				result = "error: " + err.Error()
			}
			if params.Observer != nil {
				params.Observer.OnToolResult(call.ID, result)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	result := CompletionResult{Text: finalText, Steps: step, Usage: usage, ModelID: params.Model}
	if params.Observer != nil {
		params.Observer.OnFinish(result)
	}
	return result, nil
}

func (b *OpenAIBackend) consumeStream(stream *openai.ChatCompletionStream, observer CompletionStreamObserver) (string, []ToolCallRequest, Usage, error) {
	var text string
	var usage Usage
	pendingCalls := map[int]*ToolCallRequest{}
	var order []int

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text, nil, usage, err
		}
		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text += delta.Content
			if observer != nil {
				observer.OnTextDelta(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pendingCalls[idx]
			if !ok {
				call = &ToolCallRequest{ID: tc.ID, Name: tc.Function.Name}
				pendingCalls[idx] = call
				order = append(order, idx)
				if observer != nil {
					observer.OnToolInputStart(call.ID, call.Name)
				}
			}
			if tc.Function.Arguments != "" {
				call.ArgumentsJSON += tc.Function.Arguments
				if observer != nil {
					observer.OnToolInputDelta(call.ID, tc.Function.Arguments)
				}
			}
		}
	}

	calls := make([]ToolCallRequest, 0, len(order))
	for _, idx := range order {
		c := pendingCalls[idx]
		if observer != nil {
			observer.OnToolInputEnd(c.ID)
		}
		calls = append(calls, *c)
	}
	return text, calls, usage, nil
}

func toOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: m.Content, ToolCallID: m.ToolCallID})
		case RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content, ToolCalls: toOpenAIToolCallsParam(toolCallRequests(m.ToolCalls))})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}

func toolCallRequests(calls []ToolCallRequest) []ToolCallRequest { return calls }

func toOpenAIToolCallsParam(calls []ToolCallRequest) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, openai.ToolCall{
			ID:   c.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      c.Name,
				Arguments: c.ArgumentsJSON,
			},
		})
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.InputSchema,
			},
		})
	}
	return out
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body, _ := json.Marshal(apiErr)
		if classified := Classify(string(body)+" "+apiErr.Message, err); classified != nil {
			return classified
		}
	}
	if classified := Classify(err.Error(), err); classified != nil {
		return classified
	}
	return err
}
