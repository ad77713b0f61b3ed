package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend drives the Anthropic Messages API directly via
// anthropic-sdk-go, running the same bounded tool loop shape as
// OpenAIBackend but against Anthropic's content-block streaming protocol.
type AnthropicBackend struct {
	client        anthropic.Client
	fallbackModel string
	retryAttempts uint
}

// NewAnthropicBackend builds a backend against the Anthropic API using
// apiKey.
func NewAnthropicBackend(apiKey, fallbackModel string, retryAttempts uint) *AnthropicBackend {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicBackend{client: client, fallbackModel: fallbackModel, retryAttempts: retryAttempts}
}

func (b *AnthropicBackend) Complete(ctx context.Context, params CompletionParams) (CompletionResult, error) {
	return WithModelFallback(params.Model, b.fallbackModel, func(model string) (CompletionResult, error) {
		attempt := params
		attempt.Model = model
		return RetryTransient(ctx, b.retryAttempts, func() (CompletionResult, error) {
			return b.runSteps(ctx, attempt)
		})
	})
}

func (b *AnthropicBackend) runSteps(ctx context.Context, params CompletionParams) (CompletionResult, error) {
	maxSteps := params.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	messages := toAnthropicMessages(params.Messages)
	tools := toAnthropicTools(params.Tools)

	var finalText string
	var usage Usage
	step := 0

	for step < maxSteps {
		step++
		maxTokens := int64(params.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		stream := b.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(params.Model),
			MaxTokens: maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: params.System},
			},
			Messages: messages,
			Tools:    tools,
		})

		text, toolCalls, stepUsage, err := consumeAnthropicStream(stream, params.Observer)
		if err != nil {
			if params.Observer != nil {
				params.Observer.OnError(err)
			}
			return CompletionResult{}, classifyAnthropicErr(err)
		}

		finalText += text
		usage.InputTokens += stepUsage.InputTokens
		usage.OutputTokens += stepUsage.OutputTokens
		usage.CacheCreationTokens += stepUsage.CacheCreationTokens
		usage.CacheReadTokens += stepUsage.CacheReadTokens

		if params.Observer != nil {
			params.Observer.OnStepFinish(step)
		}

		if len(toolCalls) == 0 || params.ToolExecutor == nil {
			break
		}

		assistantBlocks := []anthropic.ContentBlockParamUnion{}
		if text != "" {
			assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(text))
		}
		var resultBlocks []anthropic.ContentBlockParamUnion
		for _, call := range toolCalls {
			assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(call.ID, rawJSONToAny(call.ArgumentsJSON), call.Name))
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
			resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(call.ID, result, false))
		}
		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}

	result := CompletionResult{Text: finalText, Steps: step, Usage: usage, ModelID: params.Model}
	if params.Observer != nil {
		params.Observer.OnFinish(result)
	}
	return result, nil
}

// anthropicStream is the subset of *anthropic.Stream[anthropic.MessageStreamEventUnion]
// this package consumes, narrowed for testability.
type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func consumeAnthropicStream(stream anthropicStream, observer CompletionStreamObserver) (string, []ToolCallRequest, Usage, error) {
	var text string
	var usage Usage
	var toolCalls []ToolCallRequest
	partialArgs := map[string]string{}
	toolNames := map[string]string{}
	order := []string{}

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = int(variant.Message.Usage.InputTokens)
			usage.CacheCreationTokens = int(variant.Message.Usage.CacheCreationInputTokens)
			usage.CacheReadTokens = int(variant.Message.Usage.CacheReadInputTokens)
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolNames[block.ID] = block.Name
				order = append(order, block.ID)
				if observer != nil {
					observer.OnToolInputStart(block.ID, block.Name)
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text += delta.Text
				if observer != nil {
					observer.OnTextDelta(delta.Text)
				}
			case anthropic.InputJSONDelta:
				id := order[len(order)-1]
				partialArgs[id] += delta.PartialJSON
				if observer != nil {
					observer.OnToolInputDelta(id, delta.PartialJSON)
				}
			}
		case anthropic.ContentBlockStopEvent:
			if len(order) > 0 {
				id := order[len(order)-1]
				if name, ok := toolNames[id]; ok && observer != nil {
					observer.OnToolInputEnd(id)
					_ = name
				}
			}
		case anthropic.MessageDeltaEvent:
			usage.OutputTokens = int(variant.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return "", nil, Usage{}, err
	}

	for _, id := range order {
		toolCalls = append(toolCalls, ToolCallRequest{ID: id, Name: toolNames[id], ArgumentsJSON: partialArgs[id]})
	}
	return text, toolCalls, usage, nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.InputSchema["properties"],
				},
			},
		})
	}
	return out
}

// rawJSONToAny parses a tool call's accumulated argument JSON into a
// generic value for re-submission as a ToolUseBlock's input when
// replaying a completed call into the next step's message history.
func rawJSONToAny(argsJSON string) map[string]any {
	if argsJSON == "" {
		return map[string]any{}
	}
	var out map[string]any
	if json.Unmarshal([]byte(argsJSON), &out) != nil {
		return map[string]any{}
	}
	return out
}

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if classified := Classify(apiErr.Error(), err); classified != nil {
			return classified
		}
	}
	if classified := Classify(err.Error(), err); classified != nil {
		return classified
	}
	return err
}
