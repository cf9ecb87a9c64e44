package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/hanachan/kioku/internal/logger"
)

// OpenAIChat implements Chat on the OpenAI-compatible completions API.
type OpenAIChat struct {
	client *openai.Client
	model  string
}

// NewOpenAIChat wraps an injected client. The client is constructed once at
// process start and shared; no package-level singletons.
func NewOpenAIChat(client *openai.Client, model string) *OpenAIChat {
	return &OpenAIChat{client: client, model: model}
}

func (c *OpenAIChat) buildRequest(messages []Message, opts *ChatOptions) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	}
	if opts == nil {
		return req, nil
	}
	req.Temperature = opts.Temperature
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		tools := make([]openai.Tool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	if opts.Format != nil {
		schema, ok := opts.Format.(*jsonschema.Definition)
		if !ok {
			return req, fmt.Errorf("unsupported format type %T", opts.Format)
		}
		name := opts.FormatName
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: schema,
				Strict: true,
			},
		}
	}
	return req, nil
}

func (c *OpenAIChat) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	req, err := c.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	out := &Response{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (c *OpenAIChat) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (<-chan StreamChunk, error) {
	req, err := c.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat stream failed: %w", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- StreamChunk{Done: true}
				return
			}
			if err != nil {
				logger.Errorf(ctx, "chat stream receive failed: %v", err)
				out <- StreamChunk{Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- StreamChunk{Content: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result = append(result, msg)
	}
	return result
}

// ParseArguments decodes a tool call's JSON arguments; malformed JSON yields
// an empty map rather than an error, since the model controls this payload.
func (t ToolCall) ParseArguments() map[string]interface{} {
	args := make(map[string]interface{})
	if t.Arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(t.Arguments), &args); err != nil {
		return make(map[string]interface{})
	}
	return args
}
