package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"kubepulse/internal/agent"
)

// OpenAIProvider implements agent.LLMProvider for OpenAI and OpenAI-compatible
// endpoints.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	retry  retryPolicy
}

// NewOpenAIProvider creates a new OpenAIProvider. An empty baseURL uses the
// library default.
func NewOpenAIProvider(apiKey string, model string, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
		retry:  defaultRetry,
	}
}

// Chat sends the conversation and the offered tools and returns the reply.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []agent.Message, tools []agent.Tool) (*agent.Message, error) {
	openaiTools, err := toOpenAITools(tools)
	if err != nil {
		return nil, err
	}
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(messages),
		Tools:    openaiTools,
	}

	resp, err := withRetry(ctx, p.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return p.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from openai")
	}
	return fromOpenAIMessage(resp.Choices[0].Message), nil
}

func toOpenAIMessages(messages []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{Content: msg.Content}

		switch msg.Type {
		case agent.MessageTypeUser:
			m.Role = openai.ChatMessageRoleUser
		case agent.MessageTypeAssistant:
			m.Role = openai.ChatMessageRoleAssistant
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		case agent.MessageTypeTool:
			m.Role = openai.ChatMessageRoleTool
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.Name
		case agent.MessageTypeSystem:
			m.Role = openai.ChatMessageRoleSystem
		default:
			continue
		}
		out = append(out, m)
	}
	return out
}

func toOpenAITools(tools []agent.Tool) ([]openai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var params json.RawMessage
		if err := json.Unmarshal([]byte(tool.Schema()), &params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool schema for %s: %w", tool.Name(), err)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  params,
			},
		}
	}
	return out, nil
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) *agent.Message {
	result := &agent.Message{
		Type:    agent.MessageTypeAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, agent.ToolCall{
			ID: tc.ID,
			Function: agent.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return result
}
