package llm

// AnthropicProvider maps the agent's message union onto the Messages API:
//   - system messages become the top-level system field,
//   - tool calls become "tool_use" blocks on the assistant turn,
//   - the tool results answering one assistant turn are grouped into a single
//     user turn of "tool_result" blocks, flagged is_error for error results.

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"kubepulse/internal/agent"
)

// defaultMaxTokens is the default max_tokens sent to Anthropic.
// Anthropic requires this field.
const defaultMaxTokens int64 = 4096

// AnthropicProvider implements agent.LLMProvider using the Anthropic SDK.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	retry  retryPolicy
}

// NewAnthropicProvider creates a new AnthropicProvider.
//
// apiKey is your Anthropic API key (https://console.anthropic.com/).
// model is the Claude model identifier (e.g. "claude-sonnet-4-6", "claude-opus-4-6").
// baseURL overrides the default Anthropic API endpoint; leave empty to use the default.
func NewAnthropicProvider(apiKey, model, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	c := anthropic.NewClient(opts...)
	return &AnthropicProvider{
		client: &c,
		model:  model,
		retry:  defaultRetry,
	}
}

// Chat sends messages to Anthropic Claude and returns the response.
// It converts from our internal OpenAI-style format to Anthropic's format,
// makes the API call with exponential-backoff retry, and converts the response back.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []agent.Message, tools []agent.Tool) (*agent.Message, error) {
	// --- Convert tools ---
	anthropicTools, err := convertTools(tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
	}

	systemBlocks, chatMessages := toAnthropicMessages(messages)

	// --- Build request params ---
	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: defaultMaxTokens,
		Messages:  chatMessages,
		System:    systemBlocks,
	}
	if len(anthropicTools) > 0 {
		reqParams.Tools = anthropicTools
	}

	resp, err := withRetry(ctx, p.retry, func(ctx context.Context) (*anthropic.Message, error) {
		return p.client.Messages.New(ctx, reqParams)
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	// --- Convert response back to our internal format ---
	return convertResponse(resp)
}

// toAnthropicMessages splits the system prompt from the conversation.
func toAnthropicMessages(messages []agent.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		systemBlocks []anthropic.TextBlockParam
		chatMessages []anthropic.MessageParam
		results      []anthropic.ContentBlockParamUnion
	)
	flushResults := func() {
		if len(results) > 0 {
			chatMessages = append(chatMessages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range messages {
		if msg.Type != agent.MessageTypeTool {
			flushResults()
		}
		switch msg.Type {
		case agent.MessageTypeSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: msg.Content})

		case agent.MessageTypeUser:
			chatMessages = append(chatMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))

		case agent.MessageTypeAssistant:
			if !msg.HasToolCalls() {
				chatMessages = append(chatMessages, anthropic.NewAssistantMessage(
					anthropic.NewTextBlock(msg.Content),
				))
				continue
			}
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				// Arguments are a JSON string internally; the API wants an object.
				var input any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			chatMessages = append(chatMessages, anthropic.NewAssistantMessage(blocks...))

		case agent.MessageTypeTool:
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError()))
		}
	}
	flushResults()
	return systemBlocks, chatMessages
}

// convertTools converts our internal agent.Tool slice to Anthropic's ToolParam slice.
func convertTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		// Parse the JSON Schema string from our tool interface.
		var schemaObj struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if err := json.Unmarshal([]byte(t.Schema()), &schemaObj); err != nil {
			return nil, fmt.Errorf("failed to parse schema for tool %q: %w", t.Name(), err)
		}

		toolParam := anthropic.ToolParam{
			Name:        t.Name(),
			Description: param.NewOpt(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaObj.Properties,
				Required:   schemaObj.Required,
			},
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return result, nil
}

// convertResponse converts an Anthropic Message response to our internal agent.Message.
// It extracts text content and any tool_use blocks into the appropriate fields.
func convertResponse(resp *anthropic.Message) (*agent.Message, error) {
	result := &agent.Message{
		Type: agent.MessageTypeAssistant,
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			// Accumulate text blocks (there's usually just one).
			if result.Content != "" {
				result.Content += "\n"
			}
			result.Content += block.Text

		case "tool_use":
			// Marshal the tool input (a JSON object) back to the string form our
			// internal ToolCall.Function.Arguments expects.
			argsBytes, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: failed to marshal tool_use input for %q: %w", block.Name, err)
			}
			result.ToolCalls = append(result.ToolCalls, agent.ToolCall{
				ID: block.ID,
				Function: agent.FunctionCall{
					Name:      block.Name,
					Arguments: string(argsBytes),
				},
			})
		}
		// Other block types (thinking, redacted_thinking, etc.) are ignored.
	}

	return result, nil
}
