package agent

import (
	"context"
	"strings"
)

// MessageType tags a Message with its author.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeTool      MessageType = "tool"
	MessageTypeSystem    MessageType = "system"
)

// errorPrefix marks tool output that represents a failure.
const errorPrefix = "Error"

// Message is a single entry of the conversation log.
//
// ToolCalls is only set on assistant messages; ToolCallID and Name only on
// tool messages. ID is assigned when the message is committed to a State and
// is what the clear operation removes by.
type Message struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Name       string      `json:"name,omitempty"`
}

// HasToolCalls reports whether an assistant message requests tool invocations.
func (m Message) HasToolCalls() bool {
	return m.Type == MessageTypeAssistant && len(m.ToolCalls) > 0
}

// IsError reports whether a tool message carries a failed result.
func (m Message) IsError() bool {
	return m.Type == MessageTypeTool && strings.HasPrefix(m.Content, errorPrefix)
}

// ToolCall represents a request to execute a tool
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall represents the function to be called
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of exactly one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// IsError is derived from the content tag rather than transmitted.
func (r ToolResult) IsError() bool {
	return strings.HasPrefix(r.Content, errorPrefix)
}

// Message converts the result into a tool message for the conversation log.
func (r ToolResult) Message() Message {
	return Message{
		Type:       MessageTypeTool,
		Content:    r.Content,
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
	}
}

// Tool defines the interface for tools that the agent can use
type Tool interface {
	// Name returns the name of the tool
	Name() string
	// Description returns a description of what the tool does
	Description() string
	// Execute runs the tool with the given arguments
	Execute(ctx context.Context, args string) (string, error)
	// Schema returns the JSON schema for the tool's arguments
	Schema() string
}

// Toolbox resolves the set of capabilities available to a turn.
type Toolbox interface {
	Tools(ctx context.Context) ([]Tool, error)
}

// LLMProvider defines the interface for the Large Language Model provider
type LLMProvider interface {
	// Chat sends a chat request to the LLM and returns the response
	Chat(ctx context.Context, messages []Message, tools []Tool) (*Message, error)
}
