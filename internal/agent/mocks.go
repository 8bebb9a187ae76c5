package agent

import (
	"context"
	"fmt"
	"sync"
)

// MockLLMProvider is a mock implementation of LLMProvider for testing
type MockLLMProvider struct {
	mu sync.Mutex
	// Responses is a map where key is the call number (0-indexed) and value is the message to return
	Responses map[int]*Message
	// ErrorTrigger is a map where key is the call number and value is the error to return
	ErrorTrigger map[int]error
	// Fallback is returned for calls without an entry in Responses
	Fallback *Message
	// CallCount tracks how many times Chat has been called
	CallCount int
	// Inputs records the messages and tool names of every call
	Inputs    [][]Message
	ToolNames [][]string
}

func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{
		Responses:    make(map[int]*Message),
		ErrorTrigger: make(map[int]error),
	}
}

func (m *MockLLMProvider) Chat(ctx context.Context, messages []Message, tools []Tool) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.CallCount
	m.CallCount++
	m.Inputs = append(m.Inputs, append([]Message(nil), messages...))
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name())
	}
	m.ToolNames = append(m.ToolNames, names)

	if err, ok := m.ErrorTrigger[call]; ok {
		return nil, err
	}
	if msg, ok := m.Responses[call]; ok {
		return msg, nil
	}
	if m.Fallback != nil {
		return m.Fallback, nil
	}
	return nil, fmt.Errorf("no mock response configured for call %d", call)
}

// MockTool is a mock implementation of Tool for testing
type MockTool struct {
	NameVal     string
	DescVal     string
	SchemaVal   string
	ExecuteFunc func(ctx context.Context, args string) (string, error)

	mu             sync.Mutex
	executionCount int
}

func (m *MockTool) Name() string {
	return m.NameVal
}

func (m *MockTool) Description() string {
	return m.DescVal
}

func (m *MockTool) Execute(ctx context.Context, args string) (string, error) {
	m.mu.Lock()
	m.executionCount++
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, args)
	}
	return "mock output", nil
}

func (m *MockTool) Schema() string {
	if m.SchemaVal == "" {
		return "{}"
	}
	return m.SchemaVal
}

// ExecutionCount returns how many times Execute was called.
func (m *MockTool) ExecutionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executionCount
}

// StaticToolbox serves a fixed list of tools.
type StaticToolbox []Tool

func (s StaticToolbox) Tools(context.Context) ([]Tool, error) {
	return s, nil
}
