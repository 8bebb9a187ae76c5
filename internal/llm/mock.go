package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"kubepulse/internal/agent"
)

const (
	mockQueryTool = "prom_query"
	mockChartTool = agent.ChartToolName
)

// MockProvider is an offline provider that walks the monitoring graph
// without a model: a user question becomes an instant query, a vector result
// becomes a bar chart and anything else gets a short narrative. It is
// selected with the "mock" provider name and used by demos and tests.
type MockProvider struct {
	calls atomic.Int64
}

// NewMockProvider creates a MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Chat picks the next move from the last message and the offered tools.
func (m *MockProvider) Chat(_ context.Context, messages []agent.Message, tools []agent.Tool) (*agent.Message, error) {
	n := m.calls.Add(1)
	if len(messages) == 0 {
		return nil, fmt.Errorf("mock: no messages")
	}
	last := messages[len(messages)-1]

	switch {
	case last.Type == agent.MessageTypeUser && offers(tools, mockQueryTool):
		args, _ := json.Marshal(map[string]string{"query": mockPromQL(last.Content)})
		return toolCall(n, mockQueryTool, string(args)), nil

	case last.Type == agent.MessageTypeTool && last.Name != mockChartTool && offers(tools, mockChartTool):
		if records := vectorRecords(last.Content); len(records) > 0 {
			args, _ := json.Marshal(map[string]any{"charts": []map[string]any{{
				"rechart_data": records,
				"rechart_type": "BarChart",
				"x_axis_key":   "series",
				"y_axis_keys":  []string{"value"},
				"chart_title":  "Current value by series",
			}}})
			return toolCall(n, mockChartTool, string(args)), nil
		}
	}

	return &agent.Message{
		Type:    agent.MessageTypeAssistant,
		Content: narrative(messages),
	}, nil
}

// Calls returns how many times Chat was called.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}

func offers(tools []agent.Tool, name string) bool {
	for _, t := range tools {
		if t.Name() == name {
			return true
		}
	}
	return false
}

func toolCall(n int64, name, args string) *agent.Message {
	return &agent.Message{
		Type: agent.MessageTypeAssistant,
		ToolCalls: []agent.ToolCall{{
			ID:       fmt.Sprintf("mock_call_%d", n),
			Function: agent.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

// mockPromQL maps a question onto a canned query.
func mockPromQL(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "cpu"):
		return `sum by (instance) (rate(node_cpu_seconds_total{mode!="idle"}[5m]))`
	case strings.Contains(q, "memory"):
		return `sum by (instance) (node_memory_MemTotal_bytes - node_memory_MemAvailable_bytes)`
	case strings.Contains(q, "restart"):
		return `sum by (pod) (kube_pod_container_status_restarts_total)`
	default:
		return "up"
	}
}

// vectorRecords turns an instant vector result into chart records keyed by
// "series" and "value". Anything that is not a vector yields nil.
func vectorRecords(content string) []map[string]any {
	var res struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  []any             `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(content), &res); err != nil || res.ResultType != "vector" {
		return nil
	}
	records := make([]map[string]any, 0, len(res.Result))
	for _, s := range res.Result {
		if len(s.Value) != 2 {
			continue
		}
		raw, _ := s.Value[1].(string)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		records = append(records, map[string]any{"series": seriesName(s.Metric), "value": v})
	}
	return records
}

func seriesName(metric map[string]string) string {
	for _, key := range []string{"instance", "pod", "job", "__name__"} {
		if v := metric[key]; v != "" {
			return v
		}
	}
	return "series"
}

func narrative(messages []agent.Message) string {
	var question string
	results := 0
	for _, msg := range messages {
		switch msg.Type {
		case agent.MessageTypeUser:
			question = msg.Content
		case agent.MessageTypeTool:
			if !msg.IsError() {
				results++
			}
		}
	}
	if results == 0 {
		return fmt.Sprintf("No monitoring data was collected for %q.", question)
	}
	return fmt.Sprintf("Collected %d tool result(s) for %q. All values are within their usual range.", results, question)
}
