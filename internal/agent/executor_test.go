package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type failingToolbox struct{ err error }

func (f failingToolbox) Tools(context.Context) ([]Tool, error) { return nil, f.err }

func call(id, name, args string) ToolCall {
	return ToolCall{ID: id, Function: FunctionCall{Name: name, Arguments: args}}
}

func TestExecutor_PreservesCallOrder(t *testing.T) {
	// Earlier calls sleep longer so completion order is the reverse of call order.
	slow := &MockTool{
		NameVal: "prom_query",
		ExecuteFunc: func(ctx context.Context, args string) (string, error) {
			var delay int
			fmt.Sscanf(strings.Trim(args, "{}"), `"delay":%d`, &delay)
			time.Sleep(time.Duration(delay) * time.Millisecond)
			return args, nil
		},
	}
	exec := NewExecutor(StaticToolbox{slow}, nil, logr.Discard())

	calls := []ToolCall{
		call("a", "prom_query", `{"delay":40}`),
		call("b", "prom_query", `{"delay":20}`),
		call("c", "prom_query", `{"delay":0}`),
	}
	results := exec.Execute(context.Background(), calls, nil)

	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, r := range results {
		if r.ToolCallID != calls[i].ID {
			t.Errorf("result %d has id %s, want %s", i, r.ToolCallID, calls[i].ID)
		}
		if r.Content != calls[i].Function.Arguments {
			t.Errorf("result %d has content %s", i, r.Content)
		}
	}
	if slow.ExecutionCount() != 3 {
		t.Errorf("expected 3 executions, got %d", slow.ExecutionCount())
	}
}

func TestExecutor_RunsConcurrently(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	blocking := &MockTool{
		NameVal: "wait",
		ExecuteFunc: func(ctx context.Context, args string) (string, error) {
			started <- struct{}{}
			<-release
			return "done", nil
		},
	}
	exec := NewExecutor(StaticToolbox{blocking}, nil, logr.Discard())

	done := make(chan []ToolResult)
	go func() {
		done <- exec.Execute(context.Background(), []ToolCall{call("1", "wait", "{}"), call("2", "wait", "{}")}, nil)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("calls were not dispatched concurrently")
		}
	}
	close(release)
	if got := <-done; len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
}

func TestExecutor_ErrorsBecomeResults(t *testing.T) {
	failing := &MockTool{
		NameVal: "kubectl",
		ExecuteFunc: func(ctx context.Context, args string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	panicking := &MockTool{
		NameVal: "prom_targets",
		ExecuteFunc: func(ctx context.Context, args string) (string, error) {
			panic("nil map")
		},
	}
	strict := &MockTool{
		NameVal:   "prom_range",
		SchemaVal: `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
	}
	ok := &MockTool{NameVal: "prom_query"}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	exec := NewExecutor(StaticToolbox{failing, panicking, strict, ok}, metrics, logr.Discard())

	results := exec.Execute(context.Background(), []ToolCall{
		call("1", "missing", "{}"),
		call("2", "kubectl", `{"verb":"get"}`),
		call("3", "prom_range", `{"step":"1m"}`),
		call("4", "prom_range", `not json`),
		call("5", "prom_targets", ""),
		call("6", "prom_query", `{"query":"up"}`),
	}, nil)

	want := []string{
		"Error: Tool 'missing' not found",
		"Error executing kubectl: connection refused",
		"Error: Failed to parse args:",
		"Error: Failed to parse args:",
		"Error executing prom_targets: panic: nil map",
		"mock output",
	}
	for i, w := range want {
		if !strings.HasPrefix(results[i].Content, w) {
			t.Errorf("result %d = %q, want prefix %q", i, results[i].Content, w)
		}
	}
	for i, r := range results[:5] {
		if !r.IsError() {
			t.Errorf("result %d should be an error result", i)
		}
	}
	if results[5].IsError() {
		t.Errorf("successful result flagged as error")
	}
	if strict.ExecutionCount() != 0 {
		t.Errorf("tool must not run with invalid arguments")
	}
	if got := testutil.ToFloat64(metrics.toolCalls.WithLabelValues("kubectl", "error")); got != 1 {
		t.Errorf("expected one kubectl error metric, got %v", got)
	}
}

func TestExecutor_AllowFilter(t *testing.T) {
	hidden := &MockTool{NameVal: "prom_query"}
	exec := NewExecutor(StaticToolbox{hidden}, nil, logr.Discard())

	results := exec.Execute(context.Background(), []ToolCall{call("1", "prom_query", "{}")}, func(name string) bool {
		return name == ChartToolName
	})
	if results[0].Content != "Error: Tool 'prom_query' not found" {
		t.Errorf("unexpected result %q", results[0].Content)
	}
	if hidden.ExecutionCount() != 0 {
		t.Errorf("filtered tool must not run")
	}
}

func TestExecutor_ToolboxFailure(t *testing.T) {
	exec := NewExecutor(failingToolbox{err: errors.New("mcp offline")}, nil, logr.Discard())
	results := exec.Execute(context.Background(), []ToolCall{call("1", "prom_query", "{}"), call("2", "kubectl", "{}")}, nil)
	if len(results) != 2 {
		t.Fatalf("expected one result per call, got %d", len(results))
	}
	for _, r := range results {
		if !r.IsError() || !strings.Contains(r.Content, "mcp offline") {
			t.Errorf("unexpected result %+v", r)
		}
	}
}
