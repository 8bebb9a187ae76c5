package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Executor runs a batch of tool calls concurrently and returns one result per
// call in call order. It never returns an error: every failure becomes a
// result whose content starts with "Error".
type Executor struct {
	toolbox Toolbox
	metrics *Metrics
	log     logr.Logger
}

// NewExecutor creates an Executor resolving capabilities through toolbox.
func NewExecutor(toolbox Toolbox, metrics *Metrics, log logr.Logger) *Executor {
	return &Executor{toolbox: toolbox, metrics: metrics, log: log}
}

// Execute resolves and runs calls. Calls whose name is rejected by allow are
// answered with a not-found result without being run; a nil allow admits all.
func (e *Executor) Execute(ctx context.Context, calls []ToolCall, allow func(name string) bool) []ToolResult {
	results := make([]ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	available, err := e.toolbox.Tools(ctx)
	if err != nil {
		e.log.Error(err, "failed to resolve tools")
		for i, call := range calls {
			results[i] = errorResult(call, fmt.Sprintf("Error executing %s: tools unavailable: %v", call.Function.Name, err))
		}
		return results
	}
	byName := make(map[string]Tool, len(available))
	for _, t := range available {
		byName[t.Name()] = t
	}

	var g errgroup.Group
	for i, call := range calls {
		tool, ok := byName[call.Function.Name]
		if ok && allow != nil && !allow(call.Function.Name) {
			ok = false
		}
		if !ok {
			results[i] = errorResult(call, fmt.Sprintf("Error: Tool '%s' not found", call.Function.Name))
			continue
		}
		g.Go(func() error {
			results[i] = e.invoke(ctx, tool, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) invoke(ctx context.Context, tool Tool, call ToolCall) (result ToolResult) {
	name := call.Function.Name
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tool."+name)
	span.SetAttributes(attribute.String("tool.call_id", call.ID))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = errorResult(call, fmt.Sprintf("Error executing %s: panic: %v", name, r))
		}
		elapsed := time.Since(start)
		failed := result.IsError()
		if failed {
			span.SetStatus(codes.Error, result.Content)
			e.log.Info("tool call failed", "tool", name, "elapsed", elapsed, "result", truncate(result.Content, 200))
		} else {
			e.log.V(1).Info("tool call succeeded", "tool", name, "elapsed", elapsed)
		}
		e.metrics.observeTool(name, failed, elapsed)
		span.End()
	}()

	args, err := checkArguments(tool.Schema(), call.Function.Arguments)
	if err != nil {
		return errorResult(call, fmt.Sprintf("Error: Failed to parse args: %v", err))
	}

	out, err := tool.Execute(ctx, args)
	if err != nil {
		span.RecordError(err)
		return errorResult(call, fmt.Sprintf("Error executing %s: %v", name, err))
	}
	return ToolResult{ToolCallID: call.ID, Name: name, Content: out}
}

// checkArguments verifies that args is a JSON object matching schema.
// Empty arguments are treated as an empty object.
func checkArguments(schema, args string) (string, error) {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &obj); err != nil {
		return "", err
	}
	if strings.TrimSpace(schema) == "" {
		return args, nil
	}
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewStringLoader(args))
	if err != nil {
		return "", fmt.Errorf("schema check: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, re := range res.Errors() {
			msgs = append(msgs, re.String())
		}
		return "", fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return args, nil
}

func errorResult(call ToolCall, content string) ToolResult {
	return ToolResult{ToolCallID: call.ID, Name: call.Function.Name, Content: content}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
