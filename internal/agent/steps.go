package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"kubepulse/internal/chart"
)

// interpreterStep turns the user's request into a direct answer or tool calls.
type interpreterStep struct {
	llm       LLMProvider
	toolbox   Toolbox
	profile   Profile
	maxTokens int
}

func (s *interpreterStep) Run(ctx context.Context, st *State, tr *Tracker) (Update, error) {
	var update Update
	if last, ok := st.LastMessage(); ok && last.Type == MessageTypeUser {
		tr.Reset(st)
		update.Query = last.Content
	}
	tr.Begin(st, StepInterpreter, "Understanding your query...")

	tools, err := s.toolbox.Tools(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("failed to resolve tools: %w", err)
	}
	history := withSystemPrompt(s.profile.SystemPrompt, Trim(st.Messages, s.maxTokens, ApproxTokens))

	resp, err := s.llm.Chat(ctx, history, s.profile.Filter(tools))
	if err != nil {
		return Update{}, fmt.Errorf("failed to chat with LLM: %w", err)
	}
	reply := normalizeReply(resp)

	tr.Finish(st, StepInterpreter, describeCalls(reply.ToolCalls))
	update.Messages = []Message{reply}
	return update, nil
}

// toolStep runs the tool calls of the last assistant message.
type toolStep struct {
	exec    *Executor
	isQuery map[string]bool
}

func (s *toolStep) Run(ctx context.Context, st *State, tr *Tracker) (Update, error) {
	last, ok := st.LastMessage()
	if !ok || !last.HasToolCalls() {
		return Update{}, nil
	}
	tr.Begin(st, StepTool, fmt.Sprintf("Executing %d tool call(s)...", len(last.ToolCalls)))

	results := s.exec.Execute(ctx, last.ToolCalls, nil)

	msgs := make([]Message, 0, len(results))
	queries, points, succeeded := 0, 0, 0
	for _, r := range results {
		msgs = append(msgs, r.Message())
		if r.IsError() {
			continue
		}
		succeeded++
		if s.isQuery[r.Name] {
			queries++
			points += CountDataPoints(r.Content)
		}
	}

	var summary string
	switch {
	case queries > 0 && points > 0:
		summary = fmt.Sprintf("Executed %d queries, retrieved %d data points", queries, points)
	case succeeded > 0:
		summary = fmt.Sprintf("Executed %d queries successfully", succeeded)
	default:
		summary = "No data retrieved"
	}
	tr.Finish(st, StepTool, summary)
	return Update{Messages: msgs}, nil
}

// analyzerStep interprets query results and either requests a chart or
// writes the final narrative.
type analyzerStep struct {
	llm       LLMProvider
	toolbox   Toolbox
	profile   Profile
	maxTokens int
}

func (s *analyzerStep) Run(ctx context.Context, st *State, tr *Tracker) (Update, error) {
	tr.Begin(st, StepAnalyzer, "Analyzing metrics data...")

	input, afterChart := analyzerInput(st.Messages, st.Query, s.maxTokens)

	tools, err := s.toolbox.Tools(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("failed to resolve tools: %w", err)
	}
	resp, err := s.llm.Chat(ctx, withSystemPrompt(s.profile.SystemPrompt, input), s.profile.Filter(tools))
	if err != nil {
		return Update{}, fmt.Errorf("failed to chat with LLM: %w", err)
	}
	reply := normalizeReply(resp)

	var summary string
	switch {
	case len(reply.ToolCalls) > 0:
		summary = "Initial analysis completed, creating visualizations"
	case afterChart:
		summary = narrativeSummary(reply.Content)
	default:
		summary = "Analysis report completed"
	}
	tr.Finish(st, StepAnalyzer, summary)
	return Update{Messages: []Message{reply}}, nil
}

// chartStep executes the chart calls of the last assistant message.
type chartStep struct {
	exec *Executor
}

func (s *chartStep) Run(ctx context.Context, st *State, tr *Tracker) (Update, error) {
	last, ok := st.LastMessage()
	if !ok || !last.HasToolCalls() {
		return Update{}, nil
	}
	tr.Begin(st, StepChart, "Creating visualizations...")

	onlyCharts := func(name string) bool { return name == ChartToolName }
	results := s.exec.Execute(ctx, last.ToolCalls, onlyCharts)

	var accepted []chart.Descriptor
	msgs := make([]Message, 0, len(results))
	for i, r := range results {
		msgs = append(msgs, r.Message())
		call := last.ToolCalls[i]
		if call.Function.Name != ChartToolName || r.IsError() {
			continue
		}
		report, err := chart.ValidateArgs(call.Function.Arguments)
		if err != nil {
			continue
		}
		accepted = append(accepted, report.Accepted...)
	}

	tr.Finish(st, StepChart, chart.Summarize(accepted))
	return Update{Messages: msgs}, nil
}

// analyzerInput builds the model input for the analyzer. Fresh tool output is
// framed by the original query followed by the assistant call and its
// results; a returning chart result sees the trimmed history instead. The
// second return value reports the latter.
func analyzerInput(msgs []Message, query string, maxTokens int) ([]Message, bool) {
	runStart := len(msgs)
	for runStart > 0 && msgs[runStart-1].Type == MessageTypeTool {
		runStart--
	}
	owner := runStart - 1
	if runStart == len(msgs) || owner < 0 || !msgs[owner].HasToolCalls() {
		return Trim(msgs, maxTokens, ApproxTokens), false
	}

	for _, m := range msgs[runStart:] {
		if m.Name == ChartToolName {
			return Trim(msgs, maxTokens, ApproxTokens), true
		}
	}

	var input []Message
	if owner > 0 && msgs[owner-1].Type == MessageTypeUser {
		input = append([]Message(nil), msgs[owner-1:]...)
	} else {
		input = make([]Message, 0, len(msgs)-owner+1)
		input = append(input, Message{Type: MessageTypeUser, Content: query})
		input = append(input, msgs[owner:]...)
	}
	return fitToolResults(input, maxTokens), false
}

// minToolResultChars keeps some of every result even under a tiny budget.
const minToolResultChars = 256

// fitToolResults shortens tool result contents so msgs fits maxTokens. Whole
// messages are never dropped, so every call keeps its result. msgs is
// modified in place and must not alias committed state.
func fitToolResults(msgs []Message, maxTokens int) []Message {
	if maxTokens <= 0 {
		return msgs
	}
	fixed, toolTokens, tools := 0, 0, 0
	for _, m := range msgs {
		if m.Type == MessageTypeTool {
			toolTokens += ApproxTokens(m)
			tools++
			continue
		}
		fixed += ApproxTokens(m)
	}
	if tools == 0 || fixed+toolTokens <= maxTokens {
		return msgs
	}

	share := (maxTokens - fixed) * 4 / tools
	if share < minToolResultChars {
		share = minToolResultChars
	}
	for i, m := range msgs {
		if m.Type == MessageTypeTool && len(m.Content) > share {
			msgs[i].Content = m.Content[:share] + "\n... (result truncated)"
		}
	}
	return msgs
}

func withSystemPrompt(prompt string, msgs []Message) []Message {
	if prompt == "" {
		return msgs
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Type: MessageTypeSystem, Content: prompt})
	return append(out, msgs...)
}

// normalizeReply forces the assistant tag and fills in missing call IDs so
// results can always be correlated.
func normalizeReply(resp *Message) Message {
	reply := Message{Type: MessageTypeAssistant}
	if resp != nil {
		reply.Content = resp.Content
		reply.ToolCalls = append([]ToolCall(nil), resp.ToolCalls...)
	}
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].ID == "" {
			reply.ToolCalls[i].ID = "call_" + shortHex()
		}
	}
	return reply
}

// describeCalls summarizes what the interpreter asked for.
func describeCalls(calls []ToolCall) string {
	if len(calls) == 0 {
		return "Query analysis completed"
	}

	var queries []string
	kubectl := 0
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Function.Name)
		switch {
		case c.Function.Name == "kubectl":
			kubectl++
		case strings.HasPrefix(c.Function.Name, "prom_"):
			var args struct {
				Query string `json:"query"`
			}
			if json.Unmarshal([]byte(c.Function.Arguments), &args) == nil && args.Query != "" {
				queries = append(queries, args.Query)
			}
		}
	}

	switch {
	case len(queries) > 0:
		shown := queries
		suffix := ""
		if len(shown) > 2 {
			shown = shown[:2]
			suffix = "..."
		}
		return "PromQL: " + strings.Join(shown, ", ") + suffix
	case kubectl > 0:
		return fmt.Sprintf("Generated %d kubectl command(s)", kubectl)
	default:
		return "Called tools: " + strings.Join(names, ", ")
	}
}

// narrativeSummary condenses the final analyzer reply to its first sentence.
func narrativeSummary(content string) string {
	s := strings.TrimSpace(content)
	if s == "" {
		return "Analysis report completed"
	}
	if i := strings.IndexAny(s, ".!?\n"); i >= 0 {
		s = s[:i]
	}
	if utf8.RuneCountInString(s) > 100 {
		s = string([]rune(s)[:100])
	}
	return "Summary: " + s + "..."
}

// CountDataPoints estimates how many samples a query result carries. Vector
// samples count once and matrix series count each point; unparseable payloads
// fall back to counting value fields in the raw text.
func CountDataPoints(content string) int {
	var payload struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err == nil && len(payload.Result) > 0 {
		switch payload.ResultType {
		case "scalar", "string":
			return 1
		}
		var series []struct {
			Value  json.RawMessage   `json:"value"`
			Values []json.RawMessage `json:"values"`
		}
		if err := json.Unmarshal(payload.Result, &series); err == nil {
			n := 0
			for _, s := range series {
				if len(s.Value) > 0 {
					n++
				}
				n += len(s.Values)
			}
			return n
		}
	}
	return strings.Count(content, `"values":`) + strings.Count(content, `"value":`)
}
