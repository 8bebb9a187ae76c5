package agent

import (
	"strings"

	"github.com/go-logr/logr"
)

// ResetCommand is the literal user message that clears a thread.
const ResetCommand = "/clear"

// IsResetCommand reports whether text is the reset control string.
func IsResetCommand(text string) bool {
	return strings.TrimSpace(text) == ResetCommand
}

// WorkflowConfig wires the monitoring graph.
type WorkflowConfig struct {
	LLM      LLMProvider
	Toolbox  Toolbox
	Profiles *ProfileSet
	// MaxSteps bounds step invocations per turn; 0 means DefaultMaxSteps.
	MaxSteps int
	// MaxContextTokens bounds the history handed to the model; 0 means
	// DefaultMaxContextTokens.
	MaxContextTokens int
	// QueryTools names the capabilities whose results go to analysis;
	// nil means QueryToolNames.
	QueryTools []string
	Metrics    *Metrics
	Log        logr.Logger
}

// NewWorkflow builds the Interpreter -> Tool Executor -> Analyzer -> Chart
// Handler graph.
func NewWorkflow(cfg WorkflowConfig) *Graph {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultMaxContextTokens
	}
	queryTools := cfg.QueryTools
	if queryTools == nil {
		queryTools = QueryToolNames
	}
	isQuery := make(map[string]bool, len(queryTools))
	for _, name := range queryTools {
		isQuery[name] = true
	}

	exec := NewExecutor(cfg.Toolbox, cfg.Metrics, cfg.Log.WithName("executor"))

	g := NewGraph(RouteEntry, cfg.MaxSteps, cfg.Log.WithName("graph")).WithMetrics(cfg.Metrics)
	g.AddStep(StepInterpreter, &interpreterStep{
		llm:       cfg.LLM,
		toolbox:   cfg.Toolbox,
		profile:   cfg.Profiles.Get(ProfileInterpreter),
		maxTokens: cfg.MaxContextTokens,
	}, RouteAfterInterpreter)
	g.AddStep(StepTool, &toolStep{
		exec:    exec,
		isQuery: isQuery,
	}, RouteAfterTool(isQuery))
	g.AddStep(StepAnalyzer, &analyzerStep{
		llm:       cfg.LLM,
		toolbox:   cfg.Toolbox,
		profile:   cfg.Profiles.Get(ProfileAnalyzer),
		maxTokens: cfg.MaxContextTokens,
	}, RouteAfterAnalyzer)
	g.AddStep(StepChart, &chartStep{exec: exec}, RouteAfterChart)
	return g
}

// RouteEntry starts a turn at the interpreter unless the triggering message
// is the reset command, which ends the turn without running any step.
func RouteEntry(st State) string {
	last, ok := st.LastMessage()
	if ok && last.Type == MessageTypeUser && IsResetCommand(last.Content) {
		return End
	}
	return StepInterpreter
}

// RouteAfterInterpreter goes to the tool executor when tools were requested.
func RouteAfterInterpreter(st State) string {
	if last, ok := st.LastMessage(); ok && last.HasToolCalls() {
		return StepTool
	}
	return End
}

// RouteAfterTool sends query results to analysis and everything else back to
// the interpreter, which either answers or retries.
func RouteAfterTool(isQuery map[string]bool) RouteFunc {
	return func(st State) string {
		last, ok := st.LastMessage()
		if ok && last.Type == MessageTypeTool && isQuery[last.Name] {
			return StepAnalyzer
		}
		return StepInterpreter
	}
}

// RouteAfterAnalyzer goes to the chart handler when a chart was requested.
func RouteAfterAnalyzer(st State) string {
	if last, ok := st.LastMessage(); ok && last.HasToolCalls() {
		return StepChart
	}
	return End
}

// RouteAfterChart always returns to the analyzer for a narrative pass.
func RouteAfterChart(State) string {
	return StepAnalyzer
}
