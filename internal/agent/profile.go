package agent

import (
	"strings"
)

// Profile is the prompt configuration of a model-calling step.
type Profile struct {
	// Name of the profile (e.g., "interpreter")
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	// Parent names a profile whose prompt and tools this one extends.
	Parent       string `yaml:"parent" json:"parent,omitempty"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
	// AllowedTools lists the capabilities offered to the model.
	// If empty, all tools are offered.
	AllowedTools []string `yaml:"allowed_tools" json:"allowed_tools"`
}

// MergeWith returns child layered on top of p: prompts are concatenated and
// the child's tool list replaces the parent's when set.
func (p Profile) MergeWith(child Profile) Profile {
	merged := child
	merged.Parent = ""
	if child.Description == "" {
		merged.Description = p.Description
	}
	switch {
	case p.SystemPrompt == "":
	case child.SystemPrompt == "":
		merged.SystemPrompt = p.SystemPrompt
	default:
		merged.SystemPrompt = p.SystemPrompt + "\n\n" + child.SystemPrompt
	}
	if len(child.AllowedTools) == 0 {
		merged.AllowedTools = append([]string(nil), p.AllowedTools...)
	}
	return merged
}

// Allows reports whether the profile offers the named tool.
func (p Profile) Allows(name string) bool {
	if len(p.AllowedTools) == 0 {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// Filter returns the subset of tools the profile offers.
func (p Profile) Filter(tools []Tool) []Tool {
	if len(p.AllowedTools) == 0 {
		return tools
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if p.Allows(t.Name()) {
			out = append(out, t)
		}
	}
	return out
}

// Names of the built-in profiles.
const (
	ProfileInterpreter = "interpreter"
	ProfileAnalyzer    = "analyzer"
)

// ChartToolName is the capability the analyzer uses to request charts.
const ChartToolName = "render_recharts"

// QueryToolNames are the capabilities whose results are routed to analysis.
var QueryToolNames = []string{"prom_query", "prom_range"}

var (
	// InterpreterProfile turns operator requests into tool calls.
	InterpreterProfile = Profile{
		Name:        ProfileInterpreter,
		Description: "Translates monitoring questions into queries",
		SystemPrompt: strings.TrimSpace(`
You are a monitoring assistant for a multi-cluster Kubernetes environment.
Translate the operator's request into Prometheus queries or read-only kubectl commands.
Use prom_discover and prom_metadata when you are unsure which metrics exist.
Use prom_query for instant values and prom_range for trends over time.
When a question can be answered without data, answer directly and call no tools.`),
		AllowedTools: []string{"prom_query", "prom_range", "prom_discover", "prom_metadata", "prom_targets", "kubectl"},
	}

	// AnalyzerProfile interprets query results and requests charts.
	AnalyzerProfile = Profile{
		Name:        ProfileAnalyzer,
		Description: "Interprets metrics and requests visualizations",
		SystemPrompt: strings.TrimSpace(`
You analyze Prometheus query results for an operator.
If the data benefits from a visualization, call render_recharts once with one chart per question.
Every chart must use x_axis_key and y_axis_keys that exist in every record of rechart_data.
Use BarChart for comparisons across entities and LineChart for values over time.
After a chart has been rendered, reply with a concise narrative summary and call no tools.`),
		AllowedTools: []string{ChartToolName},
	}
)
