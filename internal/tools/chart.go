package tools

import (
	"context"

	"kubepulse/internal/agent"
	"kubepulse/internal/chart"
)

// ChartProvider serves the chart rendering capability.
type ChartProvider struct{}

// NewChartProvider creates a chart provider.
func NewChartProvider() *ChartProvider {
	return &ChartProvider{}
}

func (p *ChartProvider) Name() string { return "chart" }

func (p *ChartProvider) ListTools(_ context.Context) ([]agent.Tool, error) {
	return []agent.Tool{&RenderChartsTool{}}, nil
}

// RenderChartsTool implements the render_recharts tool. It validates the
// descriptors and acknowledges the accepted ones; rendering happens in the
// client that consumes the thread state.
type RenderChartsTool struct{}

func (t *RenderChartsTool) Name() string { return agent.ChartToolName }

func (t *RenderChartsTool) Description() string {
	return "Render one or more bar or line charts from tabular metric data. Every record must contain x_axis_key and all y_axis_keys."
}

func (t *RenderChartsTool) Schema() string {
	return chart.ToolSchema
}

func (t *RenderChartsTool) Execute(_ context.Context, args string) (string, error) {
	report, err := chart.ValidateArgs(args)
	if err != nil {
		return "", err
	}
	// Status starts with "Error" when nothing was accepted, which makes the
	// result an error result without failing the call.
	return report.Status(), nil
}
