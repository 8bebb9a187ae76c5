package tools

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"kubepulse/internal/agent"
)

const (
	defaultPromTimeout   = 30 * time.Second
	defaultRangeWindow   = time.Hour
	defaultRangePoints   = 60
	defaultDiscoverLimit = 200
)

// PrometheusConfig configures the native Prometheus provider.
type PrometheusConfig struct {
	URL                string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// PrometheusProvider serves the prom_* query capabilities against the
// Prometheus HTTP API.
type PrometheusProvider struct {
	api     promv1.API
	timeout time.Duration
	now     func() time.Time
}

// NewPrometheusProvider creates a provider for the server at cfg.URL.
func NewPrometheusProvider(cfg PrometheusConfig) (*PrometheusProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tools: prometheus url is required")
	}
	rt := api.DefaultRoundTripper
	if cfg.InsecureSkipVerify {
		if tr, ok := api.DefaultRoundTripper.(*http.Transport); ok {
			tr = tr.Clone()
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed lab clusters
			rt = tr
		}
	}
	client, err := api.NewClient(api.Config{Address: cfg.URL, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("tools: failed to create prometheus client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPromTimeout
	}
	return &PrometheusProvider{api: promv1.NewAPI(client), timeout: timeout, now: time.Now}, nil
}

func (p *PrometheusProvider) Name() string { return "prometheus" }

// ListTools returns the query, range, discovery, metadata and targets tools.
func (p *PrometheusProvider) ListTools(_ context.Context) ([]agent.Tool, error) {
	return []agent.Tool{
		&PromQueryTool{p: p},
		&PromRangeTool{p: p},
		&PromDiscoverTool{p: p},
		&PromMetadataTool{p: p},
		&PromTargetsTool{p: p},
	}, nil
}

func (p *PrometheusProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// queryResult is the JSON shape returned for instant and range queries.
type queryResult struct {
	ResultType model.ValueType `json:"resultType"`
	Result     model.Value     `json:"result"`
	Warnings   []string        `json:"warnings,omitempty"`
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func decodeArgs(args string, into any) error {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// parseTime accepts RFC3339, unix seconds, "now" or a relative "now-1h".
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "now":
		return now, nil
	case strings.HasPrefix(s, "now-"):
		d, err := model.ParseDuration(strings.TrimPrefix(s, "now-"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative time %q: %w", s, err)
		}
		return now.Add(-time.Duration(d)), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// parseStep accepts Prometheus durations ("30s", "5m") or plain seconds.
func parseStep(s string) (time.Duration, error) {
	if d, err := model.ParseDuration(s); err == nil {
		return time.Duration(d), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid step %q", s)
}

// PromQueryTool implements the prom_query tool.
type PromQueryTool struct {
	p *PrometheusProvider
}

type promQueryArgs struct {
	Query string `json:"query"`
	Time  string `json:"time"`
}

func (t *PromQueryTool) Name() string { return "prom_query" }

func (t *PromQueryTool) Description() string {
	return "Execute an instant PromQL query and return the current value of each matching series."
}

func (t *PromQueryTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The PromQL expression"
			},
			"time": {
				"type": "string",
				"description": "Evaluation time as RFC3339, unix seconds or now-<duration>. Defaults to now."
			}
		},
		"required": ["query"]
	}`
}

func (t *PromQueryTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed promQueryArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return "", err
	}
	if parsed.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	ts, err := parseTime(parsed.Time, t.p.now())
	if err != nil {
		return "", err
	}

	ctx, cancel := t.p.withTimeout(ctx)
	defer cancel()
	value, warnings, err := t.p.api.Query(ctx, parsed.Query, ts)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	return encode(queryResult{ResultType: value.Type(), Result: value, Warnings: warnings})
}

// PromRangeTool implements the prom_range tool.
type PromRangeTool struct {
	p *PrometheusProvider
}

type promRangeArgs struct {
	Query string `json:"query"`
	Start string `json:"start"`
	End   string `json:"end"`
	Step  string `json:"step"`
}

func (t *PromRangeTool) Name() string { return "prom_range" }

func (t *PromRangeTool) Description() string {
	return "Execute a PromQL range query and return a time series per matching series. Use this for trends over time."
}

func (t *PromRangeTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The PromQL expression"
			},
			"start": {
				"type": "string",
				"description": "Range start as RFC3339, unix seconds or now-<duration>. Defaults to now-1h."
			},
			"end": {
				"type": "string",
				"description": "Range end. Defaults to now."
			},
			"step": {
				"type": "string",
				"description": "Resolution such as 30s or 5m. Defaults to a 60 point resolution."
			}
		},
		"required": ["query"]
	}`
}

func (t *PromRangeTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed promRangeArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return "", err
	}
	if parsed.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	now := t.p.now()
	end, err := parseTime(parsed.End, now)
	if err != nil {
		return "", err
	}
	start := end.Add(-defaultRangeWindow)
	if parsed.Start != "" {
		if start, err = parseTime(parsed.Start, now); err != nil {
			return "", err
		}
	}
	if !start.Before(end) {
		return "", fmt.Errorf("start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	step := end.Sub(start) / defaultRangePoints
	if parsed.Step != "" {
		if step, err = parseStep(parsed.Step); err != nil {
			return "", err
		}
	}
	if step < time.Second {
		step = time.Second
	}

	ctx, cancel := t.p.withTimeout(ctx)
	defer cancel()
	value, warnings, err := t.p.api.QueryRange(ctx, parsed.Query, promv1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return "", fmt.Errorf("range query failed: %w", err)
	}
	return encode(queryResult{ResultType: value.Type(), Result: value, Warnings: warnings})
}

// PromDiscoverTool implements the prom_discover tool.
type PromDiscoverTool struct {
	p *PrometheusProvider
}

type promDiscoverArgs struct {
	Pattern string `json:"pattern"`
	Match   string `json:"match"`
	Limit   int    `json:"limit"`
}

func (t *PromDiscoverTool) Name() string { return "prom_discover" }

func (t *PromDiscoverTool) Description() string {
	return "List metric names known to Prometheus, optionally filtered by a substring or a series selector. Use this before writing a query for an unfamiliar metric."
}

func (t *PromDiscoverTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "Case-insensitive substring the metric name must contain"
			},
			"match": {
				"type": "string",
				"description": "Optional series selector, e.g. {namespace=\"default\"}"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of names to return (default 200)"
			}
		}
	}`
}

func (t *PromDiscoverTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed promDiscoverArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return "", err
	}
	limit := parsed.Limit
	if limit <= 0 {
		limit = defaultDiscoverLimit
	}
	var matches []string
	if parsed.Match != "" {
		matches = []string{parsed.Match}
	}

	ctx, cancel := t.p.withTimeout(ctx)
	defer cancel()
	values, _, err := t.p.api.LabelValues(ctx, model.MetricNameLabel, matches, time.Time{}, time.Time{})
	if err != nil {
		return "", fmt.Errorf("metric discovery failed: %w", err)
	}

	pattern := strings.ToLower(parsed.Pattern)
	names := make([]string, 0, len(values))
	for _, v := range values {
		name := string(v)
		if pattern != "" && !strings.Contains(strings.ToLower(name), pattern) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	total := len(names)
	if total > limit {
		names = names[:limit]
	}
	return encode(struct {
		Metrics []string `json:"metrics"`
		Total   int      `json:"total"`
	}{Metrics: names, Total: total})
}

// PromMetadataTool implements the prom_metadata tool.
type PromMetadataTool struct {
	p *PrometheusProvider
}

type promMetadataArgs struct {
	Metric string `json:"metric"`
	Limit  int    `json:"limit"`
}

func (t *PromMetadataTool) Name() string { return "prom_metadata" }

func (t *PromMetadataTool) Description() string {
	return "Return the type, help text and unit of a metric."
}

func (t *PromMetadataTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"metric": {
				"type": "string",
				"description": "Metric name; empty returns metadata for all metrics"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of metrics to return"
			}
		}
	}`
}

func (t *PromMetadataTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed promMetadataArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return "", err
	}
	limit := ""
	if parsed.Limit > 0 {
		limit = strconv.Itoa(parsed.Limit)
	}

	ctx, cancel := t.p.withTimeout(ctx)
	defer cancel()
	md, err := t.p.api.Metadata(ctx, parsed.Metric, limit)
	if err != nil {
		return "", fmt.Errorf("metadata lookup failed: %w", err)
	}
	if parsed.Metric != "" && len(md) == 0 {
		return fmt.Sprintf("No metadata found for metric %q.", parsed.Metric), nil
	}
	return encode(md)
}

// PromTargetsTool implements the prom_targets tool.
type PromTargetsTool struct {
	p *PrometheusProvider
}

type promTargetsArgs struct {
	State string `json:"state"`
}

type targetSummary struct {
	ScrapePool string            `json:"scrapePool"`
	ScrapeURL  string            `json:"scrapeUrl"`
	Health     string            `json:"health,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Dropped    bool              `json:"dropped,omitempty"`
}

func (t *PromTargetsTool) Name() string { return "prom_targets" }

func (t *PromTargetsTool) Description() string {
	return "List Prometheus scrape targets with their health and last scrape error. Use this to check whether an exporter is being scraped."
}

func (t *PromTargetsTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"state": {
				"type": "string",
				"enum": ["active", "dropped", "any"],
				"description": "Which targets to return (default active)"
			}
		}
	}`
}

func (t *PromTargetsTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed promTargetsArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return "", err
	}
	state := parsed.State
	if state == "" {
		state = "active"
	}

	ctx, cancel := t.p.withTimeout(ctx)
	defer cancel()
	res, err := t.p.api.Targets(ctx)
	if err != nil {
		return "", fmt.Errorf("targets lookup failed: %w", err)
	}

	out := []targetSummary{}
	if state == "active" || state == "any" {
		for _, at := range res.Active {
			out = append(out, targetSummary{
				ScrapePool: at.ScrapePool,
				ScrapeURL:  at.ScrapeURL,
				Health:     string(at.Health),
				LastError:  at.LastError,
				Labels:     labelMap(at.Labels),
			})
		}
	}
	if state == "dropped" || state == "any" {
		for _, dt := range res.Dropped {
			out = append(out, targetSummary{
				ScrapePool: dt.DiscoveredLabels["job"],
				ScrapeURL:  dt.DiscoveredLabels["__address__"],
				Labels:     dt.DiscoveredLabels,
				Dropped:    true,
			})
		}
	}
	return encode(out)
}

func labelMap(ls model.LabelSet) map[string]string {
	if len(ls) == 0 {
		return nil
	}
	out := make(map[string]string, len(ls))
	for k, v := range ls {
		out[string(k)] = string(v)
	}
	return out
}
