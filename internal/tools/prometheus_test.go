package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePrometheus serves the subset of the Prometheus HTTP API used by the tools.
type fakePrometheus struct {
	mu       sync.Mutex
	requests map[string][]string
}

func (f *fakePrometheus) record(path, query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requests == nil {
		f.requests = make(map[string][]string)
	}
	f.requests[path] = append(f.requests[path], query)
}

func (f *fakePrometheus) last(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[path]
	if len(reqs) == 0 {
		return ""
	}
	return reqs[len(reqs)-1]
}

func success(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"success","data":%s}`, data)
}

func (f *fakePrometheus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.record(r.URL.Path, r.Form.Encode())

	switch r.URL.Path {
	case "/api/v1/query":
		if strings.Contains(r.Form.Get("query"), "bad(") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"status":"error","errorType":"bad_data","error":"parse error at char 4"}`)
			return
		}
		success(w, `{"resultType":"vector","result":[
			{"metric":{"pod":"a"},"value":[1700000000,"0.25"]},
			{"metric":{"pod":"b"},"value":[1700000000,"0.5"]}
		]}`)
	case "/api/v1/query_range":
		success(w, `{"resultType":"matrix","result":[
			{"metric":{"pod":"a"},"values":[[1700000000,"1"],[1700000060,"2"],[1700000120,"3"]]}
		]}`)
	case "/api/v1/label/__name__/values":
		success(w, `["up","node_cpu_seconds_total","container_cpu_usage_seconds_total","container_memory_working_set_bytes"]`)
	case "/api/v1/metadata":
		if r.Form.Get("metric") == "missing" {
			success(w, `{}`)
			return
		}
		success(w, `{"up":[{"type":"gauge","help":"Target is up.","unit":""}]}`)
	case "/api/v1/targets":
		success(w, `{"activeTargets":[{
			"discoveredLabels":{"__address__":"10.0.0.1:9100"},
			"labels":{"job":"node"},
			"scrapePool":"node",
			"scrapeUrl":"http://10.0.0.1:9100/metrics",
			"globalUrl":"http://10.0.0.1:9100/metrics",
			"lastError":"",
			"lastScrape":"2024-01-01T00:00:00Z",
			"lastScrapeDuration":0.01,
			"health":"up"
		}],"droppedTargets":[{"discoveredLabels":{"__address__":"10.0.0.2:8080","job":"app"}}]}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestPrometheus(t *testing.T) (*PrometheusProvider, *fakePrometheus) {
	t.Helper()
	fake := &fakePrometheus{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p, err := NewPrometheusProvider(PrometheusConfig{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	p.now = func() time.Time { return time.Unix(1700003600, 0) }
	return p, fake
}

func promTool(t *testing.T, p *PrometheusProvider, name string) interface {
	Execute(context.Context, string) (string, error)
	Schema() string
} {
	t.Helper()
	tools, err := p.ListTools(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestPrometheusProvider_ListTools(t *testing.T) {
	p, _ := newTestPrometheus(t)
	tools, _ := p.ListTools(context.Background())

	want := []string{"prom_query", "prom_range", "prom_discover", "prom_metadata", "prom_targets"}
	if got := toolNames(tools); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
	for _, tool := range tools {
		if !json.Valid([]byte(tool.Schema())) {
			t.Errorf("%s: schema is not valid JSON", tool.Name())
		}
	}
}

func TestPromQueryTool(t *testing.T) {
	p, _ := newTestPrometheus(t)
	tool := promTool(t, p, "prom_query")

	t.Run("returns result type and samples", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), `{"query":"sum(rate(container_cpu_usage_seconds_total[5m])) by (pod)"}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var res struct {
			ResultType string            `json:"resultType"`
			Result     []json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("result is not valid JSON: %v", err)
		}
		if res.ResultType != "vector" || len(res.Result) != 2 {
			t.Errorf("unexpected result %s", out)
		}
	})

	t.Run("surfaces query errors", func(t *testing.T) {
		_, err := tool.Execute(context.Background(), `{"query":"bad("}`)
		if err == nil || !strings.Contains(err.Error(), "parse error") {
			t.Errorf("expected parse error, got %v", err)
		}
	})

	t.Run("requires a query", func(t *testing.T) {
		if _, err := tool.Execute(context.Background(), `{}`); err == nil {
			t.Errorf("expected error for empty query")
		}
	})
}

func TestPromRangeTool(t *testing.T) {
	p, fake := newTestPrometheus(t)
	tool := promTool(t, p, "prom_range")

	out, err := tool.Execute(context.Background(), `{"query":"up","start":"now-30m","step":"1m"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"resultType":"matrix"`) || strings.Count(out, `"values":`) != 1 {
		t.Errorf("unexpected result %s", out)
	}

	sent := fake.last("/api/v1/query_range")
	for _, want := range []string{"start=1700001800", "end=1700003600", "step=60"} {
		if !strings.Contains(sent, want) {
			t.Errorf("expected %s in request %q", want, sent)
		}
	}

	if _, err := tool.Execute(context.Background(), `{"query":"up","start":"now","end":"now-1h"}`); err == nil {
		t.Errorf("expected error for inverted range")
	}
}

func TestPromDiscoverTool(t *testing.T) {
	p, _ := newTestPrometheus(t)
	tool := promTool(t, p, "prom_discover")

	out, err := tool.Execute(context.Background(), `{"pattern":"CPU"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res struct {
		Metrics []string `json:"metrics"`
		Total   int      `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if res.Total != 2 || res.Metrics[0] != "container_cpu_usage_seconds_total" {
		t.Errorf("unexpected result %+v", res)
	}

	out, _ = tool.Execute(context.Background(), `{"limit":1}`)
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(res.Metrics) != 1 || res.Total != 4 {
		t.Errorf("expected limited result, got %+v", res)
	}
}

func TestPromMetadataTool(t *testing.T) {
	p, _ := newTestPrometheus(t)
	tool := promTool(t, p, "prom_metadata")

	out, err := tool.Execute(context.Background(), `{"metric":"up"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Target is up.") {
		t.Errorf("unexpected result %s", out)
	}

	out, err = tool.Execute(context.Background(), `{"metric":"missing"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "No metadata found") {
		t.Errorf("unexpected result %s", out)
	}
}

func TestPromTargetsTool(t *testing.T) {
	p, _ := newTestPrometheus(t)
	tool := promTool(t, p, "prom_targets")

	out, err := tool.Execute(context.Background(), ``)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var targets []targetSummary
	if err := json.Unmarshal([]byte(out), &targets); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(targets) != 1 || targets[0].Health != "up" || targets[0].Labels["job"] != "node" {
		t.Errorf("unexpected active targets %+v", targets)
	}

	out, _ = tool.Execute(context.Background(), `{"state":"any"}`)
	if err := json.Unmarshal([]byte(out), &targets); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(targets) != 2 || !targets[1].Dropped || targets[1].ScrapeURL != "10.0.0.2:8080" {
		t.Errorf("unexpected targets %+v", targets)
	}
}

func TestParseTime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cases := map[string]time.Time{
		"":                     now,
		"now":                  now,
		"now-5m":               now.Add(-5 * time.Minute),
		"1699999000":           time.Unix(1699999000, 0),
		"2023-11-14T22:13:20Z": time.Unix(1700000000, 0),
	}
	for in, want := range cases {
		got, err := parseTime(in, now)
		if err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
	if _, err := parseTime("yesterday", now); err == nil {
		t.Errorf("expected error for unparsable time")
	}
}
