package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kubepulse/internal/crypto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Agent.MaxSteps != 25 {
		t.Errorf("Agent.MaxSteps = %d, want 25", cfg.Agent.MaxSteps)
	}
	if cfg.Agent.MaxContextTokens != 10000 {
		t.Errorf("Agent.MaxContextTokens = %d, want 10000", cfg.Agent.MaxContextTokens)
	}
	if cfg.Checkpoint.Backend != CheckpointMemory {
		t.Errorf("Checkpoint.Backend = %q, want memory", cfg.Checkpoint.Backend)
	}
	if cfg.LLM.DefaultProvider != "mock" {
		t.Errorf("LLM.DefaultProvider = %q, want mock", cfg.LLM.DefaultProvider)
	}
	if _, ok := cfg.LLM.Providers["mock"]; !ok {
		t.Error("mock provider should be configured by default")
	}
}

func TestLoadConfig_OverlaysYAML(t *testing.T) {
	path := writeConfig(t, `
apiPort: 9000
llm:
  defaultProvider: openai
  providers:
    openai:
      apiKey: sk-plain
      model: gpt-4o
prometheus:
  url: http://prometheus:9090
  timeout: 10s
mcp:
  enabled: true
  command: npx
  args: ["prometheus-mcp-server@1.0.1"]
  retryBaseDelay: 500ms
agent:
  maxSteps: 10
  queryTools: [prom_query]
checkpoint:
  backend: redis
  ttl: 1h
redis:
  addr: redis:6379
alertAggregator:
  windowSize: 10m
  sweepInterval: 1m
  threadID: oncall
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.APIPort != 9000 {
		t.Errorf("APIPort = %d, want 9000", cfg.APIPort)
	}
	if got := cfg.LLM.Providers["openai"].APIKey; got != "sk-plain" {
		t.Errorf("openai apiKey = %q, want sk-plain", got)
	}
	if _, ok := cfg.LLM.Providers["mock"]; ok {
		t.Error("mock provider should not be added when providers are configured")
	}
	if cfg.Prometheus.Timeout != 10*time.Second {
		t.Errorf("Prometheus.Timeout = %v, want 10s", cfg.Prometheus.Timeout)
	}
	if !cfg.MCP.Enabled || cfg.MCP.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("MCP = %+v", cfg.MCP)
	}
	if cfg.MCP.MaxRetries != 3 {
		t.Errorf("MCP.MaxRetries = %d, want default 3", cfg.MCP.MaxRetries)
	}
	if cfg.Agent.MaxSteps != 10 || cfg.Agent.MaxContextTokens != 10000 {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Checkpoint.Backend != CheckpointRedis || cfg.Checkpoint.TTL != time.Hour {
		t.Errorf("Checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.AlertAggregator.ThreadID != "oncall" {
		t.Errorf("AlertAggregator.ThreadID = %q, want oncall", cfg.AlertAggregator.ThreadID)
	}
}

func TestLoadConfig_DecryptsSecrets(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv(crypto.MasterKeyEnv, hex.EncodeToString(key))

	sealedKey, err := crypto.Encrypt(key, "sk-secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	sealedDSN, err := crypto.Encrypt(key, "postgres://kubepulse@db/kubepulse")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	path := writeConfig(t, `
llm:
  defaultProvider: anthropic
  providers:
    anthropic:
      apiKey: "`+sealedKey+`"
checkpoint:
  backend: postgres
postgres:
  dsn: "`+sealedDSN+`"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got := cfg.LLM.Providers["anthropic"].APIKey; got != "sk-secret" {
		t.Errorf("apiKey = %q, want decrypted value", got)
	}
	if cfg.Postgres.DSN != "postgres://kubepulse@db/kubepulse" {
		t.Errorf("Postgres.DSN = %q, want decrypted value", cfg.Postgres.DSN)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed yaml", body: "llm: [unclosed"},
		{name: "unknown backend", body: "checkpoint:\n  backend: etcd\n"},
		{name: "redis without addr", body: "checkpoint:\n  backend: redis\n"},
		{name: "postgres without dsn", body: "checkpoint:\n  backend: postgres\n"},
		{name: "bad window", body: "alertAggregator:\n  windowSize: soon\n"},
		{name: "negative steps", body: "agent:\n  maxSteps: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("LoadConfig() should fail")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PROMETHEUS_URL":      "https://prom.example:9090",
		"PROMETHEUS_INSECURE": "true",
		"DISABLE_EMIT_STATE":  "1",
		"K8S_PROVIDER":        "local",
		"KUBECONFIG_PATH":     "~/.kube/dev",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Prometheus.URL != "https://prom.example:9090" {
		t.Errorf("Prometheus.URL = %q", cfg.Prometheus.URL)
	}
	if !cfg.Prometheus.InsecureSkipVerify {
		t.Error("PROMETHEUS_INSECURE should enable InsecureSkipVerify")
	}
	if !cfg.Agent.DisableProgressEvents {
		t.Error("DISABLE_EMIT_STATE should disable progress events")
	}
	if cfg.K8s.Provider != K8sProviderLocal || cfg.K8s.KubeconfigPath != "~/.kube/dev" {
		t.Errorf("K8s = %+v", cfg.K8s)
	}
}

func TestApplyEnv_KeepsExplicitSettings(t *testing.T) {
	cfg := Default()
	cfg.K8s.Provider = K8sProviderGCloud
	cfg.K8s.KubeconfigPath = "/etc/kube/config"
	cfg.ApplyEnv(func(k string) string {
		switch k {
		case "K8S_PROVIDER":
			return "aws"
		case "KUBECONFIG_PATH":
			return "/tmp/other"
		case "DISABLE_EMIT_STATE":
			return "false"
		}
		return ""
	})
	if cfg.K8s.Provider != K8sProviderGCloud || cfg.K8s.KubeconfigPath != "/etc/kube/config" {
		t.Errorf("K8s = %+v, want file settings kept", cfg.K8s)
	}
	if cfg.Agent.DisableProgressEvents {
		t.Error("DISABLE_EMIT_STATE=false should leave progress events on")
	}
}

func TestParseAlertAggregatorConfig(t *testing.T) {
	window, sweep, err := ParseAlertAggregatorConfig(AlertAggregatorConfig{WindowSize: "5m", SweepInterval: "30s"})
	if err != nil {
		t.Fatalf("ParseAlertAggregatorConfig() error = %v", err)
	}
	if window != 5*time.Minute || sweep != 30*time.Second {
		t.Errorf("got %v, %v; want 5m, 30s", window, sweep)
	}
	if _, _, err := ParseAlertAggregatorConfig(AlertAggregatorConfig{WindowSize: "0s", SweepInterval: "1s"}); err == nil {
		t.Error("zero window should be rejected")
	}
}
