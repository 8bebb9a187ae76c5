package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"kubepulse/internal/crypto"
)

// K8sProvider identifies which K8s connection strategy to use.
type K8sProvider string

const (
	K8sProviderAuto   K8sProvider = ""       // in-cluster, then KUBECONFIG, then ~/.kube/config
	K8sProviderLocal  K8sProvider = "local"  // explicit kubeconfig file
	K8sProviderGCloud K8sProvider = "gcloud" // kubeconfig + optional insecure TLS (SSH tunnel)
	K8sProviderAWS    K8sProvider = "aws"    // not implemented
)

// K8sConfig holds Kubernetes connection configuration.
type K8sConfig struct {
	Provider           K8sProvider `yaml:"provider"`
	KubeconfigPath     string      `yaml:"kubeconfigPath"`
	InsecureSkipVerify bool        `yaml:"insecureSkipVerify"`
	Context            string      `yaml:"context"`
	// Disabled skips the cluster tools entirely.
	Disabled bool `yaml:"disabled"`
	// DefaultNamespace is used by kubectl commands without -n.
	DefaultNamespace string `yaml:"defaultNamespace"`
}

// ProviderConfig configures one LLM provider. APIKey may be an enc:aes256: value.
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

// LLMConfig lists the configured providers and the one that serves traffic.
type LLMConfig struct {
	DefaultProvider string                    `yaml:"defaultProvider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// PrometheusConfig points the query tools at a Prometheus server.
type PrometheusConfig struct {
	URL                string        `yaml:"url"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	Timeout            time.Duration `yaml:"timeout"`
}

// MCPConfig replaces the native Prometheus tools with an MCP server when enabled.
type MCPConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	Tools          []string          `yaml:"tools"`
	MaxRetries     int               `yaml:"maxRetries"`
	RetryBaseDelay time.Duration     `yaml:"retryBaseDelay"`
}

// AgentConfig tunes the monitoring graph.
type AgentConfig struct {
	MaxSteps              int      `yaml:"maxSteps"`
	MaxContextTokens      int      `yaml:"maxContextTokens"`
	DisableProgressEvents bool     `yaml:"disableProgressEvents"`
	ProfileDir            string   `yaml:"profileDir"`
	QueryTools            []string `yaml:"queryTools"`
}

// CheckpointBackend selects where thread state is kept.
type CheckpointBackend string

const (
	CheckpointMemory   CheckpointBackend = "memory"
	CheckpointRedis    CheckpointBackend = "redis"
	CheckpointPostgres CheckpointBackend = "postgres"
)

// CheckpointConfig selects and bounds the checkpoint store.
type CheckpointConfig struct {
	Backend    CheckpointBackend `yaml:"backend"`
	MaxThreads int               `yaml:"maxThreads"`
	// TTL expires idle threads in Redis; zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// RedisConfig holds the Redis connection used by the redis checkpoint backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds the DSN used by the postgres checkpoint backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// AlertAggregatorConfig configures the alert sliding window. Durations are
// Go duration strings ("5m", "30s").
type AlertAggregatorConfig struct {
	WindowSize    string `yaml:"windowSize"`
	SweepInterval string `yaml:"sweepInterval"`
	// ThreadID is the thread alert investigations are posted to.
	ThreadID string `yaml:"threadID"`
}

// TracingConfig enables OTLP span export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Config holds the application configuration
type Config struct {
	APIPort         int                   `yaml:"apiPort"`
	MetricsAddr     string                `yaml:"metricsAddr"`
	LLM             LLMConfig             `yaml:"llm"`
	Prometheus      PrometheusConfig      `yaml:"prometheus"`
	MCP             MCPConfig             `yaml:"mcp"`
	Agent           AgentConfig           `yaml:"agent"`
	Checkpoint      CheckpointConfig      `yaml:"checkpoint"`
	Redis           RedisConfig           `yaml:"redis"`
	Postgres        PostgresConfig        `yaml:"postgres"`
	AlertAggregator AlertAggregatorConfig `yaml:"alertAggregator"`
	Tracing         TracingConfig         `yaml:"tracing"`
	K8s             K8sConfig             `yaml:"k8s"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		APIPort:     8081,
		MetricsAddr: ":8082",
		LLM: LLMConfig{
			DefaultProvider: "mock",
		},
		Prometheus: PrometheusConfig{
			URL:     "http://localhost:9090",
			Timeout: 30 * time.Second,
		},
		MCP: MCPConfig{
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		Agent: AgentConfig{
			MaxSteps:         25,
			MaxContextTokens: 10000,
			ProfileDir:       "profiles/",
		},
		Checkpoint: CheckpointConfig{
			Backend:    CheckpointMemory,
			MaxThreads: 1024,
			TTL:        24 * time.Hour,
		},
		AlertAggregator: AlertAggregatorConfig{
			WindowSize:    "5m",
			SweepInterval: "30s",
			ThreadID:      "alerts",
		},
		Tracing: TracingConfig{
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		K8s: K8sConfig{
			DefaultNamespace: "default",
		},
	}
}

// LoadConfig loads the configuration from a YAML file over the defaults. A
// missing file yields the defaults so the binary can run on flags alone.
// Encrypted secrets are decrypted before returning.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Without any configured model the offline provider keeps the graph usable.
	if len(config.LLM.Providers) == 0 {
		config.LLM.DefaultProvider = "mock"
		config.LLM.Providers = map[string]ProviderConfig{"mock": {}}
	}

	if err := config.decryptSecrets(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) decryptSecrets() error {
	fields := []*string{&c.Redis.Password, &c.Postgres.DSN}
	for name, p := range c.LLM.Providers {
		if crypto.IsEncrypted(p.APIKey) {
			if err := crypto.DecryptInPlace(&p.APIKey); err != nil {
				return fmt.Errorf("llm.providers.%s.apiKey: %w", name, err)
			}
			c.LLM.Providers[name] = p
		}
	}
	if err := crypto.DecryptInPlace(fields...); err != nil {
		return fmt.Errorf("failed to decrypt config secrets: %w", err)
	}
	return nil
}

// Validate rejects settings that would only fail later at wiring time.
func (c *Config) Validate() error {
	switch c.Checkpoint.Backend {
	case CheckpointMemory, "":
	case CheckpointRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("checkpoint backend %q requires redis.addr", c.Checkpoint.Backend)
		}
	case CheckpointPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("checkpoint backend %q requires postgres.dsn", c.Checkpoint.Backend)
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q; supported: memory, redis, postgres", c.Checkpoint.Backend)
	}
	if c.Agent.MaxSteps < 0 {
		return fmt.Errorf("agent.maxSteps must not be negative")
	}
	if _, _, err := ParseAlertAggregatorConfig(c.AlertAggregator); err != nil {
		return err
	}
	return nil
}

// ApplyEnv applies environment overrides after the file and flags
// (YAML → Flag → Env). PROMETHEUS_URL always wins; the k8s variables only
// fill unset fields; the boolean switches can only turn their feature on.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if u := getenv("PROMETHEUS_URL"); u != "" {
		c.Prometheus.URL = u
	}
	if isTrue(getenv("PROMETHEUS_INSECURE")) {
		c.Prometheus.InsecureSkipVerify = true
	}
	if isTrue(getenv("DISABLE_EMIT_STATE")) {
		c.Agent.DisableProgressEvents = true
	}
	if c.K8s.Provider == "" {
		if p := getenv("K8S_PROVIDER"); p != "" {
			c.K8s.Provider = K8sProvider(p)
		}
	}
	if c.K8s.KubeconfigPath == "" {
		c.K8s.KubeconfigPath = getenv("KUBECONFIG_PATH")
	}
	if isTrue(getenv("INSECURE_SKIP_TLS_VERIFY")) {
		c.K8s.InsecureSkipVerify = true
	}
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// ParseAlertAggregatorConfig parses the window and sweep durations.
func ParseAlertAggregatorConfig(cfg AlertAggregatorConfig) (window, sweep time.Duration, err error) {
	window, err = time.ParseDuration(cfg.WindowSize)
	if err != nil {
		return 0, 0, fmt.Errorf("alertAggregator.windowSize %q: %w", cfg.WindowSize, err)
	}
	sweep, err = time.ParseDuration(cfg.SweepInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("alertAggregator.sweepInterval %q: %w", cfg.SweepInterval, err)
	}
	if window <= 0 || sweep <= 0 {
		return 0, 0, fmt.Errorf("alertAggregator durations must be positive")
	}
	return window, sweep, nil
}
