package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"kubepulse/internal/agent"
	"kubepulse/internal/alert"
	"kubepulse/internal/api"
	"kubepulse/internal/config"
	"kubepulse/internal/llm"
	"kubepulse/internal/tools"
	"kubepulse/internal/tracing"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var metricsAddr string
	var apiPort int
	var configPath string
	var k8sProvider string
	var kubeconfigPath string
	var k8sContext string
	var insecureSkipVerify bool
	var prometheusURL string
	var development bool

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8082", "The address the metric endpoint binds to.")
	flag.IntVar(&apiPort, "api-port", 8081, "The port the API server binds to.")
	flag.StringVar(&configPath, "config", "cmd/config/config.yaml", "The path to the configuration file.")
	flag.StringVar(&k8sProvider, "k8s-provider", "", "K8s connection provider: '', 'local', 'gcloud', 'aws'.")
	flag.StringVar(&kubeconfigPath, "kubeconfig-path", "", "Path to kubeconfig file (used by local/gcloud providers).")
	flag.StringVar(&k8sContext, "k8s-context", "", "Kubeconfig context name to use (optional).")
	flag.BoolVar(&insecureSkipVerify, "insecure-skip-tls-verify", false, "Skip TLS verification (gcloud SSH tunnel scenarios).")
	flag.StringVar(&prometheusURL, "prometheus-url", "", "Prometheus base URL queried by the prom_* tools.")
	flag.BoolVar(&development, "development", true, "Use the human-readable development logger.")
	flag.Parse()

	zapLog := newZapLogger(development)
	defer func() { _ = zapLog.Sync() }()
	log.SetLogger(zapr.NewLogger(zapLog))

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	// Flags override the file when set explicitly (YAML → Flag → Env).
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "metrics-bind-address":
			cfg.MetricsAddr = metricsAddr
		case "api-port":
			cfg.APIPort = apiPort
		case "k8s-provider":
			cfg.K8s.Provider = config.K8sProvider(k8sProvider)
		case "kubeconfig-path":
			cfg.K8s.KubeconfigPath = kubeconfigPath
		case "k8s-context":
			cfg.K8s.Context = k8sContext
		case "insecure-skip-tls-verify":
			cfg.K8s.InsecureSkipVerify = insecureSkipVerify
		case "prometheus-url":
			cfg.Prometheus.URL = prometheusURL
		}
	})
	cfg.ApplyEnv(os.Getenv)

	ctx := ctrl.SetupSignalHandler()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
		Insecure: cfg.Tracing.Insecure,
	}, log.Log.WithName("tracing"))
	if err != nil {
		setupLog.Error(err, "unable to initialize tracing")
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			setupLog.Error(err, "failed to flush traces")
		}
	}()

	llmRouter, err := llm.NewRouterFromConfig(cfg.LLM)
	if err != nil {
		setupLog.Error(err, "unable to build LLM router")
		os.Exit(1)
	}
	setupLog.Info("llm router ready", "default", llmRouter.DefaultProvider(), "providers", llmRouter.Providers())

	registry, err := buildRegistry(cfg, log.Log.WithName("tools"))
	if err != nil {
		setupLog.Error(err, "unable to build capability registry")
		os.Exit(1)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			setupLog.Error(err, "failed to close tool providers")
		}
	}()

	store, closeStore, err := buildCheckpointStore(ctx, cfg)
	if err != nil {
		setupLog.Error(err, "unable to build checkpoint store")
		os.Exit(1)
	}
	defer closeStore()

	profiles, err := agent.NewProfileSet(cfg.Agent.ProfileDir, log.Log.WithName("profiles"))
	if err != nil {
		setupLog.Error(err, "unable to load prompt profiles")
		os.Exit(1)
	}

	agentMetrics := agent.NewMetrics(metrics.Registry)
	graph := agent.NewWorkflow(agent.WorkflowConfig{
		LLM:              llmRouter,
		Toolbox:          registry,
		Profiles:         profiles,
		MaxSteps:         cfg.Agent.MaxSteps,
		MaxContextTokens: cfg.Agent.MaxContextTokens,
		QueryTools:       cfg.Agent.QueryTools,
		Metrics:          agentMetrics,
		Log:              log.Log.WithName("workflow"),
	})
	service := agent.NewService(agent.ServiceConfig{
		Graph:                 graph,
		Store:                 store,
		DisableProgressEvents: cfg.Agent.DisableProgressEvents,
		Metrics:               agentMetrics,
		Log:                   log.Log.WithName("service"),
	})

	windowSize, sweepInterval, err := config.ParseAlertAggregatorConfig(cfg.AlertAggregator)
	if err != nil {
		setupLog.Error(err, "invalid alert aggregator configuration")
		os.Exit(1)
	}
	aggregator := alert.NewAggregator(
		service,
		cfg.AlertAggregator.ThreadID,
		windowSize,
		sweepInterval,
		log.Log.WithName("alert-aggregator"),
	)
	alertHandler := alert.NewHandler(aggregator, log.Log.WithName("alert-handler"))

	apiServer := api.NewServer(service, cfg.APIPort, log.Log.WithName("api-server")).
		WithTools(registry).
		WithLLM(llmRouter).
		WithAlertHandler(alertHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		setupLog.Info("starting api server", "port", cfg.APIPort)
		return apiServer.Start(gctx)
	})
	g.Go(func() error {
		return serveMetrics(gctx, cfg.MetricsAddr)
	})
	g.Go(func() error {
		aggregator.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		setupLog.Error(err, "problem running kubepulse")
		os.Exit(1)
	}
	setupLog.Info("shut down cleanly")
}

func newZapLogger(development bool) *zap.Logger {
	var (
		zapLog *zap.Logger
		err    error
	)
	if development {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return zapLog
}

// buildRegistry registers the query, cluster and chart providers. The MCP
// server replaces the native Prometheus tools when enabled.
func buildRegistry(cfg *config.Config, logger logr.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)

	if cfg.MCP.Enabled {
		mcpCfg := tools.DefaultMCPConfig(cfg.Prometheus.URL, cfg.Prometheus.InsecureSkipVerify)
		if cfg.MCP.Command != "" {
			mcpCfg.Command = cfg.MCP.Command
			mcpCfg.Args = cfg.MCP.Args
		}
		for k, v := range cfg.MCP.Env {
			mcpCfg.Env[k] = v
		}
		mcpCfg.Tools = cfg.MCP.Tools
		mcpCfg.MaxRetries = cfg.MCP.MaxRetries
		mcpCfg.RetryBaseDelay = cfg.MCP.RetryBaseDelay
		registry.AddProvider(tools.NewMCPProvider(mcpCfg, logger.WithName("mcp")))
	} else {
		prom, err := tools.NewPrometheusProvider(tools.PrometheusConfig{
			URL:                cfg.Prometheus.URL,
			InsecureSkipVerify: cfg.Prometheus.InsecureSkipVerify,
			Timeout:            cfg.Prometheus.Timeout,
		})
		if err != nil {
			return nil, err
		}
		registry.AddProvider(prom)
	}

	if cfg.K8s.Disabled {
		setupLog.Info("cluster tools disabled")
	} else {
		restCfg, err := config.NewK8sRestConfig(cfg)
		if err != nil {
			return nil, err
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, err
		}
		registry.AddProvider(tools.NewClusterProvider(clientset, cfg.K8s.DefaultNamespace))
	}

	registry.AddProvider(tools.NewChartProvider())
	return registry, nil
}

// buildCheckpointStore returns the configured store and its release func.
func buildCheckpointStore(ctx context.Context, cfg *config.Config) (agent.CheckpointStore, func(), error) {
	switch cfg.Checkpoint.Backend {
	case config.CheckpointRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		setupLog.Info("redis checkpoint store enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Checkpoint.TTL)
		return agent.NewRedisCheckpointStore(client, cfg.Checkpoint.TTL), func() { _ = client.Close() }, nil

	case config.CheckpointPostgres:
		store, err := agent.NewPGCheckpointStoreFromDSN(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		setupLog.Info("postgres checkpoint store enabled")
		return store, store.Close, nil

	default:
		store, err := agent.NewMemoryCheckpointStore(cfg.Checkpoint.MaxThreads)
		if err != nil {
			return nil, nil, err
		}
		setupLog.Info("in-memory checkpoint store enabled", "maxThreads", cfg.Checkpoint.MaxThreads)
		return store, func() {}, nil
	}
}

// serveMetrics exposes controller-runtime's registry, which the agent
// collectors are registered on, until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	setupLog.Info("serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
