package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"kubepulse/internal/agent"
)

const (
	defaultMCPRetries   = 3
	defaultMCPBaseDelay = time.Second
	defaultMCPMaxDelay  = 10 * time.Second
	mcpClientName       = "kubepulse"
)

// Session is the part of an MCP client session the provider relies on.
type Session interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// SessionFactory opens a new initialized session.
type SessionFactory func(ctx context.Context) (Session, error)

// MCPConfig describes one MCP server reached over stdio.
type MCPConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	// Tools restricts the exposed tools; empty exposes all of them.
	Tools []string

	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// DefaultMCPConfig returns the stdio Prometheus MCP server configuration.
func DefaultMCPConfig(prometheusURL string, insecure bool) MCPConfig {
	return MCPConfig{
		Name:    "prometheus",
		Command: "npx",
		Args:    []string{"prometheus-mcp-server@1.0.1"},
		Env: map[string]string{
			"PROMETHEUS_URL":      prometheusURL,
			"PROMETHEUS_INSECURE": fmt.Sprint(insecure),
		},
	}
}

// MCPProvider exposes the tools of an MCP server. It keeps one session,
// checks it with a ping before reuse and replaces it when the check fails.
// Opening a session and transport failures are retried with exponential
// backoff.
type MCPProvider struct {
	cfg  MCPConfig
	dial SessionFactory
	log  logr.Logger

	mu      sync.Mutex
	session Session
}

// NewMCPProvider creates a provider that spawns cfg.Command as a stdio MCP
// server.
func NewMCPProvider(cfg MCPConfig, log logr.Logger) *MCPProvider {
	return NewMCPProviderWithFactory(cfg, stdioFactory(cfg), log)
}

// NewMCPProviderWithFactory creates a provider that opens sessions with dial.
func NewMCPProviderWithFactory(cfg MCPConfig, dial SessionFactory, log logr.Logger) *MCPProvider {
	if cfg.Name == "" {
		cfg.Name = "mcp"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMCPRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultMCPBaseDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMCPMaxDelay
	}
	return &MCPProvider{cfg: cfg, dial: dial, log: log.WithValues("server", cfg.Name)}
}

func (p *MCPProvider) Name() string { return "mcp:" + p.cfg.Name }

// ListTools lists the server's tools and wraps them as agent tools.
func (p *MCPProvider) ListTools(ctx context.Context) ([]agent.Tool, error) {
	var listed []mcp.Tool
	err := p.withSession(ctx, "list tools", func(s Session) error {
		var err error
		listed, err = s.ListTools(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(p.cfg.Tools))
	for _, name := range p.cfg.Tools {
		allowed[name] = true
	}
	out := make([]agent.Tool, 0, len(listed))
	for _, t := range listed {
		if len(allowed) > 0 && !allowed[t.Name] {
			continue
		}
		out = append(out, &mcpTool{provider: p, name: t.Name, description: t.Description, schema: toolSchema(t)})
	}
	p.log.V(1).Info("listed MCP tools", "count", len(out))
	return out, nil
}

// Reset closes the current session; the next call opens a fresh one.
func (p *MCPProvider) Reset() {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// Close releases the session.
func (p *MCPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

func (p *MCPProvider) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	var res *mcp.CallToolResult
	err := p.withSession(ctx, "call "+name, func(s Session) error {
		var err error
		res, err = s.CallTool(ctx, name, args)
		return err
	})
	return res, err
}

// withSession runs fn on a healthy session, retrying with exponential
// backoff. A session whose operation failed is discarded before the next
// attempt.
func (p *MCPProvider) withSession(ctx context.Context, op string, fn func(Session) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		s, err := p.acquire(ctx)
		if err == nil {
			if err = fn(s); err == nil {
				return nil
			}
			p.discard(s)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		if attempt < p.cfg.MaxRetries-1 {
			delay := p.backoff(attempt)
			p.log.Info("MCP operation failed, retrying", "op", op, "attempt", attempt+1, "delay", delay.String(), "error", err.Error())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
		}
	}
	return fmt.Errorf("tools: mcp %s %s failed after %d attempt(s): %w", p.cfg.Name, op, p.cfg.MaxRetries, lastErr)
}

func (p *MCPProvider) backoff(attempt int) time.Duration {
	d := float64(p.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt))
	return time.Duration(math.Min(d, float64(p.cfg.MaxRetryDelay)))
}

// acquire returns the cached session after a successful ping, or opens a
// new one.
func (p *MCPProvider) acquire(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		err := p.session.Ping(ctx)
		if err == nil {
			return p.session, nil
		}
		p.log.Info("MCP session failed health check, reconnecting", "error", err.Error())
		_ = p.session.Close()
		p.session = nil
	}

	s, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.session = s
	p.log.Info("MCP session established")
	return s, nil
}

func (p *MCPProvider) discard(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == s {
		_ = s.Close()
		p.session = nil
	}
}

func toolSchema(t mcp.Tool) string {
	if len(t.RawInputSchema) > 0 {
		return string(t.RawInputSchema)
	}
	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// mcpTool forwards calls to the provider's session.
type mcpTool struct {
	provider    *MCPProvider
	name        string
	description string
	schema      string
}

func (t *mcpTool) Name() string        { return t.name }
func (t *mcpTool) Description() string { return t.description }
func (t *mcpTool) Schema() string      { return t.schema }

func (t *mcpTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed map[string]any
	if err := decodeArgs(args, &parsed); err != nil {
		return "", err
	}
	res, err := t.provider.call(ctx, t.name, parsed)
	if err != nil {
		return "", err
	}
	text := resultText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// stdioSession adapts the mcp-go stdio client to Session.
type stdioSession struct {
	c *client.Client
}

func stdioFactory(cfg MCPConfig) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		if cfg.Command == "" {
			return nil, fmt.Errorf("tools: mcp %s has no command", cfg.Name)
		}
		c, err := client.NewStdioMCPClient(cfg.Command, mergeEnv(os.Environ(), cfg.Env), cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("tools: failed to start mcp server %s: %w", cfg.Name, err)
		}

		req := mcp.InitializeRequest{}
		req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		req.Params.ClientInfo = mcp.Implementation{Name: mcpClientName, Version: "1.0.0"}
		if _, err := c.Initialize(ctx, req); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("tools: failed to initialize mcp server %s: %w", cfg.Name, err)
		}
		return &stdioSession{c: c}, nil
	}
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := append([]string(nil), base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

func (s *stdioSession) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := s.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (s *stdioSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return s.c.CallTool(ctx, req)
}

func (s *stdioSession) Ping(ctx context.Context) error {
	return s.c.Ping(ctx)
}

func (s *stdioSession) Close() error {
	return s.c.Close()
}
