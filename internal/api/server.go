package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"kubepulse/internal/agent"
	"kubepulse/internal/alert"
)

const (
	// pingTimeout bounds the LLM connectivity check.
	pingTimeout = 15 * time.Second
	// maxTurnBody bounds a turn request body.
	maxTurnBody = 64 << 10
)

// Threads runs turns and reads thread state. *agent.Service implements it.
type Threads interface {
	SubmitTurn(ctx context.Context, threadID, text string) (<-chan agent.Snapshot, error)
	Thread(ctx context.Context, threadID string) (agent.State, bool, error)
	Clear(ctx context.Context, threadID string) (agent.State, error)
}

// Capabilities is the capability table. *tools.Registry implements it.
type Capabilities interface {
	Tools(ctx context.Context) ([]agent.Tool, error)
	Invalidate()
}

// LLMPinger checks model connectivity. *llm.Router implements it.
type LLMPinger interface {
	Ping(ctx context.Context) (string, error)
	DefaultProvider() string
}

// Server is the REST API server
type Server struct {
	threads      Threads
	tools        Capabilities   // nil hides the tool endpoints
	alertHandler *alert.Handler // nil when alert webhook is not configured
	llm          LLMPinger      // nil makes /llm/ping answer 503
	port         int
	log          logr.Logger
}

// NewServer creates a new API server
func NewServer(threads Threads, port int, log logr.Logger) *Server {
	return &Server{
		threads: threads,
		port:    port,
		log:     log,
	}
}

// WithTools exposes the capability table under /api/v1/tools.
func (s *Server) WithTools(c Capabilities) *Server {
	s.tools = c
	return s
}

// WithLLM enables the /api/v1/llm/ping endpoint.
func (s *Server) WithLLM(p LLMPinger) *Server {
	s.llm = p
	return s
}

// WithAlertHandler registers POST /api/v1/alerts/webhook.
func (s *Server) WithAlertHandler(h *alert.Handler) *Server {
	s.alertHandler = h
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.log))

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Threads
	v1.HandleFunc("/threads", s.createThread).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{id}", s.getThread).Methods(http.MethodGet)
	v1.HandleFunc("/threads/{id}/turns", s.submitTurn).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{id}/messages", s.clearThread).Methods(http.MethodDelete)

	// Capabilities
	if s.tools != nil {
		v1.HandleFunc("/tools", s.listTools).Methods(http.MethodGet)
		v1.HandleFunc("/tools/refresh", s.refreshTools).Methods(http.MethodPost)
	}

	if s.alertHandler != nil {
		v1.HandleFunc("/alerts/webhook", s.alertHandler.ServeWebhook).Methods(http.MethodPost)
	}

	v1.HandleFunc("/llm/ping", s.pingLLM).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

type threadResponse struct {
	ThreadID string `json:"thread_id"`
}

// createThread allocates a thread id; state is created by the first turn.
func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusCreated, threadResponse{ThreadID: agent.NewThreadID()})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok, err := s.threads.Thread(r.Context(), id)
	if err != nil {
		s.log.Error(err, "failed to load thread", "thread", id)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "thread not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type turnRequest struct {
	Message string `json:"message"`
}

// submitTurn streams the snapshots of one turn as newline-delimited JSON.
// The last line is always the final snapshot.
func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	stream, err := s.threads.SubmitTurn(r.Context(), id, req.Message)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for snap := range stream {
		if err := enc.Encode(snap); err != nil {
			// Client went away. The request context cancels the turn; the
			// runner still checkpoints the partial state and closes the stream.
			s.log.V(1).Info("stopped streaming turn", "thread", id, "reason", err.Error())
			for range stream {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// clearThread runs the reset command and returns the emptied state.
func (s *Server) clearThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.threads.Clear(r.Context(), id)
	if err != nil {
		s.log.Error(err, "failed to clear thread", "thread", id)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

type toolsResponse struct {
	Tools []toolInfo `json:"tools"`
	Total int        `json:"total"`
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	s.writeTools(w, r)
}

// refreshTools drops the cached capability table and reloads it.
func (s *Server) refreshTools(w http.ResponseWriter, r *http.Request) {
	s.tools.Invalidate()
	s.writeTools(w, r)
}

func (s *Server) writeTools(w http.ResponseWriter, r *http.Request) {
	available, err := s.tools.Tools(r.Context())
	if err != nil {
		s.log.Error(err, "failed to list tools")
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	infos := make([]toolInfo, 0, len(available))
	for _, t := range available {
		schema := json.RawMessage(t.Schema())
		if !json.Valid(schema) {
			schema = json.RawMessage("{}")
		}
		infos = append(infos, toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      schema,
		})
	}
	respondJSON(w, http.StatusOK, toolsResponse{Tools: infos, Total: len(infos)})
}

type pingResponse struct {
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	Reply     string `json:"reply,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// pingLLM tests connectivity to the default LLM provider.
//
//	{"provider":"openai","status":"ok","reply":"pong","latency_ms":342}
//	{"provider":"openai","status":"error","error":"401 Unauthorized","latency_ms":120}
func (s *Server) pingLLM(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		respondError(w, http.StatusServiceUnavailable, "LLM provider not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.llm.Ping(ctx)
	resp := pingResponse{
		Provider:  s.llm.DefaultProvider(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		// A failed ping is a result, not a server fault.
		resp.Status = "error"
		resp.Error = err.Error()
		respondJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "ok"
	resp.Reply = reply
	respondJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func loggingMiddleware(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("request",
				"method", r.Method,
				"uri", r.RequestURI,
				"duration", time.Since(start),
			)
		})
	}
}
