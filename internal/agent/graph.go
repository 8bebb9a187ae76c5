package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// End is the terminal routing target.
const End = "__end__"

// DefaultMaxSteps bounds step invocations per turn.
const DefaultMaxSteps = 25

// ErrStepBudgetExceeded is returned when a turn invokes more steps than allowed.
var ErrStepBudgetExceeded = errors.New("step budget exceeded")

// ErrUnroutable is returned when a route names a step that is not registered.
var ErrUnroutable = errors.New("unroutable state")

// StepError wraps a failure raised inside a step body.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Step is one node of the graph. Progress changes go through the tracker onto
// st; message changes are returned as an Update for the engine to merge.
type Step interface {
	Run(ctx context.Context, st *State, tr *Tracker) (Update, error)
}

// StepFunc adapts a function to the Step interface.
type StepFunc func(ctx context.Context, st *State, tr *Tracker) (Update, error)

func (f StepFunc) Run(ctx context.Context, st *State, tr *Tracker) (Update, error) {
	return f(ctx, st, tr)
}

// RouteFunc is a pure predicate over the state that names the next step or End.
type RouteFunc func(st State) string

// StepHook is called with a snapshot after each step has been merged.
type StepHook func(step string, snapshot State)

// Graph is a directed graph of named steps with conditional edges.
type Graph struct {
	steps    map[string]Step
	routes   map[string]RouteFunc
	entry    RouteFunc
	maxSteps int
	metrics  *Metrics
	log      logr.Logger
}

// NewGraph creates an empty graph. entry picks the first step of a turn.
func NewGraph(entry RouteFunc, maxSteps int, log logr.Logger) *Graph {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Graph{
		steps:    make(map[string]Step),
		routes:   make(map[string]RouteFunc),
		entry:    entry,
		maxSteps: maxSteps,
		log:      log,
	}
}

// WithMetrics attaches step metrics.
func (g *Graph) WithMetrics(m *Metrics) *Graph {
	g.metrics = m
	return g
}

// AddStep registers a step together with the route evaluated after it.
func (g *Graph) AddStep(name string, step Step, route RouteFunc) {
	g.steps[name] = step
	g.routes[name] = route
}

// Run drives the graph from the entry route until End. On failure the state
// committed so far is returned together with the error; nothing is retried.
func (g *Graph) Run(ctx context.Context, st State, tr *Tracker, hook StepHook) (State, error) {
	if tr == nil {
		tr = NewTracker(nil, true, g.log)
	}
	tracer := otel.Tracer(tracerName)

	next := g.entry(st)
	for invoked := 0; next != End; invoked++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if invoked >= g.maxSteps {
			g.log.Info("step budget exhausted", "maxSteps", g.maxSteps, "pending", next)
			return st, fmt.Errorf("%w: %d steps without reaching the end", ErrStepBudgetExceeded, g.maxSteps)
		}

		step, ok := g.steps[next]
		if !ok {
			return st, fmt.Errorf("%w: no step named %q", ErrUnroutable, next)
		}

		name := next
		stepCtx, span := tracer.Start(ctx, "step."+name)
		span.SetAttributes(attribute.String("thread.id", st.ThreadID), attribute.Int("step.index", invoked+1))
		start := time.Now()
		g.log.V(1).Info("running step", "step", name, "index", invoked+1)

		update, err := step.Run(stepCtx, &st, tr)
		g.metrics.observeStep(name, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			tr.Fail(&st, name, err)
			return st, &StepError{Step: name, Err: err}
		}
		span.End()

		st.Apply(update)
		if hook != nil {
			hook(name, st.Clone())
		}

		route, ok := g.routes[name]
		if !ok || route == nil {
			return st, fmt.Errorf("%w: step %q has no route", ErrUnroutable, name)
		}
		next = route(st)
	}
	return st, nil
}
