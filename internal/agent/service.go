package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// snapshotBuffer is how many snapshots a slow reader may fall behind before
// progress notifications are dropped.
const snapshotBuffer = 64

var errObserverBusy = errors.New("snapshot stream is full")

// Snapshot is one element of the stream returned by SubmitTurn.
type Snapshot struct {
	RunID string `json:"run_id"`
	// Step is the step that produced the snapshot; empty for progress-only
	// updates and the final snapshot.
	Step  string `json:"step,omitempty"`
	State State  `json:"state"`
	Final bool   `json:"final"`
	Error string `json:"error,omitempty"`

	Err error `json:"-"`
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Graph *Graph
	Store CheckpointStore
	// DisableProgressEvents turns off progress notifications; step and
	// final snapshots are still delivered.
	DisableProgressEvents bool
	Metrics               *Metrics
	Log                   logr.Logger
}

// Service runs turns against checkpointed threads. Turns on one thread are
// serialized; different threads run in parallel.
type Service struct {
	graph           *Graph
	store           CheckpointStore
	disableProgress bool
	metrics         *Metrics
	log             logr.Logger

	mu      sync.Mutex
	threads map[string]*threadLock
}

// threadLock serializes turns of one thread. Entries are reference counted
// and dropped once no turn holds or waits for them.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		graph:           cfg.Graph,
		store:           cfg.Store,
		disableProgress: cfg.DisableProgressEvents,
		metrics:         cfg.Metrics,
		log:             cfg.Log,
		threads:         make(map[string]*threadLock),
	}
}

func (s *Service) lockThread(threadID string) *threadLock {
	s.mu.Lock()
	l, ok := s.threads[threadID]
	if !ok {
		l = &threadLock{}
		s.threads[threadID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) unlockThread(threadID string, l *threadLock) {
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.threads, threadID)
	}
}

// SubmitTurn appends text as a user message to the thread and runs the graph.
// The returned channel yields progress and step snapshots and ends with
// exactly one final snapshot carrying the committed state and any turn error.
// The reset command clears the thread without running any step.
func (s *Service) SubmitTurn(ctx context.Context, threadID, text string) (<-chan Snapshot, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message is required")
	}

	out := make(chan Snapshot, snapshotBuffer)
	go s.runTurn(ctx, threadID, text, out)
	return out, nil
}

func (s *Service) runTurn(ctx context.Context, threadID, text string, out chan<- Snapshot) {
	defer close(out)

	lock := s.lockThread(threadID)
	defer s.unlockThread(threadID, lock)

	runID := NewRunID()
	log := s.log.WithValues("thread", threadID, "run", runID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "turn")
	span.SetAttributes(attribute.String("thread.id", threadID), attribute.String("run.id", runID))
	defer span.End()

	send := func(snap Snapshot) {
		select {
		case out <- snap:
		case <-ctx.Done():
		}
	}

	st, found, err := s.store.Load(ctx, threadID)
	if err != nil {
		log.Error(err, "failed to load thread")
		s.metrics.observeTurn("error")
		send(Snapshot{RunID: runID, Final: true, State: State{ThreadID: threadID}, Error: err.Error(), Err: err})
		return
	}
	if !found {
		st = State{ThreadID: threadID, Messages: []Message{}, Progress: []ProgressRecord{}}
	}

	observer := ObserverFunc(func(snap State) error {
		select {
		case out <- Snapshot{RunID: runID, State: snap}:
			return nil
		default:
			return errObserverBusy
		}
	})
	tr := NewTracker(observer, s.disableProgress, log.WithName("progress"))

	st.Apply(Update{Messages: []Message{{Type: MessageTypeUser, Content: text}}})

	var runErr error
	if IsResetCommand(text) {
		// The stored thread is dropped before the reset record replaces it.
		if err := s.store.Delete(ctx, threadID); err != nil {
			log.Error(err, "failed to delete thread")
			runErr = err
		}
		n := tr.Clear(&st)
		log.Info("thread cleared", "removed", n)
	} else {
		log.Info("turn started")
		st, runErr = s.graph.Run(ctx, st, tr, func(step string, snap State) {
			send(Snapshot{RunID: runID, Step: step, State: snap})
		})
	}

	// Partial state is committed too so the transcript shows how far the turn got.
	if err := s.store.Save(context.WithoutCancel(ctx), st); err != nil {
		log.Error(err, "failed to save thread")
		if runErr == nil {
			runErr = err
		}
	}

	final := Snapshot{RunID: runID, Final: true, State: st.Clone()}
	if runErr != nil {
		log.Error(runErr, "turn failed")
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		final.Err = runErr
		final.Error = runErr.Error()
		s.metrics.observeTurn("error")
	} else {
		log.Info("turn finished", "messages", len(st.Messages))
		s.metrics.observeTurn("ok")
	}
	send(final)
}

// Run submits a turn and waits for its final snapshot.
func (s *Service) Run(ctx context.Context, threadID, text string) (Snapshot, error) {
	stream, err := s.SubmitTurn(ctx, threadID, text)
	if err != nil {
		return Snapshot{}, err
	}
	var final Snapshot
	for snap := range stream {
		if snap.Final {
			final = snap
		}
	}
	if !final.Final {
		return final, ctx.Err()
	}
	return final, final.Err
}

// Clear resets a thread through the reset command.
func (s *Service) Clear(ctx context.Context, threadID string) (State, error) {
	final, err := s.Run(ctx, threadID, ResetCommand)
	return final.State, err
}

// Thread returns the stored state of a thread.
func (s *Service) Thread(ctx context.Context, threadID string) (State, bool, error) {
	return s.store.Load(ctx, threadID)
}
