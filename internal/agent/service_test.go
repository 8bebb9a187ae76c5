package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
)

func newTestService(t *testing.T, llm LLMProvider, disableProgress bool) (*Service, *MemoryCheckpointStore) {
	t.Helper()
	store, err := NewMemoryCheckpointStore(16)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	svc := NewService(ServiceConfig{
		Graph:                 newTestWorkflow(llm, 0),
		Store:                 store,
		DisableProgressEvents: disableProgress,
		Log:                   logr.Discard(),
	})
	return svc, store
}

func collect(t *testing.T, stream <-chan Snapshot) []Snapshot {
	t.Helper()
	var snaps []Snapshot
	for s := range stream {
		snaps = append(snaps, s)
	}
	if len(snaps) == 0 || !snaps[len(snaps)-1].Final {
		t.Fatalf("stream did not end with a final snapshot")
	}
	return snaps
}

func TestService_SubmitTurn(t *testing.T) {
	llm := NewMockLLMProvider()
	llm.Responses[0] = &Message{Type: MessageTypeAssistant, Content: "Hello, ask me about metrics."}
	svc, store := newTestService(t, llm, false)

	stream, err := svc.SubmitTurn(context.Background(), "thread-1", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snaps := collect(t, stream)

	final := snaps[len(snaps)-1]
	if final.Error != "" {
		t.Fatalf("unexpected turn error: %s", final.Error)
	}
	if got := types(final.State.Messages); got != "user,assistant" {
		t.Errorf("messages = %s", got)
	}
	runID := final.RunID
	if !strings.HasPrefix(runID, "run-") || len(runID) != len("run-")+8 {
		t.Errorf("unexpected run id %q", runID)
	}
	sawStep := false
	for _, s := range snaps {
		if s.RunID != runID {
			t.Errorf("snapshot from another run: %+v", s)
		}
		if s.Step == StepInterpreter {
			sawStep = true
		}
	}
	if !sawStep {
		t.Errorf("expected a snapshot after the interpreter step")
	}
	if len(snaps) < 3 {
		t.Errorf("expected progress snapshots before the final one, got %d", len(snaps))
	}

	stored, ok, err := store.Load(context.Background(), "thread-1")
	if err != nil || !ok {
		t.Fatalf("thread not checkpointed: %v", err)
	}
	if len(stored.Messages) != 2 {
		t.Errorf("stored %d messages", len(stored.Messages))
	}
}

func TestService_HistoryAccumulatesAcrossTurns(t *testing.T) {
	llm := NewMockLLMProvider()
	llm.Fallback = &Message{Type: MessageTypeAssistant, Content: "ok"}
	svc, _ := newTestService(t, llm, true)

	for _, text := range []string{"one", "two"} {
		if _, err := svc.Run(context.Background(), "thread-2", text); err != nil {
			t.Fatalf("turn %q failed: %v", text, err)
		}
	}
	st, _, _ := svc.Thread(context.Background(), "thread-2")
	if got := types(st.Messages); got != "user,assistant,user,assistant" {
		t.Errorf("messages = %s", got)
	}
	if st.Query != "two" {
		t.Errorf("query = %q", st.Query)
	}
	if len(st.Progress) != 1 {
		t.Errorf("progress must reset on a fresh user turn, got %+v", st.Progress)
	}
	if second := llm.Inputs[1]; types(second) != "system,user,assistant,user" {
		t.Errorf("second turn input = %s", types(second))
	}
}

func TestService_Clear(t *testing.T) {
	llm := NewMockLLMProvider()
	llm.Fallback = &Message{Type: MessageTypeAssistant, Content: "ok"}
	svc, _ := newTestService(t, llm, false)

	if _, err := svc.Run(context.Background(), "thread-3", "hello"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	calls := llm.CallCount

	stream, err := svc.SubmitTurn(context.Background(), "thread-3", ResetCommand)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snaps := collect(t, stream)
	for _, s := range snaps {
		if n := len(s.State.Messages); n != 0 {
			t.Errorf("observer saw a partially cleared state with %d messages", n)
		}
	}
	final := snaps[len(snaps)-1].State
	if len(final.Messages) != 0 {
		t.Errorf("expected empty history, got %d", len(final.Messages))
	}
	if len(final.Progress) != 1 || final.Progress[0].Status != StatusCompleted || final.Progress[0].Message != "Cleared 3 messages" {
		t.Errorf("unexpected ledger %+v", final.Progress)
	}
	if llm.CallCount != calls {
		t.Errorf("reset must not call the model")
	}

	st, _, _ := svc.Thread(context.Background(), "thread-3")
	if len(st.Messages) != 0 {
		t.Errorf("cleared state was not checkpointed")
	}
}

func TestService_FailedTurnReportsError(t *testing.T) {
	llm := NewMockLLMProvider()
	llm.ErrorTrigger[0] = errors.New("401 Unauthorized")
	svc, _ := newTestService(t, llm, true)

	final, err := svc.Run(context.Background(), "thread-4", "cpu?")
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected step error, got %v", err)
	}
	if !strings.Contains(final.Error, "401 Unauthorized") {
		t.Errorf("final error = %q", final.Error)
	}
	if len(final.State.Messages) != 1 {
		t.Errorf("the user turn must stay committed, got %d messages", len(final.State.Messages))
	}
	if final.State.Progress[0].Status != StatusFailed {
		t.Errorf("ledger = %+v", final.State.Progress)
	}
}

func TestService_SerializesTurnsPerThread(t *testing.T) {
	llm := NewMockLLMProvider()
	llm.Fallback = &Message{Type: MessageTypeAssistant, Content: "ok"}
	svc, _ := newTestService(t, llm, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Run(context.Background(), "thread-5", "ping")
		}()
	}
	wg.Wait()

	st, _, _ := svc.Thread(context.Background(), "thread-5")
	if len(st.Messages) != 16 {
		t.Errorf("expected 16 messages from 8 serialized turns, got %d", len(st.Messages))
	}
}

func TestService_RejectsEmptyInput(t *testing.T) {
	svc, _ := newTestService(t, NewMockLLMProvider(), true)
	if _, err := svc.SubmitTurn(context.Background(), "", "hi"); err == nil {
		t.Errorf("expected error for empty thread id")
	}
	if _, err := svc.SubmitTurn(context.Background(), "thread-6", "  "); err == nil {
		t.Errorf("expected error for empty message")
	}
}

func TestIDs(t *testing.T) {
	if id := NewThreadID(); !strings.HasPrefix(id, "thread-") || len(id) != len("thread-")+8 {
		t.Errorf("unexpected thread id %q", id)
	}
	if NewRunID() == NewRunID() {
		t.Errorf("run ids must differ")
	}
}

// deleteCountingStore records Delete calls on top of the in-memory store.
type deleteCountingStore struct {
	*MemoryCheckpointStore
	mu      sync.Mutex
	deleted []string
	failErr error
}

func (s *deleteCountingStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, threadID)
	s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	return s.MemoryCheckpointStore.Delete(ctx, threadID)
}

func TestService_ClearDeletesStoredThread(t *testing.T) {
	mem, err := NewMemoryCheckpointStore(16)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store := &deleteCountingStore{MemoryCheckpointStore: mem}
	llm := NewMockLLMProvider()
	llm.Fallback = &Message{Type: MessageTypeAssistant, Content: "ok"}
	svc := NewService(ServiceConfig{Graph: newTestWorkflow(llm, 0), Store: store, Log: logr.Discard()})

	if _, err := svc.Run(context.Background(), "thread-7", "hello"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("regular turns must not delete, got %v", store.deleted)
	}

	st, err := svc.Clear(context.Background(), "thread-7")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "thread-7" {
		t.Errorf("expected one delete of thread-7, got %v", store.deleted)
	}
	if len(st.Messages) != 0 || len(st.Progress) != 1 {
		t.Errorf("unexpected state after clear: %+v", st)
	}
	saved, ok, _ := mem.Load(context.Background(), "thread-7")
	if !ok || len(saved.Progress) != 1 || saved.Progress[0].Step != StepReset {
		t.Errorf("reset record was not saved: %+v", saved)
	}

	store.failErr = errors.New("store down")
	if _, err := svc.Clear(context.Background(), "thread-7"); err == nil || !strings.Contains(err.Error(), "store down") {
		t.Errorf("expected delete failure to surface, got %v", err)
	}
}

func TestService_ReleasesThreadLocks(t *testing.T) {
	llm := NewMockLLMProvider()
	llm.Fallback = &Message{Type: MessageTypeAssistant, Content: "ok"}
	store, err := NewMemoryCheckpointStore(2)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	svc := NewService(ServiceConfig{Graph: newTestWorkflow(llm, 0), Store: store, Log: logr.Discard()})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Run(context.Background(), fmt.Sprintf("thread-%d", i%20), "ping")
		}()
	}
	wg.Wait()

	if store.Len() != 2 {
		t.Errorf("expected 2 stored threads, got %d", store.Len())
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if n := len(svc.threads); n != 0 {
		t.Errorf("expected no lock entries after all turns finished, got %d", n)
	}
}
