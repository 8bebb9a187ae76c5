package agent

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryCheckpointStore(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("missing thread", func(t *testing.T) {
		_, ok, err := store.Load(ctx, "nope")
		if err != nil || ok {
			t.Errorf("expected not found, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("save and load returns a copy", func(t *testing.T) {
		st := userState("cpu")
		st.ThreadID = "a"
		if err := store.Save(ctx, st); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		st.Messages[0].Content = "mutated"

		got, ok, err := store.Load(ctx, "a")
		if err != nil || !ok {
			t.Fatalf("load failed: ok=%v err=%v", ok, err)
		}
		if got.Messages[0].Content != "cpu" {
			t.Errorf("stored state was aliased: %q", got.Messages[0].Content)
		}
	})

	t.Run("evicts least recently used thread", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := store.Save(ctx, State{ThreadID: fmt.Sprintf("t%d", i)}); err != nil {
				t.Fatalf("save failed: %v", err)
			}
		}
		if store.Len() != 2 {
			t.Errorf("expected 2 threads, got %d", store.Len())
		}
		if _, ok, _ := store.Load(ctx, "t0"); ok {
			t.Errorf("expected t0 to be evicted")
		}
	})

	t.Run("delete", func(t *testing.T) {
		_ = store.Delete(ctx, "t2")
		if _, ok, _ := store.Load(ctx, "t2"); ok {
			t.Errorf("expected t2 to be deleted")
		}
	})

	t.Run("rejects state without thread id", func(t *testing.T) {
		if err := store.Save(ctx, State{}); err == nil {
			t.Errorf("expected error")
		}
	})
}

func TestDecodeState(t *testing.T) {
	st, err := decodeState([]byte(`{"thread_id":"x","messages":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Messages == nil || st.Progress == nil {
		t.Errorf("expected normalized slices, got %+v", st)
	}
	if _, err := decodeState([]byte(`{`)); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestStateApply(t *testing.T) {
	st := State{}
	st.Apply(Update{Messages: []Message{{ID: "keep", Type: MessageTypeUser}, {Type: MessageTypeAssistant}}, Query: "q"})
	drop := st.Messages[1].ID
	st.Apply(Update{Remove: []string{drop}, Messages: []Message{{Type: MessageTypeUser, Content: "next"}}})

	if len(st.Messages) != 2 || st.Messages[0].ID != "keep" || st.Messages[1].Content != "next" {
		t.Errorf("unexpected messages %+v", st.Messages)
	}
	if st.Query != "q" {
		t.Errorf("query = %q", st.Query)
	}
}
