package agent

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CheckpointStore persists thread state between turns.
type CheckpointStore interface {
	// Load returns the stored state of a thread; ok is false when the thread
	// has never been saved.
	Load(ctx context.Context, threadID string) (st State, ok bool, err error)
	// Save replaces the stored state of st.ThreadID.
	Save(ctx context.Context, st State) error
	// Delete drops a thread entirely.
	Delete(ctx context.Context, threadID string) error
}

// DefaultMaxThreads bounds the in-process store.
const DefaultMaxThreads = 1024

// MemoryCheckpointStore keeps thread state in process, evicting the least
// recently used thread once maxThreads is reached.
type MemoryCheckpointStore struct {
	cache *lru.Cache[string, State]
}

// NewMemoryCheckpointStore creates an in-process store.
func NewMemoryCheckpointStore(maxThreads int) (*MemoryCheckpointStore, error) {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	cache, err := lru.New[string, State](maxThreads)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to create lru cache: %w", err)
	}
	return &MemoryCheckpointStore{cache: cache}, nil
}

func (s *MemoryCheckpointStore) Load(_ context.Context, threadID string) (State, bool, error) {
	st, ok := s.cache.Get(threadID)
	if !ok {
		return State{}, false, nil
	}
	return st.Clone(), true, nil
}

func (s *MemoryCheckpointStore) Save(_ context.Context, st State) error {
	if st.ThreadID == "" {
		return fmt.Errorf("checkpoint: state has no thread id")
	}
	s.cache.Add(st.ThreadID, st.Clone())
	return nil
}

func (s *MemoryCheckpointStore) Delete(_ context.Context, threadID string) error {
	s.cache.Remove(threadID)
	return nil
}

// Len returns the number of stored threads.
func (s *MemoryCheckpointStore) Len() int {
	return s.cache.Len()
}
