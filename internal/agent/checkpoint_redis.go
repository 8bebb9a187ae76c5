package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisThreadPrefix = "kubepulse:thread:"

// RedisCheckpointStore keeps each thread as a JSON document at
// "kubepulse:thread:{id}". The TTL is refreshed on every save so idle threads
// expire on their own.
type RedisCheckpointStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCheckpointStore returns a store backed by client. A zero ttl keeps
// threads forever.
func NewRedisCheckpointStore(client redis.UniversalClient, ttl time.Duration) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client, ttl: ttl}
}

func (s *RedisCheckpointStore) Load(ctx context.Context, threadID string) (State, bool, error) {
	key := redisThreadPrefix + threadID
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: get %s: %w", key, err)
	}
	st, err := decodeState(data)
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: decode %s: %w", key, err)
	}
	return st, true, nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, st State) error {
	if st.ThreadID == "" {
		return fmt.Errorf("checkpoint: state has no thread id")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("checkpoint: encode thread %s: %w", st.ThreadID, err)
	}
	key := redisThreadPrefix + st.ThreadID
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("checkpoint: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, threadID string) error {
	key := redisThreadPrefix + threadID
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("checkpoint: del %s: %w", key, err)
	}
	return nil
}

// decodeState parses a stored document and normalizes nil slices.
func decodeState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}
	if st.Messages == nil {
		st.Messages = []Message{}
	}
	if st.Progress == nil {
		st.Progress = []ProgressRecord{}
	}
	return st, nil
}
