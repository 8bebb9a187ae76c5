package agent

import (
	"strings"

	"github.com/google/uuid"
)

// ProgressStatus is the lifecycle of a single ledger record.
type ProgressStatus string

const (
	StatusPending   ProgressStatus = "pending"
	StatusActive    ProgressStatus = "active"
	StatusCompleted ProgressStatus = "completed"
	StatusFailed    ProgressStatus = "failed"
)

// ProgressRecord is one entry of the progress ledger.
type ProgressRecord struct {
	Step    string         `json:"step"`
	Name    string         `json:"name"`
	Status  ProgressStatus `json:"status"`
	Message string         `json:"message"`
}

// State is the per-thread conversation state that is checkpointed between turns.
type State struct {
	ThreadID string           `json:"thread_id"`
	Messages []Message        `json:"messages"`
	Query    string           `json:"query,omitempty"`
	Progress []ProgressRecord `json:"progress"`
}

// Update is what a step hands back to the engine. Messages are appended in
// order after the IDs listed in Remove have been dropped.
type Update struct {
	Messages []Message
	Remove   []string
	Query    string
}

// Clone returns a copy whose slices can be read while the original keeps
// changing. Tool call slices are shared; committed messages are never edited.
func (s State) Clone() State {
	out := s
	if s.Messages != nil {
		out.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	}
	if s.Progress != nil {
		out.Progress = append(make([]ProgressRecord, 0, len(s.Progress)), s.Progress...)
	}
	return out
}

// Apply merges an update into the state.
func (s *State) Apply(u Update) {
	if len(u.Remove) > 0 {
		drop := make(map[string]struct{}, len(u.Remove))
		for _, id := range u.Remove {
			drop[id] = struct{}{}
		}
		kept := s.Messages[:0:0]
		for _, m := range s.Messages {
			if _, ok := drop[m.ID]; !ok {
				kept = append(kept, m)
			}
		}
		s.Messages = kept
	}
	for _, m := range u.Messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		s.Messages = append(s.Messages, m)
	}
	if u.Query != "" {
		s.Query = u.Query
	}
}

// LastMessage returns the most recent message, if any.
func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// NewThreadID returns an identifier of the form thread-<8 hex>.
func NewThreadID() string {
	return "thread-" + shortHex()
}

// NewRunID returns an identifier of the form run-<8 hex>.
func NewRunID() string {
	return "run-" + shortHex()
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
