package agent

import (
	"fmt"

	"github.com/go-logr/logr"
)

// Step names used in the ledger and the graph.
const (
	StepInterpreter = "interpreter"
	StepTool        = "tool"
	StepAnalyzer    = "analyzer"
	StepChart       = "chart"
	StepReset       = "reset"
)

var displayNames = map[string]string{
	StepInterpreter: "Query Understanding",
	StepTool:        "Data Fetching",
	StepAnalyzer:    "Analysis",
	StepChart:       "Visualization",
	StepReset:       "Reset",
}

// DisplayName maps a step name to its human-readable label.
// Unknown names are returned unchanged.
func DisplayName(step string) string {
	if name, ok := displayNames[step]; ok {
		return name
	}
	return step
}

// Observer receives a snapshot after every ledger change.
type Observer interface {
	Notify(snapshot State) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(snapshot State) error

func (f ObserverFunc) Notify(snapshot State) error { return f(snapshot) }

// Tracker maintains the progress ledger of a State and pushes snapshots to
// an observer. Notification is best effort: observer errors and panics are
// logged and swallowed.
type Tracker struct {
	observer Observer
	disabled bool
	log      logr.Logger
}

// NewTracker creates a Tracker. A nil observer or disabled=true turns
// notification off while the ledger is still maintained.
func NewTracker(observer Observer, disabled bool, log logr.Logger) *Tracker {
	return &Tracker{observer: observer, disabled: disabled, log: log}
}

// Begin marks step as active. A non-completed record for the step is reused,
// otherwise a new record is appended so earlier passes stay visible.
func (t *Tracker) Begin(s *State, step, message string) {
	if i := latestOpen(s.Progress, step); i >= 0 {
		s.Progress[i].Status = StatusActive
		s.Progress[i].Message = message
	} else {
		s.Progress = append(s.Progress, ProgressRecord{
			Step:    step,
			Name:    DisplayName(step),
			Status:  StatusActive,
			Message: message,
		})
	}
	t.notify(s)
}

// Finish completes the most recent non-completed record for step.
func (t *Tracker) Finish(s *State, step, message string) {
	i := latestOpen(s.Progress, step)
	if i < 0 {
		t.log.Info("no open progress record to finish", "step", step)
		t.notify(s)
		return
	}
	s.Progress[i].Status = StatusCompleted
	s.Progress[i].Message = message
	t.notify(s)
}

// Fail marks the most recent non-completed record for step as failed,
// appending one if the step never began.
func (t *Tracker) Fail(s *State, step string, err error) {
	msg := err.Error()
	if i := latestOpen(s.Progress, step); i >= 0 {
		s.Progress[i].Status = StatusFailed
		s.Progress[i].Message = msg
	} else {
		s.Progress = append(s.Progress, ProgressRecord{
			Step:    step,
			Name:    DisplayName(step),
			Status:  StatusFailed,
			Message: msg,
		})
	}
	t.notify(s)
}

// Reset empties the ledger.
func (t *Tracker) Reset(s *State) {
	s.Progress = []ProgressRecord{}
	t.notify(s)
}

// Clear wipes the conversation in one operation: every message is removed by
// ID, the ledger is replaced by a single completed reset record and the query
// is dropped. Observers only ever see the state before or after. It returns
// the number of messages removed.
func (t *Tracker) Clear(s *State) int {
	ids := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		ids = append(ids, m.ID)
	}
	s.Apply(Update{Remove: ids})
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	s.Query = ""
	s.Progress = []ProgressRecord{{
		Step:    StepReset,
		Name:    DisplayName(StepReset),
		Status:  StatusCompleted,
		Message: fmt.Sprintf("Cleared %d messages", len(ids)),
	}}
	t.notify(s)
	return len(ids)
}

// latestOpen searches from the tail for a record of step that is neither
// completed nor failed.
func latestOpen(ledger []ProgressRecord, step string) int {
	for i := len(ledger) - 1; i >= 0; i-- {
		r := ledger[i]
		if r.Step == step && r.Status != StatusCompleted && r.Status != StatusFailed {
			return i
		}
	}
	return -1
}

func (t *Tracker) notify(s *State) {
	if t == nil || t.disabled || t.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Info("progress observer panicked", "panic", r)
		}
	}()
	if err := t.observer.Notify(s.Clone()); err != nil {
		t.log.V(1).Info("progress observer unavailable", "error", err.Error())
	}
}
