package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"kubepulse/internal/agent"
)

// TurnSubmitter runs one turn on a thread and waits for it to finish.
// *agent.Service satisfies it.
type TurnSubmitter interface {
	Run(ctx context.Context, threadID, text string) (agent.Snapshot, error)
}

// Aggregator deduplicates and merges incoming alerts within a sliding time
// window, then posts one investigation turn per group to the alert thread
// when the window expires.
type Aggregator struct {
	mu            sync.Mutex
	groups        map[GroupKey]*AlertGroup
	windowSize    time.Duration
	sweepInterval time.Duration
	submitter     TurnSubmitter
	threadID      string
	now           func() time.Time
	log           logr.Logger
}

// NewAggregator constructs an Aggregator. All dependencies are injected; no global state.
func NewAggregator(
	submitter TurnSubmitter,
	threadID string,
	windowSize time.Duration,
	sweepInterval time.Duration,
	log logr.Logger,
) *Aggregator {
	return &Aggregator{
		groups:        make(map[GroupKey]*AlertGroup),
		windowSize:    windowSize,
		sweepInterval: sweepInterval,
		submitter:     submitter,
		threadID:      threadID,
		now:           time.Now,
		log:           log,
	}
}

// ThreadID returns the thread investigations are posted to.
func (a *Aggregator) ThreadID() string {
	return a.threadID
}

// Run starts the sweep loop and blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	a.log.Info("alert aggregator started",
		"windowSize", a.windowSize,
		"sweepInterval", a.sweepInterval,
		"thread", a.threadID,
	)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("alert aggregator stopped")
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// Ingest adds a single AlertItem to its group. It is thread-safe and performs no I/O.
func (a *Aggregator) Ingest(item AlertItem) error {
	key := buildGroupKey(item.Labels)
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	group, exists := a.groups[key]
	if !exists {
		group = &AlertGroup{
			Key:          key,
			MergedLabels: make(map[string]string),
			Annotations:  make(map[string]string),
			AlertName:    item.Labels["alertname"],
			Namespace:    item.Labels["namespace"],
			Pod:          item.Labels["pod"],
			FirstSeen:    now,
		}
		a.groups[key] = group
	}

	for k, v := range item.Labels {
		group.MergedLabels[k] = v
	}
	for k, v := range item.Annotations {
		group.Annotations[k] = v
	}

	// Every new alert slides the window.
	group.LastSeen = now
	group.Count++

	a.log.V(1).Info("alert ingested",
		"key", string(key),
		"count", group.Count,
	)

	return nil
}

// GroupCount returns the number of active alert groups.
func (a *Aggregator) GroupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// sweep flushes the groups whose last alert is older than windowSize. Turns
// run outside the lock so Ingest is never blocked by a model call.
func (a *Aggregator) sweep(ctx context.Context) {
	now := a.now()

	var expired []*AlertGroup
	a.mu.Lock()
	for key, group := range a.groups {
		if now.Sub(group.LastSeen) > a.windowSize {
			expired = append(expired, group)
			delete(a.groups, key)
		}
	}
	a.mu.Unlock()

	for _, group := range expired {
		if err := a.flush(ctx, group); err != nil {
			a.log.Error(err, "failed to flush alert group",
				"key", string(group.Key),
				"alertName", group.AlertName,
				"count", group.Count,
			)
		}
	}
}

// flush submits the investigation turn for an expired group.
func (a *Aggregator) flush(ctx context.Context, group *AlertGroup) error {
	a.log.Info("flushing alert group",
		"key", string(group.Key),
		"alertName", group.AlertName,
		"count", group.Count,
		"firstSeen", group.FirstSeen,
		"lastSeen", group.LastSeen,
	)

	final, err := a.submitter.Run(ctx, a.threadID, BuildPrompt(group))
	if err != nil {
		return fmt.Errorf("flush alert group %s: %w", group.Key, err)
	}

	a.log.Info("alert investigation finished",
		"key", string(group.Key),
		"run", final.RunID,
		"messages", len(final.State.Messages),
	)
	return nil
}
