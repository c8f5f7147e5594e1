// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package supervisor tracks repeated failed reconciliation passes (of any
// error kind: backend, Docker, timeout). It does not restart anything and
// persists nothing to disk — the controller holds no state beyond the
// running process (spec.md's reconciler is explicitly stateless between
// passes) — it only answers one question for the Reconciler: have failed
// passes been frequent enough recently that this process should call
// itself degraded and say so loudly, rather than silently keep retrying
// forever.
package supervisor

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the number of failed passes within Window
	// before IsDegraded reports true.
	DefaultThreshold = 3
	// DefaultWindow is the sliding window failures are counted over.
	DefaultWindow = 5 * time.Minute
)

// Config holds failure-tracking thresholds.
type Config struct {
	Threshold int
	Window    time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Window:    DefaultWindow,
	}
}

// FailureEvent records one failed reconciliation pass.
type FailureEvent struct {
	Err       error
	Timestamp time.Time
}

// Tracker counts failed passes within a sliding window, in memory
// only. It is safe for concurrent use since the Reconciler's worker
// goroutine and its status-reporting callers (e.g. a future health
// endpoint) may read it from different goroutines.
type Tracker struct {
	mu     sync.Mutex
	config Config
	events []FailureEvent
}

// New creates a Tracker with the given thresholds.
func New(config Config) *Tracker {
	return &Tracker{config: config}
}

// RecordFailure appends one failed-pass event, attributed to now.
func (t *Tracker) RecordFailure(err error, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, FailureEvent{Err: err, Timestamp: now})
	t.pruneLocked(now)
}

// RecordSuccess clears the failure history: one clean rebuild is
// evidence the backend (or the policy driving it) has recovered.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// IsDegraded reports whether the failure count within the window has
// reached the configured threshold. The Reconciler surfaces this purely
// as an observability signal (a log line and, eventually, a metric) —
// spec.md names no remediation action for it, so Tracker takes none.
func (t *Tracker) IsDegraded(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	return len(t.events) >= t.config.Threshold
}

// FailureCount returns the number of failures currently within the window.
func (t *Tracker) FailureCount(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	return len(t.events)
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.config.Window)
	filtered := make([]FailureEvent, 0, len(t.events))
	for _, e := range t.events {
		if e.Timestamp.After(cutoff) {
			filtered = append(filtered, e)
		}
	}
	t.events = filtered
}
