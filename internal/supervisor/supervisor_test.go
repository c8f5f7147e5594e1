// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerIsDegradedBelowThreshold(t *testing.T) {
	tr := New(Config{Threshold: 3, Window: time.Minute})
	now := time.Unix(0, 0)

	if tr.IsDegraded(now) {
		t.Error("IsDegraded() should be false with no failures")
	}

	tr.RecordFailure(errors.New("commit failed"), now)
	tr.RecordFailure(errors.New("commit failed"), now)
	if tr.IsDegraded(now) {
		t.Error("IsDegraded() should be false with 2 failures and threshold 3")
	}
}

func TestTrackerIsDegradedAtThreshold(t *testing.T) {
	tr := New(Config{Threshold: 3, Window: time.Minute})
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		tr.RecordFailure(errors.New("commit failed"), now)
	}
	if !tr.IsDegraded(now) {
		t.Error("IsDegraded() should be true at threshold")
	}
	if got := tr.FailureCount(now); got != 3 {
		t.Errorf("FailureCount() = %d, want 3", got)
	}
}

func TestTrackerRecordSuccessClearsHistory(t *testing.T) {
	tr := New(Config{Threshold: 3, Window: time.Minute})
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		tr.RecordFailure(errors.New("commit failed"), now)
	}
	if !tr.IsDegraded(now) {
		t.Fatal("expected degraded before RecordSuccess")
	}

	tr.RecordSuccess()

	if tr.IsDegraded(now) {
		t.Error("expected not degraded after RecordSuccess")
	}
}

func TestTrackerPrunesOutsideWindow(t *testing.T) {
	tr := New(Config{Threshold: 2, Window: time.Minute})
	t0 := time.Unix(0, 0)

	tr.RecordFailure(errors.New("commit failed"), t0)

	// A second failure just past the window should not see the first.
	later := t0.Add(2 * time.Minute)
	tr.RecordFailure(errors.New("commit failed"), later)

	if tr.IsDegraded(later) {
		t.Error("the first failure should have aged out of the window")
	}
	if got := tr.FailureCount(later); got != 1 {
		t.Errorf("FailureCount() = %d, want 1", got)
	}
}
