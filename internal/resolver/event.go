// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolver

import "fmt"

// Severity classifies a resolver Event. Rule-level skips are never
// errors (spec.md §7) — they surface here as observable events instead.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityWarn  Severity = "warn"
)

// Event is a single observation made while resolving a policy against a
// snapshot: a skipped rule, a stale/duplicate name, and similar.
type Event struct {
	Severity Severity
	Message  string
}

func debugf(format string, args ...any) Event {
	return Event{Severity: SeverityDebug, Message: fmt.Sprintf(format, args...)}
}

func warnf(format string, args ...any) Event {
	return Event{Severity: SeverityWarn, Message: fmt.Sprintf(format, args...)}
}
