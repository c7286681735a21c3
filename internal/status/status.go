// Package status holds the task status vocabulary shared by the coordinator
// and the operator console.
package status

import "strings"

// Status is a task lifecycle state as reported on the wire. Values outside the
// known set are kept verbatim so they can still be displayed.
type Status string

const (
	Created   Status = "created"
	Running   Status = "running"
	Paused    Status = "paused"
	Stopped   Status = "stopped"
	Completed Status = "completed"
	Failed    Status = "failed"
	Error     Status = "error"
)

// Category is the coarse bucket used for badges and terminal checks.
type Category string

const (
	CategorySuccess Category = "success"
	CategoryFailure Category = "failure"
	CategoryActive  Category = "active"
	CategoryNeutral Category = "neutral"
)

var known = map[Status]struct{}{
	Created:   {},
	Running:   {},
	Paused:    {},
	Stopped:   {},
	Completed: {},
	Failed:    {},
	Error:     {},
}

// Parse normalizes a wire status. Known values are matched case-insensitively;
// anything else is returned trimmed but otherwise untouched.
func Parse(raw string) Status {
	trimmed := strings.TrimSpace(raw)
	lower := Status(strings.ToLower(trimmed))
	if _, ok := known[lower]; ok {
		return lower
	}
	return Status(trimmed)
}

func (s Status) Known() bool {
	_, ok := known[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case Completed, Failed, Error, Stopped:
		return true
	default:
		return false
	}
}

func (s Status) IsPaused() bool { return s == Paused }

func (s Status) IsRunning() bool { return s == Running }

func (s Status) String() string { return string(s) }

// Classify maps any status, known or not, to a category. It never fails.
func Classify(s Status) Category {
	switch Parse(string(s)) {
	case Completed:
		return CategorySuccess
	case Failed, Error:
		return CategoryFailure
	case Created, Running:
		return CategoryActive
	default:
		return CategoryNeutral
	}
}

// Badge returns the style class used when rendering a status label.
func Badge(s Status) string {
	return "status-" + string(Classify(s))
}
