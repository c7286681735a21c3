// Package sessionview reconstructs one operator's view of a task from
// independent, unordered poll results and decides what the console shows.
//
// All mutation goes through the named transitions on State. They are pure:
// each returns the next State and never performs I/O.
package sessionview

import (
	"time"

	"github.com/ent0n29/browserpilot/internal/status"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseActive
	PhasePaused
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseActive:
		return "active"
	case PhasePaused:
		return "paused"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Source names the endpoint a snapshot came from.
type Source string

const (
	SourceAction Source = "action"
	SourceStep   Source = "step"
	SourceLocal  Source = "local"
)

// mergeWindow bounds one poll round: a not-pending snapshot from a different
// endpoint cannot clear a pending one received less than this long ago.
const mergeWindow = time.Second

// State is the whole console state for at most one task.
type State struct {
	Phase       Phase
	TaskID      string
	Generation  uint64
	Description string
	Status      status.Status

	// Action is the merged decision point; nil means no action yet.
	Action       *tasks.ActionSnapshot
	actionSource Source
	actionAt     time.Time

	// Optimistic approve bookkeeping.
	ApproveInFlight bool
	approvedStep    int
	rollback        *tasks.ActionSnapshot

	Thought       *tasks.PlannerThought
	lastThoughtTS int64
	NewThought    bool

	DisplayVisible bool
	DisplayURL     string

	SubmitError  string
	CommandError string
	PollError    string
	Notice       string
}

// Pending reports whether the console should ask for a decision.
func (s State) Pending() bool {
	return s.Action != nil && s.Action.PendingApproval && s.Status == status.Running
}

// AwaitingApproval and Processing are the two sub-states of PhaseActive.
func (s State) AwaitingApproval() bool {
	return s.Phase == PhaseActive && s.Pending()
}

func (s State) Processing() bool {
	return s.Phase == PhaseActive && !s.Pending()
}

// Mode is the single action bar variant to show.
func (s State) Mode() Mode {
	if s.Phase == PhaseIdle || s.Phase == PhaseSubmitting {
		return ModeEntryForm
	}
	return RenderMode(s.Status, s.Pending())
}

// Polling reports whether the poll loops should be running.
func (s State) Polling() bool {
	return s.Phase == PhaseActive && s.TaskID != ""
}

// Running reports whether the action, step and thought polls should fetch.
func (s State) Running() bool {
	return s.Polling() && s.Status == status.Running
}

// Matches reports whether an async result still belongs to this state.
func (s State) Matches(taskID string, generation uint64) bool {
	return s.TaskID != "" && s.TaskID == taskID && s.Generation == generation
}

func phaseFor(st status.Status) Phase {
	switch {
	case st.IsTerminal():
		return PhaseTerminal
	case st.IsPaused():
		return PhasePaused
	default:
		return PhaseActive
	}
}

func (s State) SubmitStarted(description string) State {
	s.Phase = PhaseSubmitting
	s.Description = description
	s.SubmitError = ""
	s.CommandError = ""
	s.PollError = ""
	s.Notice = ""
	return s
}

func (s State) SubmitFailed(message string) State {
	s.Phase = PhaseIdle
	s.SubmitError = message
	return s
}

func (s State) TaskCreated(taskID, description string, st status.Status) State {
	next := State{
		Generation:     s.Generation + 1,
		TaskID:         taskID,
		Description:    description,
		Status:         st,
		Phase:          phaseFor(st),
		DisplayVisible: s.DisplayVisible,
		DisplayURL:     s.DisplayURL,
	}
	if next.Description == "" {
		next.Description = s.Description
	}
	return next
}

func (s State) StatusPolled(st status.Status) State {
	if s.Status.IsTerminal() {
		return s
	}
	s.PollError = ""
	s.Status = st
	s.Phase = phaseFor(st)
	switch s.Phase {
	case PhaseTerminal:
		s = s.clearPending()
	case PhasePaused:
		s.Action = nil
		s.ApproveInFlight = false
		s.rollback = nil
	}
	return s
}

func (s State) ActionPolled(snap tasks.ActionSnapshot, at time.Time) State {
	return s.mergeSnapshot(snap, SourceAction, at)
}

func (s State) StepPolled(step tasks.StepSnapshot, at time.Time) State {
	return s.mergeSnapshot(actionFromStep(step), SourceStep, at)
}

// mergeSnapshot applies the merge-don't-clobber policy. A higher step number
// always wins. The action endpoint is authoritative for a decision point: a
// step result for the same step and flag only fills what the action snapshot
// left empty. Otherwise a pending snapshot is preferred over a not-pending
// one from another endpoint in the same round, and the latest result wins
// between equals.
func (s State) mergeSnapshot(in tasks.ActionSnapshot, source Source, at time.Time) State {
	if !s.Running() {
		return s
	}

	// An approval already sent for this step must not be asked for again.
	if in.PendingApproval && s.approvedStep > 0 && in.StepNumber != nil && *in.StepNumber <= s.approvedStep {
		in.PendingApproval = false
	}
	if isEmptySnapshot(in) {
		if s.Action == nil || !s.Action.PendingApproval {
			return s
		}
	}

	cur := s.Action
	take := func() State {
		if isEmptySnapshot(in) {
			s.Action = nil
			s.actionSource = source
			s.actionAt = at
			return s
		}
		snap := in.Clone()
		s.Action = &snap
		s.actionSource = source
		s.actionAt = at
		return s
	}

	if cur == nil {
		if isEmptySnapshot(in) {
			return s
		}
		return take()
	}
	if in.StepNumber != nil && cur.StepNumber != nil && *in.StepNumber != *cur.StepNumber {
		if *in.StepNumber > *cur.StepNumber {
			return take()
		}
		return s
	}
	if source == SourceStep && s.actionSource == SourceAction &&
		in.PendingApproval == cur.PendingApproval && sameStep(in.StepNumber, cur.StepNumber) {
		merged := cur.Clone()
		fillFromStep(&merged, in)
		s.Action = &merged
		return s
	}
	if cur.PendingApproval && !in.PendingApproval && source != s.actionSource && at.Sub(s.actionAt) < mergeWindow {
		return s
	}
	return take()
}

func (s State) ThoughtsPolled(resp tasks.PlannerThoughtsResponse) State {
	s.NewThought = false
	if !s.Running() || !resp.HasThoughts || resp.Latest == nil {
		return s
	}
	if resp.Latest.Timestamp == s.lastThoughtTS {
		return s
	}
	latest := resp.Latest.Clone()
	s.Thought = &latest
	s.lastThoughtTS = latest.Timestamp
	s.NewThought = true
	return s
}

// ApproveRequested hides the approval prompt before the server confirms.
func (s State) ApproveRequested() State {
	if !s.Pending() || s.ApproveInFlight {
		return s
	}
	prev := s.Action.Clone()
	s.rollback = &prev
	next := s.Action.Clone()
	next.PendingApproval = false
	s.Action = &next
	s.actionSource = SourceLocal
	s.ApproveInFlight = true
	if next.StepNumber != nil {
		s.approvedStep = *next.StepNumber
	}
	return s
}

func (s State) ApproveConfirmed() State {
	s.ApproveInFlight = false
	s.rollback = nil
	return s
}

func (s State) ApproveFailed(message string) State {
	if s.rollback != nil {
		if s.rollback.StepNumber != nil && *s.rollback.StepNumber == s.approvedStep {
			s.approvedStep = 0
		}
		// Roll back only if no poll has replaced the provisional snapshot.
		if s.actionSource == SourceLocal && s.Running() {
			s.Action = s.rollback
		}
	}
	s.rollback = nil
	s.ApproveInFlight = false
	s.CommandError = message
	return s
}

func (s State) RejectConfirmed(st status.Status) State {
	s.Action = nil
	s.ApproveInFlight = false
	s.rollback = nil
	return s.confirmStatus(st)
}

func (s State) ResumeConfirmed(st status.Status) State {
	return s.confirmStatus(st)
}

func (s State) CancelConfirmed(st status.Status) State {
	if st == "" {
		st = status.Stopped
	}
	s = s.confirmStatus(st)
	return s.clearPending()
}

// CommandFailed records a reject, resume or cancel error next to its control.
func (s State) CommandFailed(message string) State {
	s.CommandError = message
	return s
}

func (s State) RejectFailed(message string) State { return s.CommandFailed(message) }
func (s State) ResumeFailed(message string) State { return s.CommandFailed(message) }
func (s State) CancelFailed(message string) State { return s.CommandFailed(message) }

// TaskVanished drops a task the coordinator no longer knows about.
func (s State) TaskVanished(message string) State {
	return State{
		Phase:          PhaseIdle,
		Generation:     s.Generation + 1,
		DisplayVisible: s.DisplayVisible,
		DisplayURL:     s.DisplayURL,
		Notice:         message,
	}
}

// PollFailed keeps the poll error for display without touching task state.
func (s State) PollFailed(message string) State {
	s.PollError = message
	return s
}

// StartNewTask forgets the current task locally. It does not cancel it.
func (s State) StartNewTask() State {
	return State{
		Phase:          PhaseIdle,
		Generation:     s.Generation + 1,
		DisplayVisible: s.DisplayVisible,
		DisplayURL:     s.DisplayURL,
	}
}

func (s State) ToggleDisplay() State {
	s.DisplayVisible = !s.DisplayVisible
	return s
}

func (s State) DisplayResolved(url string) State {
	s.DisplayURL = url
	return s
}

func (s State) confirmStatus(st status.Status) State {
	if s.Status.IsTerminal() {
		return s
	}
	s.Status = st
	s.Phase = phaseFor(st)
	return s
}

func (s State) clearPending() State {
	if s.Action != nil && s.Action.PendingApproval {
		next := s.Action.Clone()
		next.PendingApproval = false
		s.Action = &next
	}
	s.ApproveInFlight = false
	s.rollback = nil
	return s
}

func actionFromStep(step tasks.StepSnapshot) tasks.ActionSnapshot {
	snap := tasks.ActionSnapshot{
		PendingApproval: step.PendingApproval,
		Action:          step.Action,
		URL:             step.URL,
		Thought:         step.Thought,
		StepNumber:      step.StepNumber,
	}
	if len(step.Action) == 1 {
		for name, details := range step.Action {
			snap.ActionName = name
			if m, ok := details.(map[string]any); ok {
				snap.ActionDetails = m
			}
		}
	}
	return snap
}

func sameStep(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// fillFromStep copies step fields into dst only where dst has nothing.
func fillFromStep(dst *tasks.ActionSnapshot, step tasks.ActionSnapshot) {
	if len(dst.Action) == 0 && len(step.Action) > 0 {
		dst.Action = step.Clone().Action
	}
	if dst.ActionName == "" && step.ActionName != "" {
		dst.ActionName = step.ActionName
		if len(dst.ActionDetails) == 0 {
			dst.ActionDetails = step.Clone().ActionDetails
		}
	}
	if dst.URL == "" {
		dst.URL = step.URL
	}
	if dst.Thought == "" {
		dst.Thought = step.Thought
	}
}

func isEmptySnapshot(s tasks.ActionSnapshot) bool {
	return !s.PendingApproval && s.ActionName == "" && len(s.Action) == 0 &&
		s.HumanReadableDescription == "" && s.StepNumber == nil
}
