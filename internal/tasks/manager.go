package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/browserpilot/internal/status"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidTaskState = errors.New("invalid task state")
	// ErrTaskTerminal is returned to the agent side when it reports on a task
	// that has already finished.
	ErrTaskTerminal = errors.New("task is terminal")
)

const (
	defaultEventHistoryLimit = 512
	defaultSessionID         = "default"
	thoughtTimeLayout        = "15:04:05"
)

type taskState struct {
	task Task

	// action is the latest proposal; gate is non-nil only while it awaits a decision.
	action    *ActionSnapshot
	gate      chan Decision
	stepCount int

	// resume is non-nil only while the task is paused.
	resume chan struct{}

	thoughts []PlannerThought
	seen     map[string]int64

	events []Event
}

// Manager owns every task's state. Each exported call is atomic with respect
// to a single task.
type Manager struct {
	mu sync.RWMutex

	tasks           map[string]*taskState
	eventHistoryMax int
	now             func() time.Time
}

func NewManager(eventHistoryMax int) *Manager {
	if eventHistoryMax <= 0 {
		eventHistoryMax = defaultEventHistoryLimit
	}
	return &Manager{
		tasks:           make(map[string]*taskState),
		eventHistoryMax: eventHistoryMax,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Create(description string) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, fmt.Errorf("%w: description is required", ErrValidation)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := &taskState{
		task: Task{
			ID:          uuid.NewString(),
			Description: description,
			Status:      status.Created,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		seen: make(map[string]int64),
	}
	m.tasks[st.task.ID] = st
	m.publishLocked(st, EventInfo, "Task created.", now)
	return st.task.Clone(), nil
}

// MarkRunning moves a freshly created task to running. Other states are left alone.
func (m *Manager) MarkRunning(taskID string) (Task, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return Task{}, err
	}
	if st.task.Status != status.Created {
		return st.task.Clone(), nil
	}
	st.task.Status = status.Running
	st.task.StartedAt = &now
	st.task.UpdatedAt = now
	m.publishLocked(st, EventInfo, "Agent started.", now)
	return st.task.Clone(), nil
}

// Propose records a new action awaiting approval and returns the channel the
// decision will be delivered on. Any earlier undecided proposal is replaced
// and its waiter receives DecisionSuperseded.
func (m *Manager) Propose(taskID string, p Proposal) (<-chan Decision, ActionSnapshot, error) {
	p.ActionName = strings.TrimSpace(p.ActionName)
	if p.ActionName == "" {
		return nil, ActionSnapshot{}, fmt.Errorf("%w: action_name is required", ErrValidation)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return nil, ActionSnapshot{}, err
	}
	if st.task.Terminal() {
		return nil, ActionSnapshot{}, fmt.Errorf("%w: %s", ErrTaskTerminal, st.task.Status)
	}
	if st.task.Status == status.Created {
		st.task.Status = status.Running
		st.task.StartedAt = &now
	}
	if st.task.Status != status.Running {
		return nil, ActionSnapshot{}, fmt.Errorf("%w: proposals are only accepted while running", ErrInvalidTaskState)
	}

	if st.gate != nil {
		st.gate <- DecisionSuperseded
		st.gate = nil
	}

	st.stepCount++
	step := st.stepCount
	details := cloneMap(p.ActionDetails)
	if details == nil {
		details = map[string]any{}
	}
	snap := &ActionSnapshot{
		PendingApproval:          true,
		Action:                   map[string]any{p.ActionName: cloneMap(details)},
		ActionName:               p.ActionName,
		ActionDetails:            details,
		NextGoal:                 strings.TrimSpace(p.NextGoal),
		HumanReadableDescription: strings.TrimSpace(p.HumanReadableDescription),
		Index:                    cloneInt(p.Index),
		Total:                    cloneInt(p.Total),
		StepNumber:               &step,
		URL:                      strings.TrimSpace(p.URL),
		Thought:                  strings.TrimSpace(p.Thought),
	}
	st.action = snap
	st.gate = make(chan Decision, 1)
	st.task.UpdatedAt = now
	m.publishLocked(st, EventProposal, fmt.Sprintf("Step %d: agent proposes %s.", step, p.ActionName), now)
	return st.gate, snap.Clone(), nil
}

func (m *Manager) ApproveAction(taskID string) (Task, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return Task{}, err
	}
	if st.gate == nil || st.task.Status != status.Running {
		return Task{}, fmt.Errorf("%w: no action is pending approval", ErrInvalidTaskState)
	}
	st.gate <- DecisionApproved
	st.gate = nil
	st.action.PendingApproval = false
	st.task.UpdatedAt = now
	m.publishLocked(st, EventUserAction, "User approved the action.", now)
	return st.task.Clone(), nil
}

// RejectAction discards the pending proposal and pauses the task until it is resumed.
func (m *Manager) RejectAction(taskID string) (Task, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return Task{}, err
	}
	if st.gate == nil || st.task.Status != status.Running {
		return Task{}, fmt.Errorf("%w: no action is pending approval", ErrInvalidTaskState)
	}
	st.gate <- DecisionRejected
	st.gate = nil
	st.action = nil
	m.pauseLocked(st, now)
	m.publishLocked(st, EventUserAction, "User rejected the action, agent paused.", now)
	return st.task.Clone(), nil
}

// Pause is the agent-initiated counterpart of RejectAction.
func (m *Manager) Pause(taskID, reason string) (Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Agent paused."
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return Task{}, err
	}
	if st.task.Terminal() {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskTerminal, st.task.Status)
	}
	if st.task.Status == status.Paused {
		return st.task.Clone(), nil
	}
	if st.gate != nil {
		st.gate <- DecisionCancelled
		st.gate = nil
		st.action = nil
	}
	m.pauseLocked(st, now)
	m.publishLocked(st, EventInfo, reason, now)
	return st.task.Clone(), nil
}

func (m *Manager) Resume(taskID string) (Task, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return Task{}, err
	}
	if st.task.Status != status.Paused {
		return Task{}, fmt.Errorf("%w: resume is only valid when paused, task is %s", ErrInvalidTaskState, st.task.Status)
	}
	st.task.Status = status.Running
	st.task.UpdatedAt = now
	m.releaseResumeLocked(st)
	m.publishLocked(st, EventUserAction, "User resumed the task.", now)
	return st.task.Clone(), nil
}

// WaitResume blocks while the task is paused. It returns nil once the task is
// running again and ErrTaskTerminal if it ended in the meantime.
func (m *Manager) WaitResume(ctx context.Context, taskID string) error {
	for {
		m.mu.RLock()
		st, err := m.lookupLocked(taskID)
		if err != nil {
			m.mu.RUnlock()
			return err
		}
		current := st.task.Status
		wait := st.resume
		m.mu.RUnlock()

		if current.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrTaskTerminal, current)
		}
		if current != status.Paused || wait == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Stop ends the task as stopped. Calling it on a finished task returns the
// task unchanged.
func (m *Manager) Stop(taskID, reason string) (Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Task stopped by user request."
	}
	return m.finish(taskID, status.Stopped, "", reason, EventUserAction)
}

func (m *Manager) Complete(taskID, result string) (Task, error) {
	return m.finish(taskID, status.Completed, strings.TrimSpace(result), "Task completed successfully.", EventInfo)
}

func (m *Manager) Fail(taskID, detail string) (Task, error) {
	detail = strings.TrimSpace(detail)
	return m.finish(taskID, status.Failed, "", "Task execution failed: "+detail, EventError)
}

// MarkError records an infrastructure fault, as opposed to the agent giving up.
func (m *Manager) MarkError(taskID, detail string) (Task, error) {
	detail = strings.TrimSpace(detail)
	return m.finish(taskID, status.Error, "", "Task errored: "+detail, EventError)
}

func (m *Manager) finish(taskID string, to status.Status, result, message string, evt EventType) (Task, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return Task{}, err
	}
	if st.task.Terminal() {
		return st.task.Clone(), nil
	}
	if st.gate != nil {
		st.gate <- DecisionCancelled
		st.gate = nil
	}
	if st.action != nil {
		st.action.PendingApproval = false
	}
	st.task.Status = to
	st.task.Result = result
	if to == status.Failed || to == status.Error || to == status.Stopped {
		st.task.Error = message
	}
	st.task.UpdatedAt = now
	st.task.EndedAt = &now
	m.releaseResumeLocked(st)
	m.publishLocked(st, evt, message, now)
	return st.task.Clone(), nil
}

// AddThought appends a planner thought. Timestamps are forced to be strictly
// increasing so clients can use them as identity.
func (m *Manager) AddThought(taskID string, content ThoughtContent) (PlannerThought, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return PlannerThought{}, err
	}
	if st.task.Terminal() {
		return PlannerThought{}, fmt.Errorf("%w: %s", ErrTaskTerminal, st.task.Status)
	}

	ts := now.UnixMilli()
	if n := len(st.thoughts); n > 0 && ts <= st.thoughts[n-1].Timestamp {
		ts = st.thoughts[n-1].Timestamp + 1
	}
	thought := PlannerThought{
		Timestamp:     ts,
		Content:       content,
		FormattedTime: time.UnixMilli(ts).UTC().Format(thoughtTimeLayout),
	}
	thought = thought.Clone()
	st.thoughts = append(st.thoughts, thought)
	st.task.UpdatedAt = now
	m.publishLocked(st, EventThought, "Planner updated its assessment.", now)
	return thought.Clone(), nil
}

// AppendLog records a free-form agent message in the task's event history.
func (m *Manager) AppendLog(taskID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(taskID)
	if err != nil {
		return err
	}
	if st.task.Terminal() {
		return nil
	}
	m.publishLocked(st, EventInfo, message, now)
	return nil
}

func (m *Manager) Get(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, err := m.lookupLocked(taskID)
	if err != nil {
		return Task{}, err
	}
	return st.task.Clone(), nil
}

func (m *Manager) Status(taskID string) (status.Status, error) {
	t, err := m.Get(taskID)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// Action returns the latest proposal. ok is false when the agent has not
// proposed anything yet.
func (m *Manager) Action(taskID string) (ActionSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, err := m.lookupLocked(taskID)
	if err != nil {
		return ActionSnapshot{}, false, err
	}
	if st.action == nil {
		return ActionSnapshot{}, false, nil
	}
	return st.action.Clone(), true, nil
}

func (m *Manager) Step(taskID string) (StepSnapshot, error) {
	snap, ok, err := m.Action(taskID)
	if err != nil {
		return StepSnapshot{}, err
	}
	if !ok {
		return StepSnapshot{}, nil
	}
	return snap.Step(), nil
}

// PlannerThoughts reports whether a thought newer than the session's last
// acknowledgement exists. It does not acknowledge anything itself.
func (m *Manager) PlannerThoughts(taskID, sessionID string) (PlannerThoughtsResponse, error) {
	sessionID = normalizeSession(sessionID)

	m.mu.RLock()
	defer m.mu.RUnlock()
	st, err := m.lookupLocked(taskID)
	if err != nil {
		return PlannerThoughtsResponse{}, err
	}

	resp := PlannerThoughtsResponse{AllThoughts: make([]PlannerThought, 0, len(st.thoughts))}
	for _, t := range st.thoughts {
		resp.AllThoughts = append(resp.AllThoughts, t.Clone())
	}
	if n := len(st.thoughts); n > 0 {
		latest := st.thoughts[n-1].Clone()
		resp.HasThoughts = true
		resp.Latest = &latest
		resp.UpdatedSinceLastFetch = latest.Timestamp > st.seen[sessionID]
	}
	return resp, nil
}

func (m *Manager) MarkThoughtsSeen(taskID, sessionID string) error {
	sessionID = normalizeSession(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.lookupLocked(taskID)
	if err != nil {
		return err
	}
	if n := len(st.thoughts); n > 0 {
		st.seen[sessionID] = st.thoughts[n-1].Timestamp
	}
	return nil
}

// ForgetSession drops a session's thought acknowledgements on every task.
func (m *Manager) ForgetSession(sessionID string) {
	sessionID = normalizeSession(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.tasks {
		delete(st.seen, sessionID)
	}
}

func (m *Manager) Events(taskID string, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, err := m.lookupLocked(taskID)
	if err != nil {
		return nil, err
	}
	start := 0
	if limit > 0 && limit < len(st.events) {
		start = len(st.events) - limit
	}
	out := make([]Event, len(st.events)-start)
	copy(out, st.events[start:])
	return out, nil
}

// List returns task snapshots, newest first.
func (m *Manager) List() []Task {
	m.mu.RLock()
	out := make([]Task, 0, len(m.tasks))
	for _, st := range m.tasks {
		out = append(out, st.task.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// PruneTerminal removes finished tasks that ended before the cutoff and
// returns their ids.
func (m *Manager) PruneTerminal(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for id, st := range m.tasks {
		if !st.task.Terminal() || st.task.EndedAt == nil {
			continue
		}
		if st.task.EndedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (m *Manager) lookupLocked(taskID string) (*taskState, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrValidation)
	}
	st, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return st, nil
}

func (m *Manager) pauseLocked(st *taskState, now time.Time) {
	st.task.Status = status.Paused
	st.task.UpdatedAt = now
	if st.resume == nil {
		st.resume = make(chan struct{})
	}
}

func (m *Manager) releaseResumeLocked(st *taskState) {
	if st.resume != nil {
		close(st.resume)
		st.resume = nil
	}
}

func (m *Manager) publishLocked(st *taskState, typ EventType, message string, now time.Time) {
	st.events = append(st.events, Event{
		Type:    typ,
		TaskID:  st.task.ID,
		Status:  st.task.Status,
		Message: message,
		At:      now,
	})
	if max := m.eventHistoryMax; max > 0 && len(st.events) > max {
		trimFrom := len(st.events) - max
		st.events = append([]Event(nil), st.events[trimFrom:]...)
	}
}

func normalizeSession(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return defaultSessionID
	}
	return sessionID
}
