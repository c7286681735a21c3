package taskruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/browserpilot/internal/agent"
	"github.com/ent0n29/browserpilot/internal/observability"
	"github.com/ent0n29/browserpilot/internal/policy"
	"github.com/ent0n29/browserpilot/internal/status"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

type Config struct {
	TaskTimeout  time.Duration
	EventHistory int
}

// TaskView is the full task read model: the task plus its recent events.
type TaskView struct {
	tasks.Task
	Events []tasks.Event `json:"events"`
}

// Service runs one agent engine per task and bridges its callbacks into the
// task manager.
type Service struct {
	taskTimeout time.Duration
	manager     *tasks.Manager
	engine      agent.Engine
	metrics     *observability.Metrics
	logger      *zap.Logger

	mu             sync.Mutex
	runningCancels map[string]context.CancelFunc
	wg             sync.WaitGroup
}

func New(cfg Config, engine agent.Engine, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		taskTimeout:    cfg.TaskTimeout,
		manager:        tasks.NewManager(cfg.EventHistory),
		engine:         engine,
		metrics:        metrics,
		logger:         logger,
		runningCancels: make(map[string]context.CancelFunc),
	}
}

// Manager exposes the underlying coordinator state.
func (s *Service) Manager() *tasks.Manager {
	return s.manager
}

func (s *Service) CreateTask(ctx context.Context, description string) (tasks.Task, error) {
	if err := ctx.Err(); err != nil {
		return tasks.Task{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return tasks.Task{}, fmt.Errorf("%w: task description is required", tasks.ErrValidation)
	}
	if decision := policy.DecideGoal(description); decision.Blocked {
		return tasks.Task{}, fmt.Errorf("%w: blocked by policy: %s", tasks.ErrValidation, decision.Reason)
	}

	task, err := s.manager.Create(description)
	if err != nil {
		return tasks.Task{}, err
	}
	s.metrics.ObserveTaskEvent("created")
	s.logger.Info("task created", zap.String("task_id", task.ID))

	s.startTask(task)

	// The engine may already have signalled start.
	if current, err := s.manager.Get(task.ID); err == nil {
		return current, nil
	}
	return task, nil
}

func (s *Service) GetTask(taskID string, eventLimit int) (TaskView, error) {
	task, err := s.manager.Get(taskID)
	if err != nil {
		return TaskView{}, err
	}
	events, err := s.manager.Events(taskID, eventLimit)
	if err != nil {
		return TaskView{}, err
	}
	return TaskView{Task: task, Events: events}, nil
}

func (s *Service) Status(taskID string) (status.Status, error) {
	return s.manager.Status(taskID)
}

func (s *Service) Action(taskID string) (tasks.ActionSnapshot, bool, error) {
	return s.manager.Action(taskID)
}

func (s *Service) Step(taskID string) (tasks.StepSnapshot, error) {
	return s.manager.Step(taskID)
}

func (s *Service) PlannerThoughts(taskID, sessionID string) (tasks.PlannerThoughtsResponse, error) {
	return s.manager.PlannerThoughts(taskID, sessionID)
}

func (s *Service) MarkThoughtsSeen(taskID, sessionID string) error {
	return s.manager.MarkThoughtsSeen(taskID, sessionID)
}

func (s *Service) ApproveAction(taskID string) (tasks.Task, error) {
	task, err := s.manager.ApproveAction(taskID)
	if err != nil {
		return tasks.Task{}, err
	}
	s.metrics.ObserveTaskEvent("approved")
	s.logger.Info("action approved", zap.String("task_id", taskID))
	return task, nil
}

func (s *Service) RejectAction(taskID string) (tasks.Task, error) {
	task, err := s.manager.RejectAction(taskID)
	if err != nil {
		return tasks.Task{}, err
	}
	s.metrics.ObserveTaskEvent("rejected")
	s.logger.Info("action rejected", zap.String("task_id", taskID))
	return task, nil
}

func (s *Service) ResumeTask(taskID string) (tasks.Task, error) {
	task, err := s.manager.Resume(taskID)
	if err != nil {
		return tasks.Task{}, err
	}
	s.metrics.ObserveTaskEvent("resumed")
	return task, nil
}

// StopTask ends the task and cancels its engine. Stopping a finished task
// returns it unchanged.
func (s *Service) StopTask(taskID string) (tasks.Task, error) {
	task, err := s.manager.Stop(taskID, "Task stopped by user request.")
	if err != nil {
		return tasks.Task{}, err
	}
	if cancel := s.getRunningCancel(taskID); cancel != nil {
		cancel()
	}
	return task, nil
}

// CancelGoal is the cancel endpoint's spelling of StopTask.
func (s *Service) CancelGoal(taskID string) (tasks.Task, error) {
	task, err := s.manager.Stop(taskID, "Goal cancelled by user.")
	if err != nil {
		return tasks.Task{}, err
	}
	if cancel := s.getRunningCancel(taskID); cancel != nil {
		cancel()
	}
	return task, nil
}

// ForgetSession drops the thought acknowledgements of an expired operator session.
func (s *Service) ForgetSession(sessionID string) {
	s.manager.ForgetSession(sessionID)
}

// PruneTerminal drops finished tasks whose last update is older than retention.
func (s *Service) PruneTerminal(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	removed := s.manager.PruneTerminal(time.Now().Add(-retention))
	if len(removed) > 0 {
		s.logger.Debug("pruned finished tasks", zap.Int("count", len(removed)))
	}
	return len(removed)
}

func (s *Service) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runningCancels)
}

// Close stops every running task and waits for the engines to return.
func (s *Service) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runningCancels))
	for id := range s.runningCancels {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_, _ = s.manager.Stop(id, "Coordinator shutting down.")
		if cancel := s.getRunningCancel(id); cancel != nil {
			cancel()
		}
	}
	s.wg.Wait()
	return nil
}

func (s *Service) startTask(task tasks.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	s.setRunningCancel(task.ID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.clearRunningCancel(task.ID)

		sink := &taskSink{svc: s, taskID: task.ID, createdAt: task.CreatedAt}
		result, runErr := s.engine.Run(ctx, task, sink)
		s.finishTask(task, result, runErr)
	}()
}

func (s *Service) finishTask(task tasks.Task, result string, runErr error) {
	log := s.logger.With(zap.String("task_id", task.ID))

	var (
		final tasks.Task
		err   error
	)
	var workerErr *agent.WorkerError
	switch {
	case runErr == nil:
		final, err = s.manager.Complete(task.ID, result)
	case errors.Is(runErr, context.DeadlineExceeded):
		final, err = s.manager.Fail(task.ID, fmt.Sprintf("task timed out after %s", s.taskTimeout))
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, agent.ErrCancelled), errors.Is(runErr, tasks.ErrTaskTerminal):
		final, err = s.manager.Stop(task.ID, "")
	case errors.As(runErr, &workerErr):
		final, err = s.manager.MarkError(task.ID, workerErr.Error())
	default:
		final, err = s.manager.Fail(task.ID, runErr.Error())
	}
	if err != nil {
		log.Warn("finish task", zap.Error(err))
		return
	}

	s.metrics.ObserveTaskEvent(final.Status.String())
	s.metrics.ObserveStage(observability.StageTaskTotal, time.Since(task.CreatedAt))
	if runErr != nil && final.Status != status.Stopped {
		log.Warn("task ended", zap.String("status", final.Status.String()), zap.Error(runErr))
		return
	}
	log.Info("task ended", zap.String("status", final.Status.String()))
}

func (s *Service) setRunningCancel(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.runningCancels[taskID] = cancel
	n := len(s.runningCancels)
	s.mu.Unlock()
	s.metrics.SetRunningTasks(n)
}

func (s *Service) getRunningCancel(taskID string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningCancels[taskID]
}

func (s *Service) clearRunningCancel(taskID string) {
	s.mu.Lock()
	delete(s.runningCancels, taskID)
	n := len(s.runningCancels)
	s.mu.Unlock()
	s.metrics.SetRunningTasks(n)
}

// taskSink adapts engine callbacks for one task onto the manager.
type taskSink struct {
	svc       *Service
	taskID    string
	createdAt time.Time

	mu           sync.Mutex
	lastDecision time.Time
}

func (k *taskSink) Started() {
	if _, err := k.svc.manager.MarkRunning(k.taskID); err != nil {
		k.svc.logger.Debug("mark running", zap.String("task_id", k.taskID), zap.Error(err))
	}
}

func (k *taskSink) Propose(ctx context.Context, p tasks.Proposal) (tasks.Decision, error) {
	if details, changed := policy.RedactDetails(p.ActionDetails); changed {
		p.ActionDetails = details
	}
	if text, changed := policy.RedactPII(p.HumanReadableDescription); changed {
		p.HumanReadableDescription = text
	}

	gate, _, err := k.svc.manager.Propose(k.taskID, p)
	if err != nil {
		return tasks.DecisionCancelled, err
	}
	proposedAt := time.Now()

	k.mu.Lock()
	if k.lastDecision.IsZero() {
		k.svc.metrics.ObserveStage(observability.StageFirstProposal, proposedAt.Sub(k.createdAt))
	} else {
		k.svc.metrics.ObserveStage(observability.StageAgentStep, proposedAt.Sub(k.lastDecision))
	}
	k.mu.Unlock()

	var decision tasks.Decision
	select {
	case <-ctx.Done():
		return tasks.DecisionCancelled, ctx.Err()
	case decision = <-gate:
	}

	now := time.Now()
	k.mu.Lock()
	k.lastDecision = now
	k.mu.Unlock()
	k.svc.metrics.ObserveApprovalWait(now.Sub(proposedAt))

	if decision == tasks.DecisionRejected {
		if err := k.svc.manager.WaitResume(ctx, k.taskID); err != nil {
			return tasks.DecisionCancelled, err
		}
	}
	return decision, nil
}

func (k *taskSink) Thought(content tasks.ThoughtContent) {
	if _, err := k.svc.manager.AddThought(k.taskID, content); err != nil {
		k.svc.logger.Debug("add thought", zap.String("task_id", k.taskID), zap.Error(err))
	}
}

func (k *taskSink) Pause(ctx context.Context, reason string) error {
	if _, err := k.svc.manager.Pause(k.taskID, reason); err != nil {
		return err
	}
	k.svc.metrics.ObserveTaskEvent("paused")
	return k.svc.manager.WaitResume(ctx, k.taskID)
}

func (k *taskSink) Log(message string) {
	if err := k.svc.manager.AppendLog(k.taskID, message); err != nil {
		k.svc.logger.Debug("append log", zap.String("task_id", k.taskID), zap.Error(err))
	}
}
