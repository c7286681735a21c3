package sessionview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/browserpilot/internal/client"
	"github.com/ent0n29/browserpilot/internal/status"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

// API is the slice of the coordinator the console talks to.
type API interface {
	CreateTask(ctx context.Context, description string) (client.CreatedTask, error)
	Status(ctx context.Context, id string) (status.Status, error)
	Action(ctx context.Context, id string) (tasks.ActionSnapshot, error)
	Step(ctx context.Context, id string) (tasks.StepSnapshot, error)
	PlannerThoughts(ctx context.Context, id string) (tasks.PlannerThoughtsResponse, error)
	MarkThoughtsSeen(ctx context.Context, id string) error
	ApproveAction(ctx context.Context, id string) error
	RejectAction(ctx context.Context, id string) (status.Status, error)
	Resume(ctx context.Context, id string) (status.Status, error)
	Cancel(ctx context.Context, id string) (status.Status, error)
	Display(ctx context.Context) (client.DisplayInfo, error)
}

type Config struct {
	StatusInterval  time.Duration
	ActionFast      time.Duration
	ActionSlow      time.Duration
	ThoughtInterval time.Duration
	RevealStep      time.Duration
	RequestTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.StatusInterval <= 0 {
		c.StatusInterval = 2 * time.Second
	}
	if c.ActionFast <= 0 {
		c.ActionFast = time.Second
	}
	if c.ActionSlow <= 0 {
		c.ActionSlow = 3 * time.Second
	}
	if c.ThoughtInterval <= 0 {
		c.ThoughtInterval = 3 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// ActionInterval is the action and step poll cadence for the next cycle.
func (c Config) ActionInterval(pending bool) time.Duration {
	if pending {
		return c.ActionFast
	}
	return c.ActionSlow
}

type loopSet struct {
	generation uint64
	cancel     context.CancelFunc
}

// Controller owns the State of one console. Every transition runs on the
// goroutine inside Run; poll loops and commands post their results to it.
type Controller struct {
	api      API
	cfg      Config
	logger   *zap.Logger
	onRender func(View)

	events  chan func()
	stopped chan struct{}
	runCtx  context.Context

	state State
	loops *loopSet

	revealer       *Revealer
	revealID       uint64
	revealed       int
	revealFinished bool

	// Read by the poll loops between cycles.
	pendingHint atomic.Bool
	runningHint atomic.Bool

	viewMu sync.RWMutex
	view   View
}

func NewController(api API, cfg Config, logger *zap.Logger, onRender func(View)) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		api:            api,
		cfg:            cfg.withDefaults(),
		logger:         logger,
		onRender:       onRender,
		events:         make(chan func(), 64),
		stopped:        make(chan struct{}),
		revealFinished: true,
	}
	c.revealer = NewRevealer(c.cfg.RevealStep, func(id uint64, shown int, done bool) {
		c.post(func() { c.onRevealFrame(id, shown, done) })
	})
	c.view = BuildView(c.state, -1)
	return c
}

// Run processes events until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.stopped)
	defer c.revealer.Stop()
	defer c.stopLoops()

	c.render()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.events:
			fn()
		}
	}
}

// View returns the most recently rendered frame.
func (c *Controller) View() View {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view
}

func (c *Controller) Submit(description string) {
	c.post(func() {
		if c.state.Phase != PhaseIdle {
			c.apply(c.state.CommandFailed("Start a new task before submitting another goal."))
			return
		}
		c.apply(c.state.SubmitStarted(description))
		gen := c.state.Generation
		ctx, cancel := c.requestContext()
		go func() {
			defer cancel()
			created, err := c.api.CreateTask(ctx, description)
			c.post(func() { c.onCreated(gen, created, err) })
		}()
	})
}

func (c *Controller) Approve() {
	c.post(func() {
		if !c.state.Pending() || c.state.ApproveInFlight {
			return
		}
		c.apply(c.state.ApproveRequested())
		c.command(func(ctx context.Context, id string) (status.Status, error) {
			return "", c.api.ApproveAction(ctx, id)
		}, func(s State, _ status.Status, err error) State {
			if err != nil {
				return s.ApproveFailed(errorMessage(err))
			}
			return s.ApproveConfirmed()
		})
	})
}

func (c *Controller) Reject() {
	c.post(func() {
		if !c.state.Pending() || c.state.ApproveInFlight {
			return
		}
		c.command(c.api.RejectAction, func(s State, st status.Status, err error) State {
			if err != nil {
				return s.RejectFailed(errorMessage(err))
			}
			return s.RejectConfirmed(st)
		})
	})
}

func (c *Controller) Resume() {
	c.post(func() {
		if c.state.Phase != PhasePaused {
			return
		}
		c.command(c.api.Resume, func(s State, st status.Status, err error) State {
			if err != nil {
				return s.ResumeFailed(errorMessage(err))
			}
			return s.ResumeConfirmed(st)
		})
	})
}

func (c *Controller) Cancel() {
	c.post(func() {
		if c.state.TaskID == "" || c.state.Phase == PhaseTerminal {
			return
		}
		c.command(c.api.Cancel, func(s State, st status.Status, err error) State {
			if err != nil {
				return s.CancelFailed(errorMessage(err))
			}
			return s.CancelConfirmed(st)
		})
	})
}

// NewTask forgets the current task and returns to the entry form.
func (c *Controller) NewTask() {
	c.post(func() {
		c.apply(c.state.StartNewTask())
	})
}

func (c *Controller) ToggleDisplay() {
	c.post(func() {
		c.apply(c.state.ToggleDisplay())
		if !c.state.DisplayVisible || c.state.DisplayURL != "" {
			return
		}
		ctx, cancel := c.requestContext()
		go func() {
			defer cancel()
			info, err := c.api.Display(ctx)
			c.post(func() {
				switch {
				case err != nil:
					c.apply(c.state.CommandFailed(errorMessage(err)))
				case !info.Enabled || info.WSURL == "":
					c.apply(c.state.CommandFailed("Remote display is not enabled on the server."))
				default:
					c.apply(c.state.DisplayResolved(info.WSURL))
				}
			})
		}()
	})
}

// command runs a task command off the event loop and applies its outcome
// only if the task is still current.
func (c *Controller) command(call func(context.Context, string) (status.Status, error), done func(State, status.Status, error) State) {
	id, gen := c.state.TaskID, c.state.Generation
	ctx, cancel := c.requestContext()
	go func() {
		defer cancel()
		st, err := call(ctx, id)
		c.post(func() {
			if !c.state.Matches(id, gen) {
				return
			}
			c.apply(done(c.state, st, err))
		})
	}()
}

func (c *Controller) onCreated(gen uint64, created client.CreatedTask, err error) {
	if c.state.Phase != PhaseSubmitting || c.state.Generation != gen {
		return
	}
	if err != nil {
		c.apply(c.state.SubmitFailed(errorMessage(err)))
		return
	}
	st := created.Status
	if st == "" {
		st = status.Created
	}
	c.apply(c.state.TaskCreated(created.TaskID, created.Description, st))
}

func (c *Controller) onStatus(id string, gen uint64, st status.Status, err error) {
	if !c.state.Matches(id, gen) {
		return
	}
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			c.apply(c.state.TaskVanished("Task " + id + " no longer exists on the server."))
			return
		}
		c.logger.Warn("status poll failed", zap.String("task_id", id), zap.Error(err))
		c.apply(c.state.PollFailed(errorMessage(err)))
		return
	}
	c.apply(c.state.StatusPolled(st))
}

func (c *Controller) onSnapshot(id string, gen uint64, next func(State) State, err error) {
	if !c.state.Matches(id, gen) {
		return
	}
	if err != nil {
		c.logger.Warn("action poll failed", zap.String("task_id", id), zap.Error(err))
		c.apply(c.state.PollFailed(errorMessage(err)))
		return
	}
	c.apply(next(c.state))
}

func (c *Controller) onThoughts(id string, gen uint64, resp tasks.PlannerThoughtsResponse, err error) {
	if !c.state.Matches(id, gen) {
		return
	}
	if err != nil {
		c.logger.Warn("thought poll failed", zap.String("task_id", id), zap.Error(err))
		c.apply(c.state.PollFailed(errorMessage(err)))
		return
	}
	next := c.state.ThoughtsPolled(resp)
	if !next.NewThought {
		c.apply(next)
		return
	}

	steps := len(next.Thought.Content.NextSteps)
	if steps > 0 {
		c.revealID = c.revealer.Start(steps)
		c.revealed = 0
		c.revealFinished = false
	} else {
		c.revealer.Stop()
		c.revealFinished = true
	}
	c.apply(next)

	// Acknowledge after rendering. Failures only cost a repeated "new" flag.
	ctx, cancel := c.requestContext()
	go func() {
		defer cancel()
		if err := c.api.MarkThoughtsSeen(ctx, id); err != nil {
			c.logger.Debug("mark thoughts seen", zap.String("task_id", id), zap.Error(err))
		}
	}()
}

func (c *Controller) onRevealFrame(id uint64, shown int, done bool) {
	if id != c.revealID || c.revealFinished {
		return
	}
	c.revealed = shown
	if done {
		c.revealFinished = true
	}
	c.render()
}

// apply installs the next state and brings loops, reveal and view in line.
func (c *Controller) apply(next State) {
	prev := c.state
	c.state = next
	c.pendingHint.Store(next.Pending())
	c.runningHint.Store(next.Running())

	// The thought panel is hidden when the task stops running; leave its
	// text complete for when it comes back.
	if prev.Running() && !next.Running() {
		c.revealer.Stop()
		c.revealFinished = true
	}
	if prev.Generation != next.Generation {
		c.revealer.Stop()
		c.revealFinished = true
		c.revealID = 0
	}
	c.syncLoops()
	c.render()
}

func (c *Controller) render() {
	revealed := -1
	if !c.revealFinished {
		revealed = c.revealed
	}
	v := BuildView(c.state, revealed)
	c.viewMu.Lock()
	c.view = v
	c.viewMu.Unlock()
	if c.onRender != nil {
		c.onRender(v)
	}
}

func (c *Controller) syncLoops() {
	want := c.state.Polling()
	if c.loops != nil && (!want || c.loops.generation != c.state.Generation) {
		c.stopLoops()
	}
	if !want || c.loops != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.runCtx)
	c.loops = &loopSet{generation: c.state.Generation, cancel: cancel}
	id, gen := c.state.TaskID, c.state.Generation

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.statusLoop(gctx, id, gen) })
	g.Go(func() error {
		return c.snapshotLoop(gctx, func(ctx context.Context) (func(State) State, error) {
			snap, err := c.api.Action(ctx, id)
			at := time.Now()
			return func(s State) State { return s.ActionPolled(snap, at) }, err
		}, id, gen)
	})
	g.Go(func() error {
		return c.snapshotLoop(gctx, func(ctx context.Context) (func(State) State, error) {
			step, err := c.api.Step(ctx, id)
			at := time.Now()
			return func(s State) State { return s.StepPolled(step, at) }, err
		}, id, gen)
	})
	g.Go(func() error { return c.thoughtLoop(gctx, id, gen) })
	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("poll loops stopped", zap.String("task_id", id), zap.Error(err))
		}
	}()
}

func (c *Controller) stopLoops() {
	if c.loops == nil {
		return
	}
	c.loops.cancel()
	c.loops = nil
}

func (c *Controller) statusLoop(ctx context.Context, id string, gen uint64) error {
	for {
		reqCtx, cancel := c.requestContext()
		st, err := c.api.Status(reqCtx, id)
		cancel()
		c.post(func() { c.onStatus(id, gen, st, err) })
		if err := sleepCtx(ctx, c.cfg.StatusInterval); err != nil {
			return nil
		}
	}
}

func (c *Controller) snapshotLoop(ctx context.Context, fetch func(context.Context) (func(State) State, error), id string, gen uint64) error {
	for {
		if c.runningHint.Load() {
			reqCtx, cancel := c.requestContext()
			next, err := fetch(reqCtx)
			cancel()
			c.post(func() { c.onSnapshot(id, gen, next, err) })
		}
		// Retiming takes effect from the next cycle.
		if err := sleepCtx(ctx, c.cfg.ActionInterval(c.pendingHint.Load())); err != nil {
			return nil
		}
	}
}

func (c *Controller) thoughtLoop(ctx context.Context, id string, gen uint64) error {
	for {
		if c.runningHint.Load() {
			reqCtx, cancel := c.requestContext()
			resp, err := c.api.PlannerThoughts(reqCtx, id)
			cancel()
			c.post(func() { c.onThoughts(id, gen, resp, err) })
		}
		if err := sleepCtx(ctx, c.cfg.ThoughtInterval); err != nil {
			return nil
		}
	}
}

// requestContext is bound to the controller, not the poll loop: switching
// tasks drops late results instead of aborting requests.
func (c *Controller) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.runCtx, c.cfg.RequestTimeout)
}

func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.stopped:
	}
}

func errorMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
