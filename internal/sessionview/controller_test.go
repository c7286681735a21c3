package sessionview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/browserpilot/internal/client"
	"github.com/ent0n29/browserpilot/internal/status"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

// fakeAPI is an in-memory coordinator with one task.
type fakeAPI struct {
	mu           sync.Mutex
	createErr    error
	approveErr   error
	status       status.Status
	statusErr    error
	action       tasks.ActionSnapshot
	thoughts     tasks.PlannerThoughtsResponse
	approvals    int
	rejects      int
	cancels      int
	seen         int
	display      client.DisplayInfo
	descriptions []string

	statusCalls  int
	actionCalls  int
	stepCalls    int
	thoughtCalls int
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) CreateTask(_ context.Context, description string) (client.CreatedTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return client.CreatedTask{}, f.createErr
	}
	f.descriptions = append(f.descriptions, description)
	f.status = status.Running
	return client.CreatedTask{TaskID: "t1", Description: description, Status: status.Created}, nil
}

func (f *fakeAPI) Status(context.Context, string) (status.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.status, f.statusErr
}

func (f *fakeAPI) Action(context.Context, string) (tasks.ActionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionCalls++
	return f.action.Clone(), nil
}

func (f *fakeAPI) Step(context.Context, string) (tasks.StepSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepCalls++
	return f.action.Step(), nil
}

func (f *fakeAPI) PlannerThoughts(context.Context, string) (tasks.PlannerThoughtsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thoughtCalls++
	return f.thoughts, nil
}

func (f *fakeAPI) MarkThoughtsSeen(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen++
	return nil
}

func (f *fakeAPI) ApproveAction(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approvals++
	f.action.PendingApproval = false
	return nil
}

func (f *fakeAPI) RejectAction(context.Context, string) (status.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects++
	f.action = tasks.ActionSnapshot{}
	f.status = status.Paused
	return f.status, nil
}

func (f *fakeAPI) Resume(context.Context, string) (status.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status.Running
	return f.status, nil
}

func (f *fakeAPI) Cancel(context.Context, string) (status.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.status = status.Stopped
	return f.status, nil
}

func (f *fakeAPI) Display(context.Context) (client.DisplayInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.display, nil
}

func (f *fakeAPI) count(get func(f *fakeAPI) int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return get(f)
}

func startController(t *testing.T, api API) *Controller {
	t.Helper()
	c := NewController(api, Config{
		StatusInterval:  5 * time.Millisecond,
		ActionFast:      2 * time.Millisecond,
		ActionSlow:      10 * time.Millisecond,
		ThoughtInterval: 5 * time.Millisecond,
		RevealStep:      time.Millisecond,
		RequestTimeout:  time.Second,
	}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func waitMode(t *testing.T, c *Controller, want Mode) View {
	t.Helper()
	require.Eventually(t, func() bool { return c.View().Mode == want }, 2*time.Second, time.Millisecond,
		"mode never became %s", want)
	return c.View()
}

func TestControllerApproveFlow(t *testing.T) {
	api := &fakeAPI{}
	c := startController(t, api)
	assert.Equal(t, ModeEntryForm, c.View().Mode)

	api.set(func(f *fakeAPI) {
		f.action = pendingAt(1)
		f.action.HumanReadableDescription = "Open example.com"
	})
	c.Submit("open example.com")

	v := waitMode(t, c, ModeApprovalPrompt)
	assert.Equal(t, "t1", v.TaskID)
	// The step poll may land first; once the action poll has, step results
	// for the same step must not replace its description.
	require.Eventually(t, func() bool { return c.View().ActionText == "Open example.com" },
		2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "Open example.com", c.View().ActionText)

	c.Approve()
	waitMode(t, c, ModeProcessing)
	require.Eventually(t, func() bool { return api.count(func(f *fakeAPI) int { return f.approvals }) == 1 },
		time.Second, time.Millisecond)

	// Further polls must not bring the same step back.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ModeProcessing, c.View().Mode)

	api.set(func(f *fakeAPI) { f.status = status.Completed })
	waitMode(t, c, ModeTerminalNewTask)

	c.NewTask()
	v = waitMode(t, c, ModeEntryForm)
	assert.Empty(t, v.TaskID)
}

func TestControllerApproveFailureRestoresPrompt(t *testing.T) {
	api := &fakeAPI{approveErr: &client.APIError{Kind: client.KindServer, StatusCode: 500, Message: "boom"}}
	c := startController(t, api)
	api.set(func(f *fakeAPI) { f.action = pendingAt(1) })
	c.Submit("open example.com")
	waitMode(t, c, ModeApprovalPrompt)

	c.Approve()
	require.Eventually(t, func() bool { return c.View().CommandError == "boom" }, 2*time.Second, time.Millisecond)
	waitMode(t, c, ModeApprovalPrompt)
}

func TestControllerRejectResumeCancel(t *testing.T) {
	api := &fakeAPI{}
	c := startController(t, api)
	api.set(func(f *fakeAPI) { f.action = pendingAt(1) })
	c.Submit("open example.com")
	waitMode(t, c, ModeApprovalPrompt)

	c.Reject()
	waitMode(t, c, ModePausedResume)
	assert.Equal(t, 1, api.count(func(f *fakeAPI) int { return f.rejects }))

	c.Resume()
	waitMode(t, c, ModeProcessing)

	c.Cancel()
	v := waitMode(t, c, ModeTerminalNewTask)
	assert.Equal(t, status.Stopped, v.Status)
	assert.Equal(t, 1, api.count(func(f *fakeAPI) int { return f.cancels }))
}

// pollCalls returns the status, action, step and thought request counts.
func (f *fakeAPI) pollCalls() [4]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return [4]int{f.statusCalls, f.actionCalls, f.stepCalls, f.thoughtCalls}
}

// assertQuiet checks that no poll request goes out for a while.
func assertQuiet(t *testing.T, api *fakeAPI) {
	t.Helper()
	// Let a request already in flight land first.
	time.Sleep(20 * time.Millisecond)
	before := api.pollCalls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, api.pollCalls(), "status, action, step, thought calls")
}

func TestControllerPollingStopsWhilePausedAndTerminal(t *testing.T) {
	api := &fakeAPI{}
	c := startController(t, api)
	api.set(func(f *fakeAPI) { f.action = pendingAt(1) })
	c.Submit("open example.com")
	waitMode(t, c, ModeApprovalPrompt)
	first := api.pollCalls()
	assert.Positive(t, first[0])
	assert.Positive(t, first[1])

	c.Reject()
	waitMode(t, c, ModePausedResume)
	assertQuiet(t, api)

	c.Resume()
	waitMode(t, c, ModeProcessing)
	paused := api.pollCalls()
	require.Eventually(t, func() bool {
		now := api.pollCalls()
		return now[0] > paused[0] && now[1] > paused[1] && now[2] > paused[2] && now[3] > paused[3]
	}, 2*time.Second, time.Millisecond, "polling did not restart after resume")

	c.Cancel()
	waitMode(t, c, ModeTerminalNewTask)
	assertQuiet(t, api)
}

func TestControllerSubmitFailure(t *testing.T) {
	api := &fakeAPI{createErr: &client.APIError{Kind: client.KindValidation, StatusCode: 400, Message: "description is required"}}
	c := startController(t, api)

	c.Submit("   ")
	require.Eventually(t, func() bool { return c.View().SubmitError == "description is required" },
		2*time.Second, time.Millisecond)
	assert.Equal(t, ModeEntryForm, c.View().Mode)
	assert.Equal(t, PhaseIdle, c.View().Phase)
}

func TestControllerTaskVanished(t *testing.T) {
	api := &fakeAPI{}
	c := startController(t, api)
	c.Submit("open example.com")
	waitMode(t, c, ModeProcessing)

	api.set(func(f *fakeAPI) {
		f.statusErr = &client.APIError{Kind: client.KindNotFound, StatusCode: 404, Message: "task not found"}
	})
	v := waitMode(t, c, ModeEntryForm)
	assert.Contains(t, v.Notice, "no longer exists")
	assert.Empty(t, v.TaskID)
}

func TestControllerPollErrorKeepsTask(t *testing.T) {
	api := &fakeAPI{}
	c := startController(t, api)
	c.Submit("open example.com")
	waitMode(t, c, ModeProcessing)

	api.set(func(f *fakeAPI) {
		f.statusErr = &client.APIError{Kind: client.KindTransport, Err: errors.New("connection refused")}
	})
	require.Eventually(t, func() bool { return c.View().PollError != "" }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "t1", c.View().TaskID)

	api.set(func(f *fakeAPI) { f.statusErr = nil })
	require.Eventually(t, func() bool { return c.View().PollError == "" }, 2*time.Second, time.Millisecond)
}

func TestControllerRevealsAndAcknowledgesThoughts(t *testing.T) {
	api := &fakeAPI{}
	c := startController(t, api)
	api.set(func(f *fakeAPI) {
		f.thoughts = tasks.PlannerThoughtsResponse{
			HasThoughts: true,
			Latest: &tasks.PlannerThought{
				Timestamp: 1,
				Content:   tasks.ThoughtContent{NextSteps: []string{"open", "search"}},
			},
		}
	})
	c.Submit("open example.com")

	require.Eventually(t, func() bool {
		v := c.View()
		return len(v.ThoughtLines) == 2 && !v.Revealing
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return api.count(func(f *fakeAPI) int { return f.seen }) == 1 },
		time.Second, time.Millisecond)

	// Same timestamp again is not new and is not acknowledged again.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, api.count(func(f *fakeAPI) int { return f.seen }))
}

func TestControllerToggleDisplay(t *testing.T) {
	api := &fakeAPI{display: client.DisplayInfo{Enabled: true, WSURL: "ws://host/display/ws"}}
	c := startController(t, api)

	c.ToggleDisplay()
	require.Eventually(t, func() bool { return c.View().DisplayURL == "ws://host/display/ws" },
		2*time.Second, time.Millisecond)
	assert.True(t, c.View().DisplayVisible)

	c.ToggleDisplay()
	require.Eventually(t, func() bool { return !c.View().DisplayVisible }, 2*time.Second, time.Millisecond)
}

func TestControllerRejectsSecondSubmit(t *testing.T) {
	api := &fakeAPI{}
	c := startController(t, api)
	c.Submit("first")
	waitMode(t, c, ModeProcessing)

	c.Submit("second")
	require.Eventually(t, func() bool { return c.View().CommandError != "" }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "first", c.View().Description)
	assert.Equal(t, 1, api.count(func(f *fakeAPI) int { return len(f.descriptions) }))
}

func TestConfigActionInterval(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Second, cfg.ActionInterval(true))
	assert.Equal(t, 3*time.Second, cfg.ActionInterval(false))
}
