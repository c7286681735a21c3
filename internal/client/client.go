// Package client is the operator console's HTTP client for the coordinator API.
package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/ent0n29/browserpilot/internal/reliability"
	"github.com/ent0n29/browserpilot/internal/status"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

const sessionHeader = "X-Session-ID"

type Options struct {
	BaseURL   string
	SessionID string
	Timeout   time.Duration
	// RetryMax applies to GET requests only; commands are never replayed.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

type Client struct {
	resty     *resty.Client
	sessionID string
}

type CreatedTask struct {
	TaskID      string        `json:"task_id"`
	Description string        `json:"description"`
	Status      status.Status `json:"status"`
	Message     string        `json:"message"`
}

type TaskDetail struct {
	tasks.Task
	Events []tasks.Event `json:"events"`
}

type DisplayInfo struct {
	Enabled bool   `json:"enabled"`
	WSURL   string `json:"ws_url"`
}

type statusBody struct {
	Status status.Status `json:"status"`
}

type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 200 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 2 * time.Second
	}

	// Pooled transport; resty drives the retries so it can skip commands.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetTransport(retryClient.HTTPClient.Transport).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "pilotctl/1.0").
		SetRetryCount(opts.RetryMax).
		SetRetryWaitTime(opts.RetryWaitMin).
		SetRetryMaxWaitTime(opts.RetryWaitMax).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			attempt := 1
			var raw *http.Response
			if resp != nil {
				raw = resp.RawResponse
				if resp.Request != nil {
					attempt = resp.Request.Attempt
				}
			}
			return retryablehttp.DefaultBackoff(opts.RetryWaitMin, opts.RetryWaitMax, attempt, raw), nil
		}).
		AddRetryCondition(shouldRetry)
	if opts.SessionID != "" {
		rc.SetHeader(sessionHeader, opts.SessionID)
	}
	return &Client{resty: rc, sessionID: opts.SessionID}
}

// SessionID is the identity sent with every request.
func (c *Client) SessionID() string {
	return c.sessionID
}

func shouldRetry(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return reliability.IsRetryableNetError(err)
	}
	return reliability.IsRetryableHTTPStatus(resp.StatusCode())
}

func (c *Client) CreateTask(ctx context.Context, description string) (CreatedTask, error) {
	var out CreatedTask
	err := c.do(ctx, http.MethodPost, "/tasks", map[string]string{"description": description}, &out)
	out.Status = status.Parse(string(out.Status))
	return out, err
}

func (c *Client) Task(ctx context.Context, id string) (TaskDetail, error) {
	var out TaskDetail
	err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &out)
	out.Status = status.Parse(string(out.Status))
	return out, err
}

func (c *Client) Status(ctx context.Context, id string) (status.Status, error) {
	var out statusBody
	if err := c.do(ctx, http.MethodGet, taskPath(id, "/status"), nil, &out); err != nil {
		return "", err
	}
	return status.Parse(string(out.Status)), nil
}

func (c *Client) Action(ctx context.Context, id string) (tasks.ActionSnapshot, error) {
	var out tasks.ActionSnapshot
	err := c.do(ctx, http.MethodGet, taskPath(id, "/action"), nil, &out)
	return out, err
}

func (c *Client) Step(ctx context.Context, id string) (tasks.StepSnapshot, error) {
	var out tasks.StepSnapshot
	err := c.do(ctx, http.MethodGet, taskPath(id, "/step"), nil, &out)
	return out, err
}

func (c *Client) PlannerThoughts(ctx context.Context, id string) (tasks.PlannerThoughtsResponse, error) {
	var out tasks.PlannerThoughtsResponse
	err := c.do(ctx, http.MethodGet, taskPath(id, "/planner-thoughts"), nil, &out)
	return out, err
}

func (c *Client) MarkThoughtsSeen(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, taskPath(id, "/planner-thoughts/mark-seen"), nil, nil)
}

func (c *Client) ApproveAction(ctx context.Context, id string) error {
	var out successBody
	return c.do(ctx, http.MethodPost, taskPath(id, "/approve-action"), nil, &out)
}

func (c *Client) RejectAction(ctx context.Context, id string) (status.Status, error) {
	return c.command(ctx, id, "/reject-action")
}

func (c *Client) Resume(ctx context.Context, id string) (status.Status, error) {
	return c.command(ctx, id, "/resume")
}

func (c *Client) Stop(ctx context.Context, id string) (status.Status, error) {
	return c.command(ctx, id, "/stop")
}

func (c *Client) Cancel(ctx context.Context, id string) (status.Status, error) {
	return c.command(ctx, id, "/cancel")
}

func (c *Client) Display(ctx context.Context) (DisplayInfo, error) {
	var out DisplayInfo
	err := c.do(ctx, http.MethodGet, "/display", nil, &out)
	return out, err
}

func (c *Client) command(ctx context.Context, id, suffix string) (status.Status, error) {
	var out statusBody
	if err := c.do(ctx, http.MethodPost, taskPath(id, suffix), nil, &out); err != nil {
		return "", err
	}
	return status.Parse(string(out.Status)), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.resty.R().SetContext(ctx).SetError(&errorBody{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A response arrived but its body did not decode.
		if resp != nil && resp.RawResponse != nil {
			kind := KindServer
			if resp.IsError() {
				kind = kindForStatus(resp.StatusCode())
			}
			return &APIError{Kind: kind, StatusCode: resp.StatusCode(), Message: "unexpected response body", Err: err}
		}
		return &APIError{Kind: KindTransport, Err: err}
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{
		Kind:       kindForStatus(resp.StatusCode()),
		StatusCode: resp.StatusCode(),
		Message:    strings.TrimSpace(string(resp.Body())),
	}
	if eb, ok := resp.Error().(*errorBody); ok && eb.Error != "" {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Error
	}
	return apiErr
}

func taskPath(id, suffix string) string {
	return "/tasks/" + strings.TrimSpace(id) + suffix
}
