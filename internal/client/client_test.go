package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/browserpilot/internal/status"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:      srv.URL + "/api",
		SessionID:    "console-1",
		Timeout:      2 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
}

func TestCreateTaskSendsDescriptionAndSession(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks", r.URL.Path)
		assert.Equal(t, "console-1", r.Header.Get("X-Session-ID"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusCreated, map[string]string{
			"task_id":     "t-1",
			"description": body["description"],
			"status":      "Created",
			"message":     "Task created successfully",
		})
	}))

	got, err := c.CreateTask(context.Background(), "open example.com")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.TaskID)
	assert.Equal(t, status.Created, got.Status)
	assert.Equal(t, "open example.com", got.Description)
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		code     int
		wireCode string
		sentinel error
	}{
		{http.StatusBadRequest, "validation_failed", ErrValidation},
		{http.StatusNotFound, "task_not_found", ErrNotFound},
		{http.StatusConflict, "invalid_task_state", ErrInvalidState},
		{http.StatusInternalServerError, "internal", ErrServer},
	}
	for _, tc := range cases {
		t.Run(tc.wireCode, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tc.code, map[string]string{"error": "nope", "code": tc.wireCode})
			}))
			_, err := c.Resume(context.Background(), "t-1")
			require.ErrorIs(t, err, tc.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.code, apiErr.StatusCode)
			assert.Equal(t, tc.wireCode, apiErr.Code)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy", "code": "internal"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
	}))

	got, err := c.Status(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, status.Running, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCommandsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy", "code": "internal"})
	}))

	err := c.ApproveAction(context.Background(), "t-1")
	require.ErrorIs(t, err, ErrServer)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found", "code": "task_not_found"})
	}))

	_, err := c.Status(context.Background(), "gone")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Options{BaseURL: url + "/api", Timeout: time.Second})
	_, err := c.Status(context.Background(), "t-1")
	require.ErrorIs(t, err, ErrTransport)
}

func TestMalformedBodyIsServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":`))
	}))

	_, err := c.Status(context.Background(), "t-1")
	require.ErrorIs(t, err, ErrServer)
	assert.NotErrorIs(t, err, ErrTransport)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSnapshotsDecode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks/t-1/action", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"pending_approval": true,
			"action":           map[string]any{"click": map[string]any{"index": 3}},
			"action_name":      "click",
			"step_number":      2,
		})
	})
	mux.HandleFunc("/api/tasks/t-1/planner-thoughts", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"has_thoughts":             true,
			"latest":                   map[string]any{"timestamp": 1700000000000, "formatted_time": "10:00:00", "content": map[string]any{"next_steps": []string{"a"}}},
			"all_thoughts":             []any{},
			"updated_since_last_fetch": true,
		})
	})
	mux.HandleFunc("/api/display", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "ws_url": "ws://h/display/ws"})
	})
	c := newTestClient(t, mux)

	action, err := c.Action(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, action.PendingApproval)
	assert.Equal(t, "click", action.ActionName)
	require.NotNil(t, action.StepNumber)
	assert.Equal(t, 2, *action.StepNumber)

	thoughts, err := c.PlannerThoughts(context.Background(), "t-1")
	require.NoError(t, err)
	require.NotNil(t, thoughts.Latest)
	assert.Equal(t, int64(1700000000000), thoughts.Latest.Timestamp)
	assert.Equal(t, []string{"a"}, thoughts.Latest.Content.NextSteps)

	display, err := c.Display(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DisplayInfo{Enabled: true, WSURL: "ws://h/display/ws"}, display)
}
