package session

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is one operator console, identified by the X-Session-ID the
// client sends with every request.
type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	LastTaskID     string    `json:"last_task_id,omitempty"`
	RequestCount   int       `json:"request_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func clone(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
