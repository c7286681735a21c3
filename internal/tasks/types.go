package tasks

import (
	"time"

	"github.com/ent0n29/browserpilot/internal/status"
)

type Task struct {
	ID          string        `json:"task_id"`
	Description string        `json:"description"`
	Status      status.Status `json:"status"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
}

// Proposal is what the agent submits when it wants to act.
type Proposal struct {
	ActionName               string         `json:"action_name"`
	ActionDetails            map[string]any `json:"action_details,omitempty"`
	NextGoal                 string         `json:"next_goal,omitempty"`
	HumanReadableDescription string         `json:"human_readable_description,omitempty"`
	Index                    *int           `json:"index,omitempty"`
	Total                    *int           `json:"total,omitempty"`
	URL                      string         `json:"url,omitempty"`
	Thought                  string         `json:"thought,omitempty"`
}

// ActionSnapshot is the latest proposed action for a task.
type ActionSnapshot struct {
	PendingApproval          bool           `json:"pending_approval"`
	Action                   map[string]any `json:"action,omitempty"`
	ActionName               string         `json:"action_name,omitempty"`
	ActionDetails            map[string]any `json:"action_details,omitempty"`
	NextGoal                 string         `json:"next_goal,omitempty"`
	HumanReadableDescription string         `json:"human_readable_description,omitempty"`
	Index                    *int           `json:"index,omitempty"`
	Total                    *int           `json:"total,omitempty"`
	StepNumber               *int           `json:"step_number,omitempty"`
	URL                      string         `json:"url,omitempty"`
	Thought                  string         `json:"thought,omitempty"`
}

// StepSnapshot is the older per-step view of the same decision point.
type StepSnapshot struct {
	PendingApproval bool           `json:"pending_approval"`
	URL             string         `json:"url,omitempty"`
	Action          map[string]any `json:"action,omitempty"`
	Thought         string         `json:"thought,omitempty"`
	StepNumber      *int           `json:"step_number,omitempty"`
}

type ThoughtContent struct {
	StateAnalysis      string   `json:"state_analysis" yaml:"state_analysis"`
	ProgressEvaluation string   `json:"progress_evaluation" yaml:"progress_evaluation"`
	Challenges         string   `json:"challenges" yaml:"challenges"`
	NextSteps          []string `json:"next_steps" yaml:"next_steps"`
	Reasoning          string   `json:"reasoning" yaml:"reasoning"`
}

// PlannerThought is one planner reflection. Timestamp is milliseconds since
// the Unix epoch and strictly increases within a task.
type PlannerThought struct {
	Timestamp     int64          `json:"timestamp"`
	Content       ThoughtContent `json:"content"`
	FormattedTime string         `json:"formatted_time"`
}

type PlannerThoughtsResponse struct {
	HasThoughts           bool             `json:"has_thoughts"`
	Latest                *PlannerThought  `json:"latest,omitempty"`
	AllThoughts           []PlannerThought `json:"all_thoughts"`
	UpdatedSinceLastFetch bool             `json:"updated_since_last_fetch"`
}

// Decision is the operator's answer to a proposal, as seen by the agent.
type Decision string

const (
	DecisionApproved   Decision = "approved"
	DecisionRejected   Decision = "rejected"
	DecisionSuperseded Decision = "superseded"
	DecisionCancelled  Decision = "cancelled"
)

type EventType string

const (
	EventInfo       EventType = "info"
	EventUserAction EventType = "user_action"
	EventError      EventType = "error"
	EventProposal   EventType = "proposal"
	EventThought    EventType = "thought"
)

type Event struct {
	Type    EventType     `json:"type"`
	TaskID  string        `json:"task_id"`
	Status  status.Status `json:"status,omitempty"`
	Message string        `json:"message"`
	At      time.Time     `json:"at"`
}

func (t Task) Clone() Task {
	out := t
	if t.StartedAt != nil {
		v := *t.StartedAt
		out.StartedAt = &v
	}
	if t.EndedAt != nil {
		v := *t.EndedAt
		out.EndedAt = &v
	}
	return out
}

func (t Task) Terminal() bool {
	return t.Status.IsTerminal()
}

func (a ActionSnapshot) Clone() ActionSnapshot {
	out := a
	out.Action = cloneMap(a.Action)
	out.ActionDetails = cloneMap(a.ActionDetails)
	out.Index = cloneInt(a.Index)
	out.Total = cloneInt(a.Total)
	out.StepNumber = cloneInt(a.StepNumber)
	return out
}

// Step derives the step view from an action snapshot.
func (a ActionSnapshot) Step() StepSnapshot {
	return StepSnapshot{
		PendingApproval: a.PendingApproval,
		URL:             a.URL,
		Action:          cloneMap(a.Action),
		Thought:         a.Thought,
		StepNumber:      cloneInt(a.StepNumber),
	}
}

func (p PlannerThought) Clone() PlannerThought {
	out := p
	if p.Content.NextSteps != nil {
		out.Content.NextSteps = append([]string(nil), p.Content.NextSteps...)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
