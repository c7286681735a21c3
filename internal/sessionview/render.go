package sessionview

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ent0n29/browserpilot/internal/status"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

// Mode is the action bar variant. Exactly one is shown at a time.
type Mode string

const (
	ModeEntryForm       Mode = "entry_form"
	ModeApprovalPrompt  Mode = "approval_prompt"
	ModeProcessing      Mode = "processing"
	ModePausedResume    Mode = "paused_resume"
	ModeTerminalNewTask Mode = "terminal_new_task"
)

// RenderMode maps a task status and the pending flag to the action bar.
// An empty status means there is no task.
func RenderMode(st status.Status, pending bool) Mode {
	switch {
	case st == "":
		return ModeEntryForm
	case st.IsTerminal():
		return ModeTerminalNewTask
	case st.IsPaused():
		return ModePausedResume
	case st == status.Running && pending:
		return ModeApprovalPrompt
	default:
		return ModeProcessing
	}
}

var textPolicy = bluemonday.StrictPolicy()

// sanitize strips markup from agent-supplied text and returns plain text.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// FormatAction describes the proposed action, preferring the agent's own
// summary, then name and details, then the raw action payload.
func FormatAction(snap tasks.ActionSnapshot) string {
	if d := sanitize(snap.HumanReadableDescription); d != "" {
		return d
	}
	if name := strings.TrimSpace(snap.ActionName); name != "" {
		if len(snap.ActionDetails) == 0 {
			return sanitize(name)
		}
		return sanitize(name + " " + formatDetails(snap.ActionDetails))
	}
	if len(snap.Action) > 0 {
		raw, err := json.Marshal(snap.Action)
		if err == nil {
			return sanitize(string(raw))
		}
	}
	return ""
}

func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := details[k].(type) {
		case string:
			v = val
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				v = fmt.Sprint(val)
			} else {
				v = string(raw)
			}
		}
		parts = append(parts, k+"="+v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Progress renders the step counters that are present.
func Progress(snap tasks.ActionSnapshot) string {
	switch {
	case snap.Index != nil && snap.Total != nil && *snap.Total > 0:
		return fmt.Sprintf("Step %d of %d", *snap.Index+1, *snap.Total)
	case snap.StepNumber != nil:
		return fmt.Sprintf("Step %d", *snap.StepNumber)
	default:
		return ""
	}
}

// View is everything a console needs to draw one frame.
type View struct {
	Mode        Mode
	Phase       Phase
	TaskID      string
	Description string
	Status      status.Status
	Badge       string

	ActionText string
	NextGoal   string
	Progress   string
	URL        string
	Thinking   string

	ThoughtTime   string
	ThoughtLines  []string
	ThoughtDetail tasks.ThoughtContent
	Revealing     bool

	DisplayVisible bool
	DisplayURL     string

	SubmitError  string
	CommandError string
	PollError    string
	Notice       string
}

// BuildView projects the state. revealed is how many next steps the reveal
// animation has exposed so far; a negative value shows them all.
func BuildView(s State, revealed int) View {
	v := View{
		Mode:           s.Mode(),
		Phase:          s.Phase,
		TaskID:         s.TaskID,
		Description:    s.Description,
		Status:         s.Status,
		DisplayVisible: s.DisplayVisible,
		DisplayURL:     s.DisplayURL,
		SubmitError:    s.SubmitError,
		CommandError:   s.CommandError,
		PollError:      s.PollError,
		Notice:         s.Notice,
	}
	if s.Status != "" {
		v.Badge = status.Badge(s.Status)
	}
	if s.Action != nil {
		v.ActionText = FormatAction(*s.Action)
		v.NextGoal = sanitize(s.Action.NextGoal)
		v.Progress = Progress(*s.Action)
		v.URL = s.Action.URL
		if s.Pending() {
			v.Thinking = sanitize(s.Action.Thought)
		}
	}
	if s.Thought != nil && s.Running() {
		content := s.Thought.Content
		v.ThoughtTime = s.Thought.FormattedTime
		v.ThoughtDetail = tasks.ThoughtContent{
			StateAnalysis:      sanitize(content.StateAnalysis),
			ProgressEvaluation: sanitize(content.ProgressEvaluation),
			Challenges:         sanitize(content.Challenges),
			Reasoning:          sanitize(content.Reasoning),
		}
		lines := make([]string, 0, len(content.NextSteps))
		for _, step := range content.NextSteps {
			lines = append(lines, sanitize(step))
		}
		v.ThoughtDetail.NextSteps = lines
		if revealed >= 0 && revealed < len(lines) {
			v.ThoughtLines = lines[:revealed]
			v.Revealing = true
		} else {
			v.ThoughtLines = lines
		}
	}
	return v
}
