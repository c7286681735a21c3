package agent

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/browserpilot/internal/tasks"
)

// Scenario is a canned plan for the scripted engine. String fields may use
// the {goal} and {url} placeholders, filled from the task description.
type Scenario struct {
	Steps  []ScenarioStep `yaml:"steps"`
	Result string         `yaml:"result"`
}

type ScenarioStep struct {
	Thought *tasks.ThoughtContent `yaml:"thought"`
	Action  ScenarioAction        `yaml:"action"`
	// PauseReason makes the agent stop and ask for help before this step.
	PauseReason string `yaml:"pause_reason"`
}

type ScenarioAction struct {
	Name                     string         `yaml:"name"`
	Details                  map[string]any `yaml:"details"`
	NextGoal                 string         `yaml:"next_goal"`
	HumanReadableDescription string         `yaml:"description"`
	URL                      string         `yaml:"url"`
	Thought                  string         `yaml:"thought"`
}

var urlPattern = regexp.MustCompile(`(?i)\b((?:https?://)?(?:[a-z0-9-]+\.)+[a-z]{2,}(?:/[^\s]*)?)`)

func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(raw)
}

func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("scenario has no steps")
	}
	for i, step := range s.Steps {
		if strings.TrimSpace(step.Action.Name) == "" {
			return nil, fmt.Errorf("scenario step %d: action name is required", i+1)
		}
	}
	return &s, nil
}

// ExtractURL finds the first URL-like token in a goal and normalizes it to https.
func ExtractURL(goal string) string {
	m := urlPattern.FindString(goal)
	if m == "" {
		return ""
	}
	m = strings.TrimRight(m, ".,;:!?)")
	lower := strings.ToLower(m)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		m = "https://" + m
	}
	return m
}

// DefaultScenario derives a short plan from the goal: open the site it
// mentions, read the page, then report back.
func DefaultScenario() *Scenario {
	return &Scenario{
		Steps: []ScenarioStep{
			{
				Thought: &tasks.ThoughtContent{
					StateAnalysis:      "The browser is on a blank tab.",
					ProgressEvaluation: "No progress yet.",
					Challenges:         "None identified.",
					NextSteps:          []string{"Open {url}", "Read the page", "Summarize findings for: {goal}"},
					Reasoning:          "The goal mentions {url}, so loading it is the first step.",
				},
				Action: ScenarioAction{
					Name:     "navigate",
					Details:  map[string]any{"url": "{url}"},
					NextGoal: "Open {url}",
					URL:      "about:blank",
					Thought:  "Navigate to the site named in the goal.",
				},
			},
			{
				Thought: &tasks.ThoughtContent{
					StateAnalysis:      "{url} has loaded.",
					ProgressEvaluation: "The target page is open.",
					Challenges:         "Content may need scrolling.",
					NextSteps:          []string{"Read the page", "Summarize findings for: {goal}"},
					Reasoning:          "Extracting the visible text answers most lookup goals.",
				},
				Action: ScenarioAction{
					Name:     "extract_content",
					Details:  map[string]any{"goal": "{goal}"},
					NextGoal: "Read the page content",
					URL:      "{url}",
					Thought:  "Pull the main text of the page.",
				},
			},
			{
				Action: ScenarioAction{
					Name:     "done",
					Details:  map[string]any{"text": "Finished: {goal}"},
					NextGoal: "Report the result",
					URL:      "{url}",
				},
			},
		},
		Result: "Finished: {goal}",
	}
}

// Render substitutes placeholders for one task.
func (s *Scenario) Render(goal string) *Scenario {
	url := ExtractURL(goal)
	if url == "" {
		url = "https://www.google.com/search?q=" + strings.Join(strings.Fields(goal), "+")
	}
	r := strings.NewReplacer("{goal}", goal, "{url}", url)

	out := &Scenario{Result: r.Replace(s.Result)}
	for _, step := range s.Steps {
		next := ScenarioStep{
			PauseReason: r.Replace(step.PauseReason),
			Action: ScenarioAction{
				Name:                     step.Action.Name,
				Details:                  renderMap(r, step.Action.Details),
				NextGoal:                 r.Replace(step.Action.NextGoal),
				HumanReadableDescription: r.Replace(step.Action.HumanReadableDescription),
				URL:                      r.Replace(step.Action.URL),
				Thought:                  r.Replace(step.Action.Thought),
			},
		}
		if step.Thought != nil {
			th := tasks.ThoughtContent{
				StateAnalysis:      r.Replace(step.Thought.StateAnalysis),
				ProgressEvaluation: r.Replace(step.Thought.ProgressEvaluation),
				Challenges:         r.Replace(step.Thought.Challenges),
				Reasoning:          r.Replace(step.Thought.Reasoning),
			}
			for _, ns := range step.Thought.NextSteps {
				th.NextSteps = append(th.NextSteps, r.Replace(ns))
			}
			next.Thought = &th
		}
		out.Steps = append(out.Steps, next)
	}
	return out
}

func renderMap(r *strings.Replacer, in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = r.Replace(val)
		case map[string]any:
			out[k] = renderMap(r, val)
		default:
			out[k] = v
		}
	}
	return out
}
