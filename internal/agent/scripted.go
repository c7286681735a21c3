package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/browserpilot/internal/tasks"
)

// ScriptedEngine walks a fixed scenario, asking for approval before each
// action. It stands in for a real planner in demos and tests.
type ScriptedEngine struct {
	scenario  *Scenario
	stepDelay time.Duration
}

func NewScriptedEngine(scenario *Scenario, stepDelay time.Duration) *ScriptedEngine {
	if scenario == nil {
		scenario = DefaultScenario()
	}
	if stepDelay < 0 {
		stepDelay = 0
	}
	return &ScriptedEngine{scenario: scenario, stepDelay: stepDelay}
}

// NewMockEngine proposes a single navigation and finishes once it is decided.
func NewMockEngine() *ScriptedEngine {
	return NewScriptedEngine(&Scenario{
		Steps: []ScenarioStep{{
			Action: ScenarioAction{
				Name:     "navigate",
				Details:  map[string]any{"url": "{url}"},
				NextGoal: "Open {url}",
				URL:      "about:blank",
			},
		}},
		Result: "Opened {url}",
	}, 0)
}

func (e *ScriptedEngine) Run(ctx context.Context, task tasks.Task, sink Sink) (string, error) {
	plan := e.scenario.Render(task.Description)
	sink.Started()

	total := len(plan.Steps)
	for i := 0; i < total; {
		if err := sleepCtx(ctx, e.stepDelay); err != nil {
			return "", err
		}
		step := plan.Steps[i]

		if step.PauseReason != "" {
			if err := sink.Pause(ctx, step.PauseReason); err != nil {
				return "", err
			}
			step.PauseReason = ""
			plan.Steps[i] = step
		}
		if step.Thought != nil {
			sink.Thought(*step.Thought)
		}

		index, count := i, total
		decision, err := sink.Propose(ctx, tasks.Proposal{
			ActionName:               step.Action.Name,
			ActionDetails:            step.Action.Details,
			NextGoal:                 step.Action.NextGoal,
			HumanReadableDescription: step.Action.HumanReadableDescription,
			Index:                    &index,
			Total:                    &count,
			URL:                      step.Action.URL,
			Thought:                  step.Action.Thought,
		})
		if err != nil {
			return "", err
		}

		switch decision {
		case tasks.DecisionApproved:
			sink.Log(fmt.Sprintf("Executed %s.", step.Action.Name))
			i++
		case tasks.DecisionRejected:
			sink.Log(fmt.Sprintf("Skipped %s after operator rejection.", step.Action.Name))
			sink.Thought(tasks.ThoughtContent{
				StateAnalysis:      "The operator rejected " + step.Action.Name + ".",
				ProgressEvaluation: fmt.Sprintf("%d of %d steps handled.", i+1, total),
				Challenges:         "The rejected action will not be retried.",
				NextSteps:          remainingGoals(plan.Steps[i+1:]),
				Reasoning:          "Continue with the rest of the plan.",
			})
			i++
		case tasks.DecisionSuperseded:
			// Propose again on the next iteration.
		default:
			return "", ErrCancelled
		}
	}
	return plan.Result, nil
}

func remainingGoals(steps []ScenarioStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		goal := s.Action.NextGoal
		if goal == "" {
			goal = s.Action.Name
		}
		out = append(out, goal)
	}
	return out
}
