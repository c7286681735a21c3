package policy

import (
	"regexp"
	"strings"
)

// GoalDecision is the verdict on an operator-submitted goal.
type GoalDecision struct {
	Blocked bool
	Reason  string
}

var blockedGoalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
	regexp.MustCompile(`(?i)\b(harvest|scrape)\b.*\b(passwords?|credentials|credit cards?)\b`),
	regexp.MustCompile(`(?i)\b(print|show|reveal|copy)\b.*\b(saved passwords?|cookies|session tokens?)\b`),
}

// DecideGoal screens a task description before an agent is started for it.
func DecideGoal(goal string) GoalDecision {
	in := strings.TrimSpace(goal)
	if in == "" {
		return GoalDecision{}
	}
	for _, re := range blockedGoalPatterns {
		if re.MatchString(in) {
			return GoalDecision{
				Blocked: true,
				Reason:  "Goal appears to target credentials or other secrets in the browser profile.",
			}
		}
	}
	return GoalDecision{}
}
