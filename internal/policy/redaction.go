package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)

	secretKeyFragments = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "cvv"}
)

const redactedSecret = "[REDACTED_SECRET]"

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards first, otherwise the phone pattern swallows them.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactDetails returns a copy of proposed action parameters that is safe to
// show an operator. Values under secret-looking keys are masked entirely and
// string values elsewhere go through RedactPII. Text typed into a field whose
// selector looks like a password input is masked too.
func RedactDetails(details map[string]any) (map[string]any, bool) {
	if details == nil {
		return nil, false
	}
	changed := false
	sensitiveTarget := false
	for k, v := range details {
		if !isTargetKey(k) {
			continue
		}
		if s, ok := v.(string); ok && looksSecretKey(s) {
			sensitiveTarget = true
		}
	}

	out := make(map[string]any, len(details))
	for k, v := range details {
		switch {
		case looksSecretKey(k):
			out[k] = redactedSecret
			changed = true
		case sensitiveTarget && (k == "text" || k == "value"):
			out[k] = redactedSecret
			changed = true
		default:
			next, c := redactValue(v)
			out[k] = next
			changed = changed || c
		}
	}
	return out, changed
}

func redactValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		return RedactPII(val)
	case map[string]any:
		return RedactDetails(val)
	case []any:
		out := make([]any, len(val))
		changed := false
		for i, item := range val {
			next, c := redactValue(item)
			out[i] = next
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}

func looksSecretKey(k string) bool {
	k = strings.ToLower(k)
	for _, frag := range secretKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

func isTargetKey(k string) bool {
	switch strings.ToLower(k) {
	case "selector", "field", "element", "target", "name":
		return true
	default:
		return false
	}
}
