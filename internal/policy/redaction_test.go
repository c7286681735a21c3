package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactDetails(t *testing.T) {
	in := map[string]any{
		"url":      "https://example.com/login",
		"password": "hunter2",
		"nested": map[string]any{
			"contact": "sam@example.com",
		},
		"tags": []any{"call +1 (555) 123-9876", 3},
	}
	out, changed := RedactDetails(in)
	assert.True(t, changed)
	assert.Equal(t, "https://example.com/login", out["url"])
	assert.Equal(t, redactedSecret, out["password"])
	assert.Equal(t, "[REDACTED_EMAIL]", out["nested"].(map[string]any)["contact"])
	assert.Contains(t, out["tags"].([]any)[0], "[REDACTED_PHONE]")
	assert.Equal(t, 3, out["tags"].([]any)[1])

	assert.Equal(t, "hunter2", in["password"], "input must not be mutated")
}

func TestRedactDetailsTypedIntoPasswordField(t *testing.T) {
	out, changed := RedactDetails(map[string]any{
		"selector": "input#password",
		"text":     "hunter2",
	})
	assert.True(t, changed)
	assert.Equal(t, redactedSecret, out["text"])
	assert.Equal(t, "input#password", out["selector"])

	out, changed = RedactDetails(map[string]any{
		"selector": "input#search",
		"text":     "golang",
	})
	assert.False(t, changed)
	assert.Equal(t, "golang", out["text"])
}

func TestRedactDetailsNil(t *testing.T) {
	out, changed := RedactDetails(nil)
	assert.Nil(t, out)
	assert.False(t, changed)
}
