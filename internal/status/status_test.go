package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"completed", CategorySuccess},
		{"failed", CategoryFailure},
		{"error", CategoryFailure},
		{"created", CategoryActive},
		{"running", CategoryActive},
		{"paused", CategoryNeutral},
		{"stopped", CategoryNeutral},
		{"RUNNING", CategoryActive},
		{"  Completed ", CategorySuccess},
		{"", CategoryNeutral},
		{"queued", CategoryNeutral},
		{"cancelled", CategoryNeutral},
		{"\x00weird", CategoryNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.NotPanics(t, func() { Classify(Status(tt.in)) })
			assert.Equal(t, tt.want, Classify(Status(tt.in)))
		})
	}
}

func TestParseKeepsUnknownVerbatim(t *testing.T) {
	assert.Equal(t, Running, Parse(" Running"))
	assert.True(t, Parse("PAUSED").Known())

	unknown := Parse(" Waiting-For-Human ")
	assert.Equal(t, Status("Waiting-For-Human"), unknown)
	assert.False(t, unknown.Known())
	assert.False(t, unknown.IsTerminal())
}

func TestTerminalSet(t *testing.T) {
	for _, s := range []Status{Completed, Failed, Error, Stopped} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []Status{Created, Running, Paused, Status("unknown")} {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.True(t, Paused.IsPaused())
}

func TestBadge(t *testing.T) {
	assert.Equal(t, "status-success", Badge(Completed))
	assert.Equal(t, "status-neutral", Badge(Status("mystery")))
}
