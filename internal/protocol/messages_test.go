package protocol

import (
	"errors"
	"testing"

	"github.com/ent0n29/browserpilot/internal/tasks"
)

func TestParseWorkerMessageProposal(t *testing.T) {
	raw := []byte(`{"type":"proposal","task_id":"t1","proposal":{"action_name":"navigate","action_details":{"url":"https://example.com"},"next_goal":"Open the site"}}`)
	msg, err := ParseWorkerMessage(raw)
	if err != nil {
		t.Fatalf("ParseWorkerMessage() error = %v", err)
	}
	p, ok := msg.(Proposal)
	if !ok {
		t.Fatalf("message type = %T, want Proposal", msg)
	}
	if p.TaskID != "t1" || p.Proposal.ActionName != "navigate" {
		t.Fatalf("unexpected proposal: %+v", p)
	}
	if p.Proposal.ActionDetails["url"] != "https://example.com" {
		t.Fatalf("action_details = %+v", p.Proposal.ActionDetails)
	}
}

func TestParseWorkerMessageThought(t *testing.T) {
	raw := []byte(`{"type":"thought","task_id":"t1","content":{"state_analysis":"blank page","next_steps":["navigate","read"]}}`)
	msg, err := ParseWorkerMessage(raw)
	if err != nil {
		t.Fatalf("ParseWorkerMessage() error = %v", err)
	}
	th, ok := msg.(Thought)
	if !ok {
		t.Fatalf("message type = %T, want Thought", msg)
	}
	want := tasks.ThoughtContent{StateAnalysis: "blank page", NextSteps: []string{"navigate", "read"}}
	if th.Content.StateAnalysis != want.StateAnalysis || len(th.Content.NextSteps) != 2 {
		t.Fatalf("content = %+v, want %+v", th.Content, want)
	}
}

func TestParseWorkerMessageErrorDefaultsCode(t *testing.T) {
	msg, err := ParseWorkerMessage([]byte(`{"type":"error","task_id":"t1","detail":"chrome crashed"}`))
	if err != nil {
		t.Fatalf("ParseWorkerMessage() error = %v", err)
	}
	if got := msg.(Error).Code; got != "worker_error" {
		t.Fatalf("Code = %q, want worker_error", got)
	}
}

func TestParseWorkerMessageValidation(t *testing.T) {
	cases := map[string]string{
		"missing task":   `{"type":"done","result":"ok"}`,
		"missing action": `{"type":"proposal","task_id":"t1","proposal":{}}`,
		"bad json":       `{"type":`,
	}
	for name, raw := range cases {
		if _, err := ParseWorkerMessage([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseWorkerMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseWorkerMessage([]byte(`{"type":"wat","task_id":"t1"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}
