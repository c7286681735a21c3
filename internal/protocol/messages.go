// Package protocol defines the JSON frames exchanged with a remote agent
// worker over a websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/browserpilot/internal/tasks"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Coordinator to worker.
	TypeStartTask MessageType = "start_task"
	TypeDecision  MessageType = "decision"
	TypeResume    MessageType = "resume"
	TypeStop      MessageType = "stop"

	// Worker to coordinator.
	TypeStarted  MessageType = "started"
	TypeProposal MessageType = "proposal"
	TypeThought  MessageType = "thought"
	TypeLog      MessageType = "log"
	TypePause    MessageType = "pause"
	TypeDone     MessageType = "done"
	TypeError    MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type StartTask struct {
	Type        MessageType `json:"type"`
	TaskID      string      `json:"task_id"`
	Description string      `json:"description"`
}

type Decision struct {
	Type     MessageType    `json:"type"`
	TaskID   string         `json:"task_id"`
	Decision tasks.Decision `json:"decision"`
}

type Resume struct {
	Type   MessageType `json:"type"`
	TaskID string      `json:"task_id"`
}

type Stop struct {
	Type   MessageType `json:"type"`
	TaskID string      `json:"task_id"`
	Reason string      `json:"reason,omitempty"`
}

type Started struct {
	Type   MessageType `json:"type"`
	TaskID string      `json:"task_id"`
}

type Proposal struct {
	Type     MessageType    `json:"type"`
	TaskID   string         `json:"task_id"`
	Proposal tasks.Proposal `json:"proposal"`
}

type Thought struct {
	Type    MessageType          `json:"type"`
	TaskID  string               `json:"task_id"`
	Content tasks.ThoughtContent `json:"content"`
}

type Log struct {
	Type    MessageType `json:"type"`
	TaskID  string      `json:"task_id"`
	Message string      `json:"message"`
}

type Pause struct {
	Type   MessageType `json:"type"`
	TaskID string      `json:"task_id"`
	Reason string      `json:"reason,omitempty"`
}

type Done struct {
	Type   MessageType `json:"type"`
	TaskID string      `json:"task_id"`
	Result string      `json:"result,omitempty"`
}

type Error struct {
	Type      MessageType `json:"type"`
	TaskID    string      `json:"task_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
	Retryable bool        `json:"retryable"`
}

// ParseWorkerMessage decodes and validates a frame sent by the worker.
func ParseWorkerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStarted:
		var msg Started
		if err := decodeWithTask(raw, &msg, &msg.TaskID); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeProposal:
		var msg Proposal
		if err := decodeWithTask(raw, &msg, &msg.TaskID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Proposal.ActionName) == "" {
			return nil, errors.New("invalid proposal: action_name is required")
		}
		return msg, nil
	case TypeThought:
		var msg Thought
		if err := decodeWithTask(raw, &msg, &msg.TaskID); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeLog:
		var msg Log
		if err := decodeWithTask(raw, &msg, &msg.TaskID); err != nil {
			return nil, err
		}
		return msg, nil
	case TypePause:
		var msg Pause
		if err := decodeWithTask(raw, &msg, &msg.TaskID); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeDone:
		var msg Done
		if err := decodeWithTask(raw, &msg, &msg.TaskID); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg Error
		if err := decodeWithTask(raw, &msg, &msg.TaskID); err != nil {
			return nil, err
		}
		if msg.Code == "" {
			msg.Code = "worker_error"
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func decodeWithTask(raw []byte, out any, taskID *string) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	if strings.TrimSpace(*taskID) == "" {
		return errors.New("task_id is required")
	}
	return nil
}
