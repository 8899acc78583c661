package model

import (
	"time"
)

// SessionState is the lifecycle state of a conversation session.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateBootstrapping SessionState = "bootstrapping"
	StateActive        SessionState = "active"
	StateResetting     SessionState = "resetting"
	StateTerminated    SessionState = "terminated"
)

// SessionView is a read-only snapshot of a conversation session.
type SessionView struct {
	Owner          string       `json:"owner,omitempty"`
	State          SessionState `json:"state"`
	UserKey        string       `json:"user_key,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Messages       []Message    `json:"messages"`
	InputText      string       `json:"input_text"`
	Status         string       `json:"status"`
	Version        uint64       `json:"version"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
