// Package models holds the persisted data shapes shared between the agent
// engine and its storage backends.
package models

import "time"

// Role indicates the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is a persistent conversation thread with ordered messages.
//
// ProviderName and Model are read once per turn by the engine; they may
// change between turns but are treated as fixed for the duration of one.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ProviderName string    `json:"provider_name,omitempty"`
	Model        string    `json:"model,omitempty"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is an append-only entry in a session's history. Sequence is
// monotone per session, starting at 1, with no gaps.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Sequence   int64     `json:"sequence"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	TokenCount uint32    `json:"token_count,omitempty"`
	Cost       *float64  `json:"cost,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PlanItem is one entry of a session's optional task plan. The plan itself
// is an opaque document to the engine; tools may read and append to it.
type PlanItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}
