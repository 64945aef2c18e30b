package models

import "time"

// ChatEvent is one inbound chat message as delivered by the chat adapter
type ChatEvent struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"group_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	IsAdmin    bool      `json:"is_admin"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReplyKind tells the chat adapter how a reply relates to the request
type ReplyKind string

const (
	ReplyProgress ReplyKind = "progress"
	ReplyPrompt   ReplyKind = "prompt"
	ReplyResult   ReplyKind = "result"
)

// ChatReply is a message the bot wants delivered back to a chat
type ChatReply struct {
	EventID   string    `json:"event_id"`
	RequestID string    `json:"request_id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	SenderID  string    `json:"sender_id"`
	Kind      ReplyKind `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
