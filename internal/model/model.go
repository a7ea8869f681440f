package model

import "time"

// ---------------------------------------------
// Persisted messages (owned by the message service)
// ---------------------------------------------

const (
	StatusSent     = "Sent"
	StatusModified = "Modified"
	StatusDeleted  = "Deleted"
)

type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId,omitempty"`
	Text        string       `json:"text"`
	UserID      string       `json:"userId,omitempty"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty"`
	Status      string       `json:"status,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// LocalID echoes the client's optimistic correlation token.
	LocalID string `json:"localId,omitempty"`
}

// ---------------------------------------------
// Event-log envelopes (produced by the message service)
// ---------------------------------------------

type NewMessageEvent struct {
	ChatID  string   `json:"chatId"`
	LocalID string   `json:"localId,omitempty"`
	Message *Message `json:"message"`
}

type EditedMessageEvent struct {
	SenderID string   `json:"senderId"`
	Message  *Message `json:"message"`
}

type DeletedMessageEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// ---------------------------------------------
// Outbound push payloads
// ---------------------------------------------

type MessagePush struct {
	SenderID string   `json:"senderId"`
	Message  *Message `json:"message"`
}

type TypingPush struct {
	ChatID   string `json:"chatId"`
	Username string `json:"username,omitempty"`
	UserID   string `json:"userId"`
}

type ErrorPush struct {
	Message string `json:"message"`
	LocalID string `json:"localId,omitempty"`
}

type AuthRefreshedPush struct {
	OK bool `json:"ok"`
}
