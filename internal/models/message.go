package models

import (
	"strings"
	"time"
)

// MessageType tags the content kind of a message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageVoice    MessageType = "voice"
)

// DeliveryStatus tracks a message through the send pipeline.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// TempIDPrefix marks client-generated interim ids for in-flight sends. A
// message with a temp id is never persisted; it is replaced in place by the
// server-confirmed message carrying the permanent id.
const TempIDPrefix = "tmp-"

// Attachment describes an uploaded media file referenced by a message.
type Attachment struct {
	URL  string      `json:"url"`
	Name string      `json:"name"`
	Size int64       `json:"size"`
	Kind MessageType `json:"kind"`
}

// Message is a single chat message.
type Message struct {
	ID         string         `json:"id"`
	RoomID     string         `json:"room_id"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name,omitempty"`
	Content    string         `json:"content"`
	Type       MessageType    `json:"type"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	Status     DeliveryStatus `json:"status"`
	Read       bool           `json:"read"`
	Deleted    bool           `json:"deleted"`
	CreatedAt  time.Time      `json:"created_at"`
}

// IsTemp reports whether the message still carries a client-generated id.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Valid reports whether the message carries content, an attachment, or both
// with a non-text type. A message with neither is rejected before any send.
func (m Message) Valid() bool {
	return strings.TrimSpace(m.Content) != "" || (m.Attachment != nil && m.Attachment.URL != "")
}
