package models

import (
	"encoding/json"
	"fmt"
)

// EventKind names a websocket frame type. The set is closed: both ends of the
// channel marshal against these constants, never raw strings.
type EventKind string

// Inbound events (server to client).
const (
	EventNewMessage        EventKind = "new-message"
	EventMessageSent       EventKind = "message-sent"
	EventUserTyping        EventKind = "user-typing"
	EventUserStoppedTyping EventKind = "user-stopped-typing"
	EventUserOnline        EventKind = "user-online"
	EventUserOffline       EventKind = "user-offline"
	EventOnlineUsers       EventKind = "online-users"
	EventGroupCreated      EventKind = "group-created"
	EventAddedToGroup      EventKind = "added-to-group"
	EventRemovedFromGroup  EventKind = "removed-from-group"
	EventGroupDeleted      EventKind = "group-deleted"
	EventMessagesRead      EventKind = "messages-read"
)

// Outbound events (client to server).
const (
	EventJoinRoom       EventKind = "join-room"
	EventMarkRead       EventKind = "mark-read"
	EventSendMessage    EventKind = "send-message"
	EventTyping         EventKind = "typing"
	EventStopTyping     EventKind = "stop-typing"
	EventGetOnlineUsers EventKind = "get-online-users"
)

// Frame is the wire envelope: an event kind plus its JSON payload. Payloads
// are decoded once, at dispatch time, into the typed structs below.
type Frame struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals a typed payload into a Frame.
func NewFrame(kind EventKind, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Frame{Event: kind, Data: data}, nil
}

// Decode unmarshals the frame payload into dst.
func (f Frame) Decode(dst any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}

// NewMessagePayload carries a freshly delivered message.
type NewMessagePayload struct {
	Message Message `json:"message"`
}

// MessageSentPayload acknowledges an optimistic send: the temp id the client
// attached and the authoritative message that replaces it.
type MessageSentPayload struct {
	TempID  string  `json:"temp_id"`
	Message Message `json:"message"`
}

// TypingPayload identifies who is typing where.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// PresencePayload carries a single online/offline transition.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// OnlineUsersPayload is the full presence snapshot sent on (re)connect.
type OnlineUsersPayload struct {
	Users []UserRef `json:"users"`
}

// RoomPayload carries a full room, used by group-created and added-to-group.
type RoomPayload struct {
	Room Room `json:"room"`
}

// RoomIDPayload references a room by id, used by removal/deletion events and
// by join-room / mark-read emissions.
type RoomIDPayload struct {
	RoomID string `json:"room_id"`
}

// MessagesReadPayload reports that a participant has read a room.
type MessagesReadPayload struct {
	RoomID   string `json:"room_id"`
	ReaderID string `json:"reader_id"`
}

// SendMessagePayload is the outbound optimistic send carrying the temp id
// used for later reconciliation.
type SendMessagePayload struct {
	RoomID  string      `json:"room_id"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	TempID  string      `json:"temp_id"`
}
