package models

import "time"

// RoomKind distinguishes one-to-one conversations from groups.
type RoomKind string

const (
	RoomPersonal RoomKind = "personal"
	RoomGroup    RoomKind = "group"
)

// UserRef is the minimal identity carried inside rooms and presence sets.
type UserRef struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// MessagePreview is the denormalized last-message summary shown in the room list.
type MessagePreview struct {
	Content   string      `json:"content"`
	SenderID  string      `json:"sender_id"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// Room is a conversation the user participates in.
//
// Personal rooms carry exactly one Peer and no admin set; group rooms carry a
// non-empty member set and a non-empty admin set.
type Room struct {
	ID          string          `json:"id"`
	Kind        RoomKind        `json:"kind"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Peer        *UserRef        `json:"peer,omitempty"`
	Members     []UserRef       `json:"members,omitempty"`
	AdminIDs    []string        `json:"admin_ids,omitempty"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	Unread      int             `json:"unread"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DisplayName returns the name shown for the room: the group name, or the
// peer's name for personal rooms.
func (r Room) DisplayName() string {
	if r.Kind == RoomPersonal && r.Peer != nil {
		return r.Peer.Name
	}
	return r.Name
}

// IsAdmin reports whether the user belongs to the room's admin set.
func (r Room) IsAdmin(userID string) bool {
	for _, id := range r.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasMember reports whether the user is a participant of the room.
func (r Room) HasMember(userID string) bool {
	if r.Kind == RoomPersonal {
		return r.Peer != nil && r.Peer.ID == userID
	}
	for _, m := range r.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}
