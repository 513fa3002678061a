package client

import (
	"sort"

	"chat-sync/internal/models"
)

// handleOnlineUsers rebuilds the online set from the full snapshot delivered
// after every (re)connect.
func (e *Engine) handleOnlineUsers(p models.OnlineUsersPayload) {
	e.mu.Lock()
	e.online = make(map[string]string, len(p.Users))
	for _, u := range p.Users {
		e.online[u.ID] = u.Name
	}
	e.mu.Unlock()
	e.changed()
}

// handleUserOnline applies one online transition. A duplicate event for an
// already-known user is a no-op.
func (e *Engine) handleUserOnline(p models.PresencePayload) {
	e.mu.Lock()
	_, known := e.online[p.UserID]
	e.online[p.UserID] = p.UserName
	e.mu.Unlock()
	if !known {
		e.changed()
	}
}

func (e *Engine) handleUserOffline(p models.PresencePayload) {
	e.mu.Lock()
	_, known := e.online[p.UserID]
	delete(e.online, p.UserID)
	e.mu.Unlock()
	if known {
		e.changed()
	}
}

// handleUserTyping records a typist for the open room only, never self. The
// entry is held until the peer's stop event or the next room switch; there
// is no client-side expiry.
func (e *Engine) handleUserTyping(p models.TypingPayload) {
	e.mu.Lock()
	relevant := p.RoomID == e.openRoomID && e.openRoomID != "" && p.UserID != e.self.ID
	if relevant {
		e.typingUsers[p.UserID] = p.UserName
	}
	e.mu.Unlock()
	if relevant {
		e.changed()
	}
}

func (e *Engine) handleUserStoppedTyping(p models.TypingPayload) {
	e.mu.Lock()
	_, known := e.typingUsers[p.UserID]
	delete(e.typingUsers, p.UserID)
	e.mu.Unlock()
	if known {
		e.changed()
	}
}

// IsOnline reports whether the user is in the current online set.
func (e *Engine) IsOnline(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.online[userID]
	return ok
}

// OnlineUsers returns the online set sorted by name.
func (e *Engine) OnlineUsers() []models.UserRef {
	e.mu.Lock()
	out := make([]models.UserRef, 0, len(e.online))
	for id, name := range e.online {
		out = append(out, models.UserRef{ID: id, Name: name})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TypingUsers returns the names of users currently typing in the open room.
func (e *Engine) TypingUsers() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.typingUsers))
	for _, name := range e.typingUsers {
		out = append(out, name)
	}
	e.mu.Unlock()

	sort.Strings(out)
	return out
}
