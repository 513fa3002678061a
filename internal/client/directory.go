package client

import (
	"context"
	"strings"
	"time"

	"chat-sync/internal/models"
)

// RefreshRooms replaces the room directory with the server's copy. On
// failure the prior directory is left untouched and the error is surfaced.
func (e *Engine) RefreshRooms(ctx context.Context) error {
	rooms, err := e.api.ListRooms(ctx)
	if err != nil {
		e.notifier.Notify(NotifyError, "could not load conversations")
		return err
	}

	e.mu.Lock()
	e.rooms = rooms
	e.mu.Unlock()
	e.changed()
	return nil
}

// refreshRoomsAsync re-fetches the directory in the background. Previews and
// unread counts come from the server wholesale; a failed refresh only means
// they go stale until the next trigger, so the error is logged by
// RefreshRooms and otherwise dropped.
func (e *Engine) refreshRoomsAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = e.RefreshRooms(ctx)
	}()
}

// Rooms returns a snapshot of the directory.
func (e *Engine) Rooms() []models.Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Room, len(e.rooms))
	copy(out, e.rooms)
	return out
}

// FilterRooms matches rooms whose display name (group name, or the peer's
// name for personal rooms) contains the query, case-insensitively.
func (e *Engine) FilterRooms(query string) []models.Room {
	query = strings.ToLower(strings.TrimSpace(query))
	rooms := e.Rooms()
	if query == "" {
		return rooms
	}
	var out []models.Room
	for _, room := range rooms {
		if strings.Contains(strings.ToLower(room.DisplayName()), query) {
			out = append(out, room)
		}
	}
	return out
}

// StartPersonalRoom creates (or fetches) the one-to-one room with a user,
// places it at the front of the directory, and opens it.
func (e *Engine) StartPersonalRoom(ctx context.Context, userID string) (models.Room, error) {
	room, err := e.api.StartPersonalRoom(ctx, userID)
	if err != nil {
		e.notifier.Notify(NotifyError, "could not start chat")
		return models.Room{}, err
	}

	e.mu.Lock()
	e.upsertRoomLocked(room)
	e.mu.Unlock()
	e.changed()

	if err := e.OpenRoom(ctx, room.ID); err != nil {
		return room, err
	}
	return room, nil
}

// upsertRoomLocked inserts a new room at the front of the directory, or
// updates the stored copy in place when it already exists.
func (e *Engine) upsertRoomLocked(room models.Room) {
	for i := range e.rooms {
		if e.rooms[i].ID == room.ID {
			e.rooms[i] = room
			return
		}
	}
	e.rooms = append([]models.Room{room}, e.rooms...)
}

// removeRoomLocked drops a room from the directory. If it is the open room,
// the open view and its timeline are cleared as well.
func (e *Engine) removeRoomLocked(roomID string) {
	for i := range e.rooms {
		if e.rooms[i].ID == roomID {
			e.rooms = append(e.rooms[:i], e.rooms[i+1:]...)
			break
		}
	}
	if e.openRoomID == roomID {
		e.openRoomID = ""
		e.timeline = nil
		e.typingUsers = make(map[string]string)
	}
}

func (e *Engine) roomByIDLocked(roomID string) (models.Room, bool) {
	for _, room := range e.rooms {
		if room.ID == roomID {
			return room, true
		}
	}
	return models.Room{}, false
}
