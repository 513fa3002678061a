package client

import (
	"context"
	"errors"
	"strings"

	"chat-sync/internal/models"
)

var (
	// ErrGroupNameRequired rejects group creation with a blank name.
	ErrGroupNameRequired = errors.New("group name is required")
	// ErrMembersRequired rejects membership mutations with no members.
	ErrMembersRequired = errors.New("at least one member is required")
	// ErrNotPermitted is the client-side capability gate. The server remains
	// the authority; this only prevents doomed requests from the UI.
	ErrNotPermitted = errors.New("not permitted")
	// ErrRoomUnknown is returned for mutations on rooms missing locally.
	ErrRoomUnknown = errors.New("room not in directory")
)

// CanManageGroup reports whether the user may add or remove group members:
// privileged roles, or membership in the room's admin set.
func CanManageGroup(user models.User, room models.Room) bool {
	if room.Kind != models.RoomGroup {
		return false
	}
	if user.Role == models.RoleAdmin || user.Role == models.RoleHR {
		return true
	}
	return room.IsAdmin(user.ID)
}

// CanDeleteGroup restricts group deletion to the top-level admin role.
func CanDeleteGroup(user models.User) bool {
	return user.Role == models.RoleAdmin
}

// CreateGroup creates a group, inserts it at the front of the directory, and
// opens it.
func (e *Engine) CreateGroup(ctx context.Context, name string, memberIDs []string, description string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		e.notifier.Notify(NotifyError, "group name is required")
		return models.Room{}, ErrGroupNameRequired
	}
	if len(memberIDs) == 0 {
		e.notifier.Notify(NotifyError, "select at least one member")
		return models.Room{}, ErrMembersRequired
	}

	room, err := e.api.CreateGroup(ctx, name, memberIDs, description)
	if err != nil {
		e.notifier.Notify(NotifyError, "could not create group")
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

// AddMembers adds users to a group. The server's member set is authoritative
// and replaces the local copy; the directory is refreshed afterwards.
func (e *Engine) AddMembers(ctx context.Context, roomID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		e.notifier.Notify(NotifyError, "select at least one member")
		return ErrMembersRequired
	}

	e.mu.Lock()
	room, ok := e.roomByIDLocked(roomID)
	e.mu.Unlock()
	if !ok {
		return ErrRoomUnknown
	}
	if !CanManageGroup(e.self, room) {
		return ErrNotPermitted
	}

	updated, err := e.api.AddMembers(ctx, roomID, memberIDs)
	if err != nil {
		e.notifier.Notify(NotifyError, "could not add members")
		return err
	}

	e.mu.Lock()
	e.upsertRoomLocked(updated)
	e.mu.Unlock()
	e.changed()
	e.refreshRoomsAsync()
	return nil
}

// RemoveMember removes one user from a group, then re-fetches the room's
// authoritative detail.
func (e *Engine) RemoveMember(ctx context.Context, roomID, memberID string) error {
	e.mu.Lock()
	room, ok := e.roomByIDLocked(roomID)
	e.mu.Unlock()
	if !ok {
		return ErrRoomUnknown
	}
	if !CanManageGroup(e.self, room) {
		return ErrNotPermitted
	}

	if err := e.api.RemoveMember(ctx, roomID, memberID); err != nil {
		e.notifier.Notify(NotifyError, "could not remove member")
		return err
	}

	detail, err := e.api.GroupDetail(ctx, roomID)
	if err != nil {
		// Removal succeeded; the next directory refresh will catch up.
		e.refreshRoomsAsync()
		return nil
	}
	e.mu.Lock()
	e.upsertRoomLocked(detail)
	e.mu.Unlock()
	e.changed()
	return nil
}

// LeaveGroup removes the current user from a group. Leaving is always
// permitted for a participant.
func (e *Engine) LeaveGroup(ctx context.Context, roomID string) error {
	if err := e.api.LeaveGroup(ctx, roomID); err != nil {
		e.notifier.Notify(NotifyError, "could not leave group")
		return err
	}

	e.mu.Lock()
	e.removeRoomLocked(roomID)
	e.mu.Unlock()
	e.changed()
	return nil
}

// DeleteGroup deletes a group for everyone. Restricted to the admin role.
func (e *Engine) DeleteGroup(ctx context.Context, roomID string) error {
	if !CanDeleteGroup(e.self) {
		return ErrNotPermitted
	}

	if err := e.api.DeleteGroup(ctx, roomID); err != nil {
		e.notifier.Notify(NotifyError, "could not delete group")
		return err
	}

	e.mu.Lock()
	e.removeRoomLocked(roomID)
	e.mu.Unlock()
	e.changed()
	return nil
}

// handleGroupJoined applies group-created and added-to-group pushes with the
// same front-insert rule as the synchronous paths.
func (e *Engine) handleGroupJoined(p models.RoomPayload) {
	e.mu.Lock()
	e.upsertRoomLocked(p.Room)
	e.mu.Unlock()
	e.changed()
}

// handleGroupGone applies removed-from-group and group-deleted pushes,
// clearing the open view when it pointed at the vanished room.
func (e *Engine) handleGroupGone(p models.RoomIDPayload) {
	e.mu.Lock()
	e.removeRoomLocked(p.RoomID)
	e.mu.Unlock()
	e.changed()
}
