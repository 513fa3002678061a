package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

// GroupHandler manages group rooms: creation, membership changes, and
// deletion. Membership changes are pushed to the affected users over their
// realtime channel.
type GroupHandler struct {
	roomRepo repositories.RoomRepository
	userRepo repositories.UserRepository
	hub      *ws.Hub
	audit    *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(roomRepo repositories.RoomRepository, userRepo repositories.UserRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		roomRepo: roomRepo,
		userRepo: userRepo,
		hub:      hub,
		audit:    audit,
	}
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	user := userFromContext(c)

	var req struct {
		Name        string   `json:"name" binding:"required"`
		MemberIDs   []string `json:"member_ids" binding:"required,min=1"`
		Description string   `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group name is required"})
		return
	}

	for _, id := range req.MemberIDs {
		if _, err := h.userRepo.GetByID(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown member"})
			return
		}
	}

	room, err := h.roomRepo.CreateGroup(c.Request.Context(), user.ID, name, req.Description, req.MemberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.pushRoomTo(c, room.ID, models.EventGroupCreated, req.MemberIDs, user.ID)
	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// GroupDetail returns the authoritative state of one group.
func (h *GroupHandler) GroupDetail(c *gin.Context) {
	roomID := c.Param("group_id")
	userID := c.GetString("userID")

	member, err := h.roomRepo.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "group not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// AddMembers adds users to a group. Requires management capability.
func (h *GroupHandler) AddMembers(c *gin.Context) {
	roomID := c.Param("group_id")
	user := userFromContext(c)

	allowed, err := h.canManage(c, user, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission check failed"})
		return
	}
	if !allowed {
		h.emitAudit(c, "ERROR", "not allowed to manage group")
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}

	var req struct {
		MemberIDs []string `json:"member_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, id := range req.MemberIDs {
		if _, err := h.userRepo.GetByID(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown member"})
			return
		}
	}

	if err := h.roomRepo.AddMembers(c.Request.Context(), roomID, req.MemberIDs); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add members"})
		return
	}

	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load group"})
		return
	}

	h.pushRoomTo(c, roomID, models.EventAddedToGroup, req.MemberIDs, user.ID)
	h.emitAudit(c, "INFO", "Group members added")
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// RemoveMember removes one user from a group. Requires management capability.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	roomID := c.Param("group_id")
	memberID := c.Param("user_id")
	user := userFromContext(c)

	allowed, err := h.canManage(c, user, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission check failed"})
		return
	}
	if !allowed {
		h.emitAudit(c, "ERROR", "not allowed to manage group")
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}

	if err := h.roomRepo.RemoveMember(c.Request.Context(), roomID, memberID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrNotMember) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not remove member"})
		return
	}

	if frame, err := models.NewFrame(models.EventRemovedFromGroup, models.RoomIDPayload{RoomID: roomID}); err == nil {
		h.hub.SendToUser(memberID, frame)
	}
	h.emitAudit(c, "INFO", "Group member removed")
	c.Status(http.StatusNoContent)
}

// LeaveGroup removes the caller from a group. Always allowed for members.
func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	roomID := c.Param("group_id")
	userID := c.GetString("userID")

	if err := h.roomRepo.RemoveMember(c.Request.Context(), roomID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrNotMember) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not leave group"})
		return
	}

	h.emitAudit(c, "INFO", "Group left")
	c.Status(http.StatusNoContent)
}

// DeleteGroup deletes a group entirely. Admin role only.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	roomID := c.Param("group_id")
	user := userFromContext(c)

	if user.Role != models.RoleAdmin {
		h.emitAudit(c, "ERROR", "not allowed to delete group")
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}

	memberIDs, err := h.roomRepo.MemberIDs(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load members"})
		return
	}

	if err := h.roomRepo.DeleteRoom(c.Request.Context(), roomID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete group"})
		return
	}

	if frame, err := models.NewFrame(models.EventGroupDeleted, models.RoomIDPayload{RoomID: roomID}); err == nil {
		for _, id := range memberIDs {
			if id == user.ID {
				continue
			}
			h.hub.SendToUser(id, frame)
		}
	}
	h.emitAudit(c, "INFO", "Group deleted")
	c.Status(http.StatusNoContent)
}

// canManage reports whether the user may change group membership: a
// company-wide admin or HR role, or an admin of this specific room.
func (h *GroupHandler) canManage(c *gin.Context, user models.User, roomID string) (bool, error) {
	if user.Role == models.RoleAdmin || user.Role == models.RoleHR {
		return true, nil
	}
	return h.roomRepo.IsRoomAdmin(c.Request.Context(), roomID, user.ID)
}

// pushRoomTo sends the room, hydrated per recipient, to each target user.
func (h *GroupHandler) pushRoomTo(c *gin.Context, roomID string, kind models.EventKind, userIDs []string, exceptID string) {
	for _, id := range userIDs {
		if id == exceptID {
			continue
		}
		room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID, id)
		if err != nil {
			continue
		}
		frame, err := models.NewFrame(kind, models.RoomPayload{Room: room})
		if err != nil {
			continue
		}
		h.hub.SendToUser(id, frame)
	}
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func userFromContext(c *gin.Context) models.User {
	if val, ok := c.Get("user"); ok {
		if user, ok := val.(models.User); ok {
			return user
		}
	}
	return models.User{}
}
