package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/ws"
)

// RoomHandler serves the conversation endpoints: directory listing, direct
// room bootstrap, history, and the HTTP send paths.
type RoomHandler struct {
	roomRepo    repositories.RoomRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	hub         *ws.Hub
	uploadDir   string
}

// NewRoomHandler builds a RoomHandler. Uploaded media lands in uploadDir and
// is served back under /uploads.
func NewRoomHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, hub *ws.Hub, uploadDir string) *RoomHandler {
	return &RoomHandler{
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		hub:         hub,
		uploadDir:   uploadDir,
	}
}

// ListRooms returns every room the caller participates in, ordered by latest
// activity with previews and unread counts.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetString("userID")

	rooms, err := h.roomRepo.ListRoomsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// StartDirect creates or returns the one-to-one room with another user.
func (h *RoomHandler) StartDirect(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if userID == req.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}
	if _, err := h.userRepo.GetByID(c.Request.Context(), req.UserID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}

	room, err := h.roomRepo.CreateOrGetPersonalRoom(c.Request.Context(), userID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// GetRoomMessages returns the room history for a member.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString("userID")

	member, err := h.roomRepo.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	msgs, err := h.messageRepo.ListRoomMessages(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostRoomMessage stores a text message sent over HTTP and fans it out to the
// other members. Clients use this path when their realtime channel is down.
func (h *RoomHandler) PostRoomMessage(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString("userID")

	member, err := h.roomRepo.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), models.Message{
		RoomID:   roomID,
		SenderID: userID,
		Content:  content,
		Type:     models.MessageText,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.broadcastNewMessage(c, msg)
	c.JSON(http.StatusCreated, msg)
}

// UploadMedia accepts a multipart attachment, stores the file, and creates
// the message carrying it.
func (h *RoomHandler) UploadMedia(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString("userID")

	member, err := h.roomRepo.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	kind := models.MessageType(c.PostForm("kind"))
	switch kind {
	case models.MessageImage, models.MessageDocument, models.MessageVoice:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment kind"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	defer file.Close()

	stored := uuid.NewString() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(h.uploadDir, stored))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store file"})
		return
	}
	size, err := io.Copy(dst, file)
	dst.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store file"})
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), models.Message{
		RoomID:   roomID,
		SenderID: userID,
		Type:     kind,
		Attachment: &models.Attachment{
			URL:  "/uploads/" + stored,
			Name: header.Filename,
			Size: size,
			Kind: kind,
		},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.broadcastNewMessage(c, msg)
	c.JSON(http.StatusCreated, msg)
}

func (h *RoomHandler) broadcastNewMessage(c *gin.Context, msg models.Message) {
	frame, err := models.NewFrame(models.EventNewMessage, models.NewMessagePayload{Message: msg})
	if err != nil {
		return
	}
	_ = h.hub.BroadcastRoom(c.Request.Context(), msg.RoomID, frame, msg.SenderID)
}
