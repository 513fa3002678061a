package ws

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// Hub tracks connected users and routes frames to them. A user may hold
// several connections (multiple tabs or devices); presence transitions fire
// only on the first and last of them.
type Hub struct {
	rooms repositories.RoomRepository

	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]ConnInfo
	users map[string]models.UserRef
}

// NewHub creates an empty hub routing rooms through the given repository.
func NewHub(rooms repositories.RoomRepository) *Hub {
	return &Hub{
		rooms: rooms,
		conns: make(map[string]map[*websocket.Conn]ConnInfo),
		users: make(map[string]models.UserRef),
	}
}

// Register adds a connection for the user and reports whether it is the
// user's first, meaning the user just came online.
func (h *Hub) Register(user models.User, conn *websocket.Conn, info ConnInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	first := len(h.conns[user.ID]) == 0
	if _, ok := h.conns[user.ID]; !ok {
		h.conns[user.ID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.conns[user.ID][conn] = info
	h.users[user.ID] = user.Ref()
	return first
}

// Unregister drops a connection and reports whether it was the user's last,
// meaning the user went offline.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(userID, conn)
}

func (h *Hub) removeLocked(userID string, conn *websocket.Conn) bool {
	conns, ok := h.conns[userID]
	if !ok {
		return false
	}
	if _, ok := conns[conn]; !ok {
		return false
	}
	delete(conns, conn)
	if len(conns) > 0 {
		return false
	}
	delete(h.conns, userID)
	delete(h.users, userID)
	return true
}

// OnlineUsers returns the current presence snapshot, ordered by name.
func (h *Hub) OnlineUsers() []models.UserRef {
	h.mu.Lock()
	defer h.mu.Unlock()

	users := make([]models.UserRef, 0, len(h.users))
	for _, ref := range h.users {
		users = append(users, ref)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users
}

// IsOnline reports whether the user has at least one open connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID]) > 0
}

// SendToUser delivers a frame to every connection the user holds.
func (h *Hub) SendToUser(userID string, frame models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendUserLocked(userID, frame)
}

// NotifyUsers delivers a frame to each listed user that is connected.
func (h *Hub) NotifyUsers(userIDs []string, frame models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range userIDs {
		h.sendUserLocked(id, frame)
	}
}

// BroadcastAll delivers a frame to every connected user except the one named.
func (h *Hub) BroadcastAll(frame models.Frame, exceptUserID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.conns {
		if id == exceptUserID {
			continue
		}
		h.sendUserLocked(id, frame)
	}
}

// BroadcastRoom delivers a frame to every connected member of the room,
// excluding the named user. Membership is resolved at send time.
func (h *Hub) BroadcastRoom(ctx context.Context, roomID string, frame models.Frame, exceptUserID string) error {
	memberIDs, err := h.rooms.MemberIDs(ctx, roomID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range memberIDs {
		if id == exceptUserID {
			continue
		}
		h.sendUserLocked(id, frame)
	}
	return nil
}

func (h *Hub) sendUserLocked(userID string, frame models.Frame) {
	var dead []*websocket.Conn
	for conn := range h.conns[userID] {
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("websocket write error user=%s: %v", userID, err)
			h.publishWSErrorLocked(userID, conn, err)
			conn.Close()
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		h.removeLocked(userID, conn)
	}
}

func (h *Hub) publishWSErrorLocked(userID string, conn *websocket.Conn, err error) {
	info, ok := h.conns[userID][conn]
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
