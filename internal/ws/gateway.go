package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// Gateway upgrades the single realtime endpoint and serves the frame
// protocol: sends, typing, read receipts, and presence queries all flow
// through one connection per client.
type Gateway struct {
	hub      *Hub
	users    repositories.UserRepository
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, users repositories.UserRepository, rooms repositories.RoomRepository, messages repositories.MessageRepository) *Gateway {
	return &Gateway{hub: hub, users: users, rooms: rooms, messages: messages}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the request, upgrades it, and runs the read loop.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	user, err := g.users.GetByToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	first := g.hub.Register(user, conn, info)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishLifecycle(ctx, info, "ws_connect", 0, "")

	// Every connection gets the presence snapshot; the rest of the fleet
	// hears about the user only on their first connection.
	g.sendSnapshot(user.ID)
	if first {
		if frame, err := models.NewFrame(models.EventUserOnline, models.PresencePayload{
			UserID:   user.ID,
			UserName: user.Name,
		}); err == nil {
			g.hub.BroadcastAll(frame, user.ID)
		}
	}

	go g.readLoop(ctx, conn, user, info)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, user models.User, info ConnInfo) {
	var closeReason string
	defer func() {
		last := g.hub.Unregister(user.ID, conn)
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		g.publishLifecycle(ctx, info, "ws_disconnect", time.Since(info.ConnectedAt).Milliseconds(), closeReason)

		if last {
			if frame, err := models.NewFrame(models.EventUserOffline, models.PresencePayload{
				UserID:   user.ID,
				UserName: user.Name,
			}); err == nil {
				g.hub.BroadcastAll(frame, user.ID)
			}
		}
	}()

	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				g.publishLifecycle(ctx, info, "ws_error", time.Since(info.ConnectedAt).Milliseconds(), closeReason)
			}
			return
		}
		observability.IncWSEvent(string(frame.Event))
		g.dispatch(ctx, user, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, user models.User, frame models.Frame) {
	switch frame.Event {
	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := frame.Decode(&p); err != nil {
			log.Printf("ws dispatch: %v", err)
			return
		}
		g.handleSend(ctx, user, p)
	case models.EventMarkRead:
		var p models.RoomIDPayload
		if err := frame.Decode(&p); err != nil {
			log.Printf("ws dispatch: %v", err)
			return
		}
		g.handleMarkRead(ctx, user, p.RoomID)
	case models.EventTyping:
		var p models.TypingPayload
		if err := frame.Decode(&p); err != nil {
			log.Printf("ws dispatch: %v", err)
			return
		}
		g.relayTyping(ctx, user, p.RoomID, models.EventUserTyping)
	case models.EventStopTyping:
		var p models.TypingPayload
		if err := frame.Decode(&p); err != nil {
			log.Printf("ws dispatch: %v", err)
			return
		}
		g.relayTyping(ctx, user, p.RoomID, models.EventUserStoppedTyping)
	case models.EventGetOnlineUsers:
		g.sendSnapshot(user.ID)
	case models.EventJoinRoom:
		// Delivery is member-routed, so joining needs no server state. The
		// client pairs it with mark-read when opening a room.
	default:
		log.Printf("ws dispatch: unknown event %q from user=%s", frame.Event, user.ID)
	}
}

func (g *Gateway) handleSend(ctx context.Context, user models.User, p models.SendMessagePayload) {
	content := strings.TrimSpace(p.Content)
	if content == "" || p.RoomID == "" {
		return
	}

	member, err := g.rooms.IsMember(ctx, p.RoomID, user.ID)
	if err != nil || !member {
		log.Printf("ws send rejected room=%s user=%s: member=%v err=%v", p.RoomID, user.ID, member, err)
		return
	}

	msgType := p.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	msg, err := g.messages.CreateMessage(ctx, models.Message{
		RoomID:   p.RoomID,
		SenderID: user.ID,
		Content:  content,
		Type:     msgType,
	})
	if err != nil {
		log.Printf("ws send store failed room=%s: %v", p.RoomID, err)
		return
	}

	if ack, err := models.NewFrame(models.EventMessageSent, models.MessageSentPayload{
		TempID:  p.TempID,
		Message: msg,
	}); err == nil {
		g.hub.SendToUser(user.ID, ack)
	}
	if frame, err := models.NewFrame(models.EventNewMessage, models.NewMessagePayload{Message: msg}); err == nil {
		if err := g.hub.BroadcastRoom(ctx, p.RoomID, frame, user.ID); err != nil {
			log.Printf("ws broadcast failed room=%s: %v", p.RoomID, err)
		}
	}
}

func (g *Gateway) handleMarkRead(ctx context.Context, user models.User, roomID string) {
	if roomID == "" {
		return
	}
	flipped, err := g.messages.MarkRoomRead(ctx, roomID, user.ID)
	if err != nil {
		log.Printf("ws mark-read failed room=%s: %v", roomID, err)
		return
	}
	if flipped == 0 {
		return
	}
	if frame, err := models.NewFrame(models.EventMessagesRead, models.MessagesReadPayload{
		RoomID:   roomID,
		ReaderID: user.ID,
	}); err == nil {
		_ = g.hub.BroadcastRoom(ctx, roomID, frame, user.ID)
	}
}

func (g *Gateway) relayTyping(ctx context.Context, user models.User, roomID string, kind models.EventKind) {
	if roomID == "" {
		return
	}
	frame, err := models.NewFrame(kind, models.TypingPayload{
		RoomID:   roomID,
		UserID:   user.ID,
		UserName: user.Name,
	})
	if err != nil {
		return
	}
	_ = g.hub.BroadcastRoom(ctx, roomID, frame, user.ID)
}

func (g *Gateway) sendSnapshot(userID string) {
	frame, err := models.NewFrame(models.EventOnlineUsers, models.OnlineUsersPayload{
		Users: g.hub.OnlineUsers(),
	})
	if err != nil {
		return
	}
	g.hub.SendToUser(userID, frame)
}

func (g *Gateway) publishLifecycle(ctx context.Context, info ConnInfo, event string, durationMS int64, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
