package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

// harness runs an in-process server speaking both the REST contract and the
// frame protocol, so engine behavior is exercised end to end.
type harness struct {
	t      *testing.T
	server *httptest.Server
	engine *Engine

	frames chan models.Frame

	mu         sync.Mutex
	conn       *websocket.Conn
	rooms      []models.Room
	group      models.Room
	messages   map[string][]models.Message
	roomsCalls int
	nextID     string
}

var testSelf = models.User{ID: "u-self", Name: "Avery", Role: models.RoleEmployee}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{
		t:        t,
		frames:   make(chan models.Frame, 32),
		messages: map[string][]models.Message{},
		nextID:   "m-100",
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()
		for {
			var frame models.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			h.frames <- frame
		}
	})
	mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.roomsCalls++
		rooms := h.rooms
		h.mu.Unlock()
		writeJSON(w, map[string]any{"rooms": rooms})
	})
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/rooms/"), "/")
		roomID := parts[0]
		switch {
		case r.Method == http.MethodGet:
			h.mu.Lock()
			msgs := h.messages[roomID]
			h.mu.Unlock()
			writeJSON(w, map[string]any{"messages": msgs})
		case r.Method == http.MethodPost && len(parts) > 1 && parts[1] == "media":
			require.NoError(h.t, r.ParseMultipartForm(1<<20))
			file, header, err := r.FormFile("file")
			require.NoError(h.t, err)
			file.Close()
			kind := models.MessageType(r.FormValue("kind"))
			msg := models.Message{
				ID:       h.takeID(),
				RoomID:   roomID,
				SenderID: testSelf.ID,
				Type:     kind,
				Status:   models.StatusSent,
				Attachment: &models.Attachment{
					URL:  "/uploads/" + header.Filename,
					Name: header.Filename,
					Size: header.Size,
					Kind: kind,
				},
			}
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, msg)
		case r.Method == http.MethodPost:
			var req struct {
				Content string `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			msg := models.Message{
				ID:       h.takeID(),
				RoomID:   roomID,
				SenderID: testSelf.ID,
				Content:  req.Content,
				Type:     models.MessageText,
				Status:   models.StatusSent,
			}
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, msg)
		}
	})

	mux.HandleFunc("/api/groups", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		room := h.group
		h.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"room": room})
	})
	mux.HandleFunc("/api/groups/", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		room := h.group
		h.mu.Unlock()
		rest := strings.TrimPrefix(r.URL.Path, "/api/groups/")
		switch {
		case r.Method == http.MethodGet,
			r.Method == http.MethodPost && strings.HasSuffix(rest, "/members"):
			writeJSON(w, map[string]any{"room": room})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)

	cfg.BaseURL = h.server.URL + "/api"
	cfg.Token = "tok-self"
	cfg.Self = testSelf
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	h.engine = New(cfg)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *harness) takeID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID = id + "x"
	return id
}

func (h *harness) setRooms(rooms []models.Room) {
	h.mu.Lock()
	h.rooms = rooms
	h.mu.Unlock()
}

func (h *harness) setGroup(room models.Room) {
	h.mu.Lock()
	h.group = room
	h.mu.Unlock()
}

func (h *harness) setMessages(roomID string, msgs []models.Message) {
	h.mu.Lock()
	h.messages[roomID] = msgs
	h.mu.Unlock()
}

func (h *harness) roomListCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomsCalls
}

func (h *harness) connect() {
	require.NoError(h.t, h.engine.Connect(context.Background()))
	// The first thing a fresh channel does is request the presence snapshot.
	frame := h.nextFrame()
	require.Equal(h.t, models.EventGetOnlineUsers, frame.Event)
}

func (h *harness) push(kind models.EventKind, payload any) {
	frame, err := models.NewFrame(kind, payload)
	require.NoError(h.t, err)
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	require.NotNil(h.t, conn, "no websocket connection established")
	require.NoError(h.t, conn.WriteJSON(frame))
}

func (h *harness) nextFrame() models.Frame {
	select {
	case frame := <-h.frames:
		return frame
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for frame")
		return models.Frame{}
	}
}

func (h *harness) decodeFrame(frame models.Frame, dst any) {
	require.NoError(h.t, frame.Decode(dst))
}

func TestSendOptimisticReconciliation(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	h.nextFrame() // join-room
	h.nextFrame() // mark-read

	require.NoError(t, h.engine.Send(context.Background(), "  hello  "))

	timeline := h.engine.Timeline()
	require.Len(t, timeline, 1)
	assert.True(t, timeline[0].IsTemp())
	assert.Equal(t, models.StatusSending, timeline[0].Status)
	assert.Equal(t, "hello", timeline[0].Content)

	frame := h.nextFrame()
	require.Equal(t, models.EventSendMessage, frame.Event)
	var sent models.SendMessagePayload
	h.decodeFrame(frame, &sent)
	assert.Equal(t, timeline[0].ID, sent.TempID)
	assert.Equal(t, "hello", sent.Content)

	confirmed := models.Message{
		ID:       "m-1",
		RoomID:   "room-1",
		SenderID: testSelf.ID,
		Content:  "hello",
		Type:     models.MessageText,
		Status:   models.StatusSent,
	}
	h.push(models.EventMessageSent, models.MessageSentPayload{TempID: sent.TempID, Message: confirmed})

	require.Eventually(t, func() bool {
		tl := h.engine.Timeline()
		return len(tl) == 1 && tl[0].ID == "m-1"
	}, 2*time.Second, 10*time.Millisecond, "temp entry should be replaced in place, never duplicated")
	assert.Equal(t, models.StatusSent, h.engine.Timeline()[0].Status)
}

func TestChannelSendRefreshesDirectory(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	h.nextFrame() // join-room
	h.nextFrame() // mark-read
	before := h.roomListCalls()

	require.NoError(t, h.engine.Send(context.Background(), "hello"))
	frame := h.nextFrame()
	var sent models.SendMessagePayload
	h.decodeFrame(frame, &sent)

	confirmed := models.Message{
		ID: "m-1", RoomID: "room-1", SenderID: testSelf.ID,
		Content: "hello", Status: models.StatusSent,
	}
	h.push(models.EventMessageSent, models.MessageSentPayload{TempID: sent.TempID, Message: confirmed})

	// The sender hears nothing but the ack, so the ack must drive the
	// preview/unread update in the room list.
	require.Eventually(t, func() bool {
		return h.roomListCalls() > before
	}, 2*time.Second, 10*time.Millisecond, "a confirmed channel send refreshes the directory")
}

func TestSendEmptyRejected(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))

	err := h.engine.Send(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendWithoutOpenRoom(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect()

	err := h.engine.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoOpenRoom)
}

func TestSendExpiresUnconfirmed(t *testing.T) {
	h := newHarness(t, Config{PendingTimeout: 50 * time.Millisecond})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	h.nextFrame() // join-room
	h.nextFrame() // mark-read

	require.NoError(t, h.engine.Send(context.Background(), "going nowhere"))
	h.nextFrame() // send-message, deliberately never acked

	require.Eventually(t, func() bool {
		tl := h.engine.Timeline()
		return len(tl) == 1 && tl[0].Status == models.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetrySendReusesTempID(t *testing.T) {
	h := newHarness(t, Config{PendingTimeout: 50 * time.Millisecond})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	h.nextFrame() // join-room
	h.nextFrame() // mark-read

	require.NoError(t, h.engine.Send(context.Background(), "try again"))
	first := h.nextFrame()
	var firstSend models.SendMessagePayload
	h.decodeFrame(first, &firstSend)

	require.Eventually(t, func() bool {
		tl := h.engine.Timeline()
		return len(tl) == 1 && tl[0].Status == models.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.engine.RetrySend(context.Background(), firstSend.TempID))
	second := h.nextFrame()
	var secondSend models.SendMessagePayload
	h.decodeFrame(second, &secondSend)
	assert.Equal(t, firstSend.TempID, secondSend.TempID)

	confirmed := models.Message{ID: "m-9", RoomID: "room-1", SenderID: testSelf.ID, Content: "try again", Status: models.StatusSent}
	h.push(models.EventMessageSent, models.MessageSentPayload{TempID: secondSend.TempID, Message: confirmed})

	require.Eventually(t, func() bool {
		tl := h.engine.Timeline()
		return len(tl) == 1 && tl[0].ID == "m-9"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDiscardFailedOnlyFailedEntries(t *testing.T) {
	h := newHarness(t, Config{PendingTimeout: 50 * time.Millisecond})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	h.nextFrame()
	h.nextFrame()

	require.NoError(t, h.engine.Send(context.Background(), "doomed"))
	frame := h.nextFrame()
	var sent models.SendMessagePayload
	h.decodeFrame(frame, &sent)

	// Still sending: discard refused.
	require.ErrorIs(t, h.engine.DiscardFailed(sent.TempID), ErrNotFailed)

	require.Eventually(t, func() bool {
		tl := h.engine.Timeline()
		return len(tl) == 1 && tl[0].Status == models.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.engine.DiscardFailed(sent.TempID))
	assert.Empty(t, h.engine.Timeline())
}

func TestNewMessageScopedToOpenRoom(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-a"))
	h.nextFrame() // join-room
	h.nextFrame() // mark-read
	before := h.roomListCalls()

	// A message for another room never touches the open timeline, but the
	// directory is refreshed regardless.
	h.push(models.EventNewMessage, models.NewMessagePayload{Message: models.Message{
		ID: "m-b1", RoomID: "room-b", SenderID: "u-2", Content: "elsewhere",
	}})
	require.Eventually(t, func() bool {
		return h.roomListCalls() > before
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.engine.Timeline())

	// A message for the open room is appended and acknowledged with mark-read.
	h.push(models.EventNewMessage, models.NewMessagePayload{Message: models.Message{
		ID: "m-a1", RoomID: "room-a", SenderID: "u-2", Content: "for you",
	}})
	require.Eventually(t, func() bool {
		return len(h.engine.Timeline()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	frame := h.nextFrame()
	require.Equal(t, models.EventMarkRead, frame.Event)
	var ack models.RoomIDPayload
	h.decodeFrame(frame, &ack)
	assert.Equal(t, "room-a", ack.RoomID)
}

func TestOwnMessagePushNotAcked(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-a"))
	h.nextFrame()
	h.nextFrame()

	h.push(models.EventNewMessage, models.NewMessagePayload{Message: models.Message{
		ID: "m-a2", RoomID: "room-a", SenderID: testSelf.ID, Content: "from my other tab",
	}})
	require.Eventually(t, func() bool {
		return len(h.engine.Timeline()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case frame := <-h.frames:
		t.Fatalf("unexpected frame %s after own-message push", frame.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMessagesReadFlipsOnlyOwnMessages(t *testing.T) {
	h := newHarness(t, Config{})
	h.setMessages("room-1", []models.Message{
		{ID: "m-1", RoomID: "room-1", SenderID: testSelf.ID, Content: "mine", Status: models.StatusSent},
		{ID: "m-2", RoomID: "room-1", SenderID: "u-2", Content: "theirs", Status: models.StatusSent},
	})
	h.connect()
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	h.nextFrame()
	h.nextFrame()

	h.push(models.EventMessagesRead, models.MessagesReadPayload{RoomID: "room-1", ReaderID: "u-2"})

	require.Eventually(t, func() bool {
		tl := h.engine.Timeline()
		return tl[0].Status == models.StatusRead
	}, 2*time.Second, 10*time.Millisecond)

	tl := h.engine.Timeline()
	assert.True(t, tl[0].Read)
	assert.Equal(t, models.StatusSent, tl[1].Status, "peer messages must not flip")
	assert.False(t, tl[1].Read)
}

func TestHTTPFallbackSend(t *testing.T) {
	h := newHarness(t, Config{})
	// Never connected: sends go over HTTP and the server message is appended
	// directly, no optimistic phase.
	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	require.False(t, h.engine.Connected())

	require.NoError(t, h.engine.Send(context.Background(), "offline text"))

	tl := h.engine.Timeline()
	require.Len(t, tl, 1)
	assert.False(t, tl[0].IsTemp())
	assert.Equal(t, "offline text", tl[0].Content)

	require.Eventually(t, func() bool {
		return h.roomListCalls() > 0
	}, 2*time.Second, 10*time.Millisecond, "fallback send refreshes the directory")
}

func TestOpenRoomReplacesTimeline(t *testing.T) {
	h := newHarness(t, Config{})
	h.setMessages("room-1", []models.Message{{ID: "m-1", RoomID: "room-1", SenderID: "u-2", Content: "old"}})
	h.setMessages("room-2", []models.Message{
		{ID: "m-5", RoomID: "room-2", SenderID: "u-3", Content: "hey"},
		{ID: "m-6", RoomID: "room-2", SenderID: "u-3", Content: "there"},
	})
	h.connect()

	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-1"))
	h.nextFrame()
	h.nextFrame()
	require.Len(t, h.engine.Timeline(), 1)

	require.NoError(t, h.engine.OpenRoom(context.Background(), "room-2"))
	h.nextFrame()
	h.nextFrame()
	require.Len(t, h.engine.Timeline(), 2)
	assert.Equal(t, "room-2", h.engine.OpenRoomID())

	h.engine.CloseRoom()
	assert.Empty(t, h.engine.OpenRoomID())
	assert.Empty(t, h.engine.Timeline())
}

func TestDirectoryRefreshKeepsOldOnFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.setRooms([]models.Room{{ID: "room-1", Kind: models.RoomGroup, Name: "General"}})
	require.NoError(t, h.engine.RefreshRooms(context.Background()))
	require.Len(t, h.engine.Rooms(), 1)

	h.server.Close()
	err := h.engine.RefreshRooms(context.Background())
	require.Error(t, err)
	assert.Len(t, h.engine.Rooms(), 1, "failed refresh must leave the directory untouched")
}

func TestFilterRoomsByDisplayName(t *testing.T) {
	h := newHarness(t, Config{})
	peer := models.UserRef{ID: "u-2", Name: "Morgan Reyes"}
	h.setRooms([]models.Room{
		{ID: "r-1", Kind: models.RoomPersonal, Peer: &peer},
		{ID: "r-2", Kind: models.RoomGroup, Name: "Payroll Team"},
		{ID: "r-3", Kind: models.RoomGroup, Name: "Random"},
	})
	require.NoError(t, h.engine.RefreshRooms(context.Background()))

	matches := h.engine.FilterRooms("morgan")
	require.Len(t, matches, 1)
	assert.Equal(t, "r-1", matches[0].ID)

	matches = h.engine.FilterRooms("TEAM")
	require.Len(t, matches, 1)
	assert.Equal(t, "r-2", matches[0].ID)

	assert.Len(t, h.engine.FilterRooms(""), 3)
}
