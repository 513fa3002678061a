package client

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-sync/internal/models"
)

const (
	defaultPendingTimeout = 10 * time.Second
	defaultTypingIdle     = 2 * time.Second
)

// NotifyLevel classifies a transient user-visible notice.
type NotifyLevel string

const (
	NotifyInfo  NotifyLevel = "info"
	NotifyError NotifyLevel = "error"
)

// Notifier receives transient, dismissable notices. Failures never surface
// as blocking dialogs; the shell decides how to render them.
type Notifier interface {
	Notify(level NotifyLevel, text string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(NotifyLevel, string) {}

// Config wires an Engine to its transports and its shell.
type Config struct {
	// BaseURL is the REST base including the /api segment; the websocket
	// endpoint is derived from it.
	BaseURL string
	Token   string
	// Self identifies the authenticated user; capability checks and
	// read-receipt scoping key off it.
	Self models.User

	Notifier Notifier
	// OnChange is invoked after every observable state change so the shell
	// can re-render. Optional.
	OnChange func()

	// PendingTimeout bounds how long an optimistic send may wait for its
	// confirmation before being marked failed. Default 10s.
	PendingTimeout time.Duration
	// TypingIdle is the pause after the last keystroke that triggers the
	// automatic stop-typing emission. Default 2s.
	TypingIdle time.Duration

	// Reconnection policy, passed through to the channel.
	MaxRetries int
	RetryDelay time.Duration
}

// Engine is the client-side chat synchronization core. It reconciles the
// optimistic local state (room directory, open-room timeline, presence sets)
// against the push event stream, degrading to the HTTP transport when the
// channel is down.
//
// All inbound frames are handled serially on the channel's read loop, in
// delivery order. Public methods are safe for concurrent use.
type Engine struct {
	api      *APIClient
	conn     *Conn
	self     models.User
	notifier Notifier
	onChange func()

	pendingTimeout time.Duration
	typingIdle     time.Duration

	mu          sync.Mutex
	rooms       []models.Room
	openRoomID  string
	timeline    []models.Message
	online      map[string]string
	typingUsers map[string]string
	pending     map[string]*time.Timer
	typingTimer *time.Timer
	typingLive  bool
	closed      bool
}

// New builds an Engine. The channel is not dialed until Connect.
func New(cfg Config) *Engine {
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.PendingTimeout == 0 {
		cfg.PendingTimeout = defaultPendingTimeout
	}
	if cfg.TypingIdle == 0 {
		cfg.TypingIdle = defaultTypingIdle
	}

	e := &Engine{
		api:            NewAPIClient(cfg.BaseURL, cfg.Token),
		self:           cfg.Self,
		notifier:       cfg.Notifier,
		onChange:       cfg.OnChange,
		pendingTimeout: cfg.PendingTimeout,
		typingIdle:     cfg.TypingIdle,
		online:         make(map[string]string),
		typingUsers:    make(map[string]string),
		pending:        make(map[string]*time.Timer),
	}

	e.conn = NewConn(ConnConfig{
		URL:        e.api.WSURL(),
		Token:      cfg.Token,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, e.dispatch)
	e.conn.OnUp(e.channelUp)
	e.conn.OnDown(e.channelDown)
	return e
}

// API exposes the underlying REST client.
func (e *Engine) API() *APIClient {
	return e.api
}

// Self returns the authenticated user the engine acts as.
func (e *Engine) Self() models.User {
	return e.self
}

// Connect establishes the realtime channel. Failure is non-fatal: the engine
// keeps working over HTTP and the error is surfaced as a notice.
func (e *Engine) Connect(ctx context.Context) error {
	if err := e.conn.Connect(ctx); err != nil {
		e.notifier.Notify(NotifyError, "realtime connection unavailable")
		return err
	}
	return nil
}

// Connected reports whether the realtime channel is live.
func (e *Engine) Connected() bool {
	return e.conn.Connected()
}

// Close tears down the channel, cancels timers, and stops all background
// work. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	e.typingLive = false
	for id, timer := range e.pending {
		timer.Stop()
		delete(e.pending, id)
	}
	e.mu.Unlock()
	return e.conn.Close()
}

// channelUp runs after every successful (re)connect: request the presence
// snapshot and re-join the room that is open right now.
func (e *Engine) channelUp() {
	if err := e.conn.Emit(models.EventGetOnlineUsers, nil); err != nil {
		log.Printf("presence snapshot request failed: %v", err)
	}
	e.mu.Lock()
	open := e.openRoomID
	e.mu.Unlock()
	if open != "" {
		_ = e.conn.Emit(models.EventJoinRoom, models.RoomIDPayload{RoomID: open})
	}
}

func (e *Engine) channelDown(err error) {
	log.Printf("realtime channel down: %v", err)
	e.notifier.Notify(NotifyError, "realtime connection lost; messages will be sent over HTTP")
}

// dispatch routes one inbound frame to its handler. It runs on the channel
// read loop, so handlers observe frames in delivery order. Which room is
// "open" is read from engine state at this moment, never from values
// captured when the channel was set up.
func (e *Engine) dispatch(frame models.Frame) {
	switch frame.Event {
	case models.EventNewMessage:
		var p models.NewMessagePayload
		if e.decode(frame, &p) {
			e.handleNewMessage(p)
		}
	case models.EventMessageSent:
		var p models.MessageSentPayload
		if e.decode(frame, &p) {
			e.handleMessageSent(p)
		}
	case models.EventUserTyping:
		var p models.TypingPayload
		if e.decode(frame, &p) {
			e.handleUserTyping(p)
		}
	case models.EventUserStoppedTyping:
		var p models.TypingPayload
		if e.decode(frame, &p) {
			e.handleUserStoppedTyping(p)
		}
	case models.EventUserOnline:
		var p models.PresencePayload
		if e.decode(frame, &p) {
			e.handleUserOnline(p)
		}
	case models.EventUserOffline:
		var p models.PresencePayload
		if e.decode(frame, &p) {
			e.handleUserOffline(p)
		}
	case models.EventOnlineUsers:
		var p models.OnlineUsersPayload
		if e.decode(frame, &p) {
			e.handleOnlineUsers(p)
		}
	case models.EventGroupCreated, models.EventAddedToGroup:
		var p models.RoomPayload
		if e.decode(frame, &p) {
			e.handleGroupJoined(p)
		}
	case models.EventRemovedFromGroup, models.EventGroupDeleted:
		var p models.RoomIDPayload
		if e.decode(frame, &p) {
			e.handleGroupGone(p)
		}
	case models.EventMessagesRead:
		var p models.MessagesReadPayload
		if e.decode(frame, &p) {
			e.handleMessagesRead(p)
		}
	default:
		log.Printf("ignoring unknown channel event %q", frame.Event)
	}
}

func (e *Engine) decode(frame models.Frame, dst any) bool {
	if err := frame.Decode(dst); err != nil {
		log.Printf("dropping malformed frame: %v", err)
		return false
	}
	return true
}

// changed invokes the render hook outside the state lock.
func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}
