package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

var (
	// ErrEmptyMessage rejects sends with no content after trimming.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoOpenRoom rejects timeline operations while no room is open.
	ErrNoOpenRoom = errors.New("no room is open")
	// ErrNotFailed rejects retry/discard of an entry that is not failed.
	ErrNotFailed = errors.New("message is not in failed state")
)

// OpenRoom fetches the room's full history, replaces the timeline, and
// signals the room as read. Closing the previous room discards its timeline;
// reopening re-fetches.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) error {
	msgs, err := e.api.RoomMessages(ctx, roomID)
	if err != nil {
		e.notifier.Notify(NotifyError, "could not load messages")
		return err
	}

	e.mu.Lock()
	e.openRoomID = roomID
	e.timeline = msgs
	e.typingUsers = make(map[string]string)
	e.mu.Unlock()

	if e.conn.Connected() {
		_ = e.conn.Emit(models.EventJoinRoom, models.RoomIDPayload{RoomID: roomID})
		_ = e.conn.Emit(models.EventMarkRead, models.RoomIDPayload{RoomID: roomID})
	}
	e.changed()
	return nil
}

// CloseRoom leaves the current chat view, discarding its timeline.
func (e *Engine) CloseRoom() {
	e.mu.Lock()
	e.openRoomID = ""
	e.timeline = nil
	e.typingUsers = make(map[string]string)
	e.mu.Unlock()
	e.changed()
}

// OpenRoomID returns the id of the currently open room, or "".
func (e *Engine) OpenRoomID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openRoomID
}

// Timeline returns a snapshot of the open room's messages in append order.
func (e *Engine) Timeline() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Message, len(e.timeline))
	copy(out, e.timeline)
	return out
}

// Send delivers trimmed non-empty text to the open room. With a live channel
// the message is appended optimistically under a temp id and reconciled when
// the message-sent ack arrives; without one it goes over HTTP and the
// server's message is appended directly.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		e.notifier.Notify(NotifyError, "cannot send an empty message")
		return ErrEmptyMessage
	}

	e.mu.Lock()
	roomID := e.openRoomID
	e.mu.Unlock()
	if roomID == "" {
		return ErrNoOpenRoom
	}

	// A send always terminates the current typing burst.
	e.stopTypingNow()

	if !e.conn.Connected() {
		return e.sendHTTP(ctx, roomID, text)
	}

	tmp := models.Message{
		ID:         models.TempIDPrefix + uuid.NewString(),
		RoomID:     roomID,
		SenderID:   e.self.ID,
		SenderName: e.self.Name,
		Content:    text,
		Type:       models.MessageText,
		Status:     models.StatusSending,
		CreatedAt:  time.Now(),
	}

	e.mu.Lock()
	e.timeline = append(e.timeline, tmp)
	e.pending[tmp.ID] = time.AfterFunc(e.pendingTimeout, func() { e.expirePending(tmp.ID) })
	e.mu.Unlock()
	e.changed()

	err := e.conn.Emit(models.EventSendMessage, models.SendMessagePayload{
		RoomID:  roomID,
		Content: text,
		Type:    models.MessageText,
		TempID:  tmp.ID,
	})
	if err != nil {
		// Channel dropped between the check and the write.
		e.markFailed(tmp.ID)
		e.notifier.Notify(NotifyError, "message could not be sent")
		return err
	}
	observability.IncSend("channel")
	return nil
}

// sendHTTP is the fallback path: no optimistic phase, the returned message
// already carries its permanent id.
func (e *Engine) sendHTTP(ctx context.Context, roomID, text string) error {
	msg, err := e.api.SendMessage(ctx, roomID, text)
	if err != nil {
		observability.IncSendFailure()
		e.notifier.Notify(NotifyError, "message could not be sent")
		return err
	}

	e.mu.Lock()
	if e.openRoomID == roomID {
		e.timeline = append(e.timeline, msg)
	}
	e.mu.Unlock()
	e.changed()

	observability.IncSend("http")
	e.refreshRoomsAsync()
	return nil
}

// expirePending marks an optimistic entry failed when its confirmation never
// arrived within the pending timeout.
func (e *Engine) expirePending(tempID string) {
	e.mu.Lock()
	if _, ok := e.pending[tempID]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pending, tempID)
	flipped := false
	for i := range e.timeline {
		if e.timeline[i].ID == tempID && e.timeline[i].Status == models.StatusSending {
			e.timeline[i].Status = models.StatusFailed
			flipped = true
			break
		}
	}
	e.mu.Unlock()

	if flipped {
		observability.IncSendFailure()
		e.notifier.Notify(NotifyError, "message was not delivered")
		e.changed()
	}
}

func (e *Engine) markFailed(tempID string) {
	e.mu.Lock()
	if timer, ok := e.pending[tempID]; ok {
		timer.Stop()
		delete(e.pending, tempID)
	}
	for i := range e.timeline {
		if e.timeline[i].ID == tempID {
			e.timeline[i].Status = models.StatusFailed
			break
		}
	}
	e.mu.Unlock()
	observability.IncSendFailure()
	e.changed()
}

// RetrySend re-attempts a failed optimistic entry, preserving its position.
// With a live channel it re-emits under the same temp id; otherwise the HTTP
// response replaces the entry in place.
func (e *Engine) RetrySend(ctx context.Context, tempID string) error {
	e.mu.Lock()
	idx := -1
	for i := range e.timeline {
		if e.timeline[i].ID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 || e.timeline[idx].Status != models.StatusFailed {
		e.mu.Unlock()
		return ErrNotFailed
	}
	msg := e.timeline[idx]
	e.timeline[idx].Status = models.StatusSending
	e.mu.Unlock()
	e.changed()

	if e.conn.Connected() {
		e.mu.Lock()
		e.pending[tempID] = time.AfterFunc(e.pendingTimeout, func() { e.expirePending(tempID) })
		e.mu.Unlock()

		err := e.conn.Emit(models.EventSendMessage, models.SendMessagePayload{
			RoomID:  msg.RoomID,
			Content: msg.Content,
			Type:    msg.Type,
			TempID:  tempID,
		})
		if err != nil {
			e.markFailed(tempID)
			return err
		}
		observability.IncSend("channel")
		return nil
	}

	sent, err := e.api.SendMessage(ctx, msg.RoomID, msg.Content)
	if err != nil {
		e.markFailed(tempID)
		e.notifier.Notify(NotifyError, "message could not be sent")
		return err
	}
	e.mu.Lock()
	for i := range e.timeline {
		if e.timeline[i].ID == tempID {
			e.timeline[i] = sent
			break
		}
	}
	e.mu.Unlock()
	e.changed()
	observability.IncSend("http")
	e.refreshRoomsAsync()
	return nil
}

// DiscardFailed removes a failed optimistic entry from the timeline.
func (e *Engine) DiscardFailed(tempID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.timeline {
		if e.timeline[i].ID != tempID {
			continue
		}
		if e.timeline[i].Status != models.StatusFailed {
			return ErrNotFailed
		}
		e.timeline = append(e.timeline[:i], e.timeline[i+1:]...)
		return nil
	}
	return ErrNotFailed
}

// Typing reports composer activity: emits a typing event and (re)arms the
// idle timer that emits stop-typing once the burst pauses.
func (e *Engine) Typing() {
	if !e.conn.Connected() {
		return
	}
	e.mu.Lock()
	if e.closed || e.openRoomID == "" {
		e.mu.Unlock()
		return
	}
	roomID := e.openRoomID
	if e.typingTimer != nil {
		e.typingTimer.Stop()
	}
	e.typingTimer = time.AfterFunc(e.typingIdle, e.stopTypingNow)
	e.typingLive = true
	e.mu.Unlock()

	_ = e.conn.Emit(models.EventTyping, models.TypingPayload{
		RoomID:   roomID,
		UserID:   e.self.ID,
		UserName: e.self.Name,
	})
}

// stopTypingNow ends the current typing burst, emitting exactly one
// stop-typing event for it.
func (e *Engine) stopTypingNow() {
	e.mu.Lock()
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	live := e.typingLive
	e.typingLive = false
	roomID := e.openRoomID
	e.mu.Unlock()

	if live && roomID != "" && e.conn.Connected() {
		_ = e.conn.Emit(models.EventStopTyping, models.TypingPayload{
			RoomID: roomID,
			UserID: e.self.ID,
		})
	}
}

// handleNewMessage applies a pushed message: appended to the timeline only
// when it belongs to the open room, acknowledged with mark-read when it came
// from someone else, and always followed by a directory refresh: previews
// and unread counts are the directory's concern, not the timeline's.
func (e *Engine) handleNewMessage(p models.NewMessagePayload) {
	msg := p.Message

	e.mu.Lock()
	appended := false
	if msg.RoomID == e.openRoomID && e.openRoomID != "" {
		e.timeline = append(e.timeline, msg)
		appended = true
	}
	e.mu.Unlock()

	if appended {
		if msg.SenderID != e.self.ID {
			_ = e.conn.Emit(models.EventMarkRead, models.RoomIDPayload{RoomID: msg.RoomID})
		}
		e.changed()
	}
	e.refreshRoomsAsync()
}

// handleMessageSent reconciles an optimistic entry: the matching temp id is
// replaced in place by the authoritative message, position preserved. The
// server leaves the sender out of the new-message broadcast, so this ack is
// also what refreshes the sender's directory preview.
func (e *Engine) handleMessageSent(p models.MessageSentPayload) {
	e.mu.Lock()
	if timer, ok := e.pending[p.TempID]; ok {
		timer.Stop()
		delete(e.pending, p.TempID)
	}
	replaced := false
	for i := range e.timeline {
		if e.timeline[i].ID == p.TempID {
			msg := p.Message
			if msg.Status == "" {
				msg.Status = models.StatusSent
			}
			e.timeline[i] = msg
			replaced = true
			break
		}
	}
	e.mu.Unlock()

	if replaced {
		e.changed()
		e.refreshRoomsAsync()
	}
}

// handleMessagesRead flips the current user's own messages in the open room
// to read; messages authored by others are untouched.
func (e *Engine) handleMessagesRead(p models.MessagesReadPayload) {
	e.mu.Lock()
	touched := false
	if p.RoomID == e.openRoomID && e.openRoomID != "" {
		for i := range e.timeline {
			m := &e.timeline[i]
			if m.SenderID != e.self.ID || m.IsTemp() {
				continue
			}
			if !m.Read || m.Status != models.StatusRead {
				m.Read = true
				m.Status = models.StatusRead
				touched = true
			}
		}
	}
	e.mu.Unlock()

	if touched {
		e.changed()
	}
}
