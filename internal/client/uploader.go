package client

import (
	"context"
	"io"

	"chat-sync/internal/models"
)

// UploadAttachment submits a local file to the room's media endpoint and
// applies the resulting message: appended to the timeline when the room is
// open, followed by a directory refresh for the preview and unread count.
// The upload path is independent of the realtime channel.
func (e *Engine) UploadAttachment(ctx context.Context, roomID, filename string, r io.Reader, kind models.MessageType) (models.Message, error) {
	msg, err := e.api.UploadMedia(ctx, roomID, filename, r, kind)
	if err != nil {
		e.notifier.Notify(NotifyError, "upload failed")
		return models.Message{}, err
	}

	e.mu.Lock()
	if e.openRoomID == roomID {
		e.timeline = append(e.timeline, msg)
	}
	e.mu.Unlock()
	e.changed()
	e.refreshRoomsAsync()
	return msg, nil
}
