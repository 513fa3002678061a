package client

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"chat-sync/internal/models"
)

var (
	// ErrAlreadyRecording rejects Start while a capture session is active.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording rejects writes and Stop without an active session.
	ErrNotRecording = errors.New("no recording in progress")
)

// Clip is a finished voice recording ready to be sent as an attachment.
type Clip struct {
	Name     string
	Data     []byte
	Duration time.Duration
}

// Recorder is an audio-capture session: Start, stream chunks in via Write,
// Stop to obtain a single clip. One clip per session.
type Recorder struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	recording bool
	started   time.Time
}

// NewRecorder returns an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins a capture session.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	r.buf.Reset()
	r.recording = true
	r.started = time.Now()
	return nil
}

// Write appends captured audio. Implements io.Writer.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return 0, ErrNotRecording
	}
	return r.buf.Write(p)
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop ends the session and returns the accumulated clip.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return Clip{}, ErrNotRecording
	}
	r.recording = false

	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()

	return Clip{
		Name:     "voice-" + r.started.Format("20060102-150405") + ".webm",
		Data:     data,
		Duration: time.Since(r.started),
	}, nil
}

// SendVoiceClip wraps a recorded clip as a file and sends it through the
// regular upload path.
func (e *Engine) SendVoiceClip(ctx context.Context, roomID string, clip Clip) (models.Message, error) {
	return e.UploadAttachment(ctx, roomID, clip.Name, bytes.NewReader(clip.Data), models.MessageVoice)
}
