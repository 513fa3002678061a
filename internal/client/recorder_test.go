package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderLifecycle(t *testing.T) {
	rec := NewRecorder()
	assert.False(t, rec.Recording())

	require.NoError(t, rec.Start())
	assert.True(t, rec.Recording())
	require.ErrorIs(t, rec.Start(), ErrAlreadyRecording)

	n, err := rec.Write([]byte("chunk-1"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, err = rec.Write([]byte("chunk-2"))
	require.NoError(t, err)

	clip, err := rec.Stop()
	require.NoError(t, err)
	assert.False(t, rec.Recording())
	assert.Equal(t, []byte("chunk-1chunk-2"), clip.Data)
	assert.True(t, strings.HasPrefix(clip.Name, "voice-"))
	assert.True(t, strings.HasSuffix(clip.Name, ".webm"))
}

func TestRecorderRequiresActiveSession(t *testing.T) {
	rec := NewRecorder()

	_, err := rec.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNotRecording)

	_, err = rec.Stop()
	require.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorderResetBetweenSessions(t *testing.T) {
	rec := NewRecorder()

	require.NoError(t, rec.Start())
	_, err := rec.Write([]byte("first"))
	require.NoError(t, err)
	_, err = rec.Stop()
	require.NoError(t, err)

	require.NoError(t, rec.Start())
	_, err = rec.Write([]byte("second"))
	require.NoError(t, err)
	clip, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), clip.Data, "a new session never carries old audio")
}
