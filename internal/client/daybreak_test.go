package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func TestDaySections(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	older := now.AddDate(0, 0, -5)
	yesterday := now.AddDate(0, 0, -1)

	msgs := []models.Message{
		{ID: "1", CreatedAt: older},
		{ID: "2", CreatedAt: older.Add(time.Hour)},
		{ID: "3", CreatedAt: yesterday},
		{ID: "4", CreatedAt: now.Add(-time.Hour)},
		{ID: "5", CreatedAt: now},
	}

	sections := DaySections(msgs, now)
	require.Len(t, sections, 3)

	assert.Equal(t, "March 5, 2026", sections[0].Label)
	assert.Len(t, sections[0].Messages, 2)
	assert.Equal(t, "Yesterday", sections[1].Label)
	assert.Len(t, sections[1].Messages, 1)
	assert.Equal(t, "Today", sections[2].Label)
	assert.Len(t, sections[2].Messages, 2)
}

func TestDaySectionsEmpty(t *testing.T) {
	assert.Empty(t, DaySections(nil, time.Now()))
}

func TestDayLabel(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "Today", DayLabel(now.Add(-2*time.Hour), now))
	assert.Equal(t, "Yesterday", DayLabel(now.AddDate(0, 0, -1), now))
	assert.Equal(t, "January 2, 2026", DayLabel(time.Date(2026, time.January, 2, 23, 0, 0, 0, time.UTC), now))
}
