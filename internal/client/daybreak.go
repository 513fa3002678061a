package client

import (
	"time"

	"chat-sync/internal/models"
)

// DaySection is a run of consecutive timeline messages sharing a calendar
// day, headed by the separator label the view renders between days.
type DaySection struct {
	Label    string
	Messages []models.Message
}

// DaySections splits a timeline (already in append/chronological order) into
// per-day sections labelled "Today", "Yesterday", or the long date.
func DaySections(msgs []models.Message, now time.Time) []DaySection {
	var sections []DaySection
	for _, msg := range msgs {
		n := len(sections)
		if n > 0 && sameDay(sections[n-1].Messages[0].CreatedAt, msg.CreatedAt) {
			sections[n-1].Messages = append(sections[n-1].Messages, msg)
			continue
		}
		sections = append(sections, DaySection{
			Label:    DayLabel(msg.CreatedAt, now),
			Messages: []models.Message{msg},
		})
	}
	return sections
}

// DayLabel formats a separator label relative to now.
func DayLabel(t, now time.Time) string {
	switch {
	case sameDay(t, now):
		return "Today"
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return t.Format("January 2, 2006")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
