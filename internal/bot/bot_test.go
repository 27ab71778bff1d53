package bot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/service"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want callbackData
		ok   bool
	}{
		{"snooze:12:15", callbackData{action: cbSnooze, id: 12, minutes: 15}, true},
		{"done:3", callbackData{action: cbDone, id: 3}, true},
		{"dismiss:3", callbackData{action: cbDismiss, id: 3}, true},
		{"resume:9", callbackData{action: cbResume, id: 9}, true},
		{"snooze:12", callbackData{}, false},
		{"snooze:12:0", callbackData{}, false},
		{"done:3:1", callbackData{}, false},
		{"done:x", callbackData{}, false},
		{"done:0", callbackData{}, false},
		{"launch:1", callbackData{}, false},
		{"", callbackData{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, ok := parseCallback(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			if ok {
				assert.Equal(t, tt.data, got.String())
			}
		})
	}
}

func TestParseRepeatInput(t *testing.T) {
	tests := []struct {
		in   string
		want recurrence.Rule
	}{
		{"Once", recurrence.Once()},
		{"⏭️ Skip", recurrence.Once()},
		{"Daily", recurrence.Daily(1)},
		{"Weekdays", recurrence.Weekly(1, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)},
		{"weekends", recurrence.CustomDays(time.Saturday, time.Sunday)},
		{"Weekly", recurrence.Rule{Kind: recurrence.KindWeekly, Interval: 1}},
		{"Monthly", recurrence.Monthly(1)},
		{"weekly:mon,thu", recurrence.Weekly(1, time.Monday, time.Thursday)},
		{"daily/2", recurrence.Daily(2)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRepeatInput(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseRepeatInput("hourly")
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)
}

func TestParseTypeInput(t *testing.T) {
	got, ok := parseTypeInput(btnAlarm)
	assert.True(t, ok)
	assert.Equal(t, model.ItemAlarm, got)

	got, ok = parseTypeInput("task")
	assert.True(t, ok)
	assert.Equal(t, model.ItemTask, got)

	_, ok = parseTypeInput("meeting")
	assert.False(t, ok)
}

func TestParseID(t *testing.T) {
	id, err := parseID(" #42 ")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	for _, raw := range []string{"", "0", "-3", "abc"} {
		_, err := parseID(raw)
		assert.Error(t, err, raw)
	}
}

func TestPlainMessage(t *testing.T) {
	assert.Equal(t, "Not found.", plainMessage(fmt.Errorf("find item: %w", gorm.ErrRecordNotFound)))
	assert.Equal(t, "That snooze length is not offered.", plainMessage(recurrence.ErrInvalidSnooze))
	assert.Equal(t, "That time is already in the past.", plainMessage(fmt.Errorf("%w: 2024-10-16 09:00", service.ErrPastTime)))
	assert.Equal(t, "Something went wrong: disk full", plainMessage(fmt.Errorf("disk full")))
	assert.Equal(t, "Something went wrong: a &lt; b", userMessage(fmt.Errorf("a < b")))
}

func TestFormatItem(t *testing.T) {
	item := model.Item{ID: 7, Type: model.ItemTask, Title: "water <plants>", Enabled: true}
	item.SetRule(recurrence.Weekly(1, time.Monday))
	next := &model.Occurrence{
		ScheduledTime: time.Date(2024, time.October, 21, 9, 10, 0, 0, time.UTC),
		Status:        recurrence.StatusSnoozed,
		SnoozeCount:   2,
	}

	text := formatItem(service.ItemWithNext{Item: item, Next: next}, time.UTC)
	assert.Contains(t, text, "<b>#7</b> Water &lt;plants&gt;")
	assert.Contains(t, text, "Mon Oct 21 09:10 · 💤 2×")
	assert.Contains(t, text, "🔁 every week on Mon")

	item.Enabled = false
	item.NeedsReview = true
	assert.Contains(t, formatItem(service.ItemWithNext{Item: item}, time.UTC), "/resume")
}

func TestFormatRecovery(t *testing.T) {
	item := model.Item{ID: 3, Title: "pills"}
	next := &model.Occurrence{ScheduledTime: time.Date(2024, time.October, 20, 9, 0, 0, 0, time.UTC)}

	text := formatRecovery(service.Recovery{Item: item, Missed: 4, Next: next}, time.UTC)
	assert.Equal(t, "⚠️ While I was offline «Pills» (#3) missed 4 occurrence(s). Next: Sun Oct 20 09:00.", text)

	text = formatRecovery(service.Recovery{Item: item, Missed: 1000, Disabled: true}, time.UTC)
	assert.Contains(t, text, "missed at least 1000 occurrence(s)")
	assert.Contains(t, text, "/resume 3")
}

func TestFormatHistory(t *testing.T) {
	item := model.Item{ID: 5, Title: "stretch"}
	assert.Contains(t, formatHistory(item, nil, time.UTC), "No occurrences yet.")

	text := formatHistory(item, []model.Occurrence{
		{OriginalScheduledTime: time.Date(2024, time.October, 17, 9, 0, 0, 0, time.UTC), Status: recurrence.StatusCompleted, SnoozeCount: 1},
		{OriginalScheduledTime: time.Date(2024, time.October, 16, 9, 0, 0, 0, time.UTC), Status: recurrence.StatusMissed},
	}, time.UTC)
	assert.Contains(t, text, "✅ Thu Oct 17 09:00 completed (snoozed 1×)")
	assert.Contains(t, text, "❌ Wed Oct 16 09:00 missed")
}

func TestSnoozeLabel(t *testing.T) {
	assert.Equal(t, "5m", snoozeLabel(5*time.Minute))
	assert.Equal(t, "1h", snoozeLabel(time.Hour))
	assert.Equal(t, "90m", snoozeLabel(90*time.Minute))
}

func TestShortTitle(t *testing.T) {
	assert.Equal(t, "Buy milk", shortTitle("buy milk", 20))
	assert.Equal(t, "Buy a very…", shortTitle("buy a very long list", 11))
}

func TestNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, nonEmpty([]string{"a", " ", "", "b"}))
}
