// Package calendar renders items as an iCalendar document.
package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"smart-calendar/internal/model"
)

const productID = "-//smart-calendar//Smart Calendar Bot//EN"

// Entry is an item with its live occurrence, if any.
type Entry struct {
	Item model.Item
	Next *model.Occurrence
}

// Encode writes one VEVENT per enabled entry. A recurring item starts at its
// live occurrence's original time and carries its rule as RRULE; every event
// has a display alarm at start. Times are written in loc.
func Encode(w io.Writer, entries []Entry, loc *time.Location, now time.Time) error {
	cal := Build(entries, loc, now)
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

// Build returns the calendar Encode writes.
func Build(entries []Entry, loc *time.Location, now time.Time) *ical.Calendar {
	if loc == nil {
		loc = time.UTC
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	for _, entry := range entries {
		if !entry.Item.Enabled {
			continue
		}
		cal.Children = append(cal.Children, event(entry, loc, now).Component)
	}
	return cal
}

func event(entry Entry, loc *time.Location, now time.Time) *ical.Event {
	item := entry.Item
	start := item.StartAt
	if entry.Next != nil {
		start = entry.Next.OriginalScheduledTime
	}
	start = start.In(loc)

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, item.UID)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, start)
	ev.Props.SetText(ical.PropSummary, item.Title)
	if desc := strings.TrimSpace(item.Description); desc != "" {
		ev.Props.SetText(ical.PropDescription, desc)
	}
	ev.Props.SetText(ical.PropCategories, strings.ToUpper(string(item.Type)))

	if opt, ok := item.Rule().ROption(start); ok {
		ev.Props.SetRecurrenceRule(&opt)
	}

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, item.Title)
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = "PT0S"
	alarm.Props.Set(trigger)
	ev.Children = append(ev.Children, alarm)

	return ev
}
