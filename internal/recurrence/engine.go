package recurrence

import (
	"fmt"
	"slices"
	"time"
)

const DefaultMaxCatchUp = 1000

// DefaultSnoozeOptions are the postponements offered on a triggered occurrence.
var DefaultSnoozeOptions = []time.Duration{
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
}

// NextOccurrence returns the earliest instant after from, and after now when
// from already lies in the past, that satisfies rule. Wall-clock time of day
// is taken from from, in from's location. ok is false for non-recurring rules:
// the caller must not schedule anything.
func NextOccurrence(rule Rule, from, now time.Time) (next time.Time, ok bool, err error) {
	if !rule.IsRecurring() {
		return time.Time{}, false, nil
	}
	if err := rule.Validate(); err != nil {
		return time.Time{}, false, err
	}

	after := from
	if now.After(after) {
		after = now.In(from.Location())
	}

	switch rule.Kind {
	case KindDaily:
		return nextDaily(from, after, rule.Interval), true, nil
	case KindMonthly:
		return nextMonthly(from, after, rule), true, nil
	}

	interval := rule.Interval
	if rule.Kind == KindCustomDays {
		interval = 1
	}
	next, found := nextOnDays(from, after, rule.Days, interval)
	if !found {
		return time.Time{}, false, fmt.Errorf("%w: no matching day after %s", ErrRecurrenceOverflow, after.Format(time.RFC3339))
	}
	return next, true, nil
}

// FirstOccurrence returns the first instant at or after start, and after now,
// on which rule fires. A non-recurring rule fires at start itself, so ok is
// false once start has passed.
func FirstOccurrence(rule Rule, start, now time.Time) (first time.Time, ok bool, err error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, false, err
	}
	if start.After(now) && rule.matches(start) {
		return start, true, nil
	}
	if !rule.IsRecurring() {
		return time.Time{}, false, nil
	}
	if rule.Kind == KindMonthly && rule.MonthDay != 0 {
		if c := addMonthsClamped(start, 0, rule.MonthDay); !c.Before(start) && c.After(now) {
			return c, true, nil
		}
	}
	return NextOccurrence(rule, start, now)
}

// matches reports whether t falls on a day the rule fires on.
func (r Rule) matches(t time.Time) bool {
	switch r.Kind {
	case KindWeekly, KindCustomDays:
		return r.Days.Has(t.Weekday())
	case KindMonthly:
		return r.MonthDay == 0 || t.Day() == min(r.MonthDay, daysInMonth(t.Month(), t.Year()))
	}
	return true
}

func nextDaily(from, after time.Time, interval int) time.Time {
	next := from.AddDate(0, 0, interval)
	if next.After(after) {
		return next
	}
	// Jump close to after; one step short so DST shifts never overshoot.
	if steps := int(after.Sub(next).Hours()/24)/interval - 1; steps > 0 {
		next = next.AddDate(0, 0, steps*interval)
	}
	for !next.After(after) {
		next = next.AddDate(0, 0, interval)
	}
	return next
}

// nextOnDays scans forward from after's calendar day for the first day in
// days. With interval > 1 only every interval-th week, counted from from's
// week, qualifies.
func nextOnDays(from, after time.Time, days Weekdays, interval int) (time.Time, bool) {
	loc := from.Location()
	anchor := weekStart(from)
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, loc)

	limit := 7*interval + 7
	for i := 0; i <= limit; i++ {
		d := day.AddDate(0, 0, i)
		if !days.Has(d.Weekday()) {
			continue
		}
		if interval > 1 && weeksBetween(anchor, weekStart(d))%interval != 0 {
			continue
		}
		candidate := atClock(d, from)
		if candidate.After(after) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

func nextMonthly(from, after time.Time, rule Rule) time.Time {
	day := rule.MonthDay
	if day == 0 {
		day = from.Day()
	}
	elapsed := (after.Year()-from.Year())*12 + int(after.Month()) - int(from.Month())
	k := elapsed / rule.Interval
	if k < 1 {
		k = 1
	}
	for ; ; k++ {
		candidate := addMonthsClamped(from, k*rule.Interval, day)
		if candidate.After(after) {
			return candidate
		}
	}
}

// addMonthsClamped moves from by months, landing on day or on the last day of
// the target month when it is shorter.
func addMonthsClamped(from time.Time, months, day int) time.Time {
	total := int(from.Month()) - 1 + months
	year := from.Year() + total/12
	month := time.Month(total%12 + 1)
	if last := daysInMonth(month, year); day > last {
		day = last
	}
	return time.Date(year, month, day, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

func daysInMonth(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func atClock(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

func weekStart(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return d.AddDate(0, 0, -mondayIndex(d.Weekday()))
}

func weeksBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours()/24) / 7
}

// Engine carries the limits applied by CatchUp and Snooze.
type Engine struct {
	maxCatchUp    int
	snoozeOptions []time.Duration
}

// NewEngine returns an engine with the given catch-up cap and allowed snooze
// durations. Zero values select DefaultMaxCatchUp and DefaultSnoozeOptions.
func NewEngine(maxCatchUp int, snoozeOptions []time.Duration) *Engine {
	if maxCatchUp <= 0 {
		maxCatchUp = DefaultMaxCatchUp
	}
	if len(snoozeOptions) == 0 {
		snoozeOptions = DefaultSnoozeOptions
	}
	opts := slices.Clone(snoozeOptions)
	slices.Sort(opts)
	return &Engine{maxCatchUp: maxCatchUp, snoozeOptions: opts}
}

func (e *Engine) SnoozeOptions() []time.Duration {
	return slices.Clone(e.snoozeOptions)
}

// CatchUp replays rule from lastKnown up to now. Every occurrence at or before
// now comes back with StatusMissed, in order, followed by the one pending
// occurrence after now. Non-recurring rules yield nothing.
func (e *Engine) CatchUp(itemID uint, rule Rule, lastKnown, now time.Time) ([]Occurrence, error) {
	if !rule.IsRecurring() {
		return nil, nil
	}
	if rule.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval %d never advances", ErrRecurrenceOverflow, rule.Interval)
	}

	var out []Occurrence
	current := lastKnown
	for step := 0; ; step++ {
		if step >= e.maxCatchUp {
			return out, fmt.Errorf("%w: more than %d occurrences since %s", ErrRecurrenceOverflow, e.maxCatchUp, lastKnown.Format(time.RFC3339))
		}
		next, ok, err := NextOccurrence(rule, current, current)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		if !next.After(current) {
			return out, fmt.Errorf("%w: rule stalled at %s", ErrRecurrenceOverflow, current.Format(time.RFC3339))
		}

		occ := NewOccurrence(itemID, next)
		if next.After(now) {
			return append(out, occ), nil
		}
		occ.Status = StatusMissed
		out = append(out, occ)
		current = next
	}
}

// Snooze postpones a triggered or already snoozed occurrence to now+d.
func (e *Engine) Snooze(o Occurrence, d time.Duration, now time.Time) (Occurrence, error) {
	if o.Status != StatusTriggered && o.Status != StatusSnoozed {
		return o, stateError("snooze", o.Status)
	}
	if !slices.Contains(e.snoozeOptions, d) {
		return o, fmt.Errorf("%w: %s", ErrInvalidSnooze, d)
	}
	o.ScheduledTime = now.Add(d)
	o.Status = StatusSnoozed
	o.SnoozeCount++
	return o, nil
}
