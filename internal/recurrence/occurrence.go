package recurrence

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a single occurrence.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
	StatusSnoozed   Status = "snoozed"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

// Live reports whether the occurrence still waits for, or is showing, a
// notification. An item has at most one live occurrence.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusTriggered || s == StatusSnoozed
}

// Occurrence is one concrete trigger instant of an item.
type Occurrence struct {
	ItemID                uint
	ScheduledTime         time.Time
	OriginalScheduledTime time.Time
	SnoozeCount           int
	Status                Status
}

// NewOccurrence starts a chain at the given time.
func NewOccurrence(itemID uint, at time.Time) Occurrence {
	return Occurrence{
		ItemID:                itemID,
		ScheduledTime:         at,
		OriginalScheduledTime: at,
		Status:                StatusPending,
	}
}

// Trigger fires a pending or snoozed occurrence.
func (o Occurrence) Trigger() (Occurrence, error) {
	if o.Status != StatusPending && o.Status != StatusSnoozed {
		return o, stateError("trigger", o.Status)
	}
	o.Status = StatusTriggered
	return o, nil
}

// Complete closes a triggered occurrence. A snoozed one may be completed
// before it fires again.
func (o Occurrence) Complete() (Occurrence, error) {
	if o.Status != StatusTriggered && o.Status != StatusSnoozed {
		return o, stateError("complete", o.Status)
	}
	o.Status = StatusCompleted
	return o, nil
}

// Miss closes any live occurrence without completion.
func (o Occurrence) Miss() (Occurrence, error) {
	if !o.Status.Live() {
		return o, stateError("miss", o.Status)
	}
	o.Status = StatusMissed
	return o, nil
}

// Next derives the fresh pending occurrence that follows a terminal one. The
// chain is anchored on OriginalScheduledTime so snoozing never shifts the
// cadence. ok is false for non-recurring rules.
func (o Occurrence) Next(rule Rule, now time.Time) (Occurrence, bool, error) {
	if !o.Status.Terminal() {
		return Occurrence{}, false, stateError("reschedule", o.Status)
	}
	at, ok, err := NextOccurrence(rule, o.OriginalScheduledTime, now)
	if err != nil || !ok {
		return Occurrence{}, false, err
	}
	return NewOccurrence(o.ItemID, at), true, nil
}

func stateError(op string, s Status) error {
	return fmt.Errorf("%w: cannot %s a %s occurrence", ErrInvalidState, op, s)
}
