package recurrence

import "errors"

var (
	// ErrInvalidRule rejects a malformed rule; the owning item must not be saved.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrInvalidState is returned when a transition does not apply to the
	// occurrence's current status. The occurrence is left untouched.
	ErrInvalidState = errors.New("invalid occurrence state")
	// ErrRecurrenceOverflow stops catch-up for rules that do not advance or
	// produce more occurrences than the configured cap.
	ErrRecurrenceOverflow = errors.New("recurrence overflow")
	ErrInvalidSnooze      = errors.New("snooze duration not allowed")
)
