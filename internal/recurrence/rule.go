package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind selects how a rule repeats.
type Kind string

const (
	KindNone       Kind = "none"
	KindDaily      Kind = "daily"
	KindWeekly     Kind = "weekly"
	KindMonthly    Kind = "monthly"
	KindCustomDays Kind = "custom"
)

// Weekdays is a set of days of the week stored as a bitmask (bit 0 = Sunday).
type Weekdays uint8

// NewWeekdays builds a set from the given days.
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

func (w Weekdays) Empty() bool {
	return w&0x7f == 0
}

// Days lists the set Monday first.
func (w Weekdays) Days() []time.Weekday {
	var out []time.Weekday
	for _, d := range mondayFirst {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (w Weekdays) String() string {
	days := w.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = weekdayNames[d]
	}
	return strings.Join(names, ",")
}

var mondayFirst = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// ParseWeekdays reads a comma separated list such as "mon,wed,fri".
func ParseWeekdays(raw string) (Weekdays, error) {
	var w Weekdays
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for d, name := range weekdayNames {
			if part == name || (len(part) > 3 && strings.HasPrefix(strings.ToLower(d.String()), part)) {
				w |= NewWeekdays(d)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidRule, part)
		}
	}
	return w, nil
}

// Rule is the repetition policy embedded in a reminder, task or alarm.
type Rule struct {
	Kind     Kind
	Days     Weekdays
	Interval int
	// MonthDay pins monthly rules to a day of month; zero means the day of the
	// anchor occurrence.
	MonthDay int
}

// Once is the non-repeating rule.
func Once() Rule { return Rule{Kind: KindNone} }

func Daily(interval int) Rule { return Rule{Kind: KindDaily, Interval: interval} }

func Weekly(interval int, days ...time.Weekday) Rule {
	return Rule{Kind: KindWeekly, Interval: interval, Days: NewWeekdays(days...)}
}

func Monthly(interval int) Rule { return Rule{Kind: KindMonthly, Interval: interval} }

func CustomDays(days ...time.Weekday) Rule {
	return Rule{Kind: KindCustomDays, Interval: 1, Days: NewWeekdays(days...)}
}

// IsRecurring reports whether the rule produces more than one occurrence.
func (r Rule) IsRecurring() bool {
	return r.Kind != KindNone && r.Kind != ""
}

// Validate checks the rule invariants. KindNone is always valid.
func (r Rule) Validate() error {
	switch r.Kind {
	case KindNone, "":
		return nil
	case KindDaily, KindMonthly:
	case KindWeekly, KindCustomDays:
		if r.Days.Empty() {
			return fmt.Errorf("%w: %s rule needs at least one weekday", ErrInvalidRule, r.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidRule, r.Interval)
	}
	if r.MonthDay < 0 || r.MonthDay > 31 {
		return fmt.Errorf("%w: month day %d out of range", ErrInvalidRule, r.MonthDay)
	}
	return nil
}

// AnchoredAt fills the parts of a rule that default to the first occurrence:
// a weekly rule without days repeats on that weekday, and a monthly rule is
// pinned to that day so clamping in short months does not drift later ones.
func (r Rule) AnchoredAt(first time.Time) Rule {
	switch {
	case r.Kind == KindMonthly && r.MonthDay == 0:
		r.MonthDay = first.Day()
	case r.Kind == KindWeekly && r.Days.Empty():
		r.Days = NewWeekdays(first.Weekday())
	}
	return r
}

// Unanchored undoes AnchoredAt for a rule anchored at first, so it can be
// re-anchored at a new start. Explicit days that differ from first are kept.
func (r Rule) Unanchored(first time.Time) Rule {
	switch {
	case r.Kind == KindMonthly && r.MonthDay == first.Day():
		r.MonthDay = 0
	case r.Kind == KindWeekly && r.Days == NewWeekdays(first.Weekday()):
		r.Days = 0
	}
	return r
}

// String renders the compact form accepted by ParseRule.
func (r Rule) String() string {
	var b strings.Builder
	switch r.Kind {
	case KindNone, "":
		return string(KindNone)
	case KindWeekly, KindCustomDays:
		b.WriteString(string(r.Kind))
		b.WriteByte(':')
		b.WriteString(r.Days.String())
	default:
		b.WriteString(string(r.Kind))
	}
	if r.Interval > 1 {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(r.Interval))
	}
	return b.String()
}

// ParseRule reads the compact form: "none", "daily", "daily/2",
// "weekly:mon,thu", "weekly:fri/2", "monthly", "custom:sat,sun".
// A missing interval means 1. RRULE strings are accepted as well.
func ParseRule(raw string) (Rule, error) {
	if strings.Contains(strings.ToUpper(raw), "FREQ=") {
		return FromRRule(raw)
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == string(KindNone) || raw == "once" {
		return Once(), nil
	}

	rule := Rule{Interval: 1}
	if head, tail, ok := strings.Cut(raw, "/"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(tail))
		if err != nil {
			return Rule{}, fmt.Errorf("%w: bad interval %q", ErrInvalidRule, tail)
		}
		rule.Interval = n
		raw = head
	}

	name, days, _ := strings.Cut(raw, ":")
	switch Kind(strings.TrimSpace(name)) {
	case KindDaily:
		rule.Kind = KindDaily
	case KindMonthly:
		rule.Kind = KindMonthly
	case KindWeekly:
		rule.Kind = KindWeekly
	case KindCustomDays, "days":
		rule.Kind = KindCustomDays
	default:
		return Rule{}, fmt.Errorf("%w: unknown repeat %q", ErrInvalidRule, name)
	}

	if days != "" {
		w, err := ParseWeekdays(days)
		if err != nil {
			return Rule{}, err
		}
		rule.Days = w
	}

	if err := rule.validateUnanchored(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// validateUnanchored is Validate for a rule not yet anchored: plain weekly
// takes its day from the first occurrence, see AnchoredAt.
func (r Rule) validateUnanchored() error {
	if r.Kind == KindWeekly && r.Days.Empty() {
		r.Days = NewWeekdays(time.Monday)
	}
	return r.Validate()
}

func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
