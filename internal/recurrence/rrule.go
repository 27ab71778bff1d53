package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var toRRuleDay = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// ROption converts the rule into RFC 5545 options starting at dtstart.
// ok is false for non-recurring rules.
func (r Rule) ROption(dtstart time.Time) (opt rrule.ROption, ok bool) {
	if !r.IsRecurring() {
		return rrule.ROption{}, false
	}
	r = r.AnchoredAt(dtstart)

	opt = rrule.ROption{
		Interval: r.Interval,
		Dtstart:  dtstart,
		Wkst:     rrule.MO,
	}
	switch r.Kind {
	case KindDaily:
		opt.Freq = rrule.DAILY
	case KindWeekly, KindCustomDays:
		opt.Freq = rrule.WEEKLY
		if r.Kind == KindCustomDays {
			opt.Interval = 1
		}
		for _, d := range r.Days.Days() {
			opt.Byweekday = append(opt.Byweekday, toRRuleDay[d])
		}
	case KindMonthly:
		opt.Freq = rrule.MONTHLY
		if r.MonthDay <= 28 {
			opt.Bymonthday = []int{r.MonthDay}
			break
		}
		// Last of 28..MonthDay present in the month gives the clamped day.
		for d := 28; d <= r.MonthDay; d++ {
			opt.Bymonthday = append(opt.Bymonthday, d)
		}
		opt.Bysetpos = []int{-1}
	}
	return opt, true
}

// RRule renders the RRULE value (without the "RRULE:" prefix). Empty for
// non-recurring rules.
func (r Rule) RRule(dtstart time.Time) string {
	opt, ok := r.ROption(dtstart)
	if !ok {
		return ""
	}
	return opt.RRuleString()
}

// FromRRule reads an RFC 5545 RRULE limited to what Rule can express:
// DAILY, WEEKLY with optional plain BYDAY, MONTHLY with one BYMONTHDAY or the
// clamped 28..N;BYSETPOS=-1 form ROption writes. Anything else is rejected
// rather than narrowed.
func FromRRule(raw string) (Rule, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if opt.Count > 0 || !opt.Until.IsZero() {
		return Rule{}, fmt.Errorf("%w: COUNT and UNTIL are not supported", ErrInvalidRule)
	}
	for part, values := range map[string][]int{
		"BYHOUR":    opt.Byhour,
		"BYMINUTE":  opt.Byminute,
		"BYSECOND":  opt.Bysecond,
		"BYYEARDAY": opt.Byyearday,
		"BYWEEKNO":  opt.Byweekno,
		"BYMONTH":   opt.Bymonth,
		"BYEASTER":  opt.Byeaster,
	} {
		if len(values) > 0 {
			return Rule{}, fmt.Errorf("%w: %s is not supported", ErrInvalidRule, part)
		}
	}

	rule := Rule{Interval: opt.Interval}
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	switch opt.Freq {
	case rrule.DAILY:
		rule.Kind = KindDaily
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 {
			return Rule{}, fmt.Errorf("%w: daily rules take no BY parts", ErrInvalidRule)
		}
	case rrule.WEEKLY:
		rule.Kind = KindWeekly
		if len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 {
			return Rule{}, fmt.Errorf("%w: weekly rules take only BYDAY", ErrInvalidRule)
		}
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return Rule{}, fmt.Errorf("%w: BYDAY %v has an ordinal", ErrInvalidRule, wd)
			}
			rule.Days |= NewWeekdays(time.Weekday((wd.Day() + 1) % 7))
		}
	case rrule.MONTHLY:
		rule.Kind = KindMonthly
		if len(opt.Byweekday) > 0 {
			return Rule{}, fmt.Errorf("%w: BYDAY on monthly rules is not supported", ErrInvalidRule)
		}
		day, err := monthDay(opt.Bymonthday, opt.Bysetpos)
		if err != nil {
			return Rule{}, err
		}
		rule.MonthDay = day
	default:
		return Rule{}, fmt.Errorf("%w: frequency %v is not supported", ErrInvalidRule, opt.Freq)
	}
	if err := rule.validateUnanchored(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// monthDay accepts a single positive BYMONTHDAY, or 28..N with BYSETPOS=-1.
func monthDay(days, setpos []int) (int, error) {
	switch {
	case len(days) == 0 && len(setpos) == 0:
		return 0, nil
	case len(days) == 1 && len(setpos) == 0:
		if days[0] < 1 || days[0] > 31 {
			return 0, fmt.Errorf("%w: BYMONTHDAY %d is not supported", ErrInvalidRule, days[0])
		}
		return days[0], nil
	case len(setpos) == 1 && setpos[0] == -1 && len(days) > 1:
		sorted := slices.Clone(days)
		slices.Sort(sorted)
		for i, d := range sorted {
			if d != 28+i {
				return 0, fmt.Errorf("%w: BYMONTHDAY %v is not supported", ErrInvalidRule, days)
			}
		}
		if last := sorted[len(sorted)-1]; last <= 31 {
			return last, nil
		}
	}
	return 0, fmt.Errorf("%w: BYMONTHDAY %v with BYSETPOS %v is not supported", ErrInvalidRule, days, setpos)
}

// Describe is a short English summary for notifications and lists.
func (r Rule) Describe() string {
	if !r.IsRecurring() {
		return "once"
	}
	every := func(unit string) string {
		if r.Interval <= 1 {
			return "every " + unit
		}
		return fmt.Sprintf("every %d %ss", r.Interval, unit)
	}
	names := func() string {
		days := r.Days.Days()
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = d.String()[:3]
		}
		return strings.Join(parts, ", ")
	}

	switch r.Kind {
	case KindDaily:
		return every("day")
	case KindWeekly:
		if r.Days.Empty() {
			return every("week")
		}
		return every("week") + " on " + names()
	case KindCustomDays:
		return "on " + names()
	case KindMonthly:
		if r.MonthDay == 0 {
			return every("month")
		}
		s := fmt.Sprintf("%s on day %d", every("month"), r.MonthDay)
		if r.MonthDay > 28 {
			s += " (last day in shorter months)"
		}
		return s
	}
	return string(r.Kind)
}
