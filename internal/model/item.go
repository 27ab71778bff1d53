package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"smart-calendar/internal/recurrence"
)

// ItemType tells reminders, tasks and alarms apart. They share scheduling and
// differ only in how they are presented.
type ItemType string

const (
	ItemReminder ItemType = "reminder"
	ItemTask     ItemType = "task"
	ItemAlarm    ItemType = "alarm"
)

// ParseItemType accepts the type names and a few aliases.
func ParseItemType(raw string) (ItemType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "reminder", "remind":
		return ItemReminder, true
	case "task", "todo":
		return ItemTask, true
	case "alarm", "wake":
		return ItemAlarm, true
	default:
		return "", false
	}
}

func (t ItemType) Icon() string {
	switch t {
	case ItemTask:
		return "✅"
	case ItemAlarm:
		return "⏰"
	default:
		return "🔔"
	}
}

// Item is a schedulable reminder, task or alarm. Its recurrence rule is
// embedded and never shared.
type Item struct {
	ID          uint   `gorm:"primaryKey"`
	UID         string `gorm:"uniqueIndex;size:36"`
	UserID      uint   `gorm:"index"`
	User        User
	CategoryID  *uint `gorm:"index"`
	Type        ItemType
	Title       string
	Description string
	StartAt     time.Time
	Enabled     bool

	RepeatKind     recurrence.Kind
	RepeatDays     recurrence.Weekdays
	RepeatInterval int
	RepeatMonthDay int

	// NeedsReview is set when catch-up overflowed and the rule was disabled.
	NeedsReview bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns the stable UID used in calendar exports.
func (i *Item) BeforeCreate(*gorm.DB) error {
	if i.UID == "" {
		i.UID = uuid.NewString()
	}
	return nil
}

func (i *Item) BeforeSave(*gorm.DB) error {
	i.StartAt = i.StartAt.UTC()
	return nil
}

func (i Item) Rule() recurrence.Rule {
	kind := i.RepeatKind
	if kind == "" {
		kind = recurrence.KindNone
	}
	return recurrence.Rule{
		Kind:     kind,
		Days:     i.RepeatDays,
		Interval: i.RepeatInterval,
		MonthDay: i.RepeatMonthDay,
	}
}

func (i *Item) SetRule(r recurrence.Rule) {
	i.RepeatKind = r.Kind
	i.RepeatDays = r.Days
	i.RepeatInterval = r.Interval
	i.RepeatMonthDay = r.MonthDay
}

func (i Item) IsRecurring() bool {
	return i.Rule().IsRecurring()
}
