package model

import (
	"time"

	"gorm.io/gorm"

	"smart-calendar/internal/recurrence"
)

// Occurrence is the persisted form of recurrence.Occurrence.
type Occurrence struct {
	ID                    uint `gorm:"primaryKey"`
	ItemID                uint `gorm:"index"`
	Item                  Item
	ScheduledTime         time.Time `gorm:"index"`
	OriginalScheduledTime time.Time
	SnoozeCount           int
	Status                recurrence.Status `gorm:"index"`
	// MessageID is the Telegram message of the last notification, replaced on
	// every re-trigger.
	MessageID int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeSave stores instants in UTC; SQLite compares them as text.
func (o *Occurrence) BeforeSave(*gorm.DB) error {
	o.ScheduledTime = o.ScheduledTime.UTC()
	o.OriginalScheduledTime = o.OriginalScheduledTime.UTC()
	return nil
}

func NewOccurrence(o recurrence.Occurrence) Occurrence {
	var row Occurrence
	row.Apply(o)
	return row
}

// Domain returns the engine view of the row with times in loc, the zone the
// item's wall-clock schedule is kept in.
func (o Occurrence) Domain(loc *time.Location) recurrence.Occurrence {
	return recurrence.Occurrence{
		ItemID:                o.ItemID,
		ScheduledTime:         o.ScheduledTime.In(loc),
		OriginalScheduledTime: o.OriginalScheduledTime.In(loc),
		SnoozeCount:           o.SnoozeCount,
		Status:                o.Status,
	}
}

// Apply copies an engine result onto the row.
func (o *Occurrence) Apply(d recurrence.Occurrence) {
	o.ItemID = d.ItemID
	o.ScheduledTime = d.ScheduledTime
	o.OriginalScheduledTime = d.OriginalScheduledTime
	o.SnoozeCount = d.SnoozeCount
	o.Status = d.Status
}
