package model

import "time"

// User stores Telegram user metadata and the zone their items are scheduled in.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	Timezone   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Location resolves Timezone, falling back to fallback when unset or unknown.
func (u User) Location(fallback *time.Location) *time.Location {
	if u.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}
