package model

import "time"

// Category groups items by area (work, health, home, etc.).
type Category struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index:idx_user_category_name,unique"`
	Name      string `gorm:"index:idx_user_category_name,unique"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []Item `gorm:"foreignKey:CategoryID"`
}
