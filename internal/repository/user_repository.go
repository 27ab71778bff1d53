package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-calendar/internal/model"
)

// UserRepository keeps Telegram users and their timezone.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram inserts the user or refreshes their profile fields and
// returns the stored row. The timezone is never touched here.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	db := r.db.WithContext(ctx)
	row := model.User{
		TelegramID: telegramID,
		FirstName:  firstName,
		LastName:   lastName,
		Username:   username,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "username", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", telegramID, err)
	}

	var user model.User
	if err := db.Where(&model.User{TelegramID: telegramID}).Take(&user).Error; err != nil {
		return nil, fmt.Errorf("load user %d: %w", telegramID, err)
	}
	return &user, nil
}

// ListWithEnabledItems returns the users that have at least one enabled item.
func (r *UserRepository) ListWithEnabledItems(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("EXISTS (SELECT 1 FROM items WHERE items.user_id = users.id AND items.enabled = ?)", true).
		Order("id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetTimezone validates and stores an IANA zone name for the user.
func (r *UserRepository) SetTimezone(ctx context.Context, user *model.User, tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	if err := r.db.WithContext(ctx).Model(user).Update("timezone", tz).Error; err != nil {
		return fmt.Errorf("update timezone: %w", err)
	}
	return nil
}
