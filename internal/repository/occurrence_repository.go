package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
)

var liveStatuses = []recurrence.Status{
	recurrence.StatusPending,
	recurrence.StatusTriggered,
	recurrence.StatusSnoozed,
}

// OccurrenceRepository stores occurrence chains.
type OccurrenceRepository struct {
	db *gorm.DB
}

func NewOccurrenceRepository(db *gorm.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// ReplaceLive settles occurrences and installs live as the item's only live
// occurrence, atomically. settled rows must be terminal. Any other live row
// of the item is dropped when it never fired, or marked missed otherwise.
// live may be nil when the chain has ended.
func (r *OccurrenceRepository) ReplaceLive(ctx context.Context, itemID uint, settled []model.Occurrence, live *model.Occurrence) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keep := []uint{0}
		for i := range settled {
			o := &settled[i]
			if !o.Status.Terminal() {
				return fmt.Errorf("settle occurrence: %w: status %s", recurrence.ErrInvalidState, o.Status)
			}
			o.ItemID = itemID
			if err := tx.Omit(clause.Associations).Save(o).Error; err != nil {
				return fmt.Errorf("settle occurrence: %w", err)
			}
			keep = append(keep, o.ID)
		}
		if live != nil {
			if !live.Status.Live() {
				return fmt.Errorf("store live occurrence: %w: status %s", recurrence.ErrInvalidState, live.Status)
			}
			live.ItemID = itemID
			if err := tx.Omit(clause.Associations).Save(live).Error; err != nil {
				return fmt.Errorf("store live occurrence: %w", err)
			}
			keep = append(keep, live.ID)
		}

		stale := tx.Where("item_id = ? AND id NOT IN ?", itemID, keep).Session(&gorm.Session{})
		if err := stale.
			Where("status = ?", recurrence.StatusPending).
			Delete(&model.Occurrence{}).Error; err != nil {
			return fmt.Errorf("drop pending occurrences: %w", err)
		}
		if err := stale.Model(&model.Occurrence{}).
			Where("status IN ?", liveStatuses).
			Update("status", recurrence.StatusMissed).Error; err != nil {
			return fmt.Errorf("close live occurrences: %w", err)
		}
		return nil
	})
}

// Save updates a single row without changing which occurrence is live.
func (r *OccurrenceRepository) Save(ctx context.Context, o *model.Occurrence) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(o).Error; err != nil {
		return fmt.Errorf("save occurrence: %w", err)
	}
	return nil
}

// FindByID loads an occurrence with its item and owner.
func (r *OccurrenceRepository) FindByID(ctx context.Context, id uint) (*model.Occurrence, error) {
	var o model.Occurrence
	if err := r.db.WithContext(ctx).Preload("Item.User").First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// Live returns the item's live occurrence or gorm.ErrRecordNotFound.
func (r *OccurrenceRepository) Live(ctx context.Context, itemID uint) (*model.Occurrence, error) {
	var o model.Occurrence
	if err := r.db.WithContext(ctx).Preload("Item.User").
		Where("item_id = ? AND status IN ?", itemID, liveStatuses).
		Order("scheduled_time DESC").First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// Due lists pending or snoozed occurrences of enabled items scheduled at or
// before now.
func (r *OccurrenceRepository) Due(ctx context.Context, now time.Time) ([]model.Occurrence, error) {
	var out []model.Occurrence
	enabled := r.db.Model(&model.Item{}).Select("id").Where("enabled = ?", true)
	if err := r.db.WithContext(ctx).Preload("Item.User").
		Where("status IN ? AND scheduled_time <= ?", []recurrence.Status{recurrence.StatusPending, recurrence.StatusSnoozed}, now.UTC()).
		Where("item_id IN (?)", enabled).
		Order("scheduled_time ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list due occurrences: %w", err)
	}
	return out, nil
}

// Unanswered lists triggered occurrences scheduled at or before before.
func (r *OccurrenceRepository) Unanswered(ctx context.Context, before time.Time) ([]model.Occurrence, error) {
	var out []model.Occurrence
	if err := r.db.WithContext(ctx).Preload("Item.User").
		Where("status = ? AND scheduled_time <= ?", recurrence.StatusTriggered, before.UTC()).
		Order("scheduled_time ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list unanswered occurrences: %w", err)
	}
	return out, nil
}

// History returns the item's occurrences, newest first.
func (r *OccurrenceRepository) History(ctx context.Context, itemID uint, limit int) ([]model.Occurrence, error) {
	var out []model.Occurrence
	q := r.db.WithContext(ctx).Where("item_id = ?", itemID).
		Order("original_scheduled_time DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// Upcoming lists live occurrences of the user's enabled items scheduled
// before until, soonest first.
func (r *OccurrenceRepository) Upcoming(ctx context.Context, userID uint, until time.Time) ([]model.Occurrence, error) {
	var out []model.Occurrence
	owned := r.db.Model(&model.Item{}).Select("id").Where("user_id = ? AND enabled = ?", userID, true)
	if err := r.db.WithContext(ctx).Preload("Item").
		Where("status IN ? AND scheduled_time < ?", liveStatuses, until.UTC()).
		Where("item_id IN (?)", owned).
		Order("scheduled_time ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list upcoming occurrences: %w", err)
	}
	return out, nil
}

// MissedSince lists the user's missed occurrences originally scheduled at or
// after since.
func (r *OccurrenceRepository) MissedSince(ctx context.Context, userID uint, since time.Time) ([]model.Occurrence, error) {
	var out []model.Occurrence
	owned := r.db.Model(&model.Item{}).Select("id").Where("user_id = ?", userID)
	if err := r.db.WithContext(ctx).Preload("Item").
		Where("status = ? AND original_scheduled_time >= ?", recurrence.StatusMissed, since.UTC()).
		Where("item_id IN (?)", owned).
		Order("original_scheduled_time ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list missed occurrences: %w", err)
	}
	return out, nil
}
