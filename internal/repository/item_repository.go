package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-calendar/internal/model"
)

// ItemRepository handles CRUD for reminders, tasks and alarms.
type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create stores the item together with its first occurrence.
func (r *ItemRepository) Create(ctx context.Context, item *model.Item, first *model.Occurrence) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(item).Error; err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		if first == nil {
			return nil
		}
		first.ItemID = item.ID
		if err := tx.Omit(clause.Associations).Create(first).Error; err != nil {
			return fmt.Errorf("create occurrence: %w", err)
		}
		return nil
	})
}

func (r *ItemRepository) Save(ctx context.Context, item *model.Item) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(item).Error; err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	return nil
}

func (r *ItemRepository) FindByID(ctx context.Context, userID, itemID uint) (*model.Item, error) {
	var item model.Item
	if err := r.db.WithContext(ctx).Preload("User").
		Where("user_id = ? AND id = ?", userID, itemID).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *ItemRepository) ListByUser(ctx context.Context, userID uint) ([]model.Item, error) {
	var items []model.Item
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("enabled DESC, start_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ItemRepository) SetEnabled(ctx context.Context, item *model.Item, enabled bool) error {
	updates := map[string]interface{}{"enabled": enabled}
	if enabled {
		updates["needs_review"] = false
	}
	if err := r.db.WithContext(ctx).Model(item).Omit(clause.Associations).Updates(updates).Error; err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	item.Enabled = enabled
	if enabled {
		item.NeedsReview = false
	}
	return nil
}

// Delete removes an item and its whole occurrence history.
func (r *ItemRepository) Delete(ctx context.Context, userID, itemID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND id = ?", userID, itemID).Delete(&model.Item{})
		if res.Error != nil {
			return fmt.Errorf("delete item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("item_id = ?", itemID).Delete(&model.Occurrence{}).Error; err != nil {
			return fmt.Errorf("delete occurrences: %w", err)
		}
		return nil
	})
}
