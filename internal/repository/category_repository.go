package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"smart-calendar/internal/model"
)

// CategoryRepository stores per-user categories. Names are unique per user.
type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// GetOrCreate returns nil for a blank name.
func (r *CategoryRepository) GetOrCreate(ctx context.Context, userID uint, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	category := model.Category{UserID: userID, Name: name}
	err := r.db.WithContext(ctx).
		Where(model.Category{UserID: userID, Name: name}).
		FirstOrCreate(&category).Error
	if err != nil {
		return nil, fmt.Errorf("get or create category %q: %w", name, err)
	}
	return &category, nil
}

func (r *CategoryRepository) ListByUser(ctx context.Context, userID uint) ([]model.Category, error) {
	var categories []model.Category
	err := r.db.WithContext(ctx).Where(&model.Category{UserID: userID}).Order("name").Find(&categories).Error
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}
