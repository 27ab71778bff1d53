package service

import (
	"context"

	"smart-calendar/internal/model"
	"smart-calendar/internal/repository"
)

// CategoryService provides helpers around categories.
type CategoryService struct {
	repo *repository.CategoryRepository
}

func NewCategoryService(repo *repository.CategoryRepository) *CategoryService {
	return &CategoryService{repo: repo}
}

func (s *CategoryService) List(ctx context.Context, user *model.User) ([]model.Category, error) {
	return s.repo.ListByUser(ctx, user.ID)
}

// Names maps category IDs to names for rendering lists.
func (s *CategoryService) Names(ctx context.Context, user *model.User) (map[uint]string, error) {
	categories, err := s.repo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}
