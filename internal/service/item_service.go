package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/repository"
)

var (
	ErrEmptyTitle = errors.New("title is required")
	ErrPastTime   = errors.New("time is already in the past")
)

// ItemInput represents data required to create or edit an item.
type ItemInput struct {
	Type        model.ItemType
	Title       string
	Description string
	Category    string
	At          time.Time
	Rule        recurrence.Rule
}

// ItemWithNext pairs an item with its live occurrence, if any.
type ItemWithNext struct {
	Item model.Item
	Next *model.Occurrence
}

// ItemService wraps item-related business logic.
type ItemService struct {
	items        *repository.ItemRepository
	occurrences  *repository.OccurrenceRepository
	categoryRepo *repository.CategoryRepository
	loc          *time.Location
}

func NewItemService(items *repository.ItemRepository, occurrences *repository.OccurrenceRepository, categoryRepo *repository.CategoryRepository, loc *time.Location) *ItemService {
	if loc == nil {
		loc = time.Local
	}
	return &ItemService{items: items, occurrences: occurrences, categoryRepo: categoryRepo, loc: loc}
}

// Create validates the rule, stores the item and schedules its first
// occurrence. An invalid rule rejects the save.
func (s *ItemService) Create(ctx context.Context, user *model.User, in ItemInput, now time.Time) (*model.Item, *model.Occurrence, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, nil, ErrEmptyTitle
	}
	if in.Type == "" {
		in.Type = model.ItemReminder
	}

	start := in.At.In(user.Location(s.loc))
	rule := in.Rule.AnchoredAt(start)
	first, err := firstOccurrence(rule, start, now)
	if err != nil {
		return nil, nil, err
	}

	categoryID, err := s.categoryID(ctx, user, in.Category)
	if err != nil {
		return nil, nil, err
	}

	item := model.Item{
		UserID:      user.ID,
		CategoryID:  categoryID,
		Type:        in.Type,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		StartAt:     first,
		Enabled:     true,
	}
	item.SetRule(rule)

	occ := model.NewOccurrence(recurrence.NewOccurrence(0, first))
	if err := s.items.Create(ctx, &item, &occ); err != nil {
		return nil, nil, err
	}
	item.User = *user
	return &item, &occ, nil
}

// Update replaces the item's fields and restarts its occurrence chain from
// in.At. Empty fields of in keep their current values.
func (s *ItemService) Update(ctx context.Context, user *model.User, itemID uint, in ItemInput, now time.Time) (*model.Item, *model.Occurrence, error) {
	item, err := s.items.FindByID(ctx, user.ID, itemID)
	if err != nil {
		return nil, nil, err
	}

	if title := strings.TrimSpace(in.Title); title != "" {
		item.Title = title
	}
	if in.Description != "" {
		item.Description = strings.TrimSpace(in.Description)
	}
	if in.Type != "" {
		item.Type = in.Type
	}
	if in.Category != "" {
		if item.CategoryID, err = s.categoryID(ctx, user, in.Category); err != nil {
			return nil, nil, err
		}
	}

	start := item.StartAt.In(user.Location(s.loc))
	rule := item.Rule()
	if !in.At.IsZero() {
		// days implied by the old start move with it
		rule = rule.Unanchored(start)
		start = in.At.In(user.Location(s.loc))
	}
	if in.Rule.Kind != "" {
		rule = in.Rule
	}
	rule = rule.AnchoredAt(start)

	first, err := firstOccurrence(rule, start, now)
	if err != nil {
		return nil, nil, err
	}
	item.StartAt = first
	item.SetRule(rule)
	item.NeedsReview = false

	if err := s.items.Save(ctx, item); err != nil {
		return nil, nil, err
	}
	occ := model.NewOccurrence(recurrence.NewOccurrence(item.ID, first))
	if err := s.occurrences.ReplaceLive(ctx, item.ID, nil, &occ); err != nil {
		return nil, nil, err
	}
	return item, &occ, nil
}

// SetEnabled pauses or resumes an item. A resumed item whose live occurrence
// has passed is rescheduled from its rule.
func (s *ItemService) SetEnabled(ctx context.Context, user *model.User, itemID uint, enabled bool, now time.Time) (*model.Item, error) {
	item, err := s.items.FindByID(ctx, user.ID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.items.SetEnabled(ctx, item, enabled); err != nil {
		return nil, err
	}
	if !enabled || !item.IsRecurring() {
		return item, nil
	}

	live, err := s.occurrences.Live(ctx, item.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, err
	case live.ScheduledTime.After(now):
		return item, nil
	}

	start := item.StartAt.In(user.Location(s.loc))
	next, ok, err := recurrence.NextOccurrence(item.Rule(), start, now)
	if err != nil || !ok {
		return item, err
	}
	occ := model.NewOccurrence(recurrence.NewOccurrence(item.ID, next))
	if err := s.occurrences.ReplaceLive(ctx, item.ID, nil, &occ); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ItemService) Get(ctx context.Context, user *model.User, itemID uint) (*model.Item, error) {
	return s.items.FindByID(ctx, user.ID, itemID)
}

// List returns the user's items with their live occurrences.
func (s *ItemService) List(ctx context.Context, user *model.User) ([]ItemWithNext, error) {
	items, err := s.items.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ItemWithNext, 0, len(items))
	for _, item := range items {
		entry := ItemWithNext{Item: item}
		live, err := s.occurrences.Live(ctx, item.ID)
		switch {
		case err == nil:
			entry.Next = live
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// History returns the occurrences of one item, newest first.
func (s *ItemService) History(ctx context.Context, user *model.User, itemID uint, limit int) (*model.Item, []model.Occurrence, error) {
	item, err := s.items.FindByID(ctx, user.ID, itemID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.occurrences.History(ctx, item.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return item, history, nil
}

// Delete removes an item completely, history included.
func (s *ItemService) Delete(ctx context.Context, user *model.User, itemID uint) error {
	return s.items.Delete(ctx, user.ID, itemID)
}

func (s *ItemService) categoryID(ctx context.Context, user *model.User, name string) (*uint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	category, err := s.categoryRepo.GetOrCreate(ctx, user.ID, name)
	if err != nil {
		return nil, err
	}
	return &category.ID, nil
}

func firstOccurrence(rule recurrence.Rule, start, now time.Time) (time.Time, error) {
	first, ok, err := recurrence.FirstOccurrence(rule, start, now)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrPastTime, start.Format("2006-01-02 15:04"))
	}
	return first, nil
}
