package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := NewDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

type fixture struct {
	ctx         context.Context
	users       *UserRepository
	categories  *CategoryRepository
	items       *ItemRepository
	occurrences *OccurrenceRepository
	user        *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		ctx:         context.Background(),
		users:       NewUserRepository(db),
		categories:  NewCategoryRepository(db),
		items:       NewItemRepository(db),
		occurrences: NewOccurrenceRepository(db),
	}
	user, err := f.users.UpsertFromTelegram(f.ctx, 42, "Ada", "", "ada")
	require.NoError(t, err)
	f.user = user
	return f
}

func (f *fixture) createItem(t *testing.T, title string, at time.Time, rule recurrence.Rule) (*model.Item, *model.Occurrence) {
	t.Helper()
	item := &model.Item{UserID: f.user.ID, Type: model.ItemReminder, Title: title, StartAt: at, Enabled: true}
	item.SetRule(rule)
	first := model.NewOccurrence(recurrence.NewOccurrence(0, at))
	require.NoError(t, f.items.Create(f.ctx, item, &first))
	return item, &first
}

var base = time.Date(2024, time.October, 16, 9, 0, 0, 0, time.UTC)

func TestUserRepository_Upsert(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.users.SetTimezone(f.ctx, f.user, "Europe/Berlin"))
	require.Error(t, f.users.SetTimezone(f.ctx, f.user, "Mars/Olympus"))

	again, err := f.users.UpsertFromTelegram(f.ctx, 42, "Ada", "Lovelace", "ada")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, again.ID)
	assert.Equal(t, "Lovelace", again.LastName)
	assert.Equal(t, "Europe/Berlin", again.Timezone)
}

func TestUserRepository_ListWithEnabledItems(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.UpsertFromTelegram(f.ctx, 7, "Idle", "", "")
	require.NoError(t, err)

	users, err := f.users.ListWithEnabledItems(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	f.createItem(t, "stretch", base, recurrence.Daily(1))
	users, err = f.users.ListWithEnabledItems(f.ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(42), users[0].TelegramID)
}

func TestCategoryRepository_GetOrCreate(t *testing.T) {
	f := newFixture(t)

	first, err := f.categories.GetOrCreate(f.ctx, f.user.ID, "health")
	require.NoError(t, err)
	second, err := f.categories.GetOrCreate(f.ctx, f.user.ID, "health")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	none, err := f.categories.GetOrCreate(f.ctx, f.user.ID, "  ")
	require.NoError(t, err)
	assert.Nil(t, none)

	list, err := f.categories.ListByUser(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestItemRepository_CreateAssignsUIDAndOccurrence(t *testing.T) {
	f := newFixture(t)
	item, first := f.createItem(t, "stretch", base, recurrence.Daily(1))

	assert.Len(t, item.UID, 36)
	assert.Equal(t, item.ID, first.ItemID)

	got, err := f.items.FindByID(f.ctx, f.user.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.Daily(1), got.Rule())
	assert.Equal(t, int64(42), got.User.TelegramID)

	_, err = f.items.FindByID(f.ctx, f.user.ID+1, item.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestItemRepository_DeleteRemovesOccurrences(t *testing.T) {
	f := newFixture(t)
	item, _ := f.createItem(t, "water plants", base, recurrence.Weekly(1, time.Wednesday))

	require.NoError(t, f.items.Delete(f.ctx, f.user.ID, item.ID))

	history, err := f.occurrences.History(f.ctx, item.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.ErrorIs(t, f.items.Delete(f.ctx, f.user.ID, item.ID), gorm.ErrRecordNotFound)
}

func TestOccurrenceRepository_ReplaceLive(t *testing.T) {
	f := newFixture(t)
	item, first := f.createItem(t, "pills", base, recurrence.Daily(1))

	first.Status = recurrence.StatusTriggered
	require.NoError(t, f.occurrences.Save(f.ctx, first))

	first.Status = recurrence.StatusCompleted
	next := model.NewOccurrence(recurrence.NewOccurrence(item.ID, base.AddDate(0, 0, 1)))
	require.NoError(t, f.occurrences.ReplaceLive(f.ctx, item.ID, []model.Occurrence{*first}, &next))

	live, err := f.occurrences.Live(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, next.ID, live.ID)
	assert.True(t, live.ScheduledTime.Equal(base.AddDate(0, 0, 1)))

	// Replacing a never-fired pending occurrence drops it.
	moved := model.NewOccurrence(recurrence.NewOccurrence(item.ID, base.AddDate(0, 0, 2)))
	require.NoError(t, f.occurrences.ReplaceLive(f.ctx, item.ID, nil, &moved))

	history, err := f.occurrences.History(f.ctx, item.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, moved.ID, history[0].ID)
	assert.Equal(t, recurrence.StatusCompleted, history[1].Status)
}

func TestOccurrenceRepository_ReplaceLiveClosesTriggered(t *testing.T) {
	f := newFixture(t)
	item, first := f.createItem(t, "standup", base, recurrence.Daily(1))

	first.Status = recurrence.StatusTriggered
	require.NoError(t, f.occurrences.Save(f.ctx, first))

	next := model.NewOccurrence(recurrence.NewOccurrence(item.ID, base.AddDate(0, 0, 1)))
	require.NoError(t, f.occurrences.ReplaceLive(f.ctx, item.ID, nil, &next))

	old, err := f.occurrences.FindByID(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusMissed, old.Status)
	assert.Equal(t, "standup", old.Item.Title)
}

func TestOccurrenceRepository_ReplaceLiveRejectsBadStatus(t *testing.T) {
	f := newFixture(t)
	item, first := f.createItem(t, "gym", base, recurrence.Daily(1))

	err := f.occurrences.ReplaceLive(f.ctx, item.ID, []model.Occurrence{*first}, nil)
	assert.ErrorIs(t, err, recurrence.ErrInvalidState)

	done := model.NewOccurrence(recurrence.NewOccurrence(item.ID, base))
	done.Status = recurrence.StatusCompleted
	err = f.occurrences.ReplaceLive(f.ctx, item.ID, nil, &done)
	assert.ErrorIs(t, err, recurrence.ErrInvalidState)

	// The failed transactions left the original live occurrence alone.
	live, err := f.occurrences.Live(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, live.ID)
}

func TestOccurrenceRepository_Due(t *testing.T) {
	f := newFixture(t)
	early, _ := f.createItem(t, "early", base, recurrence.Once())
	f.createItem(t, "later", base.Add(2*time.Hour), recurrence.Once())
	off, _ := f.createItem(t, "disabled", base, recurrence.Once())
	require.NoError(t, f.items.SetEnabled(f.ctx, off, false))

	due, err := f.occurrences.Due(f.ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.ID, due[0].ItemID)
	assert.Equal(t, int64(42), due[0].Item.User.TelegramID)

	// The boundary is inclusive.
	due, err = f.occurrences.Due(f.ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestOccurrenceRepository_UpcomingAndMissed(t *testing.T) {
	f := newFixture(t)
	item, first := f.createItem(t, "review", base, recurrence.Daily(1))
	f.createItem(t, "far away", base.AddDate(0, 1, 0), recurrence.Once())

	first.Status = recurrence.StatusMissed
	next := model.NewOccurrence(recurrence.NewOccurrence(item.ID, base.AddDate(0, 0, 1)))
	require.NoError(t, f.occurrences.ReplaceLive(f.ctx, item.ID, []model.Occurrence{*first}, &next))

	upcoming, err := f.occurrences.Upcoming(f.ctx, f.user.ID, base.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "review", upcoming[0].Item.Title)

	missed, err := f.occurrences.MissedSince(f.ctx, f.user.ID, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, first.ID, missed[0].ID)
}
