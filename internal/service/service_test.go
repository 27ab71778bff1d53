package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/repository"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Occurrence
}

func (n *recordingNotifier) Notify(_ context.Context, o *model.Occurrence) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, *o)
	return 1000 + len(n.sent), nil
}

type env struct {
	ctx        context.Context
	users      *repository.UserRepository
	occRepo    *repository.OccurrenceRepository
	itemSvc    *ItemService
	occSvc     *OccurrenceService
	summarySvc *SummaryService
	notifier   *recordingNotifier
	user       *model.User
	stranger   *model.User
}

func newEnv(t *testing.T, maxCatchUp int) *env {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.NewDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), quiet)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	users := repository.NewUserRepository(db)
	items := repository.NewItemRepository(db)
	occurrences := repository.NewOccurrenceRepository(db)
	categories := repository.NewCategoryRepository(db)

	e := &env{
		ctx:        context.Background(),
		users:      users,
		occRepo:    occurrences,
		itemSvc:    NewItemService(items, occurrences, categories, time.UTC),
		summarySvc: NewSummaryService(items, occurrences, categories, time.UTC),
		notifier:   &recordingNotifier{},
	}
	e.occSvc = NewOccurrenceService(recurrence.NewEngine(maxCatchUp, nil), items, occurrences, OccurrenceOptions{
		Grace:     15 * time.Minute,
		MissAfter: 6 * time.Hour,
		Location:  time.UTC,
	}, quiet)
	e.occSvc.SetNotifier(e.notifier)

	e.user, err = users.UpsertFromTelegram(e.ctx, 1, "Ada", "", "ada")
	require.NoError(t, err)
	e.stranger, err = users.UpsertFromTelegram(e.ctx, 2, "Eve", "", "eve")
	require.NoError(t, err)
	return e
}

// created is when items are created in these tests; base is their first time.
var (
	created = time.Date(2024, time.October, 16, 8, 0, 0, 0, time.UTC) // Wednesday
	base    = time.Date(2024, time.October, 16, 9, 0, 0, 0, time.UTC)
)

func (e *env) create(t *testing.T, title string, rule recurrence.Rule) (*model.Item, *model.Occurrence) {
	t.Helper()
	item, occ, err := e.itemSvc.Create(e.ctx, e.user, ItemInput{Title: title, At: base, Rule: rule}, created)
	require.NoError(t, err)
	return item, occ
}

func TestItemService_Create(t *testing.T) {
	e := newEnv(t, 0)

	item, occ, err := e.itemSvc.Create(e.ctx, e.user, ItemInput{
		Type:     model.ItemTask,
		Title:    "  water plants ",
		Category: "home",
		At:       base,
		Rule:     recurrence.Rule{Kind: recurrence.KindWeekly, Interval: 1},
	}, created)
	require.NoError(t, err)
	assert.Equal(t, "water plants", item.Title)
	assert.NotNil(t, item.CategoryID)
	assert.Equal(t, recurrence.Weekly(1, time.Wednesday), item.Rule())
	assert.True(t, occ.ScheduledTime.Equal(base))
	assert.Equal(t, recurrence.StatusPending, occ.Status)

	monthly, _ := e.create(t, "rent", recurrence.Monthly(1))
	assert.Equal(t, 16, monthly.RepeatMonthDay)
}

func TestItemService_CreateRejects(t *testing.T) {
	e := newEnv(t, 0)

	_, _, err := e.itemSvc.Create(e.ctx, e.user, ItemInput{Title: " ", At: base}, created)
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, _, err = e.itemSvc.Create(e.ctx, e.user, ItemInput{Title: "x", At: base, Rule: recurrence.Daily(0)}, created)
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)

	_, _, err = e.itemSvc.Create(e.ctx, e.user, ItemInput{Title: "x", At: created.Add(-time.Hour)}, created)
	assert.ErrorIs(t, err, ErrPastTime)

	list, err := e.itemSvc.List(e.ctx, e.user)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestItemService_CreateStartsOnMatchingDay(t *testing.T) {
	e := newEnv(t, 0)
	_, occ := e.create(t, "yoga", recurrence.CustomDays(time.Saturday, time.Sunday))
	assert.True(t, occ.ScheduledTime.Equal(time.Date(2024, time.October, 19, 9, 0, 0, 0, time.UTC)))
}

func TestItemService_UpdateRestartsChain(t *testing.T) {
	e := newEnv(t, 0)
	item, first := e.create(t, "stretch", recurrence.Daily(1))

	updated, occ, err := e.itemSvc.Update(e.ctx, e.user, item.ID, ItemInput{
		At:   base.Add(2 * time.Hour),
		Rule: recurrence.Daily(2),
	}, created)
	require.NoError(t, err)
	assert.Equal(t, "stretch", updated.Title)
	assert.Equal(t, recurrence.Daily(2), updated.Rule())
	assert.True(t, occ.ScheduledTime.Equal(base.Add(2*time.Hour)))

	_, history, err := e.itemSvc.History(e.ctx, e.user, item.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEqual(t, first.ID, history[0].ID)
}

func TestItemService_UpdateMovesAnchoredRules(t *testing.T) {
	e := newEnv(t, 0)
	thursday := time.Date(2024, time.October, 17, 9, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, time.October, 20, 9, 0, 0, 0, time.UTC)

	monthly, _ := e.create(t, "rent", recurrence.Monthly(1))
	updated, occ, err := e.itemSvc.Update(e.ctx, e.user, monthly.ID, ItemInput{At: sunday}, created)
	require.NoError(t, err)
	assert.Equal(t, 20, updated.RepeatMonthDay)
	assert.True(t, occ.ScheduledTime.Equal(sunday), occ.ScheduledTime)

	weekly, _ := e.create(t, "review", recurrence.Rule{Kind: recurrence.KindWeekly, Interval: 1})
	updated, occ, err = e.itemSvc.Update(e.ctx, e.user, weekly.ID, ItemInput{At: thursday}, created)
	require.NoError(t, err)
	assert.Equal(t, recurrence.Weekly(1, time.Thursday), updated.Rule())
	assert.True(t, occ.ScheduledTime.Equal(thursday), occ.ScheduledTime)

	// explicit days stay and the move lands on the next of them
	gym, _ := e.create(t, "gym", recurrence.Weekly(1, time.Monday, time.Wednesday))
	updated, occ, err = e.itemSvc.Update(e.ctx, e.user, gym.ID, ItemInput{At: thursday}, created)
	require.NoError(t, err)
	assert.Equal(t, recurrence.Weekly(1, time.Monday, time.Wednesday), updated.Rule())
	assert.True(t, occ.ScheduledTime.Equal(time.Date(2024, time.October, 21, 9, 0, 0, 0, time.UTC)), occ.ScheduledTime)
}

func TestItemService_ListAndDelete(t *testing.T) {
	e := newEnv(t, 0)
	item, occ := e.create(t, "pills", recurrence.Daily(1))

	list, err := e.itemSvc.List(e.ctx, e.user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Next)
	assert.Equal(t, occ.ID, list[0].Next.ID)

	assert.ErrorIs(t, e.itemSvc.Delete(e.ctx, e.stranger, item.ID), gorm.ErrRecordNotFound)
	require.NoError(t, e.itemSvc.Delete(e.ctx, e.user, item.ID))
	_, err = e.itemSvc.Get(e.ctx, e.user, item.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestOccurrenceService_DispatchDue(t *testing.T) {
	e := newEnv(t, 0)
	item, occ := e.create(t, "standup", recurrence.Daily(1))

	sent, err := e.occSvc.DispatchDue(e.ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, err = e.occSvc.DispatchDue(e.ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, e.notifier.sent, 1)
	assert.Equal(t, item.ID, e.notifier.sent[0].ItemID)
	assert.Equal(t, "standup", e.notifier.sent[0].Item.Title)

	stored, err := e.occRepo.FindByID(e.ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusTriggered, stored.Status)
	assert.Equal(t, 1001, stored.MessageID)

	// A triggered occurrence is not sent twice.
	sent, err = e.occSvc.DispatchDue(e.ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestOccurrenceService_SnoozeThenComplete(t *testing.T) {
	e := newEnv(t, 0)
	item, occ := e.create(t, "pills", recurrence.Daily(1))

	_, err := e.occSvc.DispatchDue(e.ctx, base)
	require.NoError(t, err)

	snoozed, err := e.occSvc.Snooze(e.ctx, e.user, occ.ID, 10*time.Minute, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusSnoozed, snoozed.Status)
	assert.Equal(t, 1, snoozed.SnoozeCount)
	assert.True(t, snoozed.ScheduledTime.Equal(base.Add(11*time.Minute)))

	_, err = e.occSvc.Snooze(e.ctx, e.user, occ.ID, 7*time.Minute, base.Add(time.Minute))
	assert.ErrorIs(t, err, recurrence.ErrInvalidSnooze)

	sent, err := e.occSvc.DispatchDue(e.ctx, base.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	next, err := e.occSvc.Complete(e.ctx, e.user, occ.ID, base.Add(12*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.ScheduledTime.Equal(base.AddDate(0, 0, 1)))
	assert.Equal(t, recurrence.StatusPending, next.Status)

	_, history, err := e.itemSvc.History(e.ctx, e.user, item.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, recurrence.StatusCompleted, history[1].Status)
	assert.Equal(t, 1, history[1].SnoozeCount)
	assert.True(t, history[1].OriginalScheduledTime.Equal(base))

	_, err = e.occSvc.Complete(e.ctx, e.user, occ.ID, base.Add(13*time.Minute))
	assert.ErrorIs(t, err, recurrence.ErrInvalidState)
}

func TestOccurrenceService_OneOffEndsChain(t *testing.T) {
	e := newEnv(t, 0)
	item, occ := e.create(t, "dentist", recurrence.Once())

	_, err := e.occSvc.DispatchDue(e.ctx, base)
	require.NoError(t, err)
	next, err := e.occSvc.Dismiss(e.ctx, e.user, occ.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = e.occRepo.Live(e.ctx, item.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestOccurrenceService_DismissPendingRejected(t *testing.T) {
	e := newEnv(t, 0)
	_, occ := e.create(t, "dentist", recurrence.Once())

	_, err := e.occSvc.Dismiss(e.ctx, e.user, occ.ID, created)
	assert.ErrorIs(t, err, recurrence.ErrInvalidState)
}

func TestOccurrenceService_CompleteItemAheadOfTime(t *testing.T) {
	e := newEnv(t, 0)
	item, _ := e.create(t, "report", recurrence.Weekly(1, time.Wednesday))

	next, err := e.occSvc.CompleteItem(e.ctx, e.user, item.ID, created)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.ScheduledTime.Equal(base.AddDate(0, 0, 7)))

	_, err = e.occSvc.CompleteItem(e.ctx, e.stranger, item.ID, created)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestOccurrenceService_OtherUsersOccurrence(t *testing.T) {
	e := newEnv(t, 0)
	_, occ := e.create(t, "private", recurrence.Daily(1))
	_, err := e.occSvc.DispatchDue(e.ctx, base)
	require.NoError(t, err)

	_, err = e.occSvc.Snooze(e.ctx, e.stranger, occ.ID, 5*time.Minute, base)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestOccurrenceService_SnoozeItem(t *testing.T) {
	e := newEnv(t, 0)
	item, _ := e.create(t, "stretch", recurrence.Daily(1))

	_, err := e.occSvc.SnoozeItem(e.ctx, e.user, item.ID, 5*time.Minute, created)
	assert.ErrorIs(t, err, recurrence.ErrInvalidState)

	_, err = e.occSvc.DispatchDue(e.ctx, base)
	require.NoError(t, err)

	_, err = e.occSvc.SnoozeItem(e.ctx, e.stranger, item.ID, 5*time.Minute, base)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	snoozed, err := e.occSvc.SnoozeItem(e.ctx, e.user, item.ID, 5*time.Minute, base)
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusSnoozed, snoozed.Status)
	assert.True(t, snoozed.ScheduledTime.Equal(base.Add(5*time.Minute)))
}

func TestOccurrenceService_ExpiresUnanswered(t *testing.T) {
	e := newEnv(t, 0)
	item, occ := e.create(t, "walk", recurrence.Daily(1))
	_, err := e.occSvc.DispatchDue(e.ctx, base)
	require.NoError(t, err)

	_, err = e.occSvc.DispatchDue(e.ctx, base.Add(7*time.Hour))
	require.NoError(t, err)

	stored, err := e.occRepo.FindByID(e.ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusMissed, stored.Status)

	live, err := e.occRepo.Live(e.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, live.ScheduledTime.Equal(base.AddDate(0, 0, 1)))
}

func TestOccurrenceService_RecoverMissed(t *testing.T) {
	e := newEnv(t, 0)
	item, _ := e.create(t, "vitamins", recurrence.Daily(1))

	now := time.Date(2024, time.October, 19, 10, 0, 0, 0, time.UTC)
	recovered, err := e.occSvc.RecoverMissed(e.ctx, now)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	// Oct 16 plus the skipped Oct 17, 18 and 19.
	assert.Equal(t, 4, recovered[0].Missed)
	assert.False(t, recovered[0].Disabled)
	require.NotNil(t, recovered[0].Next)
	assert.True(t, recovered[0].Next.ScheduledTime.Equal(time.Date(2024, time.October, 20, 9, 0, 0, 0, time.UTC)))

	_, history, err := e.itemSvc.History(e.ctx, e.user, item.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for _, o := range history[1:] {
		assert.Equal(t, recurrence.StatusMissed, o.Status)
	}

	// Nothing is sent for the missed backlog.
	sent, err := e.occSvc.DispatchDue(e.ctx, now)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestOccurrenceService_RecoverWithinGraceFiresLive(t *testing.T) {
	e := newEnv(t, 0)
	e.create(t, "call mom", recurrence.Once())

	now := base.Add(5 * time.Minute)
	recovered, err := e.occSvc.RecoverMissed(e.ctx, now)
	require.NoError(t, err)
	assert.Empty(t, recovered)

	sent, err := e.occSvc.DispatchDue(e.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestOccurrenceService_RecoverOverflowDisablesItem(t *testing.T) {
	e := newEnv(t, 3)
	item, _ := e.create(t, "hydrate", recurrence.Daily(1))

	now := base.AddDate(0, 0, 10).Add(time.Hour)
	recovered, err := e.occSvc.RecoverMissed(e.ctx, now)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.True(t, recovered[0].Disabled)
	assert.Equal(t, 4, recovered[0].Missed)
	require.NotNil(t, recovered[0].Next)
	assert.True(t, recovered[0].Next.ScheduledTime.Equal(base.AddDate(0, 0, 11)))

	// the overdue one plus the three recorded before the cap
	_, history, err := e.itemSvc.History(e.ctx, e.user, item.ID, 20)
	require.NoError(t, err)
	var missed int
	for _, o := range history {
		if o.Status == recurrence.StatusMissed {
			missed++
		}
	}
	assert.Equal(t, 4, missed)
	assert.Len(t, history, 5)

	got, err := e.itemSvc.Get(e.ctx, e.user, item.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.True(t, got.NeedsReview)

	summary, err := e.summarySvc.DailySummary(e.ctx, *e.user, now)
	require.NoError(t, err)
	assert.Contains(t, summary, "Paused for review")

	// Resuming keeps the already scheduled future occurrence.
	resumed, err := e.itemSvc.SetEnabled(e.ctx, e.user, item.ID, true, now)
	require.NoError(t, err)
	assert.True(t, resumed.Enabled)
	assert.False(t, resumed.NeedsReview)
	live, err := e.occRepo.Live(e.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, live.ScheduledTime.Equal(base.AddDate(0, 0, 11)))
}

func TestItemService_ResumeReschedulesStaleOccurrence(t *testing.T) {
	e := newEnv(t, 0)
	item, _ := e.create(t, "journal", recurrence.Daily(1))

	_, err := e.itemSvc.SetEnabled(e.ctx, e.user, item.ID, false, created)
	require.NoError(t, err)

	now := base.AddDate(0, 0, 3)
	_, err = e.itemSvc.SetEnabled(e.ctx, e.user, item.ID, true, now)
	require.NoError(t, err)

	live, err := e.occRepo.Live(e.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, live.ScheduledTime.Equal(base.AddDate(0, 0, 4)))
}

func TestSummaryService_DailySummary(t *testing.T) {
	e := newEnv(t, 0)
	e.create(t, "standup <daily>", recurrence.Daily(1))
	_, _, err := e.itemSvc.Create(e.ctx, e.user, ItemInput{Title: "next week", At: base.AddDate(0, 0, 7)}, created)
	require.NoError(t, err)

	summary, err := e.summarySvc.DailySummary(e.ctx, *e.user, created)
	require.NoError(t, err)
	assert.Contains(t, summary, "Daily summary")
	assert.Contains(t, summary, "09:00")
	assert.Contains(t, summary, "standup &lt;daily&gt;")
	assert.Contains(t, summary, "every day")
	assert.NotContains(t, summary, "next week")
	assert.NotContains(t, summary, "Missed")
}

func TestBuildDailySpec(t *testing.T) {
	spec, err := buildDailySpec("08:30")
	require.NoError(t, err)
	assert.Equal(t, "0 30 8 * * *", spec)

	for _, bad := range []string{"8", "24:00", "07:60", "aa:bb"} {
		_, err := buildDailySpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestSchedulerService_RejectsBadInput(t *testing.T) {
	s := NewSchedulerService(time.UTC, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	noop := func(context.Context) error { return nil }

	_, err := s.ScheduleInterval("tick", 0, noop)
	assert.Error(t, err)
	_, err = s.ScheduleDaily("summary", "25:00", noop)
	assert.Error(t, err)

	_, err = s.ScheduleInterval("tick", 30*time.Second, noop)
	assert.NoError(t, err)
}
