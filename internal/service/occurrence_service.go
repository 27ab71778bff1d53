package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/repository"
)

// Notifier delivers a triggered occurrence to its owner and returns the id of
// the message it sent.
type Notifier interface {
	Notify(ctx context.Context, o *model.Occurrence) (int, error)
}

// Recovery describes what restart catch-up did to one item. When Disabled,
// the backlog overflowed and Missed counts only the occurrences recorded
// before the cap.
type Recovery struct {
	Item     model.Item
	Missed   int
	Next     *model.Occurrence
	Disabled bool
}

// OccurrenceOptions tune the occurrence lifecycle.
type OccurrenceOptions struct {
	// Grace is how late an occurrence found at startup may still fire live.
	Grace time.Duration
	// MissAfter closes triggered occurrences nobody answered.
	MissAfter time.Duration
	Location  *time.Location
}

// OccurrenceService drives occurrences through the engine's state machine
// and keeps exactly one live occurrence per active item.
type OccurrenceService struct {
	engine      *recurrence.Engine
	items       *repository.ItemRepository
	occurrences *repository.OccurrenceRepository
	notifier    Notifier
	opts        OccurrenceOptions
	log         *slog.Logger
}

func NewOccurrenceService(engine *recurrence.Engine, items *repository.ItemRepository, occurrences *repository.OccurrenceRepository, opts OccurrenceOptions, log *slog.Logger) *OccurrenceService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	return &OccurrenceService{
		engine:      engine,
		items:       items,
		occurrences: occurrences,
		opts:        opts,
		log:         log.With("component", "occurrences"),
	}
}

// SetNotifier wires the delivery channel; the bot is built after the services.
func (s *OccurrenceService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *OccurrenceService) SnoozeOptions() []time.Duration {
	return s.engine.SnoozeOptions()
}

// DispatchDue triggers every occurrence due at now and hands it to the
// notifier. Triggered occurrences left unanswered longer than MissAfter are
// closed as missed first. It returns the number of notifications sent.
func (s *OccurrenceService) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	if err := s.expireUnanswered(ctx, now); err != nil {
		return 0, err
	}

	due, err := s.occurrences.Due(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		o := &due[i]
		fired, err := o.Domain(s.location(o.Item)).Trigger()
		if err != nil {
			s.log.Warn("trigger occurrence", "occurrence", o.ID, "err", err)
			continue
		}
		o.Apply(fired)
		if err := s.occurrences.Save(ctx, o); err != nil {
			return sent, err
		}
		if s.notifier == nil {
			continue
		}

		msgID, err := s.notifier.Notify(ctx, o)
		if err != nil {
			s.log.Error("notify occurrence", "occurrence", o.ID, "item", o.ItemID, "err", err)
			continue
		}
		o.MessageID = msgID
		if err := s.occurrences.Save(ctx, o); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Snooze postpones a triggered or snoozed occurrence by d.
func (s *OccurrenceService) Snooze(ctx context.Context, user *model.User, occurrenceID uint, d time.Duration, now time.Time) (*model.Occurrence, error) {
	o, err := s.owned(ctx, user, occurrenceID)
	if err != nil {
		return nil, err
	}
	snoozed, err := s.engine.Snooze(o.Domain(s.location(o.Item)), d, now)
	if err != nil {
		return nil, err
	}
	o.Apply(snoozed)
	if err := s.occurrences.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Complete marks the occurrence done and schedules the next one for
// recurring items. The returned occurrence is nil when the chain ended.
func (s *OccurrenceService) Complete(ctx context.Context, user *model.User, occurrenceID uint, now time.Time) (*model.Occurrence, error) {
	o, err := s.owned(ctx, user, occurrenceID)
	if err != nil {
		return nil, err
	}
	done, err := o.Domain(s.location(o.Item)).Complete()
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, o, done, now)
}

// CompleteItem completes the item's live occurrence. One that has not fired
// yet is done ahead of time.
func (s *OccurrenceService) CompleteItem(ctx context.Context, user *model.User, itemID uint, now time.Time) (*model.Occurrence, error) {
	live, err := s.occurrences.Live(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if live.Item.UserID != user.ID {
		return nil, gorm.ErrRecordNotFound
	}
	d := live.Domain(s.location(live.Item))
	if d.Status == recurrence.StatusPending {
		if d, err = d.Trigger(); err != nil {
			return nil, err
		}
	}
	done, err := d.Complete()
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, live, done, now)
}

// SnoozeItem snoozes the item's live occurrence, which must have fired.
func (s *OccurrenceService) SnoozeItem(ctx context.Context, user *model.User, itemID uint, d time.Duration, now time.Time) (*model.Occurrence, error) {
	live, err := s.occurrences.Live(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if live.Item.UserID != user.ID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.Snooze(ctx, user, live.ID, d, now)
}

// Dismiss closes the occurrence without completion.
func (s *OccurrenceService) Dismiss(ctx context.Context, user *model.User, occurrenceID uint, now time.Time) (*model.Occurrence, error) {
	o, err := s.owned(ctx, user, occurrenceID)
	if err != nil {
		return nil, err
	}
	if o.Status != recurrence.StatusTriggered && o.Status != recurrence.StatusSnoozed {
		return nil, fmt.Errorf("%w: cannot dismiss a %s occurrence", recurrence.ErrInvalidState, o.Status)
	}
	missed, err := o.Domain(s.location(o.Item)).Miss()
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, o, missed, now)
}

// RecoverMissed runs once at startup. Overdue occurrences within the grace
// window are left for the next dispatch so they still fire live; older ones
// become missed, every occurrence skipped since then is recorded as missed
// and the next pending one is stored. An item whose backlog overflows the
// catch-up cap only gets its next occurrence and is disabled for review.
func (s *OccurrenceService) RecoverMissed(ctx context.Context, now time.Time) ([]Recovery, error) {
	if err := s.expireUnanswered(ctx, now); err != nil {
		return nil, err
	}
	due, err := s.occurrences.Due(ctx, now)
	if err != nil {
		return nil, err
	}

	var out []Recovery
	for i := range due {
		o := &due[i]
		if now.Sub(o.ScheduledTime) <= s.opts.Grace {
			continue
		}
		rec, err := s.recover(ctx, o, now)
		if err != nil {
			s.log.Error("recover occurrence", "occurrence", o.ID, "item", o.ItemID, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *OccurrenceService) recover(ctx context.Context, o *model.Occurrence, now time.Time) (Recovery, error) {
	item := o.Item
	rule := item.Rule()
	missed, err := o.Domain(s.location(item)).Miss()
	if err != nil {
		return Recovery{}, err
	}
	o.Apply(missed)

	rec := Recovery{Item: item, Missed: 1}
	settled := []model.Occurrence{*o}
	var live *model.Occurrence

	backlog, err := s.engine.CatchUp(item.ID, rule, missed.OriginalScheduledTime, now)
	switch {
	case errors.Is(err, recurrence.ErrRecurrenceOverflow):
		s.log.Warn("catch-up overflow, disabling item", "item", item.ID, "rule", rule.String(), "recorded", len(backlog), "err", err)
		for _, b := range backlog {
			settled = append(settled, model.NewOccurrence(b))
			rec.Missed++
		}
		next, ok, nerr := recurrence.NextOccurrence(rule, missed.OriginalScheduledTime, now)
		if nerr == nil && ok {
			n := model.NewOccurrence(recurrence.NewOccurrence(item.ID, next))
			live = &n
		}
		item.Enabled = false
		item.NeedsReview = true
		if err := s.items.Save(ctx, &item); err != nil {
			return Recovery{}, err
		}
		rec.Disabled = true
	case err != nil:
		return Recovery{}, err
	default:
		for _, b := range backlog {
			row := model.NewOccurrence(b)
			if b.Status == recurrence.StatusMissed {
				settled = append(settled, row)
				rec.Missed++
				continue
			}
			live = &row
		}
	}

	if err := s.occurrences.ReplaceLive(ctx, item.ID, settled, live); err != nil {
		return Recovery{}, err
	}
	rec.Item = item
	rec.Next = live
	s.log.Info("recovered item", "item", item.ID, "missed", rec.Missed, "disabled", rec.Disabled)
	return rec, nil
}

// expireUnanswered closes triggered occurrences older than MissAfter.
func (s *OccurrenceService) expireUnanswered(ctx context.Context, now time.Time) error {
	if s.opts.MissAfter <= 0 {
		return nil
	}
	stale, err := s.occurrences.Unanswered(ctx, now.Add(-s.opts.MissAfter))
	if err != nil {
		return err
	}
	for i := range stale {
		o := &stale[i]
		missed, err := o.Domain(s.location(o.Item)).Miss()
		if err != nil {
			return err
		}
		if _, err := s.settle(ctx, o, missed, now); err != nil {
			return err
		}
		s.log.Info("occurrence expired unanswered", "occurrence", o.ID, "item", o.ItemID)
	}
	return nil
}

// settle stores a terminal occurrence and, for recurring items, the pending
// one that follows it.
func (s *OccurrenceService) settle(ctx context.Context, o *model.Occurrence, closed recurrence.Occurrence, now time.Time) (*model.Occurrence, error) {
	o.Apply(closed)

	var live *model.Occurrence
	next, ok, err := closed.Next(o.Item.Rule(), now)
	if err != nil {
		return nil, err
	}
	if ok {
		n := model.NewOccurrence(next)
		live = &n
	}
	if err := s.occurrences.ReplaceLive(ctx, o.ItemID, []model.Occurrence{*o}, live); err != nil {
		return nil, err
	}
	return live, nil
}

func (s *OccurrenceService) owned(ctx context.Context, user *model.User, occurrenceID uint) (*model.Occurrence, error) {
	o, err := s.occurrences.FindByID(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if o.Item.UserID != user.ID {
		return nil, gorm.ErrRecordNotFound
	}
	return o, nil
}

func (s *OccurrenceService) location(item model.Item) *time.Location {
	return item.User.Location(s.opts.Location)
}
