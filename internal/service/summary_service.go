package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/repository"
)

// SummaryService builds human-readable summaries for daily notifications.
type SummaryService struct {
	items        *repository.ItemRepository
	occurrences  *repository.OccurrenceRepository
	categoryRepo *repository.CategoryRepository
	loc          *time.Location
}

func NewSummaryService(items *repository.ItemRepository, occurrences *repository.OccurrenceRepository, categoryRepo *repository.CategoryRepository, loc *time.Location) *SummaryService {
	if loc == nil {
		loc = time.Local
	}
	return &SummaryService{items: items, occurrences: occurrences, categoryRepo: categoryRepo, loc: loc}
}

// DailySummary lists what is still scheduled for today, what was missed in
// the last 24 hours and items disabled for review.
func (s *SummaryService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	loc := user.Location(s.loc)
	now = now.In(loc)
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)

	upcoming, err := s.occurrences.Upcoming(ctx, user.ID, endOfDay)
	if err != nil {
		return "", err
	}
	missed, err := s.occurrences.MissedSince(ctx, user.ID, now.Add(-24*time.Hour))
	if err != nil {
		return "", err
	}
	items, err := s.items.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}

	categories, err := s.categoryRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	catNames := make(map[uint]string)
	for _, cat := range categories {
		catNames[cat.ID] = cat.Name
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon, 02 Jan 2006")))

	builder.WriteString("⏰ <b>Today</b>\n")
	if len(upcoming) == 0 {
		builder.WriteString("— nothing scheduled\n")
	} else {
		for _, o := range upcoming {
			builder.WriteString(FormatOccurrence(o, catNames, loc))
		}
	}

	if len(missed) > 0 {
		builder.WriteString("\n⚠️ <b>Missed since yesterday</b>\n")
		for _, o := range missed {
			builder.WriteString(FormatOccurrence(o, catNames, loc))
		}
	}

	var review []model.Item
	for _, item := range items {
		if item.NeedsReview {
			review = append(review, item)
		}
	}
	if len(review) > 0 {
		builder.WriteString("\n🛠 <b>Paused for review</b>\n")
		for _, item := range review {
			builder.WriteString(fmt.Sprintf("%s #%d %s · %s\n", item.Type.Icon(), item.ID,
				html.EscapeString(strings.TrimSpace(item.Title)), item.Rule().Describe()))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

// FormatOccurrence renders one HTML line for an occurrence with a preloaded
// item.
func FormatOccurrence(o model.Occurrence, catNames map[uint]string, loc *time.Location) string {
	var sb strings.Builder
	item := o.Item

	at := o.ScheduledTime.In(loc)
	sb.WriteString(fmt.Sprintf("%s %s <b>#%d</b> %s", item.Type.Icon(), at.Format("15:04"), item.ID,
		html.EscapeString(strings.TrimSpace(item.Title))))

	if item.CategoryID != nil {
		if name := strings.TrimSpace(catNames[*item.CategoryID]); name != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
		}
	}

	switch o.Status {
	case recurrence.StatusSnoozed:
		sb.WriteString(fmt.Sprintf("\n   💤 snoozed %d×, originally %s", o.SnoozeCount, o.OriginalScheduledTime.In(loc).Format("15:04")))
	case recurrence.StatusMissed:
		sb.WriteString(fmt.Sprintf("\n   ❌ missed %s", o.OriginalScheduledTime.In(loc).Format("Jan 02 15:04")))
	}
	if rule := item.Rule(); rule.IsRecurring() {
		sb.WriteString(fmt.Sprintf("\n   🔁 %s", rule.Describe()))
	}

	sb.WriteByte('\n')
	return sb.String()
}
