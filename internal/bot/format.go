package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/service"
)

const (
	noCategory    = "No category"
	noCategoryKey = "__no_category__"
	dayLayout     = "Mon Jan 2 15:04"
)

func escape(s string) string {
	return html.EscapeString(s)
}

// plainMessage turns a service error into a sentence for the user.
func plainMessage(err error) string {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "Not found."
	case errors.Is(err, recurrence.ErrInvalidSnooze):
		return "That snooze length is not offered."
	case errors.Is(err, recurrence.ErrInvalidState):
		return "Nothing is waiting for an answer there."
	case errors.Is(err, recurrence.ErrInvalidRule):
		return "Invalid repeat rule. Try daily, weekly:mon,thu, monthly or custom:sat,sun."
	case errors.Is(err, service.ErrEmptyTitle):
		return "The title cannot be empty."
	case errors.Is(err, service.ErrPastTime):
		return "That time is already in the past."
	default:
		return "Something went wrong: " + err.Error()
	}
}

func userMessage(err error) string {
	return escape(plainMessage(err))
}

func nextLine(next *model.Occurrence, loc *time.Location) string {
	if next == nil {
		return " No more occurrences."
	}
	return fmt.Sprintf(" Next: %s.", next.ScheduledTime.In(loc).Format(dayLayout))
}

func formatCreated(item model.Item, first *model.Occurrence, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString("✅ <b>Saved</b>\n")
	sb.WriteString(fmt.Sprintf("• <b>ID:</b> %d\n", item.ID))
	sb.WriteString(fmt.Sprintf("• <b>Type:</b> %s %s\n", item.Type.Icon(), item.Type))
	sb.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(normalizeTitle(item.Title))))
	if item.Description != "" {
		sb.WriteString(fmt.Sprintf("• <b>Note:</b> %s\n", escape(item.Description)))
	}
	if first != nil {
		sb.WriteString(fmt.Sprintf("• <b>First:</b> %s\n", first.ScheduledTime.In(loc).Format(dayLayout)))
	}
	sb.WriteString(fmt.Sprintf("• <b>Repeat:</b> %s", item.Rule().Describe()))
	return sb.String()
}

func formatItem(it service.ItemWithNext, loc *time.Location) string {
	var sb strings.Builder
	item := it.Item
	sb.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", item.Type.Icon(), item.ID, escape(normalizeTitle(item.Title))))

	switch {
	case item.NeedsReview:
		sb.WriteString("   🛠 paused after a long downtime, /resume to restart\n")
	case !item.Enabled:
		sb.WriteString("   ⏸ paused\n")
	case it.Next != nil:
		sb.WriteString(fmt.Sprintf("   ⏰ %s", it.Next.ScheduledTime.In(loc).Format(dayLayout)))
		if it.Next.Status == recurrence.StatusSnoozed {
			sb.WriteString(fmt.Sprintf(" · 💤 %d×", it.Next.SnoozeCount))
		}
		if it.Next.Status == recurrence.StatusTriggered {
			sb.WriteString(" · 🔔 waiting")
		}
		sb.WriteByte('\n')
	default:
		sb.WriteString("   ✔️ finished\n")
	}
	if rule := item.Rule(); rule.IsRecurring() {
		sb.WriteString(fmt.Sprintf("   🔁 %s\n", rule.Describe()))
	}
	if item.Description != "" {
		sb.WriteString(fmt.Sprintf("   📝 %s\n", escape(item.Description)))
	}
	return sb.String()
}

func formatNotification(o model.Occurrence, loc *time.Location) string {
	item := o.Item
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s <b>%s</b>\n", item.Type.Icon(), escape(normalizeTitle(item.Title))))
	sb.WriteString(fmt.Sprintf("🕒 %s", o.OriginalScheduledTime.In(loc).Format(dayLayout)))
	if o.SnoozeCount > 0 {
		sb.WriteString(fmt.Sprintf(" · snoozed %d×", o.SnoozeCount))
	}
	sb.WriteByte('\n')
	if item.Description != "" {
		sb.WriteString(fmt.Sprintf("📝 %s\n", escape(item.Description)))
	}
	if rule := item.Rule(); rule.IsRecurring() {
		sb.WriteString(fmt.Sprintf("🔁 %s\n", rule.Describe()))
	}
	sb.WriteString(fmt.Sprintf("#%d", item.ID))
	return sb.String()
}

func formatHistory(item model.Item, occurrences []model.Occurrence, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📜 <b>#%d %s</b>\n", item.ID, escape(normalizeTitle(item.Title))))
	if len(occurrences) == 0 {
		sb.WriteString("No occurrences yet.")
		return sb.String()
	}
	for _, o := range occurrences {
		sb.WriteString(fmt.Sprintf("%s %s %s", statusIcon(o.Status), o.OriginalScheduledTime.In(loc).Format(dayLayout), o.Status))
		if o.SnoozeCount > 0 {
			sb.WriteString(fmt.Sprintf(" (snoozed %d×)", o.SnoozeCount))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String())
}

func formatRecovery(rec service.Recovery, loc *time.Location) string {
	var sb strings.Builder
	count := fmt.Sprint(rec.Missed)
	if rec.Disabled {
		count = "at least " + count
	}
	sb.WriteString(fmt.Sprintf("⚠️ While I was offline «%s» (#%d) missed %s occurrence(s).",
		escape(normalizeTitle(rec.Item.Title)), rec.Item.ID, count))
	if rec.Disabled {
		sb.WriteString(" It is paused until you check it: /resume ")
		sb.WriteString(fmt.Sprint(rec.Item.ID))
		return sb.String()
	}
	sb.WriteString(nextLine(rec.Next, loc))
	return sb.String()
}

func statusIcon(s recurrence.Status) string {
	switch s {
	case recurrence.StatusCompleted:
		return "✅"
	case recurrence.StatusMissed:
		return "❌"
	case recurrence.StatusSnoozed:
		return "💤"
	case recurrence.StatusTriggered:
		return "🔔"
	default:
		return "⏳"
	}
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func normalizedCategory(categoryID *uint, catNames map[uint]string) (string, string) {
	if categoryID == nil {
		return noCategoryKey, categoryLabel(noCategory)
	}
	if name, ok := catNames[*categoryID]; ok {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return noCategoryKey, categoryLabel(noCategory)
		}
		return strings.ToLower(trimmed), categoryLabel(trimmed)
	}
	return noCategoryKey, categoryLabel(noCategory)
}

func categoryLabel(name string) string {
	base := strings.TrimSpace(name)
	var icon string
	switch strings.ToLower(base) {
	case "study":
		icon = "🎓"
	case "work":
		icon = "💼"
	case "shopping":
		icon = "🛒"
	case "health":
		icon = "🩺"
	case "home", "personal":
		icon = "🧩"
	case strings.ToLower(noCategory):
		icon = "📁"
	default:
		icon = "🏷️"
	}
	return fmt.Sprintf("%s %s", icon, escape(normalizeTitle(base)))
}
