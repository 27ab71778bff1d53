package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smart-calendar/internal/model"
	"smart-calendar/internal/service"
)

// Callback data is "<action>:<id>" or, for snoozes, "snooze:<id>:<minutes>".
// Occurrence actions carry an occurrence id, list actions an item id.
const (
	cbSnooze   = "snooze"
	cbDone     = "done"
	cbDismiss  = "dismiss"
	cbComplete = "complete"
	cbDelete   = "delete"
	cbPause    = "pause"
	cbResume   = "resume"
)

type callbackData struct {
	action  string
	id      uint
	minutes int
}

func (c callbackData) String() string {
	if c.action == cbSnooze {
		return fmt.Sprintf("%s:%d:%d", c.action, c.id, c.minutes)
	}
	return fmt.Sprintf("%s:%d", c.action, c.id)
}

func parseCallback(data string) (callbackData, bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return callbackData{}, false
	}
	id, err := parseID(parts[1])
	if err != nil {
		return callbackData{}, false
	}
	cb := callbackData{action: parts[0], id: id}
	switch cb.action {
	case cbSnooze:
		if len(parts) != 3 {
			return callbackData{}, false
		}
		if cb.minutes, err = strconv.Atoi(parts[2]); err != nil || cb.minutes <= 0 {
			return callbackData{}, false
		}
	case cbDone, cbDismiss, cbComplete, cbDelete, cbPause, cbResume:
		if len(parts) != 2 {
			return callbackData{}, false
		}
	default:
		return callbackData{}, false
	}
	return cb, true
}

// Notify sends a fired occurrence to its owner with snooze, done and dismiss
// buttons, and returns the message id.
func (b *Bot) Notify(_ context.Context, o *model.Occurrence) (int, error) {
	user := o.Item.User
	msg := tgbotapi.NewMessage(user.TelegramID, formatNotification(*o, b.location(&user)))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = b.notificationKeyboard(o.ID)
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send notification: %w", err)
	}
	b.log.Info("notification sent", "occurrence", o.ID, "item", o.ItemID, "user", user.TelegramID)
	return sent.MessageID, nil
}

func (b *Bot) notificationKeyboard(occurrenceID uint) tgbotapi.InlineKeyboardMarkup {
	var snoozes []tgbotapi.InlineKeyboardButton
	for _, d := range b.occSvc.SnoozeOptions() {
		minutes := int(d / time.Minute)
		data := callbackData{action: cbSnooze, id: occurrenceID, minutes: minutes}
		snoozes = append(snoozes, tgbotapi.NewInlineKeyboardButtonData("💤 "+snoozeLabel(d), data.String()))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		snoozes,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", callbackData{action: cbDone, id: occurrenceID}.String()),
			tgbotapi.NewInlineKeyboardButtonData("✖️ Dismiss", callbackData{action: cbDismiss, id: occurrenceID}.String()),
		),
	)
}

func itemButtons(it service.ItemWithNext) []tgbotapi.InlineKeyboardButton {
	item := it.Item
	var row []tgbotapi.InlineKeyboardButton
	if it.Next != nil && item.Enabled {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("✅ #%d · %s", item.ID, shortTitle(item.Title, 18)),
			callbackData{action: cbComplete, id: item.ID}.String()))
	}
	if item.Enabled {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⏸", callbackData{action: cbPause, id: item.ID}.String()))
	} else {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("▶️ #%d", item.ID), callbackData{action: cbResume, id: item.ID}.String()))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑", callbackData{action: cbDelete, id: item.ID}.String()))
	return row
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	data, ok := parseCallback(cb.Data)
	if !ok {
		b.ack(cb, "")
		return nil
	}
	b.log.Info("callback", "user", cb.From.ID, "action", data.action, "id", data.id)

	chatID := cb.Message.Chat.ID
	switch data.action {
	case cbComplete:
		b.ack(cb, "")
		return b.askCompleteConfirmation(ctx, chatID, cb.From, data.id)
	case cbDelete:
		b.ack(cb, "")
		return b.askDeleteConfirmation(ctx, chatID, cb.From, data.id)
	}

	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		b.ack(cb, "")
		return err
	}
	now := time.Now()
	loc := b.location(user)

	switch data.action {
	case cbPause, cbResume:
		_, err := b.itemSvc.SetEnabled(ctx, user, data.id, data.action == cbResume, now)
		if err != nil {
			b.ack(cb, plainMessage(err))
			return nil
		}
		b.ack(cb, "")
		return b.sendItemList(ctx, chatID, user)
	case cbSnooze:
		occ, err := b.occSvc.Snooze(ctx, user, data.id, time.Duration(data.minutes)*time.Minute, now)
		if err != nil {
			b.ack(cb, plainMessage(err))
			return nil
		}
		b.ack(cb, "Snoozed")
		return b.closeNotification(cb.Message, fmt.Sprintf("💤 Snoozed until %s", occ.ScheduledTime.In(loc).Format("15:04")))
	case cbDone:
		next, err := b.occSvc.Complete(ctx, user, data.id, now)
		if err != nil {
			b.ack(cb, plainMessage(err))
			return nil
		}
		b.ack(cb, "Done")
		return b.closeNotification(cb.Message, "✅ Done."+nextLine(next, loc))
	case cbDismiss:
		next, err := b.occSvc.Dismiss(ctx, user, data.id, now)
		if err != nil {
			b.ack(cb, plainMessage(err))
			return nil
		}
		b.ack(cb, "Dismissed")
		return b.closeNotification(cb.Message, "✖️ Dismissed."+nextLine(next, loc))
	}
	return nil
}

// closeNotification replaces the buttons of a notification with a status line.
func (b *Bot) closeNotification(msg *tgbotapi.Message, status string) error {
	text := escape(msg.Text) + "\n\n" + status
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, msg.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(edit)
	return err
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Warn("callback ack", "err", err)
	}
}

func snoozeLabel(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
