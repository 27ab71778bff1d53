package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smart-calendar/internal/command"
	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageType
	stageTitle
	stageDescription
	stageCategory
	stageTime
	stageRepeat
)

const (
	btnSkip         = "⏭️ Skip"
	btnConfirm      = "✅ Confirm"
	btnCancel       = "↩️ Cancel"
	btnCancelDialog = "⏪ Stop input"
	btnReminder     = "🔔 Reminder"
	btnTask         = "✅ Task"
	btnAlarm        = "⏰ Alarm"
	btnOnce         = "Once"
	btnDaily        = "Daily"
	btnWeekdays     = "Weekdays"
	btnWeekly       = "Weekly"
	btnMonthly      = "Monthly"
)

type conversationState struct {
	stage conversationStage
	input service.ItemInput
}

func (b *Bot) startNewItemConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.log.Info("start new item conversation", "user", msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageType})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New item.\n<b>Step 1:</b> a reminder, a task or an alarm?", typeKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageType:
		t, ok := parseTypeInput(text)
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Pick one of the buttons.", typeKeyboard())
		}
		state.input.Type = t
		state.stage = stageTitle
		return b.sendWithReplyMarkup(msg.Chat.ID, "<b>Step 2:</b> what should it say?", cancelKeyboard())
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title cannot be empty.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Add a short note (or press «Skip»).", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageCategory
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Pick a category or type your own (you can «Skip»).", categoryKeyboard())
	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		state.stage = stageTime
		return b.sendWithReplyMarkup(msg.Chat.ID,
			"⏰ When? For example <code>2025-11-30 18:00</code>, <code>07:30</code> or <code>in 2h</code>.", cancelKeyboard())
	case stageTime:
		user, err := b.ensureUser(ctx, msg.From)
		if err != nil {
			return err
		}
		at, err := command.NewParser(b.location(user)).ParseTime(text, time.Now())
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID,
				"I can't read that time. Use <code>2025-11-30 18:00</code>, <code>07:30</code> or <code>in 2h</code>.", cancelKeyboard())
		}
		state.input.At = at
		state.stage = stageRepeat
		return b.sendWithReplyMarkup(msg.Chat.ID,
			"🔁 Repeat? Pick a button or type a rule like <code>weekly:mon,thu</code> or <code>daily/2</code>.", repeatKeyboard())
	case stageRepeat:
		rule, err := parseRepeatInput(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, userMessage(err), repeatKeyboard())
		}
		state.input.Rule = rule
		err = b.finishItemCreation(ctx, msg.From, state.input, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "The dialog was reset. Try again with /new.")
	}
}

func (b *Bot) finishItemCreation(ctx context.Context, from *tgbotapi.User, input service.ItemInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	text := b.createItem(ctx, user, input)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendItemList(ctx, chatID, user)
}

// createItem is shared with the assistant and returns the text to show.
func (b *Bot) createItem(ctx context.Context, user *model.User, input service.ItemInput) string {
	item, occ, err := b.itemSvc.Create(ctx, user, input, time.Now())
	if err != nil {
		return fmt.Sprintf("Could not save the item: %s", userMessage(err))
	}
	b.log.Info("item created", "item", item.ID, "user", user.ID, "rule", item.Rule().String())
	return formatCreated(*item, occ, b.location(user))
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

// parseTypeInput accepts a keyboard button or a typed name.
func parseTypeInput(text string) (model.ItemType, bool) {
	switch strings.TrimSpace(text) {
	case btnReminder:
		return model.ItemReminder, true
	case btnTask:
		return model.ItemTask, true
	case btnAlarm:
		return model.ItemAlarm, true
	}
	return model.ParseItemType(text)
}

// parseRepeatInput reads a keyboard choice or a typed rule.
func parseRepeatInput(text string) (recurrence.Rule, error) {
	value := strings.ToLower(strings.TrimSpace(text))
	switch {
	case isSkipInput(value) || value == "no":
		return recurrence.Once(), nil
	case value == strings.ToLower(btnWeekdays):
		return recurrence.Weekly(1, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday), nil
	case value == "weekends":
		return recurrence.CustomDays(time.Saturday, time.Sunday), nil
	}
	return recurrence.ParseRule(value)
}

// oneTimeKeyboard builds a resized reply keyboard that hides after a press.
func oneTimeKeyboard(rows ...[]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		line := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			line = append(line, tgbotapi.NewKeyboardButton(label))
		}
		buttons = append(buttons, line)
	}
	kb := tgbotapi.NewReplyKeyboard(buttons...)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func typeKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTimeKeyboard(
		[]string{btnReminder, btnTask, btnAlarm},
		[]string{btnCancelDialog},
	)
}

func repeatKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTimeKeyboard(
		[]string{btnOnce, btnDaily, btnWeekdays},
		[]string{btnWeekly, btnMonthly, btnCancelDialog},
	)
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTimeKeyboard([]string{btnCancelDialog})
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTimeKeyboard([]string{btnSkip}, []string{btnCancelDialog})
}

func categoryKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTimeKeyboard(
		[]string{"Study", "Work"},
		[]string{"Shopping", "Health"},
		[]string{btnSkip, btnCancelDialog},
	)
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "cancel"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "stop"
}
