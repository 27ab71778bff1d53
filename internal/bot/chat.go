package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smart-calendar/internal/command"
	"smart-calendar/internal/model"
	"smart-calendar/internal/service"
)

// handleFreeText asks the assistant and runs the commands it answered with.
func (b *Bot) handleFreeText(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	typing := tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(typing); err != nil {
		b.log.Debug("chat action", "err", err)
	}

	now := time.Now().In(b.location(user))
	reply, err := b.assistant.Ask(ctx, msg.Chat.ID, msg.Text, now)
	if err != nil {
		b.log.Error("assistant", "user", user.ID, "err", err)
		return b.sendText(msg.Chat.ID, "The assistant is unavailable right now. Try /new instead.")
	}

	parts := []string{escape(reply.Text)}
	for _, res := range reply.Commands {
		cmd, err := res.Get()
		if err != nil {
			b.log.Warn("assistant command rejected", "user", user.ID, "err", err)
			parts = append(parts, "⚠️ "+escape(err.Error()))
			continue
		}
		b.log.Info("assistant command", "user", user.ID, "tool", cmd.Tool())
		parts = append(parts, b.execute(ctx, msg.Chat.ID, user, cmd))
	}

	text := strings.TrimSpace(strings.Join(nonEmpty(parts), "\n\n"))
	if text == "" {
		return nil
	}
	return b.sendText(msg.Chat.ID, text)
}

// execute runs one parsed command and returns what to show. Listing sends
// its own message and returns an empty string.
func (b *Bot) execute(ctx context.Context, chatID int64, user *model.User, cmd command.Command) string {
	switch c := cmd.(type) {
	case command.CreateItem:
		return b.createItem(ctx, user, service.ItemInput{
			Type:        c.Type,
			Title:       c.Title,
			Description: c.Description,
			Category:    c.Category,
			At:          c.At,
			Rule:        c.Rule,
		})
	case command.ListItems:
		if err := b.sendItemList(ctx, chatID, user); err != nil {
			return userMessage(err)
		}
		return ""
	case command.Complete:
		return b.completeItem(ctx, user, c.ItemID)
	case command.Snooze:
		return b.snoozeItem(ctx, user, c.ItemID, c.Duration)
	case command.Delete:
		return b.deleteItem(ctx, user, c.ItemID)
	case command.History:
		return b.history(ctx, user, c.ItemID)
	default:
		return ""
	}
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
