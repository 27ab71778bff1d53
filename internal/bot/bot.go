package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smart-calendar/internal/assistant"
	"smart-calendar/internal/calendar"
	"smart-calendar/internal/command"
	"smart-calendar/internal/config"
	"smart-calendar/internal/model"
	"smart-calendar/internal/repository"
	"smart-calendar/internal/service"
)

const historyLength = 10

const (
	menuLabelNew    = "➕ New"
	menuLabelList   = "📋 Items"
	menuLabelExport = "📤 Export"
	menuLabelHelp   = "ℹ️ Help"
)

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
)

type confirmationRequest struct {
	itemID uint
	action confirmationAction
}

// Deps are the services the bot talks to.
type Deps struct {
	Users       *repository.UserRepository
	Categories  *service.CategoryService
	Items       *service.ItemService
	Occurrences *service.OccurrenceService
	Summaries   *service.SummaryService
	Assistant   *assistant.Assistant
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	categorySvc   *service.CategoryService
	itemSvc       *service.ItemService
	occSvc        *service.OccurrenceService
	summarySvc    *service.SummaryService
	assistant     *assistant.Assistant
	config        *config.Config
	log           *slog.Logger
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

func New(cfg *config.Config, deps Deps, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bot")
	log.Info("bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      deps.Users,
		categorySvc:   deps.Categories,
		itemSvc:       deps.Items,
		occSvc:        deps.Occurrences,
		summarySvc:    deps.Summaries,
		assistant:     deps.Assistant,
		config:        cfg,
		log:           log,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Error("handle callback", "err", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Error("handle message", "err", err)
			}
		}
	}

	return ctx.Err()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled. Start again whenever you like.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.log.Info("command", "user", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		b.log.Debug("conversation step", "user", msg.From.ID, "stage", b.getConversation(msg.From.ID).stage)
		return b.handleConversation(ctx, msg)
	}

	if b.assistant.Enabled() {
		return b.handleFreeText(ctx, msg)
	}
	return b.sendText(msg.Chat.ID, "I didn't get that. Use /new to add an item or /help for the list of commands.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "new":
		return b.startNewItemConversation(ctx, msg)
	case "list":
		return b.handleList(ctx, msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "snooze":
		return b.handleSnooze(ctx, msg)
	case "history":
		return b.handleHistory(ctx, msg)
	case "move", "repeat":
		return b.handleUpdate(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "pause":
		return b.handleSetEnabled(ctx, msg, false)
	case "resume":
		return b.handleSetEnabled(ctx, msg, true)
	case "categories":
		return b.handleCategories(ctx, msg)
	case "export":
		return b.handleExport(ctx, msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "timezone":
		return b.handleTimezone(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		b.assistant.Forget(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf("👋 Hi, %s!\n<b>I keep your reminders, tasks and alarms on time.</b>\n\n", escape(name)) + helpText
	if b.assistant.Enabled() {
		text += "\n\n💬 You can also just write to me, e.g. <i>remind me to call mom tomorrow at 6pm</i>."
	}
	return b.sendText(msg.Chat.ID, text)
}

const helpText = "Commands:\n" +
	"• /new — add a reminder, task or alarm step by step\n" +
	"• /list — show your items\n" +
	"• /done &lt;id&gt; — complete the current occurrence\n" +
	"• /snooze &lt;id&gt; &lt;minutes&gt; — snooze a fired item\n" +
	"• /history &lt;id&gt; — past occurrences of an item\n" +
	"• /move &lt;id&gt; &lt;when&gt; — reschedule an item\n" +
	"• /repeat &lt;id&gt; &lt;rule&gt; — change how an item repeats\n" +
	"• /pause &lt;id&gt;, /resume &lt;id&gt; — stop or restart an item\n" +
	"• /delete &lt;id&gt; — delete an item with its history\n" +
	"• /categories — your categories\n" +
	"• /export — download an .ics calendar\n" +
	"• /report — today's summary\n" +
	"• /timezone &lt;Area/City&gt; — set your timezone\n" +
	"• /cancel — cancel the current input"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Help</b>\n"+helpText)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.summarySvc.DailySummary(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the summary: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleList(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendItemList(ctx, msg.Chat.ID, user)
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	itemID, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give the item id: /done 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, b.completeItem(ctx, user, itemID))
}

func (b *Bot) handleSnooze(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		return b.sendText(msg.Chat.ID, "Give the item id and minutes: /snooze 12 15")
	}
	itemID, err := parseID(args[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The item id must be a number.")
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return b.sendText(msg.Chat.ID, "Minutes must be a number.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, b.snoozeItem(ctx, user, itemID, time.Duration(minutes)*time.Minute))
}

// handleUpdate serves /move <id> <when> and /repeat <id> <rule>.
func (b *Bot) handleUpdate(ctx context.Context, msg *tgbotapi.Message) error {
	cmd := msg.Command()
	idRaw, rest, _ := strings.Cut(strings.TrimSpace(msg.CommandArguments()), " ")
	rest = strings.TrimSpace(rest)
	itemID, err := parseID(idRaw)
	if err != nil || rest == "" {
		if cmd == "move" {
			return b.sendText(msg.Chat.ID, "Give the item id and a time: /move 12 2025-11-30 18:00")
		}
		return b.sendText(msg.Chat.ID, "Give the item id and a rule: /repeat 12 weekly:mon,thu")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	var input service.ItemInput
	if cmd == "move" {
		at, err := command.NewParser(b.location(user)).ParseTime(rest, time.Now())
		if err != nil {
			return b.sendText(msg.Chat.ID, "I can't read that time. Use <code>2025-11-30 18:00</code>, <code>07:30</code> or <code>in 2h</code>.")
		}
		input.At = at
	} else {
		if input.Rule, err = parseRepeatInput(rest); err != nil {
			return b.sendText(msg.Chat.ID, userMessage(err))
		}
	}

	item, next, err := b.itemSvc.Update(ctx, user, itemID, input, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	b.log.Info("item updated", "item", item.ID, "user", user.ID, "command", cmd)
	return b.sendText(msg.Chat.ID, formatCreated(*item, next, b.location(user)))
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message) error {
	itemID, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give the item id: /history 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, b.history(ctx, user, itemID))
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	itemID, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give the item id: /delete 12")
	}
	return b.askDeleteConfirmation(ctx, msg.Chat.ID, msg.From, itemID)
}

func (b *Bot) handleSetEnabled(ctx context.Context, msg *tgbotapi.Message, enabled bool) error {
	itemID, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Give the item id: /%s 12", msg.Command()))
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	item, err := b.itemSvc.SetEnabled(ctx, user, itemID, enabled, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	b.log.Info("item toggled", "item", item.ID, "user", user.ID, "enabled", enabled)
	if enabled {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("▶️ «%s» is active again.", escape(normalizeTitle(item.Title))))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("⏸ «%s» is paused.", escape(normalizeTitle(item.Title))))
}

func (b *Bot) handleCategories(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	categories, err := b.categorySvc.List(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not load categories: %s", escape(err.Error())))
	}
	if len(categories) == 0 {
		return b.sendText(msg.Chat.ID, "No categories yet. Add one while creating an item.")
	}
	var builder strings.Builder
	builder.WriteString("📂 <b>Categories</b>\n")
	for _, cat := range categories {
		builder.WriteString(fmt.Sprintf("• %s\n", escape(strings.TrimSpace(cat.Name))))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	items, err := b.itemSvc.List(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	entries := make([]calendar.Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, calendar.Entry{Item: it.Item, Next: it.Next})
	}

	var buf bytes.Buffer
	if err := calendar.Encode(&buf, entries, b.location(user), time.Now()); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{Name: "smart-calendar.ics", Bytes: buf.Bytes()})
	doc.Caption = fmt.Sprintf("📤 %d active item(s). Import the file into any calendar app.", countEnabled(items))
	_, err = b.api.Send(doc)
	return err
}

func (b *Bot) handleTimezone(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	tz := strings.TrimSpace(msg.CommandArguments())
	if tz == "" {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Your timezone is <b>%s</b>. Change it with /timezone Europe/Berlin", escape(b.location(user).String())))
	}
	if err := b.userRepo.SetTimezone(ctx, user, tz); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Unknown timezone %s. Use a name like Europe/Berlin.", escape(tz)))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🌍 Timezone set to <b>%s</b>. New times are read in it.", escape(tz)))
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		if req.action == actionDelete {
			return b.deleteItemAndRefresh(ctx, msg.Chat.ID, msg.From, req.itemID)
		}
		return b.completeItemAndRefresh(ctx, msg.Chat.ID, msg.From, req.itemID)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		prompt := "Confirm or cancel completing the item."
		if req.action == actionDelete {
			prompt = "Confirm or cancel deleting the item."
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, prompt, confirmKeyboard())
	}
}

// SendDailyReports sends a summary to every user with an enabled item.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListWithEnabledItems(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text, err := b.summarySvc.DailySummary(ctx, user, now)
		if err != nil {
			b.log.Error("build summary", "user", user.TelegramID, "err", err)
			continue
		}
		if text == "" {
			continue
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			b.log.Error("send summary", "user", user.TelegramID, "err", err)
		}
	}
	return nil
}

// SendRecoveryNotices tells owners what restart catch-up did to their items.
func (b *Bot) SendRecoveryNotices(recoveries []service.Recovery) {
	for _, rec := range recoveries {
		if err := b.sendText(rec.Item.User.TelegramID, formatRecovery(rec, b.location(&rec.Item.User))); err != nil {
			b.log.Error("send recovery notice", "item", rec.Item.ID, "err", err)
		}
	}
}

func (b *Bot) askCompleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, itemID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	item, err := b.itemSvc.Get(ctx, user, itemID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}

	text := fmt.Sprintf("Mark «%s» (#%d) as done?", escape(normalizeTitle(item.Title)), item.ID)
	b.setConfirmation(from.ID, confirmationRequest{itemID: item.ID, action: actionComplete})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) askDeleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, itemID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	item, err := b.itemSvc.Get(ctx, user, itemID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}

	text := fmt.Sprintf("Delete «%s» (#%d) with its history?", escape(normalizeTitle(item.Title)), item.ID)
	b.setConfirmation(from.ID, confirmationRequest{itemID: item.ID, action: actionDelete})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) completeItemAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, itemID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	if err := b.sendTextWithRemove(chatID, b.completeItem(ctx, user, itemID)); err != nil {
		return err
	}
	return b.sendItemList(ctx, chatID, user)
}

func (b *Bot) deleteItemAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, itemID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	if err := b.sendTextWithRemove(chatID, b.deleteItem(ctx, user, itemID)); err != nil {
		return err
	}
	return b.sendItemList(ctx, chatID, user)
}

// completeItem, snoozeItem, deleteItem and history are shared by commands,
// buttons and the assistant; they return the text to show.

func (b *Bot) completeItem(ctx context.Context, user *model.User, itemID uint) string {
	item, err := b.itemSvc.Get(ctx, user, itemID)
	if err != nil {
		return userMessage(err)
	}
	next, err := b.occSvc.CompleteItem(ctx, user, itemID, time.Now())
	if err != nil {
		return userMessage(err)
	}
	b.log.Info("item completed", "item", item.ID, "user", user.ID)
	return fmt.Sprintf("✅ «%s» done.%s", escape(normalizeTitle(item.Title)), nextLine(next, b.location(user)))
}

func (b *Bot) snoozeItem(ctx context.Context, user *model.User, itemID uint, d time.Duration) string {
	occ, err := b.occSvc.SnoozeItem(ctx, user, itemID, d, time.Now())
	if err != nil {
		return userMessage(err)
	}
	return fmt.Sprintf("💤 Snoozed until %s.", occ.ScheduledTime.In(b.location(user)).Format("15:04"))
}

func (b *Bot) deleteItem(ctx context.Context, user *model.User, itemID uint) string {
	item, err := b.itemSvc.Get(ctx, user, itemID)
	if err != nil {
		return userMessage(err)
	}
	if err := b.itemSvc.Delete(ctx, user, itemID); err != nil {
		return userMessage(err)
	}
	b.log.Info("item deleted", "item", item.ID, "user", user.ID)
	return fmt.Sprintf("🗑 «%s» deleted.", escape(normalizeTitle(item.Title)))
}

func (b *Bot) history(ctx context.Context, user *model.User, itemID uint) string {
	item, occurrences, err := b.itemSvc.History(ctx, user, itemID, historyLength)
	if err != nil {
		return userMessage(err)
	}
	return formatHistory(*item, occurrences, b.location(user))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) location(user *model.User) *time.Location {
	return user.Location(b.config.Location)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Main menu")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) sendItemList(ctx context.Context, chatID int64, user *model.User) error {
	items, err := b.itemSvc.List(ctx, user)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if len(items) == 0 {
		return b.sendText(chatID, "You have no items yet. Add one with /new.")
	}

	catNames, _ := b.categorySvc.Names(ctx, user)
	loc := b.location(user)

	type categoryGroup struct {
		Name  string
		Items []service.ItemWithNext
	}
	groups := make(map[string]*categoryGroup)
	order := make([]string, 0, len(items))
	for _, it := range items {
		key, display := normalizedCategory(it.Item.CategoryID, catNames)
		group, ok := groups[key]
		if !ok {
			group = &categoryGroup{Name: display}
			groups[key] = group
			order = append(order, key)
		}
		group.Items = append(group.Items, it)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i] == noCategoryKey {
			return false
		}
		if order[j] == noCategoryKey {
			return true
		}
		return strings.Compare(groups[order[i]].Name, groups[order[j]].Name) < 0
	})

	var builder strings.Builder
	builder.WriteString("📋 <b>Your items</b>\n")
	builder.WriteString("Use the buttons to complete, pause or delete an item.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, key := range order {
		section := groups[key]
		builder.WriteString(fmt.Sprintf("<b>%s</b>\n", section.Name))
		for _, it := range section.Items {
			builder.WriteString(formatItem(it, loc))
			buttons = append(buttons, itemButtons(it))
		}
		builder.WriteByte('\n')
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNew):
		return true, b.startNewItemConversation(ctx, msg)
	case strings.ToLower(menuLabelList):
		return true, b.handleList(ctx, msg)
	case strings.ToLower(menuLabelExport):
		return true, b.handleExport(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func countEnabled(items []service.ItemWithNext) int {
	n := 0
	for _, it := range items {
		if it.Item.Enabled {
			n++
		}
	}
	return n
}

func parseID(raw string) (uint, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, errors.New("id must be positive")
	}
	return uint(value), nil
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNew),
			tgbotapi.NewKeyboardButton(menuLabelList),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelExport),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTimeKeyboard([]string{btnConfirm, btnCancel, btnCancelDialog})
}
