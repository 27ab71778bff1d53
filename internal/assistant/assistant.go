package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/mo"
	"github.com/sashabaranov/go-openai"

	"smart-calendar/internal/command"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("assistant is not configured")

// historyLimit caps the remembered turns per chat.
const historyLimit = 12

const systemPromptTemplate = `You are the assistant of a calendar bot that manages reminders, tasks and alarms.

Current time: %s (%s)

Answer briefly. When the user asks for an action, include exactly one tool block per action in your answer:

[TOOL:create_item|type:<reminder|task|alarm>|title:<text>|at:<YYYY-MM-DD HH:MM>|repeat:<rule>|description:<text>|category:<text>]
[TOOL:list_items]
[TOOL:complete|id:<item id>]
[TOOL:snooze|id:<item id>|minutes:<5|10|15|30|60>]
[TOOL:delete|id:<item id>]
[TOOL:history|id:<item id>]

Rules:
1. type, repeat, description and category are optional. Never put "|" or "]" inside a value.
2. repeat is one of: none, daily, daily/N, weekly:mon,thu, weekly:fri/2, monthly, monthly/N, custom:sat,sun.
3. Resolve relative dates ("tomorrow", "next Monday", "in 3 hours") against the current time and write the absolute time.
4. If the request lacks the time or the title, ask for it instead of guessing.
5. Never invent item ids; ask the user or list the items first.`

// Message is one remembered chat turn.
type Message struct {
	Role    string
	Content string
}

// Reply is the visible answer plus the commands found in it.
type Reply struct {
	Text     string
	Commands []mo.Result[command.Command]
}

// Config selects the OpenAI-compatible endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Assistant turns free text into replies and commands.
type Assistant struct {
	client *openai.Client
	model  string
	parser *command.Parser

	mu      sync.Mutex
	history map[int64][]Message
}

// New returns nil when cfg has no API key; a nil *Assistant answers every
// call with ErrDisabled.
func New(cfg Config, parser *command.Parser) *Assistant {
	if cfg.APIKey == "" {
		return nil
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Assistant{
		client:  openai.NewClientWithConfig(config),
		model:   cfg.Model,
		parser:  parser,
		history: make(map[int64][]Message),
	}
}

func (a *Assistant) Enabled() bool {
	return a != nil
}

// Ask sends text with the chat's recent history and parses the answer.
func (a *Assistant) Ask(ctx context.Context, chatID int64, text string, now time.Time) (Reply, error) {
	if a == nil {
		return Reply{}, ErrDisabled
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt(now),
		},
	}
	for _, msg := range a.recent(chatID) {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("call assistant api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("no response from assistant")
	}

	content := resp.Choices[0].Message.Content
	a.remember(chatID,
		Message{Role: openai.ChatMessageRoleUser, Content: text},
		Message{Role: openai.ChatMessageRoleAssistant, Content: content},
	)

	visible, commands := a.parser.Extract(content, now)
	return Reply{Text: visible, Commands: commands}, nil
}

// Forget drops the chat's history.
func (a *Assistant) Forget(chatID int64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.history, chatID)
}

func (a *Assistant) recent(chatID int64) []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.history[chatID]...)
}

func (a *Assistant) remember(chatID int64, msgs ...Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := append(a.history[chatID], msgs...)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	a.history[chatID] = h
}

func systemPrompt(now time.Time) string {
	zone, _ := now.Zone()
	return fmt.Sprintf(systemPromptTemplate, now.Format("2006-01-02 15:04 (Monday)"), strings.TrimSpace(zone))
}
