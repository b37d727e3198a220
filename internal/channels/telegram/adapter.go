// Package telegram is a thin proof adapter demonstrating that the progress
// and approval callbacks accepted by agent.Engine.SendMessage are ordinary
// Go function values a channel can supply — not a full Telegram UX.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/agentd/internal/agent"
)

const sessionPrefix = "telegram:"

// Adapter wires a single Telegram bot to one agent.Engine. Each chat maps
// to one session, named "telegram:<chat id>".
type Adapter struct {
	bot    *bot.Bot
	engine *agent.Engine
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan bool // approval request ID -> resolution channel
}

// NewAdapter creates a Telegram bot bound to token and registers its
// message and callback-query handlers against engine.
func NewAdapter(token string, engine *agent.Engine, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{engine: engine, logger: logger.With("adapter", "telegram"), pending: make(map[string]chan bool)}

	b, err := bot.New(token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = b
	return a, nil
}

// Start blocks, running the bot's long-polling loop until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	a.bot.Start(ctx)
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	switch {
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, b, update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "":
		a.handleMessage(ctx, b, update.Message)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, b *bot.Bot, msg *models.Message) {
	sessionID := sessionPrefix + strconv.FormatInt(msg.Chat.ID, 10)

	placeholder, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.Chat.ID,
		Text:   "...",
	})
	if err != nil {
		a.logger.Error("failed to send placeholder", "error", err)
		return
	}

	var builder strings.Builder
	progress := a.progressSink(b, msg.Chat.ID, placeholder.ID, &builder)
	approval := a.approvalCallback(b, msg.Chat.ID)

	opts := agent.SendOptions{Cancel: ctx, Progress: progress, Approval: approval}
	resp, err := a.engine.SendMessage(ctx, sessionID, msg.Text, opts)
	if err != nil {
		a.logger.Warn("send message failed", "session_id", sessionID, "error", err)
		a.editMessage(b, msg.Chat.ID, placeholder.ID, "error: "+err.Error())
		return
	}
	if resp.Content != "" {
		a.editMessage(b, msg.Chat.ID, placeholder.ID, resp.Content)
	}
}

// progressSink forwards StreamingChunk/ToolStarted/ToolCompleted events by
// editing the placeholder message in place. Reasoning chunks and
// intermediate text are dropped — the interface permits a sink to ignore
// any event variant it doesn't care about.
func (a *Adapter) progressSink(b *bot.Bot, chatID int64, messageID int, builder *strings.Builder) agent.ProgressSink {
	return func(sessionID string, event agent.ProgressEvent) {
		switch e := event.(type) {
		case agent.StreamingChunk:
			builder.WriteString(e.Text)
			a.editMessage(b, chatID, messageID, builder.String())
		case agent.ToolStarted:
			a.editMessage(b, chatID, messageID, fmt.Sprintf("%s\n\n_running %s..._", builder.String(), e.Name))
		case agent.ToolCompleted:
			status := "ok"
			if !e.Success {
				status = "failed"
			}
			a.editMessage(b, chatID, messageID, fmt.Sprintf("%s\n\n_%s: %s_", builder.String(), e.Name, status))
		}
	}
}

// approvalCallback renders an inline keyboard and blocks until the user
// taps a button (or returns false if the prompt cannot be sent). It has no
// timeout of its own: when the broker times out first, the callback stays
// blocked until a tap arrives.
func (a *Adapter) approvalCallback(b *bot.Bot, chatID int64) agent.ApprovalCallback {
	return func(req agent.ApprovalRequest) bool {
		resolved := make(chan bool, 1)
		a.mu.Lock()
		a.pending[req.ID] = resolved
		a.mu.Unlock()
		defer func() {
			a.mu.Lock()
			delete(a.pending, req.ID)
			a.mu.Unlock()
		}()

		_, err := b.SendMessage(context.Background(), &bot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("approve %s?\n%s", req.ToolName, req.Description),
			ReplyMarkup: &models.InlineKeyboardMarkup{
				InlineKeyboard: [][]models.InlineKeyboardButton{{
					{Text: "Approve", CallbackData: "approve:" + req.ID},
					{Text: "Deny", CallbackData: "deny:" + req.ID},
				}},
			},
		})
		if err != nil {
			a.logger.Error("failed to send approval prompt", "error", err)
			return false
		}

		return <-resolved
	}
}

func (a *Adapter) handleCallback(ctx context.Context, b *bot.Bot, cb *models.CallbackQuery) {
	approved := strings.HasPrefix(cb.Data, "approve:")
	denied := strings.HasPrefix(cb.Data, "deny:")
	if !approved && !denied {
		return
	}

	requestID := strings.TrimPrefix(strings.TrimPrefix(cb.Data, "approve:"), "deny:")
	a.mu.Lock()
	resolved, ok := a.pending[requestID]
	a.mu.Unlock()
	if !ok {
		return
	}

	select {
	case resolved <- approved:
	default:
	}

	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID}); err != nil {
		a.logger.Debug("failed to answer callback query", "error", err)
	}
}

func (a *Adapter) editMessage(b *bot.Bot, chatID int64, messageID int, text string) {
	if strings.TrimSpace(text) == "" {
		text = "..."
	}
	if _, err := b.EditMessageText(context.Background(), &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		a.logger.Debug("failed to edit message", "error", err)
	}
}
