// Package telegrambot delivers operator notifications to a Telegram chat and
// answers a few read-only commands from that chat.
package telegrambot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/platform/observability"
)

const (
	updateTimeoutSeconds = 60
	maxMessageLength     = 4000

	statusSent   = "sent"
	statusFailed = "error"
)

var errNotConfigured = errors.New("telegram bot token or chat id missing")

// StatusFunc renders the current relay state for the /status command.
type StatusFunc func() string

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type updater interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot sends notifications to a single operator chat.
type Bot struct {
	api     sender
	updates updater
	chatID  int64
	status  StatusFunc
	logger  *zerolog.Logger
}

// New connects to the Bot API with token.
func New(token string, chatID int64, status StatusFunc, logger *zerolog.Logger) (*Bot, error) {
	if token == "" || chatID == 0 {
		return nil, errNotConfigured
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}

	return &Bot{
		api:     api,
		updates: api,
		chatID:  chatID,
		status:  status,
		logger:  logger,
	}, nil
}

// Notify sends text to the operator chat.
func (b *Bot) Notify(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(b.chatID, truncate(text, maxMessageLength))
	msg.DisableWebPagePreview = true

	if _, err := b.api.Send(msg); err != nil {
		observability.NotificationsSent.WithLabelValues(statusFailed).Inc()
		return fmt.Errorf("send notification to chat %d: %w", b.chatID, err)
	}

	observability.NotificationsSent.WithLabelValues(statusSent).Inc()

	return nil
}

// Run answers commands from the operator chat until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeoutSeconds

	updates := b.updates.GetUpdatesChan(u)
	defer b.updates.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}

			if update.Message == nil {
				continue
			}

			if update.Message.Chat == nil {
				continue
			}

			if chatID := update.Message.Chat.ID; chatID != b.chatID {
				b.logger.Warn().Int64("chat_id", chatID).Msg("Ignoring message from unknown chat")
				continue
			}

			b.handleMessage(update.Message)
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}

	b.logger.Info().Str("command", msg.Command()).Msg("Handling command")

	switch msg.Command() {
	case "start", "help":
		b.reply(msg, "Commands:\n/status - published count and checkpoint")
	case "status":
		if b.status == nil {
			b.reply(msg, "Status unavailable")
			return
		}

		b.reply(msg, b.status())
	default:
		b.reply(msg, "Unknown command")
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, truncate(text, maxMessageLength))
	reply.ReplyToMessageID = msg.MessageID

	if _, err := b.api.Send(reply); err != nil {
		b.logger.Error().Err(err).Msg("failed to send reply")
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

// NopNotifier discards notifications; used when no bot is configured.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, string) error { return nil }
