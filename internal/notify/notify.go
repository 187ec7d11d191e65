// Package notify sends operator alerts about ledger anomalies.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier delivers a plain-text alert to operators.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Noop discards alerts. Used when no operator channel is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }

// Telegram posts alerts to a fixed chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, chatID, &http.Client{}, log)
}

// NewTelegramWithEndpoint lets tests and proxies override the Bot API host.
// endpoint uses the tgbotapi format "https://host/bot%s/%s".
func NewTelegramWithEndpoint(token, endpoint string, chatID int64, client *http.Client, log *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info("ops notifier ready", "bot", bot.Self.UserName, "chat_id", chatID)
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Error("send ops alert", "chat_id", t.chatID, "err", err)
		return fmt.Errorf("send ops alert: %w", err)
	}
	return nil
}
