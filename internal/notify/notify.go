package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram sends alerts to a single chat through the Bot API.
type Telegram struct {
	bot     *bot.Bot
	chatID  int64
	timeout time.Duration
}

// NewTelegram creates a client for token. serverURL may be empty to use the
// public Bot API.
func NewTelegram(token string, chatID int64, serverURL string) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram bot token and chat id are required")
	}
	var opts []bot.Option
	if serverURL != "" {
		opts = append(opts, bot.WithServerURL(serverURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID, timeout: 10 * time.Second}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: t.chatID, Text: text}); err != nil {
		return fmt.Errorf("could not send telegram message: %w", err)
	}
	return nil
}

// Send delivers text and only logs a failure. Alerts never stop the caller.
func Send(ctx context.Context, n Notifier, text string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, text); err != nil {
		slog.Warn("could not send notification (ignored)", "err", err)
	}
}
