package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omegaclaw/pkg/events"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/utils"
)

// Replies sent by the bot itself rather than the handler.
const (
	NotConfiguredMessage = "⛔ Bot not configured. Contact admin."
	UnauthorizedMessage  = "⛔ Unauthorized."
	ErrorMessage         = "❌ Something went wrong. The error has been logged."
)

// ErrNoRecipient is returned by Emit when an event has no user and no
// operator is configured.
var ErrNoRecipient = errors.New("no recipient for event")

// Incoming is an authorized text message handed to the handler.
type Incoming struct {
	UserID int64
	ChatID int64
	Text   string
}

// Handler produces the reply to an incoming message. An empty reply sends
// nothing.
type Handler func(ctx context.Context, msg Incoming) (string, error)

// Bot polls for messages and sends replies and event notices.
type Bot struct {
	client      *Client
	allowed     map[int64]bool
	operator    int64
	pollTimeout time.Duration
	handler     Handler
	logger      *logx.Logger
}

// NewBot creates a bot. With an empty allow-list every message is refused.
// The first allowed user receives events that name no user.
func NewBot(client *Client, allowed []int64, pollTimeout time.Duration, handler Handler) *Bot {
	b := &Bot{
		client:      client,
		allowed:     make(map[int64]bool, len(allowed)),
		pollTimeout: pollTimeout,
		handler:     handler,
		logger:      logx.NewLogger("telegram"),
	}
	for _, id := range allowed {
		b.allowed[id] = true
	}
	if len(allowed) > 0 {
		b.operator = allowed[0]
	}
	return b
}

// Run polls until ctx is cancelled. Failed polls back off up to 30s.
func (b *Bot) Run(ctx context.Context) error {
	if len(b.allowed) == 0 {
		b.logger.Warn("⚠️ No allowed users configured, every message will be refused")
	}
	b.logger.Info("📡 Polling for messages")

	var offset int64
	backoff := time.Second
	for {
		updates, next, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if ctx.Err() != nil {
			return nil //nolint:nilerr // shutdown
		}
		if err != nil {
			b.logger.Warn("Poll failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		offset = next
		for i := range updates {
			b.HandleUpdate(ctx, &updates[i])
		}
	}
}

// HandleUpdate applies the allow-list to one update and replies.
func (b *Bot) HandleUpdate(ctx context.Context, u *Update) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" || msg.From.IsBot {
		return
	}
	reply := b.reply(ctx, Incoming{UserID: msg.From.ID, ChatID: msg.Chat.ID, Text: msg.Text})
	if reply == "" {
		return
	}
	if err := b.client.SendChunked(ctx, msg.Chat.ID, reply); err != nil {
		b.logger.Error("Failed to reply to %d: %v", msg.From.ID, err)
	}
}

func (b *Bot) reply(ctx context.Context, in Incoming) string {
	if len(b.allowed) == 0 {
		b.logger.Warn("Refused message from %d: no allowed users configured", in.UserID)
		return NotConfiguredMessage
	}
	if !b.allowed[in.UserID] {
		b.logger.Warn("Refused message from unauthorized user %d", in.UserID)
		return UnauthorizedMessage
	}
	b.logger.Info("📨 %d: %s", in.UserID, utils.Truncate(utils.OneLine(utils.RedactSecrets(in.Text)), 80))

	out, err := b.handler(ctx, in)
	if err != nil {
		b.logger.Error("Handler failed for %d: %v", in.UserID, err)
		return ErrorMessage
	}
	return out
}

// Emit implements events.Sink by sending the event text to its user, or to
// the operator when the event names no user.
func (b *Bot) Emit(ctx context.Context, ev events.Event) error {
	chat := ev.UserID
	if chat == 0 {
		chat = b.operator
	}
	if chat == 0 {
		return fmt.Errorf("%s for %s: %w", ev.Kind, ev.JobID, ErrNoRecipient)
	}
	if err := b.client.SendChunked(ctx, chat, ev.Message); err != nil {
		return fmt.Errorf("failed to deliver %s for %s: %w", ev.Kind, ev.JobID, err)
	}
	return nil
}

// Notify sends a free-form message to the operator.
func (b *Bot) Notify(ctx context.Context, text string) error {
	if b.operator == 0 {
		return ErrNoRecipient
	}
	return b.client.SendChunked(ctx, b.operator, text)
}
