// Package notify delivers fired reminders to chats.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/retry"
)

const (
	defaultSendTimeout = 15 * time.Second
	// Telegram allows roughly 30 messages per second per bot.
	defaultRate  = 25
	defaultBurst = 5
)

// Sender is the Telegram call the notifier needs.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Options tunes the Telegram notifier.
type Options struct {
	SendTimeout   time.Duration
	RatePerSecond float64
	Burst         int
	Retry         retry.Config
}

// Telegram sends reminders as plain text messages.
type Telegram struct {
	bot     Sender
	limiter *rate.Limiter
	opts    Options
	log     *logger.Logger
}

// NewTelegram creates a notifier sending through bot.
func NewTelegram(bot Sender, opts Options, log *logger.Logger) *Telegram {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = defaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	return &Telegram{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:    opts,
		log:     log.With(logger.Field{Key: "component", Value: "notifier"}),
	}
}

// Deliver sends payload to chat, waiting for the rate limiter and retrying
// transient API errors. Failures wrap jobs.ErrDeliveryFailure.
func (t *Telegram) Deliver(ctx context.Context, chat int64, payload string) error {
	err := retry.Do(ctx, t.opts.Retry, t.log, "send reminder", func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		sendCtx, cancel := context.WithTimeout(ctx, t.opts.SendTimeout)
		defer cancel()

		_, err := t.bot.SendMessage(sendCtx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: chat},
			Text:   payload,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: chat %d: %w", jobs.ErrDeliveryFailure, chat, err)
	}
	return nil
}

// Log writes reminders to the log instead of sending them. Used by
// serve --dry-run.
type Log struct {
	log *logger.Logger
}

// NewLog creates a log-only notifier.
func NewLog(log *logger.Logger) *Log {
	return &Log{log: log.With(logger.Field{Key: "component", Value: "notifier"})}
}

func (l *Log) Deliver(ctx context.Context, chat int64, payload string) error {
	l.log.InfoCtx(ctx, "reminder (dry run)",
		logger.Field{Key: "chat_id", Value: chat},
		logger.Field{Key: "payload", Value: payload})
	return nil
}
