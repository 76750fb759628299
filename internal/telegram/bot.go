// Package telegram is the chat front end: it long-polls Telegram, parses
// reminder commands, checks who may use them and replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mymmrac/telego"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
	"github.com/lazarusking/theaccelbot/internal/reminder"
)

// Command results recorded in metrics.
const (
	resultOK      = "ok"
	resultDenied  = "denied"
	resultInvalid = "invalid"
	resultError   = "error"
)

const (
	usageSet    = "Usage: /set <message>"
	usageRemind = "Usage: /remind <message> <interval>"
	usageCancel = "Usage: /cancel <job_id>"

	setHelp = "Set\n" +
		"Usage: /set <message> <time>\n" +
		"Example: /set Hello 10m\n" +
		"Time units: s (seconds), m (minutes), h (hours), d (days), w (weeks)"

	helpText = "<b>Commands:</b>\n" +
		"/start - Start the bot\n" +
		"/set &lt;message&gt; &lt;time&gt; - Set a message to be sent later (e.g., /set Hello 10m)\n" +
		"/remind &lt;message&gt; &lt;interval&gt; - Set a recurring reminder (e.g., /remind Hello daily)\n" +
		"/help - Display this message\n" +
		"/all - View all reminders\n" +
		"/cancel &lt;job_id&gt; - Cancel a reminder by its ID\n"

	notReadyText = "Still starting up, try again in a moment."
	failureText  = "Something went wrong, please try again."
)

// Commands is the menu registered with SetMyCommands.
var Commands = []telego.BotCommand{
	{Command: "start", Description: "Start the bot"},
	{Command: "set", Description: "Set a message to be sent later"},
	{Command: "remind", Description: "Set a recurring reminder"},
	{Command: "help", Description: "Display this message"},
	{Command: "all", Description: "View all reminders"},
	{Command: "cancel", Description: "Cancel a reminder by job ID"},
}

// Reminders is what the bot needs from the reminder service.
type Reminders interface {
	CreateOnce(ctx context.Context, chat, user int64, payload string, at time.Time) (jobs.Record, error)
	CreateRecurring(ctx context.Context, chat, user int64, payload string, recurrence jobs.Recurrence, first time.Time) (jobs.Record, error)
	List(ctx context.Context, chat int64) ([]jobs.Record, error)
	Resolve(ctx context.Context, chat int64, index int) (jobs.Record, error)
	Cancel(ctx context.Context, id string) error
}

// Options configures the bot.
type Options struct {
	AllowedUsers   []int64
	GroupID        int64
	PersonalUserID int64
	PollTimeout    int // seconds
}

type commandFunc func(ctx context.Context, msg *telego.Message, args []string) string

// Bot dispatches Telegram commands to the reminder service.
type Bot struct {
	api       BotInterface
	reminders Reminders
	catalog   *jobs.Catalog
	clock     clockwork.Clock
	auth      *Authorizer
	opts      Options
	log       *logger.Logger
	metrics   *metrics.Metrics

	handlers map[string]commandFunc
}

// New creates a bot. m may be nil.
func New(api BotInterface, reminders Reminders, catalog *jobs.Catalog, clock clockwork.Clock, opts Options, log *logger.Logger, m *metrics.Metrics) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}
	b := &Bot{
		api:       api,
		reminders: reminders,
		catalog:   catalog,
		clock:     clock,
		auth:      NewAuthorizer(opts.AllowedUsers, opts.GroupID, opts.PersonalUserID, api),
		opts:      opts,
		log:       log.With(logger.Field{Key: "component", Value: "telegram"}),
		metrics:   m,
	}
	b.handlers = map[string]commandFunc{
		"start":  b.handleStart,
		"set":    b.guarded("set", b.handleSet),
		"remind": b.guarded("remind", b.handleRemind),
		"all":    b.handleAll,
		"cancel": b.guarded("cancel", b.handleCancel),
		"help":   b.handleHelp,
	}
	return b
}

// Start checks the token and registers the command menu.
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	b.log.Info("telegram bot initialized",
		logger.Field{Key: "bot_id", Value: me.ID},
		logger.Field{Key: "username", Value: me.Username})

	if err := b.api.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: Commands}); err != nil {
		b.log.ErrorCtx(ctx, "failed to register bot commands", err)
	}
	return nil
}

// Run long-polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("starting long polling for telegram updates")

	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: b.opts.PollTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			b.log.Info("long polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				b.log.Info("updates channel closed")
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate runs the command in update, if any, and sends the reply.
func (b *Bot) HandleUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return
	}

	name, args := splitCommand(msg.Text)
	handler, ok := b.handlers[name]
	if !ok {
		return
	}

	b.log.DebugCtx(ctx, "command received",
		logger.Field{Key: "command", Value: name},
		logger.Field{Key: "chat_id", Value: msg.Chat.ID},
		logger.Field{Key: "user_id", Value: msg.From.ID})

	if text := handler(ctx, msg, args); text != "" {
		b.reply(ctx, msg, text)
	}
}

// guarded wraps a mutating command with the authorization policies.
func (b *Bot) guarded(name string, next commandFunc) commandFunc {
	return func(ctx context.Context, msg *telego.Message, args []string) string {
		ok, err := b.auth.Allowed(ctx, msg.Chat.ID, msg.From.ID)
		if err != nil {
			b.log.ErrorCtx(ctx, "authorization check failed", err,
				logger.Field{Key: "chat_id", Value: msg.Chat.ID},
				logger.Field{Key: "user_id", Value: msg.From.ID})
			b.metrics.RecordCommand(name, resultError)
			return failureText
		}
		if !ok {
			b.log.WarnCtx(ctx, "command denied",
				logger.Field{Key: "command", Value: name},
				logger.Field{Key: "chat_id", Value: msg.Chat.ID},
				logger.Field{Key: "user_id", Value: msg.From.ID})
			b.metrics.RecordCommand(name, resultDenied)
			return b.auth.Denial()
		}
		return next(ctx, msg, args)
	}
}

func (b *Bot) handleStart(_ context.Context, msg *telego.Message, _ []string) string {
	b.metrics.RecordCommand("start", resultOK)
	return "Hi " + mention(msg.From) + "!"
}

func (b *Bot) handleHelp(_ context.Context, _ *telego.Message, args []string) string {
	b.metrics.RecordCommand("help", resultOK)
	if len(args) == 1 && strings.EqualFold(args[0], "set") {
		return html.EscapeString(setHelp)
	}
	return helpText
}

func (b *Bot) handleSet(ctx context.Context, msg *telego.Message, args []string) string {
	if len(args) == 0 {
		b.metrics.RecordCommand("set", resultInvalid)
		return html.EscapeString(usageSet)
	}

	delay, err := ParseDelay(args[len(args)-1])
	switch {
	case errors.Is(err, ErrUnknownUnit):
		b.metrics.RecordCommand("set", resultInvalid)
		return "Invalid time unit. Use s, m, h, hr,d or w."
	case errors.Is(err, ErrNegativeDelay):
		b.metrics.RecordCommand("set", resultInvalid)
		return "Sorry we can not go back to future!"
	case err != nil:
		b.metrics.RecordCommand("set", resultInvalid)
		return html.EscapeString(usageSet)
	}

	payload := payloadOf(msg, args[:len(args)-1])
	if payload == "" {
		b.metrics.RecordCommand("set", resultInvalid)
		return html.EscapeString(usageSet)
	}

	at := b.clock.Now().Add(delay)
	if _, err := b.reminders.CreateOnce(ctx, msg.Chat.ID, msg.From.ID, payload, at); err != nil {
		return b.failed(ctx, "set", err)
	}
	b.metrics.RecordCommand("set", resultOK)
	return "Message will be sent in " + FormatTimeLeft(delay)
}

func (b *Bot) handleRemind(ctx context.Context, msg *telego.Message, args []string) string {
	if len(args) == 0 {
		b.metrics.RecordCommand("remind", resultInvalid)
		return html.EscapeString(usageRemind)
	}

	recurrence, err := b.catalog.Parse(args[len(args)-1])
	if err != nil {
		b.metrics.RecordCommand("remind", resultInvalid)
		return "Invalid interval. Use daily, weekly, or hourly."
	}

	payload := payloadOf(msg, args[:len(args)-1])
	if payload == "" {
		b.metrics.RecordCommand("remind", resultInvalid)
		return html.EscapeString(usageRemind)
	}

	// The first reminder goes out right away.
	if _, err := b.reminders.CreateRecurring(ctx, msg.Chat.ID, msg.From.ID, payload, recurrence, b.clock.Now()); err != nil {
		return b.failed(ctx, "remind", err)
	}
	b.metrics.RecordCommand("remind", resultOK)
	return fmt.Sprintf("Message will be sent %s starting now.", recurrence)
}

func (b *Bot) handleAll(ctx context.Context, msg *telego.Message, _ []string) string {
	list, err := b.reminders.List(ctx, msg.Chat.ID)
	if err != nil {
		return b.failed(ctx, "all", err)
	}
	b.metrics.RecordCommand("all", resultOK)
	if len(list) == 0 {
		return "No reminders set."
	}

	now := b.clock.Now()
	var sb strings.Builder
	sb.WriteString("Reminders:\n")
	for i, r := range list {
		fmt.Fprintf(&sb, "#%d. %s - <i>%s left - %s</i>\n",
			i,
			html.EscapeString(r.Payload),
			FormatTimeLeft(r.NextFireAt.Sub(now)),
			b.ownerMention(ctx, msg.Chat.ID, r.OwnerUser))
	}
	return sb.String()
}

func (b *Bot) handleCancel(ctx context.Context, msg *telego.Message, args []string) string {
	if len(args) == 0 {
		b.metrics.RecordCommand("cancel", resultInvalid)
		return html.EscapeString(usageCancel)
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		b.metrics.RecordCommand("cancel", resultInvalid)
		return html.EscapeString(usageCancel)
	}

	r, err := b.reminders.Resolve(ctx, msg.Chat.ID, index)
	if err != nil {
		if errors.Is(err, reminder.ErrIndexOutOfRange) {
			b.metrics.RecordCommand("cancel", resultInvalid)
			list, listErr := b.reminders.List(ctx, msg.Chat.ID)
			if listErr == nil && len(list) == 0 {
				return "No reminders set."
			}
			return "Invalid job ID."
		}
		return b.failed(ctx, "cancel", err)
	}

	if err := b.reminders.Cancel(ctx, r.ID); err != nil {
		return b.failed(ctx, "cancel", err)
	}
	b.metrics.RecordCommand("cancel", resultOK)
	return "Reminder canceled."
}

func (b *Bot) failed(ctx context.Context, command string, err error) string {
	b.metrics.RecordCommand(command, resultError)
	if errors.Is(err, reminder.ErrNotReady) {
		return notReadyText
	}
	b.log.ErrorCtx(ctx, "command failed", err, logger.Field{Key: "command", Value: command})
	return failureText
}

func (b *Bot) reply(ctx context.Context, msg *telego.Message, text string) {
	_, err := b.api.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:          telego.ChatID{ID: msg.Chat.ID},
		Text:            text,
		ParseMode:       telego.ModeHTML,
		ReplyParameters: &telego.ReplyParameters{MessageID: msg.MessageID},
	})
	if err != nil {
		b.log.ErrorCtx(ctx, "failed to send reply", err,
			logger.Field{Key: "chat_id", Value: msg.Chat.ID})
	}
}

func (b *Bot) ownerMention(ctx context.Context, chat, user int64) string {
	member, err := b.api.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: telego.ChatID{ID: chat},
		UserID: user,
	})
	if err != nil {
		b.log.DebugCtx(ctx, "failed to look up reminder owner",
			logger.Field{Key: "user_id", Value: user},
			logger.Field{Key: "error", Value: err.Error()})
		return mention(&telego.User{ID: user, FirstName: strconv.FormatInt(user, 10)})
	}
	u := member.MemberUser()
	return mention(&u)
}

// payloadOf prefers the text of the replied-to message.
func payloadOf(msg *telego.Message, words []string) string {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.Text != "" {
		return normalizePayload(msg.ReplyToMessage.Text)
	}
	return normalizePayload(strings.Join(words, " "))
}

func mention(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(name))
}
