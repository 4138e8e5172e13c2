// Package slackbot is the Slack-facing half of Dona: a Socket Mode runtime
// that feeds slash commands, Events API payloads and interactive actions
// through the admission and request-logging middleware into handlers.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/cache"
	"github.com/AutonomosCdM/autonomos-dona/internal/config"
	"github.com/AutonomosCdM/autonomos-dona/internal/llm"
	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/middleware"
	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

// eventDedupeWindow is how long a processed Events API envelope ID is
// remembered. Slack retries deliveries for a few minutes after a missed ack.
const eventDedupeWindow = 10 * time.Minute

// Deps carries everything the bot needs. Redis and Cache may be nil; the bot
// then skips event dedupe and classifies channels by API lookups alone.
type Deps struct {
	Config    config.Config
	Store     *store.Store
	Limiter   *ratelimit.Limiter
	Collector *metrics.Collector
	LLM       *llm.Client
	Analytics *analytics.Analytics
	Admission *middleware.Admission
	Requests  *middleware.Requests
	Redis     *cache.RedisStore
	Cache     *cache.ChannelCache
	Logger    *zap.Logger
}

// Bot is the Socket Mode runtime.
type Bot struct {
	api       *slack.Client
	socket    *socketmode.Client
	cfg       config.Config
	store     *store.Store
	limiter   *ratelimit.Limiter
	collector *metrics.Collector
	llm       *llm.Client
	analytics *analytics.Analytics
	contexts  *ContextManager
	admission *middleware.Admission
	requests  *middleware.Requests
	redis     *cache.RedisStore
	logger    *zap.Logger

	botUserID string
	teamID    string
}

// New builds the bot and its Slack clients. It does not connect; call Run.
func New(deps Deps) *Bot {
	api := slack.New(deps.Config.SlackBotToken,
		slack.OptionAppLevelToken(deps.Config.SlackAppToken),
		slack.OptionDebug(deps.Config.Debug),
	)
	socket := socketmode.New(api, socketmode.OptionDebug(deps.Config.Debug))

	return &Bot{
		api:       api,
		socket:    socket,
		cfg:       deps.Config,
		store:     deps.Store,
		limiter:   deps.Limiter,
		collector: deps.Collector,
		llm:       deps.LLM,
		analytics: deps.Analytics,
		contexts:  NewContextManager(api, deps.Cache, deps.Logger),
		admission: deps.Admission,
		requests:  deps.Requests,
		redis:     deps.Redis,
		logger:    deps.Logger,
	}
}

// Run authenticates, starts the event loop and blocks until ctx is cancelled
// or the socket connection fails for good.
func (b *Bot) Run(ctx context.Context) error {
	auth, err := b.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	b.botUserID = auth.UserID
	b.teamID = auth.TeamID
	b.logger.Info("authenticated with Slack",
		zap.String("bot_user_id", auth.UserID),
		zap.String("team", auth.Team))

	go b.eventLoop(ctx)

	if err := b.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("socket mode: %w", err)
	}
	return nil
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			b.handleSocketEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to Slack in socket mode")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("socket mode connection error, will retry")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected to Slack")
	case socketmode.EventTypeHello:
		// server greeting after connect, nothing to do

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok || evt.Request == nil {
			return
		}
		b.socket.Ack(*evt.Request)
		go b.dispatchCommand(ctx, cmd)

	case socketmode.EventTypeEventsAPI:
		payload, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || evt.Request == nil {
			return
		}
		envelopeID := evt.Request.EnvelopeID
		b.socket.Ack(*evt.Request)
		go b.dispatchEvent(ctx, payload, envelopeID)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok || evt.Request == nil {
			return
		}
		b.socket.Ack(*evt.Request)
		go b.dispatchInteractive(ctx, callback)

	default:
		b.logger.Debug("ignoring socket event", zap.String("type", string(evt.Type)))
	}
}

// dispatchCommand runs one slash command through the middleware chain.
// Handler errors are recorded there; the handlers own their user-facing
// failure messages, so nothing more is sent here.
func (b *Bot) dispatchCommand(ctx context.Context, cmd slack.SlashCommand) {
	respond := func(message string) error {
		_, err := b.api.PostEphemeralContext(ctx, cmd.ChannelID, cmd.UserID, slack.MsgOptionText(message, false))
		return err
	}
	req := middleware.Request{Kind: middleware.KindCommand, Command: cmd.Command, UserID: cmd.UserID}
	handler := func(hctx context.Context) error {
		return b.runCommand(hctx, cmd, respond)
	}
	_ = middleware.Chain(b.admission, b.requests, req, respond, handler)(ctx)
}

// dispatchEvent routes an Events API callback. Slack redelivers events it
// believes were dropped, so envelopes already seen within the dedupe window
// are skipped when Redis is available.
func (b *Bot) dispatchEvent(ctx context.Context, payload slackevents.EventsAPIEvent, envelopeID string) {
	if payload.Type != slackevents.CallbackEvent {
		return
	}
	if b.redis != nil && envelopeID != "" {
		first, err := b.redis.MarkEventProcessed(ctx, envelopeID, eventDedupeWindow)
		if err == nil && !first {
			b.logger.Debug("skipping redelivered event", zap.String("envelope_id", envelopeID))
			return
		}
	}

	switch ev := payload.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.runEvent(ctx, "app_mention", ev.User, func(hctx context.Context) error {
			return b.handleAppMention(hctx, ev)
		})
	case *slackevents.MessageEvent:
		// DMs only; edits, joins and the bot's own messages are not conversation turns.
		if ev.ChannelType != "im" || ev.BotID != "" || ev.SubType != "" {
			return
		}
		b.runEvent(ctx, "message", ev.User, func(hctx context.Context) error {
			return b.handleDirectMessage(hctx, ev)
		})
	case *slackevents.ReactionAddedEvent:
		b.runEvent(ctx, "reaction_added", ev.User, func(hctx context.Context) error {
			return b.handleReactionAdded(hctx, ev)
		})
	case *slackevents.AppHomeOpenedEvent:
		b.runEvent(ctx, "app_home_opened", ev.User, func(hctx context.Context) error {
			return b.handleAppHomeOpened(hctx, ev)
		})
	default:
		b.logger.Debug("unhandled events api event", zap.String("type", payload.InnerEvent.Type))
	}
}

func (b *Bot) runEvent(ctx context.Context, event, userID string, handler middleware.Handler) {
	req := middleware.Request{Kind: middleware.KindEvent, Event: event, UserID: userID}
	_ = middleware.Chain(b.admission, b.requests, req, nil, handler)(ctx)
}

// dispatchInteractive handles block actions, currently the App Home buttons.
func (b *Bot) dispatchInteractive(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		actionID := action.ActionID
		b.runEvent(ctx, "action:"+actionID, callback.User.ID, func(hctx context.Context) error {
			return b.handleHomeAction(hctx, actionID, callback.User.ID)
		})
	}
}

// say posts a channel message, the event-handler counterpart of the
// ephemeral slash command responses.
func (b *Bot) say(ctx context.Context, channelID, message string) error {
	_, _, err := b.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// DM opens (or reuses) the IM with a user and posts there. The scheduler
// delivers reminders through it.
func (b *Bot) DM(ctx context.Context, userID, message string) error {
	channel, _, _, err := b.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}
	return b.say(ctx, channel.ID, message)
}
