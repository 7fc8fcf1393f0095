// Package bot implements the admin control bot: starting and stopping
// the processing loop, inspecting its status and resyncing message data
// with the output channel.
package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/platform/config"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
)

// Controller starts and stops the processing loop.
type Controller interface {
	StartLoop() bool
	StopLoop() bool
	Status() observability.RunStatus
}

// Renewer resyncs stored published items against the live output channel.
type Renewer interface {
	RenewMessages(ctx context.Context) (int, error)
}

type Bot struct {
	cfg        *config.Config
	api        *tgbotapi.BotAPI
	controller Controller
	renewer    Renewer
	logger     *zerolog.Logger
}

func New(cfg *config.Config, controller Controller, renewer Renewer, logger *zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		cfg:        cfg,
		api:        api,
		controller: controller,
		renewer:    renewer,
		logger:     logger,
	}, nil
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info().Str("bot", b.api.Self.UserName).Msg("Admin bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			if !b.isAdmin(update.Message.From.ID) {
				b.logger.Warn().Int64("user_id", update.Message.From.ID).Str("username", update.Message.From.UserName).Msg("Unauthorized access attempt")
				continue
			}

			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}

	return false
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}

	b.logger.Info().Str("command", msg.Command()).Int64("user_id", msg.From.ID).Msg("Handling command")

	switch msg.Command() {
	case "start", "help":
		b.handleHelp(msg)
	case "start_cron":
		b.handleStartCron(msg)
	case "stop_cron":
		b.handleStopCron(msg)
	case "cron_status":
		b.handleCronStatus(msg)
	case "renew_msg_data":
		b.handleRenew(ctx, msg)
	default:
		b.reply(msg, "Unknown command, see /help")
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true

	if _, err := b.api.Send(out); err != nil {
		b.logger.Error().Err(err).Msg("send reply")
	}
}
