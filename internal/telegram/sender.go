package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/platform/config"
)

// Sender posts to the output channel through the Bot API. In mock mode no
// API client is created and every call is logged instead of sent.
type Sender struct {
	cfg    *config.Config
	api    *tgbotapi.BotAPI
	logger *zerolog.Logger

	mockID atomic.Int64
}

func NewSender(cfg *config.Config, logger *zerolog.Logger) (*Sender, error) {
	s := &Sender{cfg: cfg, logger: logger}
	s.mockID.Store(1_000_000)

	if cfg.MockMode {
		logger.Info().Msg("Sender running in mock mode")

		return s, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	s.api = api

	return s, nil
}

// Send posts a new message and returns its Telegram message ID.
func (s *Sender) Send(text string) (int64, error) {
	if s.cfg.MockMode {
		id := s.mockID.Add(1)
		s.logger.Info().Int64("message_id", id).Msg("MOCK SEND")

		return id, nil
	}

	msg := tgbotapi.NewMessage(s.cfg.OutputChannelID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	sent, err := s.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}

	return int64(sent.MessageID), nil
}

// Edit rewrites the text of an already-posted message.
func (s *Sender) Edit(messageID int64, text string) error {
	if s.cfg.MockMode {
		s.logger.Info().Int64("message_id", messageID).Msg("MOCK EDIT")

		return nil
	}

	edit := tgbotapi.NewEditMessageText(s.cfg.OutputChannelID, int(messageID), text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	if _, err := s.api.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	return nil
}

// SetReaction applies a single emoji reaction to a message. The library
// has no wrapper for setMessageReaction, so the request is built by hand.
func (s *Sender) SetReaction(messageID int64, emoji string) error {
	if s.cfg.MockMode {
		s.logger.Info().Int64("message_id", messageID).Str("emoji", emoji).Msg("MOCK REACTION")

		return nil
	}

	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return fmt.Errorf("marshal reaction: %w", err)
	}

	params := tgbotapi.Params{
		"chat_id":    strconv.FormatInt(s.cfg.OutputChannelID, 10),
		"message_id": strconv.FormatInt(messageID, 10),
		"reaction":   string(reaction),
	}

	if _, err := s.api.MakeRequest("setMessageReaction", params); err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}

	return nil
}

// SendDigest posts the digest with a subscribe button and returns the
// message ID.
func (s *Sender) SendDigest(text string) (int64, error) {
	if s.cfg.MockMode {
		id := s.mockID.Add(1)
		s.logger.Info().Int64("message_id", id).Msg("MOCK DIGEST")

		return id, nil
	}

	msg := tgbotapi.NewMessage(s.cfg.OutputChannelID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 Подписаться", ChannelLink(s.cfg.OutputChannelName)),
		),
	)

	sent, err := s.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send digest: %w", err)
	}

	return int64(sent.MessageID), nil
}

// Pin pins a message in the output channel without a notification.
func (s *Sender) Pin(messageID int64) error {
	if s.cfg.MockMode {
		s.logger.Info().Int64("message_id", messageID).Msg("MOCK PIN")

		return nil
	}

	pin := tgbotapi.PinChatMessageConfig{
		ChatID:              s.cfg.OutputChannelID,
		MessageID:           int(messageID),
		DisableNotification: true,
	}

	if _, err := s.api.Request(pin); err != nil {
		return fmt.Errorf("pin message: %w", err)
	}

	return nil
}
