// Package ops provides the operator-intervention channel required by
// INVARIANT_VIOLATION handling (§7, §2.3): paging a human when a symbol
// halts. Adapted from the teacher's Telegram trade-alert bot.
package ops

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// AlertSink notifies an operator that a symbol has halted and requires
// intervention.
type AlertSink interface {
	NotifyHalt(symbol, reason string)
	NotifyResume(symbol string)
}

// TelegramSink pages a configured chat. Construct with NewTelegramSink; a nil
// *TelegramSink is a valid no-op sink (disabled when credentials are absent).
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink builds a sink from a bot token and chat id. Returns
// (nil, nil) when either is empty, matching the teacher's tolerant-absence
// pattern for optional integrations rather than failing startup.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if token == "" || chatID == 0 {
		log.Warn().Msg("ops: telegram alert sink disabled (no token/chat id configured)")
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ops: failed to create telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("ops: telegram alert sink initialized")
	return &TelegramSink{api: api, chatID: chatID}, nil
}

func (s *TelegramSink) NotifyHalt(symbol, reason string) {
	if s == nil {
		return
	}
	msg := fmt.Sprintf("🚨 *SYMBOL HALTED*\n\n📊 %s\n📝 %s\n\nRequires operator intervention.", symbol, reason)
	s.send(msg)
}

func (s *TelegramSink) NotifyResume(symbol string) {
	if s == nil {
		return
	}
	msg := fmt.Sprintf("✅ *SYMBOL RESUMED*\n\n📊 %s", symbol)
	s.send(msg)
}

func (s *TelegramSink) send(text string) {
	m := tgbotapi.NewMessage(s.chatID, text)
	m.ParseMode = "Markdown"
	if _, err := s.api.Send(m); err != nil {
		log.Error().Err(err).Msg("ops: failed to send telegram alert")
	}
}
