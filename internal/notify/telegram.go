package notify

import (
	"context"
	"errors"
	"fmt"

	"roombook/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of tgbotapi.BotAPI used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends plain-text messages to the configured admin chats.
type TelegramNotifier struct {
	bot     Sender
	chatIDs []int64
	logger  *zerolog.Logger
}

// NewTelegramNotifier connects to the Bot API. It returns nil without error
// when no token or admin chats are configured.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || len(cfg.AdminChatIDs) == 0 {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug

	if logger != nil {
		logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.AdminChatIDs)).Msg("telegram notifier ready")
	}
	return NewNotifier(bot, cfg.AdminChatIDs, logger), nil
}

func NewNotifier(bot Sender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: append([]int64(nil), chatIDs...),
		logger:  logger,
	}
}

func (n *TelegramNotifier) NotifyAdmins(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send admin notification")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
