package notifier

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// Telegram шлёт оператору алерты о деградации аккаунтов.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

var _ domain.StatusNotifier = (*Telegram)(nil)

// NewTelegram создаёт нотификатор на боте.
func NewTelegram(token string, chatID int64, logger zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("создание бота: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, log: logger}, nil
}

// NotifyStatus отправляет алерт о переходе аккаунта в плохой статус.
func (t *Telegram) NotifyStatus(_ context.Context, account domain.Account, previous domain.AccountStatus) error {
	text := fmt.Sprintf(
		"⚠️ Аккаунт %s (%s) перешёл из %s в %s.",
		account.Phone, account.Platform, previous, account.Status,
	)
	if account.ErrorContext != "" {
		text += fmt.Sprintf("\nПричина: %s", account.ErrorContext)
	}

	start := time.Now()
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
	metrics.ObserveNetworkRequest("telegram", "send_alert", "bot_api", start, err)
	if err != nil {
		return fmt.Errorf("отправка алерта: %w", err)
	}
	return nil
}
