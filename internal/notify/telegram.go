package notify

import (
	"fmt"
	"log/slog"

	"mt_relay/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram шлет оповещения оператору в настроенный чат
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram создает Telegram нотификатор
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	logger.Info("✅ Notifier bot authorized", slog.String("username", bot.Self.UserName))

	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// ExecutionFailed оповещает о проваленном исполнении сигнала
func (t *Telegram) ExecutionFailed(exec models.Execution, signalStatus string) {
	text := fmt.Sprintf(
		"❌ <b>Execution failed</b>\nSignal: <code>%s</code>\nReceiver: %d\nSignal status: %s",
		exec.SignalID, exec.ReceiverAccountID, signalStatus)

	if exec.ErrorMessage != "" {
		text += fmt.Sprintf("\nError: %s", exec.ErrorMessage)
	}

	if exec.ErrorCode != nil {
		text += fmt.Sprintf(" (code %d)", *exec.ErrorCode)
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "HTML"

	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("Failed to send notification", slog.Any("error", err))
	}
}
