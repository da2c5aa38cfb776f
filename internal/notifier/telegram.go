package notifier

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
)

// Telegram delivers alarm events as Telegram messages.
type Telegram struct {
	// api is the shared bot connection, also used by the command adapter.
	api *tgbotapi.BotAPI
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram wraps an existing bot connection as a Notifier.
func NewTelegram(api *tgbotapi.BotAPI) *Telegram {
	return &Telegram{api: api}
}

// SendRinging pushes the QR photo with a wake-up caption.
func (t *Telegram) SendRinging(_ context.Context, user *domain.User, qrImage []byte) error {
	chatID, err := chatIDOf(user)
	if err != nil {
		return err
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "qr_code.png",
		Bytes: qrImage,
	})
	photo.Caption = fmt.Sprintf(
		"🔔 *ALARM!* 🔔\n\nTime to wake up, %s!\nScan this QR code with your camera to stop the alarm.",
		user.Name)
	photo.ParseMode = tgbotapi.ModeMarkdown

	if _, err = t.api.Send(photo); err != nil {
		return fmt.Errorf("send ringing photo: %w", err)
	}

	return nil
}

// SendCompleted pushes the success message with the formatted wake time.
func (t *Telegram) SendCompleted(_ context.Context, user *domain.User, wakeSeconds int64) error {
	chatID, err := chatIDOf(user)
	if err != nil {
		return err
	}

	message := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"☀️ *Good morning, %s!*\n\nYou woke up in: *%s*\nKeep it up! 💪",
		user.Name, FormatWakeTime(wakeSeconds)))
	message.ParseMode = tgbotapi.ModeMarkdown

	if _, err = t.api.Send(message); err != nil {
		return fmt.Errorf("send completed message: %w", err)
	}

	return nil
}

// FormatWakeTime renders a wake duration as "3m 12s" or "45s".
func FormatWakeTime(wakeSeconds int64) string {
	minutes := wakeSeconds / 60
	seconds := wakeSeconds % 60

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

// chatIDOf parses the user's opaque delivery address as a Telegram chat ID.
func chatIDOf(user *domain.User) (int64, error) {
	chatID, err := strconv.ParseInt(user.ChatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", user.ChatID, err)
	}

	return chatID, nil
}
