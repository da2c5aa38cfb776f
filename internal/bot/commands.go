package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
	"github.com/oshokin/smart-alarm/internal/logger"
	"github.com/oshokin/smart-alarm/internal/notifier"
	"github.com/oshokin/smart-alarm/internal/service/alarmclock"
)

const (
	// minNameLength and maxNameLength bound display names at registration.
	minNameLength = 1
	maxNameLength = 50
)

// helpText lists available commands, shown after registration and on /help.
const helpText = "*Commands:*\n" +
	"• `/set HH:MM` - Set alarm (e.g., /set 07:30)\n" +
	"• `/status` - Check current alarm\n" +
	"• `/cancel` - Cancel scheduled alarm\n" +
	"• `/stats` - View wake-up statistics\n" +
	"• `/test` - Test alarm immediately"

// handleMessage routes one incoming message.
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	ctx = logger.WithKV(ctx, "chat_id", message.Chat.ID)

	if message.IsCommand() {
		b.handleCommand(ctx, message)

		return
	}

	b.handleText(ctx, message)
}

// handleCommand dispatches a slash command.
func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.commandStart(ctx, message)
	case "help":
		b.commandHelp(ctx, message)
	case "set":
		b.commandSet(ctx, message)
	case "status":
		b.commandStatus(ctx, message)
	case "cancel":
		b.commandCancel(ctx, message)
	case "stats":
		b.commandStats(ctx, message)
	case "test":
		b.commandTest(ctx, message)
	default:
		b.reply(ctx, message.Chat.ID, "Use /help to see available commands.")
	}
}

// commandStart greets returning users or begins the registration flow.
func (b *Bot) commandStart(ctx context.Context, message *tgbotapi.Message) {
	user, err := b.lookupUser(ctx, message.Chat.ID)
	if err == nil {
		b.reply(ctx, message.Chat.ID, fmt.Sprintf(
			"👋 Welcome back, *%s*!\n\nUse `/set HH:MM` to set an alarm.\nUse `/help` to see all commands.",
			user.Name))

		return
	}

	if !errors.Is(err, alarmclock.ErrUserNotFound) {
		b.replyFailure(ctx, message.Chat.ID, err)

		return
	}

	b.mu.Lock()
	b.pendingNames[message.Chat.ID] = struct{}{}
	b.mu.Unlock()

	b.reply(ctx, message.Chat.ID,
		"🔔 *Welcome to Smart Alarm!*\n\n"+
			"I'll help you wake up by making you scan a QR code.\n\n"+
			"First, what's your name?")
}

// commandHelp shows the command list to registered users.
func (b *Bot) commandHelp(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.requireUser(ctx, message)
	if !ok {
		return
	}

	b.reply(ctx, message.Chat.ID, fmt.Sprintf(
		"🔔 *Smart Alarm Help*\n\nHello, %s!\n\n%s", user.Name, helpText))
}

// commandSet schedules an alarm from a "/set HH:MM" message.
func (b *Bot) commandSet(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.requireUser(ctx, message)
	if !ok {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		b.reply(ctx, message.Chat.ID, "❌ Please specify a time.\nExample: `/set 07:30`")

		return
	}

	hour, minute, err := parseClockTime(args[0])
	if err != nil {
		b.reply(ctx, message.Chat.ID,
			"❌ Invalid time format.\nUse HH:MM (24-hour format), e.g., `/set 07:30`")

		return
	}

	alarm, err := b.service.Schedule(ctx, user.ID, hour, minute)
	if errors.Is(err, alarmclock.ErrInvalidTime) {
		b.reply(ctx, message.Chat.ID,
			"❌ Invalid time format.\nUse HH:MM (24-hour format), e.g., `/set 07:30`")

		return
	}

	if err != nil {
		b.replyFailure(ctx, message.Chat.ID, err)

		return
	}

	b.reply(ctx, message.Chat.ID, fmt.Sprintf(
		"✅ *Alarm set!*\n\n⏰ Time: %s\n📅 Date: %s\n\n"+
			"You'll receive a QR code to scan when it's time to wake up!",
		alarm.TriggerTime.Format("15:04"),
		alarm.TriggerTime.Format("Monday, January 2")))
}

// commandStatus reports the user's current alarm situation.
func (b *Bot) commandStatus(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.requireUser(ctx, message)
	if !ok {
		return
	}

	status, err := b.service.Status(ctx, user.ID)
	if err != nil {
		b.replyFailure(ctx, message.Chat.ID, err)

		return
	}

	switch status.Kind {
	case domain.StatusRinging:
		b.reply(ctx, message.Chat.ID, "🔔 *ALARM IS RINGING!*\n\nScan the QR code to stop it!")
	case domain.StatusScheduled:
		b.reply(ctx, message.Chat.ID, fmt.Sprintf(
			"⏰ *Alarm Scheduled*\n\nTime: %s\nDate: %s",
			status.TriggerTime.Format("15:04"),
			status.TriggerTime.Format("Monday, January 2")))
	case domain.StatusIdle:
		b.reply(ctx, message.Chat.ID, "😴 *No alarm set*\n\nUse `/set HH:MM` to set one.")
	}
}

// commandCancel cancels the user's scheduled alarm.
func (b *Bot) commandCancel(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.requireUser(ctx, message)
	if !ok {
		return
	}

	cancelled, err := b.service.Cancel(ctx, user.ID)
	if err != nil {
		b.replyFailure(ctx, message.Chat.ID, err)

		return
	}

	if cancelled {
		b.reply(ctx, message.Chat.ID, "✅ Alarm cancelled!")
	} else {
		b.reply(ctx, message.Chat.ID, "ℹ️ No scheduled alarm to cancel.")
	}
}

// commandStats reports wake-up statistics.
func (b *Bot) commandStats(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.requireUser(ctx, message)
	if !ok {
		return
	}

	stats, err := b.service.Stats(ctx, user.ID)
	if err != nil {
		b.replyFailure(ctx, message.Chat.ID, err)

		return
	}

	if stats.TotalCompleted == 0 {
		b.reply(ctx, message.Chat.ID,
			"📊 *No statistics yet*\n\nComplete your first wake-up to start tracking!")

		return
	}

	b.reply(ctx, message.Chat.ID, fmt.Sprintf(
		"📊 *Wake-Up Statistics*\n\nTotal wake-ups: %d\nAverage time: %s",
		stats.TotalCompleted,
		notifier.FormatWakeTime(int64(stats.AvgWakeSeconds))))
}

// commandTest schedules an alarm one minute out so the whole trigger path
// can be exercised without waiting for morning.
func (b *Bot) commandTest(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.requireUser(ctx, message)
	if !ok {
		return
	}

	soon := b.now().Add(time.Minute)

	_, err := b.service.Schedule(ctx, user.ID, soon.Hour(), soon.Minute())
	if err != nil {
		b.replyFailure(ctx, message.Chat.ID, err)

		return
	}

	b.reply(ctx, message.Chat.ID,
		"🧪 *Test mode activated!*\n\nAlarm will trigger within a minute...")
}

// handleText processes plain text: either a pending registration name or a
// nudge towards the command list.
func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message) {
	b.mu.Lock()
	_, waiting := b.pendingNames[message.Chat.ID]
	b.mu.Unlock()

	if waiting {
		b.completeRegistration(ctx, message)

		return
	}

	if _, err := b.lookupUser(ctx, message.Chat.ID); errors.Is(err, alarmclock.ErrUserNotFound) {
		b.reply(ctx, message.Chat.ID, "👋 Please send /start to register first!")

		return
	}

	b.reply(ctx, message.Chat.ID, "Use /help to see available commands.")
}

// completeRegistration validates the offered name and creates the user.
func (b *Bot) completeRegistration(ctx context.Context, message *tgbotapi.Message) {
	name := strings.TrimSpace(message.Text)
	if len(name) < minNameLength || len(name) > maxNameLength {
		b.reply(ctx, message.Chat.ID, "Please enter a valid name (1-50 characters).")

		return
	}

	user, err := b.service.RegisterUser(ctx, chatIDString(message.Chat.ID), name)
	if err != nil {
		b.replyFailure(ctx, message.Chat.ID, err)

		return
	}

	b.mu.Lock()
	delete(b.pendingNames, message.Chat.ID)
	b.mu.Unlock()

	b.reply(ctx, message.Chat.ID, fmt.Sprintf(
		"✅ *Registration complete!*\n\nNice to meet you, *%s*! 🎉\n\n%s",
		user.Name, helpText))
}

// requireUser resolves the sender or asks them to register. The boolean is
// false when the command should not proceed.
func (b *Bot) requireUser(ctx context.Context, message *tgbotapi.Message) (*domain.User, bool) {
	user, err := b.lookupUser(ctx, message.Chat.ID)
	if errors.Is(err, alarmclock.ErrUserNotFound) {
		b.reply(ctx, message.Chat.ID, "Please send /start to register first!")

		return nil, false
	}

	if err != nil {
		b.replyFailure(ctx, message.Chat.ID, err)

		return nil, false
	}

	return user, true
}

// lookupUser fetches the registered user behind a chat.
func (b *Bot) lookupUser(ctx context.Context, chatID int64) (*domain.User, error) {
	return b.service.UserByChatID(ctx, chatIDString(chatID))
}

// reply sends a Markdown message, logging delivery failures.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = tgbotapi.ModeMarkdown

	if _, err := b.api.Send(message); err != nil {
		logger.ErrorKV(ctx, "Failed to send reply", "error", err)
	}
}

// replyFailure logs the error and tells the user something went wrong.
func (b *Bot) replyFailure(ctx context.Context, chatID int64, err error) {
	logger.ErrorKV(ctx, "Command failed", "error", err)
	b.reply(ctx, chatID, "❌ Something went wrong, please try again.")
}

// chatIDString renders a chat ID as the opaque address stored with the user.
func chatIDString(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// parseClockTime parses "HH:MM" in 24-hour format. A bare hour is accepted
// with minutes defaulting to zero.
func parseClockTime(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("time %q has too many fields", s)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour %q: %w", parts[0], err)
	}

	if len(parts) > 1 {
		minute, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid minute %q: %w", parts[1], err)
		}
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %02d:%02d out of range", hour, minute)
	}

	return hour, minute, nil
}
