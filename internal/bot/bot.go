package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
	"github.com/oshokin/smart-alarm/internal/logger"
)

// updatePollTimeout is the long-poll timeout for Telegram updates, seconds.
const updatePollTimeout = 30

// Service abstracts the core operations the chat adapter depends on.
type Service interface {
	RegisterUser(ctx context.Context, chatID, name string) (*domain.User, error)
	UserByChatID(ctx context.Context, chatID string) (*domain.User, error)
	Schedule(ctx context.Context, userID int64, hour, minute int) (*domain.Alarm, error)
	Cancel(ctx context.Context, userID int64) (bool, error)
	Status(ctx context.Context, userID int64) (*domain.Status, error)
	Stats(ctx context.Context, userID int64) (*domain.Stats, error)
}

// Bot translates Telegram commands into core operations.
type Bot struct {
	api     *tgbotapi.BotAPI
	service Service
	// now is the clock, replaceable in tests.
	now func() time.Time

	// mu guards pendingNames.
	mu sync.Mutex
	// pendingNames tracks chats that were asked for a display name and
	// have not answered yet.
	pendingNames map[int64]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the bot.
type Option func(*Bot)

// WithClock replaces the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a bot over an established Telegram connection.
func New(api *tgbotapi.BotAPI, service Service, opts ...Option) *Bot {
	b := &Bot{
		api:          api,
		service:      service,
		now:          time.Now,
		pendingNames: make(map[int64]struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start begins long-polling for updates. It returns immediately.
func (b *Bot) Start(ctx context.Context) {
	if b.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(logger.WithName(ctx, "bot"))
	b.cancel = cancel
	b.done = make(chan struct{})

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = updatePollTimeout

	updates := b.api.GetUpdatesChan(updateConfig)

	go b.loop(loopCtx, updates)

	logger.InfoKV(ctx, "Telegram bot started", "username", b.api.Self.UserName)
}

// Stop shuts down polling and waits for the dispatch loop to finish.
func (b *Bot) Stop(ctx context.Context) {
	if b.done == nil {
		return
	}

	b.api.StopReceivingUpdates()
	b.cancel()
	<-b.done

	b.cancel = nil
	b.done = nil

	logger.Info(ctx, "Telegram bot stopped")
}

// loop dispatches incoming updates until the channel closes or the context
// is cancelled.
func (b *Bot) loop(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}

			if update.Message == nil {
				continue
			}

			b.handleMessage(ctx, update.Message)
		}
	}
}
