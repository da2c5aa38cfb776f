package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/oshokin/smart-alarm/internal/api/device"
	"github.com/oshokin/smart-alarm/internal/bot"
	"github.com/oshokin/smart-alarm/internal/config"
	"github.com/oshokin/smart-alarm/internal/logger"
	"github.com/oshokin/smart-alarm/internal/notifier"
	"github.com/oshokin/smart-alarm/internal/qr"
	"github.com/oshokin/smart-alarm/internal/repository/storage"
	"github.com/oshokin/smart-alarm/internal/service/alarmclock"
)

const (
	// readHeaderTimeout bounds header parsing on device connections.
	readHeaderTimeout = 10 * time.Second

	// shutdownTimeout bounds draining of in-flight HTTP requests.
	shutdownTimeout = 5 * time.Second
)

// Options controls the alarm-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override.
	ListenAddress string
	// DatabasePath provides an optional database path override.
	DatabasePath string
}

// Run starts the alarm server and blocks until the context is cancelled or
// the HTTP listener fails. It wires the store, the QR codec, the Telegram
// adapters, the alarm core and its scheduler, then serves the device API.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-server")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.ListenAddress != "" {
		cfg.ListenAddress = opts.ListenAddress
	}

	if opts.DatabasePath != "" {
		cfg.DatabasePath = opts.DatabasePath
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	repo, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	// The bot is optional: without a token the server still triggers and
	// confirms alarms through the device alone.
	var (
		alarmNotifier notifier.Notifier = notifier.Noop{}
		botAPI        *tgbotapi.BotAPI
	)

	if cfg.TelegramToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			logger.ErrorKV(ctx, "Telegram unavailable, continuing without notifications", "error", err)

			botAPI = nil
		} else {
			alarmNotifier = notifier.NewTelegram(botAPI)

			logger.InfoKV(ctx, "Telegram connected", "username", botAPI.Self.UserName)
		}
	}

	service := alarmclock.NewService(repo, qr.ImageCodec{}, alarmNotifier,
		alarmclock.WithRingTimeout(cfg.RingTimeout),
		alarmclock.WithNotifyTimeout(cfg.NotifyTimeout))

	scheduler := alarmclock.NewScheduler(service, cfg.TickPeriod)
	scheduler.Start(ctx)

	var chatBot *bot.Bot
	if botAPI != nil {
		chatBot = bot.New(botAPI, service)
		chatBot.Start(ctx)
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", cfg.ListenAddress)
	if err != nil {
		scheduler.Stop(ctx)

		if chatBot != nil {
			chatBot.Stop(ctx)
		}

		_ = repo.Close()

		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}

	httpServer := &http.Server{
		Handler:           device.NewRouter(device.NewHandler(service)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.InfoKV(ctx, "Alarm server listening",
		"listen_address", cfg.ListenAddress, "database_path", cfg.DatabasePath)

	// Done channel is closed once shutdown finishes so we block until the
	// server fully stops before releasing the store.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down")

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = httpServer.Shutdown(drainCtx)
		close(done)
	}()

	serveErr := httpServer.Serve(lis)
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = fmt.Errorf("serve http: %w", serveErr)
	} else {
		serveErr = nil
	}

	<-done

	// Transports first, then the scheduler (which awaits its in-flight
	// tick), then the store everything writes to.
	if chatBot != nil {
		chatBot.Stop(ctx)
	}

	scheduler.Stop(ctx)

	if err = repo.Close(); err != nil {
		logger.ErrorKV(ctx, "Failed to close storage", "error", err)
	}

	logger.Info(ctx, "Alarm server stopped")

	return serveErr
}
