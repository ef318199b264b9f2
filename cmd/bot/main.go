package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jessevdk/go-flags"
	"golang.org/x/time/rate"
	"nuclight.org/editwatch-tg-bot/app/httpapi"
	"nuclight.org/editwatch-tg-bot/app/metrics"
	"nuclight.org/editwatch-tg-bot/app/moderator"
	"nuclight.org/editwatch-tg-bot/app/session"
	"nuclight.org/editwatch-tg-bot/app/storage"
	"nuclight.org/editwatch-tg-bot/app/telegram"
	"nuclight.org/editwatch-tg-bot/pkg/alert"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

var opts struct {
	TelegramAPIToken   string        `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram api token"`
	TelegramWorkersNum int           `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram bot"`
	RequestTimeout     time.Duration `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"30s" description:"timeout of a single bot api request"`
	WebhookURL         string        `long:"webhook-url" env:"WEBHOOK_URL" description:"public url of the webhook, long polling is used if empty"`
	WebhookSecret      string        `long:"webhook-secret" env:"WEBHOOK_SECRET" description:"secret token required on webhook requests, generated on start if empty"`
	ListenAddr         string        `long:"listen-addr" env:"LISTEN_ADDR" default:":8080" description:"address of the http server with health, metrics and webhook"`
	DBPath             string        `long:"db-path" env:"DB_PATH" default:"./db/editwatch.sqlite" description:"path to the sqlite database file"`
	SessionTTL         time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"15m" description:"idle time after which a settings conversation is dropped"`
	ChannelRate        float64       `long:"channel-rate" env:"CHANNEL_RATE" default:"1" description:"posts per second allowed to a single channel, 0 disables the limit"`
	SentryDSN          string        `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, error reporting is disabled if empty"`
	LogLevel           string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: debug, info, warn, error"`
}

var Revision = "dev"

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(logger.ParseLevel(opts.LogLevel))
	log.Info("starting bot", "revision", Revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	alerts, err := alert.NewSentry(opts.SentryDSN, Revision)
	if err != nil {
		log.Error("creating sentry client", "error", err)
		os.Exit(1)
	}
	defer alerts.Flush(2 * time.Second)

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("creating sqlite3 database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	bot, err := tgbotapi.NewBotAPIWithClient(opts.TelegramAPIToken, tgbotapi.APIEndpoint, &http.Client{Timeout: opts.RequestTimeout})
	if err != nil {
		log.Error("creating bot api", "error", err)
		os.Exit(1)
	}
	log.Info("bot api created", "username", bot.Self.UserName)

	mtr := metrics.New()

	platform := &telegram.Platform{
		Log:   log,
		Bot:   bot,
		Rate:  rate.Limit(opts.ChannelRate),
		Burst: 1,
	}

	pipeline := &moderator.Handler{
		Log:       log,
		Store:     db,
		Retirer:   &moderator.Retirer{Log: log, Platform: platform},
		Publisher: &moderator.Publisher{Log: log, Platform: platform},
		Metrics:   mtr,
		Alerts:    alerts,
	}

	pollTimeout := opts.RequestTimeout - 5*time.Second
	if pollTimeout < time.Second {
		pollTimeout = time.Second
	}

	client := &telegram.Client{
		Log:           log,
		Bot:           bot,
		WorkersNum:    opts.TelegramWorkersNum,
		PollTimeout:   pollTimeout,
		WebhookURL:    opts.WebhookURL,
		WebhookSecret: opts.WebhookSecret,
		Edits:         pipeline,
		Store:         db,
		Platform:      platform,
		Sessions:      session.NewStore(1000, opts.SessionTTL),
		Metrics:       mtr,
		Alerts:        alerts,
	}

	srvOpts := httpapi.Options{Addr: opts.ListenAddr, Metrics: mtr.Handler()}
	if opts.WebhookURL != "" {
		srvOpts.Webhook = client.WebhookHandler()
	}
	srv := httpapi.New(log, srvOpts)

	err = client.Start(ctx)
	if err != nil {
		log.Error("starting bot", "error", err)
		os.Exit(1)
	}
	srv.Start()

	<-ctx.Done()
	log.Info("stopping bot")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("stopping http server", "error", err)
	}

	client.Wait()
}
