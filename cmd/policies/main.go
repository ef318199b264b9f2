package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"nuclight.org/editwatch-tg-bot/app/storage"
	"nuclight.org/editwatch-tg-bot/app/telegram"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

var opts struct {
	DBPath           string `long:"db-path" env:"DB_PATH" required:"true" description:"path to the sqlite database file"`
	TelegramAPIToken string `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" description:"telegram api token, bound channels are checked when set"`
	Workers          int    `long:"workers" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of concurrent channel checks"`
	Moderators       bool   `short:"m" long:"moderators" description:"list exempt users of every chat"`
	LogLevel         string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: debug, info, warn, error"`
}

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(logger.ParseLevel(opts.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	policies, err := db.ListPolicies(ctx)
	if err != nil {
		log.Error("listing policies", "error", err)
		return
	}

	log.Info("policies loaded", "count", len(policies))

	var checks map[int64]string
	if opts.TelegramAPIToken != "" {
		bot, err := tgbotapi.NewBotAPIWithClient(opts.TelegramAPIToken, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			log.Error("creating bot api", "error", err)
			return
		}
		checks = checkChannels(ctx, log, &telegram.Platform{Log: log, Bot: bot}, policies)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Chat", "Active", "Channel", "Deletion", "Grace", "Channel check"})
	for _, p := range policies {
		channel := "-"
		if p.HasChannel() {
			channel = strconv.FormatInt(p.ChannelID, 10)
		}
		table.Append([]string{
			strconv.FormatInt(p.ChatID, 10),
			strconv.FormatBool(p.Active),
			channel,
			strconv.FormatBool(p.DeletionEnabled),
			fmt.Sprintf("%d min", p.GraceMinutes),
			checks[p.ChannelID],
		})
	}
	table.Render()

	if !opts.Moderators {
		return
	}

	users := tablewriter.NewWriter(os.Stdout)
	users.SetHeader([]string{"Chat", "User", "Role", "Name", "Handle", "Added by"})
	for _, p := range policies {
		for _, role := range []e.ExemptRole{e.ExemptRoleAdmin, e.ExemptRoleModerator} {
			list, err := db.ListExemptUsers(ctx, p.ChatID, role)
			if err != nil {
				log.Error("listing exempt users", "tg_chat_id", p.ChatID, "error", err)
				return
			}
			for _, u := range list {
				users.Append([]string{
					strconv.FormatInt(u.ChatID, 10),
					strconv.FormatInt(u.UserID, 10),
					string(u.Role),
					u.DisplayName,
					u.Handle,
					strconv.FormatInt(u.AddedBy, 10),
				})
			}
		}
	}
	users.Render()
}

// checkChannels probes every bound channel with a pool of workers and describes what the bot may do there.
func checkChannels(ctx context.Context, log logger.Logger, platform *telegram.Platform, policies []e.ChatPolicy) map[int64]string {
	channels := make(chan int64, len(policies))
	seen := make(map[int64]struct{})
	for _, p := range policies {
		if !p.HasChannel() {
			continue
		}
		if _, ok := seen[p.ChannelID]; ok {
			continue
		}
		seen[p.ChannelID] = struct{}{}
		channels <- p.ChannelID
	}
	close(channels)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int64
	)
	results := make(map[int64]string, len(seen))

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for channelID := range channels {
				select {
				case <-ctx.Done():
					return
				default:
				}

				status := "ok"
				perms, err := platform.BotPermissions(ctx, channelID)
				switch {
				case err != nil:
					log.Warn("checking channel", "tg_channel_id", channelID, "error", err)
					atomic.AddInt64(&failed, 1)
					status = "unknown"
				case !perms.CanPost:
					atomic.AddInt64(&failed, 1)
					status = "can not post"
				}

				mu.Lock()
				results[channelID] = status
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	log.Info("channels checked", "count", len(seen), "failed", failed)

	return results
}
