package app

import (
	"fmt"
	"strings"

	"quotecast/internal/broadcast"
	"quotecast/internal/config"
	"quotecast/internal/quote"
	"quotecast/internal/storage"
	"quotecast/internal/task/scheduler"
	telegram "quotecast/internal/transport/telegram/adapter"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path (DATABASE_PATH) is required")
	}
	return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: cfg.BusyTimeout()}, nil
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
		WebhookURL:  cfg.Telegram.WebhookURL,
		Listen:      cfg.Telegram.Listen,
	}
}

func mapQuoteConfig(cfg *config.Config) quote.Config {
	return quote.Config{URL: cfg.Quotes.URL, Timeout: cfg.QuoteTimeout()}
}

func mapBroadcast(cfg *config.Config) (broadcast.Settings, scheduler.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return broadcast.Settings{}, scheduler.Config{}, err
	}
	at, err := cfg.DailyTime()
	if err != nil {
		return broadcast.Settings{}, scheduler.Config{}, err
	}
	settings := broadcast.Settings{
		AdminID:     strings.TrimSpace(cfg.Broadcast.AdminID),
		ChannelID:   strings.TrimSpace(cfg.Broadcast.ChannelID),
		DefaultTime: at,
		Location:    loc,
	}
	return settings, scheduler.Config{Location: loc, FireTimeout: cfg.FireTimeout()}, nil
}
