package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"quotecast/internal/schedule"
	logx "quotecast/pkg/logx"
)

const (
	DefaultTimezone       = "Africa/Addis_Ababa"
	DefaultDailyHour      = 11
	DefaultDailyMinute    = 11
	DefaultDatabasePath   = "./data/quotecast.db"
	DefaultQuotesURL      = "https://type.fit/api/quotes"
	DefaultQuoteTimeout   = 6 * time.Second
	DefaultFireTimeout    = 2 * time.Minute
	DefaultPollTimeout    = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultWebhookListen  = ":8443"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration: the optional file at path, then environment
// overrides, then defaults. The result is validated.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		var err error
		if cfg, err = ParseFile(path); err != nil {
			return nil, err
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFile strictly decodes a JSON or YAML file. Unknown keys are rejected.
func ParseFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, format, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s config %s: %w", format, path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s config %s: trailing data", format, path)
		}
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays the process environment. Set variables win over the file.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst **int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = &n
		return nil
	}

	str("BOT_TOKEN", &cfg.Telegram.Token)
	str("WEBHOOK_URL", &cfg.Telegram.WebhookURL)
	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		port := strings.TrimSpace(v)
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT: invalid port %q", v)
		}
		cfg.Telegram.Listen = ":" + port
	}
	str("ADMIN_ID", &cfg.Broadcast.AdminID)
	str("CHANNEL_ID", &cfg.Broadcast.ChannelID)
	str("TZ", &cfg.Broadcast.Timezone)
	if err := num("DAILY_HOUR", &cfg.Broadcast.DailyHour); err != nil {
		return err
	}
	if err := num("DAILY_MIN", &cfg.Broadcast.DailyMinute); err != nil {
		return err
	}
	str("DATABASE_PATH", &cfg.Storage.Path)
	str("QUOTES_API", &cfg.Quotes.URL)
	str("LOG_LEVEL", &cfg.Logging.Level)
	return nil
}

func applyDefaults(cfg *Config) {
	setStr := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	setInt := func(dst **int, def int) {
		if *dst == nil {
			v := def
			*dst = &v
		}
	}

	if strings.TrimSpace(cfg.Telegram.WebhookURL) != "" {
		setStr(&cfg.Telegram.Listen, DefaultWebhookListen)
	}
	setStr(&cfg.Broadcast.Timezone, DefaultTimezone)
	setInt(&cfg.Broadcast.DailyHour, DefaultDailyHour)
	setInt(&cfg.Broadcast.DailyMinute, DefaultDailyMinute)
	setStr(&cfg.Storage.Driver, "sqlite")
	setStr(&cfg.Storage.Path, DefaultDatabasePath)
	setStr(&cfg.Quotes.URL, DefaultQuotesURL)
	setStr(&cfg.Logging.Level, "info")
	if cfg.Logging.Console == nil {
		on := true
		cfg.Logging.Console = &on
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token (BOT_TOKEN) is required"))
	}
	if _, err := time.LoadLocation(c.Broadcast.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("broadcast.timezone: %w", err))
	}
	if _, err := c.DailyTime(); err != nil {
		errs = append(errs, err)
	}
	if u := strings.TrimSpace(c.Telegram.WebhookURL); u != "" && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Errorf("telegram.webhook_url must be https: %q", u))
	}
	if c.Telegram.Workers < 0 {
		errs = append(errs, errors.New("telegram.workers must be >= 0"))
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":    c.Telegram.PollTimeout,
		"telegram.command_timeout": c.Telegram.CommandTimeout,
		"broadcast.fire_timeout":   c.Broadcast.FireTimeout,
		"quotes.timeout":           c.Quotes.Timeout,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Logging.Telegram.Target) == "" {
		errs = append(errs, errors.New("logging.telegram.target is required when telegram logging is enabled"))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are accepted but probably mistaken.
func (c *Config) Warnings() []string {
	var out []string
	if id := c.Broadcast.AdminID; id != "" {
		// Compared verbatim against the sender id; Telegram ids are numeric.
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			out = append(out, fmt.Sprintf("broadcast.admin_id %q is not a numeric user id; no Telegram sender will match it", id))
		}
	}
	return out
}

// Location loads the broadcast timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Broadcast.Timezone)
}

// DailyTime is the default broadcast time of day.
func (c *Config) DailyTime() (schedule.TimeOfDay, error) {
	at := schedule.TimeOfDay{Hour: DefaultDailyHour, Minute: DefaultDailyMinute}
	if c.Broadcast.DailyHour != nil {
		at.Hour = *c.Broadcast.DailyHour
	}
	if c.Broadcast.DailyMinute != nil {
		at.Minute = *c.Broadcast.DailyMinute
	}
	if !at.Valid() {
		return at, fmt.Errorf("broadcast daily time out of range: hour=%d minute=%d", at.Hour, at.Minute)
	}
	return at, nil
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, DefaultPollTimeout)
}

func (c *Config) CommandTimeout() time.Duration {
	return durationOr(c.Telegram.CommandTimeout, DefaultCommandTimeout)
}

func (c *Config) FireTimeout() time.Duration {
	return durationOr(c.Broadcast.FireTimeout, DefaultFireTimeout)
}

func (c *Config) QuoteTimeout() time.Duration {
	return durationOr(c.Quotes.Timeout, DefaultQuoteTimeout)
}

func (c *Config) BusyTimeout() time.Duration {
	return durationOr(c.Storage.BusyTimeout, 0)
}

// LogConfig converts the logging section for logx.
func (c *Config) LogConfig() logx.Config {
	console := c.Logging.Console == nil || *c.Logging.Console
	return logx.Config{
		Level:   c.Logging.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			Target:     c.Logging.Telegram.Target,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

