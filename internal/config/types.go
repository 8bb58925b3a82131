package config

// Config is the full process configuration. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Quotes    QuotesConfig    `json:"quotes"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// WebhookURL switches to webhook mode; Listen is the local bind address.
	WebhookURL string `json:"webhook_url,omitempty"`
	Listen     string `json:"listen,omitempty"`

	// Command worker pool.
	Workers        int    `json:"workers,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// BroadcastConfig holds the admin identity, the default target and the
// default daily time.
//
// DailyHour and DailyMinute are pointers so that an explicit 0 is kept.
type BroadcastConfig struct {
	AdminID     string `json:"admin_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	DailyHour   *int   `json:"daily_hour,omitempty"`
	DailyMinute *int   `json:"daily_minute,omitempty"`
	FireTimeout string `json:"fire_timeout,omitempty"`
}

type QuotesConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig selects the schedule database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/quotecast.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  *bool           `json:"console,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegram mirrors WARN+ log lines into an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
