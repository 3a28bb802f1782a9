package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Bot       BotConfig       `json:"bot" yaml:"bot"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Digest    DigestConfig    `json:"digest" yaml:"digest"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

type TelegramConfig struct {
	Token        string  `json:"token" yaml:"token" validate:"required"`
	OwnerUserIDs []int64 `json:"owner_user_ids" yaml:"owner_user_ids" validate:"required,min=1,dive,gt=0"`
	// GroupLog is the chat id (as string, e.g. "-100123") used by the Telegram log sink.
	GroupLog string `json:"group_log" yaml:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout" yaml:"poll_timeout"`
}

type BotConfig struct {
	ChannelLink string `json:"channel_link" yaml:"channel_link" validate:"omitempty,url"`
	// WelcomeText is rendered with the user's first name; "{name}" is replaced.
	WelcomeText string `json:"welcome_text,omitempty" yaml:"welcome_text,omitempty"`
}

// BroadcastConfig tunes the dispatcher and progress reporter.
//
// Defaults (when fields are omitted/zero):
//   - max_in_flight: 20
//   - report_every: 20
//   - rate_per_sec: 0 (unlimited)
//   - prefetch: 64
type BroadcastConfig struct {
	MaxInFlight int `json:"max_in_flight,omitempty" yaml:"max_in_flight,omitempty" validate:"gte=0,lte=1000"`
	ReportEvery int `json:"report_every,omitempty" yaml:"report_every,omitempty" validate:"gte=0"`
	RatePerSec  int `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty" validate:"gte=0"`
	Prefetch    int `json:"prefetch,omitempty" yaml:"prefetch,omitempty" validate:"gte=0"`
}

// StorageConfig selects the recipient store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./castbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver" validate:"omitempty,oneof=sqlite badger redis memory"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // Go duration string (sqlite)

	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty" validate:"gte=0"`
	Namespace     string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// HTTPConfig controls the keep-alive/health listener. It is on unless
// enabled is explicitly false.
type HTTPConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"` // default: ":8080"
}

func (h HTTPConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

// DigestConfig schedules a periodic stats message to the owners.
// An empty cron disables it.
type DigestConfig struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console" yaml:"console"`
	File     LoggingFile     `json:"file" yaml:"file"`
	Telegram LoggingTelegram `json:"telegram" yaml:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ThreadID   int    `json:"thread_id" yaml:"thread_id"`
	MinLevel   string `json:"min_level" yaml:"min_level"`
	RatePerSec int    `json:"rate_per_sec" yaml:"rate_per_sec"`
}

const (
	DefaultMaxInFlight = 20
	DefaultReportEvery = 20
	DefaultPrefetch    = 64
	DefaultHTTPAddr    = ":8080"
	DefaultDriver      = "sqlite"
	DefaultNamespace   = "castbot"
	DefaultWelcomeText = "Hi {name}, welcome! Tap the button below to join our channel."
)

// ApplyDefaults fills zero values with runtime defaults.
func (c *Config) ApplyDefaults() {
	if c.Broadcast.MaxInFlight <= 0 {
		c.Broadcast.MaxInFlight = DefaultMaxInFlight
	}
	if c.Broadcast.ReportEvery <= 0 {
		c.Broadcast.ReportEvery = DefaultReportEvery
	}
	if c.Broadcast.Prefetch <= 0 {
		c.Broadcast.Prefetch = DefaultPrefetch
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultDriver
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = DefaultNamespace
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Bot.WelcomeText == "" {
		c.Bot.WelcomeText = DefaultWelcomeText
	}
}

// IsOwner reports whether userID is listed in telegram.owner_user_ids.
func (c *Config) IsOwner(userID int64) bool {
	if c == nil {
		return false
	}
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
