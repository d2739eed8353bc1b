package config

// Config is the whole configuration file, JSON or YAML.
//
// Durations are Go duration strings ("30s", "5m"). settings.poll_interval
// also accepts "HH:MM" and cron expressions.
type Config struct {
	Twitch     TwitchConfig     `json:"twitch"`
	Chat       ChatConfig       `json:"chat"`
	Pushbullet PushbulletConfig `json:"pushbullet"`
	Telegram   TelegramConfig   `json:"telegram"`
	Settings   SettingsConfig   `json:"settings"`
	Storage    StorageConfig    `json:"storage"`
	Logging    LoggingConfig    `json:"logging"`
}

type TwitchConfig struct {
	ClientID    string `json:"client_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	// OAuthToken logs the chat client in.
	OAuthToken string `json:"oauth_token"`
	// AppToken is sent as a bearer token on API requests.
	AppToken string `json:"app_token,omitempty"`

	APIBaseURL        string `json:"api_base_url,omitempty"`
	LanguageBaseURL   string `json:"language_base_url,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
	HTTPTimeout       string `json:"http_timeout,omitempty"`
	RateLimitFallback string `json:"rate_limit_fallback,omitempty"`
}

// ChatConfig controls the chat connection used for whispers.
//
// Enabled defaults to true. With chat disabled, settings.message_users must
// stay false.
type ChatConfig struct {
	Enabled           *bool  `json:"enabled,omitempty"`
	URL               string `json:"url,omitempty"`
	MaxReconnectTries int    `json:"max_reconnect_tries,omitempty"`
	ReconnectDelay    string `json:"reconnect_delay,omitempty"`
}

func (c ChatConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

type PushbulletConfig struct {
	APIToken string `json:"api_token"`
	URL      string `json:"url,omitempty"`
}

// TelegramConfig enables the Telegram push backend and, through
// logging.telegram, the Telegram log sink.
type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
	APIURL string `json:"api_url,omitempty"`
}

type SettingsConfig struct {
	// ChecksBeforeNotification is the number of consecutive polls a follower
	// must be missing before the unfollow is confirmed. 0 confirms at once.
	ChecksBeforeNotification int  `json:"checks_before_notification"`
	MessageUsers             bool `json:"message_users"`

	PollInterval string `json:"poll_interval,omitempty"`
	MessagesFile string `json:"messages_file,omitempty"`

	// PushTitle and PushBody format the push notification. %username% in
	// PushBody is replaced with the follower's name.
	PushTitle string `json:"push_title,omitempty"`
	PushBody  string `json:"push_body,omitempty"`
}

// StorageConfig selects the ledger backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./database.json" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
