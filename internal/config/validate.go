package config

import (
	"errors"
	"fmt"
	"strings"

	logx "unfollowbot/pkg/logx"
)

const (
	DefaultPollInterval = "1m"
	DefaultMessagesFile = "./messages.json"
	DefaultPushTitle    = "Twitch Unfollow Notifier"
	DefaultPushBody     = "%username% is no longer following you!"
)

// Environment variables that override secrets from the file.
const (
	EnvTwitchClientID   = "TWITCH_CLIENT_ID"
	EnvTwitchOAuthToken = "TWITCH_OAUTH_TOKEN"
	EnvTwitchAppToken   = "TWITCH_APP_TOKEN"
	EnvPushbulletToken  = "PUSHBULLET_TOKEN"
	EnvTelegramToken    = "TELEGRAM_TOKEN"
)

// ApplyEnv overrides secrets with non-empty environment variables.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Twitch.ClientID, EnvTwitchClientID)
	set(&cfg.Twitch.OAuthToken, EnvTwitchOAuthToken)
	set(&cfg.Twitch.AppToken, EnvTwitchAppToken)
	set(&cfg.Pushbullet.APIToken, EnvPushbulletToken)
	set(&cfg.Telegram.Token, EnvTelegramToken)
}

func ApplyDefaults(cfg *Config) {
	s := &cfg.Settings
	if strings.TrimSpace(s.PollInterval) == "" {
		s.PollInterval = DefaultPollInterval
	}
	if strings.TrimSpace(s.MessagesFile) == "" {
		s.MessagesFile = DefaultMessagesFile
	}
	if s.PushTitle == "" {
		s.PushTitle = DefaultPushTitle
	}
	if s.PushBody == "" {
		s.PushBody = DefaultPushBody
	}
	if strings.TrimSpace(cfg.Twitch.ChannelName) == "" {
		cfg.Twitch.ChannelName = cfg.Twitch.ChannelID
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks required keys and value ranges. It reports every problem
// at once.
func Validate(cfg *Config) error {
	var errs []error
	req := func(field, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
		}
	}
	dur := func(field, v string) {
		if _, err := ParseDurationField(field, v); err != nil {
			errs = append(errs, err)
		}
	}

	req("twitch.client_id", cfg.Twitch.ClientID)
	req("twitch.channel_id", cfg.Twitch.ChannelID)
	if cfg.Twitch.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("twitch.requests_per_minute must be >= 0"))
	}
	dur("twitch.http_timeout", cfg.Twitch.HTTPTimeout)
	dur("twitch.rate_limit_fallback", cfg.Twitch.RateLimitFallback)

	if cfg.Chat.IsEnabled() {
		req("twitch.oauth_token", cfg.Twitch.OAuthToken)
		req("twitch.channel_name", cfg.Twitch.ChannelName)
	} else if cfg.Settings.MessageUsers {
		errs = append(errs, errors.New("settings.message_users requires chat.enabled"))
	}
	if cfg.Chat.MaxReconnectTries < 0 {
		errs = append(errs, errors.New("chat.max_reconnect_tries must be >= 0"))
	}
	dur("chat.reconnect_delay", cfg.Chat.ReconnectDelay)

	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram.token is set"))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("logging.telegram requires telegram.token"))
	}

	if cfg.Settings.ChecksBeforeNotification < 0 {
		errs = append(errs, errors.New("settings.checks_before_notification must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if lv := cfg.Logging.Telegram.MinLevel; lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", lv))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
