package app

import (
	"fmt"

	"unfollowbot/internal/chat"
	"unfollowbot/internal/config"
	"unfollowbot/internal/push"
	"unfollowbot/internal/twitch"
	logx "unfollowbot/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func twitchConfig(cfg *config.Config) twitch.Config {
	t := cfg.Twitch
	return twitch.Config{
		ClientID:          t.ClientID,
		AppToken:          t.AppToken,
		APIBaseURL:        t.APIBaseURL,
		LanguageBaseURL:   t.LanguageBaseURL,
		RequestsPerMinute: t.RequestsPerMinute,
		RateLimitFallback: t.RateLimitFallbackDuration(),
		HTTPTimeout:       t.HTTPTimeoutDuration(),
	}
}

func ircConfig(cfg *config.Config) chat.IRCConfig {
	return chat.IRCConfig{
		URL:      cfg.Chat.URL,
		Username: cfg.Twitch.ChannelName,
		Token:    cfg.Twitch.OAuthToken,
		Channel:  cfg.Twitch.ChannelName,
	}
}

// telegramPusher returns nil when Telegram is not configured.
func telegramPusher(cfg *config.Config) (*push.Telegram, error) {
	if cfg.Telegram.Token == "" {
		return nil, nil
	}
	tg, err := push.NewTelegram(push.TelegramConfig{
		Token:  cfg.Telegram.Token,
		ChatID: cfg.Telegram.ChatID,
		APIURL: cfg.Telegram.APIURL,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return tg, nil
}

// pushers fans out to every configured backend.
func pushers(cfg *config.Config, tg *push.Telegram) (push.Multi, error) {
	var m push.Multi
	if cfg.Pushbullet.APIToken != "" {
		pb, err := push.NewPushbullet(push.PushbulletConfig{
			Token: cfg.Pushbullet.APIToken,
			URL:   cfg.Pushbullet.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("pushbullet: %w", err)
		}
		m = append(m, pb)
	}
	if tg != nil {
		m = append(m, tg)
	}
	return m, nil
}
