package config

import (
	"reflect"

	logx "unfollowbot/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists every changed section or setting.
	Sections []string
	// Restart lists changed keys that only take effect after a restart.
	Restart []string
	// Attrs are log fields describing the new values. Secrets are reported
	// only as set/unset.
	Attrs []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	prev, next := oldCfg.Settings, newCfg.Settings
	if prev.ChecksBeforeNotification != next.ChecksBeforeNotification {
		ch.Sections = append(ch.Sections, "settings.checks_before_notification")
		ch.Attrs = append(ch.Attrs, logx.Int("settings.checks_before_notification", next.ChecksBeforeNotification))
	}
	if prev.MessageUsers != next.MessageUsers {
		ch.Sections = append(ch.Sections, "settings.message_users")
		ch.Attrs = append(ch.Attrs, logx.Bool("settings.message_users", next.MessageUsers))
	}
	if prev.PollInterval != next.PollInterval {
		ch.Sections = append(ch.Sections, "settings.poll_interval")
		ch.Attrs = append(ch.Attrs, logx.String("settings.poll_interval", next.PollInterval))
	}
	if prev.PushTitle != next.PushTitle || prev.PushBody != next.PushBody {
		ch.Sections = append(ch.Sections, "settings.push")
	}
	if prev.MessagesFile != next.MessagesFile {
		ch.Sections = append(ch.Sections, "settings.messages_file")
		ch.Restart = append(ch.Restart, "settings.messages_file")
	}

	restart := func(name string, changed bool) {
		if changed {
			ch.Sections = append(ch.Sections, name)
			ch.Restart = append(ch.Restart, name)
		}
	}
	restart("twitch", oldCfg.Twitch != newCfg.Twitch)
	restart("chat", !reflect.DeepEqual(oldCfg.Chat, newCfg.Chat))
	restart("pushbullet", oldCfg.Pushbullet != newCfg.Pushbullet)
	restart("telegram", oldCfg.Telegram != newCfg.Telegram)
	restart("storage", oldCfg.Storage != newCfg.Storage)

	if len(ch.Restart) > 0 {
		ch.Attrs = append(ch.Attrs,
			logx.Bool("twitch.app_token_set", newCfg.Twitch.AppToken != ""),
			logx.Bool("pushbullet.token_set", newCfg.Pushbullet.APIToken != ""),
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
		)
	}
	return ch
}
