package app

import (
	"fmt"
	"strings"

	"unfollowbot/internal/config"
	"unfollowbot/internal/scheduler"
)

func pollSchedule(cfg *config.Config) (scheduler.Schedule, error) {
	raw := strings.TrimSpace(cfg.Settings.PollInterval)
	if raw == "" {
		raw = config.DefaultPollInterval
	}
	s, err := scheduler.ParseSchedule(raw)
	if err != nil {
		return scheduler.Schedule{}, fmt.Errorf("settings.poll_interval: %w", err)
	}
	return s, nil
}
