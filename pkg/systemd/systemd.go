// Package systemd reports service state to systemd when running as a
// Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "unfollowbot/pkg/logx"
)

// Ready tells systemd that startup finished.
func Ready(log logx.Logger) { notify(log, daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown began.
func Stopping(log logx.Logger) { notify(log, daemon.SdNotifyStopping) }

// Watchdog pings the watchdog. The app calls it after every tick, so
// WatchdogSec must exceed the poll interval.
func Watchdog(log logx.Logger) { notify(log, daemon.SdNotifyWatchdog) }

// WatchdogInterval returns the unit's WatchdogSec, or 0 when the watchdog
// is not enabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Trace("systemd notified", logx.String("state", state))
	}
}
