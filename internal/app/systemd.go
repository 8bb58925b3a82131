package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "quotecast/pkg/logx"
)

// sdNotify is swapped in tests. Outside systemd (no NOTIFY_SOCKET) it is a no-op.
var sdNotify = daemon.SdNotify

func (a *App) notifySystemd(state string) {
	sent, err := sdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec while ctx is live.
func (a *App) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.notifySystemd(daemon.SdNotifyWatchdog)
		}
	}
}
