// Package systemd reports daemon lifecycle to the service manager via
// sd_notify. Every call is a no-op when NOTIFY_SOCKET is unset, so the
// daemon behaves identically outside systemd.
package systemd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the daemon finished startup. Required for
// Type=notify units, harmless otherwise.
func NotifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("sd_notify READY failed", "error", err)
		return
	}
	if sent {
		logger.Debug("Notified systemd of readiness")
	}
}

// NotifyStopping tells systemd a clean shutdown has begun.
func NotifyStopping(logger *slog.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.Warn("sd_notify STOPPING failed", "error", err)
	}
}

// NotifyStatus publishes a one-line status visible in systemctl output.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}

// StartWatchdog feeds the systemd watchdog at half the configured
// interval. Returns a stop function; both are no-ops when the unit has
// no WatchdogSec.
func StartWatchdog(logger *slog.Logger) (stop func()) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval / 2)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					logger.Warn("sd_notify WATCHDOG failed", "error", err)
				}
			}
		}
	}()

	logger.Info("systemd watchdog enabled", "interval", interval)
	return func() {
		ticker.Stop()
		close(done)
	}
}

// statusLine formats the state for systemctl status display.
func statusLine(state string, itemsStreamed int) string {
	return fmt.Sprintf("state=%s items_streamed=%d", state, itemsStreamed)
}

// NotifySessionState publishes the engine state as the unit status.
func NotifySessionState(state string, itemsStreamed int) {
	NotifyStatus(statusLine(state, itemsStreamed))
}
