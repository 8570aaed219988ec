// Package systemd сообщает systemd о состоянии демона через sd_notify.
//
// Все вызовы ничего не делают, если демон запущен не под systemd
// (NOTIFY_SOCKET не задан) или интеграция отключена в конфигурации.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
)

// Config — настройки интеграции с systemd.
type Config struct {
	Enabled bool `yaml:"enabled" env:"AR_SYSTEMD_ENABLED"`
}

// Notifier отправляет READY, WATCHDOG и STOPPING.
type Notifier struct {
	enabled bool
	logger  logging.Logger
	notify  func(state string) (bool, error)
	// watchdog возвращает интервал WatchdogSec или 0.
	watchdog func() (time.Duration, error)
}

// New создаёт Notifier.
func New(config Config, logger logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		enabled: config.Enabled,
		logger:  logger.With("component", "systemd"),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.logger.Warn("не удалось отправить уведомление systemd", "state", state, "error", err.Error())
	case sent:
		n.logger.Debug("уведомление systemd отправлено", "state", state)
	}
}

// Ready сообщает о завершении запуска.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping сообщает о начале остановки.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Watchdog отправляет WATCHDOG=1 с половиной интервала WatchdogSec до отмены ctx.
// Без настроенного watchdog сразу возвращает nil.
func (n *Notifier) Watchdog(ctx context.Context) error {
	if !n.enabled {
		return nil
	}
	interval, err := n.watchdog()
	if err != nil {
		n.logger.Warn("не удалось прочитать настройки watchdog", "error", err.Error())
		return nil
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	n.logger.Debug("watchdog systemd включён", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
