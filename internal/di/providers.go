package di

import (
	"fmt"
	"log/slog"

	"github.com/Kargones/alert-relay/internal/config"
	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/daemon"
	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/delivery/matrix"
	"github.com/Kargones/alert-relay/internal/delivery/slack"
	"github.com/Kargones/alert-relay/internal/delivery/telegram"
	"github.com/Kargones/alert-relay/internal/delivery/webhook"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/backoff"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/metrics"
	"github.com/Kargones/alert-relay/internal/pkg/tracing"
	"github.com/Kargones/alert-relay/internal/spool"
	"github.com/Kargones/alert-relay/internal/systemd"
)

// ProvideLogger создаёт Logger на основе секции logging.
// При nil Config используются значения по умолчанию.
func ProvideLogger(cfg *config.Config) logging.Logger {
	if cfg == nil {
		return logging.NewLogger(logging.DefaultConfig())
	}
	return logging.NewLogger(cfg.Logging).With("service", constants.DaemonName)
}

// ProvideMetricsCollector создаёт Collector на основе секции metrics.
// Если метрики отключены — NopCollector. Ошибка создания не фатальна:
// логируется, используется NopCollector.
func ProvideMetricsCollector(cfg *config.Config, logger logging.Logger) metrics.Collector {
	if cfg == nil {
		return metrics.NewNopCollector()
	}

	collector, err := metrics.NewCollector(cfg.Metrics, logger)
	if err != nil {
		logger.Error("ошибка создания MetricsCollector, используется NopCollector",
			slog.String("error", err.Error()),
		)
		return metrics.NewNopCollector()
	}
	return collector
}

// ProvideTracerProvider создаёт OTel TracerProvider на основе секции tracing.
// Если трейсинг отключён или не инициализировался — nop provider.
func ProvideTracerProvider(cfg *config.Config, logger logging.Logger) *tracing.Provider {
	if cfg == nil || !cfg.Tracing.Enabled {
		return tracing.NewNopProvider()
	}

	tracingCfg := cfg.Tracing
	tracingCfg.Version = constants.Version

	provider, err := tracing.NewTracerProvider(tracingCfg, logger)
	if err != nil {
		logger.Error("ошибка инициализации tracing, используется nop provider",
			slog.String("error", err.Error()),
		)
		return tracing.NewNopProvider()
	}
	return provider
}

// ProvideSpoolStore создаёт хранилище очереди. Файл читается при запуске демона.
func ProvideSpoolStore(cfg *config.Config, logger logging.Logger) *spool.Store {
	path := constants.DefaultSpoolPath
	if cfg != nil && cfg.SpoolPath != "" {
		path = cfg.SpoolPath
	}
	return spool.New(path, logger)
}

// ProvideBackoff создаёт контроллер интервала повторов.
func ProvideBackoff(cfg *config.Config) *backoff.Controller {
	if cfg == nil {
		return backoff.New(config.Default().Delivery.BackoffUnit)
	}
	var opts []backoff.Option
	if cfg.Delivery.BackoffMax > 0 {
		opts = append(opts, backoff.WithMax(cfg.Delivery.BackoffMax))
	}
	return backoff.New(cfg.Delivery.BackoffUnit, opts...)
}

// ProvideSink создаёт бэкенды из списка backends, при включённом breaker
// оборачивает каждый в BreakerSink и объединяет их в MultiSink с правилами
// маршрутизации. Ошибки имеют код DELIVERY.CONFIG_INVALID.
func ProvideSink(cfg *config.Config, logger logging.Logger) (delivery.Sink, error) {
	if cfg == nil {
		return nil, apperrors.NewAppError(apperrors.ErrDeliveryConfig, "конфигурация не задана", nil)
	}

	backends := make(map[string]delivery.Sink, len(cfg.Backends))
	for _, name := range cfg.Backends {
		sink, err := newBackend(cfg, name, logger)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrDeliveryConfig,
				fmt.Sprintf("не удалось создать бэкенд %s", name), err)
		}
		if cfg.Delivery.Breaker.Enabled {
			sink = delivery.NewBreakerSink(sink, cfg.Delivery.Breaker, logger)
		}
		backends[name] = sink
	}

	rules, err := delivery.NewRules(cfg.Rules)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrDeliveryConfig, "некорректные правила rules", err)
	}

	multi, err := delivery.NewMultiSink(backends, rules, logger)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrDeliveryConfig, "бэкенды не настроены", err)
	}
	return multi, nil
}

func newBackend(cfg *config.Config, name string, logger logging.Logger) (delivery.Sink, error) {
	switch name {
	case slack.Name:
		return slack.New(cfg.Slack, logger)
	case matrix.Name:
		return matrix.New(cfg.Matrix, logger)
	case telegram.Name:
		return telegram.New(cfg.Telegram, logger)
	case webhook.Name:
		return webhook.New(cfg.Webhook, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, name)
	}
}

// ProvideNotifier создаёт Notifier systemd на основе секции systemd.
func ProvideNotifier(cfg *config.Config, logger logging.Logger) *systemd.Notifier {
	if cfg == nil {
		return systemd.New(systemd.Config{}, logger)
	}
	return systemd.New(cfg.Systemd, logger)
}

// ProvideDaemon собирает Daemon из компонентов.
func ProvideDaemon(
	cfg *config.Config,
	store *spool.Store,
	bo *backoff.Controller,
	sink delivery.Sink,
	notifier *systemd.Notifier,
	collector metrics.Collector,
	tp *tracing.Provider,
	logger logging.Logger,
) *daemon.Daemon {
	return daemon.New(cfg, store, bo, sink, notifier, collector, tp, logger)
}
