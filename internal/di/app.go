package di

import (
	"github.com/Kargones/alert-relay/internal/config"
	"github.com/Kargones/alert-relay/internal/daemon"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/metrics"
	"github.com/Kargones/alert-relay/internal/pkg/tracing"
)

// App содержит инициализированные зависимости демона.
// Создаётся через Wire DI в InitializeApp().
//
// При добавлении новых зависимостей:
// 1. Добавить поле в App struct
// 2. Создать провайдер в providers.go
// 3. Добавить провайдер в ProviderSet в wire.go
// 4. Перегенерировать wire_gen.go: go generate ./internal/di/...
type App struct {
	// Config — загруженная конфигурация, передаётся извне.
	Config *config.Config

	// Logger создаётся через ProvideLogger на основе секции logging.
	Logger logging.Logger

	// MetricsCollector — Prometheus или NopCollector при отключённых метриках.
	MetricsCollector metrics.Collector

	// Tracer — OTel TracerProvider или nop provider.
	Tracer *tracing.Provider

	// Daemon — процесс ретранслятора; запускается через Daemon.Run.
	Daemon *daemon.Daemon
}
