//go:build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/Kargones/alert-relay/internal/config"
)

//go:generate wire

// ProviderSet объединяет все провайдеры демона.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideMetricsCollector,
	ProvideTracerProvider,
	ProvideSpoolStore,
	ProvideBackoff,
	ProvideSink,
	ProvideNotifier,
	ProvideDaemon,
	wire.Struct(new(App), "*"),
)

// InitializeApp создаёт App через Wire DI. Принимает Config,
// загруженный через config.Load().
//
// Wire генерирует реализацию этой функции в wire_gen.go.
func InitializeApp(cfg *config.Config) (*App, error) {
	wire.Build(ProviderSet)
	return nil, nil // Wire заменит это на реальную реализацию
}
