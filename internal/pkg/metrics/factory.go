package metrics

import (
	"github.com/Kargones/alert-relay/internal/pkg/logging"
)

// NewCollector создаёт Collector на основе конфигурации.
// Если метрики отключены — возвращает NopCollector.
func NewCollector(config Config, logger logging.Logger) (Collector, error) {
	if !config.Enabled {
		return NewNopCollector(), nil
	}
	return NewPrometheusCollector(config, logger)
}
