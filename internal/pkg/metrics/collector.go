// Package metrics предоставляет интерфейсы и реализации для сбора метрик ретранслятора:
// scrape endpoint Prometheus и необязательная отправка в Pushgateway при остановке.
//
//   - Collector interface для абстракции
//   - NewCollector выбирает реализацию на основе конфигурации
//   - NopCollector при отключённых метриках
package metrics

import (
	"context"
	"net/http"
	"time"
)

// Статусы приёма сообщений для RecordIngest.
const (
	IngestAccepted = "accepted"
	IngestInvalid  = "invalid"
	IngestDropped  = "dropped"
)

// Collector определяет интерфейс для сбора метрик.
// Реализации: PrometheusCollector (активный) и NopCollector (no-op).
type Collector interface {
	// RecordIngest учитывает входящее соединение listener-а со статусом приёма.
	RecordIngest(status string)

	// RecordDelivery записывает одну попытку доставки в бэкенд.
	RecordDelivery(backend string, duration time.Duration, success bool)

	// SetSpoolDepth публикует текущую длину очереди.
	SetSpoolDepth(n int)

	// SetBackoff публикует текущий интервал повтора.
	SetBackoff(d time.Duration)

	// RecordPersist учитывает результат сохранения очереди на диск.
	RecordPersist(success bool)

	// Handler возвращает HTTP handler для scrape endpoint.
	Handler() http.Handler

	// Push отправляет метрики в Pushgateway.
	// Всегда возвращает nil: ошибки логируются внутри реализации.
	Push(ctx context.Context) error
}
