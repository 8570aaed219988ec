package metrics

import (
	"context"
	"net/http"
	"time"
)

// NopCollector — no-op реализация Collector.
type NopCollector struct{}

// NewNopCollector создаёт NopCollector.
func NewNopCollector() *NopCollector {
	return &NopCollector{}
}

func (c *NopCollector) RecordIngest(status string) {}

func (c *NopCollector) RecordDelivery(backend string, duration time.Duration, success bool) {}

func (c *NopCollector) SetSpoolDepth(n int) {}

func (c *NopCollector) SetBackoff(d time.Duration) {}

func (c *NopCollector) RecordPersist(success bool) {}

// Handler отвечает 404: метрики отключены.
func (c *NopCollector) Handler() http.Handler { return http.NotFoundHandler() }

// Push — no-op, всегда возвращает nil.
func (c *NopCollector) Push(ctx context.Context) error {
	return nil
}
