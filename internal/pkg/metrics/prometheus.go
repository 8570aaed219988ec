package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/urlutil"
)

const namespace = "alert_relay"

// PrometheusCollector реализует Collector с Prometheus метриками.
// Метрики доступны через Handler() и отправляются в Pushgateway при вызове Push().
type PrometheusCollector struct {
	config   Config
	logger   logging.Logger
	registry *prometheus.Registry

	ingestTotal      *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	deliveryTotal    *prometheus.CounterVec
	spoolDepth       prometheus.Gauge
	backoffSeconds   prometheus.Gauge
	persistTotal     prometheus.Counter
	persistErrors    prometheus.Counter

	// Instance label (hostname)
	instance string
}

// NewPrometheusCollector создаёт PrometheusCollector с собственным registry.
// Регистрирует метрики:
//   - alert_relay_ingest_total (counter, status)
//   - alert_relay_delivery_duration_seconds (histogram, backend/status)
//   - alert_relay_delivery_total (counter, backend/status)
//   - alert_relay_spool_depth (gauge)
//   - alert_relay_backoff_seconds (gauge)
//   - alert_relay_spool_persist_total / alert_relay_spool_persist_errors_total (counter)
func NewPrometheusCollector(config Config, logger logging.Logger) (*PrometheusCollector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	instance := config.InstanceLabel
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			logger.Warn("не удалось получить hostname для metrics instance label, используется 'unknown'",
				"error", err.Error())
			hostname = "unknown"
		}
		instance = hostname
	}

	registry := prometheus.NewRegistry()

	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Total number of ingest connections by status",
		},
		[]string{"status"},
	)

	// Buckets покрывают диапазон от локального webhook до медленного homeserver.
	deliveryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of delivery attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "status"},
	)

	deliveryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_total",
			Help:      "Total number of delivery attempts by backend and status",
		},
		[]string{"backend", "status"},
	)

	spoolDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "spool_depth",
		Help:      "Number of messages waiting in the spool",
	})

	backoffSeconds := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backoff_seconds",
		Help:      "Current retry interval in seconds",
	})

	persistTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spool_persist_total",
		Help:      "Total number of spool snapshots written",
	})

	persistErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spool_persist_errors_total",
		Help:      "Total number of failed spool snapshot writes",
	})

	// Register вместо MustRegister: ошибка возможна только при дублировании имён.
	collectors := []prometheus.Collector{
		ingestTotal, deliveryDuration, deliveryTotal,
		spoolDepth, backoffSeconds, persistTotal, persistErrors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("ошибка регистрации метрики: %w", err)
		}
	}

	return &PrometheusCollector{
		config:           config,
		logger:           logger,
		registry:         registry,
		ingestTotal:      ingestTotal,
		deliveryDuration: deliveryDuration,
		deliveryTotal:    deliveryTotal,
		spoolDepth:       spoolDepth,
		backoffSeconds:   backoffSeconds,
		persistTotal:     persistTotal,
		persistErrors:    persistErrors,
		instance:         instance,
	}, nil
}

// maxLabelLength — максимальная длина значения label для защиты от cardinality explosion.
const maxLabelLength = 128

// sanitizeLabel обрезает значение label до допустимой длины и заменяет
// контрольные символы, которые могут нарушить Prometheus text format.
// Обрезка выполняется по рунам.
func sanitizeLabel(value string) string {
	clean := strings.Map(func(r rune) rune {
		if r < 0x20 {
			return '_'
		}
		return r
	}, value)

	runes := []rune(clean)
	if len(runes) > maxLabelLength {
		return string(runes[:maxLabelLength])
	}
	return clean
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordIngest учитывает входящее соединение.
func (c *PrometheusCollector) RecordIngest(status string) {
	c.ingestTotal.WithLabelValues(sanitizeLabel(status)).Inc()
}

// RecordDelivery записывает попытку доставки.
func (c *PrometheusCollector) RecordDelivery(backend string, duration time.Duration, success bool) {
	backend = sanitizeLabel(backend)
	status := statusLabel(success)

	c.deliveryDuration.WithLabelValues(backend, status).Observe(duration.Seconds())
	c.deliveryTotal.WithLabelValues(backend, status).Inc()
}

// SetSpoolDepth публикует длину очереди.
func (c *PrometheusCollector) SetSpoolDepth(n int) {
	c.spoolDepth.Set(float64(n))
}

// SetBackoff публикует интервал повтора.
func (c *PrometheusCollector) SetBackoff(d time.Duration) {
	c.backoffSeconds.Set(d.Seconds())
}

// RecordPersist учитывает запись снимка очереди.
func (c *PrometheusCollector) RecordPersist(success bool) {
	if success {
		c.persistTotal.Inc()
		return
	}
	c.persistErrors.Inc()
}

// Handler возвращает promhttp handler поверх собственного registry.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Push отправляет метрики в Pushgateway.
// Возвращает nil даже при ошибке: ошибка метрик не критична.
func (c *PrometheusCollector) Push(ctx context.Context) error {
	if c.config.PushgatewayURL == "" {
		c.logger.Debug("metrics: pushgateway URL not configured, skipping push")
		return nil
	}

	select {
	case <-ctx.Done():
		c.logger.Debug("metrics push отменён")
		return nil
	default:
	}

	pusher := push.New(c.config.PushgatewayURL, c.config.JobName).
		Gatherer(c.registry).
		Grouping("instance", c.instance)

	pushCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := pusher.PushContext(pushCtx); err != nil {
		c.logger.Error("ошибка отправки метрик в Pushgateway",
			"error", err.Error(),
			"url", urlutil.MaskURL(c.config.PushgatewayURL),
			"job", c.config.JobName,
		)
		return nil
	}

	c.logger.Info("метрики отправлены в Pushgateway",
		"url", urlutil.MaskURL(c.config.PushgatewayURL),
		"job", c.config.JobName,
		"instance", c.instance,
	)
	return nil
}

// GetRegistry возвращает внутренний registry для тестирования.
func (c *PrometheusCollector) GetRegistry() *prometheus.Registry {
	return c.registry
}
