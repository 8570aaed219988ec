package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
)

func scrapeConfig() Config {
	return Config{
		Enabled:    true,
		ListenAddr: ":0",
		JobName:    "test-job",
		Timeout:    10 * time.Second,
	}
}

func gather(t *testing.T, c *PrometheusCollector) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := c.GetRegistry().Gather()
	require.NoError(t, err)

	found := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		found[f.GetName()] = f
	}
	return found
}

// TestPrometheusCollector_RecordDelivery проверяет запись попыток доставки и их labels.
func TestPrometheusCollector_RecordDelivery(t *testing.T) {
	collector, err := NewPrometheusCollector(scrapeConfig(), logging.NewNopLogger())
	require.NoError(t, err)

	collector.RecordDelivery("slack", 150*time.Millisecond, true)
	collector.RecordDelivery("slack", time.Second, false)
	collector.RecordDelivery("slack", time.Second, false)

	found := gather(t, collector)
	require.Contains(t, found, "alert_relay_delivery_duration_seconds")
	require.Contains(t, found, "alert_relay_delivery_total")

	counts := map[string]float64{}
	for _, m := range found["alert_relay_delivery_total"].GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		assert.Equal(t, "slack", labels["backend"])
		counts[labels["status"]] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, counts["success"])
	assert.Equal(t, 2.0, counts["error"])
}

// TestPrometheusCollector_Gauges проверяет публикацию длины очереди и интервала повтора.
func TestPrometheusCollector_Gauges(t *testing.T) {
	collector, err := NewPrometheusCollector(scrapeConfig(), logging.NewNopLogger())
	require.NoError(t, err)

	collector.SetSpoolDepth(7)
	collector.SetBackoff(4 * time.Second)
	collector.RecordPersist(true)
	collector.RecordPersist(false)
	collector.RecordIngest(IngestAccepted)

	found := gather(t, collector)
	assert.Equal(t, 7.0, found["alert_relay_spool_depth"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 4.0, found["alert_relay_backoff_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, found["alert_relay_spool_persist_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, found["alert_relay_spool_persist_errors_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, found["alert_relay_ingest_total"].GetMetric()[0].GetCounter().GetValue())
}

// TestPrometheusCollector_Handler проверяет scrape endpoint.
func TestPrometheusCollector_Handler(t *testing.T) {
	collector, err := NewPrometheusCollector(scrapeConfig(), logging.NewNopLogger())
	require.NoError(t, err)
	collector.SetSpoolDepth(3)

	server := httptest.NewServer(collector.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "alert_relay_spool_depth 3")
}

// TestPrometheusCollector_Push проверяет отправку метрик в Pushgateway.
func TestPrometheusCollector_Push(t *testing.T) {
	var receivedMethod, receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := Config{
		Enabled:        true,
		PushgatewayURL: server.URL,
		JobName:        "alert-relay",
		Timeout:        10 * time.Second,
	}

	collector, err := NewPrometheusCollector(config, logging.NewNopLogger())
	require.NoError(t, err)
	collector.RecordDelivery("matrix", time.Second, true)

	assert.NoError(t, collector.Push(context.Background()))
	// Pushgateway использует PUT для push операций
	assert.Equal(t, http.MethodPut, receivedMethod)
	assert.Contains(t, receivedPath, "/metrics/job/alert-relay")
}

// TestPrometheusCollector_PushError проверяет, что ошибка Pushgateway не возвращается.
func TestPrometheusCollector_PushError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := Config{
		Enabled:        true,
		PushgatewayURL: server.URL,
		JobName:        "alert-relay",
		Timeout:        10 * time.Second,
	}

	collector, err := NewPrometheusCollector(config, logging.NewNopLogger())
	require.NoError(t, err)

	assert.NoError(t, collector.Push(context.Background()), "Push должен возвращать nil даже при ошибке")
}

// TestPrometheusCollector_PushWithoutGateway проверяет, что без URL push пропускается.
func TestPrometheusCollector_PushWithoutGateway(t *testing.T) {
	collector, err := NewPrometheusCollector(scrapeConfig(), logging.NewNopLogger())
	require.NoError(t, err)
	assert.NoError(t, collector.Push(context.Background()))
}

// TestNewCollector_Disabled проверяет NopCollector при отключённых метриках.
func TestNewCollector_Disabled(t *testing.T) {
	collector, err := NewCollector(Config{Enabled: false}, logging.NewNopLogger())
	require.NoError(t, err)

	_, isNop := collector.(*NopCollector)
	assert.True(t, isNop, "при disabled должен быть NopCollector")

	collector.RecordIngest(IngestInvalid)
	collector.RecordDelivery("slack", time.Second, true)
	collector.SetSpoolDepth(1)
	collector.SetBackoff(time.Second)
	collector.RecordPersist(false)
	assert.NoError(t, collector.Push(context.Background()))

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestPrometheusCollector_InstanceLabel проверяет выбор instance label.
func TestPrometheusCollector_InstanceLabel(t *testing.T) {
	t.Run("custom instance label", func(t *testing.T) {
		config := scrapeConfig()
		config.InstanceLabel = "relay-01"
		collector, err := NewPrometheusCollector(config, logging.NewNopLogger())
		require.NoError(t, err)
		assert.Equal(t, "relay-01", collector.instance)
	})

	t.Run("hostname by default", func(t *testing.T) {
		collector, err := NewPrometheusCollector(scrapeConfig(), logging.NewNopLogger())
		require.NoError(t, err)
		assert.NotEmpty(t, collector.instance)
	})
}

// TestConfig_Validate проверяет валидацию конфигурации метрик.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "disabled", mutate: func(c *Config) { *c = Config{} }},
		{name: "scrape only", mutate: func(c *Config) {}},
		{name: "no output", mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: ErrNoOutput},
		{name: "bad pushgateway url", mutate: func(c *Config) { c.PushgatewayURL = "pushgateway:9091" }, wantErr: ErrPushgatewayURLInvalid},
		{name: "no job", mutate: func(c *Config) { c.JobName = "" }, wantErr: ErrJobNameRequired},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantErr: ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := scrapeConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// TestSanitizeLabel проверяет очистку значений label.
func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "a_b", sanitizeLabel("a\nb"))
	long := strings.Repeat("я", maxLabelLength+10)
	assert.Equal(t, maxLabelLength, len([]rune(sanitizeLabel(long))))
}
