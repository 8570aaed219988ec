package metrics

import (
	"net/url"
	"time"
)

// Config содержит настройки сбора метрик.
type Config struct {
	// Enabled — включены ли метрики (по умолчанию false).
	Enabled bool `yaml:"enabled" env:"AR_METRICS_ENABLED"`

	// ListenAddr — адрес scrape endpoint, например ":9464". Пусто — endpoint не поднимается.
	ListenAddr string `yaml:"listenAddr" env:"AR_METRICS_LISTEN_ADDR"`

	// PushgatewayURL — URL Prometheus Pushgateway для отправки при остановке.
	// Пример: "http://pushgateway:9091"
	PushgatewayURL string `yaml:"pushgatewayUrl" env:"AR_METRICS_PUSHGATEWAY_URL"`

	// JobName — имя job для группировки метрик.
	// По умолчанию: "alert-relay"
	JobName string `yaml:"jobName" env:"AR_METRICS_JOB_NAME"`

	// Timeout — таймаут HTTP запросов к Pushgateway.
	Timeout time.Duration `yaml:"timeout" env:"AR_METRICS_TIMEOUT"`

	// InstanceLabel — переопределение instance label.
	// Если пусто — используется hostname.
	InstanceLabel string `yaml:"instanceLabel" env:"AR_METRICS_INSTANCE"`
}

// Validate проверяет корректность конфигурации.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // отключённые метрики валидны
	}

	if c.ListenAddr == "" && c.PushgatewayURL == "" {
		return ErrNoOutput
	}

	if c.PushgatewayURL != "" {
		u, err := url.Parse(c.PushgatewayURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrPushgatewayURLInvalid
		}
	}

	if c.JobName == "" {
		return ErrJobNameRequired
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		JobName: "alert-relay",
		Timeout: 10 * time.Second,
	}
}
