// Package config загружает конфигурацию демона alert-relay и клиента alert.
//
// Источники применяются по порядку: значения по умолчанию, YAML-файл,
// переменные окружения AR_*. Секции подсистем используют их собственные
// типы конфигурации, теги yaml/env описаны рядом с ними.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/delivery/matrix"
	"github.com/Kargones/alert-relay/internal/delivery/slack"
	"github.com/Kargones/alert-relay/internal/delivery/telegram"
	"github.com/Kargones/alert-relay/internal/delivery/webhook"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/metrics"
	"github.com/Kargones/alert-relay/internal/pkg/tracing"
	"github.com/Kargones/alert-relay/internal/systemd"
)

// Псевдонимы типов конфигурации подсистем: пакеты di и daemon работают
// с config.X и не импортируют каждую подсистему ради её типа.
type (
	LoggingConfig  = logging.Config
	MetricsConfig  = metrics.Config
	TracingConfig  = tracing.Config
	SlackConfig    = slack.Config
	MatrixConfig   = matrix.Config
	TelegramConfig = telegram.Config
	WebhookConfig  = webhook.Config
	SystemdConfig  = systemd.Config
	BreakerConfig  = delivery.BreakerConfig
	RulesConfig    = delivery.RulesConfig
)

// Backends — поддерживаемые бэкенды доставки.
var Backends = []string{slack.Name, matrix.Name, telegram.Name, webhook.Name}

// Ошибки проверки конфигурации.
var (
	ErrSocketPathRequired = errors.New("config: socketPath обязателен")
	ErrSpoolPathRequired  = errors.New("config: spoolPath обязателен")
	ErrNoBackends         = errors.New("config: не выбран ни один бэкенд в backends")
	ErrUnknownBackend     = errors.New("config: неизвестный бэкенд")
	ErrDuplicateBackend   = errors.New("config: бэкенд указан дважды")
	ErrQueueSizeInvalid   = errors.New("config: delivery.queueSize должен быть положительным")
	ErrIntervalInvalid    = errors.New("config: интервалы delivery должны быть положительными")
)

// DeliveryConfig — настройки канала доставки и повторов.
type DeliveryConfig struct {
	// QueueSize — ёмкость канала доставки.
	QueueSize int `yaml:"queueSize" env:"AR_DELIVERY_QUEUE_SIZE"`

	// IdleInterval — интервал проверки пустой очереди.
	IdleInterval time.Duration `yaml:"idleInterval" env:"AR_DELIVERY_IDLE_INTERVAL"`

	// BackoffUnit — начальный интервал повтора.
	BackoffUnit time.Duration `yaml:"backoffUnit" env:"AR_DELIVERY_BACKOFF_UNIT"`

	// BackoffMax — предел интервала повтора; 0 — без предела.
	BackoffMax time.Duration `yaml:"backoffMax" env:"AR_DELIVERY_BACKOFF_MAX"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// Config — конфигурация демона.
type Config struct {
	// SocketPath — UNIX-сокет приёма сообщений. Клиент alert читает только это поле.
	SocketPath string `yaml:"socketPath" env:"AR_SOCKET_PATH"`

	// SpoolPath — файл очереди недоставленных сообщений.
	SpoolPath string `yaml:"spoolPath" env:"AR_SPOOL_PATH"`

	// Backends — включённые бэкенды, например [slack, matrix].
	Backends []string `yaml:"backends" env:"AR_BACKENDS" env-separator:","`

	Slack    SlackConfig    `yaml:"slack"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`

	// Rules — минимальный уровень сообщений для каждого бэкенда.
	Rules RulesConfig `yaml:"rules"`

	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Systemd  SystemdConfig  `yaml:"systemd"`
}

// Default возвращает конфигурацию по умолчанию. Бэкенды не выбраны.
func Default() *Config {
	return &Config{
		SocketPath: constants.DefaultSocketPath,
		SpoolPath:  constants.DefaultSpoolPath,
		Slack:      SlackConfig{Timeout: slack.DefaultTimeout},
		Matrix:     MatrixConfig{Timeout: matrix.DefaultTimeout},
		Telegram:   TelegramConfig{Timeout: telegram.DefaultTimeout},
		Webhook:    WebhookConfig{Timeout: webhook.DefaultTimeout},
		Delivery: DeliveryConfig{
			QueueSize:    constants.DefaultQueueSize,
			IdleInterval: 24 * time.Hour,
			BackoffUnit:  time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Logging: logging.DefaultConfig(),
		Metrics: metrics.DefaultConfig(),
		Tracing: tracing.DefaultConfig(),
		Systemd: SystemdConfig{Enabled: true},
	}
}

// Load читает конфигурацию из path, применяет переменные окружения AR_*
// и проверяет результат. Ошибки имеют коды CONFIG.*.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrConfigLoad,
			fmt.Sprintf("не удалось прочитать конфигурацию %s", path), err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrConfigValidate, "некорректная конфигурация", err)
	}
	return cfg, nil
}

// Parse разбирает YAML поверх значений по умолчанию и применяет переменные
// окружения. Неизвестные ключи считаются ошибкой. Проверка не выполняется.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.NewAppError(apperrors.ErrConfigParse, "некорректный YAML конфигурации", err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrConfigParse,
			"некорректные переменные окружения AR_*", err)
	}

	cfg.Tracing.Version = constants.Version
	return cfg, nil
}

// Validate проверяет обязательные поля и секции выбранных бэкендов.
// Секции невыбранных бэкендов не проверяются.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SocketPath) == "" {
		return ErrSocketPathRequired
	}
	if strings.TrimSpace(c.SpoolPath) == "" {
		return ErrSpoolPathRequired
	}
	if len(c.Backends) == 0 {
		return ErrNoBackends
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, name := range c.Backends {
		if !slices.Contains(Backends, name) {
			return fmt.Errorf("%w: %q (допустимы %s)", ErrUnknownBackend, name, strings.Join(Backends, ", "))
		}
		if seen[name] {
			return fmt.Errorf("%w: %q", ErrDuplicateBackend, name)
		}
		seen[name] = true
	}

	if seen[slack.Name] {
		if err := c.Slack.Validate(); err != nil {
			return err
		}
	}
	if seen[matrix.Name] {
		if err := c.Matrix.Validate(); err != nil {
			return err
		}
	}
	if seen[telegram.Name] {
		if err := c.Telegram.Validate(); err != nil {
			return err
		}
	}
	if seen[webhook.Name] {
		if err := c.Webhook.Validate(); err != nil {
			return err
		}
	}

	for backend := range c.Rules {
		if !slices.Contains(Backends, backend) {
			return fmt.Errorf("%w в rules: %q", ErrUnknownBackend, backend)
		}
	}
	if _, err := delivery.NewRules(c.Rules); err != nil {
		return err
	}

	if c.Delivery.QueueSize <= 0 {
		return ErrQueueSizeInvalid
	}
	if c.Delivery.IdleInterval <= 0 || c.Delivery.BackoffUnit <= 0 || c.Delivery.BackoffMax < 0 {
		return ErrIntervalInvalid
	}

	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// LoadSocketPath возвращает путь сокета для клиента alert. Клиенту не нужны
// секреты бэкендов, поэтому конфигурация не проверяется целиком;
// отсутствующий файл означает путь по умолчанию.
func LoadSocketPath(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return "", apperrors.NewAppError(apperrors.ErrConfigLoad,
			fmt.Sprintf("не удалось прочитать конфигурацию %s", path), err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return "", apperrors.NewAppError(apperrors.ErrConfigValidate, "socketPath пуст", ErrSocketPathRequired)
	}
	return cfg.SocketPath, nil
}
