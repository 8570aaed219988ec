package slack

import (
	"errors"
	"net/url"
	"time"
)

// DefaultTimeout — таймаут HTTP запроса к webhook по умолчанию.
const DefaultTimeout = 10 * time.Second

var (
	// ErrWebhookRequired — не указан URL webhook.
	ErrWebhookRequired = errors.New("slack: webhook URL обязателен")

	// ErrWebhookInvalid — URL webhook не является http(s) URL с host.
	ErrWebhookInvalid = errors.New("slack: webhook URL должен быть http(s) URL с host")
)

// Config содержит настройки Slack incoming webhook.
type Config struct {
	// Webhook — URL incoming webhook.
	Webhook string `yaml:"webhook" env:"AR_SLACK_WEBHOOK"`

	// Timeout — таймаут HTTP запроса.
	Timeout time.Duration `yaml:"timeout" env:"AR_SLACK_TIMEOUT" env-default:"10s"`
}

// Validate проверяет корректность Config.
func (c *Config) Validate() error {
	if c.Webhook == "" {
		return ErrWebhookRequired
	}
	u, err := url.Parse(c.Webhook)
	if err != nil || u.Host == "" {
		return ErrWebhookInvalid
	}
	// Только http и https: защита от SSRF через file:// и т.п.
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrWebhookInvalid
	}
	return nil
}
