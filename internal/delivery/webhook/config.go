package webhook

import (
	"errors"
	"net/url"
	"time"
)

// DefaultTimeout — таймаут HTTP запросов по умолчанию.
const DefaultTimeout = 10 * time.Second

var (
	// ErrURLRequired — не указан ни один URL.
	ErrURLRequired = errors.New("webhook: нужен хотя бы один URL")

	// ErrURLInvalid — URL не является http(s) URL с host.
	ErrURLInvalid = errors.New("webhook: URL должен быть http(s) URL с host")

	// ErrHeaderInvalid — заголовок содержит управляющие символы.
	ErrHeaderInvalid = errors.New("webhook: заголовок содержит запрещённые символы")
)

// Config содержит настройки generic webhook.
type Config struct {
	// URLs — адреса, на которые отправляется каждое сообщение.
	URLs []string `yaml:"urls" env:"AR_WEBHOOK_URLS" env-separator:","`

	// Headers — дополнительные HTTP заголовки, например Authorization.
	// Задаются только в YAML.
	Headers map[string]string `yaml:"headers"`

	// Timeout — таймаут одного HTTP запроса.
	Timeout time.Duration `yaml:"timeout" env:"AR_WEBHOOK_TIMEOUT" env-default:"10s"`
}

// Validate проверяет корректность Config.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return ErrURLRequired
	}
	for _, raw := range c.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return ErrURLInvalid
		}
		// Только http и https: защита от SSRF через file:// и т.п.
		if u.Scheme != "http" && u.Scheme != "https" {
			return ErrURLInvalid
		}
	}
	// RFC 7230: HTAB допустим, прочие управляющие символы нет.
	for key, value := range c.Headers {
		if invalidHeader(key) || invalidHeader(value) {
			return ErrHeaderInvalid
		}
	}
	return nil
}

func invalidHeader(s string) bool {
	for _, r := range s {
		if r == '\t' {
			continue
		}
		if r <= 0x1f || r == 0x7f {
			return true
		}
	}
	return false
}
