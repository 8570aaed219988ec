package matrix

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout — таймаут HTTP запросов к homeserver по умолчанию.
const DefaultTimeout = 10 * time.Second

var (
	// ErrUserRequired — не указан пользователь.
	ErrUserRequired = errors.New("matrix: user обязателен")

	// ErrPasswordRequired — не указан пароль.
	ErrPasswordRequired = errors.New("matrix: password обязателен")

	// ErrHomeserverInvalid — homeserver не задан и не выводится из user, либо не является http(s) URL.
	ErrHomeserverInvalid = errors.New("matrix: homeserver должен быть http(s) URL или выводиться из user вида name:server")

	// ErrChannelInvalid — комната по умолчанию должна быть id (!id:server) или alias (#alias:server).
	ErrChannelInvalid = errors.New("matrix: channel должен начинаться с '!' или '#'")
)

// Config содержит настройки Matrix бэкенда.
type Config struct {
	// Homeserver — базовый URL client-server API, например "https://matrix.example.org".
	// Если пусто, выводится из User вида "name:server".
	Homeserver string `yaml:"homeserver" env:"AR_MATRIX_HOMESERVER"`

	// User — localpart, "@name:server" или "name:server".
	User string `yaml:"user" env:"AR_MATRIX_USER"`

	// Password — пароль для m.login.password.
	Password string `yaml:"password" env:"AR_MATRIX_PASSWORD"`

	// Channel — комната по умолчанию: "!roomid:server" или "#alias:server".
	Channel string `yaml:"channel" env:"AR_MATRIX_CHANNEL"`

	// Timeout — таймаут HTTP запросов.
	Timeout time.Duration `yaml:"timeout" env:"AR_MATRIX_TIMEOUT" env-default:"10s"`
}

// Validate проверяет корректность Config.
func (c *Config) Validate() error {
	if c.User == "" {
		return ErrUserRequired
	}
	if c.Password == "" {
		return ErrPasswordRequired
	}
	if _, err := c.homeserverURL(); err != nil {
		return err
	}
	if !isRoomRef(c.Channel) {
		return ErrChannelInvalid
	}
	return nil
}

// localpart возвращает имя пользователя без "@" и сервера.
func (c *Config) localpart() string {
	name := strings.TrimPrefix(c.User, "@")
	name, _, _ = strings.Cut(name, ":")
	return name
}

// homeserverURL возвращает базовый URL без завершающего "/".
func (c *Config) homeserverURL() (string, error) {
	raw := c.Homeserver
	if raw == "" {
		_, server, ok := strings.Cut(strings.TrimPrefix(c.User, "@"), ":")
		if !ok || server == "" {
			return "", ErrHomeserverInvalid
		}
		raw = "https://" + server
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrHomeserverInvalid
	}
	return strings.TrimRight(raw, "/"), nil
}

func isRoomRef(s string) bool {
	return len(s) > 1 && (s[0] == '!' || s[0] == '#')
}
