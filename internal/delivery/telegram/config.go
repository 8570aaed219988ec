package telegram

import (
	"errors"
	"time"
)

// DefaultTimeout — таймаут Telegram API по умолчанию.
const DefaultTimeout = 10 * time.Second

var (
	// ErrBotTokenRequired — не указан токен бота.
	ErrBotTokenRequired = errors.New("telegram: bot token обязателен")

	// ErrChatIDRequired — не указан чат по умолчанию.
	ErrChatIDRequired = errors.New("telegram: chat id обязателен")

	// ErrChatIDInvalid — chat id не является числом или @username.
	ErrChatIDInvalid = errors.New("telegram: chat id должен быть числом или @username")
)

// Config содержит настройки Telegram бэкенда.
type Config struct {
	// BotToken — токен бота (получить у @BotFather).
	BotToken string `yaml:"botToken" env:"AR_TELEGRAM_BOT_TOKEN"`

	// ChatID — чат по умолчанию.
	ChatID string `yaml:"chatId" env:"AR_TELEGRAM_CHAT_ID"`

	// Timeout — таймаут HTTP запросов.
	Timeout time.Duration `yaml:"timeout" env:"AR_TELEGRAM_TIMEOUT" env-default:"10s"`

	// APIBaseURL — переопределение адреса Bot API (для тестов и прокси).
	APIBaseURL string `yaml:"apiBaseUrl" env:"AR_TELEGRAM_API_BASE_URL"`
}

// Validate проверяет корректность Config.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return ErrBotTokenRequired
	}
	if c.ChatID == "" {
		return ErrChatIDRequired
	}
	if !IsChatID(c.ChatID) {
		return ErrChatIDInvalid
	}
	return nil
}

// IsChatID проверяет формат идентификатора чата: "@username" или целое число.
func IsChatID(chatID string) bool {
	if chatID == "" {
		return false
	}
	if chatID[0] == '@' {
		return len(chatID) > 1
	}
	start := 0
	if chatID[0] == '-' {
		if len(chatID) == 1 {
			return false
		}
		start = 1
	}
	for _, ch := range chatID[start:] {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
