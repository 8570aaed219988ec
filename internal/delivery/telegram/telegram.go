// Package telegram доставляет сообщения через Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/urlutil"
)

// Name — имя бэкенда в конфигурации и метриках.
const Name = "telegram"

// APIBaseURL — базовый URL Telegram Bot API.
const APIBaseURL = "https://api.telegram.org"

// ParseMode — режим разметки сообщений.
// TODO: перейти на MarkdownV2, он требует экранирования ещё ! # - . = { } | ~
const ParseMode = "Markdown"

const maxResponseSize = 1024

// markdownReplacer экранирует символы Markdown v1. Backslash идёт первым.
var markdownReplacer = strings.NewReplacer(
	`\`, `\\`,
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	">", "\\>",
)

func escapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}

var levelEmoji = map[message.Level]string{
	message.LevelOK:      "✅",
	message.LevelWarn:    "⚠️",
	message.LevelError:   "🚨",
	message.LevelUnknown: "❔",
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Sink отправляет сообщения в Telegram.
type Sink struct {
	config     Config
	baseURL    string
	logger     logging.Logger
	httpClient delivery.HTTPClient
}

// New создаёт Sink.
func New(config Config, logger logging.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(config.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = APIBaseURL
	}

	return &Sink{
		config:     config,
		baseURL:    baseURL,
		logger:     logger.With("backend", Name),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetHTTPClient устанавливает кастомный HTTPClient (для тестирования).
func (s *Sink) SetHTTPClient(client delivery.HTTPClient) {
	s.httpClient = client
}

// Name возвращает имя бэкенда.
func (s *Sink) Name() string { return Name }

// FormatMessage форматирует сообщение в Markdown v1.
func FormatMessage(msg message.Message) string {
	var sb strings.Builder

	emoji := levelEmoji[msg.Level]
	if emoji == "" {
		emoji = levelEmoji[message.LevelUnknown]
	}
	sb.WriteString(emoji)
	sb.WriteString(" *")
	sb.WriteString(escapeMarkdown(msg.Title))
	sb.WriteString("*\n\n")
	sb.WriteString(escapeMarkdown(msg.Text))
	sb.WriteString("\n")

	for _, f := range msg.SortedFields() {
		sb.WriteString("\n*")
		sb.WriteString(escapeMarkdown(f.Key))
		sb.WriteString(":* ")
		sb.WriteString(escapeMarkdown(f.Value))
	}

	if msg.Link != "" {
		// Внутри (...) ссылки экранируется только ")".
		sb.WriteString("\n\n[")
		sb.WriteString(escapeMarkdown("открыть"))
		sb.WriteString("](")
		sb.WriteString(strings.ReplaceAll(msg.Link, ")", "%29"))
		sb.WriteString(")")
	}

	sb.WriteString("\n\n_")
	sb.WriteString(escapeMarkdown(msg.Level.String() + " · " + msg.Timestamp.UTC().Format(time.RFC3339)))
	if msg.Version != "" {
		sb.WriteString(escapeMarkdown(" · " + msg.Version))
	}
	sb.WriteString("_")

	return sb.String()
}

// Attempt отправляет сообщение в чат из msg.Channel или в чат по умолчанию.
func (s *Sink) Attempt(ctx context.Context, msg message.Message) error {
	chatID := s.config.ChatID
	if msg.Channel != "" {
		if IsChatID(msg.Channel) {
			chatID = msg.Channel
		} else {
			s.logger.Warn("канал сообщения не является chat id Telegram, используется чат по умолчанию",
				"channel", msg.Channel,
			)
		}
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  FormatMessage(msg),
		ParseMode:             ParseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %s", urlutil.Redact(err.Error(), s.config.BotToken))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Ошибка net/http содержит URL с токеном.
		return fmt.Errorf("HTTP request failed: %s", urlutil.Redact(err.Error(), s.config.BotToken))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return fmt.Errorf("failed to parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}
	return nil
}
