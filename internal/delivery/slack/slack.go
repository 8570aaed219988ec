// Package slack доставляет сообщения в Slack через incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/urlutil"
)

// Name — имя бэкенда в конфигурации и метриках.
const Name = "slack"

// maxResponseBodySize — сколько байт тела ответа читается для диагностики.
const maxResponseBodySize = 1024

// Payload — тело запроса к webhook.
type Payload struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment — вложение Slack с одним алертом.
type Attachment struct {
	Color     string  `json:"color"`
	Title     string  `json:"title"`
	TitleLink string  `json:"title_link,omitempty"`
	Text      string  `json:"text"`
	Fields    []Field `json:"fields"`
	Footer    string  `json:"footer"`
	Ts        int64   `json:"ts"`
}

// Field — короткое поле вложения.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// StatusError — webhook ответил не 200.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Sink отправляет сообщения в Slack webhook.
type Sink struct {
	config     Config
	logger     logging.Logger
	httpClient delivery.HTTPClient
	hostname   string
}

// New создаёт Sink. hostname кэшируется и используется как username.
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

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Sink{
		config:     config,
		logger:     logger.With("backend", Name),
		httpClient: &http.Client{Timeout: timeout},
		hostname:   hostname,
	}, nil
}

// SetHTTPClient устанавливает кастомный HTTPClient (для тестирования).
func (s *Sink) SetHTTPClient(client delivery.HTTPClient) {
	s.httpClient = client
}

// Name возвращает имя бэкенда.
func (s *Sink) Name() string { return Name }

// NewPayload строит тело запроса для сообщения. Поля сортируются по ключу.
func NewPayload(msg message.Message, username string) Payload {
	fields := make([]Field, 0, len(msg.Fields))
	for _, f := range msg.SortedFields() {
		fields = append(fields, Field{Title: f.Key, Value: f.Value, Short: true})
	}

	return Payload{
		Channel:  msg.Channel,
		Username: username,
		Attachments: []Attachment{{
			Color:     msg.Level.Color(),
			Title:     msg.Title,
			TitleLink: msg.Link,
			Text:      msg.Text,
			Fields:    fields,
			Footer:    msg.Version,
			Ts:        msg.Timestamp.Unix(),
		}},
	}
}

// Attempt отправляет одно сообщение. Успехом считается только HTTP 200.
func (s *Sink) Attempt(ctx context.Context, msg message.Message) error {
	body, err := json.Marshal(NewPayload(msg, s.hostname))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Ошибка net/http содержит URL, а в URL webhook-а секрет.
		return fmt.Errorf("HTTP request to %s failed: %s", urlutil.MaskURL(s.config.Webhook),
			urlutil.Redact(err.Error(), s.config.Webhook))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("webhook вернул ошибку",
			"status", resp.StatusCode,
			"url", urlutil.MaskURL(s.config.Webhook),
		)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
