// Package webhook доставляет сообщения HTTP POST-запросом с JSON на произвольные URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/urlutil"
)

// Name — имя бэкенда в конфигурации и метриках.
const Name = "webhook"

const maxResponseBodySize = 1024

// Payload — тело запроса.
type Payload struct {
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Level     string            `json:"level"`
	Link      string            `json:"link,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Source    string            `json:"source"`
	Hostname  string            `json:"hostname,omitempty"`
}

// StatusError — получатель ответил не 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Sink отправляет сообщения на все настроенные URL.
type Sink struct {
	config     Config
	logger     logging.Logger
	httpClient delivery.HTTPClient
	hostname   string
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

// NewPayload строит тело запроса для сообщения.
func NewPayload(msg message.Message, hostname string) Payload {
	return Payload{
		Title:     msg.Title,
		Text:      msg.Text,
		Level:     msg.Level.String(),
		Link:      msg.Link,
		Channel:   msg.Channel,
		Fields:    msg.Fields,
		Timestamp: msg.Timestamp,
		Version:   msg.Version,
		Source:    constants.DaemonName,
		Hostname:  hostname,
	}
}

// Attempt отправляет сообщение на каждый URL. Сообщение доставлено, только
// если все URL ответили 2xx; при повторе его получат и те, кто уже принял.
func (s *Sink) Attempt(ctx context.Context, msg message.Message) error {
	body, err := json.Marshal(NewPayload(msg, s.hostname))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var errs []error
	for _, url := range s.config.URLs {
		if err := s.post(ctx, url, body); err != nil {
			s.logger.Debug("webhook не принял сообщение",
				"url", urlutil.MaskURL(url),
				"error", err.Error(),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Ошибка net/http содержит URL целиком, вместе с токеном в query.
		return fmt.Errorf("HTTP request to %s failed: %s", urlutil.MaskURL(url), urlutil.Redact(err.Error(), url))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		return fmt.Errorf("%s: %w", urlutil.MaskURL(url), &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
