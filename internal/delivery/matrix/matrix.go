// Package matrix доставляет сообщения в комнаты Matrix через client-server API.
//
// Бэкенд входит по паролю при запуске демона, разрешает alias комнат через
// directory API и отправляет m.room.message с HTML телом. Шифрование не поддерживается.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/urlutil"
)

// Name — имя бэкенда в конфигурации и метриках.
const Name = "matrix"

const (
	loginPath     = "/_matrix/client/v3/login"
	directoryPath = "/_matrix/client/v3/directory/room/"
	roomsPath     = "/_matrix/client/v3/rooms/"

	maxResponseBodySize = 64 * 1024
)

// ErrUnauthorized — homeserver отклонил токен; следующая попытка выполнит вход заново.
var ErrUnauthorized = errors.New("matrix: access token отклонён")

// APIError — ошибка client-server API.
type APIError struct {
	StatusCode int
	ErrCode    string `json:"errcode"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("matrix: HTTP %d %s: %s", e.StatusCode, e.ErrCode, e.Message)
}

type loginRequest struct {
	Type       string          `json:"type"`
	Identifier loginIdentifier `json:"identifier"`
	Password   string          `json:"password"`
	DeviceID   string          `json:"device_id"`
	DeviceName string          `json:"initial_device_display_name"`
}

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

type directoryResponse struct {
	RoomID string `json:"room_id"`
}

// TextEvent — содержимое m.room.message.
type TextEvent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format"`
	FormattedBody string `json:"formatted_body"`
}

// Sink отправляет сообщения в Matrix.
type Sink struct {
	config     Config
	baseURL    string
	deviceID   string
	logger     logging.Logger
	httpClient delivery.HTTPClient
	newTxnID   func() string

	mu    sync.Mutex
	token string
	rooms map[string]string // alias → room id
}

// New создаёт Sink. Вход выполняется в Start.
func New(config Config, logger logging.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	baseURL, err := config.homeserverURL()
	if err != nil {
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
		baseURL:    baseURL,
		deviceID:   hostname,
		logger:     logger.With("backend", Name),
		httpClient: &http.Client{Timeout: timeout},
		newTxnID:   uuid.NewString,
		rooms:      make(map[string]string),
	}, nil
}

// SetHTTPClient устанавливает кастомный HTTPClient (для тестирования).
func (s *Sink) SetHTTPClient(client delivery.HTTPClient) {
	s.httpClient = client
}

// Name возвращает имя бэкенда.
func (s *Sink) Name() string { return Name }

// Start выполняет вход по паролю. Ошибка входа фатальна для запуска демона.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.login(ctx); err != nil {
		return apperrors.NewAppError(apperrors.ErrDeliveryLogin, "не удалось войти в Matrix", err)
	}
	return nil
}

// Attempt отправляет сообщение в комнату из msg.Channel или в комнату по умолчанию.
func (s *Sink) Attempt(ctx context.Context, msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		if err := s.login(ctx); err != nil {
			return err
		}
	}

	roomID, err := s.resolveRoom(ctx, s.roomFor(msg))
	if err != nil {
		return err
	}

	path := roomsPath + url.PathEscape(roomID) + "/send/m.room.message/" + url.PathEscape(s.newTxnID())
	return s.do(ctx, http.MethodPut, path, NewTextEvent(msg), nil)
}

func (s *Sink) roomFor(msg message.Message) string {
	if isRoomRef(msg.Channel) {
		return msg.Channel
	}
	if msg.Channel != "" {
		s.logger.Warn("канал сообщения не является комнатой Matrix, используется комната по умолчанию",
			"channel", msg.Channel,
		)
	}
	return s.config.Channel
}

func (s *Sink) login(ctx context.Context) error {
	req := loginRequest{
		Type:       "m.login.password",
		Identifier: loginIdentifier{Type: "m.id.user", User: s.config.localpart()},
		Password:   s.config.Password,
		DeviceID:   s.deviceID,
		DeviceName: s.deviceID,
	}

	var resp loginResponse
	if err := s.do(ctx, http.MethodPost, loginPath, req, &resp); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return errors.New("matrix: пустой access token в ответе login")
	}

	s.token = resp.AccessToken
	s.logger.Info("вход в Matrix выполнен",
		"user_id", resp.UserID,
		"device_id", resp.DeviceID,
		"homeserver", urlutil.MaskURL(s.baseURL),
	)
	return nil
}

// resolveRoom возвращает room id; alias разрешается через directory API и кэшируется.
func (s *Sink) resolveRoom(ctx context.Context, room string) (string, error) {
	if strings.HasPrefix(room, "!") {
		return room, nil
	}
	if id, ok := s.rooms[room]; ok {
		return id, nil
	}

	var resp directoryResponse
	if err := s.do(ctx, http.MethodGet, directoryPath+url.PathEscape(room), nil, &resp); err != nil {
		return "", fmt.Errorf("не удалось разрешить alias %s: %w", room, err)
	}
	if resp.RoomID == "" {
		return "", fmt.Errorf("matrix: alias %s не указывает на комнату", room)
	}
	s.rooms[room] = resp.RoomID
	return resp.RoomID, nil
}

// do выполняет JSON запрос. При 401 токен сбрасывается.
func (s *Sink) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" && path != loginPath {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %s", urlutil.Redact(err.Error(), s.config.Password))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && path != loginPath {
		s.token = ""
		s.logger.Warn("homeserver отклонил access token, при следующей попытке будет выполнен вход")
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// NewTextEvent форматирует сообщение как m.text с HTML телом.
func NewTextEvent(msg message.Message) TextEvent {
	var plain, formatted strings.Builder

	fmt.Fprintf(&plain, "[%s] %s\n%s", msg.Level, msg.Title, msg.Text)

	title := html.EscapeString(msg.Title)
	if msg.Link != "" {
		title = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(msg.Link), title)
	}
	fmt.Fprintf(&formatted, `<strong><font color="%s">[%s]</font> %s</strong><br/>%s`,
		levelHTMLColor(msg.Level), html.EscapeString(msg.Level.String()), title,
		strings.ReplaceAll(html.EscapeString(msg.Text), "\n", "<br/>"))

	if fields := msg.SortedFields(); len(fields) > 0 {
		formatted.WriteString("<ul>")
		for _, f := range fields {
			fmt.Fprintf(&plain, "\n%s: %s", f.Key, f.Value)
			fmt.Fprintf(&formatted, "<li><b>%s</b>: %s</li>", html.EscapeString(f.Key), html.EscapeString(f.Value))
		}
		formatted.WriteString("</ul>")
	}
	if msg.Version != "" {
		fmt.Fprintf(&plain, "\n-- %s", msg.Version)
		fmt.Fprintf(&formatted, "<br/><sub>%s</sub>", html.EscapeString(msg.Version))
	}

	return TextEvent{
		MsgType:       "m.text",
		Body:          plain.String(),
		Format:        "org.matrix.custom.html",
		FormattedBody: formatted.String(),
	}
}

func levelHTMLColor(l message.Level) string {
	switch l {
	case message.LevelOK:
		return "#2eb886"
	case message.LevelWarn:
		return "#daa038"
	case message.LevelError:
		return "#a30200"
	default:
		return "#808080"
	}
}
