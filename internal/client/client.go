// Package client собирает сообщение из аргументов командной строки
// и передаёт его демону через UNIX-сокет.
package client

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
)

// DefaultSendTimeout ограничивает подключение и запись, если у ctx нет своего срока.
const DefaultSendTimeout = 5 * time.Second

// Request — аргументы команды alert.
type Request struct {
	Title   string
	Text    string
	Level   string
	Link    string
	Channel string
	// Fields — элементы вида "key:value".
	Fields []string
}

// Compose строит сообщение из Request. Некорректный уровень даёт ошибку
// с кодом INPUT.INVALID_ARGUMENT, элементы Fields без ':' пропускаются с предупреждением.
func Compose(req Request, now time.Time, logger logging.Logger) (message.Message, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	levelArg := req.Level
	if strings.TrimSpace(levelArg) == "" {
		levelArg = string(message.LevelUnknown)
	}
	level, err := message.ParseLevel(levelArg)
	if err != nil {
		return message.Message{}, apperrors.NewAppError(apperrors.ErrInputInvalid,
			fmt.Sprintf("некорректный уровень %q: допустимы OK, WARN, ERROR, UNKNOWN", req.Level), err)
	}

	msg := message.Message{
		Title:     req.Title,
		Text:      req.Text,
		Level:     level,
		Link:      req.Link,
		Channel:   req.Channel,
		Fields:    ParseFields(req.Fields, logger),
		Timestamp: now.UTC(),
		Version:   constants.VersionString(constants.ClientName),
	}
	return msg.Normalize(now), nil
}

// ParseFields разбирает элементы "key:value". Значение может содержать ':'.
// Возвращает nil, если корректных элементов нет.
func ParseFields(items []string, logger logging.Logger) map[string]string {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var fields map[string]string
	for _, item := range items {
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			logger.Warn("поле пропущено: нет ':'", "field", item)
			continue
		}
		if fields == nil {
			fields = make(map[string]string)
		}
		fields[key] = value
	}
	return fields
}

// Send передаёт сообщение демону: одно соединение, один JSON-документ,
// после записи закрывается сторона записи.
func Send(ctx context.Context, socketPath string, msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrClientSend, "не удалось сериализовать сообщение", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSendTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrClientSend,
			fmt.Sprintf("не удалось подключиться к %s", socketPath), err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return apperrors.NewAppError(apperrors.ErrClientSend, "не удалось установить срок записи", err)
		}
	}
	if _, err := conn.Write(data); err != nil {
		return apperrors.NewAppError(apperrors.ErrClientSend, "не удалось передать сообщение демону", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return apperrors.NewAppError(apperrors.ErrClientSend, "не удалось завершить передачу", err)
		}
	}
	return nil
}
