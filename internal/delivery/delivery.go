// Package delivery связывает очередь доставки с чат-бэкендами.
//
// Бэкенд реализует Sink: одна попытка отправки одного сообщения.
// Worker читает канал доставки, выполняет попытки по одной и сообщает
// результат диспетчеру очереди через канал исходов.
package delivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/Kargones/alert-relay/internal/pkg/message"
)

// Sink — возможность доставить одно сообщение в чат-бэкенд.
//
// Attempt не должен изменять msg: при ошибке то же значение возвращается в очередь.
// Ненулевая ошибка означает, что сообщение не доставлено и будет повторено.
type Sink interface {
	Attempt(ctx context.Context, msg message.Message) error
}

// SinkFunc адаптирует функцию к Sink.
type SinkFunc func(ctx context.Context, msg message.Message) error

// Attempt вызывает f.
func (f SinkFunc) Attempt(ctx context.Context, msg message.Message) error { return f(ctx, msg) }

// Named — Sink с именем бэкенда для логов, метрик и правил маршрутизации.
type Named interface {
	Sink
	Name() string
}

// Starter реализуют бэкенды, которым нужен handshake до начала доставки
// (например, вход в Matrix). Ошибка Start фатальна для запуска демона.
type Starter interface {
	Start(ctx context.Context) error
}

// HTTPClient — минимальный HTTP-клиент бэкендов; в тестах подменяется mock-ом.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrNoBackends возвращается MultiSink без бэкендов.
var ErrNoBackends = errors.New("delivery: не настроен ни один бэкенд")

// Outcome — результат попытки доставки, который получает диспетчер.
// Нулевое значение означает успех.
type Outcome struct {
	failed *message.Message
}

// Delivered возвращает исход успешной доставки.
func Delivered() Outcome { return Outcome{} }

// Failed возвращает исход неудачной доставки с исходным сообщением.
func Failed(msg message.Message) Outcome { return Outcome{failed: &msg} }

// Success сообщает, доставлено ли сообщение.
func (o Outcome) Success() bool { return o.failed == nil }

// Message возвращает недоставленное сообщение; false для успешного исхода.
func (o Outcome) Message() (message.Message, bool) {
	if o.failed == nil {
		return message.Message{}, false
	}
	return *o.failed, true
}
