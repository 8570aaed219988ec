// Package listener принимает сообщения от локальных клиентов через UNIX-сокет
// и передаёт их в канал доставки.
//
// Протокол: одно соединение несёт один JSON-документ, читаемый до EOF.
// Ответа клиент не получает; некорректные документы логируются и отбрасываются.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/metrics"
	"github.com/Kargones/alert-relay/internal/pkg/tracing"
)

// TracerName — имя OTel tracer для приёма сообщений.
const TracerName = "github.com/Kargones/alert-relay/internal/listener"

// DefaultReadTimeout — срок чтения одного документа из соединения.
const DefaultReadTimeout = 10 * time.Second

// Listener — этап приёма сообщений.
type Listener struct {
	path        string
	out         chan<- message.Message
	logger      logging.Logger
	metrics     metrics.Collector
	tracer      trace.Tracer
	now         func() time.Time
	readTimeout time.Duration
	maxSize     int64

	mu       sync.Mutex
	listener *net.UnixListener
	closed   bool

	wg sync.WaitGroup
}

// Option настраивает Listener.
type Option func(*Listener)

// WithReadTimeout задаёт срок чтения документа.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

// WithMaxSize задаёт предельный размер документа в байтах.
func WithMaxSize(n int64) Option {
	return func(l *Listener) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// WithClock задаёт источник времени для нормализации сообщений.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMetrics задаёт коллектор метрик.
func WithMetrics(c metrics.Collector) Option {
	return func(l *Listener) {
		if c != nil {
			l.metrics = c
		}
	}
}

// WithTracer задаёт tracer для span-ов приёма.
func WithTracer(t trace.Tracer) Option {
	return func(l *Listener) {
		if t != nil {
			l.tracer = t
		}
	}
}

// New создаёт Listener. Сокет открывается вызовом Bind.
func New(path string, out chan<- message.Message, logger logging.Logger, opts ...Option) *Listener {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	l := &Listener{
		path:        path,
		out:         out,
		logger:      logger.With("component", "listener"),
		metrics:     metrics.NewNopCollector(),
		tracer:      otel.Tracer(TracerName),
		now:         time.Now,
		readTimeout: DefaultReadTimeout,
		maxSize:     constants.MaxMessageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path возвращает путь сокета.
func (l *Listener) Path() string { return l.path }

// Bind удаляет оставшийся от прошлого запуска файл сокета, открывает сокет
// и открывает его на запись всем локальным пользователям.
func (l *Listener) Bind() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewAppError(apperrors.ErrListenerBind,
			fmt.Sprintf("не удалось удалить старый сокет %s", l.path), err)
	}

	addr, err := net.ResolveUnixAddr("unix", l.path)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrListenerBind,
			fmt.Sprintf("некорректный путь сокета %s", l.path), err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrListenerBind,
			fmt.Sprintf("не удалось открыть сокет %s", l.path), err)
	}
	// Удаление файла выполняет Close, а не net.
	ln.SetUnlinkOnClose(false)

	if err := os.Chmod(l.path, constants.SocketPermShared); err != nil {
		_ = ln.Close()
		_ = os.Remove(l.path)
		return apperrors.NewAppError(apperrors.ErrListenerBind,
			fmt.Sprintf("не удалось изменить права сокета %s", l.path), err)
	}

	l.listener = ln
	l.logger.Info("сокет открыт", "path", l.path)
	return nil
}

// Run принимает соединения до отмены ctx. При выходе сокет закрывается,
// его файл удаляется, а Run дожидается обработки принятых соединений.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return apperrors.NewAppError(apperrors.ErrListenerBind, "сокет не открыт", nil)
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer l.wg.Wait()

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if l.isClosed() {
				l.logger.Debug("приём сообщений остановлен")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				l.logger.Warn("временная ошибка приёма соединения", "error", err)
				continue
			}
			_ = l.Close()
			return fmt.Errorf("listener: приём соединения: %w", err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, conn)
		}()
	}
}

// Close закрывает сокет и удаляет его файл. Повторный вызов ничего не делает.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.listener == nil {
		l.closed = true
		return nil
	}
	l.closed = true

	err := l.listener.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// handle читает один документ из соединения и передаёт его дальше.
func (l *Listener) handle(ctx context.Context, conn *net.UnixConn) {
	defer func() { _ = conn.Close() }()

	traceID := tracing.GenerateTraceID()
	ctx = tracing.ContextWithOTelTraceID(ctx, traceID)
	logger := l.logger.With("trace_id", traceID)

	ctx, span := l.tracer.Start(ctx, "listener.ingest", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	data, err := l.read(conn)
	if err != nil {
		logger.Warn("не удалось прочитать сообщение", "error", err)
		span.SetAttributes(attribute.String("ingest.status", metrics.IngestInvalid))
		l.metrics.RecordIngest(metrics.IngestInvalid)
		return
	}

	msg, err := message.Decode(data)
	if err != nil {
		logger.Warn("некорректное сообщение отброшено", "error", err, "bytes", len(data))
		span.SetAttributes(attribute.String("ingest.status", metrics.IngestInvalid))
		l.metrics.RecordIngest(metrics.IngestInvalid)
		return
	}
	msg = msg.Normalize(l.now())
	span.SetAttributes(
		attribute.String("message.level", msg.Level.String()),
		attribute.String("message.channel", msg.Channel),
	)

	select {
	case l.out <- msg:
		logger.Debug("сообщение принято", "message", msg.Summary())
		span.SetAttributes(attribute.String("ingest.status", metrics.IngestAccepted))
		l.metrics.RecordIngest(metrics.IngestAccepted)
	case <-ctx.Done():
		// Сообщение ещё не в очереди, сохранять нечего.
		logger.Warn("остановка: сообщение не принято", "message", msg.Summary())
		span.SetAttributes(attribute.String("ingest.status", metrics.IngestDropped))
		l.metrics.RecordIngest(metrics.IngestDropped)
	}
}

// read читает соединение до EOF с ограничением размера и срока.
func (l *Listener) read(conn *net.UnixConn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
		return nil, fmt.Errorf("установка срока чтения: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(conn, l.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("сообщение больше %d байт", l.maxSize)
	}
	return data, nil
}
