package delivery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/metrics"
)

// TracerName — имя OTel tracer для попыток доставки.
const TracerName = "github.com/Kargones/alert-relay/internal/delivery"

// Worker — этап доставки. Он единственный читатель канала доставки:
// и свежие сообщения от listener, и повторы из очереди проходят через него.
type Worker struct {
	sink       Sink
	backend    string
	deliveries <-chan message.Message
	outcomes   chan<- Outcome
	logger     logging.Logger
	metrics    metrics.Collector
	tracer     trace.Tracer
	now        func() time.Time

	// unreported — недоставленные сообщения, исход которых не удалось передать.
	unreported []message.Message
}

// NewWorker создаёт Worker. Имя бэкенда для логов и метрик берётся из Named.
// nil tracer означает глобальный otel provider.
func NewWorker(sink Sink, deliveries <-chan message.Message, outcomes chan<- Outcome, logger logging.Logger, collector metrics.Collector, tracer trace.Tracer) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if collector == nil {
		collector = metrics.NewNopCollector()
	}
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	backend := "sink"
	if n, ok := sink.(Named); ok {
		backend = n.Name()
	}
	return &Worker{
		sink:       sink,
		backend:    backend,
		deliveries: deliveries,
		outcomes:   outcomes,
		logger:     logger.With("component", "delivery", "backend", backend),
		metrics:    collector,
		tracer:     tracer,
		now:        time.Now,
	}
}

// Run обрабатывает сообщения до отмены ctx или закрытия канала доставки.
// После отмены новые сообщения не берутся; попытка, начатая до отмены,
// завершается сама (её контекст не отменяется), а её исход передаётся
// в канал исходов, если в буфере есть место.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("доставка остановлена")
			return nil
		case msg, ok := <-w.deliveries:
			if !ok {
				w.logger.Debug("канал доставки закрыт")
				return nil
			}
			outcome := w.attempt(ctx, msg)
			if !w.report(ctx, outcome) {
				return nil
			}
		}
	}
}

// attempt выполняет одну попытку в отдельном span-е.
func (w *Worker) attempt(ctx context.Context, msg message.Message) Outcome {
	attemptCtx := context.WithoutCancel(ctx)
	attemptCtx, span := w.tracer.Start(attemptCtx, "delivery.attempt",
		trace.WithAttributes(
			attribute.String("backend", w.backend),
			attribute.String("level", msg.Level.String()),
			attribute.String("channel", msg.Channel),
		),
	)
	defer span.End()

	started := w.now()
	err := w.sink.Attempt(attemptCtx, msg)
	elapsed := w.now().Sub(started)
	w.metrics.RecordDelivery(w.backend, elapsed, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		w.logger.Warn("сообщение не доставлено, будет повторено",
			"message", msg.Summary(),
			"error", err.Error(),
			"duration_ms", elapsed.Milliseconds(),
		)
		return Failed(msg)
	}

	span.SetStatus(codes.Ok, "")
	w.logger.Info("сообщение доставлено",
		"message", msg.Summary(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return Delivered()
}

// report передаёт исход диспетчеру. false означает, что этап должен завершиться.
func (w *Worker) report(ctx context.Context, outcome Outcome) bool {
	// Сначала без блокировки: при остановке исход должен попасть в буфер,
	// откуда его заберёт финальный сброс очереди.
	select {
	case w.outcomes <- outcome:
		return true
	default:
	}

	select {
	case w.outcomes <- outcome:
		return true
	case <-ctx.Done():
		if msg, failed := outcome.Message(); failed {
			w.logger.Warn("исход доставки не передан диспетчеру при остановке",
				"message", msg.Summary(),
			)
			w.unreported = append(w.unreported, msg)
		}
		return false
	}
}

// Unreported возвращает недоставленные сообщения, исход которых не был передан
// диспетчеру. Вызывать только после возврата из Run.
func (w *Worker) Unreported() []message.Message {
	out := make([]message.Message, len(w.unreported))
	copy(out, w.unreported)
	return out
}
