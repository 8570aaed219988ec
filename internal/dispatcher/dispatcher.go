// Package dispatcher повторяет доставку сообщений из очереди.
//
// Dispatcher — единственный владелец spool.Store и backoff.Controller.
// По таймеру он извлекает самое старое сообщение и передаёт его в канал доставки,
// а по исходам доставки возвращает неудачные сообщения в начало очереди
// и управляет интервалом повтора.
package dispatcher

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/pkg/backoff"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/metrics"
	"github.com/Kargones/alert-relay/internal/spool"
)

// DefaultIdleInterval — интервал таймера при пустой очереди.
const DefaultIdleInterval = 24 * time.Hour

// Dispatcher — этап повторной доставки.
type Dispatcher struct {
	store      *spool.Store
	backoff    *backoff.Controller
	deliveries chan<- message.Message
	outcomes   <-chan delivery.Outcome
	clock      clock.Clock
	idle       time.Duration
	logger     logging.Logger
	metrics    metrics.Collector
	loaded     bool
}

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithClock подменяет источник времени (clock.NewMock() в тестах).
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithIdleInterval задаёт интервал таймера при пустой очереди.
func WithIdleInterval(idle time.Duration) Option {
	return func(d *Dispatcher) {
		if idle > 0 {
			d.idle = idle
		}
	}
}

// WithMetrics задаёт сборщик метрик.
func WithMetrics(c metrics.Collector) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.metrics = c
		}
	}
}

// New создаёт Dispatcher. deliveries — общий канал доставки (его же пишет listener),
// outcomes — исходы попыток от delivery.Worker.
func New(store *spool.Store, bo *backoff.Controller, deliveries chan<- message.Message, outcomes <-chan delivery.Outcome, logger logging.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	d := &Dispatcher{
		store:      store,
		backoff:    bo,
		deliveries: deliveries,
		outcomes:   outcomes,
		clock:      clock.New(),
		idle:       DefaultIdleInterval,
		logger:     logger.With("component", "dispatcher"),
		metrics:    metrics.NewNopCollector(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load загружает очередь с диска. Повторный вызов ничего не делает.
// Ошибка имеет код SPOOL.LOAD_FAILED и фатальна для запуска.
func (d *Dispatcher) Load() error {
	if d.loaded {
		return nil
	}
	if err := d.store.Load(); err != nil {
		return err
	}
	d.loaded = true
	d.publish()
	return nil
}

// Run выполняет цикл диспетчера до отмены ctx или закрытия канала исходов.
// Если очередь ещё не загружена, Run загружает её сам.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Load(); err != nil {
		return err
	}

	var (
		timer *clock.Timer
		armed time.Duration
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		// Таймер перевзводится только при смене интервала: поток исходов
		// свежих сообщений не откладывает очередной повтор.
		if want := d.interval(); timer == nil || want != armed {
			if timer != nil {
				timer.Stop()
			}
			d.logger.Debug("таймер повтора", "interval", want.String(), "queued", d.store.Len())
			timer = d.clock.Timer(want)
			armed = want
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("диспетчер остановлен")
			return nil

		case o, ok := <-d.outcomes:
			if !ok {
				d.logger.Debug("канал исходов закрыт, диспетчер остановлен")
				return nil
			}
			d.handleOutcome(o)

		case <-timer.C:
			timer = nil
			if !d.tick(ctx) {
				return nil
			}
		}
	}
}

// interval возвращает интервал следующего срабатывания таймера.
func (d *Dispatcher) interval() time.Duration {
	if d.store.IsEmpty() {
		return d.idle
	}
	return d.backoff.Current()
}

// tick извлекает голову очереди и передаёт её на доставку.
// false означает, что диспетчер должен завершиться.
func (d *Dispatcher) tick(ctx context.Context) bool {
	msg, ok := d.store.PopFront()
	if !ok {
		return true
	}
	d.logger.Info("повтор доставки сообщения из очереди",
		"message", msg.Summary(),
		"queued", d.store.Len(),
		"attempt", d.backoff.Attempts()+1,
	)
	// Снимок отражает извлечение независимо от результата передачи.
	d.persist()

	for {
		select {
		case d.deliveries <- msg:
			return true

		case o, ok := <-d.outcomes:
			// Worker может ждать передачи исхода, пока диспетчер ждёт передачи сообщения.
			if !ok {
				d.requeue(msg)
				return false
			}
			d.handleOutcome(o)

		case <-ctx.Done():
			d.requeue(msg)
			return false
		}
	}
}

// requeue возвращает сообщение, которое не удалось передать на доставку.
func (d *Dispatcher) requeue(msg message.Message) {
	d.logger.Warn("сообщение не передано на доставку, возвращено в очередь",
		"message", msg.Summary(),
	)
	d.store.EnqueueFront(msg)
	d.persist()
}

// handleOutcome применяет исход попытки доставки. Неудачные сообщения
// (и повторы, и свежие) возвращаются в начало очереди.
func (d *Dispatcher) handleOutcome(o delivery.Outcome) {
	msg, failed := o.Message()
	if !failed {
		if d.backoff.Attempts() > 0 {
			d.logger.Info("доставка восстановлена, интервал повтора сброшен",
				"failed_attempts", d.backoff.Attempts(),
			)
		}
		d.backoff.Reset()
		d.publish()
		return
	}

	d.store.EnqueueFront(msg)
	d.persist()
	d.backoff.Grow()
	d.publish()
	d.logger.Warn("доставка не удалась, сообщение в очереди",
		"message", msg.Summary(),
		"queued", d.store.Len(),
		"retry_in", d.backoff.Current().String(),
	)
}

// Drain переносит в очередь всё, что осталось в каналах после остановки этапов,
// и сохраняет снимок. Вызывается один раз, после завершения всех этапов.
// unreported — недоставленные сообщения, исход которых не дошёл до диспетчера.
//
// Неудачные исходы вставляются в голову в порядке получения, как в Run:
// более поздний отказ оказывается перед более ранним. Исходы из канала
// получены раньше, чем unreported.
func (d *Dispatcher) Drain(deliveries <-chan message.Message, unreported []message.Message) error {
	retried := 0

drainOutcomes:
	for {
		select {
		case o, ok := <-d.outcomes:
			if !ok {
				break drainOutcomes
			}
			if msg, failed := o.Message(); failed {
				d.store.EnqueueFront(msg)
				retried++
			}
		default:
			break drainOutcomes
		}
	}

	for _, msg := range unreported {
		d.store.EnqueueFront(msg)
		retried++
	}

	tail := 0
drainDeliveries:
	for {
		select {
		case msg, ok := <-deliveries:
			if !ok {
				break drainDeliveries
			}
			d.store.Enqueue(msg)
			tail++
		default:
			break drainDeliveries
		}
	}

	if retried > 0 || tail > 0 {
		d.logger.Info("сообщения из каналов перенесены в очередь",
			"retried", retried,
			"pending", tail,
		)
	}
	if !d.store.Dirty() {
		return nil
	}
	return d.persist()
}

func (d *Dispatcher) persist() error {
	err := d.store.Persist()
	d.metrics.RecordPersist(err == nil)
	d.publish()
	return err
}

func (d *Dispatcher) publish() {
	d.metrics.SetSpoolDepth(d.store.Len())
	d.metrics.SetBackoff(d.backoff.Current())
}
