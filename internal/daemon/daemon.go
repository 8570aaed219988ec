// Package daemon собирает этапы ретранслятора и управляет их жизненным циклом:
// запуск, работа до сигнала остановки, перенос содержимого каналов в очередь.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/Kargones/alert-relay/internal/config"
	"github.com/Kargones/alert-relay/internal/delivery"
	"github.com/Kargones/alert-relay/internal/dispatcher"
	"github.com/Kargones/alert-relay/internal/listener"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/backoff"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/metrics"
	"github.com/Kargones/alert-relay/internal/pkg/tracing"
	"github.com/Kargones/alert-relay/internal/shutdown"
	"github.com/Kargones/alert-relay/internal/spool"
	"github.com/Kargones/alert-relay/internal/systemd"
)

// Сроки этапов запуска и остановки.
const (
	StartTimeout    = 30 * time.Second
	FlushTimeout    = 10 * time.Second
	readHeaderLimit = 5 * time.Second
)

// Daemon — процесс ретранслятора.
type Daemon struct {
	cfg       *config.Config
	store     *spool.Store
	backoff   *backoff.Controller
	sink      delivery.Sink
	notifier  *systemd.Notifier
	collector metrics.Collector
	tracer    *tracing.Provider
	logger    logging.Logger
	clock     clock.Clock

	// ready вызывается после запуска всех этапов.
	ready func()
}

// Option настраивает Daemon.
type Option func(*Daemon)

// WithClock подменяет источник времени диспетчера.
func WithClock(c clock.Clock) Option {
	return func(d *Daemon) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithReadyHook задаёт функцию, вызываемую после запуска всех этапов.
func WithReadyHook(fn func()) Option {
	return func(d *Daemon) { d.ready = fn }
}

// New создаёт Daemon. Сокет, бэкенды и очередь открываются в Run.
func New(
	cfg *config.Config,
	store *spool.Store,
	bo *backoff.Controller,
	sink delivery.Sink,
	notifier *systemd.Notifier,
	collector metrics.Collector,
	tp *tracing.Provider,
	logger logging.Logger,
	opts ...Option,
) *Daemon {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if collector == nil {
		collector = metrics.NewNopCollector()
	}
	if tp == nil {
		tp = tracing.NewNopProvider()
	}
	if notifier == nil {
		notifier = systemd.New(systemd.Config{}, logger)
	}
	d := &Daemon{
		cfg:       cfg,
		store:     store,
		backoff:   bo,
		sink:      sink,
		notifier:  notifier,
		collector: collector,
		tracer:    tp,
		logger:    logger.With("component", "daemon"),
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run запускает демон и блокируется до остановки.
//
// Порядок запуска: загрузка очереди (SPOOL.LOAD_FAILED), handshake бэкендов
// и открытие сокета (коды DELIVERY.*, LISTENER.*, STARTUP.*), затем этапы.
// После остановки этапов содержимое каналов переносится в очередь и
// сохраняется, метрики отправляются в Pushgateway, span-ы сбрасываются.
// Остановка по сигналу возвращает nil.
func (d *Daemon) Run(ctx context.Context) error {
	coord := shutdown.New(ctx, d.logger)
	coord.OnShutdown(d.notifier.Stopping)
	defer coord.Trigger("демон завершён")

	deliveries := make(chan message.Message, d.cfg.Delivery.QueueSize)
	outcomes := make(chan delivery.Outcome, d.cfg.Delivery.QueueSize)

	disp := dispatcher.New(d.store, d.backoff, deliveries, outcomes, d.logger,
		dispatcher.WithClock(d.clock),
		dispatcher.WithIdleInterval(d.cfg.Delivery.IdleInterval),
		dispatcher.WithMetrics(d.collector),
	)
	if err := disp.Load(); err != nil {
		return err
	}
	d.logger.Info("очередь загружена", "path", d.store.Path(), "queued", d.store.Len())

	if err := d.startSink(coord.Context()); err != nil {
		return err
	}

	ln := listener.New(d.cfg.SocketPath, deliveries, d.logger,
		listener.WithMetrics(d.collector),
		listener.WithTracer(d.tracer.Tracer(listener.TracerName)),
	)
	if err := ln.Bind(); err != nil {
		return err
	}

	metricsLn, err := d.bindMetrics()
	if err != nil {
		_ = ln.Close()
		return err
	}

	worker := delivery.NewWorker(d.sink, deliveries, outcomes, d.logger, d.collector,
		d.tracer.Tracer(delivery.TracerName))

	g, gctx := errgroup.WithContext(coord.Context())
	g.Go(func() error { return coord.Watch(gctx) })
	g.Go(func() error { return ln.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return d.notifier.Watchdog(gctx) })
	if metricsLn != nil {
		g.Go(func() error { return d.serveMetrics(gctx, metricsLn) })
	}

	d.notifier.Ready()
	d.logger.Info("демон запущен",
		"socket", d.cfg.SocketPath,
		"sink", sinkName(d.sink),
		"queued", d.store.Len(),
	)
	if d.ready != nil {
		d.ready()
	}

	runErr := g.Wait()
	if runErr != nil {
		d.logger.Error("этап завершился с ошибкой", "error", runErr.Error())
	}

	if err := disp.Drain(deliveries, worker.Unreported()); err != nil {
		d.logger.Error("не удалось сохранить очередь при остановке", "error", err.Error())
	}
	d.flush()

	d.logger.Info("демон остановлен", "queued", d.store.Len())
	return runErr
}

// startSink выполняет handshake бэкендов.
func (d *Daemon) startSink(ctx context.Context) error {
	starter, ok := d.sink.(delivery.Starter)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, StartTimeout)
	defer cancel()

	if err := starter.Start(ctx); err != nil {
		if apperrors.Code(err) != "" {
			return err
		}
		return apperrors.NewAppError(apperrors.ErrStartup, "не удалось подключиться к бэкендам", err)
	}
	return nil
}

// bindMetrics открывает адрес scrape endpoint. nil — endpoint не нужен.
func (d *Daemon) bindMetrics() (net.Listener, error) {
	if !d.cfg.Metrics.Enabled || d.cfg.Metrics.ListenAddr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", d.cfg.Metrics.ListenAddr)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrStartup,
			"не удалось открыть адрес метрик "+d.cfg.Metrics.ListenAddr, err)
	}
	return ln, nil
}

// serveMetrics обслуживает scrape endpoint до отмены ctx.
func (d *Daemon) serveMetrics(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderLimit}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	d.logger.Info("scrape endpoint метрик запущен", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FlushTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("остановка scrape endpoint", "error", err.Error())
	}
	return nil
}

// flush отправляет метрики и span-ы, накопленные за время работы.
func (d *Daemon) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
	defer cancel()

	_ = d.collector.Push(ctx)
	if err := d.tracer.Shutdown(ctx); err != nil {
		d.logger.Warn("не удалось сбросить span-ы", "error", err.Error())
	}
}

func sinkName(s delivery.Sink) string {
	if n, ok := s.(delivery.Named); ok {
		return n.Name()
	}
	return "sink"
}
