// Package shutdown рассылает сигнал остановки всем этапам демона.
//
// Coordinator владеет context.Context, который отменяется один раз: по SIGINT,
// SIGTERM, SIGQUIT или по явному Trigger. Повторные сигналы ничего не делают.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
)

// Signals — сигналы, запускающие остановку.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

// Coordinator — однократный широковещательный сигнал остановки.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	logger logging.Logger

	mu    sync.Mutex
	hooks []func()
}

// New создаёт Coordinator, производный от parent.
func New(parent context.Context, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{ctx: ctx, cancel: cancel, logger: logger.With("component", "shutdown")}
}

// Context возвращает контекст, отменяемый при остановке.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Done закрывается при остановке.
func (c *Coordinator) Done() <-chan struct{} { return c.ctx.Done() }

// OnShutdown регистрирует функцию, вызываемую один раз при остановке,
// до отмены контекста.
func (c *Coordinator) OnShutdown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Trigger запускает остановку. Безопасен для повторного и конкурентного вызова.
func (c *Coordinator) Trigger(reason string) {
	c.once.Do(func() {
		c.logger.Info("остановка", "reason", reason)

		c.mu.Lock()
		hooks := c.hooks
		c.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		c.cancel()
	})
}

// Watch ждёт сигнала ОС и запускает остановку. Возвращается при остановке
// по любой причине. Предназначен для запуска отдельным этапом errgroup.
func (c *Coordinator) Watch(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, Signals...)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		c.Trigger("signal " + sig.String())
	case <-ctx.Done():
		c.Trigger("context cancelled")
	case <-c.ctx.Done():
	}
	return nil
}
