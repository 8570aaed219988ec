package delivery

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
)

// BreakerConfig — настройки circuit breaker вокруг бэкенда.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled" env:"AR_BREAKER_ENABLED"`

	// MaxFailures — число подряд неудачных попыток, после которого breaker открывается.
	MaxFailures uint32 `yaml:"maxFailures" env:"AR_BREAKER_MAX_FAILURES" env-default:"5"`

	// OpenTimeout — сколько breaker остаётся открытым до пробной попытки.
	OpenTimeout time.Duration `yaml:"openTimeout" env:"AR_BREAKER_OPEN_TIMEOUT" env-default:"30s"`
}

// BreakerSink оборачивает Sink в circuit breaker. Пока breaker открыт,
// попытки завершаются сразу с gobreaker.ErrOpenState и сообщение остаётся в очереди.
type BreakerSink struct {
	next    Sink
	name    string
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerSink создаёт BreakerSink вокруг next.
func NewBreakerSink(next Sink, config BreakerConfig, logger logging.Logger) *BreakerSink {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	maxFailures := config.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := config.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	name := "sink"
	if n, ok := next.(Named); ok {
		name = n.Name()
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("состояние circuit breaker изменено",
				"backend", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerSink{next: next, name: name, breaker: cb}
}

// Name возвращает имя обёрнутого бэкенда.
func (b *BreakerSink) Name() string { return b.name }

// Start передаёт handshake обёрнутому бэкенду.
func (b *BreakerSink) Start(ctx context.Context) error {
	if s, ok := b.next.(Starter); ok {
		return s.Start(ctx)
	}
	return nil
}

// State возвращает текущее состояние breaker.
func (b *BreakerSink) State() gobreaker.State {
	return b.breaker.State()
}

// Attempt выполняет попытку через breaker.
func (b *BreakerSink) Attempt(ctx context.Context, msg message.Message) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Attempt(ctx, msg)
	})
	return err
}
