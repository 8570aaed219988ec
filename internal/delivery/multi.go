package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
)

// MultiSink отправляет сообщение во все настроенные бэкенды с фильтрацией по правилам.
//
// Сообщение считается доставленным, только если его приняли все бэкенды,
// которым оно адресовано. При частичной неудаче сообщение повторяется целиком,
// и бэкенды, уже принявшие его, получат дубль.
type MultiSink struct {
	backends map[string]Sink
	names    []string // отсортированные имена для детерминированного порядка
	rules    *Rules
	logger   logging.Logger
}

// NewMultiSink создаёт MultiSink. rules может быть nil.
func NewMultiSink(backends map[string]Sink, rules *Rules, logger logging.Logger) (*MultiSink, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)

	return &MultiSink{
		backends: backends,
		names:    names,
		rules:    rules,
		logger:   logger,
	}, nil
}

// Name возвращает имена бэкендов через "+".
func (m *MultiSink) Name() string {
	return strings.Join(m.names, "+")
}

// Start выполняет handshake бэкендов, которым он нужен.
func (m *MultiSink) Start(ctx context.Context) error {
	for _, name := range m.names {
		s, ok := m.backends[name].(Starter)
		if !ok {
			continue
		}
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Attempt отправляет msg в каждый бэкенд, прошедший правила, в алфавитном порядке.
// Возвращает объединённую ошибку всех бэкендов, отклонивших сообщение.
func (m *MultiSink) Attempt(ctx context.Context, msg message.Message) error {
	var errs []error
	sent, skipped := 0, 0

	for _, name := range m.names {
		if !m.rules.Evaluate(msg, name) {
			m.logger.Debug("сообщение отклонено правилами",
				"backend", name,
				"level", msg.Level.String(),
			)
			skipped++
			continue
		}

		if err := m.backends[name].Attempt(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		sent++
	}

	m.logger.Debug("рассылка по бэкендам завершена",
		"message", msg.Summary(),
		"backends_sent", sent,
		"backends_skipped", skipped,
		"backends_failed", len(errs),
	)
	return errors.Join(errs...)
}
