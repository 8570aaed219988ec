// Package logging предоставляет интерфейс структурированного логирования демона
// и его реализации поверх log/slog.
package logging

import "log/slog"

// Logger — структурированный логгер, который получают все компоненты демона.
// Глобальный логгер не используется: каждый этап (listener, worker, dispatcher)
// получает свой экземпляр, обычно с атрибутом "component".
//
//	logger.With("component", "spool").Warn("сообщение пропущено", "line", 3)
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With возвращает Logger, добавляющий атрибуты ко всем записям.
	With(args ...any) Logger
}

// SlogAdapter реализует Logger поверх *slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter оборачивает slog.Logger. nil заменяется на slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

func (s *SlogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }

func (s *SlogAdapter) Info(msg string, args ...any) { s.logger.Info(msg, args...) }

func (s *SlogAdapter) Warn(msg string, args ...any) { s.logger.Warn(msg, args...) }

func (s *SlogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

// With возвращает новый адаптер с дополнительными атрибутами.
func (s *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: s.logger.With(args...)}
}

// Slog возвращает исходный *slog.Logger (нужен для библиотек, принимающих slog напрямую).
func (s *SlogAdapter) Slog() *slog.Logger {
	return s.logger
}

// NopLogger отбрасывает все записи. Используется в тестах.
type NopLogger struct{}

// NewNopLogger создаёт Logger, который ничего не пишет.
func NewNopLogger() Logger {
	return NopLogger{}
}

func (NopLogger) Debug(string, ...any) {}

func (NopLogger) Info(string, ...any) {}

func (NopLogger) Warn(string, ...any) {}

func (NopLogger) Error(string, ...any) {}

// With возвращает тот же NopLogger: атрибуты всё равно игнорируются.
func (n NopLogger) With(...any) Logger { return n }
