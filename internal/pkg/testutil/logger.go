// Package testutil содержит общие помощники для тестов пакетов демона.
package testutil

import (
	"strings"
	"sync"

	"github.com/Kargones/alert-relay/internal/pkg/logging"
)

// Entry — одна запись RecordingLogger.
type Entry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger реализует logging.Logger и запоминает записи.
// Потокобезопасен: им пользуются тесты с несколькими горутинами.
// Логгеры, полученные через With, пишут в тот же журнал.
type RecordingLogger struct {
	mu      *sync.Mutex
	entries *[]Entry
	attrs   []any
}

// NewRecordingLogger создаёт пустой RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.attrs...), args...)
	*l.entries = append(*l.entries, Entry{Level: level, Msg: msg, Args: all})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }

func (l *RecordingLogger) Info(msg string, args ...any) { l.record("INFO", msg, args) }

func (l *RecordingLogger) Warn(msg string, args ...any) { l.record("WARN", msg, args) }

func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

// With возвращает логгер с общим журналом и дополнительными атрибутами.
func (l *RecordingLogger) With(args ...any) logging.Logger {
	return &RecordingLogger{
		mu:      l.mu,
		entries: l.entries,
		attrs:   append(append([]any{}, l.attrs...), args...),
	}
}

// Entries возвращает копию журнала.
func (l *RecordingLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(*l.entries))
	copy(out, *l.entries)
	return out
}

// Messages возвращает тексты записей указанного уровня ("DEBUG", "INFO", "WARN", "ERROR").
func (l *RecordingLogger) Messages(level string) []string {
	var out []string
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

// Contains сообщает, есть ли запись уровня level, содержащая substr.
func (l *RecordingLogger) Contains(level, substr string) bool {
	for _, m := range l.Messages(level) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
