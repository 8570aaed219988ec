// Package spool реализует долговременную FIFO-очередь сообщений, ожидающих доставки.
//
// Очередь живёт в памяти и после каждой мутации целиком переписывается в файл
// (по одному JSON-сообщению на строку). Инкрементального журнала нет: файл всегда
// является полным снимком. Store не потокобезопасен, им владеет диспетчер.
package spool

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
	"github.com/Kargones/alert-relay/internal/pkg/message"
)

// maxLineSize ограничивает длину одной строки снимка при загрузке. Один байт
// документа из сокета кодируется не длиннее шести (\ufffd на месте невалидного
// UTF-8). Более длинная строка считается повреждённой записью.
const maxLineSize = 6*constants.MaxMessageSize + 64*1024

// Store — очередь сообщений с файловым снимком.
type Store struct {
	path   string
	logger logging.Logger
	queue  []message.Message
	dirty  bool
}

// New создаёт пустую очередь для файла path. Файл не читается до Load.
func New(path string, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "spool"),
	}
}

// Path возвращает путь к файлу снимка.
func (s *Store) Path() string { return s.path }

// Enqueue добавляет сообщение в хвост очереди.
func (s *Store) Enqueue(m message.Message) {
	s.logger.Debug("сообщение поставлено в очередь", "message", m.Summary())
	s.queue = append(s.queue, m)
	s.dirty = true
}

// EnqueueFront вставляет сообщение в голову очереди: оно будет повторено
// раньше всех сообщений, стоящих за ним.
func (s *Store) EnqueueFront(m message.Message) {
	s.logger.Debug("сообщение поставлено в начало очереди", "message", m.Summary())
	s.queue = append(s.queue, message.Message{})
	copy(s.queue[1:], s.queue)
	s.queue[0] = m
	s.dirty = true
}

// PopFront извлекает самое старое сообщение. Второе значение false, если очередь пуста.
func (s *Store) PopFront() (message.Message, bool) {
	if len(s.queue) == 0 {
		return message.Message{}, false
	}
	m := s.queue[0]
	s.queue[0] = message.Message{}
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	s.dirty = true
	return m, true
}

// IsEmpty сообщает, пуста ли очередь.
func (s *Store) IsEmpty() bool { return len(s.queue) == 0 }

// Len возвращает число сообщений в очереди.
func (s *Store) Len() int { return len(s.queue) }

// Dirty сообщает, есть ли изменения, не записанные на диск.
func (s *Store) Dirty() bool { return s.dirty }

// Snapshot возвращает копию содержимого очереди в порядке доставки.
func (s *Store) Snapshot() []message.Message {
	out := make([]message.Message, len(s.queue))
	copy(out, s.queue)
	return out
}

// Persist записывает полный снимок очереди: во временный файл рядом со снимком,
// fsync, затем rename поверх старого файла. Ошибка логируется и возвращается,
// очередь в памяти не меняется, следующий Persist снова запишет снимок целиком.
func (s *Store) Persist() error {
	switch n := len(s.queue); n {
	case 0:
		s.logger.Info("очередь пуста, файл очереди очищается")
	default:
		s.logger.Warn("сохранение очереди", "queued", n)
	}

	if err := s.writeSnapshot(); err != nil {
		s.logger.Error("не удалось сохранить очередь", "path", s.path, "error", err.Error())
		return apperrors.NewAppError(apperrors.ErrSpoolPersist, "не удалось сохранить файл очереди", err)
	}
	s.dirty = false
	return nil
}

func (s *Store) writeSnapshot() (err error) {
	var buf bytes.Buffer
	for i, m := range s.queue {
		line, encErr := message.Encode(m)
		if encErr != nil {
			// Сообщение, которое нельзя сериализовать, пропускается, остальные сохраняются.
			s.logger.Error("не удалось сериализовать сообщение", "index", i, "error", encErr.Error())
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("создание временного файла: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("запись: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("закрытие: %w", err)
	}
	if err = os.Chmod(tmp.Name(), constants.FilePermPrivate); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Load читает снимок и добавляет сообщения в очередь в порядке файла.
// Отсутствие файла означает пустую очередь. Строки, которые не удаётся
// разобрать, пропускаются с предупреждением. Любая другая ошибка ввода-вывода
// возвращается как AppError с кодом SPOOL.LOAD_FAILED: продолжать работу
// с неизвестным состоянием очереди нельзя.
func (s *Store) Load() error {
	s.logger.Debug("загрузка очереди", "path", s.path)

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("файл очереди отсутствует, очередь пуста")
			return nil
		}
		return apperrors.NewAppError(apperrors.ErrSpoolLoad, "не удалось открыть файл очереди", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)

	loaded, skipped, lineNo := 0, 0, 0
	for {
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return apperrors.NewAppError(apperrors.ErrSpoolLoad, "не удалось прочитать файл очереди", readErr)
		}
		if len(raw) > 0 {
			lineNo++
			if s.loadLine(raw, lineNo) {
				loaded++
			} else if len(bytes.TrimSpace(raw)) > 0 {
				skipped++
			}
		}
		if readErr != nil {
			break
		}
	}

	switch {
	case loaded == 0:
		s.logger.Debug("в очереди нет сообщений", "skipped", skipped)
	default:
		s.logger.Warn("в очереди есть сообщения", "queued", loaded, "skipped", skipped)
	}
	return nil
}

// loadLine добавляет в очередь сообщение из строки снимка.
// false означает пустую или повреждённую строку.
func (s *Store) loadLine(raw []byte, lineNo int) bool {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return false
	}
	if len(line) > maxLineSize {
		s.logger.Warn("запись очереди превышает допустимый размер, пропущена",
			"line", lineNo, "size", len(line), "limit", maxLineSize)
		return false
	}
	m, err := message.Decode(line)
	if err != nil {
		s.logger.Warn("не удалось загрузить сообщение из очереди", "line", lineNo, "error", err.Error())
		return false
	}
	s.queue = append(s.queue, m)
	return true
}
