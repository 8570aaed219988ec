package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/testutil"
)

func newTestStore(t *testing.T) (*Store, *testutil.RecordingLogger) {
	t.Helper()
	logger := testutil.NewRecordingLogger()
	return New(filepath.Join(t.TempDir(), "spool.jsonl"), logger), logger
}

func TestStore_FIFO(t *testing.T) {
	s, _ := newTestStore(t)
	assert.True(t, s.IsEmpty())

	s.Enqueue(testutil.Msg("A"))
	s.Enqueue(testutil.Msg("B"))
	s.Enqueue(testutil.Msg("C"))
	assert.Equal(t, 3, s.Len())

	for _, want := range []string{"A", "B", "C"} {
		m, ok := s.PopFront()
		require.True(t, ok)
		assert.Equal(t, want, m.Title)
	}
	_, ok := s.PopFront()
	assert.False(t, ok)
	assert.True(t, s.IsEmpty())
}

// TestStore_RetryOrdering: A и B поставлены по порядку, A извлечено и не доставлено
// до извлечения B, следующий PopFront снова возвращает A.
func TestStore_RetryOrdering(t *testing.T) {
	s, _ := newTestStore(t)
	s.Enqueue(testutil.Msg("A"))
	s.Enqueue(testutil.Msg("B"))

	a, ok := s.PopFront()
	require.True(t, ok)
	s.EnqueueFront(a)

	next, ok := s.PopFront()
	require.True(t, ok)
	assert.Equal(t, "A", next.Title)
}

// TestStore_EnqueueFrontStacks проверяет, что каждая вставка в голову
// оказывается перед состоянием очереди на момент вставки.
func TestStore_EnqueueFrontStacks(t *testing.T) {
	s, _ := newTestStore(t)
	s.Enqueue(testutil.Msg("tail"))
	s.EnqueueFront(testutil.Msg("first"))
	s.EnqueueFront(testutil.Msg("second"))

	assert.Equal(t, []string{"second", "first", "tail"}, testutil.Titles(s.Snapshot()))
}

func TestStore_Dirty(t *testing.T) {
	s, _ := newTestStore(t)
	assert.False(t, s.Dirty())

	s.Enqueue(testutil.Msg("A"))
	assert.True(t, s.Dirty())

	require.NoError(t, s.Persist())
	assert.False(t, s.Dirty())

	_, _ = s.PopFront()
	assert.True(t, s.Dirty())

	_, ok := (&Store{}).PopFront()
	assert.False(t, ok)
}

// TestStore_CrashRecovery: сообщения X и Y сохранены, новый Store на том же файле
// после Load содержит X, Y в том же порядке.
func TestStore_CrashRecovery(t *testing.T) {
	s, _ := newTestStore(t)
	s.Enqueue(testutil.Msg("X"))
	s.Enqueue(testutil.Msg("Y"))
	require.NoError(t, s.Persist())

	restarted := New(s.Path(), testutil.NewRecordingLogger())
	require.NoError(t, restarted.Load())

	assert.Equal(t, []string{"X", "Y"}, testutil.Titles(restarted.Snapshot()))
	assert.False(t, restarted.Dirty())
}

func TestStore_PersistLoad_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	in := []message.Message{
		testutil.Msg("one"),
		{
			Title:     "two",
			Text:      "multi\nline\ntext",
			Level:     message.LevelError,
			Link:      "https://grafana.local/d/2",
			Fields:    map[string]string{"host": "db1", "disk": "/var"},
			Channel:   "#ops",
			Timestamp: testutil.FixedTime,
			Version:   "alert v1",
		},
		testutil.Msg("one"), // дубликаты допускаются
	}
	for _, m := range in {
		s.Enqueue(m)
	}
	require.NoError(t, s.Persist())

	loaded := New(s.Path(), nil)
	require.NoError(t, loaded.Load())
	assert.Equal(t, in, loaded.Snapshot())
}

// TestStore_PersistLoad_MaxSizeMessage проверяет, что сообщение предельного
// размера из символов < переживает перезапуск вместе с соседним сообщением.
func TestStore_PersistLoad_MaxSizeMessage(t *testing.T) {
	s, logger := newTestStore(t)

	prefix := `{"title":"t","text":"`
	suffix := `"}`
	doc := prefix + strings.Repeat("<", constants.MaxMessageSize-64-len(prefix)-len(suffix)) + suffix
	large, err := message.Decode([]byte(doc))
	require.NoError(t, err)
	large = large.Normalize(testutil.FixedTime)

	s.Enqueue(testutil.Msg("small"))
	s.Enqueue(large)
	require.NoError(t, s.Persist())

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(2*constants.MaxMessageSize), "< не экранируется в файле очереди")

	loaded := New(s.Path(), nil)
	require.NoError(t, loaded.Load())
	require.Equal(t, []string{"small", "t"}, testutil.Titles(loaded.Snapshot()))
	assert.Equal(t, large, loaded.Snapshot()[1])
	assert.Empty(t, logger.Messages("WARN"))
}

// TestStore_PersistLoad_EscapedAndUnicodeText проверяет сохранение HTML-символов,
// кириллицы и составных символов без искажений.
func TestStore_PersistLoad_EscapedAndUnicodeText(t *testing.T) {
	s, _ := newTestStore(t)
	in := []message.Message{
		{
			Title:     "<b>disk</b> & <i>cpu</i>",
			Text:      strings.Repeat("a<b>&c ", 20000),
			Level:     message.LevelError,
			Link:      "https://grafana.local/d?a=1&b=2",
			Fields:    map[string]string{"<key>": "x&y"},
			Timestamp: testutil.FixedTime,
		},
		{
			Title:     "Диск заполнен: café ✓",
			Text:      "Ошибка на узле «db-01», 日本語",
			Level:     message.LevelWarn,
			Fields:    map[string]string{"узел": "db-01"},
			Timestamp: testutil.FixedTime,
		},
	}
	for _, m := range in {
		s.Enqueue(m)
	}
	require.NoError(t, s.Persist())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "<b>disk</b> & <i>cpu</i>")
	assert.NotContains(t, string(data), `\u003c`)

	loaded := New(s.Path(), nil)
	require.NoError(t, loaded.Load())
	assert.Equal(t, in, loaded.Snapshot())
}

// TestStore_PersistRewritesSnapshot проверяет, что файл — полный снимок, а не журнал.
func TestStore_PersistRewritesSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	s.Enqueue(testutil.Msg("A"))
	s.Enqueue(testutil.Msg("B"))
	require.NoError(t, s.Persist())

	_, _ = s.PopFront()
	require.NoError(t, s.Persist())

	reloaded := New(s.Path(), nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"B"}, testutil.Titles(reloaded.Snapshot()))

	_, _ = s.PopFront()
	require.NoError(t, s.Persist())
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Empty(t, data, "пустая очередь даёт пустой файл")
}

func TestStore_PersistLeavesNoTempFiles(t *testing.T) {
	s, _ := newTestStore(t)
	s.Enqueue(testutil.Msg("A"))
	require.NoError(t, s.Persist())
	require.NoError(t, s.Persist())

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "spool.jsonl", entries[0].Name())
}

// TestStore_PersistFailureKeepsQueue: ошибка записи не теряет очередь,
// следующий успешный Persist пишет полный снимок.
func TestStore_PersistFailureKeepsQueue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	logger := testutil.NewRecordingLogger()
	s := New(filepath.Join(dir, "spool.jsonl"), logger)
	s.Enqueue(testutil.Msg("A"))
	s.Enqueue(testutil.Msg("B"))

	err := s.Persist()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrSpoolPersist))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Dirty())
	assert.NotEmpty(t, logger.Messages("ERROR"))

	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, s.Persist())

	reloaded := New(s.Path(), nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"A", "B"}, testutil.Titles(reloaded.Snapshot()))
}

func TestStore_LoadMissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Load())
	assert.True(t, s.IsEmpty())
}

// TestStore_LoadMalformedLine: одна корректная строка и одна испорченная дают
// одно сообщение и одно предупреждение.
func TestStore_LoadMalformedLine(t *testing.T) {
	s, logger := newTestStore(t)
	valid, err := message.Encode(testutil.Msg("valid"))
	require.NoError(t, err)
	content := string(valid) + "\n" + "garbage{{\n"
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o600))

	require.NoError(t, s.Load())

	assert.Equal(t, []string{"valid"}, testutil.Titles(s.Snapshot()))
	assert.Equal(t, []string{"не удалось загрузить сообщение из очереди"}, filterSkipWarnings(logger))
}

// TestStore_LoadOversizedLine проверяет, что слишком длинная запись
// пропускается с предупреждением, а остальные сообщения загружаются.
func TestStore_LoadOversizedLine(t *testing.T) {
	s, logger := newTestStore(t)
	a, err := message.Encode(testutil.Msg("A"))
	require.NoError(t, err)
	b, err := message.Encode(testutil.Msg("B"))
	require.NoError(t, err)
	content := string(a) + "\n" + strings.Repeat("x", maxLineSize+1) + "\n" + string(b) + "\n"
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o600))

	require.NoError(t, s.Load())

	assert.Equal(t, []string{"A", "B"}, testutil.Titles(s.Snapshot()))
	assert.True(t, logger.Contains("WARN", "запись очереди превышает допустимый размер"))
}

func TestStore_LoadTornTail(t *testing.T) {
	s, _ := newTestStore(t)
	a, _ := message.Encode(testutil.Msg("A"))
	b, _ := message.Encode(testutil.Msg("B"))
	torn := string(a) + "\n" + string(b) + "\n" + string(b[:len(b)/2])
	require.NoError(t, os.WriteFile(s.Path(), []byte(torn), 0o600))

	require.NoError(t, s.Load())
	assert.Equal(t, []string{"A", "B"}, testutil.Titles(s.Snapshot()))
}

// TestStore_LoadIOError: каталог вместо файла — ошибка ввода-вывода, не "not found".
func TestStore_LoadIOError(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	err := s.Load()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrSpoolLoad))
	assert.Equal(t, apperrors.ExitSpool, apperrors.ExitCode(err))
}

func filterSkipWarnings(l *testutil.RecordingLogger) []string {
	var out []string
	for _, m := range l.Messages("WARN") {
		if m == "не удалось загрузить сообщение из очереди" {
			out = append(out, m)
		}
	}
	return out
}
