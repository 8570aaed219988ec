package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kargones/alert-relay/internal/client"
	"github.com/Kargones/alert-relay/internal/config"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/backoff"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/testutil"
	"github.com/Kargones/alert-relay/internal/spool"
)

var errBackendDown = errors.New("backend down")

type recordingSink struct {
	mu       sync.Mutex
	fail     bool
	startErr error
	received []message.Message
}

func (s *recordingSink) Name() string { return "fake" }

func (s *recordingSink) Start(context.Context) error { return s.startErr }

func (s *recordingSink) Attempt(_ context.Context, msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	if s.fail {
		return errBackendDown
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// testConfig возвращает конфигурацию с путями во временном каталоге.
// Сокет создаётся в коротком каталоге: длина sun_path ограничена.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "ar")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.SocketPath = filepath.Join(dir, "s.sock")
	cfg.SpoolPath = filepath.Join(dir, "spool.jsonl")
	cfg.Backends = []string{"slack"}
	cfg.Delivery.QueueSize = 4
	cfg.Systemd.Enabled = false
	return cfg
}

type running struct {
	cancel context.CancelFunc
	done   chan error
}

func startDaemon(t *testing.T, cfg *config.Config, sink *recordingSink, logger *testutil.RecordingLogger) *running {
	t.Helper()
	return startDaemonWithClock(t, cfg, sink, logger, clock.NewMock())
}

func startDaemonWithClock(t *testing.T, cfg *config.Config, sink *recordingSink, logger *testutil.RecordingLogger, mock *clock.Mock) *running {
	t.Helper()
	store := spool.New(cfg.SpoolPath, logger)
	ready := make(chan struct{})
	d := New(cfg, store, backoff.New(cfg.Delivery.BackoffUnit), sink, nil, nil, nil, logger,
		WithClock(mock),
		WithReadyHook(func() { close(ready) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- d.Run(ctx) }()

	select {
	case <-ready:
	case err := <-r.done:
		t.Fatalf("демон не запустился: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("демон не запустился")
	}
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("демон не остановился")
		return nil
	}
}

func sendAlert(t *testing.T, cfg *config.Config, title string) {
	t.Helper()
	msg, err := client.Compose(client.Request{Title: title, Text: "x", Level: "ERROR"}, testutil.FixedTime, nil)
	require.NoError(t, err)
	require.NoError(t, client.Send(context.Background(), cfg.SocketPath, msg))
}

// TestRun_DeliversAndStops проверяет путь клиент → сокет → бэкенд и чистую остановку.
func TestRun_DeliversAndStops(t *testing.T) {
	cfg := testConfig(t)
	sink := &recordingSink{}
	logger := testutil.NewRecordingLogger()
	r := startDaemon(t, cfg, sink, logger)

	sendAlert(t, cfg, "disk full")
	require.Eventually(t, func() bool { return sink.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.stop(t))

	_, err := os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err), "файл сокета должен быть удалён")
	assert.Equal(t, "disk full", sink.received[0].Title)
	assert.Equal(t, message.LevelError, sink.received[0].Level)
	assert.True(t, logger.Contains("INFO", "демон запущен"))
	assert.True(t, logger.Contains("INFO", "демон остановлен"))
}

// TestRun_FailedMessageSpooled проверяет, что недоставленное сообщение
// переживает остановку в файле очереди.
func TestRun_FailedMessageSpooled(t *testing.T) {
	cfg := testConfig(t)
	sink := &recordingSink{fail: true}
	logger := testutil.NewRecordingLogger()
	r := startDaemon(t, cfg, sink, logger)

	sendAlert(t, cfg, "unreachable")
	require.Eventually(t, func() bool {
		return logger.Contains("WARN", "доставка не удалась")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.stop(t))

	reloaded := spool.New(cfg.SpoolPath, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"unreachable"}, testutil.Titles(reloaded.Snapshot()))
}

// TestRun_RecoversSpool проверяет повтор сообщений, оставшихся с прошлого запуска.
func TestRun_RecoversSpool(t *testing.T) {
	cfg := testConfig(t)
	previous := spool.New(cfg.SpoolPath, nil)
	previous.Enqueue(testutil.Msg("X"))
	previous.Enqueue(testutil.Msg("Y"))
	require.NoError(t, previous.Persist())

	sink := &recordingSink{}
	mock := clock.NewMock()
	r := startDaemonWithClock(t, cfg, sink, testutil.NewRecordingLogger(), mock)

	require.Eventually(t, func() bool {
		mock.Add(cfg.Delivery.BackoffUnit)
		return sink.count() == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, r.stop(t))

	assert.Equal(t, []string{"X", "Y"}, testutil.Titles(sink.received))
	reloaded := spool.New(cfg.SpoolPath, nil)
	require.NoError(t, reloaded.Load())
	assert.Empty(t, reloaded.Snapshot())
}

// TestRun_StartupErrors проверяет коды ошибок запуска.
func TestRun_StartupErrors(t *testing.T) {
	t.Run("spool load", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.Mkdir(cfg.SpoolPath, 0o750))

		d := New(cfg, spool.New(cfg.SpoolPath, nil), backoff.New(time.Second), &recordingSink{}, nil, nil, nil, nil)
		err := d.Run(context.Background())
		assert.Equal(t, apperrors.ExitSpool, apperrors.ExitCode(err))
	})

	t.Run("backend login", func(t *testing.T) {
		cfg := testConfig(t)
		sink := &recordingSink{startErr: errBackendDown}

		d := New(cfg, spool.New(cfg.SpoolPath, nil), backoff.New(time.Second), sink, nil, nil, nil, nil)
		err := d.Run(context.Background())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrStartup))
		assert.ErrorIs(t, err, errBackendDown)
		assert.Equal(t, apperrors.ExitStartup, apperrors.ExitCode(err))
	})

	t.Run("socket bind", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SocketPath = filepath.Join(t.TempDir(), "missing", "s.sock")

		d := New(cfg, spool.New(cfg.SpoolPath, nil), backoff.New(time.Second), &recordingSink{}, nil, nil, nil, nil)
		err := d.Run(context.Background())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrListenerBind))
		assert.Equal(t, apperrors.ExitStartup, apperrors.ExitCode(err))
	})
}
