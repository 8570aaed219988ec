package delivery

import (
	"context"
	"errors"
	"sync"

	"github.com/Kargones/alert-relay/internal/pkg/message"
)

var errBackendDown = errors.New("backend down")

// fakeSink — Sink с заданной последовательностью ошибок. После исчерпания
// последовательности попытки успешны.
type fakeSink struct {
	name string

	mu       sync.Mutex
	errs     []error
	received []message.Message
	started  int
	startErr error
}

func newFakeSink(name string, errs ...error) *fakeSink {
	return &fakeSink{name: name, errs: errs}
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return s.startErr
}

func (s *fakeSink) Attempt(_ context.Context, msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *fakeSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}
