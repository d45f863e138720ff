package auth

import (
	"log/slog"
	"time"
)

const defaultRollbackTimeout = 5 * time.Second

// Observer is notified about flow outcomes and guard rejections.
type Observer interface {
	FlowCompleted(flow, outcome string)
	GuardRejected(reason string)
}

type noopObserver struct{}

func (noopObserver) FlowCompleted(string, string) {}
func (noopObserver) GuardRejected(string)         {}

type settings struct {
	logger          *slog.Logger
	observer        Observer
	now             func() time.Time
	rollbackTimeout time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:          slog.Default(),
		observer:        noopObserver{},
		now:             time.Now,
		rollbackTimeout: defaultRollbackTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures the constructors of this package.
type Option func(*settings)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the outcome observer, typically the metrics recorder.
func WithObserver(observer Observer) Option {
	return func(s *settings) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRollbackTimeout bounds the cleanup that runs after a reset email fails.
func WithRollbackTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.rollbackTimeout = d
		}
	}
}
