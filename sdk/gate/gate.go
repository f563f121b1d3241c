package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log"
	"github.com/sethvargo/go-retry"
)

var ErrConnectionTimeout = errors.New("connection timeout: node did not become ready")
var ErrSessionBusy = errors.New("readiness check already outstanding")
var ErrInvalidInterval = errors.New("retry interval must be positive")

const (
	DefaultMaxAttempts = 10
	DefaultInterval    = 1000 * time.Millisecond
)

var logger = logging.Logger("gate")

// ReadyFunc reports whether the chain client can currently serve requests.
type ReadyFunc func() bool

// Gate turns a polled readiness flag into bounded, cancellable waits.
// Every flow that needs the connection creates its own RetrySession.
type Gate struct {
	ready       ReadyFunc
	clock       clock.Clock
	maxAttempts uint64
	interval    time.Duration
	logger      logging.EventLogger
}

type Option func(g *Gate)

func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		g.clock = c
	}
}

func WithMaxAttempts(n uint64) Option {
	return func(g *Gate) {
		g.maxAttempts = n
	}
}

func WithInterval(d time.Duration) Option {
	return func(g *Gate) {
		g.interval = d
	}
}

func WithLogger(l logging.EventLogger) Option {
	return func(g *Gate) {
		g.logger = l
	}
}

func New(ready ReadyFunc, opts ...Option) *Gate {
	g := &Gate{
		ready:       ready,
		clock:       clock.New(),
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultInterval,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ready polls the readiness flag once.
func (g *Gate) Ready() bool {
	return g.ready()
}

func (g *Gate) NewSession(name string) *RetrySession {
	return &RetrySession{gate: g, name: name}
}

func (g *Gate) backoff() (retry.Backoff, error) {
	// NewConstant panics on a non-positive interval
	if g.interval <= 0 {
		return nil, fmt.Errorf("error creating backoff for %s: %w", g.interval, ErrInvalidInterval)
	}
	return retry.WithMaxRetries(g.maxAttempts, retry.NewConstant(g.interval)), nil
}

// RetrySession owns at most one pending re-check timer. Cancel invalidates
// the pending timer and any re-check that already fired but has not run yet.
type RetrySession struct {
	sync.Mutex

	gate       *Gate
	name       string
	attempts   uint64
	backoff    retry.Backoff
	timer      *clock.Timer
	generation uint64
}

// AwaitReady calls onReady synchronously when the gate is already ready.
// Otherwise it re-checks every interval and calls onTimeout with
// ErrConnectionTimeout once the attempt budget is spent.
func (s *RetrySession) AwaitReady(onReady func(), onTimeout func(error)) error {
	backoff, err := s.gate.backoff()
	if err != nil {
		return err
	}

	s.Lock()
	if s.timer != nil {
		s.Unlock()
		return ErrSessionBusy
	}
	s.attempts = 0
	s.backoff = backoff
	s.generation++
	gen := s.generation
	s.Unlock()

	s.check(gen, onReady, onTimeout)
	return nil
}

func (s *RetrySession) check(gen uint64, onReady func(), onTimeout func(error)) {
	s.Lock()
	if gen != s.generation {
		s.Unlock()
		return
	}
	s.timer = nil

	if s.gate.ready() {
		s.Unlock()
		onReady()
		return
	}

	next, stop := s.backoff.Next()
	if stop {
		attempts := s.attempts
		s.Unlock()
		s.gate.logger.Warningf("%s: node not ready after %d retries", s.name, attempts)
		onTimeout(ErrConnectionTimeout)
		return
	}

	s.attempts++
	s.gate.logger.Debugf("%s: node not ready, retry %d in %s", s.name, s.attempts, next)
	s.timer = s.gate.clock.AfterFunc(next, func() {
		s.check(gen, onReady, onTimeout)
	})
	s.Unlock()
}

// Wait blocks until the gate is ready, the budget is exhausted or ctx is done.
func (s *RetrySession) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	err := s.AwaitReady(func() {
		done <- nil
	}, func(err error) {
		done <- err
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	}
}

// Cancel stops the pending timer. Owners call it on teardown.
func (s *RetrySession) Cancel() {
	s.Lock()
	defer s.Unlock()
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *RetrySession) Attempts() uint64 {
	s.Lock()
	defer s.Unlock()
	return s.attempts
}

// Pending reports whether a re-check timer is outstanding.
func (s *RetrySession) Pending() bool {
	s.Lock()
	defer s.Unlock()
	return s.timer != nil
}
