// Package retry re-issues failed requests with exponential backoff.
//
// The Manager keeps one retry record per request identity. A retryable
// failure schedules a single verbatim replay of the request after
// BaseDelay*2^(n-1) plus up to JitterMax of jitter (capped at MaxDelay);
// once MaxRetries replays have failed the record is dropped and the user
// is told the request failed for good. A success clears the record.
//
// Attach it to a bus.Dispatcher with NewObserver.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/manuals-client/pkg/bus"
	"github.com/Sternrassler/manuals-client/pkg/notify"
)

// Outcome classifies what OnFailure did with a failure.
type Outcome int

const (
	// NoRetry means the failure is not retryable (or the manager is closed).
	NoRetry Outcome = iota

	// Scheduled means a replay was scheduled.
	Scheduled

	// Exhausted means the retry budget was used up; the record was cleared.
	Exhausted

	// Pending means a replay for the identity is already scheduled.
	Pending
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Scheduled:
		return "scheduled"
	case Exhausted:
		return "exhausted"
	case Pending:
		return "pending"
	default:
		return "no_retry"
	}
}

// Decision is the result of OnFailure.
type Decision struct {
	Outcome Outcome

	// Attempt is the replay number just scheduled (Scheduled) or the
	// number of replays made (Exhausted).
	Attempt int

	// Delay is the backoff before the scheduled replay.
	Delay time.Duration
}

// Replayer re-issues a request. *bus.Dispatcher satisfies it.
type Replayer interface {
	Replay(ctx context.Context, req *bus.Request) error
}

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler overrides the timer source (tests).
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithRand overrides the jitter source. f must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(m *Manager) {
		m.rand = f
	}
}

// WithNotifier sets where user-facing retry messages are posted.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

type record struct {
	count     int
	gen       uint64
	scheduled bool
	timer     Timer
}

// Manager tracks retry state per request identity.
type Manager struct {
	mu      sync.Mutex
	config  Config
	records map[string]*record
	gen     uint64
	closed  bool

	replayer  Replayer
	scheduler Scheduler
	rand      func() float64
	notifier  notify.Notifier
	logger    zerolog.Logger

	// Replays run under the manager's lifetime, not the failed caller's.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a retry manager replaying through r.
func NewManager(cfg Config, r Replayer, opts ...Option) *Manager {
	if r == nil {
		panic("retry replayer cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:    cfg.normalized(),
		records:   make(map[string]*record),
		replayer:  r,
		scheduler: realScheduler{},
		rand:      rand.Float64,
		notifier:  notify.Discard,
		logger:    log.With().Str("component", "retry").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the retry policy.
func (m *Manager) Config() Config {
	return m.config
}

// NextDelay returns the backoff for replay number attempt.
func (m *Manager) NextDelay(attempt int) time.Duration {
	return m.config.Delay(attempt, m.rand())
}

// OnFailure handles a failed request. The request is replayed verbatim
// after the backoff unless the status is not retryable, a replay is
// already pending, or the budget for the identity is used up.
func (m *Manager) OnFailure(ctx context.Context, req *bus.Request, statusCode int) Decision {
	if req == nil || req.ID == "" || !ShouldRetry(statusCode) {
		return Decision{Outcome: NoRetry}
	}
	id := req.ID

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Decision{Outcome: NoRetry}
	}

	rec := m.records[id]
	if rec == nil {
		rec = &record{}
		m.records[id] = rec
	}

	if rec.scheduled {
		m.mu.Unlock()
		m.logger.Debug().Str("request_id", id).Msg("Retry already pending")
		return Decision{Outcome: Pending, Attempt: rec.count}
	}

	if rec.count >= m.config.MaxRetries {
		count := rec.count
		delete(m.records, id)
		m.mu.Unlock()

		retryExhausted.Inc()
		m.logger.Error().
			Str("request_id", id).
			Str("path", req.Path).
			Int("status", statusCode).
			Int("max_retries", m.config.MaxRetries).
			Msg("Retry attempts exhausted")
		notify.Error(m.notifier, "Request failed after %d attempts", m.config.MaxRetries)

		return Decision{Outcome: Exhausted, Attempt: count}
	}

	rec.count++
	attempt := rec.count
	delay := m.NextDelay(attempt)

	m.gen++
	gen := m.gen
	rec.gen = gen
	rec.scheduled = true
	rec.timer = m.scheduler.AfterFunc(delay, func() {
		m.fire(id, gen, req)
	})
	m.mu.Unlock()

	retriesScheduled.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	retryBackoffSeconds.Observe(delay.Seconds())

	m.logger.Warn().
		Str("request_id", id).
		Str("path", req.Path).
		Int("status", statusCode).
		Int("attempt", attempt).
		Dur("backoff", delay).
		Msg("Retrying request after backoff")

	status := "network error"
	if statusCode != 0 {
		status = strconv.Itoa(statusCode)
	}
	notify.Warning(m.notifier, delay,
		"Request failed (%s). Retrying in %ds... (attempt %d/%d)",
		status, int(math.Round(delay.Seconds())), attempt, m.config.MaxRetries)

	return Decision{Outcome: Scheduled, Attempt: attempt, Delay: delay}
}

// fire replays the request once its backoff elapsed. Stale timers (the
// record was cancelled or rescheduled) do nothing.
func (m *Manager) fire(id string, gen uint64, req *bus.Request) {
	m.mu.Lock()
	rec := m.records[id]
	if m.closed || rec == nil || rec.gen != gen || !rec.scheduled {
		m.mu.Unlock()
		return
	}
	rec.scheduled = false
	rec.timer = nil
	attempt := rec.count
	m.mu.Unlock()

	m.logger.Info().
		Str("request_id", id).
		Int("attempt", attempt).
		Int("max_retries", m.config.MaxRetries).
		Msg("Replaying request")

	err := req.Validate()
	if err == nil {
		err = m.replayer.Replay(m.ctx, req)
	}
	if err != nil {
		m.mu.Lock()
		if cur := m.records[id]; cur == rec {
			delete(m.records, id)
		}
		m.mu.Unlock()

		retryAborted.Inc()
		m.logger.Error().Err(err).Str("request_id", id).Msg("Failed to retry request")
		notify.Error(m.notifier, "Retry failed: %v", err)
	}
}

// OnSuccess clears the retry record for an identity.
func (m *Manager) OnSuccess(id string) {
	m.mu.Lock()
	rec, ok := m.records[id]
	delete(m.records, id)
	m.mu.Unlock()

	if ok && rec.count > 0 {
		m.logger.Info().
			Str("request_id", id).
			Int("attempt", rec.count).
			Msg("Request succeeded after retry")
	}
}

// Pending reports whether a replay is scheduled for the identity.
func (m *Manager) Pending(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[id]
	return rec != nil && rec.scheduled
}

// Attempts returns the number of replays scheduled so far for the identity.
func (m *Manager) Attempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.records[id]; rec != nil {
		return rec.count
	}
	return 0
}

// Cancel stops a pending replay and clears the record. Returns true if a
// record existed.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	delete(m.records, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	m.logger.Debug().Str("request_id", id).Msg("Retry cancelled")
	return true
}

// Close drops every pending replay and record. Later failures are not
// retried.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	records := m.records
	m.records = make(map[string]*record)
	m.mu.Unlock()

	m.cancel()
	for _, rec := range records {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	m.logger.Info().Int("dropped", len(records)).Msg("Retry manager closed")
}
