// Package notify provides the user-facing notification bus.
//
// Components that need to tell the user something (a retry was scheduled,
// a request ultimately failed) post a Notification to a Notifier instead of
// rendering anything themselves. The Bus fans notifications out to its
// subscribers and keeps the most recent ones for the debug endpoint.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the severity of a notification.
type Level string

const (
	// LevelInfo is a neutral message.
	LevelInfo Level = "info"

	// LevelSuccess confirms a completed action.
	LevelSuccess Level = "success"

	// LevelWarning reports a recoverable problem (e.g. a scheduled retry).
	LevelWarning Level = "warning"

	// LevelError reports a terminal failure.
	LevelError Level = "error"
)

// Default display durations per level.
const (
	DefaultDuration        = 5 * time.Second
	DefaultInfoDuration    = 3 * time.Second
	DefaultSuccessDuration = 3 * time.Second
	DefaultWarningDuration = 4 * time.Second
	DefaultErrorDuration   = 5 * time.Second

	// DefaultCapacity is the number of notifications the Bus remembers.
	DefaultCapacity = 50
)

// Notification is a single user-facing message. Duration is how long the
// message should stay visible (0 = permanent).
type Notification struct {
	Level    Level         `json:"level"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Notification) {})

// Info posts an info notification with the default info duration.
func Info(n Notifier, format string, args ...any) {
	post(n, LevelInfo, DefaultInfoDuration, format, args...)
}

// Success posts a success notification with the default success duration.
func Success(n Notifier, format string, args ...any) {
	post(n, LevelSuccess, DefaultSuccessDuration, format, args...)
}

// Warning posts a warning notification with the given duration.
func Warning(n Notifier, d time.Duration, format string, args ...any) {
	post(n, LevelWarning, d, format, args...)
}

// Error posts an error notification with the default error duration.
func Error(n Notifier, format string, args ...any) {
	post(n, LevelError, DefaultErrorDuration, format, args...)
}

func post(n Notifier, level Level, d time.Duration, format string, args ...any) {
	if n == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	n.Notify(Notification{Level: level, Message: msg, Duration: d})
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithCapacity sets how many recent notifications are kept.
func WithCapacity(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithClock overrides the time source used to stamp notifications.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		b.now = now
	}
}

// Bus fans notifications out to subscribers and remembers the most recent.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Notifier
	recent      []Notification
	capacity    int
	now         func() time.Time
}

// NewBus creates a notification bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber.
func (b *Bus) Subscribe(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, n)
}

// Notify stamps the notification, records it and delivers it to every
// subscriber. A negative duration is replaced by DefaultDuration.
func (b *Bus) Notify(n Notification) {
	if n.Level == "" {
		n.Level = LevelInfo
	}
	if n.Duration < 0 {
		n.Duration = DefaultDuration
	}
	if n.At.IsZero() {
		n.At = b.now()
	}

	b.mu.Lock()
	b.recent = append(b.recent, n)
	if over := len(b.recent) - b.capacity; over > 0 {
		b.recent = append(b.recent[:0:0], b.recent[over:]...)
	}
	subs := make([]Notifier, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, s := range subs {
		s.Notify(n)
	}
}

// Recent returns the remembered notifications, oldest first.
func (b *Bus) Recent() []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Notification, len(b.recent))
	copy(out, b.recent)
	return out
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier logging under the "notify" component.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.With().Str("component", "notify").Logger()}
}

// NewLogNotifierWith creates a notifier writing to the given logger.
func NewLogNotifierWith(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(n Notification) {
	var ev *zerolog.Event
	switch n.Level {
	case LevelError:
		ev = l.logger.Error()
	case LevelWarning:
		ev = l.logger.Warn()
	default:
		ev = l.logger.Info()
	}
	ev.Str("level_name", string(n.Level)).
		Dur("duration", n.Duration).
		Msg(n.Message)
}
