package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/patric-chuzhbe/flylink/internal/logger"
)

type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Notification is a short user-facing message.
type Notification struct {
	Level       Level
	Title       string
	Description string
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// ConsoleNotifier prints notifications, one per line.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: out}
}

func (c *ConsoleNotifier) Notify(n Notification) {
	mark := "✗"
	if n.Level == LevelSuccess {
		mark = "✓"
	}
	line := mark + " " + n.Title
	if n.Description != "" {
		line += ": " + n.Description
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// LogNotifier routes notifications to the structured logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	if n.Level == LevelError {
		logger.Log.Warnw(n.Title, "description", n.Description)
		return
	}
	logger.Log.Infow(n.Title, "description", n.Description)
}

// CoalescingNotifier drops an error notification identical to one delivered
// within the last window, so a burst of failing calls against a downed
// backend produces one message instead of one per call. Success
// notifications always pass.
type CoalescingNotifier struct {
	next    Notifier
	limiter ratelimit.RateLimiter
}

// NewCoalescingNotifier wraps next. A zero window disables coalescing and returns next itself.
func NewCoalescingNotifier(next Notifier, window time.Duration) Notifier {
	if window <= 0 {
		return next
	}

	return &CoalescingNotifier{
		next: next,
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:     1,
			Burst:    1,
			Interval: window,
		}),
	}
}

func (c *CoalescingNotifier) Notify(n Notification) {
	if n.Level == LevelError && !c.limiter.Allow(context.Background(), string(n.Level)+"|"+n.Title) {
		logger.Log.Debugw("coalesced duplicate notification", "title", n.Title)
		return
	}
	c.next.Notify(n)
}

// Close releases the limiter.
func (c *CoalescingNotifier) Close() error {
	return c.limiter.Close()
}
