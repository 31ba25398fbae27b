// Package autosave commits pending changes a short while after an edit.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the delay between an edit and its commit.
const DefaultInterval = 500 * time.Millisecond

// Committer is implemented by the gateway.
type Committer interface {
	Commit(ctx context.Context) error
}

// Timer is a one-shot commit timer. Arm schedules a single Commit; once it
// fires the timer is disarmed until the next Arm.
type Timer struct {
	committer Committer
	interval  time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	armed bool

	// OnError, when set, receives commit failures in addition to the log.
	OnError func(error)
}

// New returns a disarmed timer. A non-positive interval means DefaultInterval.
func New(c Committer, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Timer{committer: c, interval: interval, logger: logger}
}

// Arm schedules a commit after the interval. Arming an armed timer is a no-op.
func (t *Timer) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.armed {
		return
	}
	t.armed = true
	t.timer = time.AfterFunc(t.interval, t.fire)
}

// Armed reports whether a commit is scheduled.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Stop cancels a scheduled commit. It does not wait for one already running.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
}

func (t *Timer) fire() {
	// disarm before committing: a slow commit must not be fired twice
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.timer = nil
	t.mu.Unlock()

	if err := t.committer.Commit(context.Background()); err != nil {
		t.logger.Error("auto-save failed", slog.Any("error", err))
		if t.OnError != nil {
			t.OnError(err)
		}
		return
	}
	t.logger.Debug("changes saved automatically")
}
