package display

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Watcher polls an Oracle and reports changes of the display state.
type Watcher struct {
	oracle   Oracle
	interval time.Duration
	onChange func(suspended bool)

	mu        sync.RWMutex
	known     bool
	suspended bool
	changedAt time.Time
}

// NewWatcher creates a Watcher. onChange is called from the polling
// goroutine on every edge, and once for the first successful read.
func NewWatcher(oracle Oracle, interval time.Duration, onChange func(suspended bool)) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		oracle:   oracle,
		interval: interval,
		onChange: onChange,
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	w.Poll()
	for {
		select {
		case <-ctx.Done():
			logrus.Debug("display watcher stopped")
			return
		case <-t.C:
			w.Poll()
		}
	}
}

// Poll reads the oracle once. Read errors keep the last known state.
func (w *Watcher) Poll() {
	suspended, err := w.oracle.IsSuspended()
	if err != nil {
		logrus.WithError(err).Warn("failed to read display state")
		return
	}

	w.mu.Lock()
	changed := !w.known || w.suspended != suspended
	if changed {
		w.known = true
		w.suspended = suspended
		w.changedAt = time.Now()
	}
	w.mu.Unlock()

	if !changed {
		return
	}

	logrus.WithField("suspended", suspended).Info("display state changed")
	if w.onChange != nil {
		w.onChange(suspended)
	}
}

// State returns the last known state and when it last changed. ok is false
// before the first successful read.
func (w *Watcher) State() (suspended bool, changedAt time.Time, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.suspended, w.changedAt, w.known
}
