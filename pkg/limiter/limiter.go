package limiter

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/policy"
)

const (
	DefaultScreenoffMin policy.Frequency = 100000
	DefaultScreenoffMax policy.Frequency = 500000
)

var (
	// ErrNoOracle is returned by New when no display-state oracle is given.
	ErrNoOracle = errors.New("no display-state oracle available")
	// ErrInvalidInput is returned by Store for tokens it cannot apply.
	ErrInvalidInput = errors.New("invalid input")
)

// Oracle answers whether the display is currently suspended.
type Oracle interface {
	IsSuspended() (bool, error)
}

// Options are the initial settings of a Limiter. Zero bounds are left
// unset so Bootstrap can seed them from the boot-time policy.
type Options struct {
	Enabled      bool
	ScreenoffMin policy.Frequency
	ScreenoffMax policy.Frequency
}

// DefaultOptions returns the built-in low-power screen-off range.
func DefaultOptions() Options {
	return Options{
		Enabled:      true,
		ScreenoffMin: DefaultScreenoffMin,
		ScreenoffMax: DefaultScreenoffMax,
	}
}

// Decision describes what OnPolicyAdjust did with one Adjust event.
type Decision struct {
	In         policy.Policy `json:"in"`
	Out        policy.Policy `json:"out"`
	Suspended  bool          `json:"suspended"`
	Overridden bool          `json:"overridden"`
	Repaired   bool          `json:"repaired"`
}

// HookFunc observes decisions. It is called outside the limiter lock.
type HookFunc func(Decision)

// State is a point-in-time copy of the limiter fields.
type State struct {
	Enabled       bool             `json:"enabled"`
	ScreenoffMin  policy.Frequency `json:"screenoffMin"`
	ScreenoffMax  policy.Frequency `json:"screenoffMax"`
	LastNormalMin policy.Frequency `json:"lastNormalMin"`
	LastNormalMax policy.Frequency `json:"lastNormalMax"`
}

// Limiter clamps policies to the screen-off range while the display is
// suspended. All fields are guarded by mu; the policy-adjust path and the
// configuration surface both go through it.
type Limiter struct {
	mu sync.Mutex

	enabled       bool
	screenoffMin  policy.Frequency
	screenoffMax  policy.Frequency
	lastNormalMin policy.Frequency
	lastNormalMax policy.Frequency

	oracle Oracle
	hooks  []HookFunc
}

// New creates a Limiter. It fails when oracle is nil, so a missing display
// detector is caught at activation rather than on the first event.
func New(oracle Oracle, opts Options) (*Limiter, error) {
	if oracle == nil {
		return nil, ErrNoOracle
	}

	return &Limiter{
		enabled:      opts.Enabled,
		screenoffMin: opts.ScreenoffMin,
		screenoffMax: opts.ScreenoffMax,
		oracle:       oracle,
	}, nil
}

// Bootstrap fills unset screen-off bounds from the policy of CPU 0 at
// activation, that is its current scaling limits, and starts the normal range
// at the configured one.
func (l *Limiter) Bootstrap(boot policy.Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.screenoffMin == 0 {
		l.screenoffMin = boot.Min
	}
	if l.screenoffMax == 0 {
		l.screenoffMax = boot.Max
	}
	l.lastNormalMin = l.screenoffMin
	l.lastNormalMax = l.screenoffMax

	logrus.WithFields(logrus.Fields{
		"screenoffMinMHz": l.screenoffMin.MHz(),
		"screenoffMaxMHz": l.screenoffMax.MHz(),
		"enabled":         l.enabled,
	}).Info("initialized screen-off frequency limits")
}

// AddHook registers fn to be called after every acted-on Adjust event.
func (l *Limiter) AddHook(fn HookFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// OnPolicyAdjust rewrites p in place. Only Adjust events are handled, and
// nothing happens while the limiter is disabled. The normal range is
// recorded from the incoming policy before any override is applied.
//
// While disabled the normal range is not tracked either, so it may be stale
// right after re-enabling until the next Adjust event.
func (l *Limiter) OnPolicyAdjust(kind policy.EventKind, p *policy.Policy) {
	if kind != policy.Adjust || p == nil {
		return
	}

	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}

	suspended, err := l.oracle.IsSuspended()
	if err != nil {
		logrus.WithError(err).Warn("failed to query display state, assuming display is on")
		suspended = false
	}

	d := Decision{In: *p, Suspended: suspended}

	l.lastNormalMin = p.Min
	l.lastNormalMax = p.Max

	newMin, newMax := l.lastNormalMin, l.lastNormalMax
	if suspended {
		newMin, newMax = l.screenoffMin, l.screenoffMax
		d.Overridden = true
	}

	if newMin > newMax {
		newMax = newMin
		d.Repaired = true
	}

	p.Min = newMin
	p.Max = newMax
	d.Out = *p

	hooks := l.hooks
	l.mu.Unlock()

	for _, fn := range hooks {
		fn(d)
	}
}

// Snapshot returns a copy of the current state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return State{
		Enabled:       l.enabled,
		ScreenoffMin:  l.screenoffMin,
		ScreenoffMax:  l.screenoffMax,
		LastNormalMin: l.lastNormalMin,
		LastNormalMax: l.lastNormalMax,
	}
}

// Suspended queries the oracle directly.
func (l *Limiter) Suspended() (bool, error) {
	return l.oracle.IsSuspended()
}

// SetEnabled switches the clamp on or off. It takes effect on the next
// Adjust event.
func (l *Limiter) SetEnabled(b bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = b
}

// SetScreenoffMin sets the screen-off minimum without validating it against
// the maximum. OnPolicyAdjust repairs an inverted pair.
func (l *Limiter) SetScreenoffMin(f policy.Frequency) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.screenoffMin = f
}

// SetScreenoffMax sets the screen-off maximum. Like SetScreenoffMin it does
// not touch the other bound.
func (l *Limiter) SetScreenoffMax(f policy.Frequency) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.screenoffMax = f
}
