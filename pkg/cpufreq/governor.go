package cpufreq

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/policy"
)

// Backend is where policies are read from and written to.
type Backend interface {
	CPUs() ([]uint, error)
	Bounds(cpu uint) (policy.Policy, error)
	Limits(cpu uint) (policy.Policy, error)
	SetLimits(cur, want policy.Policy) error
}

// Notifier is called for every phase of a policy update. Only Adjust
// handlers may change p.
type Notifier interface {
	OnPolicyAdjust(kind policy.EventKind, p *policy.Policy)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(kind policy.EventKind, p *policy.Policy)

func (f NotifierFunc) OnPolicyAdjust(kind policy.EventKind, p *policy.Policy) {
	f(kind, p)
}

// Applied reports the outcome of one policy update.
type Applied struct {
	Requested policy.Policy `json:"requested"`
	Applied   policy.Policy `json:"applied"`
	Changed   bool          `json:"changed"`
}

// Saved is the persisted view of one CPU: the range the rest of the system
// asked for and the range the governor last left in sysfs.
type Saved struct {
	CPU       uint          `json:"cpu"`
	Requested policy.Policy `json:"requested"`
	Applied   policy.Policy `json:"applied"`
}

// StateStore keeps Saved ranges across restarts, so that a daemon coming back
// after an unclean exit can tell its own leftover clamp from a range someone
// else set.
type StateStore interface {
	LoadRanges(ctx context.Context) (map[uint]Saved, error)
	SaveRange(ctx context.Context, s Saved) error
}

type cpuState struct {
	requested policy.Policy
	applied   policy.Policy
	written   bool
	saved     Saved
}

// Governor runs the notifier chain for each CPU and writes the result.
//
// It keeps the requested range of each CPU. An attribute is taken from sysfs
// only when it differs from what the governor itself wrote last. Notifiers therefore always
// see the range the rest of the system asked for, never the clamped one.
type Governor struct {
	backend Backend

	mu        sync.Mutex
	notifiers []Notifier
	cpus      map[uint]*cpuState
	onApplied func(Applied)

	store    StateStore
	previous map[uint]Saved
}

func NewGovernor(backend Backend) *Governor {
	return &Governor{
		backend: backend,
		cpus:    map[uint]*cpuState{},
	}
}

// Register appends n to the notifier chain.
func (g *Governor) Register(n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifiers = append(g.notifiers, n)
}

// OnApplied sets a callback run after each update, under the governor lock.
func (g *Governor) OnApplied(fn func(Applied)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onApplied = fn
}

// Resume loads the ranges saved by a previous run and keeps saving to store
// from now on. A CPU whose limits still equal what the previous run applied
// gets its saved requested range back on first sight.
func (g *Governor) Resume(ctx context.Context, store StateStore) error {
	ranges, err := store.LoadRanges(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.store = store
	g.previous = ranges
	return nil
}

// Update recomputes the policy of one CPU.
func (g *Governor) Update(ctx context.Context, cpu uint) (Applied, error) {
	if err := ctx.Err(); err != nil {
		return Applied{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur, err := g.backend.Limits(cpu)
	if err != nil {
		return Applied{}, err
	}
	bounds, err := g.backend.Bounds(cpu)
	if err != nil {
		return Applied{}, err
	}

	st, ok := g.cpus[cpu]
	if !ok {
		st = &cpuState{}
		g.cpus[cpu] = st
	}
	switch {
	case !st.written:
		st.requested = cur
		if prev, ok := g.previous[cpu]; ok && prev.Applied == cur {
			st.requested = prev.Requested
			st.requested.CPU = cpu
			logrus.WithFields(logrus.Fields{
				"cpu":       cpu,
				"found":     cur.String(),
				"requested": st.requested.String(),
			}).Info("limits left by a previous run, resuming its requested range")
		}
	case cur != st.applied:
		logrus.WithFields(logrus.Fields{
			"cpu":      cpu,
			"expected": st.applied.String(),
			"found":    cur.String(),
		}).Debug("policy changed externally, taking it as the requested range")
		// Only the attributes someone else touched are theirs. The other one
		// still holds our clamp and must not leak into the requested range.
		if cur.Min != st.applied.Min {
			st.requested.Min = cur.Min
		}
		if cur.Max != st.applied.Max {
			st.requested.Max = cur.Max
		}
		if st.requested.Min > st.requested.Max {
			// The attribute written externally wins.
			if cur.Max != st.applied.Max {
				st.requested.Min = st.requested.Max
			} else {
				st.requested.Max = st.requested.Min
			}
		}
	}

	p := st.requested
	for _, n := range g.notifiers {
		n.OnPolicyAdjust(policy.Adjust, &p)
	}
	p.CPU = cpu

	verify(&p, bounds)
	for _, n := range g.notifiers {
		n.OnPolicyAdjust(policy.Incompatible, &p)
	}

	a := Applied{Requested: st.requested, Applied: p, Changed: p != cur}
	if a.Changed {
		if err := g.backend.SetLimits(cur, p); err != nil {
			// One attribute may have gone through. Remember what sysfs holds
			// now so the next update does not mistake it for an external
			// change.
			if readBack, rerr := g.backend.Limits(cpu); rerr == nil {
				st.applied = readBack
				st.written = true
				g.save(ctx, cpu, st)
			}
			return a, err
		}
		// The kernel may round or clamp; remember what it actually holds.
		if readBack, err := g.backend.Limits(cpu); err == nil {
			a.Applied = readBack
		}
	}
	st.applied = a.Applied
	st.written = true
	g.save(ctx, cpu, st)

	notified := a.Applied
	for _, n := range g.notifiers {
		n.OnPolicyAdjust(policy.Notify, &notified)
	}
	if g.onApplied != nil {
		g.onApplied(a)
	}

	return a, nil
}

// UpdateAll recomputes every CPU. It keeps going after a failed CPU and
// returns the first error.
func (g *Governor) UpdateAll(ctx context.Context) error {
	cpus, err := g.backend.CPUs()
	if err != nil {
		return err
	}

	var firstErr error
	for _, cpu := range cpus {
		if _, err := g.Update(ctx, cpu); err != nil {
			logrus.WithError(err).WithField("cpu", cpu).Error("failed to update cpufreq policy")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Restore writes the requested range back to every CPU this governor has
// touched.
func (g *Governor) Restore(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for cpu, st := range g.cpus {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !st.written || st.applied == st.requested {
			continue
		}
		cur, err := g.backend.Limits(cpu)
		if err == nil {
			err = g.backend.SetLimits(cur, st.requested)
		}
		if err != nil {
			logrus.WithError(err).WithField("cpu", cpu).Error("failed to restore cpufreq policy")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		st.applied = st.requested
		g.save(ctx, cpu, st)
		logrus.WithField("policy", st.requested.String()).Info("restored cpufreq policy")
	}
	return firstErr
}

// save persists st if it changed since the last save. Callers hold g.mu.
func (g *Governor) save(ctx context.Context, cpu uint, st *cpuState) {
	if g.store == nil {
		return
	}
	sv := Saved{CPU: cpu, Requested: st.requested, Applied: st.applied}
	if sv == st.saved {
		return
	}
	if err := g.store.SaveRange(ctx, sv); err != nil {
		logrus.WithError(err).WithField("cpu", cpu).Warn("failed to save cpufreq ranges")
		return
	}
	st.saved = sv
}

// verify keeps p within the hardware bounds without inverting it.
func verify(p *policy.Policy, bounds policy.Policy) {
	if bounds.Max == 0 {
		return
	}
	clamp := func(f policy.Frequency) policy.Frequency {
		if f < bounds.Min {
			return bounds.Min
		}
		if f > bounds.Max {
			return bounds.Max
		}
		return f
	}
	p.Min = clamp(p.Min)
	p.Max = clamp(p.Max)
	if p.Min > p.Max {
		p.Max = p.Min
	}
}
