package limiter

import (
	"errors"
	"sync"
	"testing"

	"github.com/charlie0129/freqclamp/pkg/policy"
)

type fakeOracle struct {
	mu        sync.Mutex
	suspended bool
	err       error
	calls     int
}

func (f *fakeOracle) IsSuspended() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.suspended, f.err
}

func (f *fakeOracle) set(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = b
}

func newTestLimiter(t *testing.T, o Oracle, min, max policy.Frequency) *Limiter {
	t.Helper()
	l, err := New(o, Options{Enabled: true, ScreenoffMin: min, ScreenoffMax: max})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestNewWithoutOracle(t *testing.T) {
	l, err := New(nil, DefaultOptions())
	if !errors.Is(err, ErrNoOracle) {
		t.Fatalf("New(nil) error = %v, want %v", err, ErrNoOracle)
	}
	if l != nil {
		t.Fatalf("New(nil) returned a limiter")
	}
}

func TestOnPolicyAdjust(t *testing.T) {
	tests := []struct {
		name       string
		min, max   policy.Frequency
		suspended  bool
		in         policy.Policy
		want       policy.Policy
		overridden bool
		repaired   bool
	}{
		{
			name:       "screen off clamps to configured range",
			min:        100000,
			max:        500000,
			suspended:  true,
			in:         policy.Policy{Min: 300000, Max: 1800000},
			want:       policy.Policy{Min: 100000, Max: 500000},
			overridden: true,
		},
		{
			name:       "inverted screen-off range is repaired by raising max",
			min:        900000,
			max:        500000,
			suspended:  true,
			in:         policy.Policy{Min: 300000, Max: 1800000},
			want:       policy.Policy{Min: 900000, Max: 900000},
			overridden: true,
			repaired:   true,
		},
		{
			name:      "screen on passes policy through",
			min:       100000,
			max:       500000,
			suspended: false,
			in:        policy.Policy{CPU: 2, Min: 300000, Max: 1800000},
			want:      policy.Policy{CPU: 2, Min: 300000, Max: 1800000},
		},
		{
			name:      "inverted incoming policy is repaired on pass-through",
			min:       100000,
			max:       500000,
			suspended: false,
			in:        policy.Policy{Min: 1200000, Max: 800000},
			want:      policy.Policy{Min: 1200000, Max: 1200000},
			repaired:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &fakeOracle{suspended: tt.suspended}
			l := newTestLimiter(t, o, tt.min, tt.max)

			var got Decision
			l.AddHook(func(d Decision) { got = d })

			p := tt.in
			l.OnPolicyAdjust(policy.Adjust, &p)

			if p != tt.want {
				t.Errorf("policy = %v, want %v", p, tt.want)
			}
			if !p.Valid() {
				t.Errorf("policy %v is inverted", p)
			}
			if got.Overridden != tt.overridden || got.Repaired != tt.repaired {
				t.Errorf("decision = %+v, want overridden=%t repaired=%t", got, tt.overridden, tt.repaired)
			}
			if got.In != tt.in || got.Out != tt.want {
				t.Errorf("decision in/out = %v/%v, want %v/%v", got.In, got.Out, tt.in, tt.want)
			}

			s := l.Snapshot()
			if s.LastNormalMin != tt.in.Min || s.LastNormalMax != tt.in.Max {
				t.Errorf("last normal = %d/%d, want %d/%d", s.LastNormalMin, s.LastNormalMax, tt.in.Min, tt.in.Max)
			}
			if s.ScreenoffMin != tt.min || s.ScreenoffMax != tt.max {
				t.Errorf("screen-off range changed to %d/%d", s.ScreenoffMin, s.ScreenoffMax)
			}
		})
	}
}

func TestOnPolicyAdjustIgnoresOtherEvents(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		for _, kind := range []policy.EventKind{policy.Incompatible, policy.Notify, policy.EventKind(42)} {
			o := &fakeOracle{suspended: true}
			l := newTestLimiter(t, o, 100000, 500000)
			l.Bootstrap(policy.Policy{Min: 200000, Max: 2000000})
			l.SetEnabled(enabled)
			before := l.Snapshot()

			p := policy.Policy{Min: 300000, Max: 1800000}
			l.OnPolicyAdjust(kind, &p)

			if p != (policy.Policy{Min: 300000, Max: 1800000}) {
				t.Errorf("kind %s enabled=%t: policy mutated to %v", kind, enabled, p)
			}
			if after := l.Snapshot(); after != before {
				t.Errorf("kind %s enabled=%t: state changed from %+v to %+v", kind, enabled, before, after)
			}
			if o.calls != 0 {
				t.Errorf("kind %s enabled=%t: oracle queried %d times", kind, enabled, o.calls)
			}
		}
	}
}

func TestOnPolicyAdjustDisabled(t *testing.T) {
	for _, suspended := range []bool{true, false} {
		o := &fakeOracle{suspended: suspended}
		l := newTestLimiter(t, o, 100000, 500000)
		l.Bootstrap(policy.Policy{})
		l.SetEnabled(false)

		hookCalled := false
		l.AddHook(func(Decision) { hookCalled = true })

		p := policy.Policy{Min: 300000, Max: 1800000}
		l.OnPolicyAdjust(policy.Adjust, &p)

		if p != (policy.Policy{Min: 300000, Max: 1800000}) {
			t.Errorf("suspended=%t: disabled limiter mutated policy to %v", suspended, p)
		}
		// The normal range is not tracked while disabled.
		s := l.Snapshot()
		if s.LastNormalMin != 100000 || s.LastNormalMax != 500000 {
			t.Errorf("suspended=%t: last normal = %d/%d, want stale 100000/500000", suspended, s.LastNormalMin, s.LastNormalMax)
		}
		if hookCalled {
			t.Errorf("suspended=%t: hook called while disabled", suspended)
		}
	}
}

func TestOnPolicyAdjustIdempotent(t *testing.T) {
	for _, suspended := range []bool{true, false} {
		l := newTestLimiter(t, &fakeOracle{suspended: suspended}, 900000, 500000)

		first := policy.Policy{Min: 300000, Max: 1800000}
		second := first
		l.OnPolicyAdjust(policy.Adjust, &first)
		l.OnPolicyAdjust(policy.Adjust, &second)

		if first != second {
			t.Errorf("suspended=%t: results differ: %v vs %v", suspended, first, second)
		}
	}
}

func TestOnPolicyAdjustScreenCycle(t *testing.T) {
	o := &fakeOracle{}
	l := newTestLimiter(t, o, 100000, 500000)

	// The event source always hands over the requested range, never the
	// clamped one, so turning the screen back on restores it.
	requested := policy.Policy{Min: 300000, Max: 1800000}

	p := requested
	l.OnPolicyAdjust(policy.Adjust, &p)
	if p != requested {
		t.Fatalf("screen on: %v, want %v", p, requested)
	}

	o.set(true)
	p = requested
	l.OnPolicyAdjust(policy.Adjust, &p)
	if p != (policy.Policy{Min: 100000, Max: 500000}) {
		t.Fatalf("screen off: %v", p)
	}

	o.set(false)
	p = requested
	l.OnPolicyAdjust(policy.Adjust, &p)
	if p != requested {
		t.Fatalf("screen on again: %v, want %v", p, requested)
	}
}

func TestOnPolicyAdjustOracleError(t *testing.T) {
	o := &fakeOracle{suspended: true, err: errors.New("read failed")}
	l := newTestLimiter(t, o, 100000, 500000)

	p := policy.Policy{Min: 300000, Max: 1800000}
	l.OnPolicyAdjust(policy.Adjust, &p)

	if p != (policy.Policy{Min: 300000, Max: 1800000}) {
		t.Errorf("oracle error should pass through, got %v", p)
	}
}

func TestOnPolicyAdjustNilPolicy(t *testing.T) {
	o := &fakeOracle{}
	l := newTestLimiter(t, o, 100000, 500000)
	l.OnPolicyAdjust(policy.Adjust, nil)
	if o.calls != 0 {
		t.Errorf("oracle queried for nil policy")
	}
}

func TestBootstrap(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		boot     policy.Policy
		wantMin  policy.Frequency
		wantMax  policy.Frequency
		disabled bool
	}{
		{
			name:    "configured bounds are kept",
			opts:    Options{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 500000},
			boot:    policy.Policy{Min: 200000, Max: 2000000},
			wantMin: 100000,
			wantMax: 500000,
		},
		{
			name:    "unset bounds come from boot policy",
			opts:    Options{Enabled: true},
			boot:    policy.Policy{Min: 200000, Max: 2000000},
			wantMin: 200000,
			wantMax: 2000000,
		},
		{
			name:    "only unset max is seeded",
			opts:    Options{Enabled: true, ScreenoffMin: 300000},
			boot:    policy.Policy{Min: 200000, Max: 2000000},
			wantMin: 300000,
			wantMax: 2000000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(&fakeOracle{}, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			l.Bootstrap(tt.boot)

			s := l.Snapshot()
			if s.ScreenoffMin != tt.wantMin || s.ScreenoffMax != tt.wantMax {
				t.Errorf("screen-off = %d/%d, want %d/%d", s.ScreenoffMin, s.ScreenoffMax, tt.wantMin, tt.wantMax)
			}
			if s.LastNormalMin != tt.wantMin || s.LastNormalMax != tt.wantMax {
				t.Errorf("last normal = %d/%d, want %d/%d", s.LastNormalMin, s.LastNormalMax, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestConcurrentAdjustAndStore(t *testing.T) {
	o := &fakeOracle{suspended: true}
	l := newTestLimiter(t, o, 100000, 500000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p := policy.Policy{CPU: uint(i), Min: 300000, Max: 1800000}
				l.OnPolicyAdjust(policy.Adjust, &p)
				if !p.Valid() {
					t.Errorf("inverted policy %v", p)
					return
				}
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = l.Store("min=900000")
				_ = l.Store("min=100000")
				_ = l.Store("off")
				_ = l.Store("on")
			}
		}()
	}
	wg.Wait()
}

func TestSettersTakeEffectOnNextAdjust(t *testing.T) {
	o := &fakeOracle{suspended: true}
	l := newTestLimiter(t, o, 100000, 500000)
	l.Bootstrap(policy.Policy{})

	// Setting min above max is allowed, the next adjust repairs it.
	l.SetScreenoffMin(800000)
	if s := l.Snapshot(); s.ScreenoffMin != 800000 || s.ScreenoffMax != 500000 {
		t.Fatalf("screen-off range = %d/%d, want 800000/500000", s.ScreenoffMin, s.ScreenoffMax)
	}
	p := policy.Policy{Min: 300000, Max: 1800000}
	l.OnPolicyAdjust(policy.Adjust, &p)
	if p != (policy.Policy{Min: 800000, Max: 800000}) {
		t.Errorf("policy = %v, want 800000-800000", p)
	}

	l.SetScreenoffMax(1000000)
	p = policy.Policy{Min: 300000, Max: 1800000}
	l.OnPolicyAdjust(policy.Adjust, &p)
	if p != (policy.Policy{Min: 800000, Max: 1000000}) {
		t.Errorf("policy = %v, want 800000-1000000", p)
	}

	l.SetEnabled(false)
	p = policy.Policy{Min: 300000, Max: 1800000}
	l.OnPolicyAdjust(policy.Adjust, &p)
	if p != (policy.Policy{Min: 300000, Max: 1800000}) {
		t.Errorf("disabled limiter changed policy to %v", p)
	}
}
