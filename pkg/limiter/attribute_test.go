package limiter

import (
	"errors"
	"testing"
)

func TestStore(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
		want    State
	}{
		{
			name:  "off",
			token: "off",
			want:  State{Enabled: false, ScreenoffMin: 100000, ScreenoffMax: 500000},
		},
		{
			name:  "on with trailing newline",
			token: "on\n",
			want:  State{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 500000},
		},
		{
			name:  "min",
			token: "min=200000",
			want:  State{Enabled: true, ScreenoffMin: 200000, ScreenoffMax: 500000},
		},
		{
			name:  "max",
			token: "max=800000\n",
			want:  State{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 800000},
		},
		{
			name:  "min above max is accepted",
			token: "min=900000",
			want:  State{Enabled: true, ScreenoffMin: 900000, ScreenoffMax: 500000},
		},
		{
			name:    "unparsable min",
			token:   "min=abc",
			wantErr: true,
			want:    State{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 500000},
		},
		{
			name:    "negative max",
			token:   "max=-1",
			wantErr: true,
			want:    State{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 500000},
		},
		{
			name:    "empty max",
			token:   "max=",
			wantErr: true,
			want:    State{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 500000},
		},
		{
			name:    "unknown command",
			token:   "turbo",
			wantErr: true,
			want:    State{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 500000},
		},
		{
			name:    "prefix of on is not on",
			token:   "onward",
			wantErr: true,
			want:    State{Enabled: true, ScreenoffMin: 100000, ScreenoffMax: 500000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLimiter(t, &fakeOracle{}, 100000, 500000)

			err := l.Store(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Store(%q) error = %v, wantErr %t", tt.token, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Store(%q) error = %v, want ErrInvalidInput", tt.token, err)
			}
			if got := l.Snapshot(); got != tt.want {
				t.Errorf("state = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestShow(t *testing.T) {
	l := newTestLimiter(t, &fakeOracle{}, 100000, 500000)

	want := "status: on\nmin = 100000 KHz\nmax = 500000 KHz\n"
	if got := l.Show(); got != want {
		t.Errorf("Show() = %q, want %q", got, want)
	}

	if err := l.Store("off"); err != nil {
		t.Fatal(err)
	}
	if err := l.Store("max=1200000"); err != nil {
		t.Fatal(err)
	}

	want = "status: off\nmin = 100000 KHz\nmax = 1200000 KHz\n"
	if got := l.Show(); got != want {
		t.Errorf("Show() = %q, want %q", got, want)
	}
}
