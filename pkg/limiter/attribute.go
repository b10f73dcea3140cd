package limiter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/policy"
)

// Show renders the limits attribute: status, then the screen-off range.
func (l *Limiter) Show() string {
	s := l.Snapshot()

	status := "off"
	if s.Enabled {
		status = "on"
	}

	return fmt.Sprintf("status: %s\nmin = %d KHz\nmax = %d KHz\n", status, s.ScreenoffMin, s.ScreenoffMax)
}

// Store applies one attribute command: "on", "off", "min=<kHz>" or
// "max=<kHz>". Surrounding whitespace is ignored. Anything else, including
// an unparsable frequency, returns ErrInvalidInput and leaves the limiter
// untouched. min > max is accepted here and repaired on the next Adjust.
func (l *Limiter) Store(token string) error {
	token = strings.TrimSpace(token)

	switch {
	case token == "on":
		l.SetEnabled(true)
		return nil
	case token == "off":
		l.SetEnabled(false)
		return nil
	}

	if v, ok := strings.CutPrefix(token, "min="); ok {
		f, err := parseFrequency(v)
		if err != nil {
			return err
		}
		l.SetScreenoffMin(f)
		return nil
	}

	if v, ok := strings.CutPrefix(token, "max="); ok {
		f, err := parseFrequency(v)
		if err != nil {
			return err
		}
		l.SetScreenoffMax(f)
		return nil
	}

	logrus.WithField("token", token).Error("unrecognized screen-off limits command")
	return fmt.Errorf("%w: unrecognized command %q", ErrInvalidInput, token)
}

func parseFrequency(s string) (policy.Frequency, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		logrus.WithField("value", s).Error("invalid screen-off frequency")
		return 0, fmt.Errorf("%w: frequency %q: %v", ErrInvalidInput, s, err)
	}
	return policy.Frequency(v), nil
}
