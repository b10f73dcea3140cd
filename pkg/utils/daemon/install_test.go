package daemon

import (
	"strings"
	"testing"
)

func TestRenderUnit(t *testing.T) {
	unit := RenderUnit("/usr/local/bin/freqclamp", "/etc/freqclamp.json", "/run/freqclamp.sock")

	want := "ExecStart=/usr/local/bin/freqclamp daemon --config /etc/freqclamp.json --daemon-socket /run/freqclamp.sock\n"
	if !strings.Contains(unit, want) {
		t.Errorf("unit does not contain %q:\n%s", want, unit)
	}
	if strings.Contains(unit, "/path/to/") {
		t.Errorf("unit still has placeholders:\n%s", unit)
	}
}
