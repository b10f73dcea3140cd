package hack

import (
	_ "embed"
)

// SystemdUnitTemplate is the unit installed by "freqclamp install". The
// /path/to/* placeholders are replaced at install time.
//
//go:embed freqclamp.service
var SystemdUnitTemplate string
