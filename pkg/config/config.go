package config

import (
	"time"

	"github.com/charlie0129/freqclamp/pkg/policy"
)

// OracleConfig selects the display-state provider.
type OracleConfig struct {
	Provider       string `json:"provider,omitempty"`
	Path           string `json:"path,omitempty"`
	SuspendedValue string `json:"suspendedValue,omitempty"`
	Suspended      bool   `json:"suspended,omitempty"`
}

type Config interface {
	Enabled() bool
	ScreenoffMin() policy.Frequency
	ScreenoffMax() policy.Frequency
	Oracle() OracleConfig
	PollInterval() time.Duration
	ResyncSchedule() string
	AllowNonRootAccess() bool
	JournalPath() string
	StatePath() string
	SysfsRoot() string

	SetEnabled(bool)
	SetScreenoffMin(policy.Frequency)
	SetScreenoffMax(policy.Frequency)
	SetOracle(OracleConfig)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
