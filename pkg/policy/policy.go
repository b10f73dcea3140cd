package policy

import "fmt"

// Frequency is a CPU frequency in kHz, the unit cpufreq uses everywhere.
type Frequency uint32

// MHz returns f in MHz, rounded down.
func (f Frequency) MHz() uint32 {
	return uint32(f) / 1000
}

// EventKind is the phase of a policy notification.
type EventKind int

const (
	// Adjust is delivered while a policy is being recomputed. Listeners may
	// rewrite Min and Max.
	Adjust EventKind = iota
	// Incompatible is delivered when the proposed policy conflicts with
	// hardware constraints. Listeners may only report.
	Incompatible
	// Notify is delivered after the policy has been applied.
	Notify
)

func (k EventKind) String() string {
	switch k {
	case Adjust:
		return "adjust"
	case Incompatible:
		return "incompatible"
	case Notify:
		return "notify"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Policy is the allowed frequency range of one CPU.
type Policy struct {
	CPU uint      `json:"cpu"`
	Min Frequency `json:"min"`
	Max Frequency `json:"max"`
}

// Valid reports whether the range is not inverted.
func (p Policy) Valid() bool {
	return p.Min <= p.Max
}

func (p Policy) String() string {
	return fmt.Sprintf("cpu%d[%d-%d kHz]", p.CPU, p.Min, p.Max)
}
