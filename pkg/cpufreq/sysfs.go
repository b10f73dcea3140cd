package cpufreq

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charlie0129/freqclamp/pkg/policy"
)

const (
	cpuinfoMinFreq = "cpuinfo_min_freq"
	cpuinfoMaxFreq = "cpuinfo_max_freq"
	scalingMinFreq = "scaling_min_freq"
	scalingMaxFreq = "scaling_max_freq"
	scalingCurFreq = "scaling_cur_freq"
	scalingGov     = "scaling_governor"
)

// Sysfs reads and writes cpufreq policies under Root (normally "/sys").
type Sysfs struct {
	Root string
}

func (s *Sysfs) cpuDir() string {
	root := s.Root
	if root == "" {
		root = "/sys"
	}
	return filepath.Join(root, "devices", "system", "cpu")
}

// policyDir prefers cpufreq/policyN and falls back to cpuN/cpufreq.
func (s *Sysfs) policyDir(cpu uint) string {
	dir := filepath.Join(s.cpuDir(), "cpufreq", fmt.Sprintf("policy%d", cpu))
	if _, err := os.Stat(dir); err == nil {
		return dir
	}
	return filepath.Join(s.cpuDir(), fmt.Sprintf("cpu%d", cpu), "cpufreq")
}

// CPUs lists the CPUs that own a cpufreq policy.
func (s *Sysfs) CPUs() ([]uint, error) {
	cpus, err := s.scan(filepath.Join(s.cpuDir(), "cpufreq"), "policy", "")
	if err != nil {
		return nil, err
	}
	if len(cpus) == 0 {
		cpus, err = s.scan(s.cpuDir(), "cpu", "cpufreq")
		if err != nil {
			return nil, err
		}
	}
	if len(cpus) == 0 {
		return nil, fmt.Errorf("no cpufreq policies found under %s", s.cpuDir())
	}
	return cpus, nil
}

func (s *Sysfs) scan(dir, prefix, sub string) ([]uint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var cpus []uint
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(suffix, 10, 32)
		if err != nil {
			continue
		}
		if sub != "" {
			if _, err := os.Stat(filepath.Join(dir, e.Name(), sub)); err != nil {
				continue
			}
		}
		cpus = append(cpus, uint(id))
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })
	return cpus, nil
}

func (s *Sysfs) read(cpu uint, attr string) (policy.Frequency, error) {
	path := filepath.Join(s.policyDir(cpu), attr)
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s for cpu %d: %w", attr, cpu, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s for cpu %d: %w", attr, cpu, err)
	}
	return policy.Frequency(v), nil
}

func (s *Sysfs) write(cpu uint, attr string, f policy.Frequency) error {
	path := filepath.Join(s.policyDir(cpu), attr)
	err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(f), 10)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s=%d for cpu %d: %w", attr, f, cpu, err)
	}
	return nil
}

func (s *Sysfs) pair(cpu uint, minAttr, maxAttr string) (policy.Policy, error) {
	lo, err := s.read(cpu, minAttr)
	if err != nil {
		return policy.Policy{}, err
	}
	hi, err := s.read(cpu, maxAttr)
	if err != nil {
		return policy.Policy{}, err
	}
	return policy.Policy{CPU: cpu, Min: lo, Max: hi}, nil
}

// Bounds returns the hardware limits of cpu.
func (s *Sysfs) Bounds(cpu uint) (policy.Policy, error) {
	return s.pair(cpu, cpuinfoMinFreq, cpuinfoMaxFreq)
}

// Limits returns the current scaling limits of cpu.
func (s *Sysfs) Limits(cpu uint) (policy.Policy, error) {
	return s.pair(cpu, scalingMinFreq, scalingMaxFreq)
}

// SetLimits moves cpu from cur to want. The attribute order keeps
// scaling_min <= scaling_max after each single write.
func (s *Sysfs) SetLimits(cur, want policy.Policy) error {
	if !want.Valid() {
		return fmt.Errorf("refusing to write inverted policy %s", want)
	}

	writeMin := func() error {
		if want.Min == cur.Min {
			return nil
		}
		return s.write(want.CPU, scalingMinFreq, want.Min)
	}
	writeMax := func() error {
		if want.Max == cur.Max {
			return nil
		}
		return s.write(want.CPU, scalingMaxFreq, want.Max)
	}

	first, second := writeMin, writeMax
	if want.Min > cur.Max {
		first, second = writeMax, writeMin
	}
	if err := first(); err != nil {
		return err
	}
	return second()
}

// Info is a read-only view of one policy.
type Info struct {
	CPU      uint             `json:"cpu"`
	Governor string           `json:"governor"`
	Current  policy.Frequency `json:"current"`
	Bounds   policy.Policy    `json:"bounds"`
	Limits   policy.Policy    `json:"limits"`
}

// Describe collects Info for cpu. Governor and Current are best effort.
func (s *Sysfs) Describe(cpu uint) (Info, error) {
	info := Info{CPU: cpu}

	var err error
	if info.Bounds, err = s.Bounds(cpu); err != nil {
		return info, err
	}
	if info.Limits, err = s.Limits(cpu); err != nil {
		return info, err
	}
	info.Current, _ = s.read(cpu, scalingCurFreq)
	if b, err := os.ReadFile(filepath.Join(s.policyDir(cpu), scalingGov)); err == nil {
		info.Governor = strings.TrimSpace(string(b))
	}
	return info, nil
}
