package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/policy"
	"github.com/charlie0129/freqclamp/pkg/utils/ptr"
)

//go:embed schema.json
var schemaJSON []byte

var (
	defaultFileConfig = &RawFileConfig{
		Enabled:      ptr.To(true),
		ScreenoffMin: ptr.To(uint32(100000)),
		ScreenoffMax: ptr.To(uint32(500000)),
		Oracle:       &OracleConfig{Provider: "auto"},
		PollInterval: ptr.To("1s"),
		// The display watcher catches screen edges; the resync only picks up
		// limits changed behind our back.
		ResyncSchedule:     ptr.To("@every 1m"),
		AllowNonRootAccess: ptr.To(false),
		JournalPath:        ptr.To(""),
		StatePath:          ptr.To("/var/lib/freqclamp/state.db"),
		SysfsRoot:          ptr.To("/sys"),
	}

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Enabled            *bool         `json:"enabled,omitempty"`
	ScreenoffMin       *uint32       `json:"screenoffMin,omitempty"`
	ScreenoffMax       *uint32       `json:"screenoffMax,omitempty"`
	Oracle             *OracleConfig `json:"oracle,omitempty"`
	PollInterval       *string       `json:"pollInterval,omitempty"`
	ResyncSchedule     *string       `json:"resyncSchedule,omitempty"`
	AllowNonRootAccess *bool         `json:"allowNonRootAccess,omitempty"`
	JournalPath        *string       `json:"journalPath,omitempty"`
	StatePath          *string       `json:"statePath,omitempty"`
	SysfsRoot          *string       `json:"sysfsRoot,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	o := c.Oracle()
	rawConfig := &RawFileConfig{
		Enabled:            ptr.To(c.Enabled()),
		ScreenoffMin:       ptr.To(uint32(c.ScreenoffMin())),
		ScreenoffMax:       ptr.To(uint32(c.ScreenoffMax())),
		Oracle:             &o,
		PollInterval:       ptr.To(c.PollInterval().String()),
		ResyncSchedule:     ptr.To(c.ResyncSchedule()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
		JournalPath:        ptr.To(c.JournalPath()),
		StatePath:          ptr.To(c.StatePath()),
		SysfsRoot:          ptr.To(c.SysfsRoot()),
	}

	return rawConfig, nil
}

// get returns *v, or *def when v is unset.
func get[T any](v, def *T) T {
	if v != nil {
		return *v
	}
	return *def
}

func (f *File) rlock() func() {
	if f.c == nil {
		panic("config is nil")
	}
	f.mu.RLock()
	return f.mu.RUnlock
}

func (f *File) lock() func() {
	if f.c == nil {
		panic("config is nil")
	}
	f.mu.Lock()
	return f.mu.Unlock
}

func (f *File) Enabled() bool {
	defer f.rlock()()
	return get(f.c.Enabled, defaultFileConfig.Enabled)
}

// ScreenoffMin may return 0, which means "seed from the boot policy".
func (f *File) ScreenoffMin() policy.Frequency {
	defer f.rlock()()
	return policy.Frequency(get(f.c.ScreenoffMin, defaultFileConfig.ScreenoffMin))
}

func (f *File) ScreenoffMax() policy.Frequency {
	defer f.rlock()()
	return policy.Frequency(get(f.c.ScreenoffMax, defaultFileConfig.ScreenoffMax))
}

func (f *File) Oracle() OracleConfig {
	defer f.rlock()()
	o := get(f.c.Oracle, defaultFileConfig.Oracle)
	if o.Provider == "" {
		o.Provider = defaultFileConfig.Oracle.Provider
	}
	return o
}

func (f *File) PollInterval() time.Duration {
	defer f.rlock()()

	s := get(f.c.PollInterval, defaultFileConfig.PollInterval)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logrus.Warnf("invalid poll interval %q, using %s", s, *defaultFileConfig.PollInterval)
		d, _ = time.ParseDuration(*defaultFileConfig.PollInterval)
	}
	return d
}

func (f *File) ResyncSchedule() string {
	defer f.rlock()()
	return get(f.c.ResyncSchedule, defaultFileConfig.ResyncSchedule)
}

func (f *File) AllowNonRootAccess() bool {
	defer f.rlock()()
	return get(f.c.AllowNonRootAccess, defaultFileConfig.AllowNonRootAccess)
}

func (f *File) JournalPath() string {
	defer f.rlock()()
	return get(f.c.JournalPath, defaultFileConfig.JournalPath)
}

// StatePath is where requested ranges are kept across restarts. Empty
// disables it.
func (f *File) StatePath() string {
	defer f.rlock()()
	return get(f.c.StatePath, defaultFileConfig.StatePath)
}

func (f *File) SysfsRoot() string {
	defer f.rlock()()
	return get(f.c.SysfsRoot, defaultFileConfig.SysfsRoot)
}

func (f *File) SetEnabled(b bool) {
	defer f.lock()()
	f.c.Enabled = &b
}

func (f *File) SetScreenoffMin(v policy.Frequency) {
	defer f.lock()()
	f.c.ScreenoffMin = ptr.To(uint32(v))
}

func (f *File) SetScreenoffMax(v policy.Frequency) {
	defer f.lock()()
	f.c.ScreenoffMax = ptr.To(uint32(v))
}

func (f *File) SetOracle(o OracleConfig) {
	defer f.lock()()
	f.c.Oracle = &o
}

func (f *File) SetAllowNonRootAccess(b bool) {
	defer f.lock()()
	f.c.AllowNonRootAccess = &b
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = pkgerrors.Wrap(err, "failed to add config schema")
			return
		}
		schema, schemaErr = compiler.Compile("schema.json")
	})
	return schema, schemaErr
}

// Validate checks raw JSON against the config schema.
func Validate(b []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return pkgerrors.Wrap(err, "invalid json")
	}
	return s.Validate(v)
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	if err := Validate(b); err != nil {
		return pkgerrors.Wrapf(err, "config file %s does not match schema", f.filepath)
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if conf.ResyncSchedule != nil {
		if _, err := ParseSchedule(*conf.ResyncSchedule); err != nil {
			return pkgerrors.Wrapf(err, "config file %s", f.filepath)
		}
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	o := f.Oracle()
	return logrus.Fields{
		"enabled":            f.Enabled(),
		"screenoffMin":       f.ScreenoffMin(),
		"screenoffMax":       f.ScreenoffMax(),
		"oracle":             o.Provider,
		"oraclePath":         o.Path,
		"pollInterval":       f.PollInterval().String(),
		"resyncSchedule":     f.ResyncSchedule(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
		"journalPath":        f.JournalPath(),
		"statePath":          f.StatePath(),
		"sysfsRoot":          f.SysfsRoot(),
	}
}
