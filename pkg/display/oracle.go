package display

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrUnavailable is returned when no usable display-state provider exists.
var ErrUnavailable = errors.New("display state provider unavailable")

// Oracle answers whether the display is currently suspended.
type Oracle interface {
	IsSuspended() (bool, error)
}

// Func adapts a plain boolean query to an Oracle.
type Func func() bool

func (f Func) IsSuspended() (bool, error) {
	return f(), nil
}

// Options configure a provider. Which fields matter depends on the provider.
type Options struct {
	// SysfsRoot is prepended to the default sysfs paths. Empty means "/sys".
	SysfsRoot string
	// Path overrides the node the provider reads.
	Path string
	// SuspendedValue is the content of Path that means "suspended", used by
	// the file provider.
	SuspendedValue string
	// Suspended is the fixed answer of the static provider.
	Suspended bool
}

func (o Options) sysfs(elem ...string) string {
	root := o.SysfsRoot
	if root == "" {
		root = "/sys"
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

// Factory builds an Oracle from options, or fails if the platform lacks
// the node it needs.
type Factory func(opts Options) (Oracle, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a provider available under name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Providers lists registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the named provider. "auto" tries backlight then drm.
func Resolve(name string, opts Options) (Oracle, error) {
	if name == "" || name == "auto" {
		var errs []error
		for _, candidate := range []string{"backlight", "drm"} {
			o, err := Resolve(candidate, opts)
			if err == nil {
				return o, nil
			}
			errs = append(errs, err)
		}
		return nil, fmt.Errorf("%w: no provider detected: %v", ErrUnavailable, errors.Join(errs...))
	}

	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnavailable, name)
	}

	return f(opts)
}

func readAttr(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// checkReadable fails with ErrUnavailable if path cannot be read.
func checkReadable(path string) error {
	if err := unix.Access(path, unix.R_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// firstMatch returns the first existing path matching glob.
func firstMatch(glob string) (string, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, m := range matches {
		if checkReadable(m) == nil {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: nothing matches %s", ErrUnavailable, glob)
}
