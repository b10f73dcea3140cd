package display

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
)

func init() {
	Register("backlight", NewBacklight)
	Register("drm", NewDRM)
	Register("file", NewFile)
	Register("static", func(opts Options) (Oracle, error) {
		return Static(opts.Suspended), nil
	})
}

// Static always gives the same answer.
type Static bool

func (s Static) IsSuspended() (bool, error) {
	return bool(s), nil
}

// Backlight reads a backlight device. The panel is off when bl_power is
// non-zero (FB_BLANK_*), or when bl_power is missing and brightness is 0.
type Backlight struct {
	dir string
}

// NewBacklight uses opts.Path as the device directory, or the first device
// under /sys/class/backlight.
func NewBacklight(opts Options) (Oracle, error) {
	dir := opts.Path
	if dir == "" {
		match, err := firstMatch(opts.sysfs("class", "backlight", "*", "brightness"))
		if err != nil {
			return nil, err
		}
		dir = filepath.Dir(match)
	}
	if err := checkReadable(filepath.Join(dir, "brightness")); err != nil {
		return nil, err
	}
	return &Backlight{dir: dir}, nil
}

func (b *Backlight) IsSuspended() (bool, error) {
	if v, err := readAttr(filepath.Join(b.dir, "bl_power")); err == nil {
		n, err := strconv.Atoi(v)
		if err != nil {
			return false, fmt.Errorf("parse bl_power %q: %w", v, err)
		}
		return n != 0, nil
	}

	v, err := readAttr(filepath.Join(b.dir, "brightness"))
	if err != nil {
		return false, fmt.Errorf("read brightness: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return false, fmt.Errorf("parse brightness %q: %w", v, err)
	}
	return n == 0, nil
}

// DRM reads the DPMS state of DRM connectors. Without a fixed connector it
// watches every connected one and reports the display suspended only when
// all of them are.
type DRM struct {
	// dir is a fixed connector directory. When empty, connectors matching
	// glob are rescanned on every query so hotplug is followed.
	dir  string
	glob string
}

// NewDRM uses opts.Path as the connector directory, or every connector under
// /sys/class/drm whose status is connected. It fails with ErrUnavailable when
// no connector is connected.
func NewDRM(opts Options) (Oracle, error) {
	if opts.Path != "" {
		if err := checkReadable(filepath.Join(opts.Path, "dpms")); err != nil {
			return nil, err
		}
		return &DRM{dir: opts.Path}, nil
	}

	d := &DRM{glob: opts.sysfs("class", "drm", "card*-*")}
	if _, err := d.connected(); err != nil {
		return nil, err
	}
	return d, nil
}

// connected lists the connectors that have a display attached and a
// readable dpms attribute, in name order.
func (d *DRM) connected() ([]string, error) {
	matches, err := filepath.Glob(d.glob)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var dirs []string
	for _, m := range matches {
		if status, err := readAttr(filepath.Join(m, "status")); err != nil || status != "connected" {
			continue
		}
		if checkReadable(filepath.Join(m, "dpms")) != nil {
			continue
		}
		dirs = append(dirs, m)
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: no connected connector matches %s", ErrUnavailable, d.glob)
	}
	return dirs, nil
}

func (d *DRM) IsSuspended() (bool, error) {
	if d.dir != "" {
		return connectorSuspended(d.dir)
	}

	dirs, err := d.connected()
	if err != nil {
		return false, err
	}
	for _, dir := range dirs {
		off, err := connectorSuspended(dir)
		if err != nil {
			return false, fmt.Errorf("%s: %w", filepath.Base(dir), err)
		}
		if !off {
			return false, nil
		}
	}
	return true, nil
}

func connectorSuspended(dir string) (bool, error) {
	if v, err := readAttr(filepath.Join(dir, "enabled")); err == nil && v == "disabled" {
		return true, nil
	}

	v, err := readAttr(filepath.Join(dir, "dpms"))
	if err != nil {
		return false, fmt.Errorf("read dpms: %w", err)
	}
	switch v {
	case "On":
		return false, nil
	case "Off", "Standby", "Suspend":
		return true, nil
	default:
		return false, fmt.Errorf("unknown dpms state %q", v)
	}
}

// File compares a single attribute against a "suspended" value. Touchscreen
// drivers that export their suspend state fit here.
type File struct {
	path           string
	suspendedValue string
}

// NewFile requires opts.Path. SuspendedValue defaults to "1".
func NewFile(opts Options) (Oracle, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: file provider needs a path", ErrUnavailable)
	}
	if err := checkReadable(opts.Path); err != nil {
		return nil, err
	}
	v := opts.SuspendedValue
	if v == "" {
		v = "1"
	}
	return &File{path: opts.Path, suspendedValue: v}, nil
}

func (f *File) IsSuspended() (bool, error) {
	v, err := readAttr(f.path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", f.path, err)
	}
	return v == f.suspendedValue, nil
}
