package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/hack"
)

const unitName = "freqclamp.service"

var (
	unitDir       = "/etc/systemd/system"
	systemctlPath = "/bin/systemctl"
)

func unitPath() string {
	return filepath.Join(unitDir, unitName)
}

// RenderUnit fills the unit template for the given binary, config and
// socket paths.
func RenderUnit(exePath, configPath, socketPath string) string {
	return strings.NewReplacer(
		"/path/to/freqclamp", exePath,
		"/path/to/config", configPath,
		"/path/to/socket", socketPath,
	).Replace(hack.SystemdUnitTemplate)
}

func systemctl(args ...string) error {
	out, err := exec.Command(systemctlPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func Install(configPath, socketPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	unit := RenderUnit(exePath, configPath, socketPath)

	logrus.Infof("writing systemd unit to %s", unitDir)

	err = os.MkdirAll(unitDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	// warn if the file already exists
	if _, err = os.Stat(unitPath()); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath())
	}

	err = os.WriteFile(unitPath(), []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath(), err)
	}

	logrus.Infof("starting freqclamp")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}
