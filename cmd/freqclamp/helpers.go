package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"

	"github.com/charlie0129/freqclamp/pkg/policy"
	"github.com/charlie0129/freqclamp/pkg/version"
)

// parseFrequencyArg parses a single kHz argument.
func parseFrequencyArg(args []string, valueName string) (policy.Frequency, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return policy.Frequency(value), nil
}

// getVersion returns the client and daemon versions.
func getVersion() (string, string, error) {
	daemonVersion, err := apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func mhz(f policy.Frequency) string {
	return bold("%d MHz", f.MHz())
}
