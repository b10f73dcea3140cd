package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/freqclamp/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

// logResponse prints what the daemon reported after a change.
func logResponse(ret string) {
	if ret != "" {
		logrus.Infof("daemon responded:\n%s", ret)
	}
}

func NewEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "enable",
		Short:   "Enable the screen-off limits",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.SetEnabled(true)
			if err != nil {
				return fmt.Errorf("failed to enable freqclamp: %w", err)
			}
			logResponse(ret)
			logrus.Info("successfully enabled screen-off limits")
			return nil
		},
	}
}

func NewDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "disable",
		Short:   "Disable the screen-off limits",
		GroupID: gBasic,
		Long: `Disable the screen-off limits.

CPU frequency is no longer touched, whether the display is on or off. The range in effect before the screen went off is written back right away.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.SetEnabled(false)
			if err != nil {
				return fmt.Errorf("failed to disable freqclamp: %w", err)
			}
			logResponse(ret)
			logrus.Info("successfully disabled screen-off limits. To re-enable them, run \"freqclamp enable\".")
			return nil
		},
	}
}

func NewMinCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "min [kHz]",
		Short:   "Set the screen-off minimum frequency",
		GroupID: gBasic,
		Long: `Set the screen-off minimum frequency, in kHz.

If the minimum is above the screen-off maximum, the maximum is raised to match it when applied.`,
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := parseFrequencyArg(args, "frequency")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetScreenoffMin(f)
			if err != nil {
				return fmt.Errorf("failed to set screen-off minimum: %w", err)
			}
			logResponse(ret)
			logrus.Infof("successfully set screen-off minimum to %d kHz", f)
			return nil
		},
	}
}

func NewMaxCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "max [kHz]",
		Short:   "Set the screen-off maximum frequency",
		GroupID: gBasic,
		Long:    `Set the screen-off maximum frequency, in kHz.`,
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := parseFrequencyArg(args, "frequency")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetScreenoffMax(f)
			if err != nil {
				return fmt.Errorf("failed to set screen-off maximum: %w", err)
			}
			logResponse(ret)
			logrus.Infof("successfully set screen-off maximum to %d kHz", f)
			return nil
		},
	}
}

func NewSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "set [token]",
		Short:   "Write a raw token to the limits attribute",
		GroupID: gAdvanced,
		Long: `Write a raw token to the limits attribute.

Accepted tokens are "on", "off", "min=<kHz>" and "max=<kHz>". Anything else is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := apiClient.Store(args[0])
			if err != nil {
				return fmt.Errorf("failed to store %q: %w", args[0], err)
			}
			logResponse(ret)
			return nil
		},
	}
}

func NewResyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "resync",
		Short:   "Re-apply limits to every CPU now",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := apiClient.Resync(); err != nil {
				return err
			}
			logrus.Info("successfully resynced cpufreq policies")
			return nil
		},
	}
}
