package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/freqclamp/pkg/config"
	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/daemon"
)

type statusData struct {
	state    *daemon.State
	policies []cpufreq.Info
	config   *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	policies, err := apiClient.GetPolicies()
	if err != nil {
		return nil, fmt.Errorf("failed to get cpufreq policies: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		state:    st,
		policies: policies,
		config:   conf,
	}, nil
}

type statusJSON struct {
	State         *daemon.State         `json:"state"`
	Policies      []cpufreq.Info        `json:"policies"`
	Configuration *config.RawFileConfig `json:"configuration"`
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of freqclamp",
		Long:    `Get the display state, the screen-off limits, and the limits of every CPU.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statusJSON{
					State:         data.state,
					Policies:      data.policies,
					Configuration: data.config,
				})
			}

			conf := config.NewFileFromConfig(data.config, "")
			st := data.state

			cmd.Println(bold("Display:"))
			if st.Suspended {
				cmd.Printf("  State: %s\n", color.New(color.Bold, color.FgYellow).Sprint("suspended"))
			} else {
				cmd.Printf("  State: %s\n", bold("on"))
			}
			if st.DisplayKnown && !st.DisplayChangedAt.IsZero() {
				cmd.Printf("  Since: %s\n", st.DisplayChangedAt.Local().Format("2006-01-02 15:04:05"))
			}
			cmd.Printf("  Provider: %s\n", bold("%s", conf.Oracle().Provider))

			cmd.Println()

			cmd.Println(bold("Screen-off limits:"))
			cmd.Printf("  Enabled: %s\n", bool2Text(st.Enabled))
			cmd.Printf("  Minimum: %s\n", mhz(st.ScreenoffMin))
			cmd.Printf("  Maximum: %s\n", mhz(st.ScreenoffMax))
			cmd.Printf("  Last normal range: %s - %s\n", mhz(st.LastNormalMin), mhz(st.LastNormalMax))
			if st.Enabled && st.Suspended {
				cmd.Println("    CPUs are held to the screen-off range until the display comes back.")
			}

			cmd.Println()

			cmd.Println(bold("CPU policies:"))
			for _, p := range data.policies {
				limits := fmt.Sprintf("%s - %s", mhz(p.Limits.Min), mhz(p.Limits.Max))
				if st.Enabled && st.Suspended {
					limits = color.YellowString("%s", limits)
				}
				cmd.Printf("  cpu%d: %s (hardware %d-%d MHz, governor %s, now %d MHz)\n",
					p.CPU, limits, p.Bounds.Min.MHz(), p.Bounds.Max.MHz(), p.Governor, p.Current.MHz())
			}

			cmd.Println()

			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Poll interval: %s\n", bold("%s", conf.PollInterval()))
			cmd.Printf("  Resync schedule: %s\n", bold("%s", conf.ResyncSchedule()))
			journal := conf.JournalPath()
			if journal == "" {
				journal = "disabled"
			}
			cmd.Printf("  Decision journal: %s\n", bold("%s", journal))
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}
