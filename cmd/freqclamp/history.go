package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/freqclamp/pkg/client"
	"github.com/charlie0129/freqclamp/pkg/events"
)

func NewHistoryCommand() *cobra.Command {
	limit := 20

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show recent limiter decisions",
		GroupID: gAdvanced,
		Long: `Show recent limiter decisions, newest first.

The daemon only records decisions when journalPath is set in the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := apiClient.GetHistory(limit)
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("decision journal is disabled, set journalPath in %s and reload the daemon", configPath)
				}
				return err
			}

			for _, e := range entries {
				result := "passthrough"
				if e.Overridden {
					result = color.YellowString("overridden")
				}
				if e.Repaired {
					result += color.RedString(" (repaired)")
				}
				cmd.Printf("%s  cpu%d  %d-%d -> %d-%d kHz  %s\n",
					e.At.Local().Format("2006-01-02 15:04:05"),
					e.In.CPU, e.In.Min, e.In.Max, e.Out.Min, e.Out.Max, result)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", limit, "Number of decisions to show")

	return cmd
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Follow display and policy changes",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return err
			}

			for ev := range ch {
				switch ev.Name {
				case events.DisplayChanged:
					p, err := events.DecodeAs[events.DisplayChangedEvent](ev)
					if err != nil {
						return err
					}
					state := "on"
					if p.Suspended {
						state = "suspended"
					}
					cmd.Printf("display %s\n", bold("%s", state))
				case events.PolicyApplied:
					p, err := events.DecodeAs[events.PolicyAppliedEvent](ev)
					if err != nil {
						return err
					}
					cmd.Printf("cpu%d limits %d-%d kHz (requested %d-%d kHz)\n",
						p.CPU, p.AppliedMin, p.AppliedMax, p.RequestedMin, p.RequestedMax)
				case events.ConfigChanged:
					p, err := events.DecodeAs[events.ConfigChangedEvent](ev)
					if err != nil {
						return err
					}
					cmd.Printf("config changed: %s\n", p.Command)
				}
			}

			if ctx.Err() == nil {
				return fmt.Errorf("daemon closed the event stream")
			}
			return nil
		},
	}
}
