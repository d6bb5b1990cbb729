package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoGNSS/internal/telemetry"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List receivers announcing their telemetry on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hosts, err := telemetry.Discover(timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "no receivers found")
				return nil
			}
			for _, h := range hosts {
				fmt.Fprintf(out, "%s  %s:%d  %v  %v\n", h.Instance, h.Hostname, h.Port, h.Addresses, h.TXT)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Browse duration")
	return cmd
}
