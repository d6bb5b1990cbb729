package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoGNSS/internal/binlog"
)

func newDumpLogCmd() *cobra.Command {
	var every int
	cmd := &cobra.Command{
		Use:   "dumplog <channel-log>",
		Short: "Print a binary channel log as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := binlog.ReadAll(args[0])
			if err != nil {
				return err
			}
			return writeCSV(cmd.OutOrStdout(), recs, every)
		},
	}
	cmd.Flags().IntVar(&every, "every", 1, "Print every n-th record")
	return cmd
}

func writeCSV(w io.Writer, recs []binlog.Record, every int) error {
	if every < 1 {
		every = 1
	}
	if _, err := fmt.Fprintln(w, "channel,prn,status,lock,week,tow,cn0,doppler,code_phase,carrier_phase,ip,qp,dll,pll,fll"); err != nil {
		return err
	}
	for i := 0; i < len(recs); i += every {
		r := recs[i]
		_, err := fmt.Fprintf(w, "%d,%d,%d,%d,%d,%.6f,%.2f,%.3f,%.6f,%.4f,%.4f,%.4f,%.5f,%.5f,%.3f\n",
			r.ChannelNum, r.SVID, r.ChannelStatus, r.TrackingStatus, r.Week, r.ToW,
			r.CNo, r.Doppler, r.CodePhase, r.CarrierPhase, r.IP, r.QP, r.DllDisc, r.PllDisc, r.FllDisc)
		if err != nil {
			return err
		}
	}
	return nil
}
