package main

import (
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/protocols"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single rebalance cycle and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		status := a.controller.Run(cmd.Context())

		snapshots, err := a.protocols.Latest(cmd.Context())
		if err != nil {
			log.Printf("[APP] Protocol snapshot unavailable: %v", err)
		}
		printSummary(cmd.OutOrStdout(), status, protocols.MarkActive(snapshots, a.vault.CurrentProtocol()))

		if status.Phase == core.PhaseErrored {
			return fmt.Errorf("cycle failed: %s", status.Message)
		}
		return nil
	},
}

func printSummary(w io.Writer, status core.CycleStatus, snapshots []core.ProtocolSnapshot) {
	bold := color.New(color.Bold)
	bold.Fprintln(w, "Protocols")
	for _, p := range snapshots {
		marker := "  "
		if p.IsActive {
			marker = color.GreenString("* ")
		}
		fmt.Fprintf(w, "%s%-16s apy=%6.2f%%  risk=%d  tvl=%s\n", marker, p.Name, p.APY, p.RiskScore, p.TVL)
	}
	fmt.Fprintln(w)

	bold.Fprintln(w, "Cycle")
	switch status.Phase {
	case core.PhaseErrored:
		fmt.Fprintf(w, "  status:   %s\n", color.RedString(status.Message))
	case core.PhaseCompleted:
		fmt.Fprintf(w, "  status:   %s\n", color.GreenString(status.Message))
	default:
		fmt.Fprintf(w, "  status:   %s\n", color.YellowString(status.Message))
	}
	if d := status.Decision; d != nil {
		if d.ShouldRebalance {
			fmt.Fprintf(w, "  decision: move to %s (%+.2f%%)\n", color.CyanString(d.TargetProtocol), d.DeltaPercentage)
		} else {
			fmt.Fprintf(w, "  decision: stay\n")
		}
		fmt.Fprintf(w, "  reason:   %s\n", d.Reason)
	}
	if status.TxHash != "" {
		fmt.Fprintf(w, "  tx:       %s\n", status.TxHash)
	}
	if status.LastRun != nil {
		fmt.Fprintf(w, "  last run: %s\n", status.LastRun.Format("2006-01-02 15:04:05 MST"))
	}
}
