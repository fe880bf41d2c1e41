package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cidwatch/internal/economics"
	"cidwatch/internal/format"
)

var probeFlags struct {
	gateways  []string
	timeoutMs int
	record    bool
	packOut   string
}

var probeCmd = &cobra.Command{
	Use:   "probe <cid>",
	Short: "Run one monitoring cycle for a CID and print the signed pack",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	f := probeCmd.Flags()
	f.StringSliceVar(&probeFlags.gateways, "gateway", nil, "Gateway URL (repeatable; overrides config, sets threshold n)")
	f.IntVar(&probeFlags.timeoutMs, "timeout-ms", 0, "Per-probe timeout in ms (overrides config)")
	f.BoolVar(&probeFlags.record, "record", false, "Record the verdict in the ledger")
	f.StringVarP(&probeFlags.packOut, "pack-out", "o", "", "Write the signed pack to this file")
}

func runProbe(cmd *cobra.Command, args []string) error {
	if len(probeFlags.gateways) > 0 {
		cfg.Gateways = probeFlags.gateways
		cfg.Threshold.N = len(probeFlags.gateways)
		if cfg.Threshold.K > cfg.Threshold.N {
			cfg.Threshold.K = cfg.Threshold.N
		}
	}
	if probeFlags.timeoutMs > 0 {
		cfg.Probe.TimeoutMs = probeFlags.timeoutMs
	}
	deps, err := buildRunner(cfg, nil, probeFlags.record)
	if err != nil {
		return err
	}
	defer deps.Close()

	rep, err := deps.runner.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if probeFlags.packOut != "" {
		if err := writePack(probeFlags.packOut, rep.Pack); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return writeJSON(out, rep.Pack)
	}
	fmt.Fprint(out, format.Probes(outputMode(), rep.Results))
	fmt.Fprintln(out)
	fmt.Fprint(out, format.Verdict(outputMode(), rep.CID, rep.Verdict))
	fmt.Fprintln(out)
	switch {
	case rep.Receipt != nil:
		fmt.Fprintf(out, "Published: %s (%d attempt(s))\n", rep.Receipt.CID, rep.Receipt.Attempts)
	case rep.PublishErr != nil:
		fmt.Fprintf(out, "Publish failed: %v\n", rep.PublishErr)
	}
	if rep.Position != nil {
		fmt.Fprintf(out, "Ledger: consecutive breaches %d\n", rep.Position.ConsecutiveBreaches)
	}
	if rep.Payout != nil {
		fmt.Fprintf(out, "Insurance payout: %s\n", economics.FormatUnits(rep.Payout.Total))
	}
	return nil
}
