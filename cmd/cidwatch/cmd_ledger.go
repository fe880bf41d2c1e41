package main

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"cidwatch/internal/aggregate"
	"cidwatch/internal/economics"
	"cidwatch/internal/format"
)

var ledgerFlags struct {
	dbPath string
	caller string
	base   bool
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and drive the stake ledger",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if ledgerFlags.dbPath != "" {
			cfg.Ledger.DBPath = ledgerFlags.dbPath
		}
		return nil
	},
}

var ledgerFundCmd = &cobra.Command{
	Use:   "fund <cid> <amount>",
	Short: "Fund a publisher stake for a CID",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(cmd *cobra.Command, eng *economics.Engine, args []string) error {
		publisher, err := publisherAccount()
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		pos, err := eng.FundStake(cmd.Context(), publisher, args[0], amount)
		if err != nil {
			return err
		}
		return printPosition(cmd, eng, pos.CID)
	}),
}

var ledgerRecordCmd = &cobra.Command{
	Use:   "record <cid> <OK|DEGRADED|BREACH>",
	Short: "Record a cycle verdict",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(cmd *cobra.Command, eng *economics.Engine, args []string) error {
		status := aggregate.Status(args[1])
		switch status {
		case aggregate.StatusOK, aggregate.StatusDegraded, aggregate.StatusBreach:
		default:
			return fmt.Errorf("unknown status %q", args[1])
		}
		if _, err := eng.RecordCycle(cmd.Context(), callerAccount(), args[0], status); err != nil {
			return err
		}
		return printPosition(cmd, eng, args[0])
	}),
}

var ledgerPayoutCmd = &cobra.Command{
	Use:   "payout <cid>",
	Short: "Pay out insurance after repeated breaches",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, eng *economics.Engine, args []string) error {
		p, err := eng.PayoutOnBreach(cmd.Context(), callerAccount(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return writeJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprint(cmd.OutOrStdout(), format.NewTable(outputMode()).
			Header("Share", "Amount").
			Row("validator", economics.FormatUnits(p.Validator)).
			Row("treasury", economics.FormatUnits(p.Treasury)).
			Footer("slash", economics.FormatUnits(p.Total)).
			AlignRight(2).
			String())
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}),
}

var ledgerClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim accrued monitoring rewards for the caller",
	Args:  cobra.NoArgs,
	RunE: withEngine(func(cmd *cobra.Command, eng *economics.Engine, _ []string) error {
		amount, err := eng.ClaimRewards(cmd.Context(), callerAccount())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Claimed %s\n", economics.FormatUnits(amount))
		return nil
	}),
}

var ledgerWithdrawCmd = &cobra.Command{
	Use:   "withdraw <cid> <amount>",
	Short: "Withdraw publisher stake",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(cmd *cobra.Command, eng *economics.Engine, args []string) error {
		publisher, err := publisherAccount()
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if _, err := eng.WithdrawPublisherStake(cmd.Context(), publisher, args[0], amount); err != nil {
			return err
		}
		return printPosition(cmd, eng, args[0])
	}),
}

var ledgerStatusCmd = &cobra.Command{
	Use:   "status <cid>",
	Short: "Show the ledger position for a CID",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, eng *economics.Engine, args []string) error {
		return printPosition(cmd, eng, args[0])
	}),
}

var ledgerEventsCmd = &cobra.Command{
	Use:   "events [cid]",
	Short: "List ledger events, optionally for one CID",
	Args:  cobra.MaximumNArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, eng *economics.Engine, args []string) error {
		var cid string
		if len(args) == 1 {
			cid = args[0]
		}
		events, err := eng.Events(cmd.Context(), cid)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return writeJSON(cmd.OutOrStdout(), events)
		}
		fmt.Fprint(cmd.OutOrStdout(), format.Events(outputMode(), events))
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}),
}

func init() {
	pf := ledgerCmd.PersistentFlags()
	pf.StringVar(&ledgerFlags.dbPath, "db", "", "Ledger DB path (overrides ledger.db_path)")
	pf.StringVar(&ledgerFlags.caller, "as", "", "Caller account; required for fund and withdraw (default economics.beneficiary)")
	pf.BoolVar(&ledgerFlags.base, "base-units", false, "Amounts are integer base units instead of decimal tokens")

	ledgerCmd.AddCommand(ledgerFundCmd, ledgerRecordCmd, ledgerPayoutCmd, ledgerClaimCmd,
		ledgerWithdrawCmd, ledgerStatusCmd, ledgerEventsCmd)
}

// withEngine opens the ledger for the duration of fn.
func withEngine(fn func(*cobra.Command, *economics.Engine, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, st, err := openEngine(cfg, nil)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd, eng, args)
	}
}

var errPublisherRequired = errors.New("--as is required: name the publisher account")

// callerAccount is --as, or the configured beneficiary when unset.
func callerAccount() string {
	if ledgerFlags.caller != "" {
		return ledgerFlags.caller
	}
	return cfg.Economics.Beneficiary
}

// publisherAccount is --as; stake operations never fall back to the beneficiary.
func publisherAccount() (string, error) {
	if ledgerFlags.caller == "" {
		return "", errPublisherRequired
	}
	return ledgerFlags.caller, nil
}

func parseAmount(s string) (*big.Int, error) {
	if ledgerFlags.base {
		return economics.ParseAmount(s)
	}
	return economics.ParseUnits(s)
}

func printPosition(cmd *cobra.Command, eng *economics.Engine, cid string) error {
	pos, err := eng.Position(cmd.Context(), cid)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), pos)
	}
	fmt.Fprint(cmd.OutOrStdout(), format.Position(outputMode(), pos, eng.Withdrawable(pos)))
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
