// cidwatch watches CID availability, signs evidence packs and keeps the
// stake ledger.
//
// Usage:
//
//	cidwatch probe <cid> [--config=cidwatch.yaml]
//	cidwatch watch [cid...] [--interval=5m] [--metrics-addr=:9464]
//	cidwatch verify <pack.json> --public-key=<b64>
//	cidwatch keygen -o watcher.key
//	cidwatch ledger <fund|record|payout|claim|withdraw|status|events> ...
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cidwatch/internal/config"
	"cidwatch/internal/format"
	"cidwatch/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	output     string
}

// cfg is loaded before every subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cidwatch",
	Short: "Signed availability evidence and stake ledger for IPFS content",
	Long: "cidwatch probes gateways for a CID, classifies the cycle under a k-of-n policy,\n" +
		"signs a canonical evidence pack, publishes it and records the verdict in the stake ledger.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(rootFlags.logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, rootFlags.logFormat, cmd.ErrOrStderr())
		c, err := config.Resolve(rootFlags.configPath)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "Config file (YAML/JSON); default $"+config.EnvConfig+" or "+config.DefaultPath)
	f.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format: text or json")
	f.StringVar(&rootFlags.output, "output", "table", "Output: table, md or json")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.Version = version
}

func outputMode() format.Mode {
	return format.ParseMode(rootFlags.output)
}

func jsonOutput() bool {
	return rootFlags.output == "json"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
