package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cidwatch/internal/evidence"
)

var verifyFlags struct {
	publicKey string
}

var verifyCmd = &cobra.Command{
	Use:   "verify <pack.json>",
	Short: "Verify the watcher signature on an evidence pack",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFlags.publicKey, "public-key", "", "Watcher public key, base64 (default from config)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read pack: %w", err)
	}
	pub := verifyFlags.publicKey
	if pub == "" {
		if pub, err = cfg.PublicKey(); err != nil {
			return err
		}
	}
	res := evidence.VerifyBytes(data, pub)
	out := cmd.OutOrStdout()
	if jsonOutput() {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else if res.Valid {
		fmt.Fprintln(out, "signature valid")
	}
	if !res.Valid {
		return fmt.Errorf("signature invalid: %s", res.Reason)
	}
	return nil
}

// writePack writes the canonical encoding of pack to path.
func writePack(path string, pack evidence.Pack) error {
	data, err := evidence.Encode(pack)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write pack: %w", err)
	}
	return nil
}
