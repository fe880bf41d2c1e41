package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cidwatch/internal/keys"
)

var keygenFlags struct {
	out string
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a watcher ed25519 key file",
	RunE:  runKeygen,
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenFlags.out, "out", "o", "watcher.key", "Key file to write (mode 0600)")
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	kp, err := keys.Generate()
	if err != nil {
		return err
	}
	if err := kp.WriteFile(keygenFlags.out); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s\n", keygenFlags.out)
	fmt.Fprintf(out, "Public key: %s\n", kp.PublicKeyB64())
	fmt.Fprintf(out, "Fingerprint: %s\n", kp.Fingerprint())
	return nil
}
