package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"telemetrycore/pkg/encryption"
)

func newKeygenCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate key material for encryption.kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch kind {
			case "age":
				id, rcpt, err := encryption.GenerateAgeKeypair()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "# recipient: %s\n%s\n", rcpt, id)
			case "aesgcm":
				key := make([]byte, 32)
				if _, err := rand.Read(key); err != nil {
					return err
				}
				fmt.Fprintln(out, hex.EncodeToString(key))
			default:
				return fmt.Errorf("unsupported kind %q (age or aesgcm)", kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "age", "age or aesgcm")
	return cmd
}
