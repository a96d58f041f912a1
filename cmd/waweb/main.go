// Command waweb is a small utility around the connection engine: check
// whether a phone number is registered, and inspect or convert auth
// bootstrap files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/waforge/waweb"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "waweb",
		Short:         "WhatsApp Web connection engine utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(checkCmd(), authCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func checkCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check <phone>",
		Short: "Check whether a phone number is registered (no connection needed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			jid, err := waweb.IsOnWhatsAppNoConn(ctx, nil, args[0])
			if err != nil {
				return err
			}
			fmt.Println(jid)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "lookup timeout")
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect and convert auth bootstrap files",
	}

	export := &cobra.Command{
		Use:   "export <file>",
		Short: "Print the portable base64 form of an auth bootstrap file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := waweb.LoadAuthInfoFile(args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info.Base64(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	var passphrase string
	seal := &cobra.Command{
		Use:   "seal <in> <out>",
		Short: "Re-encrypt a plain auth bootstrap file for storage at rest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("--passphrase is required")
			}
			info, err := waweb.LoadAuthInfoFile(args[0])
			if err != nil {
				return err
			}
			return waweb.SaveAuthInfoSealed(args[1], passphrase, info)
		},
	}
	seal.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the sealed file")

	cmd.AddCommand(export, seal)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the waweb version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("waweb", version)
		},
	}
}
