package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/certengine/pkg/ca"
)

func newParseCmd() *cobra.Command {
	var extensions bool
	cmd := &cobra.Command{
		Use:   "parse <cert-file>",
		Short: "Print certificate metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read certificate: %w", err)
			}
			info, err := ca.ParseCert(data, extensions)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().BoolVar(&extensions, "extensions", true, "Decode SAN, key usage and the other extensions")
	return cmd
}
