package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/certengine/pkg/ca"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		roots           []string
		intermediates   []string
		at              string
		checkRevocation bool
		allowSelfSigned bool
		maxDepth        int
		asJSON          bool
	)
	cmd := &cobra.Command{
		Use:   "verify <cert-file>",
		Short: "Verify a certificate chain",
		Long: `Verify the validity window of a certificate and build a chain to a trust root.

The certificate file may bundle intermediates after the leaf.

Examples:
  certengine verify server.crt --root root.crt
  certengine verify server.crt --root root.crt --intermediate issuing.crt --at 2030-01-01T00:00:00Z
  certengine verify self.crt --allow-self-signed --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read certificate: %w", err)
			}
			opts := ca.VerifyOptions{
				CheckRevocation:             checkRevocation || a.cfg.Verify.CheckRevocation,
				AllowSelfSignedWithoutRoots: allowSelfSigned || a.cfg.Verify.AllowSelfSignedWithoutRoots,
				MaxDepth:                    maxDepth,
			}
			if opts.TrustRoots, err = readFiles(roots); err != nil {
				return err
			}
			if opts.Intermediates, err = readFiles(intermediates); err != nil {
				return err
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				opts.CheckTime = &t
			}

			res, err := ca.NewVerifier(a.cfg.Verify, a.options()...).Verify(cmd.Context(), cert, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printVerification(cmd, res)
			}
			if !res.Valid {
				return fmt.Errorf("certificate is not valid: %s", res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roots, "root", nil, "Trust root file (repeatable)")
	cmd.Flags().StringSliceVar(&intermediates, "intermediate", nil, "Intermediate certificate file (repeatable)")
	cmd.Flags().StringVar(&at, "at", "", "Check time (RFC 3339, default: now)")
	cmd.Flags().BoolVar(&checkRevocation, "check-revocation", false, "Build an OCSP request for the leaf")
	cmd.Flags().BoolVar(&allowSelfSigned, "allow-self-signed", false, "Accept a self-signed certificate when no root is given")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum chain length (default from configuration)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func printVerification(cmd *cobra.Command, res *ca.VerificationResult) {
	out := cmd.OutOrStdout()
	if res.Valid {
		fmt.Fprintf(out, "OK: %s\n", res.Subject)
		fmt.Fprintf(out, "  Chain length: %d\n", res.ChainLen)
	} else {
		fmt.Fprintf(out, "FAILED: %s\n", res.Subject)
		fmt.Fprintf(out, "  Reason:       %s\n", res.Reason)
	}
	fmt.Fprintf(out, "  Issuer:       %s\n", res.Issuer)
	fmt.Fprintf(out, "  Valid from:   %s\n", time.Unix(res.NotBefore, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  Valid until:  %s\n", time.Unix(res.NotAfter, 0).UTC().Format(time.RFC3339))
	if res.Revocation != nil {
		fmt.Fprintf(out, "  OCSP:         %s (not queried)\n", res.Revocation.OCSPServer)
	}
}
