package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/certengine/pkg/ca"
)

func newSignCmd(a *app) *cobra.Command {
	var (
		key            keyFlags
		issue          issueFlags
		issuer         issuerFlags
		csrPath        string
		caCertPath     string
		timeout        time.Duration
		chainIndex     int
		preferredChain string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Issue a certificate from a CSR",
		Long: `Issue a certificate for a CSR with a local key, a custody key or an ACME CA.

Examples:
  # Local CA key
  certengine sign --csr server.csr --ca-cert ca.crt --key ca.key --profile server --out server.crt

  # Custody key (kms.backend in the configuration)
  certengine sign --issuer kms --csr server.csr --ca-cert ca.crt --key-id alias/issuing

  # ACME, answering http-01 challenges from a web root
  certengine --config acme.yaml sign --issuer acme --csr server.csr --webroot /var/www/html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if csrPath == "" {
				return fmt.Errorf("--csr is required")
			}
			csr, err := os.ReadFile(csrPath)
			if err != nil {
				return fmt.Errorf("failed to read CSR: %w", err)
			}
			ref, err := key.ref()
			if err != nil {
				return err
			}

			opts := ca.SignOptions{IssueOptions: issue.options(), Timeout: timeout, PreferredChain: preferredChain}
			if caCertPath != "" {
				if opts.CACert, err = os.ReadFile(caCertPath); err != nil {
					return fmt.Errorf("failed to read CA certificate: %w", err)
				}
			}
			if cmd.Flags().Changed("chain-index") {
				opts.ChainIndex = &chainIndex
			}

			issue.apply(a.cfg)
			iss, closeFn, err := a.newIssuer(cmd.Context(), issuer)
			if err != nil {
				return err
			}
			defer closeFn()

			cert, err := iss.SignCert(cmd.Context(), csr, ref, opts)
			if err != nil {
				return err
			}
			return writeOutput(cmd, issue.out, cert)
		},
	}
	key.bind(cmd, "CA")
	issue.bind(cmd)
	cmd.Flags().StringVar(&issuer.variant, "issuer", "local", "Issuer: local, kms or acme")
	cmd.Flags().StringVar(&issuer.webroot, "webroot", "", "ACME: answer http-01 challenges under this directory")
	cmd.Flags().StringVar(&csrPath, "csr", "", "CSR file (PEM or DER, required)")
	cmd.Flags().StringVar(&caCertPath, "ca-cert", "", "Issuing CA certificate")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "ACME: finalize timeout")
	cmd.Flags().IntVar(&chainIndex, "chain-index", 0, "ACME: chain to return (0 is the default chain)")
	cmd.Flags().StringVar(&preferredChain, "preferred-chain", "", "ACME: prefer the chain whose root CN contains this")
	return cmd
}
