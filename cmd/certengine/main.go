// Command certengine issues, inspects and verifies X.509 certificates with
// local keys, remote custody keys or an ACME CA.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/certengine/internal/crypto"
)

// Build-time variables, set with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	// Cleanup PKCS#11 session pools before exit
	crypto.CloseAllPools()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "certengine",
		Short: "Certificate engine: CSRs, issuance, chain verification and parsing",
		Long: `certengine builds CSRs, issues certificates and verifies chains.

Issuers:
  local   Signs with a private key file or a key id from local.keys
  kms     Signs with a key held by a custody backend (aws, http, pkcs11, local)
  acme    Obtains certificates from an RFC 8555 CA

Examples:
  # Generate a key and a self-signed root
  certengine key gen --algorithm ecdsa-p384 --out root.key
  certengine selfsign --key root.key --cn "Example Root" --profile ca --out root.crt

  # CSR workflow
  certengine key gen --out server.key
  certengine csr --key server.key --cn server.example.com --dns server.example.com --out server.csr
  certengine sign --csr server.csr --ca-cert root.crt --key root.key --profile server --out server.crt

  # Verify and inspect
  certengine verify server.crt --root root.crt
  certengine parse server.crt`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Path to the YAML configuration (or set CERTENGINE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&a.auditLogPath, "audit-log", "",
		"Path to audit log file (or set CERTENGINE_AUDIT_LOG)")

	rootCmd.AddCommand(newKeyCmd())
	rootCmd.AddCommand(newCSRCmd(a))
	rootCmd.AddCommand(newSelfSignCmd(a))
	rootCmd.AddCommand(newSignCmd(a))
	rootCmd.AddCommand(newVerifyCmd(a))
	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newServeCmd(a))
	return rootCmd
}
