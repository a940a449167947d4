package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/certengine/internal/crypto"
)

func newKeyCmd() *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Key management commands",
		Long:  `Commands for generating and managing cryptographic keys.`,
	}
	keyCmd.AddCommand(newKeyGenCmd())
	return keyCmd
}

func newKeyGenCmd() *cobra.Command {
	var (
		algorithm  string
		out        string
		pubOut     string
		passphrase string
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a cryptographic key pair",
		Long: `Generate a new key pair and write the private key as PKCS#8 PEM.

Supported algorithms:
` + algorithmList() + `
Examples:
  certengine key gen --algorithm ecdsa-p384 --out key.pem
  certengine key gen --algorithm ed448 --out ed448.pem --pub-out ed448.pub
  certengine key gen --out enc.pem --passphrase env:KEY_PASS`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			alg, err := crypto.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			kp, err := crypto.GenerateKeyPair(alg)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			pemKey, err := crypto.MarshalPrivateKeyPEM(kp.PrivateKey, crypto.ResolvePassphrase(passphrase))
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, pemKey, 0o600); err != nil {
				return fmt.Errorf("failed to write key: %w", err)
			}
			if pubOut != "" {
				pemPub, err := crypto.MarshalPublicKeyPEM(kp.PrivateKey.Public())
				if err != nil {
					return err
				}
				if err := os.WriteFile(pubOut, pemPub, 0o644); err != nil {
					return fmt.Errorf("failed to write public key: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s key: %s\n", alg, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", string(crypto.AlgECDSAP256), "Key algorithm")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output private key file (required)")
	cmd.Flags().StringVar(&pubOut, "pub-out", "", "Output public key file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Encrypt the key (or env:VAR)")
	return cmd
}

func algorithmList() string {
	var b strings.Builder
	for _, alg := range crypto.AllAlgorithms() {
		fmt.Fprintf(&b, "  %-12s - %s\n", alg, alg.Description())
	}
	return b.String()
}
