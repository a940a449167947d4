package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/certengine/pkg/ca"
)

func newCSRCmd(a *app) *cobra.Command {
	var (
		subject           subjectFlags
		key               keyFlags
		issue             issueFlags
		issuer            string
		challengePassword string
	)
	cmd := &cobra.Command{
		Use:   "csr",
		Short: "Create a PKCS#10 certificate signing request",
		Long: `Create a CSR signed with a local key or a custody key.

Examples:
  certengine csr --key server.key --cn server.example.com --dns server.example.com --out server.csr
  certengine csr --issuer kms --key-id alias/web --cn web.example.com --profile server`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := key.ref()
			if err != nil {
				return err
			}
			opts := ca.CSROptions{
				SAN:               subject.san(),
				Profile:           issue.profile,
				SigAlg:            issue.sigAlg,
				ChallengePassword: challengePassword,
				OutputDER:         issue.der,
			}

			var csr []byte
			switch ca.Variant(issuer) {
			case ca.VariantLocal, "":
				csr, err = ca.CreateCSR(cmd.Context(), ref, subject.subject(), opts, a.options()...)
			case ca.VariantKMS:
				c, closeFn, cerr := a.newCustody(cmd.Context())
				if cerr != nil {
					return cerr
				}
				defer closeFn()
				csr, err = ca.NewKMSIssuer(a.cfg.KMS, c, a.options()...).CreateCSR(cmd.Context(), ref, subject.subject(), opts)
			default:
				return fmt.Errorf("csr supports the local and kms issuers, got %q", issuer)
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd, issue.out, csr)
		},
	}
	subject.bind(cmd)
	key.bind(cmd, "Signing")
	issue.bind(cmd)
	cmd.Flags().StringVar(&issuer, "issuer", "local", "Key holder: local or kms")
	cmd.Flags().StringVar(&challengePassword, "challenge-password", "", "PKCS#9 challenge password")
	return cmd
}
