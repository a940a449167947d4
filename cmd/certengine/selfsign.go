package main

import (
	"github.com/spf13/cobra"

	"github.com/remiblancher/certengine/internal/x509util"
)

func newSelfSignCmd(a *app) *cobra.Command {
	var (
		subject subjectFlags
		key     keyFlags
		issue   issueFlags
		issuer  issuerFlags
		isCA    bool
		pathLen int
	)
	cmd := &cobra.Command{
		Use:   "selfsign",
		Short: "Issue a self-signed certificate",
		Long: `Issue a certificate whose issuer is its own subject.

Examples:
  certengine selfsign --key root.key --cn "Example Root" --ca --path-len 1 --out root.crt
  certengine selfsign --issuer kms --key-id alias/root --cn "KMS Root" --ca`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := key.ref()
			if err != nil {
				return err
			}
			issue.apply(a.cfg)
			iss, closeFn, err := a.newIssuer(cmd.Context(), issuer)
			if err != nil {
				return err
			}
			defer closeFn()

			opts := issue.options()
			opts.SAN = subject.san()
			if isCA {
				spec, err := x509util.ProfileExtensions("ca")
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("path-len") {
					spec.BasicConstraints.PathLen = &pathLen
				}
				opts.Extensions = spec
			}

			cert, err := iss.CreateSelfSigned(cmd.Context(), ref, subject.subject(), opts)
			if err != nil {
				return err
			}
			return writeOutput(cmd, issue.out, cert)
		},
	}
	subject.bind(cmd)
	key.bind(cmd, "Signing")
	issue.bind(cmd)
	cmd.Flags().StringVar(&issuer.variant, "issuer", "local", "Issuer: local or kms")
	cmd.Flags().BoolVar(&isCA, "ca", false, "Issue a CA certificate (ca profile)")
	cmd.Flags().IntVar(&pathLen, "path-len", 0, "pathLenConstraint of a CA certificate")
	return cmd
}
