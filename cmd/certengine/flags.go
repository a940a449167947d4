package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
	"github.com/remiblancher/certengine/pkg/ca"
)

// subjectFlags collect a subject name and SAN entries.
type subjectFlags struct {
	cn, o, ou, c, st, l, email string
	dns, ips, emails, uris     []string
}

func (f *subjectFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.cn, "cn", "", "Common name")
	fl.StringVar(&f.o, "org", "", "Organization")
	fl.StringVar(&f.ou, "ou", "", "Organizational unit")
	fl.StringVar(&f.c, "country", "", "Country (two letters)")
	fl.StringVar(&f.st, "state", "", "State or province")
	fl.StringVar(&f.l, "locality", "", "Locality")
	fl.StringVar(&f.email, "subject-email", "", "emailAddress attribute of the subject")
	fl.StringSliceVar(&f.dns, "dns", nil, "DNS SAN (repeatable)")
	fl.StringSliceVar(&f.ips, "ip", nil, "IP SAN (repeatable)")
	fl.StringSliceVar(&f.emails, "email", nil, "Email SAN (repeatable)")
	fl.StringSliceVar(&f.uris, "uri", nil, "URI SAN (repeatable)")
}

func (f *subjectFlags) subject() x509util.SubjectSpec {
	return x509util.SubjectSpec{
		CN: f.cn, O: f.o, OU: f.ou, C: f.c, ST: f.st, L: f.l, EmailAddress: f.email,
	}
}

// san returns nil when no SAN flag was given.
func (f *subjectFlags) san() *x509util.AltNameSpec {
	s := &x509util.AltNameSpec{DNS: f.dns, IP: f.ips, Email: f.emails, URI: f.uris}
	if s.IsEmpty() {
		return nil
	}
	return s
}

// keyFlags reference a signing key by file or by id.
type keyFlags struct {
	file       string
	kid        string
	passphrase string
}

func (f *keyFlags) bind(cmd *cobra.Command, usage string) {
	fl := cmd.Flags()
	fl.StringVar(&f.file, "key", "", usage+" private key file (PEM or DER)")
	fl.StringVar(&f.kid, "key-id", "", usage+" key id: local.keys entry or custody handle")
	fl.StringVar(&f.passphrase, "passphrase", "", "Key passphrase (or env:VAR)")
}

func (f *keyFlags) ref() (pkicrypto.KeyRef, error) {
	ref := pkicrypto.KeyRef{Kid: f.kid}
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return ref, fmt.Errorf("failed to read key: %w", err)
		}
		ref.Material = data
	}
	if f.passphrase != "" {
		ref.Tags = map[string]string{pkicrypto.TagPassphrase: f.passphrase}
	}
	return ref, nil
}

// issueFlags tune a certificate issuance.
type issueFlags struct {
	profile  string
	sigAlg   string
	validity time.Duration
	der      bool
	out      string
}

func (f *issueFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.profile, "profile", "", "Extension profile (server, client, code_signing, email_protection, ca)")
	fl.StringVar(&f.sigAlg, "sig-alg", "", "Signature algorithm (e.g. ECDSA-SHA384, RSA-PSS-SHA256, Ed25519)")
	fl.DurationVar(&f.validity, "validity", 0, "Validity period (default from configuration)")
	fl.BoolVar(&f.der, "der", false, "Write DER instead of PEM")
	fl.StringVarP(&f.out, "out", "o", "", "Output file (default: stdout)")
}

// apply overrides the configured validity when --validity is set.
func (f *issueFlags) apply(cfg *ca.Config) {
	if f.validity > 0 {
		cfg.Local.Validity = f.validity
		cfg.KMS.Validity = f.validity
	}
}

func (f *issueFlags) options() ca.IssueOptions {
	return ca.IssueOptions{Profile: f.profile, SigAlg: f.sigAlg, OutputDER: f.der}
}

// writeOutput writes data to path, or to the command's stdout when path is
// empty.
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readFiles(paths []string) ([][]byte, error) {
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		out = append(out, data)
	}
	return out, nil
}
