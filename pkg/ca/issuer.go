package ca

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/remiblancher/certengine/internal/audit"
	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/logging"
	"github.com/remiblancher/certengine/internal/x509util"
)

// Variant tags an issuer implementation.
type Variant string

const (
	VariantLocal Variant = "local"
	VariantACME  Variant = "acme"
	VariantKMS   Variant = "kms"
)

// Operation names used in logs, audit events and metrics.
const (
	opCreateCSR  = "create_csr"
	opSelfSigned = "self_signed"
	opSignCert   = "sign_cert"
)

// CertIssuer produces certificates. Implementations are safe for
// concurrent use.
type CertIssuer interface {
	Variant() Variant
	Capabilities() Capabilities

	// CreateSelfSigned issues a certificate whose issuer is its subject.
	CreateSelfSigned(ctx context.Context, key pkicrypto.KeyRef, subject x509util.SubjectSpec, opts IssueOptions) ([]byte, error)

	// SignCert issues a certificate for a PEM or DER CSR. caKey is ignored
	// by issuers that hold no CA key.
	SignCert(ctx context.Context, csr []byte, caKey pkicrypto.KeyRef, opts SignOptions) ([]byte, error)
}

// Capabilities describes what an issuer supports.
type Capabilities struct {
	Variant             Variant  `json:"variant"`
	KeyAlgorithms       []string `json:"key_algorithms"`
	SignatureAlgorithms []string `json:"signature_algorithms"`
	Features            []string `json:"features"`
	Profiles            []string `json:"profiles"`
}

// IssueOptions control a certificate issuance.
type IssueOptions struct {
	// Serial is random when nil.
	Serial    *big.Int
	NotBefore *time.Time
	NotAfter  *time.Time
	// Extensions replaces the variant defaults when set.
	Extensions *x509util.ExtensionSpec
	// Profile names an extension preset used when Extensions is nil.
	Profile string
	// SAN entries come before Extensions.SubjectAltName.
	SAN       *x509util.AltNameSpec
	SigAlg    string
	OutputDER bool
}

// SignOptions control issuance from a CSR.
type SignOptions struct {
	IssueOptions

	// Issuer overrides the issuer name taken from CACert or the CSR.
	Issuer *x509util.SubjectSpec
	// CACert is the PEM or DER certificate of caKey.
	CACert []byte

	// ACME only. Deadline wins over Timeout.
	Deadline       *time.Time
	Timeout        time.Duration
	ChainIndex     *int
	PreferredChain string
}

// Option configures the ambient collaborators of an issuer.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	audit   audit.Writer
	metrics *Metrics
	now     func() time.Time
	rand    io.Reader
}

func newOptions(opts []Option) options {
	o := options{
		audit: audit.NopWriter{},
		now:   time.Now,
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNop(o.logger)
	return o
}

// WithLogger sets the logger. Key material is never logged.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAudit sets the audit writer. A failed audit write fails the operation.
func WithAudit(w audit.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.audit = w
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRand replaces the serial number entropy source.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

// finish records the outcome of an issuer operation in metrics, and logs
// and audits failures.
func (o options) finish(variant Variant, op string, start time.Time, err error) error {
	if err != nil {
		lvl := o.logger.Info
		if _, remote := err.(*IssuanceError); remote {
			lvl = o.logger.Warn
		}
		lvl("operation failed",
			zap.String("variant", string(variant)),
			zap.String("operation", op),
			zap.Error(err))
		if aerr := audit.LogIssuanceFailed(o.audit, string(variant), op, err.Error()); aerr != nil {
			o.logger.Error("audit write failed", zap.Error(aerr))
		}
	}
	o.metrics.observeIssuance(variant, op, start, err)
	return err
}

// codec returns the output encoder for a request.
func codec(outputDER bool) x509util.Codec {
	return x509util.Codec{OutputDER: outputDER}
}

// validityWindow applies the default window: now - backdate to
// now + validity. An explicit notBefore is not backdated and the window
// runs validity from it.
func validityWindow(now time.Time, notBefore, notAfter *time.Time, backdate, validity time.Duration) (time.Time, time.Time) {
	nb, na := now.Add(-backdate), now.Add(validity)
	if notBefore != nil {
		nb = *notBefore
		na = nb.Add(validity)
	}
	if notAfter != nil {
		na = *notAfter
	}
	return nb, na
}

// extensionSpec returns the caller's spec, the named profile, or def.
func extensionSpec(opts IssueOptions, def func() *x509util.ExtensionSpec) (*x509util.ExtensionSpec, error) {
	if opts.Extensions != nil {
		return opts.Extensions, nil
	}
	if opts.Profile != "" {
		return x509util.ProfileExtensions(opts.Profile)
	}
	return def(), nil
}

func leafDefaults(akid bool) func() *x509util.ExtensionSpec {
	return func() *x509util.ExtensionSpec {
		return &x509util.ExtensionSpec{
			BasicConstraints:       &x509util.BasicConstraintsSpec{CA: false},
			AuthorityKeyIdentifier: &akid,
		}
	}
}

// parseCSR decodes and self-verifies a CSR.
func parseCSR(data []byte) (*x509util.CSR, error) {
	csr, err := x509util.ParseCSR(data)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, err
	}
	return csr, nil
}

// csrSAN returns the SAN requested in a CSR, or nil.
func csrSAN(csr *x509util.CSR) (*x509util.AltNameSpec, error) {
	san, err := csr.SubjectAltNames()
	if err != nil {
		return nil, &ValidationError{Op: opSignCert, Field: "csr.san", Err: err}
	}
	if san.IsEmpty() {
		return nil, nil
	}
	return &san, nil
}

// issuedInfo extracts the audit fields of an issued certificate.
func issuedInfo(der []byte) (serial, subject, issuer string) {
	cert, err := x509util.ParseCertificate(der)
	if err != nil {
		return "", "", ""
	}
	return cert.SerialNumber.Text(16), x509util.NameString(cert.RawSubject), x509util.NameString(cert.RawIssuer)
}

func keyAlgorithmNames() []string {
	algs := pkicrypto.AllAlgorithms()
	out := make([]string, len(algs))
	for i, a := range algs {
		out[i] = string(a)
	}
	return out
}
