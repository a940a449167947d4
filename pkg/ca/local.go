package ca

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/remiblancher/certengine/internal/audit"
	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
)

// LocalIssuer signs with private key material supplied by the caller or
// resolved through a KeyProvider.
type LocalIssuer struct {
	cfg      LocalConfig
	provider pkicrypto.KeyProvider
	o        options
}

var _ CertIssuer = (*LocalIssuer)(nil)

// NewLocalIssuer creates a local issuer. provider resolves
// cfg.DefaultKey and may be nil when every call carries key material.
func NewLocalIssuer(cfg LocalConfig, provider pkicrypto.KeyProvider, opts ...Option) *LocalIssuer {
	if cfg.Validity == 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.Backdate == 0 {
		cfg.Backdate = DefaultBackdate
	}
	if cfg.SerialBits == 0 {
		cfg.SerialBits = DefaultSerialBits
	}
	return &LocalIssuer{cfg: cfg, provider: provider, o: newOptions(opts)}
}

func (l *LocalIssuer) Variant() Variant { return VariantLocal }

func (l *LocalIssuer) Capabilities() Capabilities {
	return Capabilities{
		Variant:             VariantLocal,
		KeyAlgorithms:       keyAlgorithmNames(),
		SignatureAlgorithms: pkicrypto.Tokens(),
		Features: []string{
			"csr", "self_signed", "sign_from_csr", "verify", "parse",
			"san", "eku", "key_usage", "akid", "skid", "name_constraints",
		},
		Profiles: x509util.ProfileNames(),
	}
}

// CreateCSR builds a CSR with key, or the default key when key is empty.
func (l *LocalIssuer) CreateCSR(ctx context.Context, key pkicrypto.KeyRef, subject x509util.SubjectSpec, opts CSROptions) ([]byte, error) {
	key, err := l.resolveKey(ctx, key)
	if err != nil {
		return nil, l.o.finish(VariantLocal, opCreateCSR, time.Now(), classify(opCreateCSR, VariantLocal, err))
	}
	if opts.SigAlg == "" {
		opts.SigAlg = l.cfg.DefaultSigAlg
	}
	return createLocalCSR(ctx, l.o, VariantLocal, key, subject, opts)
}

// CreateSelfSigned issues a self-signed certificate. Without Extensions the
// certificate gets basicConstraints{ca:false} and a SKID.
func (l *LocalIssuer) CreateSelfSigned(ctx context.Context, key pkicrypto.KeyRef, subject x509util.SubjectSpec, opts IssueOptions) (out []byte, err error) {
	start := time.Now()
	defer func() {
		if err = l.o.finish(VariantLocal, opSelfSigned, start, classify(opSelfSigned, VariantLocal, err)); err != nil {
			out = nil
		}
	}()

	signer, plan, err := l.loadSigner(ctx, key, opts.SigAlg)
	if err != nil {
		return nil, err
	}
	name, err := x509util.MarshalName(subject)
	if err != nil {
		return nil, err
	}
	spki, err := pkicrypto.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, err
	}
	spec, err := extensionSpec(opts, leafDefaults(false))
	if err != nil {
		return nil, err
	}
	exts, err := x509util.ComposeExtensions(x509util.ComposeInput{
		Spec:             spec,
		SAN:              opts.SAN,
		SubjectPublicKey: spki,
		IssuerPublicKey:  spki,
	})
	if err != nil {
		return nil, err
	}
	return l.sign(ctx, signer, plan, opSelfSigned, opts, x509util.TBSTemplate{
		Issuer:     name,
		Subject:    name,
		PublicKey:  spki,
		Extensions: exts.List(),
	})
}

// SignCert issues a certificate for csr signed by caKey. The issuer name is
// opts.Issuer, else the subject of opts.CACert, else the CSR subject.
func (l *LocalIssuer) SignCert(ctx context.Context, csrData []byte, caKey pkicrypto.KeyRef, opts SignOptions) (out []byte, err error) {
	start := time.Now()
	defer func() {
		if err = l.o.finish(VariantLocal, opSignCert, start, classify(opSignCert, VariantLocal, err)); err != nil {
			out = nil
		}
	}()

	csr, err := parseCSR(csrData)
	if err != nil {
		return nil, err
	}
	signer, plan, err := l.loadSigner(ctx, caKey, opts.SigAlg)
	if err != nil {
		return nil, err
	}
	issuerSPKI, err := pkicrypto.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, err
	}
	issuerName, err := resolveIssuerName(opts, signer.Public(), csr.RawSubject)
	if err != nil {
		return nil, err
	}
	inherited, err := csrSAN(csr)
	if err != nil {
		return nil, err
	}
	spec, err := extensionSpec(opts.IssueOptions, leafDefaults(true))
	if err != nil {
		return nil, err
	}
	exts, err := x509util.ComposeExtensions(x509util.ComposeInput{
		Spec:             spec,
		SAN:              opts.SAN,
		Inherited:        inherited,
		SubjectPublicKey: csr.RawSubjectPublicKeyInfo,
		IssuerPublicKey:  issuerSPKI,
		DefaultAKID:      true,
	})
	if err != nil {
		return nil, err
	}
	return l.sign(ctx, signer, plan, opSignCert, opts.IssueOptions, x509util.TBSTemplate{
		Issuer:     issuerName,
		Subject:    csr.RawSubject,
		PublicKey:  csr.RawSubjectPublicKeyInfo,
		Extensions: exts.List(),
	})
}

func (l *LocalIssuer) sign(ctx context.Context, signer pkicrypto.MessageSigner, plan pkicrypto.SignaturePlan, op string, opts IssueOptions, tmpl x509util.TBSTemplate) ([]byte, error) {
	serial := opts.Serial
	if serial == nil {
		var err error
		if serial, err = randomSerial(l.o.rand, l.cfg.SerialBits); err != nil {
			return nil, err
		}
	}
	tmpl.Serial = serial
	tmpl.NotBefore, tmpl.NotAfter = validityWindow(l.o.now(), opts.NotBefore, opts.NotAfter, l.cfg.Backdate, l.cfg.Validity)

	der, err := x509util.SignCertificate(ctx, signer, plan, tmpl)
	if err != nil {
		return nil, err
	}
	if err := auditIssued(l.o, VariantLocal, op, der, plan.Token); err != nil {
		return nil, err
	}
	return codec(opts.OutputDER).Encode(x509util.PEMCertificate, der), nil
}

// resolveKey returns key, or the configured default key when key is empty.
func (l *LocalIssuer) resolveKey(ctx context.Context, key pkicrypto.KeyRef) (pkicrypto.KeyRef, error) {
	if key.HasMaterial() {
		return key, nil
	}
	kid := key.Kid
	if kid == "" {
		kid = l.cfg.DefaultKey
	}
	if kid == "" || l.provider == nil {
		if key.IsEmpty() {
			return key, ErrNoDefaultKey
		}
		return key, fmt.Errorf("%w: key %q has no private key", ErrMissingKeyMaterial, key.Kid)
	}
	ref, err := l.provider.Resolve(ctx, kid)
	if err != nil {
		return key, err
	}
	if len(key.Tags) > 0 {
		tags := make(map[string]string, len(ref.Tags)+len(key.Tags))
		for k, v := range key.Tags {
			tags[k] = v
		}
		for k, v := range ref.Tags {
			tags[k] = v
		}
		ref.Tags = tags
	}
	return ref, nil
}

func (l *LocalIssuer) loadSigner(ctx context.Context, key pkicrypto.KeyRef, sigAlg string) (pkicrypto.MessageSigner, pkicrypto.SignaturePlan, error) {
	ref, err := l.resolveKey(ctx, key)
	if err != nil {
		return nil, pkicrypto.SignaturePlan{}, err
	}
	s, err := ref.Signer()
	if err != nil {
		return nil, pkicrypto.SignaturePlan{}, err
	}
	if sigAlg == "" && ref.Tag(pkicrypto.TagSigAlg) == "" && ref.Tag(pkicrypto.TagAlg) == "" {
		sigAlg = l.cfg.DefaultSigAlg
	}
	plan, err := pkicrypto.Plan(sigAlg, ref, s.Public())
	if err != nil {
		return nil, pkicrypto.SignaturePlan{}, err
	}
	l.o.logger.Debug("signature plan resolved",
		zap.String("variant", string(VariantLocal)),
		zap.String("kid", ref.Kid),
		zap.String("sig_alg", plan.Token))
	return pkicrypto.NewLocalSigner(s), plan, nil
}

// resolveIssuerName picks the issuer DN of a CSR-based certificate. A CA
// certificate must carry caPub.
func resolveIssuerName(opts SignOptions, caPub crypto.PublicKey, csrSubject []byte) ([]byte, error) {
	if opts.Issuer != nil {
		name, err := x509util.MarshalName(*opts.Issuer)
		if err != nil {
			return nil, &ValidationError{Op: opSignCert, Field: "issuer", Err: err}
		}
		return name, nil
	}
	if len(opts.CACert) > 0 {
		ders, err := x509util.DecodeCertificates(opts.CACert)
		if err != nil {
			return nil, &ValidationError{Op: opSignCert, Field: "ca_cert", Err: err}
		}
		caCert, err := x509util.ParseCertificate(ders[0])
		if err != nil {
			return nil, &ValidationError{Op: opSignCert, Field: "ca_cert", Err: err}
		}
		if caCert.PublicKey != nil && !pkicrypto.PublicKeysEqual(caCert.PublicKey, caPub) {
			return nil, &ValidationError{Op: opSignCert, Field: "ca_cert", Err: fmt.Errorf("%w: CA key does not match CA certificate", pkicrypto.ErrKeyMismatch)}
		}
		return caCert.RawSubject, nil
	}
	return csrSubject, nil
}

// auditIssued writes CERT_ISSUED and the success log line for a DER
// certificate.
func auditIssued(o options, variant Variant, op string, der []byte, sigAlg string) error {
	serial, subject, issuer := issuedInfo(der)
	if err := audit.LogCertIssued(o.audit, string(variant), op, serial, subject, issuer, sigAlg); err != nil {
		return &IssuanceError{Op: op, Variant: variant, Err: err}
	}
	o.logger.Info("certificate issued",
		zap.String("variant", string(variant)),
		zap.String("operation", op),
		zap.String("serial", serial),
		zap.String("subject", subject),
		zap.String("issuer", issuer),
		zap.String("sig_alg", sigAlg))
	return nil
}
