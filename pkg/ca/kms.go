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
	"github.com/remiblancher/certengine/pkg/custody"
)

// KMSIssuer signs with a key held by a custody backend. Only the TBS bytes
// leave the process; the returned signature is verified against the custody
// public key before a certificate is released.
type KMSIssuer struct {
	cfg     KMSConfig
	custody custody.Custody
	o       options
}

var _ CertIssuer = (*KMSIssuer)(nil)

// NewKMSIssuer creates a remote-custody issuer.
func NewKMSIssuer(cfg KMSConfig, c custody.Custody, opts ...Option) *KMSIssuer {
	if cfg.Validity == 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.Backdate == 0 {
		cfg.Backdate = DefaultBackdate
	}
	if cfg.DefaultSigAlg == "" {
		cfg.DefaultSigAlg = DefaultKMSSigAlg
	}
	return &KMSIssuer{cfg: cfg, custody: c, o: newOptions(opts)}
}

func (k *KMSIssuer) Variant() Variant { return VariantKMS }

func (k *KMSIssuer) Capabilities() Capabilities {
	sigAlgs := make([]string, 0, len(custody.Schemes()))
	for _, s := range custody.Schemes() {
		plan, err := custody.PlanForScheme(s)
		if err == nil {
			sigAlgs = append(sigAlgs, plan.Token)
		}
	}
	return Capabilities{
		Variant:             VariantKMS,
		KeyAlgorithms:       keyAlgorithmNames(),
		SignatureAlgorithms: sigAlgs,
		Features: []string{
			"csr", "self_signed", "sign_from_csr", "verify", "parse",
			"san", "eku", "key_usage", "akid", "skid", "name_constraints",
			"remote_custody",
		},
		Profiles: x509util.ProfileNames(),
	}
}

// KeyHandle returns the custody handle for key: the aws_kms_key_id,
// kms_key_id or kid tag, then key.Kid, then the configured default.
func (k *KMSIssuer) KeyHandle(key pkicrypto.KeyRef) (string, error) {
	for _, tag := range []string{pkicrypto.TagAWSKMSKeyID, pkicrypto.TagKMSKeyID, pkicrypto.TagKid} {
		if h := key.Tag(tag); h != "" {
			return h, nil
		}
	}
	if key.Kid != "" {
		return key.Kid, nil
	}
	if k.cfg.DefaultKeyHandle != "" {
		return k.cfg.DefaultKeyHandle, nil
	}
	return "", ErrMissingKeyHandle
}

// CreateCSR builds a CSR signed by the custody key.
func (k *KMSIssuer) CreateCSR(ctx context.Context, key pkicrypto.KeyRef, subject x509util.SubjectSpec, opts CSROptions) (out []byte, err error) {
	start := time.Now()
	defer func() {
		if err = k.o.finish(VariantKMS, opCreateCSR, start, classify(opCreateCSR, VariantKMS, err)); err != nil {
			out = nil
		}
	}()

	signer, plan, err := k.loadSigner(ctx, key, opts.SigAlg)
	if err != nil {
		return nil, err
	}
	return buildCSR(ctx, k.o, VariantKMS, signer, plan, subject, opts)
}

// CreateSelfSigned issues a self-signed certificate for the custody key.
// Without Extensions it is a CA certificate with pathLen 1.
func (k *KMSIssuer) CreateSelfSigned(ctx context.Context, key pkicrypto.KeyRef, subject x509util.SubjectSpec, opts IssueOptions) (out []byte, err error) {
	start := time.Now()
	defer func() {
		if err = k.o.finish(VariantKMS, opSelfSigned, start, classify(opSelfSigned, VariantKMS, err)); err != nil {
			out = nil
		}
	}()

	signer, plan, err := k.loadSigner(ctx, key, opts.SigAlg)
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
	spec, err := extensionSpec(opts, caDefaults)
	if err != nil {
		return nil, err
	}
	exts, err := x509util.ComposeExtensions(x509util.ComposeInput{
		Spec:             spec,
		SAN:              opts.SAN,
		SubjectPublicKey: spki,
		IssuerPublicKey:  spki,
		DefaultAKID:      true,
	})
	if err != nil {
		return nil, err
	}
	return k.sign(ctx, signer, plan, opSelfSigned, opts, x509util.TBSTemplate{
		Issuer:     name,
		Subject:    name,
		PublicKey:  spki,
		Extensions: exts.List(),
	})
}

// SignCert issues a certificate for csr with the custody key. Extensions
// requested in the CSR are kept, ordered by OID, unless the composed set
// carries the same OID.
func (k *KMSIssuer) SignCert(ctx context.Context, csrData []byte, caKey pkicrypto.KeyRef, opts SignOptions) (out []byte, err error) {
	start := time.Now()
	defer func() {
		if err = k.o.finish(VariantKMS, opSignCert, start, classify(opSignCert, VariantKMS, err)); err != nil {
			out = nil
		}
	}()

	csr, err := parseCSR(csrData)
	if err != nil {
		return nil, err
	}
	signer, plan, err := k.loadSigner(ctx, caKey, opts.SigAlg)
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
	composed, err := x509util.ComposeExtensions(x509util.ComposeInput{
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
	exts := x509util.NewExtensionSet(x509util.NewExtensionSet(csr.Extensions...).SortedByOID()...)
	exts.Merge(composed)

	return k.sign(ctx, signer, plan, opSignCert, opts.IssueOptions, x509util.TBSTemplate{
		Issuer:     issuerName,
		Subject:    csr.RawSubject,
		PublicKey:  csr.RawSubjectPublicKeyInfo,
		Extensions: exts.List(),
	})
}

func (k *KMSIssuer) sign(ctx context.Context, signer pkicrypto.MessageSigner, plan pkicrypto.SignaturePlan, op string, opts IssueOptions, tmpl x509util.TBSTemplate) ([]byte, error) {
	serial := opts.Serial
	if serial == nil {
		var err error
		if serial, err = randomSerial160(k.o.rand); err != nil {
			return nil, err
		}
	}
	tmpl.Serial = serial
	tmpl.NotBefore, tmpl.NotAfter = validityWindow(k.o.now(), opts.NotBefore, opts.NotAfter, k.cfg.Backdate, k.cfg.Validity)

	der, err := x509util.SignCertificate(ctx, signer, plan, tmpl)
	if err != nil {
		return nil, err
	}
	if err := auditIssued(k.o, VariantKMS, op, der, plan.Token); err != nil {
		return nil, err
	}
	return codec(opts.OutputDER).Encode(x509util.PEMCertificate, der), nil
}

// loadSigner resolves the handle, fetches the custody public key and plans
// a scheme the backend can name.
func (k *KMSIssuer) loadSigner(ctx context.Context, key pkicrypto.KeyRef, sigAlg string) (pkicrypto.MessageSigner, pkicrypto.SignaturePlan, error) {
	handle, err := k.KeyHandle(key)
	if err != nil {
		return nil, pkicrypto.SignaturePlan{}, err
	}
	remote, err := custody.NewSigner(ctx, k.custody, handle)
	if err != nil {
		return nil, pkicrypto.SignaturePlan{}, fmt.Errorf("custody key %s: %w", handle, err)
	}
	if sigAlg == "" && key.Tag(pkicrypto.TagSigAlg) == "" && key.Tag(pkicrypto.TagAlg) == "" {
		sigAlg = k.cfg.DefaultSigAlg
		if !defaultFits(sigAlg, remote.Public()) {
			sigAlg = ""
		}
	}
	plan, err := pkicrypto.Plan(sigAlg, key, remote.Public())
	if err != nil {
		return nil, pkicrypto.SignaturePlan{}, err
	}
	scheme, err := custody.SchemeForPlan(plan)
	if err != nil {
		return nil, pkicrypto.SignaturePlan{}, fmt.Errorf("%w: %w", pkicrypto.ErrUnsupportedSignatureAlgorithm, err)
	}
	k.o.logger.Debug("signature plan resolved",
		zap.String("variant", string(VariantKMS)),
		zap.String("handle", handle),
		zap.String("sig_alg", plan.Token),
		zap.String("scheme", string(scheme)))
	return &auditedSigner{Signer: remote, scheme: scheme, o: k.o}, plan, nil
}

// defaultFits reports whether the configured default token suits pub. An
// RSA default must not be forced onto an EC or EdDSA custody key.
func defaultFits(token string, pub crypto.PublicKey) bool {
	plan, err := pkicrypto.LookupToken(token)
	if err != nil {
		return false
	}
	return pkicrypto.CheckPlanKey(plan, pub) == nil
}

func caDefaults() *x509util.ExtensionSpec {
	pathLen := 1
	return &x509util.ExtensionSpec{
		BasicConstraints: &x509util.BasicConstraintsSpec{CA: true, PathLen: &pathLen},
	}
}

// auditedSigner records a REMOTE_SIGN event for every custody call.
type auditedSigner struct {
	*custody.Signer
	scheme custody.Scheme
	o      options
}

func (s *auditedSigner) SignMessage(ctx context.Context, plan pkicrypto.SignaturePlan, message []byte) ([]byte, error) {
	sig, err := s.Signer.SignMessage(ctx, plan, message)
	reason := ""
	if err != nil {
		reason = err.Error()
		s.o.logger.Warn("custody sign failed",
			zap.String("handle", s.Handle()),
			zap.String("scheme", string(s.scheme)),
			zap.Error(err))
	}
	if aerr := audit.LogRemoteSign(s.o.audit, s.Handle(), string(s.scheme), err == nil, reason); aerr != nil {
		if err == nil {
			return nil, &IssuanceError{Op: "remote_sign", Variant: VariantKMS, Err: aerr}
		}
		s.o.logger.Error("audit write failed", zap.Error(aerr))
	}
	return sig, err
}
