package ca

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/remiblancher/certengine/internal/audit"
	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
)

// CSROptions control CSR construction.
type CSROptions struct {
	SAN        *x509util.AltNameSpec
	Extensions *x509util.ExtensionSpec
	// Profile names an extension preset used when Extensions is nil.
	Profile string
	SigAlg  string
	// ChallengePassword is added as a PKCS#9 attribute. It is never logged.
	ChallengePassword string
	OutputDER         bool
}

// CreateCSR builds a PKCS#10 request signed with the private key in key.
// The request is self-verified before it is returned.
func CreateCSR(ctx context.Context, key pkicrypto.KeyRef, subject x509util.SubjectSpec, opts CSROptions, o ...Option) ([]byte, error) {
	return createLocalCSR(ctx, newOptions(o), VariantLocal, key, subject, opts)
}

func createLocalCSR(ctx context.Context, o options, variant Variant, key pkicrypto.KeyRef, subject x509util.SubjectSpec, opts CSROptions) (out []byte, err error) {
	start := time.Now()
	defer func() {
		err = o.finish(variant, opCreateCSR, start, classify(opCreateCSR, variant, err))
	}()

	if !key.HasMaterial() {
		return nil, &ConfigurationError{Op: opCreateCSR, Err: ErrMissingKeyMaterial}
	}
	s, err := key.Signer()
	if err != nil {
		return nil, err
	}
	plan, err := pkicrypto.Plan(opts.SigAlg, key, s.Public())
	if err != nil {
		return nil, err
	}
	return buildCSR(ctx, o, variant, pkicrypto.NewLocalSigner(s), plan, subject, opts)
}

// buildCSR composes, signs and encodes a CSR with any MessageSigner.
func buildCSR(ctx context.Context, o options, variant Variant, signer pkicrypto.MessageSigner, plan pkicrypto.SignaturePlan, subject x509util.SubjectSpec, opts CSROptions) ([]byte, error) {
	o.logger.Debug("signature plan resolved",
		zap.String("variant", string(variant)),
		zap.String("operation", opCreateCSR),
		zap.String("sig_alg", plan.Token))

	name, err := x509util.MarshalName(subject)
	if err != nil {
		return nil, err
	}
	spki, err := pkicrypto.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, err
	}

	spec := opts.Extensions
	if spec == nil && opts.Profile != "" {
		if spec, err = x509util.ProfileExtensions(opts.Profile); err != nil {
			return nil, err
		}
	}
	exts, err := x509util.ComposeExtensions(x509util.ComposeInput{
		Spec:             spec,
		SAN:              opts.SAN,
		SubjectPublicKey: spki,
	})
	if err != nil {
		return nil, err
	}

	der, err := x509util.SignCSR(ctx, signer, plan, x509util.CSRTemplate{
		Subject:           name,
		PublicKey:         spki,
		Extensions:        exts.List(),
		ChallengePassword: opts.ChallengePassword,
	})
	if err != nil {
		return nil, err
	}

	subjectStr := x509util.NameString(name)
	if err := audit.LogCSRCreated(o.audit, string(variant), subjectStr, plan.Token); err != nil {
		return nil, fmt.Errorf("csr for %s: %w", subjectStr, err)
	}
	o.logger.Info("CSR created",
		zap.String("variant", string(variant)),
		zap.String("subject", subjectStr),
		zap.String("sig_alg", plan.Token),
		zap.Int("extensions", exts.Len()))

	return codec(opts.OutputDER).Encode(x509util.PEMCertificateRequest, der), nil
}
