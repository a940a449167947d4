package crypto

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/cloudflare/circl/sign/ed448"
)

// MessageSigner signs complete messages under a signature plan. Hashing, when
// the plan needs it, is the signer's job.
type MessageSigner interface {
	Public() crypto.PublicKey
	SignMessage(ctx context.Context, plan SignaturePlan, message []byte) ([]byte, error)
}

// LocalSigner adapts a crypto.Signer (software key or PKCS#11 token) to
// MessageSigner.
type LocalSigner struct {
	signer crypto.Signer
}

var _ MessageSigner = (*LocalSigner)(nil)

// NewLocalSigner wraps s.
func NewLocalSigner(s crypto.Signer) *LocalSigner {
	return &LocalSigner{signer: s}
}

// Public returns the public key.
func (l *LocalSigner) Public() crypto.PublicKey {
	return l.signer.Public()
}

// SignMessage hashes message per plan and signs the digest; EdDSA plans sign
// message directly.
func (l *LocalSigner) SignMessage(ctx context.Context, plan SignaturePlan, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckPlanKey(plan, l.signer.Public()); err != nil {
		return nil, err
	}
	sig, err := l.signer.Sign(rand.Reader, plan.Digest(message), plan.SignerOpts())
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", plan.Token, err)
	}
	return sig, nil
}

// Verify checks signature over message with pub under plan.
func Verify(pub crypto.PublicKey, plan SignaturePlan, message, signature []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSignatureInvalid, r)
		}
	}()

	if err := CheckPlanKey(plan, pub); err != nil {
		return err
	}

	ok := false
	switch k := pub.(type) {
	case *rsa.PublicKey:
		digest := plan.Digest(message)
		if plan.Scheme == SchemePSS {
			ok = rsa.VerifyPSS(k, plan.Hash, digest, signature, PSSOptions(plan.Hash)) == nil
		} else {
			ok = rsa.VerifyPKCS1v15(k, plan.Hash, digest, signature) == nil
		}
	case *ecdsa.PublicKey:
		ok = ecdsa.VerifyASN1(k, plan.Digest(message), signature)
	case ed25519.PublicKey:
		ok = ed25519.Verify(k, message, signature)
	case ed448.PublicKey:
		ok = ed448.Verify(k, message, signature, "")
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}
