package custody

import (
	"context"
	"crypto"
	"fmt"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// Signer binds a custody handle to its public key so that it can be used
// wherever a crypto.MessageSigner is expected.
type Signer struct {
	custody Custody
	handle  string
	pub     crypto.PublicKey
}

var _ pkicrypto.MessageSigner = (*Signer)(nil)

// NewSigner fetches the public key of handle.
func NewSigner(ctx context.Context, c Custody, handle string) (*Signer, error) {
	pub, err := c.PublicKey(ctx, handle)
	if err != nil {
		return nil, err
	}
	return &Signer{custody: c, handle: handle, pub: pub}, nil
}

// Handle returns the key handle.
func (s *Signer) Handle() string { return s.handle }

// Public returns the custody public key.
func (s *Signer) Public() crypto.PublicKey { return s.pub }

// SignMessage sends message to the custody backend under the scheme
// matching plan.
func (s *Signer) SignMessage(ctx context.Context, plan pkicrypto.SignaturePlan, message []byte) ([]byte, error) {
	if err := pkicrypto.CheckPlanKey(plan, s.pub); err != nil {
		return nil, err
	}
	scheme, err := SchemeForPlan(plan)
	if err != nil {
		return nil, err
	}
	sig, err := s.custody.Sign(ctx, s.handle, scheme, message)
	if err != nil {
		return nil, fmt.Errorf("custody sign %s with %s: %w", s.handle, scheme, err)
	}
	return sig, nil
}
