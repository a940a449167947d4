package custody

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// PKCS11 signs with keys held on a PKCS#11 token. A handle is a key label,
// or "id:<hex>" to select a key by CKA_ID.
type PKCS11 struct {
	cfg *pkicrypto.HSMConfig

	mu      sync.Mutex
	signers map[string]*pkicrypto.PKCS11Signer
}

var _ Custody = (*PKCS11)(nil)

// NewPKCS11 returns a token-backed custody for cfg. Keys are opened on first
// use.
func NewPKCS11(cfg *pkicrypto.HSMConfig) (*PKCS11, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PKCS11{cfg: cfg, signers: make(map[string]*pkicrypto.PKCS11Signer)}, nil
}

func (p *PKCS11) signer(handle string) (*pkicrypto.PKCS11Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.signers[handle]; ok {
		return s, nil
	}

	cfg, err := p.cfg.KeyConfig(handle)
	if errors.Is(err, pkicrypto.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrUnknownKey, err)
	}
	if err != nil {
		return nil, err
	}
	s, err := pkicrypto.NewPKCS11Signer(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownKey, handle, err)
	}
	p.signers[handle] = s
	return s, nil
}

// PublicKey returns the public key of handle.
func (p *PKCS11) PublicKey(_ context.Context, handle string) (crypto.PublicKey, error) {
	s, err := p.signer(handle)
	if err != nil {
		return nil, err
	}
	return s.Public(), nil
}

// Sign signs message with the token key of handle.
func (p *PKCS11) Sign(ctx context.Context, handle string, scheme Scheme, message []byte) ([]byte, error) {
	plan, err := PlanForScheme(scheme)
	if err != nil {
		return nil, err
	}
	if plan.Scheme == pkicrypto.SchemeEdDSA {
		return nil, fmt.Errorf("%w: %s on PKCS#11", ErrUnsupportedScheme, scheme)
	}
	s, err := p.signer(handle)
	if err != nil {
		return nil, err
	}
	return signWith(ctx, s, plan, message)
}

// Close releases every opened key and the shared session pools.
func (p *PKCS11) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for handle, s := range p.signers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", handle, err)
		}
		delete(p.signers, handle)
	}
	pkicrypto.CloseAllPools()
	return firstErr
}
