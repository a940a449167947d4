package custody

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// Local holds keys in process. Handles missing from the in-memory table
// are resolved through the optional KeyProvider and cached.
type Local struct {
	provider pkicrypto.KeyProvider

	mu   sync.RWMutex
	keys map[string]crypto.Signer
}

var _ Custody = (*Local)(nil)

// NewLocal returns an in-process backend. provider may be nil.
func NewLocal(provider pkicrypto.KeyProvider) *Local {
	return &Local{provider: provider, keys: make(map[string]crypto.Signer)}
}

// Add registers signer under handle, replacing any previous key.
func (l *Local) Add(handle string, signer crypto.Signer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[handle] = signer
}

func (l *Local) signer(ctx context.Context, handle string) (crypto.Signer, error) {
	l.mu.RLock()
	s, ok := l.keys[handle]
	l.mu.RUnlock()
	if ok {
		return s, nil
	}
	if l.provider == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, handle)
	}

	ref, err := l.provider.Resolve(ctx, handle)
	if err != nil {
		if errors.Is(err, pkicrypto.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnknownKey, handle, err)
		}
		return nil, err
	}
	s, err = ref.Signer()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.keys[handle]; ok {
		return existing, nil
	}
	l.keys[handle] = s
	return s, nil
}

// PublicKey returns the public key of handle.
func (l *Local) PublicKey(ctx context.Context, handle string) (crypto.PublicKey, error) {
	s, err := l.signer(ctx, handle)
	if err != nil {
		return nil, err
	}
	return s.Public(), nil
}

// Sign signs message with the key of handle.
func (l *Local) Sign(ctx context.Context, handle string, scheme Scheme, message []byte) ([]byte, error) {
	plan, err := PlanForScheme(scheme)
	if err != nil {
		return nil, err
	}
	s, err := l.signer(ctx, handle)
	if err != nil {
		return nil, err
	}
	return signWith(ctx, s, plan, message)
}

// signWith signs through a LocalSigner and reports plan/key mismatches as
// unsupported schemes.
func signWith(ctx context.Context, s crypto.Signer, plan pkicrypto.SignaturePlan, message []byte) ([]byte, error) {
	sig, err := pkicrypto.NewLocalSigner(s).SignMessage(ctx, plan, message)
	if errors.Is(err, pkicrypto.ErrKeyMismatch) {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedScheme, err)
	}
	return sig, err
}
