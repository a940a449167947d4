//go:build !cgo

// This file provides stub implementations when CGO is not available.
// HSM support via PKCS#11 requires CGO.
package crypto

import (
	"crypto"
	"fmt"
	"io"
)

// PKCS11Signer is unavailable without CGO.
type PKCS11Signer struct{}

var errNoCGO = fmt.Errorf("HSM support requires CGO (build with CGO_ENABLED=1)")

// NewPKCS11Signer returns an error when CGO is not available.
func NewPKCS11Signer(_ PKCS11Config) (*PKCS11Signer, error) {
	return nil, errNoCGO
}

// Public returns nil.
func (s *PKCS11Signer) Public() crypto.PublicKey {
	return nil
}

// Sign returns an error when CGO is not available.
func (s *PKCS11Signer) Sign(_ io.Reader, _ []byte, _ crypto.SignerOpts) ([]byte, error) {
	return nil, errNoCGO
}

// Close is a no-op.
func (s *PKCS11Signer) Close() error {
	return nil
}

// CloseAllPools is a no-op without CGO.
func CloseAllPools() {}
