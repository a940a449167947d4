// This file implements the SoftwareKeyProvider for PEM key directories.
package crypto

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SoftwareKeyProvider implements KeyProvider for keys stored as
// <dir>/<kid>.pem. Encrypted keys are decrypted on resolve, so the returned
// KeyRef holds plain PKCS#8 material.
type SoftwareKeyProvider struct {
	dir        string
	passphrase string
}

var _ KeyProvider = (*SoftwareKeyProvider)(nil)

// NewSoftwareKeyProvider creates a provider over dir.
func NewSoftwareKeyProvider(dir, passphrase string) (*SoftwareKeyProvider, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required for software key storage")
	}
	return &SoftwareKeyProvider{dir: dir, passphrase: passphrase}, nil
}

// Resolve loads the key with the given id.
func (p *SoftwareKeyProvider) Resolve(ctx context.Context, kid string) (KeyRef, error) {
	if err := ctx.Err(); err != nil {
		return KeyRef{}, err
	}
	path, err := p.path(kid)
	if err != nil {
		return KeyRef{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return KeyRef{}, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	if err != nil {
		return KeyRef{}, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ParsePrivateKey(data, ResolvePassphrase(p.passphrase))
	if err != nil {
		return KeyRef{}, fmt.Errorf("key %s: %w", kid, err)
	}
	material, err := MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return KeyRef{}, err
	}
	return KeyRef{Kid: kid, Material: material}, nil
}

// Generate creates a new key, writes it to <dir>/<kid>.pem with mode 0600,
// and returns its reference. Existing files are not overwritten.
func (p *SoftwareKeyProvider) Generate(kid string, alg AlgorithmID) (KeyRef, error) {
	path, err := p.path(kid)
	if err != nil {
		return KeyRef{}, err
	}
	kp, err := GenerateKeyPair(alg)
	if err != nil {
		return KeyRef{}, err
	}
	pemBytes, err := MarshalPrivateKeyPEM(kp.PrivateKey, ResolvePassphrase(p.passphrase))
	if err != nil {
		return KeyRef{}, err
	}
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return KeyRef{}, fmt.Errorf("failed to create key dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return KeyRef{}, fmt.Errorf("failed to create key file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(pemBytes); err != nil {
		return KeyRef{}, fmt.Errorf("failed to write key file: %w", err)
	}

	material, err := MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return KeyRef{}, err
	}
	return KeyRef{Kid: kid, Material: material}, nil
}

func (p *SoftwareKeyProvider) path(kid string) (string, error) {
	if kid == "" || strings.ContainsAny(kid, `/\`) || kid == "." || kid == ".." {
		return "", fmt.Errorf("invalid key id %q", kid)
	}
	return filepath.Join(p.dir, kid+".pem"), nil
}
