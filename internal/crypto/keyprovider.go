// This file defines the KeyProvider interface used to resolve key ids.
package crypto

import (
	"context"
	"fmt"
	"os"
)

// KeyProviderType identifies the type of key provider backend.
type KeyProviderType string

const (
	// KeyProviderTypeSoftware reads PEM files from a directory.
	KeyProviderTypeSoftware KeyProviderType = "software"
)

// KeyStorageConfig holds configuration for key retrieval.
type KeyStorageConfig struct {
	// Type specifies the storage backend. Empty means software.
	Type KeyProviderType `json:"type" yaml:"type"`

	// Dir holds <kid>.pem files.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Passphrase may be "env:VAR". Never serialized.
	Passphrase string `json:"-" yaml:"passphrase,omitempty"`
}

// KeyProvider resolves a key id to a KeyRef carrying its material.
//
// Usage:
//
//	kp, err := NewKeyProvider(KeyStorageConfig{Dir: "/etc/certengine/keys"})
//	ref, err := kp.Resolve(ctx, "issuing-ca")
type KeyProvider interface {
	Resolve(ctx context.Context, kid string) (KeyRef, error)
}

// NewKeyProvider creates a KeyProvider based on the storage type.
func NewKeyProvider(cfg KeyStorageConfig) (KeyProvider, error) {
	switch cfg.Type {
	case KeyProviderTypeSoftware, "":
		return NewSoftwareKeyProvider(cfg.Dir, cfg.Passphrase)
	default:
		return nil, fmt.Errorf("unsupported key provider type: %s", cfg.Type)
	}
}

// ResolvePassphrase resolves a passphrase that may be "env:VAR_NAME".
func ResolvePassphrase(passphrase string) []byte {
	if passphrase == "" {
		return nil
	}
	if len(passphrase) > 4 && passphrase[:4] == "env:" {
		envValue := os.Getenv(passphrase[4:])
		return []byte(envValue)
	}
	return []byte(passphrase)
}
