package crypto

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU_SoftwareKeyProvider_GenerateResolve(t *testing.T) {
	tests := []struct {
		alg        AlgorithmID
		passphrase string
	}{
		{AlgECDSAP256, ""},
		{AlgECDSAP384, "test-passphrase"},
		{AlgEd25519, ""},
		{AlgEd448, "ed448-pass"},
		{AlgRSA2048, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			dir := t.TempDir()
			kp, err := NewSoftwareKeyProvider(dir, tt.passphrase)
			require.NoError(t, err)

			generated, err := kp.Generate("issuer", tt.alg)
			require.NoError(t, err)

			info, err := os.Stat(filepath.Join(dir, "issuer.pem"))
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			resolved, err := kp.Resolve(context.Background(), "issuer")
			require.NoError(t, err)
			assert.Equal(t, "issuer", resolved.Kid)

			want, err := generated.PublicKey()
			require.NoError(t, err)
			got, err := resolved.PublicKey()
			require.NoError(t, err)
			assert.True(t, PublicKeysEqual(want, got))
		})
	}
}

func TestU_SoftwareKeyProvider_NoOverwrite(t *testing.T) {
	kp, err := NewSoftwareKeyProvider(t.TempDir(), "")
	require.NoError(t, err)
	_, err = kp.Generate("k", AlgEd25519)
	require.NoError(t, err)
	_, err = kp.Generate("k", AlgEd25519)
	assert.Error(t, err)
}

func TestU_SoftwareKeyProvider_NotFound(t *testing.T) {
	kp, err := NewKeyProvider(KeyStorageConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	_, err = kp.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestU_SoftwareKeyProvider_RejectsPathKid(t *testing.T) {
	kp, err := NewSoftwareKeyProvider(t.TempDir(), "")
	require.NoError(t, err)
	for _, kid := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err := kp.Resolve(context.Background(), kid)
		assert.Error(t, err, kid)
	}
}

func TestU_NewKeyProvider_UnknownType(t *testing.T) {
	_, err := NewKeyProvider(KeyStorageConfig{Type: "vault"})
	assert.Error(t, err)

	_, err = NewKeyProvider(KeyStorageConfig{})
	assert.Error(t, err, "dir is required")
}

func TestU_ResolvePassphrase(t *testing.T) {
	t.Setenv("CERTENGINE_KP_PASS", "s3cret")
	assert.Nil(t, ResolvePassphrase(""))
	assert.Equal(t, []byte("plain"), ResolvePassphrase("plain"))
	assert.Equal(t, []byte("s3cret"), ResolvePassphrase("env:CERTENGINE_KP_PASS"))
}
