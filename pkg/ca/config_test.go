package ca

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// [Unit] Config
// =============================================================================

func TestU_DefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultValidity, cfg.Local.Validity)
	assert.Equal(t, DefaultBackdate, cfg.KMS.Backdate)
	assert.Equal(t, DefaultKMSSigAlg, cfg.KMS.DefaultSigAlg)
	assert.Equal(t, BackendAWS, cfg.KMS.Backend)
	assert.Equal(t, DefaultMaxDepth, cfg.Verify.MaxDepth)
}

func TestU_ParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
logging:
  level: debug
local:
  validity: 720h
  serial_bits: 64
  default_key: issuing-ca
  keys:
    dir: /var/lib/certengine/keys
acme:
  directory_url: https://acme-staging-v02.api.letsencrypt.org/directory
  contact: ["mailto:ops@example.com"]
  accept_tos: true
  finalize_timeout: 30s
kms:
  backend: http
  url: https://custody.internal:8443
  default_key_handle: issuing-ca
verify:
  check_revocation: true
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding, "unset keys keep their default")
	assert.Equal(t, 720*time.Hour, cfg.Local.Validity)
	assert.Equal(t, DefaultBackdate, cfg.Local.Backdate)
	assert.Equal(t, 64, cfg.Local.SerialBits)
	assert.Equal(t, "issuing-ca", cfg.Local.DefaultKey)
	assert.Equal(t, "/var/lib/certengine/keys", cfg.Local.Keys.Dir)
	assert.Equal(t, []string{"mailto:ops@example.com"}, cfg.ACME.Contact)
	assert.True(t, cfg.ACME.AcceptTOS)
	assert.Equal(t, 30*time.Second, cfg.ACME.FinalizeTimeout)
	assert.Equal(t, BackendHTTP, cfg.KMS.Backend)
	assert.True(t, cfg.Verify.CheckRevocation)
	assert.Equal(t, DefaultMaxDepth, cfg.Verify.MaxDepth)
}

func TestU_ParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"serial bits too small", "local: {serial_bits: 32}", "local.serial_bits"},
		{"serial bits too large", "local: {serial_bits: 160}", "local.serial_bits"},
		{"negative validity", "local: {validity: -1h}", "local.validity"},
		{"unknown sig alg", "local: {default_sig_alg: DSA-SHA1}", "local.default_sig_alg"},
		{"unknown backend", "kms: {backend: vault}", "kms.backend"},
		{"http backend without url", "kms: {backend: http}", "kms.url"},
		{"pkcs11 backend without hsm config", "kms: {backend: pkcs11}", "kms.hsm_config"},
		{"directory url scheme", "acme: {directory_url: ftp://acme}", "acme.directory_url"},
		{"negative depth", "verify: {max_depth: -1}", "verify.max_depth"},
		{"not yaml", "local: [", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestU_ParseConfig_JoinsErrors(t *testing.T) {
	_, err := ParseConfig([]byte("local: {serial_bits: 8}\nkms: {backend: nope}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local.serial_bits")
	assert.Contains(t, err.Error(), "kms.backend")
}

func TestU_LoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {addr: \"127.0.0.1:9000\", custody: true}\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.True(t, cfg.Server.Custody)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
