package ca

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/logging"
)

// Defaults shared by the local and KMS issuers.
const (
	DefaultValidity        = 365 * 24 * time.Hour
	DefaultBackdate        = 5 * time.Minute
	DefaultSerialBits      = 159
	DefaultFinalizeTimeout = 2 * time.Minute
	DefaultMaxDepth        = 10
	DefaultKMSSigAlg       = "RSA-PSS-SHA256"
)

// Config is the certengine configuration document.
type Config struct {
	Logging logging.Config `yaml:"logging"`
	Audit   AuditConfig    `yaml:"audit"`
	Local   LocalConfig    `yaml:"local"`
	ACME    ACMEConfig     `yaml:"acme"`
	KMS     KMSConfig      `yaml:"kms"`
	Verify  VerifyConfig   `yaml:"verify"`
	Server  ServerConfig   `yaml:"server"`
}

// AuditConfig enables the JSONL audit trail when File is set.
type AuditConfig struct {
	File string `yaml:"file"`
}

// LocalConfig configures the local-key issuer.
type LocalConfig struct {
	Validity   time.Duration `yaml:"validity"`
	Backdate   time.Duration `yaml:"backdate"`
	SerialBits int           `yaml:"serial_bits"`
	// DefaultKey is the key id resolved through Keys when a call passes an
	// empty KeyRef.
	DefaultKey    string                     `yaml:"default_key"`
	DefaultSigAlg string                     `yaml:"default_sig_alg"`
	Keys          pkicrypto.KeyStorageConfig `yaml:"keys"`
}

// ACMEConfig configures the ACME issuer.
type ACMEConfig struct {
	DirectoryURL    string        `yaml:"directory_url"`
	Contact         []string      `yaml:"contact"`
	AcceptTOS       bool          `yaml:"accept_tos"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
	// AccountKey is the key id of the account key in Local.Keys.
	AccountKey string `yaml:"account_key"`
}

// KMS custody backends.
const (
	BackendAWS    = "aws"
	BackendHTTP   = "http"
	BackendPKCS11 = "pkcs11"
	BackendLocal  = "local"
)

// KMSConfig configures the remote-custody issuer and its backend.
type KMSConfig struct {
	Backend          string        `yaml:"backend"`
	DefaultKeyHandle string        `yaml:"default_key_handle"`
	DefaultSigAlg    string        `yaml:"default_sig_alg"`
	Validity         time.Duration `yaml:"validity"`
	Backdate         time.Duration `yaml:"backdate"`

	// aws
	Region string `yaml:"region"`
	// http
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
	// pkcs11
	HSMConfig string `yaml:"hsm_config"`
	// local
	Keys pkicrypto.KeyStorageConfig `yaml:"keys"`
}

// VerifyConfig holds verifier defaults.
type VerifyConfig struct {
	MaxDepth                    int  `yaml:"max_depth"`
	AllowSelfSignedWithoutRoots bool `yaml:"allow_self_signed_without_roots"`
	CheckRevocation             bool `yaml:"check_revocation"`
}

// ServerConfig configures the custody and inspection HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Custody enables the /v1/keys endpoints over the kms backend.
	Custody bool `yaml:"custody"`
	// TokenEnv names the variable holding the bearer token clients must send.
	TokenEnv string `yaml:"token_env"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{Level: "info", Encoding: "json"},
		Local: LocalConfig{
			Validity:   DefaultValidity,
			Backdate:   DefaultBackdate,
			SerialBits: DefaultSerialBits,
		},
		ACME: ACMEConfig{FinalizeTimeout: DefaultFinalizeTimeout},
		KMS: KMSConfig{
			Backend:       BackendAWS,
			DefaultSigAlg: DefaultKMSSigAlg,
			Validity:      DefaultValidity,
			Backdate:      DefaultBackdate,
		},
		Verify: VerifyConfig{MaxDepth: DefaultMaxDepth},
		Server: ServerConfig{Addr: ":8443"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and backend-specific requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.Local.Validity < 0 || c.Local.Backdate < 0 {
		errs = append(errs, errors.New("local.validity and local.backdate must not be negative"))
	}
	if c.Local.SerialBits != 0 && (c.Local.SerialBits < 64 || c.Local.SerialBits > 159) {
		errs = append(errs, fmt.Errorf("local.serial_bits must be within [64, 159], got %d", c.Local.SerialBits))
	}
	if c.Local.DefaultSigAlg != "" {
		if _, err := pkicrypto.LookupToken(c.Local.DefaultSigAlg); err != nil {
			errs = append(errs, fmt.Errorf("local.default_sig_alg: %w", err))
		}
	}
	if c.ACME.FinalizeTimeout < 0 {
		errs = append(errs, errors.New("acme.finalize_timeout must not be negative"))
	}
	if c.ACME.DirectoryURL != "" && !strings.HasPrefix(c.ACME.DirectoryURL, "https://") && !strings.HasPrefix(c.ACME.DirectoryURL, "http://") {
		errs = append(errs, fmt.Errorf("acme.directory_url must be an http(s) URL, got %q", c.ACME.DirectoryURL))
	}
	if c.KMS.DefaultSigAlg != "" {
		if _, err := pkicrypto.LookupToken(c.KMS.DefaultSigAlg); err != nil {
			errs = append(errs, fmt.Errorf("kms.default_sig_alg: %w", err))
		}
	}
	switch c.KMS.Backend {
	case "", BackendAWS, BackendLocal:
	case BackendHTTP:
		if c.KMS.URL == "" {
			errs = append(errs, errors.New("kms.url is required for the http backend"))
		}
	case BackendPKCS11:
		if c.KMS.HSMConfig == "" {
			errs = append(errs, errors.New("kms.hsm_config is required for the pkcs11 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("kms.backend must be aws, http, pkcs11 or local, got %q", c.KMS.Backend))
	}
	if c.Verify.MaxDepth < 0 {
		errs = append(errs, errors.New("verify.max_depth must not be negative"))
	}
	return errors.Join(errs...)
}
