package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// HSMConfig is the token file referenced by kms.hsm_config:
//
//	type: pkcs11
//	pkcs11:
//	  lib: /usr/lib/softhsm/libsofthsm2.so
//	  token: certengine
//	  pin_env: CERTENGINE_HSM_PIN
type HSMConfig struct {
	Type   string         `yaml:"type"`
	PKCS11 PKCS11Settings `yaml:"pkcs11"`
}

// PKCS11Settings selects the module and the token. One of Token,
// TokenSerial or Slot is required; the PIN only ever comes from PinEnv.
type PKCS11Settings struct {
	Lib         string `yaml:"lib"`
	Token       string `yaml:"token"`
	TokenSerial string `yaml:"token_serial"`
	Slot        *uint  `yaml:"slot"`
	PinEnv      string `yaml:"pin_env"`
}

// LoadHSMConfig reads and validates a token file.
func LoadHSMConfig(path string) (*HSMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HSM config: %w", err)
	}
	cfg, err := ParseHSMConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseHSMConfig decodes a token file. Unknown keys are rejected.
func ParseHSMConfig(data []byte) (*HSMConfig, error) {
	var cfg HSMConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse HSM config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem of the configuration at once.
func (c *HSMConfig) Validate() error {
	var errs []error
	if c.Type != "pkcs11" {
		errs = append(errs, fmt.Errorf("type: %q is not supported (pkcs11)", c.Type))
	}
	p := c.PKCS11
	if p.Lib == "" {
		errs = append(errs, errors.New("pkcs11.lib: required"))
	}
	if p.Token == "" && p.TokenSerial == "" && p.Slot == nil {
		errs = append(errs, errors.New("pkcs11: one of token, token_serial or slot is required"))
	}
	if p.PinEnv == "" {
		errs = append(errs, errors.New("pkcs11.pin_env: required"))
	}
	return errors.Join(errs...)
}

// KeyConfig returns the signer configuration for a custody handle. A handle
// is a CKA_LABEL, or "id:<hex>" for a CKA_ID. The PIN is read from PinEnv.
func (c *HSMConfig) KeyConfig(handle string) (PKCS11Config, error) {
	cfg := PKCS11Config{
		ModulePath:  c.PKCS11.Lib,
		TokenLabel:  c.PKCS11.Token,
		TokenSerial: c.PKCS11.TokenSerial,
		SlotID:      c.PKCS11.Slot,
		KeyLabel:    handle,
	}
	if id, ok := strings.CutPrefix(handle, "id:"); ok {
		if _, err := hex.DecodeString(id); err != nil || id == "" {
			return PKCS11Config{}, fmt.Errorf("%w: handle %q: CKA_ID must be hex", ErrKeyNotFound, handle)
		}
		cfg.KeyLabel, cfg.KeyID = "", id
	}
	if cfg.KeyLabel == "" && cfg.KeyID == "" {
		return PKCS11Config{}, fmt.Errorf("%w: empty handle", ErrKeyNotFound)
	}

	cfg.PIN = os.Getenv(c.PKCS11.PinEnv)
	if cfg.PIN == "" {
		return PKCS11Config{}, fmt.Errorf("%s is not set", c.PKCS11.PinEnv)
	}
	return cfg, nil
}

// PKCS11Config addresses one key on a token.
type PKCS11Config struct {
	ModulePath  string
	TokenLabel  string
	TokenSerial string
	SlotID      *uint
	PIN         string

	// KeyLabel and KeyID (hex) match CKA_LABEL and CKA_ID; either may be empty.
	KeyLabel string
	KeyID    string
}
