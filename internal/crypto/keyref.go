package crypto

import (
	"crypto"
	"fmt"
)

// Well-known KeyRef tags.
const (
	TagSigAlg       = "sig_alg"
	TagAlg          = "alg"
	TagAWSKMSKeyID  = "aws_kms_key_id"
	TagKMSKeyID     = "kms_key_id"
	TagKid          = "kid"
	TagPassphrase   = "passphrase"
	TagKeyAlgorithm = "key_alg"
)

// KeyRef references a key by id, optionally carrying its material. Material
// is a private key (PEM or DER); Public is a public key (PEM or DER).
type KeyRef struct {
	Kid      string            `yaml:"kid,omitempty" json:"kid,omitempty"`
	Material []byte            `yaml:"-" json:"-"`
	Public   []byte            `yaml:"public,omitempty" json:"public,omitempty"`
	Tags     map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Tag returns a tag value, or "".
func (k KeyRef) Tag(name string) string {
	if k.Tags == nil {
		return ""
	}
	return k.Tags[name]
}

// HasMaterial reports whether the reference carries private key bytes.
func (k KeyRef) HasMaterial() bool {
	return len(k.Material) > 0
}

// IsEmpty reports whether the reference carries neither id, key bytes nor tags.
func (k KeyRef) IsEmpty() bool {
	return k.Kid == "" && len(k.Material) == 0 && len(k.Public) == 0 && len(k.Tags) == 0
}

// Signer parses the private key material. A "passphrase" tag is resolved
// with ResolvePassphrase.
func (k KeyRef) Signer() (crypto.Signer, error) {
	if !k.HasMaterial() {
		return nil, ErrMissingKeyMaterial
	}
	return ParsePrivateKey(k.Material, ResolvePassphrase(k.Tag(TagPassphrase)))
}

// PublicKey returns the public key from Public, else derived from Material.
func (k KeyRef) PublicKey() (crypto.PublicKey, error) {
	if len(k.Public) > 0 {
		return ParsePublicKey(k.Public)
	}
	if k.HasMaterial() {
		s, err := k.Signer()
		if err != nil {
			return nil, err
		}
		return s.Public(), nil
	}
	return nil, ErrMissingKeyMaterial
}

// String never prints key material.
func (k KeyRef) String() string {
	return fmt.Sprintf("KeyRef{kid=%q material=%t public=%t}", k.Kid, k.HasMaterial(), len(k.Public) > 0)
}
