package crypto

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/ed448"
)

var oidPublicKeyEd448 = asn1.ObjectIdentifier{1, 3, 101, 113}

// pkcs8 mirrors the leading fields of OneAsymmetricKey; optional attributes
// and the public key are ignored.
type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

type pkixPublicKey struct {
	Algo      pkix.AlgorithmIdentifier
	BitString asn1.BitString
}

// ParsePrivateKey parses a private key from PEM or DER. PEM input may hold
// several blocks; the first private key block is used. Legacy encrypted PEM
// blocks are decrypted with passphrase.
func ParsePrivateKey(data, passphrase []byte) (crypto.Signer, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrMissingKeyMaterial
	}
	if !isPEM(data) {
		return parsePrivateKeyDER(data)
	}

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: no private key PEM block", ErrInvalidKey)
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}

		keyBytes := block.Bytes
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
			if len(passphrase) == 0 {
				return nil, fmt.Errorf("private key is encrypted but no passphrase provided")
			}
			var err error
			keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}

		switch block.Type {
		case "PRIVATE KEY":
			return parsePKCS8(keyBytes)
		case "EC PRIVATE KEY":
			k, err := x509.ParseECPrivateKey(keyBytes)
			if err != nil {
				return nil, fmt.Errorf("%w: EC key: %v", ErrInvalidKey, err)
			}
			return k, nil
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(keyBytes)
			if err != nil {
				return nil, fmt.Errorf("%w: RSA key: %v", ErrInvalidKey, err)
			}
			return k, nil
		default:
			return nil, fmt.Errorf("%w: unknown PEM type: %s", ErrInvalidKey, block.Type)
		}
	}
}

func parsePrivateKeyDER(der []byte) (crypto.Signer, error) {
	if k, err := parsePKCS8(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, fmt.Errorf("%w: DER is not PKCS#8, PKCS#1 or SEC1", ErrInvalidKey)
}

func parsePKCS8(der []byte) (crypto.Signer, error) {
	var p pkcs8
	if _, err := asn1.Unmarshal(der, &p); err == nil && p.Algo.Algorithm.Equal(oidPublicKeyEd448) {
		var seed []byte
		if _, err := asn1.Unmarshal(p.PrivateKey, &seed); err != nil {
			return nil, fmt.Errorf("%w: Ed448 private key: %v", ErrInvalidKey, err)
		}
		if len(seed) != ed448.SeedSize {
			return nil, fmt.Errorf("%w: Ed448 seed is %d bytes", ErrInvalidKey, len(seed))
		}
		return ed448.NewKeyFromSeed(seed), nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: PKCS#8: %v", ErrInvalidKey, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return signer, nil
}

// ParsePublicKey parses a SubjectPublicKeyInfo from PEM or DER. A PEM
// certificate is also accepted, in which case its subject key is returned.
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrMissingKeyMaterial
	}
	der := data
	if isPEM(data) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
		}
		switch block.Type {
		case "PUBLIC KEY":
			der = block.Bytes
		case "RSA PUBLIC KEY":
			k, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			return k, nil
		case "CERTIFICATE":
			spki, err := certificateSPKI(block.Bytes)
			if err != nil {
				return nil, err
			}
			der = spki
		default:
			return nil, fmt.Errorf("%w: unexpected PEM type %s", ErrInvalidKey, block.Type)
		}
	}
	return ParsePKIXPublicKey(der)
}

// ParsePKIXPublicKey parses a DER SubjectPublicKeyInfo, including Ed448.
func ParsePKIXPublicKey(der []byte) (crypto.PublicKey, error) {
	var info pkixPublicKey
	if _, err := asn1.Unmarshal(der, &info); err == nil && info.Algo.Algorithm.Equal(oidPublicKeyEd448) {
		if len(info.BitString.Bytes) != ed448.PublicKeySize {
			return nil, fmt.Errorf("%w: Ed448 public key is %d bytes", ErrInvalidKey, len(info.BitString.Bytes))
		}
		return ed448.PublicKey(append([]byte(nil), info.BitString.Bytes...)), nil
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

func certificateSPKI(der []byte) ([]byte, error) {
	var cert struct {
		TBS struct {
			Raw       asn1.RawContent
			Version   int `asn1:"optional,explicit,default:0,tag:0"`
			Serial    asn1.RawValue
			SigAlg    asn1.RawValue
			Issuer    asn1.RawValue
			Validity  asn1.RawValue
			Subject   asn1.RawValue
			PublicKey asn1.RawValue
		}
	}
	if _, err := asn1.Unmarshal(der, &cert); err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrInvalidKey, err)
	}
	return cert.TBS.PublicKey.FullBytes, nil
}

// MarshalPKIXPublicKey encodes a public key as SubjectPublicKeyInfo DER.
func MarshalPKIXPublicKey(pub crypto.PublicKey) ([]byte, error) {
	if k, ok := pub.(ed448.PublicKey); ok {
		return asn1.Marshal(pkixPublicKey{
			Algo:      pkix.AlgorithmIdentifier{Algorithm: oidPublicKeyEd448},
			BitString: asn1.BitString{Bytes: k, BitLength: 8 * len(k)},
		})
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	return der, nil
}

// MarshalPKCS8PrivateKey encodes a private key as PKCS#8 DER.
func MarshalPKCS8PrivateKey(priv crypto.Signer) ([]byte, error) {
	if k, ok := priv.(ed448.PrivateKey); ok {
		seed, err := asn1.Marshal(k.Seed())
		if err != nil {
			return nil, err
		}
		return asn1.Marshal(pkcs8{
			Algo:       pkix.AlgorithmIdentifier{Algorithm: oidPublicKeyEd448},
			PrivateKey: seed,
		})
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	return der, nil
}

// MarshalPrivateKeyPEM encodes a private key as a PKCS#8 PEM block,
// encrypted with passphrase when one is given.
func MarshalPrivateKeyPEM(priv crypto.Signer, passphrase []byte) ([]byte, error) {
	der, err := MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	if len(passphrase) > 0 {
		block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, passphrase, x509.PEMCipherAES256) //nolint:staticcheck // Deprecated but still used
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt private key: %w", err)
		}
	}
	return pem.EncodeToMemory(block), nil
}

// MarshalPublicKeyPEM encodes a public key as a "PUBLIC KEY" PEM block.
func MarshalPublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PublicKeysEqual compares two public keys by their SPKI encoding.
func PublicKeysEqual(a, b crypto.PublicKey) bool {
	da, err := MarshalPKIXPublicKey(a)
	if err != nil {
		return false
	}
	db, err := MarshalPKIXPublicKey(b)
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}
