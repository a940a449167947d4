// Package crypto provides the key handling and signing primitives of the
// engine: key generation and parsing, key references, signature planning and
// message signers for software keys and PKCS#11 tokens. Ed448 is supported
// through cloudflare/circl.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/ed448"
)

// AlgorithmID identifies a key generation algorithm.
type AlgorithmID string

const (
	AlgECDSAP256 AlgorithmID = "ecdsa-p256"
	AlgECDSAP384 AlgorithmID = "ecdsa-p384"
	AlgECDSAP521 AlgorithmID = "ecdsa-p521"
	AlgEd25519   AlgorithmID = "ed25519"
	AlgEd448     AlgorithmID = "ed448"
	AlgRSA2048   AlgorithmID = "rsa-2048"
	AlgRSA3072   AlgorithmID = "rsa-3072"
	AlgRSA4096   AlgorithmID = "rsa-4096"
)

// KeyFamily groups keys by signature primitive.
type KeyFamily string

const (
	FamilyUnknown KeyFamily = ""
	FamilyRSA     KeyFamily = "rsa"
	FamilyEC      KeyFamily = "ec"
	FamilyEd25519 KeyFamily = "ed25519"
	FamilyEd448   KeyFamily = "ed448"
)

type algorithmInfo struct {
	family      KeyFamily
	curve       elliptic.Curve
	rsaBits     int
	description string
}

var algorithms = map[AlgorithmID]algorithmInfo{
	AlgECDSAP256: {family: FamilyEC, curve: elliptic.P256(), description: "ECDSA with P-256 curve"},
	AlgECDSAP384: {family: FamilyEC, curve: elliptic.P384(), description: "ECDSA with P-384 curve"},
	AlgECDSAP521: {family: FamilyEC, curve: elliptic.P521(), description: "ECDSA with P-521 curve"},
	AlgEd25519:   {family: FamilyEd25519, description: "Ed25519 (EdDSA with Curve25519)"},
	AlgEd448:     {family: FamilyEd448, description: "Ed448 (EdDSA with Curve448)"},
	AlgRSA2048:   {family: FamilyRSA, rsaBits: 2048, description: "RSA 2048-bit"},
	AlgRSA3072:   {family: FamilyRSA, rsaBits: 3072, description: "RSA 3072-bit"},
	AlgRSA4096:   {family: FamilyRSA, rsaBits: 4096, description: "RSA 4096-bit"},
}

// ParseAlgorithm parses an algorithm name, case-insensitively.
func ParseAlgorithm(s string) (AlgorithmID, error) {
	alg := AlgorithmID(strings.ToLower(strings.TrimSpace(s)))
	if !alg.IsValid() {
		return "", fmt.Errorf("unknown algorithm: %s", s)
	}
	return alg, nil
}

// IsValid reports whether the algorithm is known.
func (a AlgorithmID) IsValid() bool {
	_, ok := algorithms[a]
	return ok
}

// Family returns the key family of the algorithm.
func (a AlgorithmID) Family() KeyFamily {
	return algorithms[a].family
}

// Description returns a human-readable description.
func (a AlgorithmID) Description() string {
	if info, ok := algorithms[a]; ok {
		return info.description
	}
	return "unknown"
}

func (a AlgorithmID) String() string {
	return string(a)
}

// AllAlgorithms returns the supported key algorithms in a stable order.
func AllAlgorithms() []AlgorithmID {
	return []AlgorithmID{
		AlgECDSAP256, AlgECDSAP384, AlgECDSAP521,
		AlgEd25519, AlgEd448,
		AlgRSA2048, AlgRSA3072, AlgRSA4096,
	}
}

// FamilyOf returns the key family of a public key.
func FamilyOf(pub crypto.PublicKey) KeyFamily {
	switch pub.(type) {
	case *rsa.PublicKey:
		return FamilyRSA
	case *ecdsa.PublicKey:
		return FamilyEC
	case ed25519.PublicKey:
		return FamilyEd25519
	case ed448.PublicKey:
		return FamilyEd448
	}
	return FamilyUnknown
}

// AlgorithmOf maps a public key back to an AlgorithmID. RSA keys round up to
// the nearest listed size.
func AlgorithmOf(pub crypto.PublicKey) (AlgorithmID, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return AlgECDSAP256, nil
		case elliptic.P384():
			return AlgECDSAP384, nil
		case elliptic.P521():
			return AlgECDSAP521, nil
		}
		return "", fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
	case ed25519.PublicKey:
		return AlgEd25519, nil
	case ed448.PublicKey:
		return AlgEd448, nil
	case *rsa.PublicKey:
		switch bits := k.N.BitLen(); {
		case bits <= 2048:
			return AlgRSA2048, nil
		case bits <= 3072:
			return AlgRSA3072, nil
		default:
			return AlgRSA4096, nil
		}
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}

// CurveName returns the NIST name of an EC public key's curve, or "".
func CurveName(pub crypto.PublicKey) string {
	if k, ok := pub.(*ecdsa.PublicKey); ok {
		return k.Curve.Params().Name
	}
	return ""
}
