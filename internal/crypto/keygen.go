package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/ed448"
)

// KeyPair holds a public/private key pair.
type KeyPair struct {
	Algorithm  AlgorithmID
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
}

// GenerateKeyPair generates a new key pair for the specified algorithm.
//
// Example:
//
//	kp, err := crypto.GenerateKeyPair(crypto.AlgECDSAP256)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pemBytes, err := crypto.MarshalPrivateKeyPEM(kp.PrivateKey, nil)
func GenerateKeyPair(alg AlgorithmID) (*KeyPair, error) {
	return GenerateKeyPairWithRand(rand.Reader, alg)
}

// GenerateKeyPairWithRand generates a key pair using the provided random source.
func GenerateKeyPairWithRand(random io.Reader, alg AlgorithmID) (*KeyPair, error) {
	info, ok := algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}

	var priv crypto.Signer
	var err error

	switch info.family {
	case FamilyEC:
		priv, err = generateECDSA(random, info.curve)
	case FamilyEd25519:
		_, priv, err = ed25519.GenerateKey(random)
	case FamilyEd448:
		_, priv, err = ed448.GenerateKey(random)
	case FamilyRSA:
		priv, err = rsa.GenerateKey(random, info.rsaBits)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}

	return &KeyPair{
		Algorithm:  alg,
		PrivateKey: priv,
		PublicKey:  priv.Public(),
	}, nil
}

func generateECDSA(random io.Reader, curve elliptic.Curve) (crypto.Signer, error) {
	return ecdsa.GenerateKey(curve, random)
}

// PublicKeyBytes returns the SubjectPublicKeyInfo DER of the pair.
func (kp *KeyPair) PublicKeyBytes() ([]byte, error) {
	return MarshalPKIXPublicKey(kp.PublicKey)
}
