package x509util

import (
	"context"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

type validity struct {
	NotBefore, NotAfter time.Time
}

type tbsCertificate struct {
	Version            int `asn1:"optional,explicit,default:0,tag:0"`
	SerialNumber       *big.Int
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Issuer             asn1.RawValue
	Validity           validity
	Subject            asn1.RawValue
	PublicKey          asn1.RawValue
	Extensions         []pkix.Extension `asn1:"omitempty,optional,explicit,tag:3"`
}

type certificate struct {
	TBSCertificate     asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     asn1.BitString
}

// TBSTemplate holds the fields of a v3 TBSCertificate. Names and the public
// key are DER encoded; times are converted to UTC and truncated to seconds.
type TBSTemplate struct {
	Serial     *big.Int
	Issuer     []byte
	Subject    []byte
	NotBefore  time.Time
	NotAfter   time.Time
	PublicKey  []byte
	Extensions []pkix.Extension
}

// maxSerialBytes is the RFC 5280 limit on serial number length.
const maxSerialBytes = 20

// BuildTBS encodes a v3 TBSCertificate signed with alg.
func BuildTBS(t TBSTemplate, alg pkix.AlgorithmIdentifier) ([]byte, error) {
	switch {
	case t.Serial == nil || t.Serial.Sign() <= 0:
		return nil, fieldErr("serial", errors.New("serial number must be positive"))
	case len(t.Serial.Bytes()) > maxSerialBytes:
		return nil, fieldErr("serial", fmt.Errorf("serial number exceeds %d bytes", maxSerialBytes))
	case len(t.Issuer) == 0:
		return nil, fieldErr("issuer", ErrEmptySubject)
	case len(t.Subject) == 0:
		return nil, fieldErr("subject", ErrEmptySubject)
	case len(t.PublicKey) == 0:
		return nil, fieldErr("public_key", pkicrypto.ErrMissingKeyMaterial)
	case !t.NotAfter.After(t.NotBefore):
		return nil, fieldErr("not_after", errors.New("not_after must be after not_before"))
	}

	tbs := tbsCertificate{
		Version:            2,
		SerialNumber:       t.Serial,
		SignatureAlgorithm: alg,
		Issuer:             asn1.RawValue{FullBytes: t.Issuer},
		Validity: validity{
			NotBefore: t.NotBefore.UTC().Truncate(time.Second),
			NotAfter:  t.NotAfter.UTC().Truncate(time.Second),
		},
		Subject:    asn1.RawValue{FullBytes: t.Subject},
		PublicKey:  asn1.RawValue{FullBytes: t.PublicKey},
		Extensions: t.Extensions,
	}
	der, err := asn1.Marshal(tbs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TBSCertificate: %w", err)
	}
	return der, nil
}

// AssembleCertificate wraps a TBSCertificate and its signature.
func AssembleCertificate(tbs []byte, alg pkix.AlgorithmIdentifier, signature []byte) ([]byte, error) {
	der, err := asn1.Marshal(certificate{
		TBSCertificate:     asn1.RawValue{FullBytes: tbs},
		SignatureAlgorithm: alg,
		SignatureValue:     asn1.BitString{Bytes: signature, BitLength: 8 * len(signature)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal certificate: %w", err)
	}
	return der, nil
}

// SignCertificate builds the TBS for t, signs its exact DER bytes with
// signer under plan and assembles the certificate. The signature is checked
// against signer.Public() before the certificate is returned.
func SignCertificate(ctx context.Context, signer pkicrypto.MessageSigner, plan pkicrypto.SignaturePlan, t TBSTemplate) ([]byte, error) {
	alg, err := AlgorithmIdentifier(plan)
	if err != nil {
		return nil, err
	}
	tbs, err := BuildTBS(t, alg)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignMessage(ctx, plan, tbs)
	if err != nil {
		return nil, err
	}
	if err := pkicrypto.Verify(signer.Public(), plan, tbs, sig); err != nil {
		return nil, fmt.Errorf("certificate signature check: %w", err)
	}
	return AssembleCertificate(tbs, alg, sig)
}
