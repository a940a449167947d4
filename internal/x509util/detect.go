package x509util

import (
	"encoding/asn1"
	"fmt"
)

// Public key algorithm OIDs.
var (
	OIDPublicKeyRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDPublicKeyRSAPSS  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDPublicKeyECDSA   = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OIDPublicKeyEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}
	OIDPublicKeyEd448   = asn1.ObjectIdentifier{1, 3, 101, 113}
)

// ExtractSPKIAlgorithmOID extracts the algorithm OID from a DER
// SubjectPublicKeyInfo. It works for keys ParsePKIXPublicKey rejects.
func ExtractSPKIAlgorithmOID(rawSPKI []byte) (asn1.ObjectIdentifier, error) {
	var spki subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(rawSPKI, &spki)
	if err != nil {
		return nil, fmt.Errorf("parse public key info: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("parse public key info: trailing data")
	}
	return spki.Algorithm.Algorithm, nil
}

// PublicKeyAlgorithmName names the key algorithm of an SPKI: "RSA",
// "RSASSA-PSS", "EC", "Ed25519", "Ed448", or the dotted OID.
func PublicKeyAlgorithmName(rawSPKI []byte) string {
	oid, err := ExtractSPKIAlgorithmOID(rawSPKI)
	if err != nil {
		return "unknown"
	}
	switch {
	case oid.Equal(OIDPublicKeyRSA):
		return "RSA"
	case oid.Equal(OIDPublicKeyRSAPSS):
		return "RSASSA-PSS"
	case oid.Equal(OIDPublicKeyECDSA):
		return "EC"
	case oid.Equal(OIDPublicKeyEd25519):
		return "Ed25519"
	case oid.Equal(OIDPublicKeyEd448):
		return "Ed448"
	}
	return oid.String()
}
