package x509util

import (
	"crypto/sha1" //nolint:gosec // RFC 5280 method 1 key identifiers
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

type authorityKeyID struct {
	ID []byte `asn1:"optional,tag:0"`
}

// KeyID returns the SHA-1 of the subjectPublicKey BIT STRING of an SPKI.
func KeyID(spki []byte) ([]byte, error) {
	var info subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(spki, &info)
	if err != nil {
		return nil, fmt.Errorf("parse public key info: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("parse public key info: trailing data")
	}
	sum := sha1.Sum(info.PublicKey.Bytes) //nolint:gosec
	return sum[:], nil
}

// SubjectKeyIDExtension builds a non-critical SKID extension.
func SubjectKeyIDExtension(spki []byte) (pkix.Extension, error) {
	id, err := KeyID(spki)
	if err != nil {
		return pkix.Extension{}, err
	}
	value, err := asn1.Marshal(id)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: OIDExtSubjectKeyId, Value: value}, nil
}

// AuthorityKeyIDExtension builds a non-critical AKID extension in
// keyIdentifier form from the issuer's SPKI.
func AuthorityKeyIDExtension(issuerSPKI []byte) (pkix.Extension, error) {
	id, err := KeyID(issuerSPKI)
	if err != nil {
		return pkix.Extension{}, err
	}
	value, err := asn1.Marshal(authorityKeyID{ID: id})
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: OIDExtAuthorityKeyId, Value: value}, nil
}
