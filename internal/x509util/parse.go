package x509util

import (
	"bytes"
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

type parsedTBS struct {
	Raw                asn1.RawContent
	Version            int `asn1:"optional,explicit,default:0,tag:0"`
	SerialNumber       *big.Int
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Issuer             asn1.RawValue
	Validity           validity
	Subject            asn1.RawValue
	PublicKey          asn1.RawValue
	IssuerUniqueID     asn1.BitString   `asn1:"optional,tag:1"`
	SubjectUniqueID    asn1.BitString   `asn1:"optional,tag:2"`
	Extensions         []pkix.Extension `asn1:"omitempty,optional,explicit,tag:3"`
}

// Certificate is a certificate decoded straight from its DER. PublicKey is
// nil when the key algorithm is not supported; the rest stays usable.
type Certificate struct {
	Raw                     []byte
	RawTBS                  []byte
	RawIssuer               []byte
	RawSubject              []byte
	RawSubjectPublicKeyInfo []byte

	// Version is 1-based.
	Version            int
	SerialNumber       *big.Int
	NotBefore          time.Time
	NotAfter           time.Time
	PublicKey          crypto.PublicKey
	Extensions         []pkix.Extension
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
}

// ParseCertificate decodes one DER certificate.
func ParseCertificate(der []byte) (*Certificate, error) {
	var cert certificate
	rest, err := asn1.Unmarshal(der, &cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidCertificate)
	}

	var tbs parsedTBS
	if rest, err := asn1.Unmarshal(cert.TBSCertificate.FullBytes, &tbs); err != nil {
		return nil, fmt.Errorf("%w: tbsCertificate: %v", ErrInvalidCertificate, err)
	} else if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after tbsCertificate", ErrInvalidCertificate)
	}
	if tbs.SerialNumber == nil {
		return nil, fmt.Errorf("%w: missing serial number", ErrInvalidCertificate)
	}
	if !sameAlgorithm(tbs.SignatureAlgorithm, cert.SignatureAlgorithm) {
		return nil, fmt.Errorf("%w: tbsCertificate signature algorithm differs from signatureAlgorithm", ErrInvalidCertificate)
	}

	c := &Certificate{
		Raw:                     der,
		RawTBS:                  cert.TBSCertificate.FullBytes,
		RawIssuer:               tbs.Issuer.FullBytes,
		RawSubject:              tbs.Subject.FullBytes,
		RawSubjectPublicKeyInfo: tbs.PublicKey.FullBytes,
		Version:                 tbs.Version + 1,
		SerialNumber:            tbs.SerialNumber,
		NotBefore:               tbs.Validity.NotBefore,
		NotAfter:                tbs.Validity.NotAfter,
		Extensions:              tbs.Extensions,
		SignatureAlgorithm:      cert.SignatureAlgorithm,
		Signature:               cert.SignatureValue.RightAlign(),
	}
	if pub, err := pkicrypto.ParsePKIXPublicKey(c.RawSubjectPublicKeyInfo); err == nil {
		c.PublicKey = pub
	}
	return c, nil
}

// sameAlgorithm compares two AlgorithmIdentifiers by their DER encoding.
func sameAlgorithm(a, b pkix.AlgorithmIdentifier) bool {
	da, err := asn1.Marshal(a)
	if err != nil {
		return false
	}
	db, err := asn1.Marshal(b)
	return err == nil && bytes.Equal(da, db)
}

// Extension returns the extension with the given OID.
func (c *Certificate) Extension(oid asn1.ObjectIdentifier) (pkix.Extension, bool) {
	for _, e := range c.Extensions {
		if e.Id.Equal(oid) {
			return e, true
		}
	}
	return pkix.Extension{}, false
}

// IsSelfIssued reports whether issuer and subject names are byte-equal.
func (c *Certificate) IsSelfIssued() bool {
	return bytes.Equal(c.RawIssuer, c.RawSubject)
}

// IsCA reports the cA flag of basicConstraints; false when absent or
// undecodable.
func (c *Certificate) IsCA() bool {
	ext, ok := c.Extension(OIDExtBasicConstraints)
	if !ok {
		return false
	}
	bc, err := DecodeBasicConstraints(ext.Value)
	return err == nil && bc.CA
}

// CheckSignatureFrom verifies that parent's key signed c.
func (c *Certificate) CheckSignatureFrom(parent *Certificate) error {
	if parent.PublicKey == nil {
		return fmt.Errorf("%w: issuer key algorithm not supported", pkicrypto.ErrUnsupportedKey)
	}
	plan, err := PlanFromAlgorithm(c.SignatureAlgorithm)
	if err != nil {
		return err
	}
	return pkicrypto.Verify(parent.PublicKey, plan, c.RawTBS, c.Signature)
}

// DecodeSubjectKeyID decodes a subjectKeyIdentifier value.
func DecodeSubjectKeyID(value []byte) ([]byte, error) {
	var id []byte
	if err := unmarshalExact(value, &id); err != nil {
		return nil, err
	}
	return id, nil
}

// DecodeAuthorityKeyID returns the keyIdentifier of an
// authorityKeyIdentifier value; nil when only issuer/serial are present.
func DecodeAuthorityKeyID(value []byte) ([]byte, error) {
	var akid struct {
		ID     []byte        `asn1:"optional,tag:0"`
		Issuer asn1.RawValue `asn1:"optional,tag:1"`
		Serial *big.Int      `asn1:"optional,tag:2"`
	}
	if err := unmarshalExact(value, &akid); err != nil {
		return nil, err
	}
	return akid.ID, nil
}

// DecodeExtKeyUsage decodes an extKeyUsage value.
func DecodeExtKeyUsage(value []byte) ([]asn1.ObjectIdentifier, error) {
	var oids []asn1.ObjectIdentifier
	if err := unmarshalExact(value, &oids); err != nil {
		return nil, err
	}
	return oids, nil
}

// DecodeKeyUsage decodes a keyUsage BIT STRING.
func DecodeKeyUsage(value []byte) (KeyUsageSpec, error) {
	var bs asn1.BitString
	if err := unmarshalExact(value, &bs); err != nil {
		return KeyUsageSpec{}, err
	}
	var b [9]bool
	for i := range b {
		b[i] = bs.At(i) == 1
	}
	return keyUsageFromBits(b), nil
}

// DecodeBasicConstraints decodes a basicConstraints value. PathLen is nil
// when pathLenConstraint is absent.
func DecodeBasicConstraints(value []byte) (BasicConstraintsSpec, error) {
	bc := basicConstraints{MaxPathLen: -1}
	if err := unmarshalExact(value, &bc); err != nil {
		return BasicConstraintsSpec{}, err
	}
	out := BasicConstraintsSpec{CA: bc.IsCA}
	if bc.MaxPathLen >= 0 {
		n := bc.MaxPathLen
		out.PathLen = &n
	}
	return out, nil
}

type accessDescription struct {
	Method   asn1.ObjectIdentifier
	Location asn1.RawValue
}

// DecodeAuthorityInfoAccess returns the OCSP and caIssuers URIs.
func DecodeAuthorityInfoAccess(value []byte) (ocsp, issuers []string, err error) {
	var descs []accessDescription
	if err := unmarshalExact(value, &descs); err != nil {
		return nil, nil, err
	}
	for _, d := range descs {
		if d.Location.Class != asn1.ClassContextSpecific || d.Location.Tag != tagURI {
			continue
		}
		switch {
		case d.Method.Equal(OIDAccessMethodOCSP):
			ocsp = append(ocsp, string(d.Location.Bytes))
		case d.Method.Equal(OIDAccessMethodCAIssuers):
			issuers = append(issuers, string(d.Location.Bytes))
		}
	}
	return ocsp, issuers, nil
}

type distributionPoint struct {
	DistributionPoint asn1.RawValue  `asn1:"optional,tag:0"`
	Reason            asn1.BitString `asn1:"optional,tag:1"`
	CRLIssuer         asn1.RawValue  `asn1:"optional,tag:2"`
}

// DecodeCRLDistributionPoints returns the URIs of fullName distribution
// points.
func DecodeCRLDistributionPoints(value []byte) ([]string, error) {
	var dps []distributionPoint
	if err := unmarshalExact(value, &dps); err != nil {
		return nil, err
	}
	var urls []string
	for _, dp := range dps {
		// DistributionPointName ::= CHOICE { fullName [0] GeneralNames, ... }
		var name asn1.RawValue
		if _, err := asn1.Unmarshal(dp.DistributionPoint.Bytes, &name); err != nil || name.Tag != 0 {
			continue
		}
		for rest := name.Bytes; len(rest) > 0; {
			var gn asn1.RawValue
			var err error
			if rest, err = asn1.Unmarshal(rest, &gn); err != nil {
				return nil, err
			}
			if gn.Class == asn1.ClassContextSpecific && gn.Tag == tagURI {
				urls = append(urls, string(gn.Bytes))
			}
		}
	}
	return urls, nil
}

// MarshalAuthorityInfoAccess builds a non-critical AIA extension.
func MarshalAuthorityInfoAccess(ocsp, issuers []string) (pkix.Extension, error) {
	var descs []accessDescription
	for _, u := range ocsp {
		descs = append(descs, accessDescription{Method: OIDAccessMethodOCSP, Location: uriName(u)})
	}
	for _, u := range issuers {
		descs = append(descs, accessDescription{Method: OIDAccessMethodCAIssuers, Location: uriName(u)})
	}
	value, err := asn1.Marshal(descs)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: OIDExtAuthorityInfoAccess, Value: value}, nil
}

// MarshalCRLDistributionPoints builds a non-critical CRL DP extension with
// one fullName point per URL.
func MarshalCRLDistributionPoints(urls []string) (pkix.Extension, error) {
	var dps []distributionPoint
	for _, u := range urls {
		gn, err := asn1.Marshal(uriName(u))
		if err != nil {
			return pkix.Extension{}, err
		}
		full, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: gn})
		if err != nil {
			return pkix.Extension{}, err
		}
		dps = append(dps, distributionPoint{
			DistributionPoint: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: full},
		})
	}
	value, err := asn1.Marshal(dps)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: OIDExtCRLDistributionPoints, Value: value}, nil
}

func uriName(u string) asn1.RawValue {
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tagURI, Bytes: []byte(u)}
}

var errTrailingData = errors.New("trailing data")

func unmarshalExact(der []byte, v any) error {
	rest, err := asn1.Unmarshal(der, v)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return errTrailingData
	}
	return nil
}
