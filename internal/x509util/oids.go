// Package x509util builds and decodes the ASN.1 structures behind CSRs and
// certificates: distinguished names, extensions, TBS certificates and
// PKCS#10 requests.
package x509util

import (
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"
)

// Standard X.509 extension OIDs.
var (
	OIDExtSubjectKeyId          = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDExtKeyUsage              = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDExtSubjectAltName        = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDExtBasicConstraints      = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDExtNameConstraints       = asn1.ObjectIdentifier{2, 5, 29, 30}
	OIDExtCRLDistributionPoints = asn1.ObjectIdentifier{2, 5, 29, 31}
	OIDExtAuthorityKeyId        = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtExtKeyUsage           = asn1.ObjectIdentifier{2, 5, 29, 37}
	OIDExtAuthorityInfoAccess   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}
)

// Authority Information Access methods.
var (
	OIDAccessMethodOCSP      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1}
	OIDAccessMethodCAIssuers = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 2}
)

// Extended Key Usage OIDs.
var (
	OIDExtKeyUsageServerAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	OIDExtKeyUsageClientAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	OIDExtKeyUsageCodeSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
	OIDExtKeyUsageEmailProtection = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}
	OIDExtKeyUsageTimeStamping    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	OIDExtKeyUsageOCSPSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}
)

// Signature algorithm OIDs.
var (
	OIDSignatureRSAWithSHA1     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	OIDSignatureRSAWithSHA256   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSignatureRSAWithSHA384   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSignatureRSAWithSHA512   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDSignatureRSAPSS          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDSignatureECDSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	OIDSignatureECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDSignatureECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDSignatureECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
	OIDSignatureEd25519         = asn1.ObjectIdentifier{1, 3, 101, 112}
	OIDSignatureEd448           = asn1.ObjectIdentifier{1, 3, 101, 113}

	OIDMGF1 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}
)

// Hash algorithm OIDs used inside RSASSA-PSS parameters.
var (
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// PKCS#9 attribute OIDs carried in CSRs.
var (
	OIDChallengePassword = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 7}
	OIDExtensionRequest  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}
)

// OIDUserPrincipalName is the Microsoft UPN otherName type.
var OIDUserPrincipalName = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 20, 2, 3}

// ekuAliases maps symbolic EKU names to their OIDs.
var ekuAliases = map[string]asn1.ObjectIdentifier{
	"serverAuth":      OIDExtKeyUsageServerAuth,
	"clientAuth":      OIDExtKeyUsageClientAuth,
	"codeSigning":     OIDExtKeyUsageCodeSigning,
	"emailProtection": OIDExtKeyUsageEmailProtection,
	"timeStamping":    OIDExtKeyUsageTimeStamping,
	"ocspSigning":     OIDExtKeyUsageOCSPSigning,
}

// ParseOID parses a dotted OID string such as "1.3.6.1.5.5.7.3.1".
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOID, s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOID, s)
		}
		oid[i] = n
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] >= 40) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOID, s)
	}
	return oid, nil
}

// ResolveEKU resolves a symbolic EKU alias, falling back to a dotted OID.
func ResolveEKU(s string) (asn1.ObjectIdentifier, error) {
	if oid, ok := ekuAliases[s]; ok {
		return oid, nil
	}
	return ParseOID(s)
}
