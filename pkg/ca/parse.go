package ca

import (
	"encoding/hex"
	"strings"

	"github.com/remiblancher/certengine/internal/x509util"
)

// CertInfo is the metadata of a certificate. Extension fields are only set
// when requested and present.
type CertInfo struct {
	Version            int                      `json:"tbs_version"`
	Serial             string                   `json:"serial"`
	SigAlg             string                   `json:"sig_alg"`
	SignatureAlgorithm string                   `json:"signature_algorithm"`
	PublicKeyAlgorithm string                   `json:"public_key_algorithm"`
	Issuer             []x509util.NameAttribute `json:"issuer"`
	Subject            []x509util.NameAttribute `json:"subject"`
	NotBefore          int64                    `json:"not_before"`
	NotAfter           int64                    `json:"not_after"`
	IsCA               bool                     `json:"is_ca"`

	SKID                  string                `json:"skid,omitempty"`
	AKID                  string                `json:"akid,omitempty"`
	SAN                   *x509util.AltNameSpec `json:"san,omitempty"`
	EKU                   []string              `json:"eku,omitempty"`
	KeyUsage              map[string]bool       `json:"key_usage,omitempty"`
	PathLen               *int                  `json:"path_len,omitempty"`
	OCSP                  []string              `json:"ocsp,omitempty"`
	CAIssuers             []string              `json:"ca_issuers,omitempty"`
	CRLDistributionPoints []string              `json:"crl_distribution_points,omitempty"`

	// Warnings maps an extension name to the reason it could not be decoded.
	Warnings map[string]string `json:"warnings,omitempty"`
}

// ParseCert extracts the metadata of the first certificate in cert (PEM,
// DER or PKCS#7). A malformed extension is reported in Warnings and does
// not stop the others from being decoded.
func ParseCert(cert []byte, includeExtensions bool) (*CertInfo, error) {
	ders, err := x509util.DecodeCertificates(cert)
	if err != nil {
		return nil, &ValidationError{Op: "parse", Field: "cert", Err: err}
	}
	c, err := x509util.ParseCertificate(ders[0])
	if err != nil {
		return nil, &ValidationError{Op: "parse", Field: "cert", Err: err}
	}

	info := &CertInfo{
		Version:            c.Version,
		Serial:             c.SerialNumber.String(),
		SigAlg:             x509util.SignatureHashName(c.SignatureAlgorithm),
		SignatureAlgorithm: x509util.SignatureAlgorithmName(c.SignatureAlgorithm),
		PublicKeyAlgorithm: x509util.PublicKeyAlgorithmName(c.RawSubjectPublicKeyInfo),
		NotBefore:          c.NotBefore.Unix(),
		NotAfter:           c.NotAfter.Unix(),
		IsCA:               c.IsCA(),
	}
	if info.Issuer, err = x509util.DecodeName(c.RawIssuer); err != nil {
		return nil, &ValidationError{Op: "parse", Field: "issuer", Err: err}
	}
	if info.Subject, err = x509util.DecodeName(c.RawSubject); err != nil {
		return nil, &ValidationError{Op: "parse", Field: "subject", Err: err}
	}

	if includeExtensions {
		info.decodeExtensions(c)
	}
	return info, nil
}

func (info *CertInfo) warn(name string, err error) {
	if info.Warnings == nil {
		info.Warnings = make(map[string]string)
	}
	info.Warnings[name] = err.Error()
}

func (info *CertInfo) decodeExtensions(c *x509util.Certificate) {
	for _, ext := range c.Extensions {
		switch {
		case ext.Id.Equal(x509util.OIDExtSubjectKeyId):
			id, err := x509util.DecodeSubjectKeyID(ext.Value)
			if err != nil {
				info.warn("subject_key_identifier", err)
				continue
			}
			info.SKID = colonHex(id)

		case ext.Id.Equal(x509util.OIDExtAuthorityKeyId):
			id, err := x509util.DecodeAuthorityKeyID(ext.Value)
			if err != nil {
				info.warn("authority_key_identifier", err)
				continue
			}
			info.AKID = colonHex(id)

		case ext.Id.Equal(x509util.OIDExtSubjectAltName):
			san, err := x509util.DecodeGeneralNames(ext.Value)
			if err != nil {
				info.warn("subject_alt_name", err)
				continue
			}
			info.SAN = &san

		case ext.Id.Equal(x509util.OIDExtExtKeyUsage):
			oids, err := x509util.DecodeExtKeyUsage(ext.Value)
			if err != nil {
				info.warn("extended_key_usage", err)
				continue
			}
			for _, oid := range oids {
				info.EKU = append(info.EKU, oid.String())
			}

		case ext.Id.Equal(x509util.OIDExtKeyUsage):
			ku, err := x509util.DecodeKeyUsage(ext.Value)
			if err != nil {
				info.warn("key_usage", err)
				continue
			}
			info.KeyUsage = keyUsageFlags(ku)

		case ext.Id.Equal(x509util.OIDExtBasicConstraints):
			bc, err := x509util.DecodeBasicConstraints(ext.Value)
			if err != nil {
				info.warn("basic_constraints", err)
				continue
			}
			info.PathLen = bc.PathLen

		case ext.Id.Equal(x509util.OIDExtAuthorityInfoAccess):
			ocsp, issuers, err := x509util.DecodeAuthorityInfoAccess(ext.Value)
			if err != nil {
				info.warn("authority_info_access", err)
				continue
			}
			info.OCSP, info.CAIssuers = ocsp, issuers

		case ext.Id.Equal(x509util.OIDExtCRLDistributionPoints):
			urls, err := x509util.DecodeCRLDistributionPoints(ext.Value)
			if err != nil {
				info.warn("crl_distribution_points", err)
				continue
			}
			info.CRLDistributionPoints = urls
		}
	}
}

func keyUsageFlags(ku x509util.KeyUsageSpec) map[string]bool {
	return map[string]bool{
		"digital_signature":  ku.DigitalSignature,
		"content_commitment": ku.ContentCommitment,
		"key_encipherment":   ku.KeyEncipherment,
		"data_encipherment":  ku.DataEncipherment,
		"key_agreement":      ku.KeyAgreement,
		"key_cert_sign":      ku.KeyCertSign,
		"crl_sign":           ku.CRLSign,
		"encipher_only":      ku.EncipherOnly,
		"decipher_only":      ku.DecipherOnly,
	}
}

// colonHex renders id as lower-case hex pairs joined by colons.
func colonHex(id []byte) string {
	if len(id) == 0 {
		return ""
	}
	h := hex.EncodeToString(id)
	var b strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(h[i : i+2])
	}
	return b.String()
}
