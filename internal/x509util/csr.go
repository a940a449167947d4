package x509util

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"sort"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// rawAttribute is a PKCS#10 Attribute. Values is encoded as a SET.
type rawAttribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// certificationRequestInfo carries the attributes as raw [0] IMPLICIT SET
// bytes so they can be built and DER-sorted by hand.
type certificationRequestInfo struct {
	Version       int
	Subject       asn1.RawValue
	PublicKey     asn1.RawValue
	RawAttributes asn1.RawValue
}

type parsedCRI struct {
	Raw           asn1.RawContent
	Version       int
	Subject       asn1.RawValue
	PublicKey     asn1.RawValue
	RawAttributes asn1.RawValue `asn1:"optional,tag:0"`
}

type certificationRequest struct {
	Info               asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
}

// CSRTemplate holds the content of a CertificationRequestInfo.
type CSRTemplate struct {
	// Subject is a DER Name.
	Subject []byte
	// PublicKey is a DER SubjectPublicKeyInfo.
	PublicKey  []byte
	Extensions []pkix.Extension
	// ChallengePassword adds a PKCS#9 challengePassword attribute when set.
	ChallengePassword string
}

// BuildCRI encodes the CertificationRequestInfo for t. Extensions go in an
// extensionRequest attribute; attributes are DER-sorted inside the
// [0] IMPLICIT SET.
func BuildCRI(t CSRTemplate) ([]byte, error) {
	if len(t.Subject) == 0 {
		return nil, fieldErr("subject", ErrEmptySubject)
	}
	if len(t.PublicKey) == 0 {
		return nil, fieldErr("public_key", pkicrypto.ErrMissingKeyMaterial)
	}

	var attrs [][]byte
	if len(t.Extensions) > 0 {
		exts, err := asn1.Marshal(t.Extensions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extensionRequest: %w", err)
		}
		a, err := asn1.Marshal(rawAttribute{
			Type:   OIDExtensionRequest,
			Values: []asn1.RawValue{{FullBytes: exts}},
		})
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	if t.ChallengePassword != "" {
		pw, err := asn1.Marshal(directoryString(t.ChallengePassword))
		if err != nil {
			return nil, err
		}
		a, err := asn1.Marshal(rawAttribute{
			Type:   OIDChallengePassword,
			Values: []asn1.RawValue{{FullBytes: pw}},
		})
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool { return bytes.Compare(attrs[i], attrs[j]) < 0 })

	wrapped, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      bytes.Join(attrs, nil),
	})
	if err != nil {
		return nil, err
	}

	cri, err := asn1.Marshal(certificationRequestInfo{
		Version:       0,
		Subject:       asn1.RawValue{FullBytes: t.Subject},
		PublicKey:     asn1.RawValue{FullBytes: t.PublicKey},
		RawAttributes: asn1.RawValue{FullBytes: wrapped},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CertificationRequestInfo: %w", err)
	}
	return cri, nil
}

func directoryString(s string) asn1.RawValue {
	tag := asn1.TagUTF8String
	if isPrintable(s) {
		tag = asn1.TagPrintableString
	}
	return asn1.RawValue{Class: asn1.ClassUniversal, Tag: tag, Bytes: []byte(s)}
}

// SignCSR builds, signs and assembles a PKCS#10 request. The result is
// parsed back and its signature verified before it is returned.
func SignCSR(ctx context.Context, signer pkicrypto.MessageSigner, plan pkicrypto.SignaturePlan, t CSRTemplate) ([]byte, error) {
	alg, err := AlgorithmIdentifier(plan)
	if err != nil {
		return nil, err
	}
	cri, err := BuildCRI(t)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignMessage(ctx, plan, cri)
	if err != nil {
		return nil, err
	}
	der, err := asn1.Marshal(certificationRequest{
		Info:               asn1.RawValue{FullBytes: cri},
		SignatureAlgorithm: alg,
		Signature:          asn1.BitString{Bytes: sig, BitLength: 8 * len(sig)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CSR: %w", err)
	}

	csr, err := ParseCSR(der)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR self-verification: %w", err)
	}
	return der, nil
}

// CSR is a parsed PKCS#10 request. Unlike x509.CertificateRequest it keeps
// the raw subject and accepts Ed448 keys.
type CSR struct {
	Raw                     []byte
	RawTBS                  []byte
	RawSubject              []byte
	RawSubjectPublicKeyInfo []byte
	PublicKey               crypto.PublicKey
	Extensions              []pkix.Extension
	ChallengePassword       string
	SignatureAlgorithm      pkix.AlgorithmIdentifier
	Signature               []byte
}

// ParseCSR parses a CSR in PEM or DER form.
func ParseCSR(data []byte) (*CSR, error) {
	der, err := DecodeCSR(data)
	if err != nil {
		return nil, err
	}

	var req certificationRequest
	if rest, err := asn1.Unmarshal(der, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	} else if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidCSR)
	}

	var info parsedCRI
	if rest, err := asn1.Unmarshal(req.Info.FullBytes, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	} else if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing data after request info", ErrInvalidCSR)
	}
	if info.Version != 0 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidCSR, info.Version)
	}

	pub, err := pkicrypto.ParsePKIXPublicKey(info.PublicKey.FullBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}

	csr := &CSR{
		Raw:                     der,
		RawTBS:                  req.Info.FullBytes,
		RawSubject:              info.Subject.FullBytes,
		RawSubjectPublicKeyInfo: info.PublicKey.FullBytes,
		PublicKey:               pub,
		SignatureAlgorithm:      req.SignatureAlgorithm,
		Signature:               req.Signature.RightAlign(),
	}
	if err := csr.parseAttributes(info.RawAttributes.Bytes); err != nil {
		return nil, err
	}
	return csr, nil
}

func (c *CSR) parseAttributes(rest []byte) error {
	for len(rest) > 0 {
		var attr rawAttribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return fmt.Errorf("%w: attribute: %v", ErrInvalidCSR, err)
		}
		if len(attr.Values) == 0 {
			continue
		}
		switch {
		case attr.Type.Equal(OIDExtensionRequest):
			var exts []pkix.Extension
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &exts); err != nil {
				return fmt.Errorf("%w: extensionRequest: %v", ErrInvalidCSR, err)
			}
			c.Extensions = append(c.Extensions, exts...)
		case attr.Type.Equal(OIDChallengePassword):
			var pw asn1.RawValue
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &pw); err != nil {
				return fmt.Errorf("%w: challengePassword: %v", ErrInvalidCSR, err)
			}
			c.ChallengePassword = string(pw.Bytes)
		}
	}
	return nil
}

// CheckSignature verifies the request's self-signature.
func (c *CSR) CheckSignature() error {
	plan, err := PlanFromAlgorithm(c.SignatureAlgorithm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if err := pkicrypto.Verify(c.PublicKey, plan, c.RawTBS, c.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	return nil
}

// Extension returns the requested extension with the given OID.
func (c *CSR) Extension(oid asn1.ObjectIdentifier) (pkix.Extension, bool) {
	for _, e := range c.Extensions {
		if e.Id.Equal(oid) {
			return e, true
		}
	}
	return pkix.Extension{}, false
}

// SubjectAltNames decodes the requested subjectAltName, if any.
func (c *CSR) SubjectAltNames() (AltNameSpec, error) {
	ext, ok := c.Extension(OIDExtSubjectAltName)
	if !ok {
		return AltNameSpec{}, nil
	}
	return DecodeGeneralNames(ext.Value)
}

// CommonName returns the first CN of the subject, or "".
func (c *CSR) CommonName() string {
	attrs, err := DecodeName(c.RawSubject)
	if err != nil {
		return ""
	}
	for _, a := range attrs {
		if a.Type == "CN" {
			return a.Value
		}
	}
	return ""
}
