package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"strings"
)

// BasicConstraintsSpec declares the basicConstraints extension.
type BasicConstraintsSpec struct {
	CA      bool `yaml:"ca" json:"ca"`
	PathLen *int `yaml:"path_len,omitempty" json:"path_len,omitempty"`
}

// KeyUsageSpec declares the nine keyUsage flags.
type KeyUsageSpec struct {
	DigitalSignature  bool `yaml:"digital_signature,omitempty" json:"digital_signature,omitempty"`
	ContentCommitment bool `yaml:"content_commitment,omitempty" json:"content_commitment,omitempty"`
	KeyEncipherment   bool `yaml:"key_encipherment,omitempty" json:"key_encipherment,omitempty"`
	DataEncipherment  bool `yaml:"data_encipherment,omitempty" json:"data_encipherment,omitempty"`
	KeyAgreement      bool `yaml:"key_agreement,omitempty" json:"key_agreement,omitempty"`
	KeyCertSign       bool `yaml:"key_cert_sign,omitempty" json:"key_cert_sign,omitempty"`
	CRLSign           bool `yaml:"crl_sign,omitempty" json:"crl_sign,omitempty"`
	EncipherOnly      bool `yaml:"encipher_only,omitempty" json:"encipher_only,omitempty"`
	DecipherOnly      bool `yaml:"decipher_only,omitempty" json:"decipher_only,omitempty"`
}

// bits returns the flags in BIT STRING order.
func (k KeyUsageSpec) bits() [9]bool {
	return [9]bool{
		k.DigitalSignature, k.ContentCommitment, k.KeyEncipherment,
		k.DataEncipherment, k.KeyAgreement, k.KeyCertSign,
		k.CRLSign, k.EncipherOnly, k.DecipherOnly,
	}
}

// keyUsageFromBits is the inverse of bits.
func keyUsageFromBits(b [9]bool) KeyUsageSpec {
	return KeyUsageSpec{
		DigitalSignature: b[0], ContentCommitment: b[1], KeyEncipherment: b[2],
		DataEncipherment: b[3], KeyAgreement: b[4], KeyCertSign: b[5],
		CRLSign: b[6], EncipherOnly: b[7], DecipherOnly: b[8],
	}
}

// ExtendedKeyUsageSpec lists EKU aliases or dotted OIDs.
type ExtendedKeyUsageSpec struct {
	OIDs []string `yaml:"oids" json:"oids"`
}

// NameConstraintsSpec declares permitted and excluded subtrees per kind.
type NameConstraintsSpec struct {
	PermittedDNS   []string `yaml:"permitted_dns,omitempty" json:"permitted_dns,omitempty"`
	PermittedIP    []string `yaml:"permitted_ip,omitempty" json:"permitted_ip,omitempty"`
	PermittedURI   []string `yaml:"permitted_uri,omitempty" json:"permitted_uri,omitempty"`
	PermittedEmail []string `yaml:"permitted_email,omitempty" json:"permitted_email,omitempty"`
	ExcludedDNS    []string `yaml:"excluded_dns,omitempty" json:"excluded_dns,omitempty"`
	ExcludedIP     []string `yaml:"excluded_ip,omitempty" json:"excluded_ip,omitempty"`
	ExcludedURI    []string `yaml:"excluded_uri,omitempty" json:"excluded_uri,omitempty"`
	ExcludedEmail  []string `yaml:"excluded_email,omitempty" json:"excluded_email,omitempty"`
}

// ExtraExtension is an arbitrary extension given by OID and DER value.
type ExtraExtension struct {
	OID      string `yaml:"oid" json:"oid"`
	Critical bool   `yaml:"critical,omitempty" json:"critical,omitempty"`
	Value    []byte `yaml:"value" json:"value"`
}

// ExtensionSpec declares the extensions of a CSR or certificate.
type ExtensionSpec struct {
	BasicConstraints       *BasicConstraintsSpec `yaml:"basic_constraints,omitempty" json:"basic_constraints,omitempty"`
	KeyUsage               *KeyUsageSpec         `yaml:"key_usage,omitempty" json:"key_usage,omitempty"`
	ExtendedKeyUsage       *ExtendedKeyUsageSpec `yaml:"extended_key_usage,omitempty" json:"extended_key_usage,omitempty"`
	NameConstraints        *NameConstraintsSpec  `yaml:"name_constraints,omitempty" json:"name_constraints,omitempty"`
	SubjectAltName         *AltNameSpec          `yaml:"subject_alt_name,omitempty" json:"subject_alt_name,omitempty"`
	SubjectKeyIdentifier   *bool                 `yaml:"subject_key_identifier,omitempty" json:"subject_key_identifier,omitempty"`
	AuthorityKeyIdentifier *bool                 `yaml:"authority_key_identifier,omitempty" json:"authority_key_identifier,omitempty"`
	Extra                  []ExtraExtension      `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// ComposeInput carries everything the composer needs besides the ExtensionSpec.
type ComposeInput struct {
	Spec *ExtensionSpec
	// SAN entries come before Spec.SubjectAltName.
	SAN *AltNameSpec
	// Inherited SAN entries, typically from a CSR, come last.
	Inherited *AltNameSpec
	// SubjectPublicKey is the subject's SubjectPublicKeyInfo DER.
	SubjectPublicKey []byte
	// IssuerPublicKey is the issuer's SubjectPublicKeyInfo DER, nil when
	// there is no issuer context.
	IssuerPublicKey []byte
	// DefaultAKID emits an AKID when an issuer context exists and the ExtensionSpec
	// leaves AuthorityKeyIdentifier unset.
	DefaultAKID bool
}

// ComposeExtensions builds the extension list for a CSR or certificate.
// Built-in extensions appear in the order BC, KU, EKU, SAN, NC, SKID, AKID,
// followed by extras; an extra carrying a built-in OID replaces it in place.
func ComposeExtensions(in ComposeInput) (*ExtensionSet, error) {
	spec := in.Spec
	if spec == nil {
		spec = &ExtensionSpec{}
	}
	set := NewExtensionSet()

	if bc := spec.BasicConstraints; bc != nil {
		ext, err := basicConstraintsExtension(*bc)
		if err != nil {
			return nil, err
		}
		set.Set(ext)
	}

	if ku := spec.KeyUsage; ku != nil {
		ext, ok, err := keyUsageExtension(*ku)
		if err != nil {
			return nil, err
		}
		if ok {
			set.Set(ext)
		}
	}

	if eku := spec.ExtendedKeyUsage; eku != nil && len(eku.OIDs) > 0 {
		ext, err := extKeyUsageExtension(*eku)
		if err != nil {
			return nil, err
		}
		set.Set(ext)
	}

	sans := NewSANSet()
	if in.SAN != nil {
		if err := sans.AddSpec("san", *in.SAN); err != nil {
			return nil, err
		}
	}
	if spec.SubjectAltName != nil {
		if err := sans.AddSpec("subject_alt_name", *spec.SubjectAltName); err != nil {
			return nil, err
		}
	}
	if in.Inherited != nil {
		if err := sans.AddSpec("csr.san", *in.Inherited); err != nil {
			return nil, err
		}
	}
	if sans.Len() > 0 {
		value, err := sans.Marshal()
		if err != nil {
			return nil, fieldErr("san", err)
		}
		set.Set(pkix.Extension{Id: OIDExtSubjectAltName, Value: value})
	}

	if nc := spec.NameConstraints; nc != nil {
		ext, ok, err := nameConstraintsExtension(*nc)
		if err != nil {
			return nil, err
		}
		if ok {
			set.Set(ext)
		}
	}

	if spec.SubjectKeyIdentifier == nil || *spec.SubjectKeyIdentifier {
		if len(in.SubjectPublicKey) > 0 {
			ext, err := SubjectKeyIDExtension(in.SubjectPublicKey)
			if err != nil {
				return nil, fieldErr("subject_key_identifier", err)
			}
			set.Set(ext)
		}
	}

	wantAKID := in.DefaultAKID
	if spec.AuthorityKeyIdentifier != nil {
		wantAKID = *spec.AuthorityKeyIdentifier
	}
	if wantAKID && len(in.IssuerPublicKey) > 0 {
		ext, err := AuthorityKeyIDExtension(in.IssuerPublicKey)
		if err != nil {
			return nil, fieldErr("authority_key_identifier", err)
		}
		set.Set(ext)
	}

	for i, extra := range spec.Extra {
		oid, err := ParseOID(extra.OID)
		if err != nil {
			return nil, fieldErr(fmt.Sprintf("extra[%d].oid", i), err)
		}
		set.Set(pkix.Extension{Id: oid, Critical: extra.Critical, Value: extra.Value})
	}

	return set, nil
}

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

func basicConstraintsExtension(bc BasicConstraintsSpec) (pkix.Extension, error) {
	v := basicConstraints{IsCA: bc.CA, MaxPathLen: -1}
	if bc.PathLen != nil {
		if !bc.CA {
			return pkix.Extension{}, fieldErr("basic_constraints.path_len",
				fmt.Errorf("%w: path length requires ca=true", ErrInvalidExtension))
		}
		if *bc.PathLen < 0 {
			return pkix.Extension{}, fieldErr("basic_constraints.path_len",
				fmt.Errorf("%w: negative path length", ErrInvalidExtension))
		}
		v.MaxPathLen = *bc.PathLen
	}
	value, err := asn1.Marshal(v)
	if err != nil {
		return pkix.Extension{}, fieldErr("basic_constraints", err)
	}
	return pkix.Extension{Id: OIDExtBasicConstraints, Critical: true, Value: value}, nil
}

// keyUsageExtension returns ok=false when no flag is set.
func keyUsageExtension(ku KeyUsageSpec) (pkix.Extension, bool, error) {
	if (ku.EncipherOnly || ku.DecipherOnly) && !ku.KeyAgreement {
		return pkix.Extension{}, false, fieldErr("key_usage",
			fmt.Errorf("%w: encipher_only/decipher_only require key_agreement", ErrInvalidExtension))
	}
	var b [2]byte
	n := 0
	for i, set := range ku.bits() {
		if set {
			b[i/8] |= 0x80 >> uint(i%8)
			n = i + 1
		}
	}
	if n == 0 {
		return pkix.Extension{}, false, nil
	}
	value, err := asn1.Marshal(asn1.BitString{Bytes: b[:(n+7)/8], BitLength: n})
	if err != nil {
		return pkix.Extension{}, false, fieldErr("key_usage", err)
	}
	return pkix.Extension{Id: OIDExtKeyUsage, Critical: true, Value: value}, true, nil
}

func extKeyUsageExtension(eku ExtendedKeyUsageSpec) (pkix.Extension, error) {
	oids := make([]asn1.ObjectIdentifier, 0, len(eku.OIDs))
	for i, s := range eku.OIDs {
		oid, err := ResolveEKU(s)
		if err != nil {
			return pkix.Extension{}, fieldErr(fmt.Sprintf("extended_key_usage.oids[%d]", i), err)
		}
		oids = append(oids, oid)
	}
	value, err := asn1.Marshal(oids)
	if err != nil {
		return pkix.Extension{}, fieldErr("extended_key_usage", err)
	}
	return pkix.Extension{Id: OIDExtExtKeyUsage, Value: value}, nil
}

type generalSubtree struct {
	Base asn1.RawValue
}

type nameConstraints struct {
	Permitted []generalSubtree `asn1:"optional,omitempty,tag:0"`
	Excluded  []generalSubtree `asn1:"optional,omitempty,tag:1"`
}

// nameConstraintsExtension returns ok=false when both subtree lists are empty.
func nameConstraintsExtension(nc NameConstraintsSpec) (pkix.Extension, bool, error) {
	permitted, err := subtrees("name_constraints.permitted", nc.PermittedDNS, nc.PermittedIP, nc.PermittedURI, nc.PermittedEmail)
	if err != nil {
		return pkix.Extension{}, false, err
	}
	excluded, err := subtrees("name_constraints.excluded", nc.ExcludedDNS, nc.ExcludedIP, nc.ExcludedURI, nc.ExcludedEmail)
	if err != nil {
		return pkix.Extension{}, false, err
	}
	if len(permitted) == 0 && len(excluded) == 0 {
		return pkix.Extension{}, false, nil
	}
	value, err := asn1.Marshal(nameConstraints{Permitted: permitted, Excluded: excluded})
	if err != nil {
		return pkix.Extension{}, false, fieldErr("name_constraints", err)
	}
	return pkix.Extension{Id: OIDExtNameConstraints, Critical: true, Value: value}, true, nil
}

func subtrees(prefix string, dns, ips, uris, emails []string) ([]generalSubtree, error) {
	var out []generalSubtree
	add := func(tag int, b []byte) {
		out = append(out, generalSubtree{Base: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tag, Bytes: b}})
	}
	for i, d := range dns {
		v, err := constraintDomain(d)
		if err != nil {
			return nil, fieldErr(fmt.Sprintf("%s_dns[%d]", prefix, i), err)
		}
		add(tagDNSName, []byte(v))
	}
	for i, s := range ips {
		b, err := constraintNetwork(s)
		if err != nil {
			return nil, fieldErr(fmt.Sprintf("%s_ip[%d]", prefix, i), err)
		}
		add(tagIPAddress, b)
	}
	for i, u := range uris {
		v, err := constraintDomain(u)
		if err != nil {
			return nil, fieldErr(fmt.Sprintf("%s_uri[%d]", prefix, i), err)
		}
		add(tagURI, []byte(v))
	}
	for i, e := range emails {
		v, err := constraintEmail(e)
		if err != nil {
			return nil, fieldErr(fmt.Sprintf("%s_email[%d]", prefix, i), err)
		}
		add(tagRFC822, []byte(v))
	}
	return out, nil
}

// constraintDomain accepts a host name with an optional leading dot.
func constraintDomain(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty constraint", ErrInvalidName)
	}
	lead := ""
	if strings.HasPrefix(s, ".") {
		lead, s = ".", s[1:]
	}
	if strings.Contains(s, "*") {
		return "", fmt.Errorf("%w: wildcard in constraint %q", ErrInvalidName, s)
	}
	norm, err := NormalizeDNSName(s)
	if err != nil {
		return "", err
	}
	return lead + norm, nil
}

// constraintEmail accepts a mailbox, a host, or a domain with a leading dot.
func constraintEmail(s string) (string, error) {
	if strings.Contains(s, "@") {
		return normalizeEmail(strings.TrimSpace(s))
	}
	return constraintDomain(s)
}

// constraintNetwork encodes a CIDR or bare address as address||mask.
func constraintNetwork(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedIP, s)
		}
		if ip4 := ip.To4(); ip4 != nil {
			return append([]byte(ip4), net.CIDRMask(32, 32)...), nil
		}
		return append([]byte(ip.To16()), net.CIDRMask(128, 128)...), nil
	}
	_, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedIP, s)
	}
	ip := ipnet.IP
	if ip4 := ip.To4(); ip4 != nil && len(ipnet.Mask) == net.IPv4len {
		ip = ip4
	}
	return append([]byte(ip), ipnet.Mask...), nil
}

// ExtensionSet is an insertion-ordered set of extensions keyed by OID.
type ExtensionSet struct {
	exts []pkix.Extension
}

// NewExtensionSet returns a set holding exts; later duplicates replace
// earlier ones in place.
func NewExtensionSet(exts ...pkix.Extension) *ExtensionSet {
	s := &ExtensionSet{}
	for _, e := range exts {
		s.Set(e)
	}
	return s
}

func (s *ExtensionSet) indexOf(oid asn1.ObjectIdentifier) int {
	for i, e := range s.exts {
		if e.Id.Equal(oid) {
			return i
		}
	}
	return -1
}

// Set inserts ext, replacing an extension with the same OID in place.
func (s *ExtensionSet) Set(ext pkix.Extension) {
	if i := s.indexOf(ext.Id); i >= 0 {
		s.exts[i] = ext
		return
	}
	s.exts = append(s.exts, ext)
}

// Merge sets every extension of other into s.
func (s *ExtensionSet) Merge(other *ExtensionSet) {
	if other == nil {
		return
	}
	for _, e := range other.exts {
		s.Set(e)
	}
}

// Get returns the extension with the given OID.
func (s *ExtensionSet) Get(oid asn1.ObjectIdentifier) (pkix.Extension, bool) {
	if i := s.indexOf(oid); i >= 0 {
		return s.exts[i], true
	}
	return pkix.Extension{}, false
}

// Delete removes the extension with the given OID.
func (s *ExtensionSet) Delete(oid asn1.ObjectIdentifier) {
	if i := s.indexOf(oid); i >= 0 {
		s.exts = append(s.exts[:i], s.exts[i+1:]...)
	}
}

// Len returns the number of extensions.
func (s *ExtensionSet) Len() int { return len(s.exts) }

// List returns a copy of the extensions in set order.
func (s *ExtensionSet) List() []pkix.Extension {
	out := make([]pkix.Extension, len(s.exts))
	copy(out, s.exts)
	return out
}

// SortedByOID returns a copy of the extensions ordered by OID arcs.
func (s *ExtensionSet) SortedByOID() []pkix.Extension {
	out := s.List()
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && compareOID(out[j].Id, out[j-1].Id) < 0; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func compareOID(a, b asn1.ObjectIdentifier) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}
