package x509util

import (
	"encoding/asn1"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// AltNameSpec declares subject alternative names by kind.
type AltNameSpec struct {
	DNS   []string `yaml:"dns,omitempty" json:"dns,omitempty"`
	Email []string `yaml:"email,omitempty" json:"email,omitempty"`
	URI   []string `yaml:"uri,omitempty" json:"uri,omitempty"`
	IP    []string `yaml:"ip,omitempty" json:"ip,omitempty"`
	UPN   []string `yaml:"upn,omitempty" json:"upn,omitempty"`
}

// IsEmpty reports whether no alternative name is set.
func (a AltNameSpec) IsEmpty() bool {
	return len(a.DNS)+len(a.Email)+len(a.URI)+len(a.IP)+len(a.UPN) == 0
}

// SANKind identifies a GeneralName choice.
type SANKind string

const (
	SANDNS   SANKind = "dns"
	SANEmail SANKind = "email"
	SANURI   SANKind = "uri"
	SANIP    SANKind = "ip"
	SANUPN   SANKind = "upn"
)

// GeneralName context tags.
const (
	tagOtherName = 0
	tagRFC822    = 1
	tagDNSName   = 2
	tagURI       = 6
	tagIPAddress = 7
)

// SANEntry is a normalized alternative name.
type SANEntry struct {
	Kind  SANKind
	Value string
}

// SANSet is an insertion-ordered set of alternative names, keyed by
// (kind, normalized value).
type SANSet struct {
	entries []SANEntry
	index   map[SANEntry]struct{}
}

// NewSANSet returns an empty set.
func NewSANSet() *SANSet {
	return &SANSet{index: make(map[SANEntry]struct{})}
}

// Add normalizes and inserts a value. It returns false when an equal entry
// is already present.
func (s *SANSet) Add(kind SANKind, value string) (bool, error) {
	norm, err := normalizeSAN(kind, value)
	if err != nil {
		return false, err
	}
	e := SANEntry{Kind: kind, Value: norm}
	if _, ok := s.index[e]; ok {
		return false, nil
	}
	s.index[e] = struct{}{}
	s.entries = append(s.entries, e)
	return true, nil
}

// AddSpec inserts every value of spec, kind by kind in DNS, email, URI, IP,
// UPN order. Errors name the offending entry as prefix.kind[i].
func (s *SANSet) AddSpec(prefix string, spec AltNameSpec) error {
	groups := []struct {
		kind   SANKind
		values []string
	}{
		{SANDNS, spec.DNS},
		{SANEmail, spec.Email},
		{SANURI, spec.URI},
		{SANIP, spec.IP},
		{SANUPN, spec.UPN},
	}
	for _, g := range groups {
		for i, v := range g.values {
			if _, err := s.Add(g.kind, v); err != nil {
				return fieldErr(fmt.Sprintf("%s.%s[%d]", prefix, g.kind, i), err)
			}
		}
	}
	return nil
}

// Len returns the number of entries.
func (s *SANSet) Len() int { return len(s.entries) }

// Entries returns the entries in insertion order.
func (s *SANSet) Entries() []SANEntry {
	out := make([]SANEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Spec regroups the entries by kind, keeping per-kind order.
func (s *SANSet) Spec() AltNameSpec {
	var a AltNameSpec
	for _, e := range s.entries {
		switch e.Kind {
		case SANDNS:
			a.DNS = append(a.DNS, e.Value)
		case SANEmail:
			a.Email = append(a.Email, e.Value)
		case SANURI:
			a.URI = append(a.URI, e.Value)
		case SANIP:
			a.IP = append(a.IP, e.Value)
		case SANUPN:
			a.UPN = append(a.UPN, e.Value)
		}
	}
	return a
}

// Marshal encodes the set as a GeneralNames SEQUENCE.
func (s *SANSet) Marshal() ([]byte, error) {
	var names []asn1.RawValue
	for _, e := range s.entries {
		gn, err := marshalGeneralName(e)
		if err != nil {
			return nil, err
		}
		names = append(names, gn)
	}
	return asn1.Marshal(names)
}

func marshalGeneralName(e SANEntry) (asn1.RawValue, error) {
	switch e.Kind {
	case SANDNS:
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tagDNSName, Bytes: []byte(e.Value)}, nil
	case SANEmail:
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tagRFC822, Bytes: []byte(e.Value)}, nil
	case SANURI:
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tagURI, Bytes: []byte(e.Value)}, nil
	case SANIP:
		ip := net.ParseIP(e.Value)
		if ip4 := ip.To4(); ip4 != nil {
			ip = ip4
		}
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tagIPAddress, Bytes: ip}, nil
	case SANUPN:
		body, err := marshalUPN(e.Value)
		if err != nil {
			return asn1.RawValue{}, err
		}
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tagOtherName, IsCompound: true, Bytes: body}, nil
	}
	return asn1.RawValue{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidName, e.Kind)
}

// marshalUPN returns the body of an otherName: type-id followed by
// [0] EXPLICIT UTF8String.
func marshalUPN(upn string) ([]byte, error) {
	oid, err := asn1.Marshal(OIDUserPrincipalName)
	if err != nil {
		return nil, err
	}
	inner, err := asn1.MarshalWithParams(upn, "utf8")
	if err != nil {
		return nil, err
	}
	value, err := asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner,
	})
	if err != nil {
		return nil, err
	}
	return append(oid, value...), nil
}

func normalizeSAN(kind SANKind, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidName)
	}
	switch kind {
	case SANDNS:
		return NormalizeDNSName(value)
	case SANEmail:
		return normalizeEmail(value)
	case SANURI:
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" {
			return "", fmt.Errorf("%w: uri %q", ErrInvalidName, value)
		}
		if !isASCII(value) {
			return "", fmt.Errorf("%w: uri %q is not ASCII", ErrInvalidName, value)
		}
		return value, nil
	case SANIP:
		ip := net.ParseIP(value)
		if ip == nil {
			return "", fmt.Errorf("%w: %q", ErrMalformedIP, value)
		}
		return ip.String(), nil
	case SANUPN:
		if !utf8.ValidString(value) {
			return "", fmt.Errorf("%w: upn is not UTF-8", ErrInvalidName)
		}
		return value, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidName, kind)
}

// dnsProfile is the IDNA lookup profile without STD3 rules, so service
// labels such as _acme-challenge survive.
var dnsProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// checkLabels accepts letters, digits, hyphen and underscore in non-empty
// labels of at most 63 bytes.
func checkLabels(name string) error {
	if name == "" || len(name) > 253 {
		return fmt.Errorf("bad length %d", len(name))
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("bad label length in %q", name)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case 'a' <= c && c <= 'z', '0' <= c && c <= '9', c == '-', c == '_':
			default:
				return fmt.Errorf("invalid character %q", c)
			}
		}
	}
	return nil
}

// NormalizeDNSName converts a DNS name to lower-case A-labels. A wildcard
// is only accepted as the whole leftmost label and never directly above a
// public suffix.
func NormalizeDNSName(name string) (string, error) {
	name = strings.TrimSuffix(name, ".")
	wildcard := false
	rest := name
	if strings.HasPrefix(name, "*.") {
		wildcard = true
		rest = name[2:]
	}
	if strings.Contains(rest, "*") {
		return "", fmt.Errorf("%w: wildcard must be the leftmost label in %q", ErrInvalidName, name)
	}
	ascii, err := dnsProfile.ToASCII(rest)
	if err != nil {
		return "", fmt.Errorf("%w: dns %q: %v", ErrInvalidName, name, err)
	}
	ascii = strings.ToLower(ascii)
	if err := checkLabels(ascii); err != nil {
		return "", fmt.Errorf("%w: dns %q: %v", ErrInvalidName, name, err)
	}
	if wildcard {
		if !strings.Contains(ascii, ".") {
			return "", fmt.Errorf("%w: wildcard on top-level label %q", ErrInvalidName, name)
		}
		if suffix, _ := publicsuffix.PublicSuffix(ascii); suffix == ascii {
			return "", fmt.Errorf("%w: wildcard directly on public suffix %q", ErrInvalidName, name)
		}
		return "*." + ascii, nil
	}
	return ascii, nil
}

func normalizeEmail(addr string) (string, error) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", fmt.Errorf("%w: email %q", ErrInvalidName, addr)
	}
	local, domain := addr[:at], addr[at+1:]
	if !isASCII(local) {
		return "", fmt.Errorf("%w: email local part %q is not ASCII", ErrInvalidName, addr)
	}
	ascii, err := dnsProfile.ToASCII(domain)
	if err == nil {
		err = checkLabels(strings.ToLower(ascii))
	}
	if err != nil {
		return "", fmt.Errorf("%w: email domain %q: %v", ErrInvalidName, addr, err)
	}
	return local + "@" + strings.ToLower(ascii), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// DecodeGeneralNames decodes a GeneralNames SEQUENCE. Choices other than
// DNS, email, URI, IP and the UPN otherName are skipped.
func DecodeGeneralNames(der []byte) (AltNameSpec, error) {
	var out AltNameSpec
	var names []asn1.RawValue
	rest, err := asn1.Unmarshal(der, &names)
	if err != nil {
		return out, fmt.Errorf("decode general names: %w", err)
	}
	if len(rest) > 0 {
		return out, fmt.Errorf("decode general names: trailing data")
	}
	for _, gn := range names {
		if gn.Class != asn1.ClassContextSpecific {
			continue
		}
		switch gn.Tag {
		case tagDNSName:
			out.DNS = append(out.DNS, string(gn.Bytes))
		case tagRFC822:
			out.Email = append(out.Email, string(gn.Bytes))
		case tagURI:
			out.URI = append(out.URI, string(gn.Bytes))
		case tagIPAddress:
			if len(gn.Bytes) != net.IPv4len && len(gn.Bytes) != net.IPv6len {
				return out, fmt.Errorf("%w: %d-byte address", ErrMalformedIP, len(gn.Bytes))
			}
			out.IP = append(out.IP, net.IP(gn.Bytes).String())
		case tagOtherName:
			upn, ok, err := decodeUPN(gn.Bytes)
			if err != nil {
				return out, err
			}
			if ok {
				out.UPN = append(out.UPN, upn)
			}
		}
	}
	return out, nil
}

func decodeUPN(body []byte) (string, bool, error) {
	var typeID asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(body, &typeID)
	if err != nil {
		return "", false, fmt.Errorf("decode otherName: %w", err)
	}
	if !typeID.Equal(OIDUserPrincipalName) {
		return "", false, nil
	}
	var wrapper asn1.RawValue
	if _, err := asn1.Unmarshal(rest, &wrapper); err != nil {
		return "", false, fmt.Errorf("decode otherName value: %w", err)
	}
	var upn string
	if _, err := asn1.UnmarshalWithParams(wrapper.Bytes, &upn, "utf8"); err != nil {
		return "", false, fmt.Errorf("decode upn: %w", err)
	}
	return upn, true, nil
}
