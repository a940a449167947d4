package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// RDN is a single extra relative distinguished name entry. Type is a dotted
// OID or a symbolic attribute name.
type RDN struct {
	Type  string `yaml:"type" json:"type"`
	Value string `yaml:"value" json:"value"`
}

// SubjectSpec declares a distinguished name.
type SubjectSpec struct {
	C            string `yaml:"C,omitempty" json:"C,omitempty"`
	ST           string `yaml:"ST,omitempty" json:"ST,omitempty"`
	L            string `yaml:"L,omitempty" json:"L,omitempty"`
	O            string `yaml:"O,omitempty" json:"O,omitempty"`
	OU           string `yaml:"OU,omitempty" json:"OU,omitempty"`
	CN           string `yaml:"CN,omitempty" json:"CN,omitempty"`
	EmailAddress string `yaml:"emailAddress,omitempty" json:"emailAddress,omitempty"`
	ExtraRDNs    []RDN  `yaml:"extra_rdns,omitempty" json:"extra_rdns,omitempty"`
}

// Attribute type OIDs.
var (
	oidCountry                = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidStateOrProvince        = asn1.ObjectIdentifier{2, 5, 4, 8}
	oidLocality               = asn1.ObjectIdentifier{2, 5, 4, 7}
	oidOrganization           = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidOrganizationalUnit     = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidCommonName             = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidEmailAddress           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	oidSerialNumber           = asn1.ObjectIdentifier{2, 5, 4, 5}
	oidStreet                 = asn1.ObjectIdentifier{2, 5, 4, 9}
	oidPostalCode             = asn1.ObjectIdentifier{2, 5, 4, 17}
	oidTitle                  = asn1.ObjectIdentifier{2, 5, 4, 12}
	oidSurname                = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidGivenName              = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidInitials               = asn1.ObjectIdentifier{2, 5, 4, 43}
	oidPseudonym              = asn1.ObjectIdentifier{2, 5, 4, 65}
	oidDNQualifier            = asn1.ObjectIdentifier{2, 5, 4, 46}
	oidBusinessCategory       = asn1.ObjectIdentifier{2, 5, 4, 15}
	oidOrganizationIdentifier = asn1.ObjectIdentifier{2, 5, 4, 97}
	oidDomainComponent        = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	oidUserID                 = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	oidJurisdictionL          = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 60, 2, 1, 1}
	oidJurisdictionST         = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 60, 2, 1, 2}
	oidJurisdictionC          = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 60, 2, 1, 3}
)

type attrType struct {
	short string
	oid   asn1.ObjectIdentifier
}

// attrTypes lists known attribute types; the first entry for an OID gives
// its short name when decoding.
var attrTypes = []attrType{
	{"C", oidCountry},
	{"ST", oidStateOrProvince},
	{"L", oidLocality},
	{"O", oidOrganization},
	{"OU", oidOrganizationalUnit},
	{"CN", oidCommonName},
	{"emailAddress", oidEmailAddress},
	{"serialNumber", oidSerialNumber},
	{"street", oidStreet},
	{"postalCode", oidPostalCode},
	{"title", oidTitle},
	{"SN", oidSurname},
	{"givenName", oidGivenName},
	{"initials", oidInitials},
	{"pseudonym", oidPseudonym},
	{"dnQualifier", oidDNQualifier},
	{"businessCategory", oidBusinessCategory},
	{"organizationIdentifier", oidOrganizationIdentifier},
	{"DC", oidDomainComponent},
	{"UID", oidUserID},
	{"jurisdictionL", oidJurisdictionL},
	{"jurisdictionST", oidJurisdictionST},
	{"jurisdictionC", oidJurisdictionC},
}

// attrAliases accepts long-form attribute names as well.
var attrAliases = map[string]asn1.ObjectIdentifier{
	"surname":                  oidSurname,
	"COUNTRY_NAME":             oidCountry,
	"STATE_OR_PROVINCE_NAME":   oidStateOrProvince,
	"LOCALITY_NAME":            oidLocality,
	"ORGANIZATION_NAME":        oidOrganization,
	"ORGANIZATIONAL_UNIT_NAME": oidOrganizationalUnit,
	"COMMON_NAME":              oidCommonName,
	"EMAIL_ADDRESS":            oidEmailAddress,
	"SERIAL_NUMBER":            oidSerialNumber,
	"STREET_ADDRESS":           oidStreet,
	"POSTAL_CODE":              oidPostalCode,
	"TITLE":                    oidTitle,
	"SURNAME":                  oidSurname,
	"GIVEN_NAME":               oidGivenName,
	"INITIALS":                 oidInitials,
	"PSEUDONYM":                oidPseudonym,
	"DN_QUALIFIER":             oidDNQualifier,
	"BUSINESS_CATEGORY":        oidBusinessCategory,
	"ORGANIZATION_IDENTIFIER":  oidOrganizationIdentifier,
	"DOMAIN_COMPONENT":         oidDomainComponent,
	"USER_ID":                  oidUserID,
}

// ResolveAttributeType resolves a dotted OID (leading digit), a symbolic
// attribute name, or, failing both, a literal OID parse.
func ResolveAttributeType(key string) (asn1.ObjectIdentifier, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty attribute type", ErrUnknownOID)
	}
	if key[0] >= '0' && key[0] <= '9' {
		return ParseOID(key)
	}
	for _, at := range attrTypes {
		if at.short == key {
			return at.oid, nil
		}
	}
	if oid, ok := attrAliases[key]; ok {
		return oid, nil
	}
	return ParseOID(key)
}

// ShortAttributeName returns the short name for a known attribute OID, or
// its dotted form.
func ShortAttributeName(oid asn1.ObjectIdentifier) string {
	for _, at := range attrTypes {
		if at.oid.Equal(oid) {
			return at.short
		}
	}
	return oid.String()
}

// BuildName turns a SubjectSpec into an RDN sequence. Well-known attributes
// come first in C, ST, L, O, OU, CN, emailAddress order, then ExtraRDNs in
// declaration order. Each attribute is its own single-valued RDN.
func BuildName(spec SubjectSpec) (pkix.RDNSequence, error) {
	var rdns pkix.RDNSequence
	var bad error
	add := func(field string, oid asn1.ObjectIdentifier, value string) {
		if value == "" || bad != nil {
			return
		}
		v, err := attributeValue(oid, value)
		if err != nil {
			bad = fieldErr(field, err)
			return
		}
		rdns = append(rdns, pkix.RelativeDistinguishedNameSET{{Type: oid, Value: v}})
	}

	add("subject.C", oidCountry, spec.C)
	add("subject.ST", oidStateOrProvince, spec.ST)
	add("subject.L", oidLocality, spec.L)
	add("subject.O", oidOrganization, spec.O)
	add("subject.OU", oidOrganizationalUnit, spec.OU)
	add("subject.CN", oidCommonName, spec.CN)
	add("subject.emailAddress", oidEmailAddress, spec.EmailAddress)

	for i, rdn := range spec.ExtraRDNs {
		field := fmt.Sprintf("subject.extra_rdns[%d]", i)
		oid, err := ResolveAttributeType(rdn.Type)
		if err != nil {
			return nil, fieldErr(field, err)
		}
		add(field, oid, rdn.Value)
	}
	if bad != nil {
		return nil, bad
	}

	if len(rdns) == 0 {
		return nil, fieldErr("subject", ErrEmptySubject)
	}
	return rdns, nil
}

// MarshalName builds the DER encoding of a SubjectSpec.
func MarshalName(spec SubjectSpec) ([]byte, error) {
	rdns, err := BuildName(spec)
	if err != nil {
		return nil, err
	}
	der, err := asn1.Marshal(rdns)
	if err != nil {
		return nil, fmt.Errorf("marshal name: %w", err)
	}
	return der, nil
}

// attributeValue picks the string type RFC 5280 expects for an attribute.
// IA5String values must be ASCII and every value must be valid UTF-8.
func attributeValue(oid asn1.ObjectIdentifier, value string) (asn1.RawValue, error) {
	if !utf8.ValidString(value) {
		return asn1.RawValue{}, fmt.Errorf("%w: not valid UTF-8", ErrInvalidAttributeValue)
	}
	tag := asn1.TagUTF8String
	switch {
	case oid.Equal(oidEmailAddress), oid.Equal(oidDomainComponent):
		if !isASCII(value) {
			return asn1.RawValue{}, fmt.Errorf("%w: IA5String must be ASCII", ErrInvalidAttributeValue)
		}
		tag = asn1.TagIA5String
	case oid.Equal(oidCountry), oid.Equal(oidSerialNumber), oid.Equal(oidDNQualifier),
		oid.Equal(oidJurisdictionC):
		if isPrintable(value) {
			tag = asn1.TagPrintableString
		}
	}
	return asn1.RawValue{Class: asn1.ClassUniversal, Tag: tag, Bytes: []byte(value)}, nil
}

func isPrintable(s string) bool {
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII:
			return false
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		case r == ' ', r == '\'', r == '(', r == ')', r == '+', r == ',', r == '-',
			r == '.', r == '/', r == ':', r == '=', r == '?':
		default:
			return false
		}
	}
	return true
}

// NameAttribute is one decoded attribute of a distinguished name.
type NameAttribute struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DecodeName decodes a DER distinguished name into ordered attributes.
func DecodeName(der []byte) ([]NameAttribute, error) {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdns)
	if err != nil {
		return nil, fmt.Errorf("decode name: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("decode name: trailing data")
	}
	var out []NameAttribute
	for _, rdn := range rdns {
		for _, atv := range rdn {
			out = append(out, NameAttribute{
				Type:  ShortAttributeName(atv.Type),
				Value: fmt.Sprint(atv.Value),
			})
		}
	}
	return out, nil
}

// NameString renders a DER distinguished name the way crypto/x509 does.
func NameString(der []byte) string {
	var rdns pkix.RDNSequence
	if _, err := asn1.Unmarshal(der, &rdns); err != nil {
		return ""
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdns)
	return name.String()
}
