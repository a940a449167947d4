package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/ed448"
)

// SignatureScheme identifies how signatures are computed.
type SignatureScheme string

const (
	SchemePKCS1v15 SignatureScheme = "pkcs1v15"
	SchemePSS      SignatureScheme = "pss"
	SchemeECDSA    SignatureScheme = "ecdsa"
	SchemeEdDSA    SignatureScheme = "eddsa"
)

// EdDSAVariant names the Edwards curve of an EdDSA plan.
type EdDSAVariant string

const (
	Ed25519 EdDSAVariant = "Ed25519"
	Ed448   EdDSAVariant = "Ed448"
)

// SignaturePlan is a resolved signature algorithm.
type SignaturePlan struct {
	// Token is the canonical algorithm name.
	Token string
	// Hash is 0 for EdDSA.
	Hash   crypto.Hash
	Scheme SignatureScheme
	// Curve is the NIST curve name, EC only.
	Curve string
	EdDSA EdDSAVariant
}

var (
	planRSASHA256    = SignaturePlan{Token: "RSA-SHA256", Hash: crypto.SHA256, Scheme: SchemePKCS1v15}
	planRSASHA384    = SignaturePlan{Token: "RSA-SHA384", Hash: crypto.SHA384, Scheme: SchemePKCS1v15}
	planRSASHA512    = SignaturePlan{Token: "RSA-SHA512", Hash: crypto.SHA512, Scheme: SchemePKCS1v15}
	planRSAPSSSHA256 = SignaturePlan{Token: "RSA-PSS-SHA256", Hash: crypto.SHA256, Scheme: SchemePSS}
	planRSAPSSSHA384 = SignaturePlan{Token: "RSA-PSS-SHA384", Hash: crypto.SHA384, Scheme: SchemePSS}
	planRSAPSSSHA512 = SignaturePlan{Token: "RSA-PSS-SHA512", Hash: crypto.SHA512, Scheme: SchemePSS}
	planECDSAP256    = SignaturePlan{Token: "ECDSA-P256-SHA256", Hash: crypto.SHA256, Scheme: SchemeECDSA, Curve: "P-256"}
	planECDSAP384    = SignaturePlan{Token: "ECDSA-P384-SHA384", Hash: crypto.SHA384, Scheme: SchemeECDSA, Curve: "P-384"}
	planECDSAP521    = SignaturePlan{Token: "ECDSA-P521-SHA512", Hash: crypto.SHA512, Scheme: SchemeECDSA, Curve: "P-521"}
	planEd25519      = SignaturePlan{Token: "Ed25519", Scheme: SchemeEdDSA, EdDSA: Ed25519}
	planEd448        = SignaturePlan{Token: "Ed448", Scheme: SchemeEdDSA, EdDSA: Ed448}
)

// tokens maps upper-cased algorithm names to plans.
var tokens = map[string]SignaturePlan{
	"RS256": planRSASHA256, "RSA": planRSASHA256, "RSA-SHA256": planRSASHA256,
	"RS384": planRSASHA384, "RSA-SHA384": planRSASHA384,
	"RS512": planRSASHA512, "RSA-SHA512": planRSASHA512,

	"PS256": planRSAPSSSHA256, "RSA-PSS": planRSAPSSSHA256, "RSA-PSS-SHA256": planRSAPSSSHA256,
	"RSASSA-PSS-SHA256": planRSAPSSSHA256, "RSAPSSSHA256": planRSAPSSSHA256,
	"PS384": planRSAPSSSHA384, "RSA-PSS-SHA384": planRSAPSSSHA384, "RSASSA-PSS-SHA384": planRSAPSSSHA384,
	"PS512": planRSAPSSSHA512, "RSA-PSS-SHA512": planRSAPSSSHA512, "RSASSA-PSS-SHA512": planRSAPSSSHA512,

	"ES256": planECDSAP256, "ECDSA": planECDSAP256, "ECDSA-P256": planECDSAP256,
	"ECDSA-P256-SHA256": planECDSAP256, "ECDSA-SHA256": planECDSAP256,
	"ES384": planECDSAP384, "ECDSA-P384": planECDSAP384, "ECDSA-P384-SHA384": planECDSAP384,
	"ES512": planECDSAP521, "ECDSA-P521": planECDSAP521, "ECDSA-P521-SHA512": planECDSAP521,

	"ED25519": planEd25519, "EDDSA": planEd25519,
	"ED448": planEd448,
}

// LookupToken resolves a signature token, case-insensitively. Underscores
// are treated as hyphens.
func LookupToken(token string) (SignaturePlan, error) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(token), "_", "-"))
	plan, ok := tokens[key]
	if !ok {
		return SignaturePlan{}, fmt.Errorf("%w: %s", ErrUnsupportedSignatureAlgorithm, token)
	}
	return plan, nil
}

// Tokens returns the canonical tokens of every supported plan.
func Tokens() []string {
	return []string{
		planRSASHA256.Token, planRSASHA384.Token, planRSASHA512.Token,
		planRSAPSSSHA256.Token, planRSAPSSSHA384.Token, planRSAPSSSHA512.Token,
		planECDSAP256.Token, planECDSAP384.Token, planECDSAP521.Token,
		planEd25519.Token, planEd448.Token,
	}
}

// Plan resolves the signature plan for a key. The explicit token wins, then
// the "sig_alg" and "alg" tags of ref, then inference from the key. When pub
// is nil the key is taken from ref if it carries one. A resolved token is
// checked against the key when a key is known.
func Plan(token string, ref KeyRef, pub crypto.PublicKey) (SignaturePlan, error) {
	tok := strings.TrimSpace(token)
	if tok == "" {
		tok = ref.Tag(TagSigAlg)
	}
	if tok == "" {
		tok = ref.Tag(TagAlg)
	}

	if pub == nil && (ref.HasMaterial() || len(ref.Public) > 0) {
		k, err := ref.PublicKey()
		if err != nil {
			return SignaturePlan{}, err
		}
		pub = k
	}

	if tok != "" {
		plan, err := LookupToken(tok)
		if err != nil {
			return SignaturePlan{}, err
		}
		// "EdDSA" names the family; follow the key's curve.
		if strings.EqualFold(tok, "EdDSA") && FamilyOf(pub) == FamilyEd448 {
			plan = planEd448
		}
		if pub != nil {
			if err := CheckPlanKey(plan, pub); err != nil {
				return SignaturePlan{}, err
			}
		}
		return plan, nil
	}

	if pub == nil {
		return SignaturePlan{}, fmt.Errorf("%w: no key to infer from", ErrUnsupportedKey)
	}
	return InferPlan(pub)
}

// InferPlan picks the default plan for a key: RSA-PSS with SHA-256 for RSA,
// the curve's matching hash for ECDSA, pure EdDSA for Edwards keys.
func InferPlan(pub crypto.PublicKey) (SignaturePlan, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return planRSAPSSSHA256, nil
	case *ecdsa.PublicKey:
		switch k.Curve.Params().Name {
		case "P-256":
			return planECDSAP256, nil
		case "P-384":
			return planECDSAP384, nil
		case "P-521":
			return planECDSAP521, nil
		}
		return SignaturePlan{}, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
	case ed25519.PublicKey:
		return planEd25519, nil
	case ed448.PublicKey:
		return planEd448, nil
	}
	return SignaturePlan{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}

// CheckPlanKey reports whether plan can be used with pub. An ECDSA plan with
// no curve, as decoded from an AlgorithmIdentifier, accepts any curve.
func CheckPlanKey(plan SignaturePlan, pub crypto.PublicKey) error {
	family := FamilyOf(pub)
	if family == FamilyUnknown {
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	if plan.Family() != family {
		return fmt.Errorf("%w: %s cannot sign with a %s key", ErrKeyMismatch, plan.Token, family)
	}
	if plan.Scheme == SchemeECDSA && plan.Curve != "" && CurveName(pub) != plan.Curve {
		return fmt.Errorf("%w: %s requires %s, key is %s", ErrKeyMismatch, plan.Token, plan.Curve, CurveName(pub))
	}
	return nil
}

// Family returns the key family the plan signs with.
func (p SignaturePlan) Family() KeyFamily {
	switch p.Scheme {
	case SchemePKCS1v15, SchemePSS:
		return FamilyRSA
	case SchemeECDSA:
		return FamilyEC
	case SchemeEdDSA:
		if p.EdDSA == Ed448 {
			return FamilyEd448
		}
		return FamilyEd25519
	}
	return FamilyUnknown
}

// Digest hashes message with the plan's hash; EdDSA plans return message.
func (p SignaturePlan) Digest(message []byte) []byte {
	if p.Hash == 0 {
		return message
	}
	h := p.Hash.New()
	h.Write(message)
	return h.Sum(nil)
}

// HashName returns "sha256", "sha384", "sha512" or "" for EdDSA.
func (p SignaturePlan) HashName() string {
	switch p.Hash {
	case crypto.SHA256:
		return "sha256"
	case crypto.SHA384:
		return "sha384"
	case crypto.SHA512:
		return "sha512"
	case crypto.SHA1:
		return "sha1"
	}
	return ""
}

func (p SignaturePlan) String() string {
	return p.Token
}
