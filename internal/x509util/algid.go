package x509util

import (
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// pssParameters is RSASSA-PSS-params from RFC 4055.
type pssParameters struct {
	Hash         pkix.AlgorithmIdentifier `asn1:"explicit,tag:0"`
	MGF          pkix.AlgorithmIdentifier `asn1:"explicit,tag:1"`
	SaltLength   int                      `asn1:"explicit,tag:2"`
	TrailerField int                      `asn1:"optional,explicit,tag:3,default:1"`
}

type sigAlgInfo struct {
	oid     asn1.ObjectIdentifier
	hash    crypto.Hash
	scheme  pkicrypto.SignatureScheme
	display string
}

var sigAlgs = []sigAlgInfo{
	{OIDSignatureRSAWithSHA1, crypto.SHA1, pkicrypto.SchemePKCS1v15, "SHA1-RSA"},
	{OIDSignatureRSAWithSHA256, crypto.SHA256, pkicrypto.SchemePKCS1v15, "SHA256-RSA"},
	{OIDSignatureRSAWithSHA384, crypto.SHA384, pkicrypto.SchemePKCS1v15, "SHA384-RSA"},
	{OIDSignatureRSAWithSHA512, crypto.SHA512, pkicrypto.SchemePKCS1v15, "SHA512-RSA"},
	{OIDSignatureECDSAWithSHA1, crypto.SHA1, pkicrypto.SchemeECDSA, "ECDSA-SHA1"},
	{OIDSignatureECDSAWithSHA256, crypto.SHA256, pkicrypto.SchemeECDSA, "ECDSA-SHA256"},
	{OIDSignatureECDSAWithSHA384, crypto.SHA384, pkicrypto.SchemeECDSA, "ECDSA-SHA384"},
	{OIDSignatureECDSAWithSHA512, crypto.SHA512, pkicrypto.SchemeECDSA, "ECDSA-SHA512"},
	{OIDSignatureEd25519, 0, pkicrypto.SchemeEdDSA, "Ed25519"},
	{OIDSignatureEd448, 0, pkicrypto.SchemeEdDSA, "Ed448"},
}

func hashOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA256:
		return OIDSHA256, nil
	case crypto.SHA384:
		return OIDSHA384, nil
	case crypto.SHA512:
		return OIDSHA512, nil
	}
	return nil, fmt.Errorf("%w: no PSS hash for %v", pkicrypto.ErrUnsupportedSignatureAlgorithm, h)
}

func hashFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(OIDSHA256):
		return crypto.SHA256
	case oid.Equal(OIDSHA384):
		return crypto.SHA384
	case oid.Equal(OIDSHA512):
		return crypto.SHA512
	}
	return 0
}

// AlgorithmIdentifier returns the signatureAlgorithm for plan. RSA PKCS#1
// carries NULL parameters, RSA-PSS carries explicit RFC 4055 parameters with
// MGF1 over the same hash and a salt as long as the digest, ECDSA and EdDSA
// carry none.
func AlgorithmIdentifier(plan pkicrypto.SignaturePlan) (pkix.AlgorithmIdentifier, error) {
	switch plan.Scheme {
	case pkicrypto.SchemePSS:
		params, err := marshalPSSParameters(plan.Hash)
		if err != nil {
			return pkix.AlgorithmIdentifier{}, err
		}
		return pkix.AlgorithmIdentifier{
			Algorithm:  OIDSignatureRSAPSS,
			Parameters: asn1.RawValue{FullBytes: params},
		}, nil
	case pkicrypto.SchemeEdDSA:
		if plan.EdDSA == pkicrypto.Ed448 {
			return pkix.AlgorithmIdentifier{Algorithm: OIDSignatureEd448}, nil
		}
		return pkix.AlgorithmIdentifier{Algorithm: OIDSignatureEd25519}, nil
	}

	for _, a := range sigAlgs {
		if a.scheme == plan.Scheme && a.hash == plan.Hash {
			ai := pkix.AlgorithmIdentifier{Algorithm: a.oid}
			if a.scheme == pkicrypto.SchemePKCS1v15 {
				ai.Parameters = asn1.NullRawValue
			}
			return ai, nil
		}
	}
	return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: %s", pkicrypto.ErrUnsupportedSignatureAlgorithm, plan.Token)
}

func marshalPSSParameters(h crypto.Hash) ([]byte, error) {
	oid, err := hashOID(h)
	if err != nil {
		return nil, err
	}
	hashAlg := pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue}
	mgfParams, err := asn1.Marshal(hashAlg)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(pssParameters{
		Hash:         hashAlg,
		MGF:          pkix.AlgorithmIdentifier{Algorithm: OIDMGF1, Parameters: asn1.RawValue{FullBytes: mgfParams}},
		SaltLength:   h.Size(),
		TrailerField: 1,
	})
}

// PlanFromAlgorithm maps a signatureAlgorithm back to a plan usable with
// crypto.Verify. ECDSA plans carry no curve; SHA-1 plans are returned for
// verification of legacy material only.
func PlanFromAlgorithm(ai pkix.AlgorithmIdentifier) (pkicrypto.SignaturePlan, error) {
	if ai.Algorithm.Equal(OIDSignatureRSAPSS) {
		h, err := parsePSSParameters(ai.Parameters.FullBytes)
		if err != nil {
			return pkicrypto.SignaturePlan{}, err
		}
		return pkicrypto.SignaturePlan{
			Token:  "RSA-PSS-" + hashToken(h),
			Hash:   h,
			Scheme: pkicrypto.SchemePSS,
		}, nil
	}

	for _, a := range sigAlgs {
		if !a.oid.Equal(ai.Algorithm) {
			continue
		}
		switch a.scheme {
		case pkicrypto.SchemeEdDSA:
			if a.oid.Equal(OIDSignatureEd448) {
				return pkicrypto.LookupToken("Ed448")
			}
			return pkicrypto.LookupToken("Ed25519")
		case pkicrypto.SchemeECDSA:
			return pkicrypto.SignaturePlan{Token: "ECDSA-" + hashToken(a.hash), Hash: a.hash, Scheme: a.scheme}, nil
		default:
			return pkicrypto.SignaturePlan{Token: "RSA-" + hashToken(a.hash), Hash: a.hash, Scheme: a.scheme}, nil
		}
	}
	return pkicrypto.SignaturePlan{}, fmt.Errorf("%w: %s", pkicrypto.ErrUnsupportedSignatureAlgorithm, ai.Algorithm)
}

func parsePSSParameters(der []byte) (crypto.Hash, error) {
	var params pssParameters
	if rest, err := asn1.Unmarshal(der, &params); err != nil || len(rest) != 0 {
		return 0, fmt.Errorf("%w: malformed RSASSA-PSS parameters", pkicrypto.ErrUnsupportedSignatureAlgorithm)
	}

	var mgfHash pkix.AlgorithmIdentifier
	if _, err := asn1.Unmarshal(params.MGF.Parameters.FullBytes, &mgfHash); err != nil {
		return 0, fmt.Errorf("%w: malformed MGF1 parameters", pkicrypto.ErrUnsupportedSignatureAlgorithm)
	}

	h := hashFromOID(params.Hash.Algorithm)
	switch {
	case h == 0:
		return 0, fmt.Errorf("%w: PSS hash %s", pkicrypto.ErrUnsupportedSignatureAlgorithm, params.Hash.Algorithm)
	case !params.MGF.Algorithm.Equal(OIDMGF1) || !mgfHash.Algorithm.Equal(params.Hash.Algorithm):
		return 0, fmt.Errorf("%w: PSS mask generation must be MGF1 over %s", pkicrypto.ErrUnsupportedSignatureAlgorithm, params.Hash.Algorithm)
	case params.SaltLength != h.Size():
		return 0, fmt.Errorf("%w: PSS salt length %d", pkicrypto.ErrUnsupportedSignatureAlgorithm, params.SaltLength)
	case params.TrailerField != 1:
		return 0, fmt.Errorf("%w: PSS trailer field %d", pkicrypto.ErrUnsupportedSignatureAlgorithm, params.TrailerField)
	}
	return h, nil
}

func hashToken(h crypto.Hash) string {
	switch h {
	case crypto.SHA1:
		return "SHA1"
	case crypto.SHA256:
		return "SHA256"
	case crypto.SHA384:
		return "SHA384"
	case crypto.SHA512:
		return "SHA512"
	}
	return h.String()
}

// SignatureHashName returns the short name used in parse results: the hash
// name ("sha256"...), "ed25519", "ed448", or the dotted OID when unknown.
func SignatureHashName(ai pkix.AlgorithmIdentifier) string {
	plan, err := PlanFromAlgorithm(ai)
	if err != nil {
		return ai.Algorithm.String()
	}
	switch plan.EdDSA {
	case pkicrypto.Ed25519:
		return "ed25519"
	case pkicrypto.Ed448:
		return "ed448"
	}
	return plan.HashName()
}

// SignatureAlgorithmName returns a display name such as "SHA256-RSAPSS" or
// "ECDSA-SHA384", or the dotted OID when unknown.
func SignatureAlgorithmName(ai pkix.AlgorithmIdentifier) string {
	if ai.Algorithm.Equal(OIDSignatureRSAPSS) {
		h, err := parsePSSParameters(ai.Parameters.FullBytes)
		if err != nil {
			return "RSASSA-PSS"
		}
		return hashToken(h) + "-RSAPSS"
	}
	for _, a := range sigAlgs {
		if a.oid.Equal(ai.Algorithm) {
			return a.display
		}
	}
	return ai.Algorithm.String()
}
