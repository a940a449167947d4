// Package custody signs with keys held outside the calling process.
//
// A Custody backend exposes two operations: fetch the public key of a handle
// and sign a message under a named scheme. Scheme names follow the AWS KMS
// SigningAlgorithmSpec vocabulary so that every backend speaks the same
// language as the most common remote service.
package custody

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"strings"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// Scheme names a signature scheme.
type Scheme string

// Supported schemes. Ed448 has no AWS counterpart and is only served by the
// local and HTTP backends.
const (
	SchemeRSAPSSSHA256   Scheme = "RSASSA_PSS_SHA_256"
	SchemeRSAPSSSHA384   Scheme = "RSASSA_PSS_SHA_384"
	SchemeRSAPSSSHA512   Scheme = "RSASSA_PSS_SHA_512"
	SchemeRSAPKCS1SHA256 Scheme = "RSASSA_PKCS1_V1_5_SHA_256"
	SchemeRSAPKCS1SHA384 Scheme = "RSASSA_PKCS1_V1_5_SHA_384"
	SchemeRSAPKCS1SHA512 Scheme = "RSASSA_PKCS1_V1_5_SHA_512"
	SchemeECDSASHA256    Scheme = "ECDSA_SHA_256"
	SchemeECDSASHA384    Scheme = "ECDSA_SHA_384"
	SchemeECDSASHA512    Scheme = "ECDSA_SHA_512"
	SchemeEd25519        Scheme = "ED25519_SHA_512"
	SchemeEd448          Scheme = "ED448"
)

var (
	// ErrUnknownKey is returned for a handle the backend does not hold.
	ErrUnknownKey = errors.New("custody: unknown key handle")

	// ErrUnsupportedScheme is returned for a scheme the backend or key
	// cannot sign with.
	ErrUnsupportedScheme = errors.New("custody: unsupported signing scheme")
)

// Custody is a remote key holder.
type Custody interface {
	// PublicKey returns the public key behind handle.
	PublicKey(ctx context.Context, handle string) (crypto.PublicKey, error)
	// Sign signs the complete message. Backends hash it when the scheme
	// needs a digest.
	Sign(ctx context.Context, handle string, scheme Scheme, message []byte) ([]byte, error)
}

// RemoteError carries a rejection reported by the custody service. The
// message is kept verbatim.
type RemoteError struct {
	Status  int
	Code    string
	Message string

	err error
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("custody: %s: %s", e.Code, e.Message)
	}
	return "custody: " + e.Message
}

// Unwrap returns the sentinel matching Code, if any.
func (e *RemoteError) Unwrap() error { return e.err }

type schemeInfo struct {
	scheme Scheme
	plan   pkicrypto.SignaturePlan
}

var schemes = []schemeInfo{
	{SchemeRSAPSSSHA256, pkicrypto.SignaturePlan{Token: "RSA-PSS-SHA256", Hash: crypto.SHA256, Scheme: pkicrypto.SchemePSS}},
	{SchemeRSAPSSSHA384, pkicrypto.SignaturePlan{Token: "RSA-PSS-SHA384", Hash: crypto.SHA384, Scheme: pkicrypto.SchemePSS}},
	{SchemeRSAPSSSHA512, pkicrypto.SignaturePlan{Token: "RSA-PSS-SHA512", Hash: crypto.SHA512, Scheme: pkicrypto.SchemePSS}},
	{SchemeRSAPKCS1SHA256, pkicrypto.SignaturePlan{Token: "RSA-SHA256", Hash: crypto.SHA256, Scheme: pkicrypto.SchemePKCS1v15}},
	{SchemeRSAPKCS1SHA384, pkicrypto.SignaturePlan{Token: "RSA-SHA384", Hash: crypto.SHA384, Scheme: pkicrypto.SchemePKCS1v15}},
	{SchemeRSAPKCS1SHA512, pkicrypto.SignaturePlan{Token: "RSA-SHA512", Hash: crypto.SHA512, Scheme: pkicrypto.SchemePKCS1v15}},
	{SchemeECDSASHA256, pkicrypto.SignaturePlan{Token: "ECDSA-SHA256", Hash: crypto.SHA256, Scheme: pkicrypto.SchemeECDSA}},
	{SchemeECDSASHA384, pkicrypto.SignaturePlan{Token: "ECDSA-SHA384", Hash: crypto.SHA384, Scheme: pkicrypto.SchemeECDSA}},
	{SchemeECDSASHA512, pkicrypto.SignaturePlan{Token: "ECDSA-SHA512", Hash: crypto.SHA512, Scheme: pkicrypto.SchemeECDSA}},
	{SchemeEd25519, pkicrypto.SignaturePlan{Token: "Ed25519", Scheme: pkicrypto.SchemeEdDSA, EdDSA: pkicrypto.Ed25519}},
	{SchemeEd448, pkicrypto.SignaturePlan{Token: "Ed448", Scheme: pkicrypto.SchemeEdDSA, EdDSA: pkicrypto.Ed448}},
}

// SchemeForPlan maps a signature plan to its custody scheme.
func SchemeForPlan(plan pkicrypto.SignaturePlan) (Scheme, error) {
	for _, s := range schemes {
		if s.plan.Scheme == plan.Scheme && s.plan.Hash == plan.Hash && s.plan.EdDSA == plan.EdDSA {
			return s.scheme, nil
		}
	}
	return "", fmt.Errorf("%w: no scheme for %s", ErrUnsupportedScheme, plan.Token)
}

// PlanForScheme returns the signature plan of a scheme. ECDSA plans carry
// no curve and accept any curve the key has. Names are matched
// case-insensitively.
func PlanForScheme(scheme Scheme) (pkicrypto.SignaturePlan, error) {
	want := strings.ToUpper(strings.TrimSpace(string(scheme)))
	for _, s := range schemes {
		if string(s.scheme) == want {
			return s.plan, nil
		}
	}
	return pkicrypto.SignaturePlan{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
}

// Schemes lists every scheme name.
func Schemes() []Scheme {
	out := make([]Scheme, len(schemes))
	for i, s := range schemes {
		out[i] = s.scheme
	}
	return out
}
