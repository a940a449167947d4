package custody

import (
	"context"
	"errors"
	"net/http"

	"github.com/fxamacker/cbor/v2"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// ContentType is the media type of custody request and response bodies.
const ContentType = "application/cbor"

// Wire error codes.
const (
	CodeUnknownKey        = "UNKNOWN_KEY"
	CodeUnsupportedScheme = "UNSUPPORTED_SCHEME"
	CodeBadRequest        = "BAD_REQUEST"
	CodeUpstream          = "UPSTREAM_ERROR"
)

// SignRequest is the body of POST /v1/keys/{handle}/sign.
type SignRequest struct {
	Scheme  Scheme `cbor:"1,keyasint"`
	Message []byte `cbor:"2,keyasint"`
}

// SignResponse carries the signature.
type SignResponse struct {
	Signature []byte `cbor:"1,keyasint"`
}

// PublicKeyResponse is the body of GET /v1/keys/{handle}/public-key.
type PublicKeyResponse struct {
	// SPKI is a DER SubjectPublicKeyInfo.
	SPKI      []byte `cbor:"1,keyasint"`
	Algorithm string `cbor:"2,keyasint,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes a wire message in deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a wire message. Duplicate map keys are rejected.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// StatusFor maps a backend error to an HTTP status and wire code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return http.StatusNotFound, CodeUnknownKey
	case errors.Is(err, ErrUnsupportedScheme), errors.Is(err, pkicrypto.ErrUnsupportedKey):
		return http.StatusUnprocessableEntity, CodeUnsupportedScheme
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeUpstream
	}
	return http.StatusBadGateway, CodeUpstream
}

// errorFor rebuilds a typed error from a wire error response.
func errorFor(status int, resp ErrorResponse) error {
	e := &RemoteError{Status: status, Code: resp.Code, Message: resp.Message}
	switch resp.Code {
	case CodeUnknownKey:
		e.err = ErrUnknownKey
	case CodeUnsupportedScheme:
		e.err = ErrUnsupportedScheme
	}
	return e
}
