// Package ca issues certificates from CSRs, verifies certificate chains and
// extracts certificate metadata.
package ca

import (
	"errors"
	"fmt"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
)

// ValidationError reports caller input that cannot be encoded or does not
// fit the key. Field names the offending input, e.g. "san.ip[1]".
type ValidationError struct {
	Op    string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("ca %s: invalid %s: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("ca %s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing key, handle or unsupported operation
// for the issuer variant.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ca %s: configuration: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IssuanceError reports a failure of the signing backend. The upstream error
// is kept unmodified in the chain.
type IssuanceError struct {
	Op      string
	Variant Variant
	Err     error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("ca %s [%s]: %v", e.Op, e.Variant, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// Sentinel errors. Use errors.Is() through the typed errors above.
var (
	ErrEmptySubject       = x509util.ErrEmptySubject
	ErrUnknownOID         = x509util.ErrUnknownOID
	ErrMalformedIP        = x509util.ErrMalformedIP
	ErrInvalidCSR         = x509util.ErrInvalidCSR
	ErrInvalidCertificate = x509util.ErrInvalidCertificate
	ErrUnsupportedKey     = pkicrypto.ErrUnsupportedKey
	ErrMissingKeyMaterial = pkicrypto.ErrMissingKeyMaterial

	// ErrMissingKeyHandle indicates no custody key handle could be resolved.
	ErrMissingKeyHandle = errors.New("no key handle")

	// ErrNoDefaultKey indicates an empty KeyRef with no configured default key.
	ErrNoDefaultKey = errors.New("no key given and no default key configured")

	// ErrFinalizeDeadline indicates ACME order polling ran past its deadline.
	ErrFinalizeDeadline = errors.New("order not finalized before deadline")

	// ErrUnsupportedOperation indicates the issuer variant cannot perform the
	// operation.
	ErrUnsupportedOperation = errors.New("operation not supported by issuer")
)

// classify wraps err in the typed error matching its cause. Errors that are
// already typed pass through.
func classify(op string, variant Variant, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		ce *ConfigurationError
		ie *IssuanceError
	)
	if errors.As(err, &ve) || errors.As(err, &ce) || errors.As(err, &ie) {
		return err
	}

	var fe *x509util.FieldError
	switch {
	case errors.As(err, &fe):
		return &ValidationError{Op: op, Field: fe.Field, Err: err}
	case errors.Is(err, pkicrypto.ErrMissingKeyMaterial),
		errors.Is(err, pkicrypto.ErrKeyNotFound),
		errors.Is(err, ErrMissingKeyHandle),
		errors.Is(err, ErrNoDefaultKey),
		errors.Is(err, ErrUnsupportedOperation):
		return &ConfigurationError{Op: op, Err: err}
	case errors.Is(err, x509util.ErrInvalidCSR),
		errors.Is(err, x509util.ErrInvalidCertificate),
		errors.Is(err, x509util.ErrEmptySubject),
		errors.Is(err, x509util.ErrUnknownOID),
		errors.Is(err, x509util.ErrMalformedIP),
		errors.Is(err, x509util.ErrInvalidName),
		errors.Is(err, x509util.ErrInvalidExtension),
		errors.Is(err, x509util.ErrUnknownProfile),
		errors.Is(err, pkicrypto.ErrUnsupportedKey),
		errors.Is(err, pkicrypto.ErrUnsupportedSignatureAlgorithm),
		errors.Is(err, pkicrypto.ErrKeyMismatch),
		errors.Is(err, pkicrypto.ErrInvalidKey):
		return &ValidationError{Op: op, Err: err}
	}
	return &IssuanceError{Op: op, Variant: variant, Err: err}
}
