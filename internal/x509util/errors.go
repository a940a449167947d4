package x509util

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySubject is returned when no subject attribute carries a value.
	ErrEmptySubject = errors.New("x509util: empty subject")

	// ErrUnknownOID is returned for an alias or dotted string that is not an OID.
	ErrUnknownOID = errors.New("x509util: unresolvable OID")

	// ErrMalformedIP is returned for IP address or network literals that do not parse.
	ErrMalformedIP = errors.New("x509util: malformed IP literal")

	// ErrInvalidAttributeValue is returned for a name attribute value its
	// string type cannot carry.
	ErrInvalidAttributeValue = errors.New("x509util: invalid attribute value")

	// ErrInvalidName is returned for DNS, email or URI values that cannot be encoded.
	ErrInvalidName = errors.New("x509util: invalid general name")

	// ErrInvalidExtension is returned when an extension spec is inconsistent.
	ErrInvalidExtension = errors.New("x509util: invalid extension")

	// ErrInvalidCSR is returned when bytes are not a well-formed PKCS#10 request.
	ErrInvalidCSR = errors.New("x509util: invalid certificate request")

	// ErrInvalidCertificate is returned when bytes are not a well-formed certificate.
	ErrInvalidCertificate = errors.New("x509util: invalid certificate")
)

// FieldError names the input field an encoding error came from.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}
