package crypto

import "errors"

var (
	// ErrUnsupportedKey is returned for key types the engine cannot sign with.
	ErrUnsupportedKey = errors.New("unsupported key type for signing")

	// ErrUnsupportedSignatureAlgorithm is returned for unknown signature tokens.
	ErrUnsupportedSignatureAlgorithm = errors.New("unsupported signature algorithm")

	// ErrKeyMismatch is returned when a signature token does not fit the key.
	ErrKeyMismatch = errors.New("signature algorithm does not match key")

	// ErrMissingKeyMaterial is returned when a KeyRef carries no usable key.
	ErrMissingKeyMaterial = errors.New("missing key material")

	// ErrInvalidKey is returned for key bytes that cannot be parsed.
	ErrInvalidKey = errors.New("invalid key encoding")

	// ErrKeyNotFound is returned by key providers for unknown key ids.
	ErrKeyNotFound = errors.New("key not found")

	// ErrSignatureInvalid is returned when a signature does not verify.
	ErrSignatureInvalid = errors.New("signature verification failed")
)
