// Package dto holds the JSON bodies of the certificate API.
package dto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Encodings accepted in BinaryData.Encoding.
const (
	EncodingPEM    = "pem"
	EncodingBase64 = "base64"
)

// ErrUnsupportedEncoding is returned for an Encoding other than pem or base64.
var ErrUnsupportedEncoding = errors.New("unsupported encoding")

// BinaryData carries a certificate in a JSON string. With the pem encoding
// (the default) Data is handed over unchanged, so PEM text and bundles work
// as is; base64 carries raw DER and may be wrapped or unpadded.
type BinaryData struct {
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
}

// PEM wraps PEM text.
func PEM(text []byte) BinaryData {
	return BinaryData{Data: string(text)}
}

// Base64 wraps DER bytes.
func Base64(der []byte) BinaryData {
	return BinaryData{Data: base64.StdEncoding.EncodeToString(der), Encoding: EncodingBase64}
}

// Decode returns the bytes to hand to the certificate decoder.
func (b *BinaryData) Decode() ([]byte, error) {
	if b == nil {
		return nil, errors.New("missing data")
	}
	switch b.Encoding {
	case "", EncodingPEM:
		return []byte(b.Data), nil
	case EncodingBase64:
		s := strings.Join(strings.Fields(b.Data), "")
		if data, err := base64.StdEncoding.DecodeString(s); err == nil {
			return data, nil
		}
		data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, b.Encoding)
	}
}

// DecodeAll decodes a list, naming the failing entry as field[i].
func DecodeAll(field string, items []BinaryData) ([][]byte, error) {
	out := make([][]byte, 0, len(items))
	for i := range items {
		data, err := items[i].Decode()
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// APIError is the body of every non-2xx JSON response. Details carries the
// failing operation and, for validation errors, the field.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health. Services names the enabled
// route groups: api, custody and metrics.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services,omitempty"`
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks,omitempty"`
}
