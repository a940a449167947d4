package dto

import (
	"github.com/remiblancher/certengine/pkg/ca"
)

// VerifyRequest represents a chain verification request.
type VerifyRequest struct {
	// Cert is the leaf, optionally followed by its intermediates.
	Cert          BinaryData   `json:"cert"`
	TrustRoots    []BinaryData `json:"trust_roots,omitempty"`
	Intermediates []BinaryData `json:"intermediates,omitempty"`

	// CheckTime is a Unix timestamp (default: now).
	CheckTime                   *int64 `json:"check_time,omitempty"`
	CheckRevocation             bool   `json:"check_revocation,omitempty"`
	AllowSelfSignedWithoutRoots bool   `json:"allow_self_signed_without_roots,omitempty"`
	MaxDepth                    int    `json:"max_depth,omitempty"`
}

// VerifyResponse is the verification result.
type VerifyResponse = ca.VerificationResult

// ParseRequest represents a certificate parse request.
type ParseRequest struct {
	Cert              BinaryData `json:"cert"`
	IncludeExtensions bool       `json:"include_extensions,omitempty"`
}

// ParseResponse is the certificate metadata.
type ParseResponse = ca.CertInfo

// CapabilitiesResponse lists the capabilities of every configured issuer.
type CapabilitiesResponse struct {
	Issuers []ca.Capabilities `json:"issuers"`
}
