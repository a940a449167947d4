package ca

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
	"github.com/remiblancher/certengine/pkg/custody"
)

// =============================================================================
// [Unit] Error classification
// =============================================================================

func TestU_Classify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"field error", &x509util.FieldError{Field: "san.ip[0]", Err: x509util.ErrMalformedIP}, "validation"},
		{"invalid csr", fmt.Errorf("wrap: %w", ErrInvalidCSR), "validation"},
		{"key mismatch", pkicrypto.ErrKeyMismatch, "validation"},
		{"unknown profile", x509util.ErrUnknownProfile, "validation"},
		{"unsupported signature algorithm", pkicrypto.ErrUnsupportedSignatureAlgorithm, "validation"},
		{"missing material", ErrMissingKeyMaterial, "configuration"},
		{"key not found", fmt.Errorf("kid x: %w", pkicrypto.ErrKeyNotFound), "configuration"},
		{"missing handle", ErrMissingKeyHandle, "configuration"},
		{"no default key", ErrNoDefaultKey, "configuration"},
		{"unsupported operation", ErrUnsupportedOperation, "configuration"},
		{"unknown custody key", custody.ErrUnknownKey, "issuance"},
		{"signature check", pkicrypto.ErrSignatureInvalid, "issuance"},
		{"anything else", errors.New("connection reset"), "issuance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(opSignCert, VariantKMS, tt.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err, "the cause stays in the chain")

			var (
				ve *ValidationError
				ce *ConfigurationError
				ie *IssuanceError
			)
			switch tt.want {
			case "validation":
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, opSignCert, ve.Op)
			case "configuration":
				require.ErrorAs(t, err, &ce)
			case "issuance":
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, VariantKMS, ie.Variant)
			}
		})
	}
}

func TestU_Classify_FieldName(t *testing.T) {
	err := classify(opCreateCSR, VariantLocal, &x509util.FieldError{Field: "subject", Err: x509util.ErrEmptySubject})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "subject", ve.Field)
	assert.Contains(t, ve.Error(), "invalid subject")
}

func TestU_Classify_TypedPassThrough(t *testing.T) {
	typed := &ConfigurationError{Op: "x", Err: errors.New("y")}
	assert.Same(t, typed, classify(opSignCert, VariantLocal, typed))
	assert.NoError(t, classify(opSignCert, VariantLocal, nil))
}

func TestU_ErrorMessages(t *testing.T) {
	assert.Equal(t, "ca sign_cert [acme]: boom", (&IssuanceError{Op: "sign_cert", Variant: VariantACME, Err: errors.New("boom")}).Error())
	assert.Equal(t, "ca self_signed: configuration: boom", (&ConfigurationError{Op: "self_signed", Err: errors.New("boom")}).Error())
	assert.Equal(t, "ca parse: boom", (&ValidationError{Op: "parse", Err: errors.New("boom")}).Error())
}
