package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/remiblancher/certengine/pkg/ca"
)

func TestU_MapError(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		details map[string]string
	}{
		{"nil", nil, http.StatusOK, "", nil},
		{
			"validation", &ca.ValidationError{Op: "verify", Field: "cert", Err: boom},
			http.StatusBadRequest, CodeValidation, map[string]string{"operation": "verify", "field": "cert"},
		},
		{
			"validation without field", &ca.ValidationError{Op: "parse", Err: boom},
			http.StatusBadRequest, CodeValidation, map[string]string{"operation": "parse"},
		},
		{
			"configuration", &ca.ConfigurationError{Op: "sign_cert", Err: boom},
			http.StatusPreconditionFailed, CodeConfiguration, map[string]string{"operation": "sign_cert"},
		},
		{
			"issuance", fmt.Errorf("wrapped: %w", &ca.IssuanceError{Op: "sign_cert", Variant: ca.VariantACME, Err: boom}),
			http.StatusBadGateway, CodeIssuance, map[string]string{"operation": "sign_cert", "variant": "acme"},
		},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout, nil},
		{"other", boom, http.StatusInternalServerError, CodeInternal, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, apiErr := MapError(tt.err)
			assert.Equal(t, tt.status, status)
			if tt.err == nil {
				assert.Nil(t, apiErr)
				return
			}
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.details, apiErr.Details)
		})
	}
}

func TestU_MapError_InternalMessageHidden(t *testing.T) {
	_, apiErr := MapError(errors.New("secret path /etc/keys"))
	assert.NotContains(t, apiErr.Message, "/etc/keys")
}
