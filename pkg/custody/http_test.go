package custody

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// fakeService answers the custody wire protocol from a Local backend.
func fakeService(t *testing.T, local *Local, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing token"))
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/keys/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		handle, op := parts[0], parts[1]

		writeErr := func(err error) {
			status, code := StatusFor(err)
			body, _ := Marshal(ErrorResponse{Code: code, Message: err.Error()})
			w.Header().Set("Content-Type", ContentType)
			w.WriteHeader(status)
			_, _ = w.Write(body)
		}

		var out any
		switch op {
		case "public-key":
			pub, err := local.PublicKey(r.Context(), handle)
			if err != nil {
				writeErr(err)
				return
			}
			spki, err := pkicrypto.MarshalPKIXPublicKey(pub)
			require.NoError(t, err)
			out = PublicKeyResponse{SPKI: spki}
		case "sign":
			assert.Equal(t, ContentType, r.Header.Get("Content-Type"))
			data, _ := io.ReadAll(r.Body)
			var req SignRequest
			require.NoError(t, Unmarshal(data, &req))
			sig, err := local.Sign(r.Context(), handle, req.Scheme, req.Message)
			if err != nil {
				writeErr(err)
				return
			}
			out = SignResponse{Signature: sig}
		}
		body, err := Marshal(out)
		require.NoError(t, err)
		w.Header().Set("Content-Type", ContentType)
		_, _ = w.Write(body)
	}))
}

// =============================================================================
// [Unit] HTTP client
// =============================================================================

func TestU_HTTPClient_SignRoundTrip(t *testing.T) {
	local := NewLocal(nil)
	local.Add("rsa-1", mustKey(t, pkicrypto.AlgRSA2048))
	srv := fakeService(t, local, "s3cret")
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/", Token: "s3cret"})
	require.NoError(t, err)

	s, err := NewSigner(context.Background(), c, "rsa-1")
	require.NoError(t, err)

	plan, err := pkicrypto.LookupToken("RSA-PSS-SHA256")
	require.NoError(t, err)
	msg := []byte("tbsCertificate")
	sig, err := s.SignMessage(context.Background(), plan, msg)
	require.NoError(t, err)
	assert.NoError(t, pkicrypto.Verify(s.Public(), plan, msg, sig))
}

func TestU_HTTPClient_UnknownKey(t *testing.T) {
	srv := fakeService(t, NewLocal(nil), "")
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.PublicKey(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownKey)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Equal(t, CodeUnknownKey, re.Code)
}

func TestU_HTTPClient_UnsupportedScheme(t *testing.T) {
	local := NewLocal(nil)
	local.Add("ed", mustKey(t, pkicrypto.AlgEd25519))
	srv := fakeService(t, local, "")
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Sign(context.Background(), "ed", SchemeECDSASHA256, []byte("m"))
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestU_HTTPClient_PlainTextError(t *testing.T) {
	srv := fakeService(t, NewLocal(nil), "expected")
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.PublicKey(context.Background(), "k")
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Status)
	assert.Equal(t, "missing token", re.Message)
}

func TestU_HTTPClient_EmptySignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body, _ := Marshal(SignResponse{})
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Sign(context.Background(), "k", SchemeEd25519, []byte("m"))
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "empty signature", re.Message)
}

func TestU_HTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.PublicKey(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestU_NewHTTPClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "custody.local", "://bad"} {
		_, err := NewHTTPClient(HTTPConfig{BaseURL: u})
		assert.Error(t, err, u)
	}
}

// =============================================================================
// [Unit] Wire codec
// =============================================================================

func TestU_Wire_Deterministic(t *testing.T) {
	a, err := Marshal(SignRequest{Scheme: SchemeEd25519, Message: []byte{1, 2}})
	require.NoError(t, err)
	// {1: "ED25519_SHA_512", 2: h'0102'}
	assert.Equal(t, byte(0xa2), a[0])
	assert.Equal(t, byte(0x01), a[1])

	var req SignRequest
	require.NoError(t, Unmarshal(a, &req))
	assert.Equal(t, SchemeEd25519, req.Scheme)
	assert.Equal(t, []byte{1, 2}, req.Message)
}

func TestU_Wire_DuplicateKeyRejected(t *testing.T) {
	// {1: "A", 1: "B"}
	data := []byte{0xa2, 0x01, 0x61, 'A', 0x01, 0x61, 'B'}
	var req SignRequest
	assert.Error(t, Unmarshal(data, &req))
}

func TestU_StatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ErrUnknownKey, http.StatusNotFound, CodeUnknownKey},
		{ErrUnsupportedScheme, http.StatusUnprocessableEntity, CodeUnsupportedScheme},
		{pkicrypto.ErrUnsupportedKey, http.StatusUnprocessableEntity, CodeUnsupportedScheme},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeUpstream},
		{io.ErrUnexpectedEOF, http.StatusBadGateway, CodeUpstream},
	}
	for _, tt := range tests {
		status, code := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
