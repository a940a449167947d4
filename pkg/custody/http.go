package custody

import (
	"bytes"
	"context"
	"crypto"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// maxResponseBytes bounds custody response bodies.
const maxResponseBytes = 1 << 20

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL of the custody service, e.g. "https://custody.internal:8443".
	BaseURL   string
	TLSConfig *tls.Config
	// Timeout per request (default: 30s).
	Timeout time.Duration
	// Token, when set, is sent as a bearer token.
	Token string
}

// HTTPClient talks to a custody service over HTTP with CBOR bodies.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ Custody = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid custody URL %q", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: cfg.TLSConfig},
			Timeout:   cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}, nil
}

// WithHTTPClient replaces the underlying http.Client.
func (c *HTTPClient) WithHTTPClient(hc *http.Client) *HTTPClient {
	c.httpClient = hc
	return c
}

// PublicKey fetches GET /v1/keys/{handle}/public-key.
func (c *HTTPClient) PublicKey(ctx context.Context, handle string) (crypto.PublicKey, error) {
	var resp PublicKeyResponse
	if err := c.do(ctx, http.MethodGet, c.keyURL(handle, "public-key"), nil, &resp); err != nil {
		return nil, err
	}
	pub, err := pkicrypto.ParsePKIXPublicKey(resp.SPKI)
	if err != nil {
		return nil, fmt.Errorf("custody public key for %s: %w", handle, err)
	}
	return pub, nil
}

// Sign posts the message to /v1/keys/{handle}/sign.
func (c *HTTPClient) Sign(ctx context.Context, handle string, scheme Scheme, message []byte) ([]byte, error) {
	var resp SignResponse
	req := SignRequest{Scheme: scheme, Message: message}
	if err := c.do(ctx, http.MethodPost, c.keyURL(handle, "sign"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Signature) == 0 {
		return nil, &RemoteError{Status: http.StatusOK, Message: "empty signature"}
	}
	return resp.Signature, nil
}

func (c *HTTPClient) keyURL(handle, op string) string {
	return c.baseURL + "/v1/keys/" + url.PathEscape(handle) + "/" + op
}

func (c *HTTPClient) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", ContentType)
	if in != nil {
		req.Header.Set("Content-Type", ContentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if Unmarshal(data, &e) != nil || e.Message == "" {
			e.Message = strings.TrimSpace(string(data))
			if e.Message == "" {
				e.Message = http.StatusText(resp.StatusCode)
			}
		}
		return errorFor(resp.StatusCode, e)
	}
	if err := Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
