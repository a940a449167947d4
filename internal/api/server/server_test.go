package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// [Unit] Config
// =============================================================================

func TestU_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8443", cfg.Addr)
	assert.False(t, cfg.TLSEnabled())
	require.NoError(t, cfg.Validate())

	cfg.CertFile = "cert.pem"
	assert.False(t, cfg.TLSEnabled())
	cfg.KeyFile = "key.pem"
	assert.True(t, cfg.TLSEnabled())
}

func TestU_Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{"cert without key", func(c *Config) { c.CertFile = "c.pem" }, []string{"certificate and key"}},
		{"key without cert", func(c *Config) { c.KeyFile = "k.pem" }, []string{"certificate and key"}},
		{"client CA without TLS", func(c *Config) { c.ClientCAFile = "ca.pem" }, []string{"client_ca"}},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, []string{"read_timeout"}},
		{"empty addr", func(c *Config) { c.Addr = "" }, []string{"addr"}},
		{
			"several problems at once",
			func(c *Config) { c.Addr, c.KeyFile, c.IdleTimeout = "", "k.pem", -1 },
			[]string{"addr", "certificate and key", "idle_timeout"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestU_New_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientCAFile = "ca.pem"
	_, err := New(cfg, http.NotFoundHandler(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server config")
}

func TestU_New_MissingCertificate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	cfg.KeyFile = cfg.CertFile
	_, err := New(cfg, http.NotFoundHandler(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load server certificate")
}

// =============================================================================
// [Unit] Server
// =============================================================================

func pong(w http.ResponseWriter, r *http.Request) {
	if len(r.TLS.PeerCertificates) > 0 {
		_, _ = io.WriteString(w, r.TLS.PeerCertificates[0].Subject.CommonName)
		return
	}
	_, _ = io.WriteString(w, "pong")
}

func serve(t *testing.T, cfg Config, handler http.Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv, err := New(cfg, handler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String()
}

func TestU_Server_ServeAndShutdown(t *testing.T) {
	addr := serve(t, DefaultConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))
}

func TestU_Server_RunListenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "256.0.0.1:bad"
	srv, err := New(cfg, http.NotFoundHandler(), nil)
	require.NoError(t, err)
	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

type testPKI struct {
	caFile, certFile, keyFile string
	roots                     *x509.CertPool
	client                    tls.Certificate
}

// newTestPKI writes a CA and a server certificate for 127.0.0.1 to a temp
// dir, and keeps a client certificate in memory.
func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, caKey.Public(), caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leaf := func(serial int64, cn string, eku x509.ExtKeyUsage) ([]byte, *ecdsa.PrivateKey) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: cn},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{eku},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, key.Public(), caKey)
		require.NoError(t, err)
		return der, key
	}

	writePEM := func(name, typ string, der []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600))
		return path
	}

	p := &testPKI{roots: x509.NewCertPool()}
	p.roots.AddCert(caCert)
	p.caFile = writePEM("ca.pem", "CERTIFICATE", caDER)

	srvDER, srvKey := leaf(2, "server", x509.ExtKeyUsageServerAuth)
	srvKeyDER, err := x509.MarshalECPrivateKey(srvKey)
	require.NoError(t, err)
	p.certFile = writePEM("server.pem", "CERTIFICATE", srvDER)
	p.keyFile = writePEM("server.key", "EC PRIVATE KEY", srvKeyDER)

	cliDER, cliKey := leaf(3, "client-1", x509.ExtKeyUsageClientAuth)
	p.client = tls.Certificate{Certificate: [][]byte{cliDER}, PrivateKey: cliKey}
	return p
}

func httpsClient(roots *x509.CertPool, certs ...tls.Certificate) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{
			RootCAs:      roots,
			Certificates: certs,
		}},
	}
}

func TestU_Server_TLS(t *testing.T) {
	p := newTestPKI(t)
	cfg := DefaultConfig()
	cfg.CertFile, cfg.KeyFile = p.certFile, p.keyFile
	addr := serve(t, cfg, http.HandlerFunc(pong))

	resp, err := httpsClient(p.roots).Get("https://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))
}

func TestU_Server_ClientCertificateRequired(t *testing.T) {
	p := newTestPKI(t)
	cfg := DefaultConfig()
	cfg.CertFile, cfg.KeyFile, cfg.ClientCAFile = p.certFile, p.keyFile, p.caFile
	addr := serve(t, cfg, http.HandlerFunc(pong))

	_, err := httpsClient(p.roots).Get("https://" + addr + "/")
	require.Error(t, err, "handshake without a client certificate must fail")

	resp, err := httpsClient(p.roots, p.client).Get("https://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "client-1", string(body))
}
