//go:build acceptance

package acceptance

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"
)

// =============================================================================
// Issuance and verification across algorithms
// =============================================================================

func TestA_PKI_Workflow(t *testing.T) {
	for _, alg := range []string{"ecdsa-p256", "ecdsa-p384", "ed25519", "ed448", "rsa-2048"} {
		t.Run(alg, func(t *testing.T) {
			p := setupPKI(t, alg, "acceptance.example.com")
			assertFileExists(t, p.leafCrt)

			out := run(t, "verify", p.leafCrt, "--root", p.rootCrt)
			assertOutputContains(t, out, "OK: CN=acceptance.example.com")

			out = run(t, "parse", p.leafCrt)
			assertOutputContains(t, out, `"acceptance.example.com"`)

			out = runExpectError(t, "verify", p.leafCrt)
			assertOutputContains(t, out, "untrusted_without_roots")
		})
	}
}

// TestA_PKI_StdlibInterop checks that the Go standard library accepts the
// chain. Ed448 is not supported there and is skipped.
func TestA_PKI_StdlibInterop(t *testing.T) {
	for _, alg := range []string{"ecdsa-p256", "ed25519", "rsa-2048"} {
		t.Run(alg, func(t *testing.T) {
			p := setupPKI(t, alg, "interop.example.com")
			root := readCert(t, p.rootCrt)
			leaf := readCert(t, p.leafCrt)

			pool := x509.NewCertPool()
			pool.AddCert(root)
			_, err := leaf.Verify(x509.VerifyOptions{
				DNSName:   "interop.example.com",
				Roots:     pool,
				KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
			})
			if err != nil {
				t.Fatalf("crypto/x509 rejected the chain: %v", err)
			}
		})
	}
}

func TestA_PKI_OpenSSLInterop(t *testing.T) {
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not installed")
	}
	p := setupPKI(t, "ecdsa-p384", "openssl.example.com")
	out, err := exec.Command("openssl", "verify", "-CAfile", p.rootCrt, p.leafCrt).CombinedOutput()
	if err != nil {
		t.Fatalf("openssl verify failed: %v\n%s", err, out)
	}
	assertOutputContains(t, string(out), "OK")
}

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatalf("%s: no PEM block", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	return cert
}

// =============================================================================
// HTTP API
// =============================================================================

func TestA_Serve_Health(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := execCommandContext(ctx, binary, "serve", "--addr", addr)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	url := fmt.Sprintf("http://%s/health", addr)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d", resp.StatusCode)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
