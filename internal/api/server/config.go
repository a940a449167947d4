// Package server runs the certengine HTTP API.
package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/remiblancher/certengine/internal/x509util"
)

// Config tunes the listener of `certengine serve`.
type Config struct {
	Addr string

	// CertFile and KeyFile enable TLS; both or neither must be set.
	CertFile string
	KeyFile  string
	// ClientCAFile requires client certificates issued by one of its CAs
	// (PEM, DER or PKCS#7). It needs TLS.
	ClientCAFile string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig listens on :8443 without TLS.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8443",
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ShutdownTimeout:   10 * time.Second,
	}
}

// TLSEnabled reports whether a certificate and a key are configured.
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Validate reports every inconsistency at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr: required"))
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("tls: certificate and key go together"))
	}
	if c.ClientCAFile != "" && !c.TLSEnabled() {
		errs = append(errs, errors.New("client_ca: requires tls"))
	}
	for name, d := range map[string]time.Duration{
		"read_header_timeout": c.ReadHeaderTimeout,
		"read_timeout":        c.ReadTimeout,
		"write_timeout":       c.WriteTimeout,
		"idle_timeout":        c.IdleTimeout,
		"shutdown_timeout":    c.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: negative", name))
		}
	}
	return errors.Join(errs...)
}

// tlsConfig loads the server certificate and client CAs; nil without TLS.
func (c Config) tlsConfig() (*tls.Config, error) {
	if !c.TLSEnabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if c.ClientCAFile == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client CAs: %w", err)
	}
	ders, err := x509util.DecodeCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("client CAs: %w", err)
	}
	pool := x509.NewCertPool()
	for i, der := range ders {
		ca, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("client CA %d: %w", i, err)
		}
		pool.AddCert(ca)
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}
