package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"

	"github.com/remiblancher/certengine/internal/audit"
	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/logging"
	"github.com/remiblancher/certengine/pkg/ca"
	"github.com/remiblancher/certengine/pkg/custody"
)

// app holds the state shared by every command: configuration, logger and
// audit trail.
type app struct {
	configPath   string
	logLevel     string
	auditLogPath string

	cfg    *ca.Config
	logger *logging.Logger
	audit  audit.Writer
}

func (a *app) load() error {
	if a.configPath == "" {
		a.configPath = os.Getenv("CERTENGINE_CONFIG")
	}
	if a.configPath == "" {
		a.cfg = ca.DefaultConfig()
	} else {
		cfg, err := ca.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}

	logger, err := logging.New("certengine", a.cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	if a.auditLogPath == "" {
		a.auditLogPath = os.Getenv("CERTENGINE_AUDIT_LOG")
	}
	w, err := openAudit(a.auditLogPath, a.cfg.Audit.File)
	if err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	a.audit = w
	return nil
}

// openAudit opens one file writer per distinct non-empty path. Events go to
// every file when both the flag and the configuration name one.
func openAudit(paths ...string) (audit.Writer, error) {
	var writers []audit.Writer
	seen := make(map[string]bool)
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		w, err := audit.NewFileWriter(p)
		if err != nil {
			for _, opened := range writers {
				_ = opened.Close()
			}
			return nil, err
		}
		writers = append(writers, w)
	}
	switch len(writers) {
	case 0:
		return audit.NopWriter{}, nil
	case 1:
		return writers[0], nil
	}
	return audit.NewMultiWriter(writers...), nil
}

func (a *app) close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.logger != nil {
		// Sync fails on terminals; the error carries no information.
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) options(extra ...ca.Option) []ca.Option {
	return append([]ca.Option{ca.WithLogger(a.logger.Logger), ca.WithAudit(a.audit)}, extra...)
}

func (a *app) keyProvider(cfg pkicrypto.KeyStorageConfig) (pkicrypto.KeyProvider, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	return pkicrypto.NewKeyProvider(cfg)
}

// newCustody opens the custody backend named by kms.backend. The returned
// close function is never nil.
func (a *app) newCustody(ctx context.Context) (custody.Custody, func() error, error) {
	nop := func() error { return nil }
	cfg := a.cfg.KMS
	switch cfg.Backend {
	case ca.BackendAWS, "":
		c, err := custody.NewAWSFromConfig(ctx, cfg.Region)
		return c, nop, err
	case ca.BackendHTTP:
		var token string
		if cfg.TokenEnv != "" {
			token = os.Getenv(cfg.TokenEnv)
		}
		c, err := custody.NewHTTPClient(custody.HTTPConfig{BaseURL: cfg.URL, Token: token})
		return c, nop, err
	case ca.BackendPKCS11:
		hsm, err := pkicrypto.LoadHSMConfig(cfg.HSMConfig)
		if err != nil {
			return nil, nop, err
		}
		c, err := custody.NewPKCS11(hsm)
		if err != nil {
			return nil, nop, err
		}
		return c, c.Close, nil
	case ca.BackendLocal:
		provider, err := pkicrypto.NewKeyProvider(cfg.Keys)
		if err != nil {
			return nil, nop, err
		}
		return custody.NewLocal(provider), nop, nil
	}
	return nil, nop, fmt.Errorf("unknown kms backend %q", cfg.Backend)
}

// issuerFlags select and tune the issuer of selfsign and sign.
type issuerFlags struct {
	variant string
	webroot string
}

// newIssuer builds the issuer named by variant. The returned close function
// is never nil.
func (a *app) newIssuer(ctx context.Context, f issuerFlags) (ca.CertIssuer, func() error, error) {
	nop := func() error { return nil }
	switch ca.Variant(f.variant) {
	case ca.VariantLocal, "":
		provider, err := a.keyProvider(a.cfg.Local.Keys)
		if err != nil {
			return nil, nop, err
		}
		return ca.NewLocalIssuer(a.cfg.Local, provider, a.options()...), nop, nil

	case ca.VariantKMS:
		c, closeFn, err := a.newCustody(ctx)
		if err != nil {
			return nil, closeFn, err
		}
		return ca.NewKMSIssuer(a.cfg.KMS, c, a.options()...), closeFn, nil

	case ca.VariantACME:
		client, err := a.acmeClient(ctx)
		if err != nil {
			return nil, nop, err
		}
		var solver ca.ChallengeSolver
		if f.webroot != "" {
			solver = &ca.WebrootSolver{Dir: f.webroot, Client: client}
		}
		return ca.NewACMEIssuer(a.cfg.ACME, client, solver, a.options()...), nop, nil
	}
	return nil, nop, fmt.Errorf("unknown issuer %q (local, kms or acme)", f.variant)
}

func (a *app) acmeClient(ctx context.Context) (*acme.Client, error) {
	if a.cfg.ACME.DirectoryURL == "" || a.cfg.ACME.AccountKey == "" {
		return nil, errors.New("acme.directory_url and acme.account_key are required")
	}
	provider, err := a.keyProvider(a.cfg.Local.Keys)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("local.keys.dir must hold the acme account key")
	}
	ref, err := provider.Resolve(ctx, a.cfg.ACME.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("acme account key: %w", err)
	}
	key, err := ref.Signer()
	if err != nil {
		return nil, fmt.Errorf("acme account key: %w", err)
	}
	a.logger.Debug("acme client ready", zap.String("directory", a.cfg.ACME.DirectoryURL))
	return &acme.Client{Key: key, DirectoryURL: a.cfg.ACME.DirectoryURL, UserAgent: "certengine/" + version}, nil
}
