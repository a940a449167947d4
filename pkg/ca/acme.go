package ca

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
)

// ACMEClient is the subset of *acme.Client used by ACMEIssuer.
type ACMEClient interface {
	Discover(ctx context.Context) (acme.Directory, error)
	Register(ctx context.Context, acct *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	GetReg(ctx context.Context, url string) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	WaitAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	WaitOrder(ctx context.Context, url string) (*acme.Order, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
	ListCertAlternates(ctx context.Context, url string) ([]string, error)
	FetchCert(ctx context.Context, url string, bundle bool) ([][]byte, error)
}

var _ ACMEClient = (*acme.Client)(nil)

// ChallengeSolver provisions the response to an ACME challenge, e.g. an
// http-01 file, a dns-01 TXT record or a tls-alpn-01 certificate.
type ChallengeSolver interface {
	// Types lists the challenge types the solver handles, preferred first.
	Types() []string
	Present(ctx context.Context, authz *acme.Authorization, chal *acme.Challenge) error
	CleanUp(ctx context.Context, authz *acme.Authorization, chal *acme.Challenge) error
}

// ACMEIssuer obtains certificates from an RFC 8555 CA. It holds no CA key;
// the CSR is forwarded as is.
type ACMEIssuer struct {
	cfg    ACMEConfig
	client ACMEClient
	solver ChallengeSolver
	o      options
}

var _ CertIssuer = (*ACMEIssuer)(nil)

// NewACMEIssuer creates an ACME issuer. solver may be nil when the
// authorizations are satisfied out of band.
func NewACMEIssuer(cfg ACMEConfig, client ACMEClient, solver ChallengeSolver, opts ...Option) *ACMEIssuer {
	if cfg.FinalizeTimeout == 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	return &ACMEIssuer{cfg: cfg, client: client, solver: solver, o: newOptions(opts)}
}

func (a *ACMEIssuer) Variant() Variant { return VariantACME }

func (a *ACMEIssuer) Capabilities() Capabilities {
	features := []string{"sign_from_csr", "verify", "parse", "san", "alternate_chains"}
	if a.solver != nil {
		features = append(features, a.solver.Types()...)
	}
	return Capabilities{
		Variant:       VariantACME,
		KeyAlgorithms: keyAlgorithmNames(),
		Features:      features,
	}
}

// CreateSelfSigned is not available from an ACME CA.
func (a *ACMEIssuer) CreateSelfSigned(_ context.Context, _ pkicrypto.KeyRef, _ x509util.SubjectSpec, _ IssueOptions) ([]byte, error) {
	err := &ConfigurationError{Op: opSelfSigned, Err: fmt.Errorf("%w: acme issuer cannot self-sign", ErrUnsupportedOperation)}
	return nil, a.o.finish(VariantACME, opSelfSigned, time.Now(), err)
}

// SignCert runs an ACME order for the names in csr and returns the selected
// chain, leaf first. caKey is ignored.
func (a *ACMEIssuer) SignCert(ctx context.Context, csrData []byte, _ pkicrypto.KeyRef, opts SignOptions) (out []byte, err error) {
	start := time.Now()
	defer func() {
		if err = a.o.finish(VariantACME, opSignCert, start, classify(opSignCert, VariantACME, err)); err != nil {
			out = nil
		}
	}()

	csr, err := parseCSR(csrData)
	if err != nil {
		return nil, err
	}
	ids, err := orderIdentifiers(csr)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithDeadline(ctx, a.deadline(opts))
	defer cancel()

	chain, err := a.order(dctx, ids, csr.Raw, opts)
	if err != nil {
		if dctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &IssuanceError{Op: opSignCert, Variant: VariantACME, Err: fmt.Errorf("%w: %w", ErrFinalizeDeadline, err)}
		}
		return nil, err
	}

	if err := auditIssued(a.o, VariantACME, opSignCert, chain[0], signatureAlgorithm(chain[0])); err != nil {
		return nil, err
	}
	return codec(opts.OutputDER).EncodeChain(chain), nil
}

// deadline bounds the whole order: Deadline, else now + Timeout, else now +
// FinalizeTimeout.
func (a *ACMEIssuer) deadline(opts SignOptions) time.Time {
	switch {
	case opts.Deadline != nil:
		return *opts.Deadline
	case opts.Timeout > 0:
		return a.o.now().Add(opts.Timeout)
	}
	return a.o.now().Add(a.cfg.FinalizeTimeout)
}

func (a *ACMEIssuer) order(ctx context.Context, ids []acme.AuthzID, csrDER []byte, opts SignOptions) ([][]byte, error) {
	if _, err := a.client.Discover(ctx); err != nil {
		return nil, fmt.Errorf("acme discover: %w", err)
	}
	if err := a.register(ctx); err != nil {
		return nil, err
	}

	order, err := a.client.AuthorizeOrder(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("acme new order: %w", err)
	}
	a.o.logger.Debug("acme order created",
		zap.String("order", order.URI),
		zap.Int("identifiers", len(ids)),
		zap.Int("authorizations", len(order.AuthzURLs)))

	for _, u := range order.AuthzURLs {
		if err := a.authorize(ctx, u); err != nil {
			return nil, err
		}
	}

	if order, err = a.client.WaitOrder(ctx, order.URI); err != nil {
		return nil, fmt.Errorf("acme wait order: %w", err)
	}
	primary, certURL, err := a.client.CreateOrderCert(ctx, order.FinalizeURL, csrDER, true)
	if err != nil {
		return nil, fmt.Errorf("acme finalize: %w", err)
	}
	if len(primary) == 0 {
		return nil, fmt.Errorf("acme finalize: %w: empty chain", ErrInvalidCertificate)
	}
	return a.selectChain(ctx, primary, certURL, opts)
}

// register creates the account, reusing it when it already exists.
func (a *ACMEIssuer) register(ctx context.Context) error {
	prompt := func(string) bool { return false }
	if a.cfg.AcceptTOS {
		prompt = acme.AcceptTOS
	}
	_, err := a.client.Register(ctx, &acme.Account{Contact: a.cfg.Contact}, prompt)
	if errors.Is(err, acme.ErrAccountAlreadyExists) {
		_, err = a.client.GetReg(ctx, "")
	}
	if err != nil {
		return fmt.Errorf("acme account: %w", err)
	}
	return nil
}

func (a *ACMEIssuer) authorize(ctx context.Context, url string) error {
	authz, err := a.client.GetAuthorization(ctx, url)
	if err != nil {
		return fmt.Errorf("acme authorization: %w", err)
	}
	if authz.Status != acme.StatusPending {
		return nil
	}
	if a.solver == nil {
		if _, err := a.client.WaitAuthorization(ctx, authz.URI); err != nil {
			return fmt.Errorf("acme wait authorization for %s: %w", authz.Identifier.Value, err)
		}
		return nil
	}
	chal := pickChallenge(authz, a.solver.Types())
	if chal == nil {
		return fmt.Errorf("acme authorization for %s offers no supported challenge", authz.Identifier.Value)
	}

	if err := a.solver.Present(ctx, authz, chal); err != nil {
		return fmt.Errorf("acme %s challenge for %s: %w", chal.Type, authz.Identifier.Value, err)
	}
	defer func() {
		if err := a.solver.CleanUp(context.WithoutCancel(ctx), authz, chal); err != nil {
			a.o.logger.Warn("acme challenge cleanup failed",
				zap.String("identifier", authz.Identifier.Value),
				zap.String("type", chal.Type),
				zap.Error(err))
		}
	}()

	if _, err := a.client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("acme accept %s: %w", chal.Type, err)
	}
	if _, err := a.client.WaitAuthorization(ctx, authz.URI); err != nil {
		return fmt.Errorf("acme wait authorization for %s: %w", authz.Identifier.Value, err)
	}
	a.o.logger.Info("acme authorization valid",
		zap.String("identifier", authz.Identifier.Value),
		zap.String("type", chal.Type))
	return nil
}

func pickChallenge(authz *acme.Authorization, types []string) *acme.Challenge {
	for _, t := range types {
		for _, c := range authz.Challenges {
			if c.Type == t {
				return c
			}
		}
	}
	return nil
}

// selectChain returns the chain chosen by ChainIndex (0 is the primary),
// else the first whose topmost issuer CN contains PreferredChain, else the
// primary.
func (a *ACMEIssuer) selectChain(ctx context.Context, primary [][]byte, certURL string, opts SignOptions) ([][]byte, error) {
	if opts.ChainIndex == nil && opts.PreferredChain == "" {
		return primary, nil
	}
	chains := [][][]byte{primary}
	alts, err := a.client.ListCertAlternates(ctx, certURL)
	if err != nil {
		return nil, fmt.Errorf("acme list alternates: %w", err)
	}
	for _, u := range alts {
		c, err := a.client.FetchCert(ctx, u, true)
		if err != nil {
			return nil, fmt.Errorf("acme fetch alternate: %w", err)
		}
		chains = append(chains, c)
	}

	if opts.ChainIndex != nil {
		i := *opts.ChainIndex
		if i < 0 || i >= len(chains) {
			return nil, &ValidationError{Op: opSignCert, Field: "chain_index", Err: fmt.Errorf("index %d out of range, %d chains available", i, len(chains))}
		}
		return chains[i], nil
	}
	for _, c := range chains {
		if strings.Contains(topIssuerCN(c), opts.PreferredChain) {
			return c, nil
		}
	}
	a.o.logger.Info("preferred chain not offered, using primary",
		zap.String("preferred_chain", opts.PreferredChain),
		zap.Int("chains", len(chains)))
	return primary, nil
}

func signatureAlgorithm(der []byte) string {
	cert, err := x509util.ParseCertificate(der)
	if err != nil {
		return ""
	}
	return x509util.SignatureAlgorithmName(cert.SignatureAlgorithm)
}

func topIssuerCN(chain [][]byte) string {
	if len(chain) == 0 {
		return ""
	}
	cert, err := x509util.ParseCertificate(chain[len(chain)-1])
	if err != nil {
		return ""
	}
	attrs, err := x509util.DecodeName(cert.RawIssuer)
	if err != nil {
		return ""
	}
	for _, at := range attrs {
		if at.Type == "CN" {
			return at.Value
		}
	}
	return ""
}

// orderIdentifiers derives the order identifiers from the CSR common name
// and its DNS and IP SANs, without duplicates.
func orderIdentifiers(csr *x509util.CSR) ([]acme.AuthzID, error) {
	san, err := csr.SubjectAltNames()
	if err != nil {
		return nil, &ValidationError{Op: opSignCert, Field: "csr.san", Err: err}
	}
	var ids []acme.AuthzID
	seen := make(map[acme.AuthzID]bool)
	add := func(id acme.AuthzID) {
		if id.Value == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if cn := csr.CommonName(); cn != "" {
		if ip := net.ParseIP(cn); ip != nil {
			add(acme.AuthzID{Type: "ip", Value: ip.String()})
		} else {
			add(acme.AuthzID{Type: "dns", Value: strings.ToLower(cn)})
		}
	}
	for _, d := range san.DNS {
		add(acme.AuthzID{Type: "dns", Value: strings.ToLower(d)})
	}
	for _, s := range san.IP {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, &ValidationError{Op: opSignCert, Field: "csr.san.ip", Err: fmt.Errorf("%w: %q", ErrMalformedIP, s)}
		}
		add(acme.AuthzID{Type: "ip", Value: ip.String()})
	}
	if len(ids) == 0 {
		return nil, &ValidationError{Op: opSignCert, Field: "csr", Err: errors.New("no DNS or IP identifier to order")}
	}
	return ids, nil
}
