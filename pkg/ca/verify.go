package ca

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ocsp"

	"github.com/remiblancher/certengine/internal/audit"
	"github.com/remiblancher/certengine/internal/x509util"
)

// Reason explains why a chain did not verify.
type Reason string

const (
	ReasonNotYetValid           Reason = "not_yet_valid"
	ReasonExpired               Reason = "expired"
	ReasonIncompleteChain       Reason = "incomplete_chain"
	ReasonUntrustedWithoutRoots Reason = "untrusted_without_roots"
	ReasonChainTooLong          Reason = "chain_too_long"
	ReasonInvalidSignature      Reason = "invalid_signature"
)

const opVerify = "verify"

// VerifyOptions control a chain verification.
type VerifyOptions struct {
	// TrustRoots and Intermediates hold PEM, DER or PKCS#7 encoded
	// certificates; one entry may carry several.
	TrustRoots    [][]byte
	Intermediates [][]byte
	// CheckTime defaults to now.
	CheckTime       *time.Time
	CheckRevocation bool
	// AllowSelfSignedWithoutRoots accepts a self-signed certificate when no
	// trust roots are given.
	AllowSelfSignedWithoutRoots bool
	// MaxDepth bounds the number of certificates in the chain.
	MaxDepth int
}

// RevocationHint carries what a caller needs to run the OCSP check the
// verifier does not perform.
type RevocationHint struct {
	OCSPServer string `json:"ocsp_server"`
	// Request is a DER OCSPRequest for the leaf.
	Request []byte `json:"request"`
}

// VerificationResult is the outcome of a chain verification. An invalid
// chain is a result with Valid false, not an error.
type VerificationResult struct {
	Valid               bool            `json:"valid"`
	Reason              Reason          `json:"reason,omitempty"`
	ChainLen            int             `json:"chain_len,omitempty"`
	IsCA                bool            `json:"is_ca"`
	Issuer              string          `json:"issuer"`
	Subject             string          `json:"subject"`
	NotBefore           int64           `json:"not_before"`
	NotAfter            int64           `json:"not_after"`
	RevocationRequested bool            `json:"revocation_requested"`
	RevocationChecked   bool            `json:"revocation_checked"`
	Revocation          *RevocationHint `json:"revocation,omitempty"`
}

// Verifier walks certificate chains.
type Verifier struct {
	cfg VerifyConfig
	o   options
}

// NewVerifier creates a verifier whose defaults come from cfg.
func NewVerifier(cfg VerifyConfig, opts ...Option) *Verifier {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	return &Verifier{cfg: cfg, o: newOptions(opts)}
}

// VerifyCert verifies cert with default settings.
func VerifyCert(ctx context.Context, cert []byte, opts VerifyOptions) (*VerificationResult, error) {
	return NewVerifier(VerifyConfig{}).Verify(ctx, cert, opts)
}

// Verify checks the validity window of the leaf, then walks from the leaf
// to a trust root through the intermediates. Certificates bundled after
// the leaf in cert join the intermediates.
func (v *Verifier) Verify(ctx context.Context, cert []byte, opts VerifyOptions) (res *VerificationResult, err error) {
	defer func() {
		v.o.metrics.observeVerification(res, err)
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ders, err := x509util.DecodeCertificates(cert)
	if err != nil {
		return nil, &ValidationError{Op: opVerify, Field: "cert", Err: err}
	}
	leaf, err := x509util.ParseCertificate(ders[0])
	if err != nil {
		return nil, &ValidationError{Op: opVerify, Field: "cert", Err: err}
	}

	pool := newCertPool()
	for i, der := range ders[1:] {
		c, err := x509util.ParseCertificate(der)
		if err != nil {
			return nil, &ValidationError{Op: opVerify, Field: fmt.Sprintf("cert[%d]", i+1), Err: err}
		}
		pool.add(c)
	}
	if err := pool.addAll("intermediates", opts.Intermediates); err != nil {
		return nil, err
	}
	roots := newCertPool()
	if err := roots.addAll("trust_roots", opts.TrustRoots); err != nil {
		return nil, err
	}

	checkRevocation := opts.CheckRevocation || v.cfg.CheckRevocation
	res = &VerificationResult{
		IsCA:                leaf.IsCA(),
		Issuer:              x509util.NameString(leaf.RawIssuer),
		Subject:             x509util.NameString(leaf.RawSubject),
		NotBefore:           leaf.NotBefore.Unix(),
		NotAfter:            leaf.NotAfter.Unix(),
		RevocationRequested: checkRevocation,
	}

	now := v.o.now()
	if opts.CheckTime != nil {
		now = *opts.CheckTime
	}
	w := walk{
		roots:     roots,
		pool:      pool,
		maxDepth:  v.maxDepth(opts),
		allowSelf: opts.AllowSelfSignedWithoutRoots || v.cfg.AllowSelfSignedWithoutRoots,
	}
	switch {
	case now.Before(leaf.NotBefore):
		res.Reason = ReasonNotYetValid
	case now.After(leaf.NotAfter):
		res.Reason = ReasonExpired
	default:
		res.ChainLen, res.Reason = w.run(leaf)
		res.Valid = res.Reason == ""
	}
	if !res.Valid {
		res.ChainLen = 0
	}

	if res.Valid && checkRevocation && w.leafIssuer != nil {
		res.Revocation = v.revocationHint(leaf, w.leafIssuer)
	}

	if err := audit.LogChainVerified(v.o.audit, res.Subject, res.Valid, string(res.Reason), res.ChainLen); err != nil {
		return nil, fmt.Errorf("verify %s: %w", res.Subject, err)
	}
	v.o.logger.Info("chain verified",
		zap.String("subject", res.Subject),
		zap.Bool("valid", res.Valid),
		zap.String("reason", string(res.Reason)),
		zap.Int("chain_len", res.ChainLen))
	return res, nil
}

func (v *Verifier) maxDepth(opts VerifyOptions) int {
	if opts.MaxDepth > 0 {
		return opts.MaxDepth
	}
	return v.cfg.MaxDepth
}

// revocationHint builds the OCSP request for leaf when it names a
// responder. Nothing is sent.
func (v *Verifier) revocationHint(leaf, issuer *x509util.Certificate) *RevocationHint {
	ext, ok := leaf.Extension(x509util.OIDExtAuthorityInfoAccess)
	if !ok {
		return nil
	}
	servers, _, err := x509util.DecodeAuthorityInfoAccess(ext.Value)
	if err != nil || len(servers) == 0 {
		return nil
	}
	hint := &RevocationHint{OCSPServer: servers[0]}

	stdLeaf, err := x509.ParseCertificate(leaf.Raw)
	if err != nil {
		v.o.logger.Debug("ocsp request skipped", zap.Error(err))
		return hint
	}
	stdIssuer, err := x509.ParseCertificate(issuer.Raw)
	if err != nil {
		v.o.logger.Debug("ocsp request skipped", zap.Error(err))
		return hint
	}
	req, err := ocsp.CreateRequest(stdLeaf, stdIssuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		v.o.logger.Debug("ocsp request skipped", zap.Error(err))
		return hint
	}
	hint.Request = req
	return hint
}

// certPool indexes certificates by raw subject DN. One name may map to
// several certificates, e.g. across a key rollover.
type certPool struct {
	bySubject map[string][]*x509util.Certificate
	n         int
}

func newCertPool() *certPool {
	return &certPool{bySubject: make(map[string][]*x509util.Certificate)}
}

func (p *certPool) add(c *x509util.Certificate) {
	key := string(c.RawSubject)
	for _, have := range p.bySubject[key] {
		if bytes.Equal(have.Raw, c.Raw) {
			return
		}
	}
	p.bySubject[key] = append(p.bySubject[key], c)
	p.n++
}

func (p *certPool) addAll(field string, entries [][]byte) error {
	for i, data := range entries {
		ders, err := x509util.DecodeCertificates(data)
		if err != nil {
			return &ValidationError{Op: opVerify, Field: fmt.Sprintf("%s[%d]", field, i), Err: err}
		}
		for _, der := range ders {
			c, err := x509util.ParseCertificate(der)
			if err != nil {
				return &ValidationError{Op: opVerify, Field: fmt.Sprintf("%s[%d]", field, i), Err: err}
			}
			p.add(c)
		}
	}
	return nil
}

func (p *certPool) issuersOf(c *x509util.Certificate) []*x509util.Certificate {
	return p.bySubject[string(c.RawIssuer)]
}

func (p *certPool) empty() bool { return p.n == 0 }

// walk is the state of one chain walk from the leaf toward a root.
type walk struct {
	roots     *certPool
	pool      *certPool
	maxDepth  int
	allowSelf bool

	// leafIssuer is the certificate that signed the leaf, once found.
	leafIssuer *x509util.Certificate
}

// run returns the chain length, or the reason the walk failed.
func (w *walk) run(leaf *x509util.Certificate) (int, Reason) {
	cur := leaf
	chainLen := 1
	visited := map[string]bool{string(leaf.Raw): true}

	for {
		if candidates := w.roots.issuersOf(cur); len(candidates) > 0 {
			for _, root := range candidates {
				if cur.CheckSignatureFrom(root) != nil || root.CheckSignatureFrom(root) != nil {
					continue
				}
				w.found(cur, leaf, root)
				if !bytes.Equal(root.Raw, cur.Raw) {
					chainLen++
				}
				if chainLen > w.maxDepth {
					return 0, ReasonChainTooLong
				}
				return chainLen, ""
			}
			return 0, ReasonInvalidSignature
		}

		if w.roots.empty() && w.allowSelf && cur.IsSelfIssued() {
			if cur.CheckSignatureFrom(cur) != nil {
				return 0, ReasonInvalidSignature
			}
			w.found(cur, leaf, cur)
			return chainLen, ""
		}

		var next *x509util.Certificate
		candidates := w.pool.issuersOf(cur)
		for _, c := range candidates {
			if visited[string(c.Raw)] {
				continue
			}
			if cur.CheckSignatureFrom(c) == nil {
				next = c
				break
			}
		}
		if next == nil {
			switch {
			case hasUnvisited(candidates, visited):
				return 0, ReasonInvalidSignature
			case w.roots.empty():
				return 0, ReasonUntrustedWithoutRoots
			}
			return 0, ReasonIncompleteChain
		}
		if chainLen >= w.maxDepth {
			return 0, ReasonChainTooLong
		}
		w.found(cur, leaf, next)
		visited[string(next.Raw)] = true
		cur = next
		chainLen++
	}
}

func (w *walk) found(cur, leaf, issuer *x509util.Certificate) {
	if cur == leaf && w.leafIssuer == nil {
		w.leafIssuer = issuer
	}
}

func hasUnvisited(certs []*x509util.Certificate, visited map[string]bool) bool {
	for _, c := range certs {
		if !visited[string(c.Raw)] {
			return true
		}
	}
	return false
}
