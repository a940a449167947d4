package ca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/acme"

	"github.com/remiblancher/certengine/internal/audit"
	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
)

// fakeACME is an in-memory ACME server with one authorization per
// identifier.
type fakeACME struct {
	registerErr error
	authzStatus string
	primary     [][]byte
	alternates  map[string][][]byte
	blockOrder  bool

	calls       []string
	identifiers []acme.AuthzID
	accepted    []string
	finalized   []byte
}

func (f *fakeACME) Discover(context.Context) (acme.Directory, error) {
	f.calls = append(f.calls, "discover")
	return acme.Directory{}, nil
}

func (f *fakeACME) Register(_ context.Context, _ *acme.Account, prompt func(string) bool) (*acme.Account, error) {
	f.calls = append(f.calls, "register")
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &acme.Account{URI: "https://acme.test/acct/1"}, nil
}

func (f *fakeACME) GetReg(context.Context, string) (*acme.Account, error) {
	f.calls = append(f.calls, "get_reg")
	return &acme.Account{URI: "https://acme.test/acct/1"}, nil
}

func (f *fakeACME) AuthorizeOrder(_ context.Context, ids []acme.AuthzID, _ ...acme.OrderOption) (*acme.Order, error) {
	f.calls = append(f.calls, "new_order")
	f.identifiers = ids
	o := &acme.Order{URI: "https://acme.test/order/1", FinalizeURL: "https://acme.test/order/1/finalize"}
	for _, id := range ids {
		o.AuthzURLs = append(o.AuthzURLs, "https://acme.test/authz/"+id.Value)
	}
	return o, nil
}

func (f *fakeACME) GetAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	status := f.authzStatus
	if status == "" {
		status = acme.StatusPending
	}
	value := url[len("https://acme.test/authz/"):]
	return &acme.Authorization{
		URI:        url,
		Status:     status,
		Identifier: acme.AuthzID{Type: "dns", Value: value},
		Challenges: []*acme.Challenge{
			{Type: "tls-alpn-01", URI: url + "/tls"},
			{Type: "http-01", URI: url + "/http", Token: "tok-" + value},
			{Type: "dns-01", URI: url + "/dns"},
		},
	}, nil
}

func (f *fakeACME) Accept(_ context.Context, chal *acme.Challenge) (*acme.Challenge, error) {
	f.accepted = append(f.accepted, chal.URI)
	return chal, nil
}

func (f *fakeACME) WaitAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	f.calls = append(f.calls, "wait_authz")
	return &acme.Authorization{URI: url, Status: acme.StatusValid}, nil
}

func (f *fakeACME) WaitOrder(ctx context.Context, url string) (*acme.Order, error) {
	f.calls = append(f.calls, "wait_order")
	if f.blockOrder {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &acme.Order{URI: url, Status: acme.StatusReady, FinalizeURL: url + "/finalize"}, nil
}

func (f *fakeACME) CreateOrderCert(_ context.Context, _ string, csr []byte, _ bool) ([][]byte, string, error) {
	f.calls = append(f.calls, "finalize")
	f.finalized = csr
	return f.primary, "https://acme.test/cert/1", nil
}

func (f *fakeACME) ListCertAlternates(context.Context, string) ([]string, error) {
	f.calls = append(f.calls, "alternates")
	var urls []string
	for _, u := range []string{"https://acme.test/cert/1/1", "https://acme.test/cert/1/2"} {
		if _, ok := f.alternates[u]; ok {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

func (f *fakeACME) FetchCert(_ context.Context, url string, _ bool) ([][]byte, error) {
	c, ok := f.alternates[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

// recordingSolver keeps track of presented and cleaned up challenges.
type recordingSolver struct {
	types      []string
	presentErr error
	presented  []string
	cleaned    []string
}

func (s *recordingSolver) Types() []string { return s.types }

func (s *recordingSolver) Present(_ context.Context, _ *acme.Authorization, chal *acme.Challenge) error {
	s.presented = append(s.presented, chal.URI)
	return s.presentErr
}

func (s *recordingSolver) CleanUp(_ context.Context, _ *acme.Authorization, chal *acme.Challenge) error {
	s.cleaned = append(s.cleaned, chal.URI)
	return nil
}

// acmeChain returns a DER leaf issued by a fresh CA named rootCN.
func acmeChain(t *testing.T, rootCN, leafCN string) [][]byte {
	t.Helper()
	ca := newTestCA(t, pkicrypto.AlgECDSAP256, rootCN)
	leaf := ca.sign(t, leafCN, SignOptions{IssueOptions: IssueOptions{OutputDER: true}})
	return [][]byte{leaf, mustParseCert(t, ca.cert).Raw}
}

// =============================================================================
// [Unit] ACMEIssuer: order flow
// =============================================================================

func TestU_ACME_SignCert_HappyPath(t *testing.T) {
	chain := acmeChain(t, "Fake ACME Root", "www.example.com")
	client := &fakeACME{primary: chain}
	solver := &recordingSolver{types: []string{"http-01"}}
	w := audit.NewMemoryWriter()
	a := NewACMEIssuer(ACMEConfig{AcceptTOS: true}, client, solver, WithAudit(w))

	csr := newCSR(t, pkicrypto.AlgECDSAP256, "WWW.example.com", CSROptions{
		SAN: &x509util.AltNameSpec{DNS: []string{"www.example.com", "api.example.com"}, IP: []string{"192.0.2.1"}},
	})
	out, err := a.SignCert(context.Background(), csr, pkicrypto.KeyRef{}, SignOptions{})
	require.NoError(t, err)

	ders, err := x509util.DecodeCertificates(out)
	require.NoError(t, err)
	assert.Equal(t, chain, ders)

	assert.Equal(t, []acme.AuthzID{
		{Type: "dns", Value: "www.example.com"},
		{Type: "dns", Value: "api.example.com"},
		{Type: "ip", Value: "192.0.2.1"},
	}, client.identifiers)
	assert.Equal(t, []string{
		"discover", "register", "new_order",
		"wait_authz", "wait_authz", "wait_authz",
		"wait_order", "finalize",
	}, client.calls)

	parsed, err := x509util.ParseCSR(csr)
	require.NoError(t, err)
	assert.Equal(t, parsed.Raw, client.finalized, "the CSR is forwarded unchanged")

	assert.Equal(t, []string{
		"https://acme.test/authz/www.example.com/http",
		"https://acme.test/authz/api.example.com/http",
		"https://acme.test/authz/192.0.2.1/http",
	}, solver.presented)
	assert.Equal(t, solver.presented, solver.cleaned)
	assert.Equal(t, solver.presented, client.accepted)

	assert.Equal(t, []audit.EventType{audit.EventCertIssued}, eventTypes(w))
	assert.Equal(t, "ECDSA-SHA256", w.Events()[0].Context.Algorithm)
}

func TestU_ACME_ExistingAccountIsReused(t *testing.T) {
	client := &fakeACME{
		registerErr: acme.ErrAccountAlreadyExists,
		authzStatus: acme.StatusValid,
		primary:     acmeChain(t, "Root", "a.example.com"),
	}
	a := NewACMEIssuer(ACMEConfig{}, client, nil)

	_, err := a.SignCert(context.Background(), newCSR(t, pkicrypto.AlgEd25519, "a.example.com", CSROptions{}), pkicrypto.KeyRef{}, SignOptions{})
	require.NoError(t, err)
	assert.Contains(t, client.calls, "get_reg")
	assert.NotContains(t, client.calls, "wait_authz", "valid authorizations need no challenge")
}

func TestU_ACME_SolverPreference(t *testing.T) {
	client := &fakeACME{primary: acmeChain(t, "Root", "a.example.com")}
	solver := &recordingSolver{types: []string{"dns-01", "http-01"}}
	a := NewACMEIssuer(ACMEConfig{}, client, solver)

	_, err := a.SignCert(context.Background(), newCSR(t, pkicrypto.AlgECDSAP256, "a.example.com", CSROptions{}), pkicrypto.KeyRef{}, SignOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://acme.test/authz/a.example.com/dns"}, solver.presented)
}

func TestU_ACME_SolverFailure(t *testing.T) {
	client := &fakeACME{primary: acmeChain(t, "Root", "a.example.com")}
	solver := &recordingSolver{types: []string{"http-01"}, presentErr: errors.New("port 80 unreachable")}
	a := NewACMEIssuer(ACMEConfig{}, client, solver)

	out, err := a.SignCert(context.Background(), newCSR(t, pkicrypto.AlgECDSAP256, "a.example.com", CSROptions{}), pkicrypto.KeyRef{}, SignOptions{})
	require.Error(t, err)
	assert.Nil(t, out)
	var ie *IssuanceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, VariantACME, ie.Variant)
	assert.Contains(t, err.Error(), "port 80 unreachable")
	assert.Empty(t, client.accepted)
}

func TestU_ACME_NoSupportedChallenge(t *testing.T) {
	client := &fakeACME{primary: acmeChain(t, "Root", "a.example.com")}
	a := NewACMEIssuer(ACMEConfig{}, client, &recordingSolver{types: []string{"onion-csr-01"}})

	_, err := a.SignCert(context.Background(), newCSR(t, pkicrypto.AlgECDSAP256, "a.example.com", CSROptions{}), pkicrypto.KeyRef{}, SignOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported challenge")
}

// =============================================================================
// [Unit] ACMEIssuer: chain selection
// =============================================================================

func TestU_ACME_ChainSelection(t *testing.T) {
	primary := acmeChain(t, "Primary Root X1", "a.example.com")
	alt1 := acmeChain(t, "Alt Root Y", "a.example.com")
	alt2 := acmeChain(t, "Legacy Root Z", "a.example.com")
	newClient := func() *fakeACME {
		return &fakeACME{
			authzStatus: acme.StatusValid,
			primary:     primary,
			alternates: map[string][][]byte{
				"https://acme.test/cert/1/1": alt1,
				"https://acme.test/cert/1/2": alt2,
			},
		}
	}
	one, two := 1, 2

	tests := []struct {
		name string
		opts SignOptions
		want [][]byte
	}{
		{"default is primary", SignOptions{}, primary},
		{"index 1", SignOptions{ChainIndex: &one}, alt1},
		{"index 2", SignOptions{ChainIndex: &two}, alt2},
		{"preferred chain", SignOptions{PreferredChain: "Legacy"}, alt2},
		{"preferred chain not offered", SignOptions{PreferredChain: "Nope"}, primary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.OutputDER = true
			a := NewACMEIssuer(ACMEConfig{}, newClient(), nil)
			out, err := a.SignCert(context.Background(), newCSR(t, pkicrypto.AlgECDSAP256, "a.example.com", CSROptions{}), pkicrypto.KeyRef{}, tt.opts)
			require.NoError(t, err)
			ders, err := x509util.DecodeCertificates(out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ders)
		})
	}
}

func TestU_ACME_ChainIndexOutOfRange(t *testing.T) {
	client := &fakeACME{authzStatus: acme.StatusValid, primary: acmeChain(t, "Root", "a.example.com")}
	a := NewACMEIssuer(ACMEConfig{}, client, nil)
	five := 5

	_, err := a.SignCert(context.Background(), newCSR(t, pkicrypto.AlgECDSAP256, "a.example.com", CSROptions{}), pkicrypto.KeyRef{}, SignOptions{ChainIndex: &five})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "chain_index", ve.Field)
}

// =============================================================================
// [Unit] ACMEIssuer: failures
// =============================================================================

func TestU_ACME_FinalizeDeadline(t *testing.T) {
	client := &fakeACME{authzStatus: acme.StatusValid, blockOrder: true}
	a := NewACMEIssuer(ACMEConfig{}, client, nil)

	_, err := a.SignCert(context.Background(), newCSR(t, pkicrypto.AlgECDSAP256, "slow.example.com", CSROptions{}), pkicrypto.KeyRef{}, SignOptions{Timeout: 20 * time.Millisecond})
	var ie *IssuanceError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, ErrFinalizeDeadline)
	assert.NotContains(t, client.calls, "finalize")
}

func TestU_ACME_CallerCancellationIsNotADeadline(t *testing.T) {
	client := &fakeACME{authzStatus: acme.StatusValid, blockOrder: true}
	a := NewACMEIssuer(ACMEConfig{}, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.SignCert(ctx, newCSR(t, pkicrypto.AlgECDSAP256, "slow.example.com", CSROptions{}), pkicrypto.KeyRef{}, SignOptions{Timeout: time.Hour})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFinalizeDeadline)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestU_ACME_CreateSelfSignedUnsupported(t *testing.T) {
	w := audit.NewMemoryWriter()
	a := NewACMEIssuer(ACMEConfig{}, &fakeACME{}, nil, WithAudit(w))

	out, err := a.CreateSelfSigned(context.Background(), pkicrypto.KeyRef{}, subject("x"), IssueOptions{})
	assert.Nil(t, out)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Equal(t, []audit.EventType{audit.EventIssuanceFailed}, eventTypes(w))
}

func TestU_ACME_InvalidCSR(t *testing.T) {
	client := &fakeACME{}
	a := NewACMEIssuer(ACMEConfig{}, client, nil)

	_, err := a.SignCert(context.Background(), []byte("not a csr"), pkicrypto.KeyRef{}, SignOptions{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, ErrInvalidCSR)
	assert.Empty(t, client.calls)
}

func TestU_ACME_Capabilities(t *testing.T) {
	caps := NewACMEIssuer(ACMEConfig{}, &fakeACME{}, &recordingSolver{types: []string{"dns-01"}}).Capabilities()
	assert.Equal(t, VariantACME, caps.Variant)
	assert.Contains(t, caps.Features, "alternate_chains")
	assert.Contains(t, caps.Features, "dns-01")
	assert.NotContains(t, caps.Features, "self_signed")
}

// =============================================================================
// [Unit] Order identifiers
// =============================================================================

func TestU_OrderIdentifiers(t *testing.T) {
	csrPEM := newCSR(t, pkicrypto.AlgEd25519, "198.51.100.4", CSROptions{
		SAN: &x509util.AltNameSpec{IP: []string{"198.51.100.4"}, DNS: []string{"Host.Example.com"}},
	})
	csr, err := x509util.ParseCSR(csrPEM)
	require.NoError(t, err)

	ids, err := orderIdentifiers(csr)
	require.NoError(t, err)
	assert.Equal(t, []acme.AuthzID{
		{Type: "ip", Value: "198.51.100.4"},
		{Type: "dns", Value: "host.example.com"},
	}, ids)
}
