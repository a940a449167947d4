package ca

import (
	"bytes"
	"context"
	"crypto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/remiblancher/certengine/internal/audit"
	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
)

// newIntermediate issues a CA certificate for a fresh key under parent.
func newIntermediate(t *testing.T, parent testCA, alg pkicrypto.AlgorithmID, cn string) testCA {
	t.Helper()
	key, _ := testKeyRef(t, alg)
	csr, err := CreateCSR(context.Background(), key, subject(cn), CSROptions{})
	require.NoError(t, err)
	pathLen := 0
	cert, err := parent.issuer.SignCert(context.Background(), csr, parent.key, SignOptions{
		CACert: parent.cert,
		IssueOptions: IssueOptions{Extensions: &x509util.ExtensionSpec{
			BasicConstraints: &x509util.BasicConstraintsSpec{CA: true, PathLen: &pathLen},
			KeyUsage:         &x509util.KeyUsageSpec{KeyCertSign: true, CRLSign: true},
		}},
	})
	require.NoError(t, err)
	return testCA{key: key, cert: cert, issuer: NewLocalIssuer(LocalConfig{}, nil)}
}

// threeLevels returns root, intermediate and a leaf issued by the
// intermediate.
func threeLevels(t *testing.T) (root, inter testCA, leaf []byte) {
	t.Helper()
	root = newTestCA(t, pkicrypto.AlgECDSAP384, "Three Level Root")
	inter = newIntermediate(t, root, pkicrypto.AlgECDSAP256, "Three Level Issuing CA")
	leaf = inter.sign(t, "deep.example.com", SignOptions{})
	return root, inter, leaf
}

// =============================================================================
// [Unit] Verify: valid chains
// =============================================================================

func TestU_Verify_RSAChain(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgRSA2048, "RSA Root")
	leaf := root.sign(t, "rsa-leaf.example.com", SignOptions{})

	res, err := VerifyCert(context.Background(), leaf, VerifyOptions{TrustRoots: [][]byte{root.cert}})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 2, res.ChainLen)
	assert.False(t, res.IsCA)
	assert.Equal(t, "CN=rsa-leaf.example.com,O=Example Org,C=FR", res.Subject)
	assert.Equal(t, "CN=RSA Root,O=Example Org,C=FR", res.Issuer)
	assert.False(t, res.RevocationRequested)
	assert.Nil(t, res.Revocation)
}

func TestU_Verify_Ed448Chain(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgEd448, "Ed448 Root")
	leaf := root.sign(t, "ed448.example.com", SignOptions{})

	res, err := VerifyCert(context.Background(), leaf, VerifyOptions{TrustRoots: [][]byte{root.cert}})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, 2, res.ChainLen)
}

func TestU_Verify_ThreeLevels(t *testing.T) {
	root, inter, leaf := threeLevels(t)

	res, err := VerifyCert(context.Background(), leaf, VerifyOptions{
		TrustRoots:    [][]byte{root.cert},
		Intermediates: [][]byte{inter.cert},
	})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, 3, res.ChainLen)
}

func TestU_Verify_BundledIntermediates(t *testing.T) {
	root, inter, leaf := threeLevels(t)
	bundle := append(append([]byte{}, leaf...), inter.cert...)

	res, err := VerifyCert(context.Background(), bundle, VerifyOptions{TrustRoots: [][]byte{root.cert}})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, 3, res.ChainLen)
	assert.Equal(t, "CN=deep.example.com,O=Example Org,C=FR", res.Subject, "the first certificate is the leaf")
}

func TestU_Verify_DuplicateIntermediatesIgnored(t *testing.T) {
	root, inter, leaf := threeLevels(t)

	res, err := VerifyCert(context.Background(), leaf, VerifyOptions{
		TrustRoots:    [][]byte{root.cert, root.cert},
		Intermediates: [][]byte{inter.cert, inter.cert, root.cert},
	})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, 3, res.ChainLen)
}

func TestU_Verify_RootAsLeaf(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgEd25519, "Lonely Root")

	res, err := VerifyCert(context.Background(), root.cert, VerifyOptions{TrustRoots: [][]byte{root.cert}})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, res.ChainLen)
	assert.True(t, res.IsCA)
}

func TestU_Verify_SelfSignedWithoutRoots(t *testing.T) {
	key, _ := testKeyRef(t, pkicrypto.AlgECDSAP256)
	cert, err := NewLocalIssuer(LocalConfig{}, nil).CreateSelfSigned(context.Background(), key, subject("self"), IssueOptions{})
	require.NoError(t, err)

	res, err := VerifyCert(context.Background(), cert, VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonUntrustedWithoutRoots, res.Reason)

	res, err = VerifyCert(context.Background(), cert, VerifyOptions{AllowSelfSignedWithoutRoots: true})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, res.ChainLen)

	res, err = NewVerifier(VerifyConfig{AllowSelfSignedWithoutRoots: true}).Verify(context.Background(), cert, VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, res.Valid, "configured default applies")
}

// =============================================================================
// [Unit] Verify: invalid chains
// =============================================================================

func TestU_Verify_ValidityWindow(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgECDSAP256, "Time Root")
	leaf := root.sign(t, "time.example.com", SignOptions{})
	cert := mustParseCert(t, leaf)

	before := cert.NotBefore.Add(-time.Second)
	after := cert.NotAfter.Add(time.Second)
	edge := cert.NotAfter

	tests := []struct {
		name   string
		at     time.Time
		valid  bool
		reason Reason
	}{
		{"before not_before", before, false, ReasonNotYetValid},
		{"after not_after", after, false, ReasonExpired},
		{"at not_after", edge, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			res, err := VerifyCert(context.Background(), leaf, VerifyOptions{TrustRoots: [][]byte{root.cert}, CheckTime: &at})
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, cert.NotAfter.Unix(), res.NotAfter, "leaf details are reported either way")
			if !tt.valid {
				assert.Zero(t, res.ChainLen)
			}
		})
	}
}

func TestU_Verify_ChainFailures(t *testing.T) {
	root, inter, leaf := threeLevels(t)
	other := newTestCA(t, pkicrypto.AlgECDSAP384, "Three Level Root")

	tampered := mustParseCert(t, leaf).Raw
	tampered = append([]byte{}, tampered...)
	tampered[len(tampered)-1] ^= 0x01

	tests := []struct {
		name   string
		cert   []byte
		opts   VerifyOptions
		reason Reason
	}{
		{
			name:   "missing intermediate",
			cert:   leaf,
			opts:   VerifyOptions{TrustRoots: [][]byte{root.cert}},
			reason: ReasonIncompleteChain,
		},
		{
			name:   "no roots",
			cert:   leaf,
			opts:   VerifyOptions{Intermediates: [][]byte{inter.cert}},
			reason: ReasonUntrustedWithoutRoots,
		},
		{
			name:   "too long",
			cert:   leaf,
			opts:   VerifyOptions{TrustRoots: [][]byte{root.cert}, Intermediates: [][]byte{inter.cert}, MaxDepth: 2},
			reason: ReasonChainTooLong,
		},
		{
			name:   "tampered leaf signature",
			cert:   tampered,
			opts:   VerifyOptions{TrustRoots: [][]byte{root.cert}, Intermediates: [][]byte{inter.cert}},
			reason: ReasonInvalidSignature,
		},
		{
			name:   "root with the same name but another key",
			cert:   leaf,
			opts:   VerifyOptions{TrustRoots: [][]byte{other.cert}, Intermediates: [][]byte{inter.cert}},
			reason: ReasonInvalidSignature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := VerifyCert(context.Background(), tt.cert, tt.opts)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Zero(t, res.ChainLen)
			assert.Equal(t, "CN=deep.example.com,O=Example Org,C=FR", res.Subject)
		})
	}
}

func TestU_Verify_MaxDepthExact(t *testing.T) {
	root, inter, leaf := threeLevels(t)
	res, err := VerifyCert(context.Background(), leaf, VerifyOptions{
		TrustRoots: [][]byte{root.cert}, Intermediates: [][]byte{inter.cert}, MaxDepth: 3,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestU_Verify_MalformedInput(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgECDSAP256, "Root")
	leaf := root.sign(t, "x.example.com", SignOptions{})

	tests := []struct {
		name  string
		cert  []byte
		opts  VerifyOptions
		field string
	}{
		{"garbage leaf", []byte("garbage"), VerifyOptions{}, "cert"},
		{"empty leaf", nil, VerifyOptions{}, "cert"},
		{"garbage root", leaf, VerifyOptions{TrustRoots: [][]byte{root.cert, []byte("nope")}}, "trust_roots[1]"},
		{"garbage intermediate", leaf, VerifyOptions{Intermediates: [][]byte{[]byte("nope")}}, "intermediates[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := VerifyCert(context.Background(), tt.cert, tt.opts)
			assert.Nil(t, res)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestU_Verify_CanceledContext(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgECDSAP256, "Root")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := VerifyCert(ctx, root.cert, VerifyOptions{TrustRoots: [][]byte{root.cert}})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// [Unit] Verify: revocation hint and audit
// =============================================================================

func TestU_Verify_RevocationHint(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgECDSAP256, "OCSP Root")
	aia, err := x509util.MarshalAuthorityInfoAccess([]string{"http://ocsp.example.com"}, []string{"http://ca.example.com/root.crt"})
	require.NoError(t, err)
	leaf := root.sign(t, "ocsp.example.com", SignOptions{IssueOptions: IssueOptions{Extensions: &x509util.ExtensionSpec{
		BasicConstraints: &x509util.BasicConstraintsSpec{},
		Extra:            []x509util.ExtraExtension{{OID: aia.Id.String(), Value: aia.Value}},
	}}})

	res, err := VerifyCert(context.Background(), leaf, VerifyOptions{TrustRoots: [][]byte{root.cert}, CheckRevocation: true})
	require.NoError(t, err)
	require.True(t, res.Valid, res.Reason)
	assert.True(t, res.RevocationRequested)
	assert.False(t, res.RevocationChecked)
	require.NotNil(t, res.Revocation)
	assert.Equal(t, "http://ocsp.example.com", res.Revocation.OCSPServer)

	req, err := ocsp.ParseRequest(res.Revocation.Request)
	require.NoError(t, err)
	assert.Equal(t, crypto.SHA256, req.HashAlgorithm)
	assert.Equal(t, 0, mustParseCert(t, leaf).SerialNumber.Cmp(req.SerialNumber))
}

func TestU_Verify_RevocationHintNeedsResponder(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgECDSAP256, "Root")
	leaf := root.sign(t, "plain.example.com", SignOptions{})

	res, err := NewVerifier(VerifyConfig{CheckRevocation: true}).Verify(context.Background(), leaf, VerifyOptions{TrustRoots: [][]byte{root.cert}})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.RevocationRequested)
	assert.Nil(t, res.Revocation)
}

func TestU_Verify_Audit(t *testing.T) {
	w := audit.NewMemoryWriter()
	v := NewVerifier(VerifyConfig{}, WithAudit(w))
	root := newTestCA(t, pkicrypto.AlgECDSAP256, "Root")
	leaf := root.sign(t, "audit.example.com", SignOptions{})

	_, err := v.Verify(context.Background(), leaf, VerifyOptions{TrustRoots: [][]byte{root.cert}})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), leaf, VerifyOptions{})
	require.NoError(t, err)

	events := w.Events()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventChainVerified, events[0].EventType)
	assert.Equal(t, audit.ResultSuccess, events[0].Result)
	assert.Equal(t, 2, events[0].Context.ChainLen)
	assert.Equal(t, audit.ResultFailure, events[1].Result)
	assert.Equal(t, string(ReasonUntrustedWithoutRoots), events[1].Context.Reason)

	_, err = NewVerifier(VerifyConfig{}, WithAudit(failingAudit{})).Verify(context.Background(), leaf, VerifyOptions{})
	assert.Error(t, err)
}

func TestU_CertPool_Dedup(t *testing.T) {
	root := newTestCA(t, pkicrypto.AlgEd25519, "Root")
	p := newCertPool()
	require.NoError(t, p.addAll("trust_roots", [][]byte{root.cert, bytes.Clone(root.cert)}))
	assert.Equal(t, 1, p.n)
	assert.False(t, p.empty())
}
