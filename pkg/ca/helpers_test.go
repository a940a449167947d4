package ca

import (
	"context"
	"crypto"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/remiblancher/certengine/internal/audit"
	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
	"github.com/remiblancher/certengine/internal/x509util"
)

// testKeyRef generates a key and returns it as a KeyRef carrying PEM
// material, along with the signer.
func testKeyRef(t *testing.T, alg pkicrypto.AlgorithmID) (pkicrypto.KeyRef, crypto.Signer) {
	t.Helper()
	kp, err := pkicrypto.GenerateKeyPair(alg)
	require.NoError(t, err)
	pemKey, err := pkicrypto.MarshalPrivateKeyPEM(kp.PrivateKey, nil)
	require.NoError(t, err)
	return pkicrypto.KeyRef{Material: pemKey}, kp.PrivateKey
}

func subject(cn string) x509util.SubjectSpec {
	return x509util.SubjectSpec{CN: cn, O: "Example Org", C: "FR"}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustParseCert(t *testing.T, data []byte) *x509util.Certificate {
	t.Helper()
	ders, err := x509util.DecodeCertificates(data)
	require.NoError(t, err)
	c, err := x509util.ParseCertificate(ders[0])
	require.NoError(t, err)
	return c
}

// newCSR builds a PEM CSR for a fresh key.
func newCSR(t *testing.T, alg pkicrypto.AlgorithmID, cn string, opts CSROptions) []byte {
	t.Helper()
	key, _ := testKeyRef(t, alg)
	csr, err := CreateCSR(context.Background(), key, subject(cn), opts)
	require.NoError(t, err)
	return csr
}

// testCA holds a self-signed CA issued by a LocalIssuer.
type testCA struct {
	key    pkicrypto.KeyRef
	cert   []byte
	issuer *LocalIssuer
}

func newTestCA(t *testing.T, alg pkicrypto.AlgorithmID, cn string, opts ...Option) testCA {
	t.Helper()
	key, _ := testKeyRef(t, alg)
	issuer := NewLocalIssuer(LocalConfig{}, nil, opts...)
	pathLen := 1
	cert, err := issuer.CreateSelfSigned(context.Background(), key, subject(cn), IssueOptions{
		Extensions: &x509util.ExtensionSpec{
			BasicConstraints: &x509util.BasicConstraintsSpec{CA: true, PathLen: &pathLen},
			KeyUsage:         &x509util.KeyUsageSpec{KeyCertSign: true, CRLSign: true},
		},
	})
	require.NoError(t, err)
	return testCA{key: key, cert: cert, issuer: issuer}
}

// sign issues a leaf for a fresh CSR.
func (ca testCA) sign(t *testing.T, cn string, opts SignOptions) []byte {
	t.Helper()
	csr := newCSR(t, pkicrypto.AlgECDSAP256, cn, CSROptions{SAN: &x509util.AltNameSpec{DNS: []string{cn}}})
	opts.CACert = ca.cert
	cert, err := ca.issuer.SignCert(context.Background(), csr, ca.key, opts)
	require.NoError(t, err)
	return cert
}

func eventTypes(w *audit.MemoryWriter) []audit.EventType {
	var out []audit.EventType
	for _, e := range w.Events() {
		out = append(out, e.EventType)
	}
	return out
}
