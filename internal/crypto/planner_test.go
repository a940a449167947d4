package crypto

import (
	"crypto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKeyPair(t *testing.T, alg AlgorithmID) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair(alg)
	require.NoError(t, err)
	return kp
}

// =============================================================================
// [Unit] Token Lookup
// =============================================================================

func TestU_LookupToken_Aliases(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"RS256", "RSA-SHA256"},
		{"rsa", "RSA-SHA256"},
		{"ps256", "RSA-PSS-SHA256"},
		{"rsassa_pss_sha384", "RSA-PSS-SHA384"},
		{"ES384", "ECDSA-P384-SHA384"},
		{"ecdsa", "ECDSA-P256-SHA256"},
		{"EdDSA", "Ed25519"},
		{"ed448", "Ed448"},
		{"  RSA-PSS-SHA512 ", "RSA-PSS-SHA512"},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			plan, err := LookupToken(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Token)
		})
	}
}

func TestU_LookupToken_Unknown(t *testing.T) {
	_, err := LookupToken("DSA-SHA1")
	assert.ErrorIs(t, err, ErrUnsupportedSignatureAlgorithm)
}

func TestU_Tokens_AllResolve(t *testing.T) {
	for _, tok := range Tokens() {
		plan, err := LookupToken(tok)
		require.NoError(t, err, tok)
		assert.Equal(t, tok, plan.Token)
	}
}

// =============================================================================
// [Unit] Plan Resolution
// =============================================================================

func TestU_InferPlan_PerKeyType(t *testing.T) {
	tests := []struct {
		alg   AlgorithmID
		token string
		hash  crypto.Hash
	}{
		{AlgRSA2048, "RSA-PSS-SHA256", crypto.SHA256},
		{AlgECDSAP256, "ECDSA-P256-SHA256", crypto.SHA256},
		{AlgECDSAP384, "ECDSA-P384-SHA384", crypto.SHA384},
		{AlgECDSAP521, "ECDSA-P521-SHA512", crypto.SHA512},
		{AlgEd25519, "Ed25519", 0},
		{AlgEd448, "Ed448", 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			kp := mustKeyPair(t, tt.alg)
			plan, err := InferPlan(kp.PublicKey)
			require.NoError(t, err)
			assert.Equal(t, tt.token, plan.Token)
			assert.Equal(t, tt.hash, plan.Hash)
		})
	}
}

func TestU_Plan_ExplicitTokenWins(t *testing.T) {
	kp := mustKeyPair(t, AlgRSA2048)
	ref := KeyRef{Tags: map[string]string{TagSigAlg: "RSA-SHA512"}}

	plan, err := Plan("RS384", ref, kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "RSA-SHA384", plan.Token)
	assert.Equal(t, SchemePKCS1v15, plan.Scheme)
}

func TestU_Plan_TagOrder(t *testing.T) {
	kp := mustKeyPair(t, AlgRSA2048)

	plan, err := Plan("", KeyRef{Tags: map[string]string{TagSigAlg: "PS512", TagAlg: "RS256"}}, kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "RSA-PSS-SHA512", plan.Token)

	plan, err = Plan("", KeyRef{Tags: map[string]string{TagAlg: "RS256"}}, kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "RSA-SHA256", plan.Token)
}

func TestU_Plan_KeyFromMaterial(t *testing.T) {
	kp := mustKeyPair(t, AlgECDSAP384)
	der, err := MarshalPKCS8PrivateKey(kp.PrivateKey)
	require.NoError(t, err)

	plan, err := Plan("", KeyRef{Material: der}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ECDSA-P384-SHA384", plan.Token)
	assert.Equal(t, "P-384", plan.Curve)
}

func TestU_Plan_EdDSAFollowsCurve(t *testing.T) {
	kp := mustKeyPair(t, AlgEd448)
	plan, err := Plan("EdDSA", KeyRef{}, kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, Ed448, plan.EdDSA)
	assert.Equal(t, FamilyEd448, plan.Family())
}

func TestU_Plan_KeyMismatch(t *testing.T) {
	tests := []struct {
		name  string
		alg   AlgorithmID
		token string
	}{
		{"RSA token on EC key", AlgECDSAP256, "RS256"},
		{"ECDSA token on RSA key", AlgRSA2048, "ES256"},
		{"curve mismatch", AlgECDSAP256, "ES384"},
		{"Ed25519 token on Ed448 key", AlgEd448, "Ed25519"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp := mustKeyPair(t, tt.alg)
			_, err := Plan(tt.token, KeyRef{}, kp.PublicKey)
			assert.ErrorIs(t, err, ErrKeyMismatch)
		})
	}
}

func TestU_Plan_NoKeyNoToken(t *testing.T) {
	_, err := Plan("", KeyRef{Kid: "remote"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestU_Plan_TokenWithoutKey(t *testing.T) {
	plan, err := Plan("ES256", KeyRef{Kid: "remote"}, nil)
	require.NoError(t, err)
	assert.Equal(t, SchemeECDSA, plan.Scheme)
}

// =============================================================================
// [Unit] Plan Helpers
// =============================================================================

func TestU_SignaturePlan_Digest(t *testing.T) {
	msg := []byte("tbs")
	rsaPlan, _ := LookupToken("RS256")
	assert.Len(t, rsaPlan.Digest(msg), 32)
	assert.Equal(t, "sha256", rsaPlan.HashName())

	edPlan, _ := LookupToken("Ed25519")
	assert.Equal(t, msg, edPlan.Digest(msg))
	assert.Empty(t, edPlan.HashName())
}

func TestU_SignaturePlan_SignerOpts(t *testing.T) {
	pss, _ := LookupToken("PS384")
	opts := pss.SignerOpts()
	assert.Equal(t, crypto.SHA384, opts.HashFunc())
	assert.Equal(t, PSSOptions(crypto.SHA384), opts)

	ed, _ := LookupToken("Ed448")
	assert.Equal(t, crypto.Hash(0), ed.SignerOpts().HashFunc())
}
