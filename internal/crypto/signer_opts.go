package crypto

import (
	"crypto"
	"crypto/rsa"
)

// SignerOpts returns the crypto.SignerOpts for the plan. RSA-PSS uses a salt
// as long as the hash and MGF1 over the same hash.
func (p SignaturePlan) SignerOpts() crypto.SignerOpts {
	switch p.Scheme {
	case SchemePSS:
		return PSSOptions(p.Hash)
	case SchemeEdDSA:
		return crypto.Hash(0)
	default:
		return p.Hash
	}
}

// PSSOptions returns RSA-PSS options with salt length equal to the hash.
func PSSOptions(hash crypto.Hash) *rsa.PSSOptions {
	return &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       hash,
	}
}
