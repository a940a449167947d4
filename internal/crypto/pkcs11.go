//go:build cgo

// This file implements HSM signing via PKCS#11.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"
)

// PKCS11Signer implements crypto.Signer with a private key held in a token.
// Sessions are acquired from the pool for each operation and released after.
type PKCS11Signer struct {
	pool      *sessionPool
	keyHandle pkcs11.ObjectHandle
	pub       crypto.PublicKey
	mu        sync.Mutex
	closed    bool
}

var _ crypto.Signer = (*PKCS11Signer)(nil)

// NewPKCS11Signer opens the key described by cfg.
func NewPKCS11Signer(cfg PKCS11Config) (*PKCS11Signer, error) {
	if cfg.ModulePath == "" {
		return nil, fmt.Errorf("PKCS#11 module path is required")
	}
	if cfg.KeyLabel == "" && cfg.KeyID == "" {
		return nil, fmt.Errorf("at least one of key_label or key_id is required")
	}

	slotID, err := findSlotID(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}

	pool, err := openPool(cfg.ModulePath, slotID, cfg.PIN)
	if err != nil {
		return nil, err
	}

	var (
		keyHandle pkcs11.ObjectHandle
		pub       crypto.PublicKey
	)
	err = pool.do(func(ctx *pkcs11.Ctx, session pkcs11.SessionHandle) error {
		var err error
		if keyHandle, err = findPrivateKey(ctx, session, cfg); err != nil {
			return fmt.Errorf("failed to find private key: %w", err)
		}
		if pub, err = extractPublicKey(ctx, session, keyHandle); err != nil {
			return fmt.Errorf("failed to extract public key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PKCS11Signer{
		pool:      pool,
		keyHandle: keyHandle,
		pub:       pub,
	}, nil
}

func findSlotID(cfg PKCS11Config) (uint, error) {
	if cfg.SlotID != nil {
		return *cfg.SlotID, nil
	}

	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return 0, fmt.Errorf("failed to load PKCS#11 module: %s", cfg.ModulePath)
	}
	defer ctx.Destroy()

	if err := ctx.Initialize(); err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			return 0, fmt.Errorf("failed to initialize: %w", err)
		}
	}
	// C_Finalize is process-wide; the pool finalizes the module on close.

	return findSlot(ctx, cfg)
}

func findSlot(ctx *pkcs11.Ctx, cfg PKCS11Config) (uint, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("no slots with tokens found")
	}

	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if cfg.TokenLabel != "" && info.Label == cfg.TokenLabel {
			return slot, nil
		}
		if cfg.TokenSerial != "" && info.SerialNumber == cfg.TokenSerial {
			return slot, nil
		}
	}

	if cfg.TokenLabel != "" {
		return 0, fmt.Errorf("token with label %q not found", cfg.TokenLabel)
	}
	if cfg.TokenSerial != "" {
		return 0, fmt.Errorf("token with serial %q not found", cfg.TokenSerial)
	}
	return slots[0], nil
}

func keyTemplate(class uint, cfg PKCS11Config) ([]*pkcs11.Attribute, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
	}
	if cfg.KeyLabel != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, cfg.KeyLabel))
	}
	if cfg.KeyID != "" {
		id, err := hex.DecodeString(cfg.KeyID)
		if err != nil {
			return nil, fmt.Errorf("invalid key_id hex: %w", err)
		}
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}
	return template, nil
}

func findPrivateKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, cfg PKCS11Config) (pkcs11.ObjectHandle, error) {
	template, err := keyTemplate(pkcs11.CKO_PRIVATE_KEY, cfg)
	if err != nil {
		return 0, err
	}

	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("failed to init find objects: %w", err)
	}
	defer func() { _ = ctx.FindObjectsFinal(session) }()

	objs, _, err := ctx.FindObjects(session, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to find objects: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("%w: private key not found", ErrKeyNotFound)
	}
	if len(objs) > 1 {
		return 0, fmt.Errorf("multiple keys found, please specify both key_label and key_id")
	}
	return objs[0], nil
}

func extractPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, keyHandle pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, keyHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key type: %w", err)
	}

	switch keyType := bytesToUint(attrs[0].Value); keyType {
	case pkcs11.CKK_EC:
		return extractECPublicKey(ctx, session, keyHandle)
	case pkcs11.CKK_RSA:
		return extractRSAPublicKey(ctx, session, keyHandle)
	default:
		return nil, fmt.Errorf("%w: PKCS#11 key type 0x%X", ErrUnsupportedKey, keyType)
	}
}

func extractECPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, keyHandle pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, keyHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get EC params: %w", err)
	}
	curve, err := parseECParams(attrs[0].Value)
	if err != nil {
		return nil, err
	}

	// Some tokens expose CKA_EC_POINT on the private key, others only on the
	// public object, some only as CKA_VALUE.
	var point []byte
	privAttrs, err := ctx.GetAttributeValue(session, keyHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err == nil && len(privAttrs[0].Value) > 0 {
		point = privAttrs[0].Value
	} else {
		pubHandle, findErr := findPublicKeyForPrivate(ctx, session, keyHandle)
		if findErr != nil {
			return nil, fmt.Errorf("failed to find public key and CKA_EC_POINT not on private key: %w", findErr)
		}
		pubAttrs, ecPointErr := ctx.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
		})
		if ecPointErr == nil && len(pubAttrs[0].Value) > 0 {
			point = pubAttrs[0].Value
		} else {
			valueAttrs, valueErr := ctx.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
				pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
			})
			if valueErr != nil {
				return nil, fmt.Errorf("failed to get EC point: ecPointErr=%v, valueErr=%w", ecPointErr, valueErr)
			}
			if pub, parseErr := x509.ParsePKIXPublicKey(valueAttrs[0].Value); parseErr == nil {
				if ecPub, ok := pub.(*ecdsa.PublicKey); ok {
					return ecPub, nil
				}
				return nil, fmt.Errorf("CKA_VALUE parsed but not ECDSA key")
			}
			point = valueAttrs[0].Value
		}
	}

	// CKA_EC_POINT is normally a DER OCTET STRING around 04||X||Y.
	var unwrapped []byte
	if rest, err := asn1.Unmarshal(point, &unwrapped); err == nil && len(rest) == 0 && len(unwrapped) > 0 && unwrapped[0] == 0x04 {
		point = unwrapped
	}

	//nolint:staticcheck // elliptic.Unmarshal is deprecated for ECDH but we need ECDSA
	x, y := elliptic.Unmarshal(curve, point)
	if x == nil {
		return nil, fmt.Errorf("failed to unmarshal EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func extractRSAPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, keyHandle pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	pubHandle, err := findPublicKeyForPrivate(ctx, session, keyHandle)
	if err != nil {
		return nil, err
	}

	attrs, err := ctx.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get RSA attributes: %w", err)
	}

	n := new(big.Int).SetBytes(attrs[0].Value)
	// CKA_PUBLIC_EXPONENT is a big-endian big integer, not CK_ULONG.
	e := int(new(big.Int).SetBytes(attrs[1].Value).Int64())
	return &rsa.PublicKey{N: n, E: e}, nil
}

func findPublicKeyForPrivate(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, privHandle pkcs11.ObjectHandle) (pkcs11.ObjectHandle, error) {
	attrs, err := ctx.GetAttributeValue(session, privHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get private key ID/label/type: %w", err)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_ID, attrs[0].Value),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, attrs[1].Value),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, attrs[2].Value),
	}

	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("failed to init find public key: %w", err)
	}
	defer func() { _ = ctx.FindObjectsFinal(session) }()

	objs, _, err := ctx.FindObjects(session, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to find public key: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("public key not found for private key")
	}
	return objs[0], nil
}

func parseECParams(params []byte) (elliptic.Curve, error) {
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, fmt.Errorf("failed to parse EC params OID: %w", err)
	}

	switch {
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}):
		return elliptic.P256(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 34}):
		return elliptic.P384(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 35}):
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: EC curve OID %v", ErrUnsupportedKey, oid)
	}
}

// bytesToUint decodes a CK_ULONG in native (little-endian) order. Not for
// big integer attributes such as CKA_PUBLIC_EXPONENT.
func bytesToUint(b []byte) uint {
	var result uint
	for i := len(b) - 1; i >= 0; i-- {
		result = result<<8 | uint(b[i])
	}
	return result
}

// Public returns the public key.
func (s *PKCS11Signer) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs digest in the token. *rsa.PSSOptions selects CKM_RSA_PKCS_PSS;
// other RSA options use CKM_RSA_PKCS over a DigestInfo.
func (s *PKCS11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("signer is closed")
	}

	var mech *pkcs11.Mechanism
	dataToSign := digest

	switch s.pub.(type) {
	case *ecdsa.PublicKey:
		mech = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	case *rsa.PublicKey:
		if pss, ok := opts.(*rsa.PSSOptions); ok {
			params, err := pssParams(pss.Hash)
			if err != nil {
				return nil, err
			}
			mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, params)
		} else {
			var err error
			if dataToSign, err = addDigestInfoPrefix(digest, opts.HashFunc()); err != nil {
				return nil, err
			}
			mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
		}
	default:
		return nil, ErrUnsupportedKey
	}

	var sig []byte
	err := s.pool.do(func(ctx *pkcs11.Ctx, session pkcs11.SessionHandle) error {
		if err := ctx.SignInit(session, []*pkcs11.Mechanism{mech}, s.keyHandle); err != nil {
			return fmt.Errorf("failed to init sign: %w", err)
		}
		var err error
		if sig, err = ctx.Sign(session, dataToSign); err != nil {
			return fmt.Errorf("failed to sign: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Tokens return ECDSA signatures as raw r||s.
	if _, ok := s.pub.(*ecdsa.PublicKey); ok {
		return convertECDSASignature(sig)
	}
	return sig, nil
}

func pssParams(hash crypto.Hash) ([]byte, error) {
	switch hash {
	case crypto.SHA256:
		return pkcs11.NewPSSParams(pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, 32), nil
	case crypto.SHA384:
		return pkcs11.NewPSSParams(pkcs11.CKM_SHA384, pkcs11.CKG_MGF1_SHA384, 48), nil
	case crypto.SHA512:
		return pkcs11.NewPSSParams(pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512, 64), nil
	}
	return nil, fmt.Errorf("%w: PSS with %v", ErrUnsupportedSignatureAlgorithm, hash)
}

// DigestInfo prefixes for PKCS#1 v1.5 signatures (RFC 8017)
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

func addDigestInfoPrefix(digest []byte, hash crypto.Hash) ([]byte, error) {
	prefix, ok := digestInfoPrefixes[hash]
	if !ok {
		return nil, fmt.Errorf("%w: PKCS#1 v1.5 with %v", ErrUnsupportedSignatureAlgorithm, hash)
	}
	result := make([]byte, len(prefix)+len(digest))
	copy(result, prefix)
	copy(result[len(prefix):], digest)
	return result, nil
}

func convertECDSASignature(rawSig []byte) ([]byte, error) {
	if len(rawSig) == 0 || len(rawSig)%2 != 0 {
		return nil, fmt.Errorf("invalid ECDSA signature length")
	}

	n := len(rawSig) / 2
	r := new(big.Int).SetBytes(rawSig[:n])
	s := new(big.Int).SetBytes(rawSig[n:])

	return asn1.Marshal(struct {
		R, S *big.Int
	}{r, s})
}

// Close marks the signer closed. The session pool is shared and is released
// by CloseAllPools.
func (s *PKCS11Signer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
