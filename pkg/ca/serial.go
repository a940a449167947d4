package ca

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// randomSerial returns a uniform serial in [1, 2^bits).
func randomSerial(r io.Reader, bits int) (*big.Int, error) {
	if bits < 1 || bits > 159 {
		return nil, fmt.Errorf("serial bits must be within [1, 159], got %d", bits)
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	limit.Sub(limit, big.NewInt(1))
	n, err := rand.Int(r, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}
	return n.Add(n, big.NewInt(1)), nil
}

// randomSerial160 draws 20 bytes and clears the top bit so the DER INTEGER
// stays positive and within 20 octets.
func randomSerial160(r io.Reader) (*big.Int, error) {
	for {
		var b [20]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("failed to generate serial: %w", err)
		}
		b[0] &= 0x7f
		if n := new(big.Int).SetBytes(b[:]); n.Sign() > 0 {
			return n, nil
		}
	}
}
