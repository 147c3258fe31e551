package provider

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Pedersen commitments on BN254 G1: C = v*G + r*H.
// H is hashed to the curve so nobody knows log_G(H).
var (
	pedersenG bn254.G1Affine
	pedersenH bn254.G1Affine
)

func init() {
	_, _, g1, _ := bn254.Generators()
	pedersenG = g1

	h, err := bn254.HashToG1([]byte("ars pedersen generator H"), []byte("ARS-PEDERSEN-BN254-V1"))
	if err != nil {
		panic(fmt.Sprintf("derive pedersen H: %v", err))
	}
	pedersenH = h
}

func commit(value uint64, blinding *fr.Element) bn254.G1Affine {
	var vG, rH, c bn254.G1Affine
	vG.ScalarMultiplication(&pedersenG, new(big.Int).SetUint64(value))
	rH.ScalarMultiplication(&pedersenH, blinding.BigInt(new(big.Int)))
	c.Add(&vG, &rH)
	return c
}

func randomBlinding() (*fr.Element, error) {
	var r fr.Element
	if _, err := r.SetRandom(); err != nil {
		return nil, fmt.Errorf("random blinding: %w", err)
	}
	return &r, nil
}

func decodeBlinding(b []byte) (*fr.Element, error) {
	if len(b) != fr.Bytes {
		return nil, ErrInvalidBlinding
	}
	var r fr.Element
	if err := r.SetBytesCanonical(b); err != nil {
		return nil, ErrInvalidBlinding
	}
	return &r, nil
}

func encodeBlinding(r *fr.Element) []byte {
	b := r.Bytes()
	return b[:]
}

func encodeCommitment(c *bn254.G1Affine) string {
	b := c.Bytes()
	return hex.EncodeToString(b[:])
}

func decodeCommitment(s string) (*bn254.G1Affine, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, ErrInvalidCommitment
	}
	var c bn254.G1Affine
	if _, err := c.SetBytes(raw); err != nil {
		return nil, ErrInvalidCommitment
	}
	return &c, nil
}

// combine applies op to two commitments and their blinding factors.
func combine(op CombineOp, a, b *bn254.G1Affine, ra, rb *fr.Element) (bn254.G1Affine, fr.Element, error) {
	var (
		c bn254.G1Affine
		r fr.Element
	)
	switch op {
	case CombineAdd:
		c.Add(a, b)
		r.Add(ra, rb)
	case CombineSub:
		var negB bn254.G1Affine
		negB.Neg(b)
		c.Add(a, &negB)
		r.Sub(ra, rb)
	default:
		return c, r, fmt.Errorf("%w: unknown op %q", ErrInvalidCombine, op)
	}
	return c, r, nil
}
