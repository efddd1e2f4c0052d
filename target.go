package main

import (
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"

	fasthex "github.com/tmthrgd/go-hex"
)

// Byte-order convention used throughout this file:
//
//	Wire targets (login protocol) are little-endian hex, often truncated to
//	4 or 8 bytes. They are reversed to big-endian and right-padded with 'f'
//	to 64 hex digits before parsing.
//
//	Hash outputs are little-endian 256-bit numbers. They are reversed to
//	big-endian before comparison.
//
//	A hash qualifies only when hash < target. Equal does not qualify.

const targetHexDigits = 64

var diff1Target = func() *big.Int {
	n, _ := new(big.Int).SetString("00000000FFFF0000000000000000000000000000000000000000000000000000", 16)
	return n
}()

// maxUint256 is 2^256-1, the easiest possible target.
var maxUint256 = func() *big.Int {
	n := new(big.Int).Lsh(big.NewInt(1), 256)
	return n.Sub(n, big.NewInt(1))
}()

// targetFromWireHex converts a little-endian pool target into the big-endian
// comparison target.
func targetFromWireHex(wire string) (*big.Int, error) {
	wire = strings.TrimSpace(strings.TrimPrefix(wire, "0x"))
	if wire == "" {
		return nil, fmt.Errorf("empty target")
	}
	if len(wire)%2 != 0 {
		return nil, fmt.Errorf("target %q has odd length", wire)
	}
	if len(wire) > targetHexDigits {
		return nil, fmt.Errorf("target %q longer than 256 bits", wire)
	}
	raw, err := fasthex.DecodeString(wire)
	if err != nil {
		return nil, fmt.Errorf("decode target: %w", err)
	}
	be := fasthex.EncodeToString(reverseBytes(raw))
	be += strings.Repeat("f", targetHexDigits-len(be))
	t, ok := new(big.Int).SetString(be, 16)
	if !ok {
		return nil, fmt.Errorf("parse target %q", be)
	}
	if t.Sign() == 0 {
		return nil, fmt.Errorf("zero target")
	}
	return t, nil
}

// targetHex renders a comparison target as 64 big-endian hex digits.
func targetHex(t *big.Int) string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("%064x", t)
}

// difficultyFromTarget returns (2^256-1)/target.
func difficultyFromTarget(t *big.Int) float64 {
	if t == nil || t.Sign() <= 0 {
		return 0
	}
	q := new(big.Int).Quo(maxUint256, t)
	f, _ := new(big.Float).SetInt(q).Float64()
	return f
}

// targetFromDifficulty converts a mining.set_difficulty value into the
// comparison target diff1Target/diff, clamped to [1, 2^256-1].
func targetFromDifficulty(diff float64) *big.Int {
	if diff <= 0 {
		return new(big.Int).Set(maxUint256)
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(diff, 'g', -1, 64))
	if !ok || r.Sign() <= 0 {
		return new(big.Int).Set(maxUint256)
	}
	target := new(big.Rat).SetInt(diff1Target)
	target.Quo(target, r)
	tgt := new(big.Int).Quo(target.Num(), target.Denom())
	if tgt.Sign() == 0 {
		tgt.SetInt64(1)
	}
	if tgt.Cmp(maxUint256) > 0 {
		tgt.Set(maxUint256)
	}
	return tgt
}

// hashMeetsTarget reports whether a little-endian hash is strictly below the
// big-endian target.
func hashMeetsTarget(hash [32]byte, target *big.Int) bool {
	if target == nil || target.Sign() <= 0 || target.BitLen() > 256 {
		return false
	}
	tb := targetBytes(target)
	return hashBelowTarget(&hash, &tb)
}

// targetBytes renders a target as 32 big-endian bytes for the hot loop.
func targetBytes(target *big.Int) [32]byte {
	var out [32]byte
	if target == nil || target.Sign() <= 0 {
		return out
	}
	if target.BitLen() > 256 {
		target = maxUint256
	}
	target.FillBytes(out[:])
	return out
}

// hashBelowTarget compares a little-endian hash against a big-endian target
// without allocating: hash byte 31 is the most significant.
func hashBelowTarget(hash *[32]byte, target *[32]byte) bool {
	for i := 0; i < 32; i++ {
		h := hash[31-i]
		t := target[i]
		if h != t {
			return h < t
		}
	}
	return false
}

// shareDifficulty is the difficulty a little-endian hash would satisfy in
// the given dialect's units.
func shareDifficulty(hash [32]byte, variant protocolVariant) float64 {
	reverseBytes32(&hash)
	h := new(big.Int).SetBytes(hash[:])
	if h.Sign() == 0 {
		return 0
	}
	if variant == variantMining {
		f, _ := new(big.Rat).SetFrac(diff1Target, h).Float64()
		return f
	}
	return difficultyFromTarget(h)
}

func reverseBytes(in []byte) []byte {
	out := append([]byte(nil), in...)
	slices.Reverse(out)
	return out
}

func reverseBytes32(b *[32]byte) {
	for i := 0; i < 16; i++ {
		b[i], b[31-i] = b[31-i], b[i]
	}
}
