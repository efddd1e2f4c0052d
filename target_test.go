package main

import (
	"math/big"
	"strings"
	"testing"
)

func TestTargetFromWireHexPadsLittleEndian(t *testing.T) {
	tgt, err := targetFromWireHex("f3220000")
	if err != nil {
		t.Fatalf("targetFromWireHex: %v", err)
	}
	want := "000022f3" + strings.Repeat("f", 56)
	if got := targetHex(tgt); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	diff := difficultyFromTarget(tgt)
	if diff < 479990 || diff > 479993 {
		t.Fatalf("difficulty=%f", diff)
	}
}

func TestTargetFromWireHexRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "abc", "zz", strings.Repeat("ff", 33)} {
		if _, err := targetFromWireHex(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestHashMeetsTargetIsStrict(t *testing.T) {
	tgt, err := targetFromWireHex("f3220000")
	if err != nil {
		t.Fatalf("targetFromWireHex: %v", err)
	}

	var zero [32]byte
	if !hashMeetsTarget(zero, tgt) {
		t.Fatalf("zero hash must qualify")
	}

	var ones [32]byte
	for i := range ones {
		ones[i] = 0xff
	}
	if hashMeetsTarget(ones, tgt) {
		t.Fatalf("all-ones hash must not qualify")
	}

	equal := targetBytes(tgt)
	reverseBytes32(&equal)
	if hashMeetsTarget(equal, tgt) {
		t.Fatalf("hash equal to target must not qualify")
	}

	below := new(big.Int).Sub(tgt, big.NewInt(1))
	justBelow := targetBytes(below)
	reverseBytes32(&justBelow)
	if !hashMeetsTarget(justBelow, tgt) {
		t.Fatalf("hash one below target must qualify")
	}
}

func TestTargetFromDifficulty(t *testing.T) {
	if got := targetFromDifficulty(1); got.Cmp(diff1Target) != 0 {
		t.Fatalf("difficulty 1: got %s", targetHex(got))
	}
	if got := targetFromDifficulty(0); got.Cmp(maxUint256) != 0 {
		t.Fatalf("difficulty 0 should be the easiest target, got %s", targetHex(got))
	}
	half := targetFromDifficulty(2)
	want := new(big.Int).Rsh(diff1Target, 1)
	if half.Cmp(want) != 0 {
		t.Fatalf("difficulty 2: got %s want %s", targetHex(half), targetHex(want))
	}
	easy := targetFromDifficulty(1.0 / 65536)
	if easy.Cmp(diff1Target) <= 0 {
		t.Fatalf("fractional difficulty should loosen the target")
	}
}

func TestShareDifficultyByVariant(t *testing.T) {
	// A hash exactly at diff1 scores difficulty 1 in mining units.
	h := targetBytes(diff1Target)
	reverseBytes32(&h)
	if got := shareDifficulty(h, variantMining); got < 0.999 || got > 1.001 {
		t.Fatalf("mining difficulty=%f want 1", got)
	}
	var zero [32]byte
	if got := shareDifficulty(zero, variantLogin); got != 0 {
		t.Fatalf("zero hash difficulty=%f", got)
	}
}
