package main

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const genesisHash = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"

func TestSerializeHeaderGenesis(t *testing.T) {
	merkle, err := chainhash.NewHashFromStr("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")
	if err != nil {
		t.Fatalf("merkle: %v", err)
	}
	hdr, err := serializeHeader(1, chainhash.Hash{}, *merkle, 1231006505, 0x1d00ffff, 0)
	if err != nil {
		t.Fatalf("serializeHeader: %v", err)
	}
	setHeaderNonce(&hdr, 2083236893)

	sum := doubleSHA256(hdr[:])
	if got := chainhash.Hash(sum).String(); got != genesisHash {
		t.Fatalf("genesis hash=%s want %s", got, genesisHash)
	}
	if !hashMeetsTarget(sum, targetFromDifficulty(1)) {
		t.Fatalf("genesis hash should meet difficulty 1")
	}
}

func TestStratumPrevHashSwapsWords(t *testing.T) {
	in := "00010203" + "04050607" + "08090a0b" + "0c0d0e0f" + "10111213" + "14151617" + "18191a1b" + "1c1d1e1f"
	h, err := stratumPrevHash(in)
	if err != nil {
		t.Fatalf("stratumPrevHash: %v", err)
	}
	got := hex.EncodeToString(h[:])
	want := "03020100" + "07060504" + "0b0a0908" + "0f0e0d0c" + "13121110" + "17161514" + "1b1a1918" + "1f1e1d1c"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, err := stratumPrevHash("abcd"); err == nil {
		t.Fatalf("expected error for short prevhash")
	}
}

func TestMerkleRootWithoutBranchIsCoinbaseHash(t *testing.T) {
	job := &Job{
		ID:              "j1",
		Variant:         variantMining,
		PrevHash:        "00000000000000000000000000000000000000000000000000000000000000ff",
		Coinbase1:       "01000000",
		Coinbase2:       "ffffffff",
		Version:         "20000000",
		Bits:            "1d00ffff",
		NTime:           "5f5e1000",
		ExtraNonce1:     "aabbccdd",
		ExtraNonce2Size: 4,
	}
	w, err := newHeaderWork(job)
	if err != nil {
		t.Fatalf("newHeaderWork: %v", err)
	}
	en2 := extraNonce2Bytes(7, 4)
	if hex.EncodeToString(en2) != "00000007" {
		t.Fatalf("extranonce2=%x", en2)
	}
	coinbase, _ := hex.DecodeString("01000000" + "aabbccdd" + "00000007" + "ffffffff")
	want := chainhash.Hash(doubleSHA256(coinbase))
	if got := w.merkleRoot(en2); got != want {
		t.Fatalf("merkle root=%s want %s", got, want)
	}
	hdr, err := w.header(want)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if hex.EncodeToString(hdr[0:4]) != "00000020" {
		t.Fatalf("version not little-endian: %x", hdr[0:4])
	}
	if hex.EncodeToString(hdr[72:76]) != "ffff001d" {
		t.Fatalf("bits not little-endian: %x", hdr[72:76])
	}
}

func TestNewHeaderWorkRejectsBadFields(t *testing.T) {
	base := Job{
		Variant:     variantMining,
		PrevHash:    "00000000000000000000000000000000000000000000000000000000000000ff",
		Coinbase1:   "01",
		Coinbase2:   "02",
		Version:     "20000000",
		Bits:        "1d00ffff",
		NTime:       "5f5e1000",
		ExtraNonce1: "00",
	}
	bad := base
	bad.Bits = "1d00"
	if _, err := newHeaderWork(&bad); err == nil {
		t.Fatalf("expected error for short nbits")
	}
	bad = base
	bad.MerkleBranch = []string{"00"}
	if _, err := newHeaderWork(&bad); err == nil {
		t.Fatalf("expected error for short merkle branch")
	}
	bad = base
	bad.Variant = variantLogin
	if _, err := newHeaderWork(&bad); err == nil {
		t.Fatalf("expected error for flat-blob job")
	}
}
