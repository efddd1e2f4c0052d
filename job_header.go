package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	fasthex "github.com/tmthrgd/go-hex"
)

const blockHeaderSize = 80

// headerWork is a header job decoded once per worker: the coinbase halves,
// merkle branch and the fixed header fields. Only extranonce2 and the nonce
// change while hashing.
type headerWork struct {
	coinbase1   []byte
	extraNonce1 []byte
	coinbase2   []byte
	branch      []chainhash.Hash
	prevBlock   chainhash.Hash
	version     int32
	bits        uint32
	ntime       uint32
	en2Size     int
}

func newHeaderWork(job *Job) (*headerWork, error) {
	if job == nil || job.Variant != variantMining {
		return nil, fmt.Errorf("not a header job")
	}
	w := &headerWork{en2Size: job.ExtraNonce2Size}
	if w.en2Size <= 0 {
		w.en2Size = defaultExtranonce2Size
	}
	var err error
	if w.coinbase1, err = fasthex.DecodeString(job.Coinbase1); err != nil {
		return nil, fmt.Errorf("decode coinb1: %w", err)
	}
	if w.coinbase2, err = fasthex.DecodeString(job.Coinbase2); err != nil {
		return nil, fmt.Errorf("decode coinb2: %w", err)
	}
	if w.extraNonce1, err = fasthex.DecodeString(job.ExtraNonce1); err != nil {
		return nil, fmt.Errorf("decode extranonce1: %w", err)
	}
	w.branch = make([]chainhash.Hash, len(job.MerkleBranch))
	for i, b := range job.MerkleBranch {
		raw, err := fasthex.DecodeString(b)
		if err != nil || len(raw) != chainhash.HashSize {
			return nil, fmt.Errorf("decode merkle branch %d: bad hash %q", i, b)
		}
		copy(w.branch[i][:], raw)
	}
	if w.prevBlock, err = stratumPrevHash(job.PrevHash); err != nil {
		return nil, err
	}
	version, err := parseUint32Hex(job.Version)
	if err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	w.version = int32(version)
	if w.bits, err = parseUint32Hex(job.Bits); err != nil {
		return nil, fmt.Errorf("decode nbits: %w", err)
	}
	if w.ntime, err = parseUint32Hex(job.NTime); err != nil {
		return nil, fmt.Errorf("decode ntime: %w", err)
	}
	return w, nil
}

// stratumPrevHash converts the notify prevhash, which swaps every 4-byte
// word of the internal hash, back into internal byte order.
func stratumPrevHash(s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	raw, err := fasthex.DecodeString(s)
	if err != nil || len(raw) != chainhash.HashSize {
		return h, fmt.Errorf("decode prevhash %q", s)
	}
	for i := 0; i < chainhash.HashSize; i += 4 {
		h[i], h[i+1], h[i+2], h[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	return h, nil
}

func parseUint32Hex(s string) (uint32, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("want 8 hex digits, got %q", s)
	}
	raw, err := fasthex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

// merkleRoot hashes coinb1 || extranonce1 || extranonce2 || coinb2 and folds
// the merkle branch onto it.
func (w *headerWork) merkleRoot(extraNonce2 []byte) chainhash.Hash {
	coinbase := make([]byte, 0, len(w.coinbase1)+len(w.extraNonce1)+len(extraNonce2)+len(w.coinbase2))
	coinbase = append(coinbase, w.coinbase1...)
	coinbase = append(coinbase, w.extraNonce1...)
	coinbase = append(coinbase, extraNonce2...)
	coinbase = append(coinbase, w.coinbase2...)
	root := chainhash.Hash(doubleSHA256(coinbase))
	var concat [2 * chainhash.HashSize]byte
	for _, b := range w.branch {
		copy(concat[:chainhash.HashSize], root[:])
		copy(concat[chainhash.HashSize:], b[:])
		root = doubleSHA256(concat[:])
	}
	return root
}

// header serializes the 80-byte block header with a zero nonce. The nonce
// occupies the last four bytes, little-endian.
func (w *headerWork) header(merkle chainhash.Hash) ([blockHeaderSize]byte, error) {
	return serializeHeader(w.version, w.prevBlock, merkle, w.ntime, w.bits, 0)
}

func serializeHeader(version int32, prev, merkle chainhash.Hash, ntime, bits, nonce uint32) ([blockHeaderSize]byte, error) {
	var out [blockHeaderSize]byte
	hdr := wire.BlockHeader{
		Version:    version,
		PrevBlock:  prev,
		MerkleRoot: merkle,
		Timestamp:  time.Unix(int64(ntime), 0),
		Bits:       bits,
		Nonce:      nonce,
	}
	var buf bytes.Buffer
	buf.Grow(blockHeaderSize)
	if err := hdr.Serialize(&buf); err != nil {
		return out, fmt.Errorf("serialize header: %w", err)
	}
	if buf.Len() != blockHeaderSize {
		return out, fmt.Errorf("header is %d bytes", buf.Len())
	}
	copy(out[:], buf.Bytes())
	return out, nil
}

func setHeaderNonce(hdr *[blockHeaderSize]byte, nonce uint32) {
	binary.LittleEndian.PutUint32(hdr[76:80], nonce)
}

// extraNonce2Bytes renders counter as a big-endian value of size bytes.
func extraNonce2Bytes(counter uint64, size int) []byte {
	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = byte(counter)
		counter >>= 8
	}
	return out
}
