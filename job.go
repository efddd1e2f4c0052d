package main

import (
	"errors"
	"math/big"
	"time"
)

var errStaleJob = errors.New("job superseded")

// Job is one unit of work from the pool. It is built once by a codec and
// never modified afterwards; the next notification replaces it.
type Job struct {
	ID      string
	Variant protocolVariant

	// Flat-blob payload.
	Blob        []byte
	NonceOffset int
	Height      uint64
	SeedHash    string
	Algo        string

	// Header-fragment payload. Hex strings exactly as sent by the pool.
	PrevHash        string
	Coinbase1       string
	Coinbase2       string
	MerkleBranch    []string
	Version         string
	Bits            string
	NTime           string
	ExtraNonce1     string
	ExtraNonce2Size int

	// Target is the big-endian comparison target. Read-only.
	Target     *big.Int
	Difficulty float64
	CleanJobs  bool
	ReceivedAt time.Time
}

// Share is a candidate solution produced by a worker. For flat-blob jobs
// Nonce and Result are set; header jobs use ExtraNonce2, NTime and Nonce.
type Share struct {
	JobID       string
	Nonce       string
	Result      string
	ExtraNonce2 string
	NTime       string
	// Difficulty actually reached by the hash, for logs and history.
	Difficulty float64
	WorkerID   int
	FoundAt    time.Time
}

// dedupeKey identifies a share for duplicate suppression.
func (s Share) dedupeKey() string {
	return s.JobID + "/" + s.ExtraNonce2 + "/" + s.NTime + "/" + s.Nonce
}
