package main

import "time"

const (
	minerSoftwareName = "goMiner"
	minerVersion      = "1.0"

	// Reconnect policy: delay = min(reconnectMaxBackoff, reconnectBaseDelay * 2^attempt).
	reconnectBaseDelay  = 5 * time.Second
	reconnectMaxBackoff = 5 * time.Minute

	// maxStratumFrameSize bounds a single pending frame. Pools send jobs well
	// under this; anything larger without a newline is garbage.
	maxStratumFrameSize = 256 * 1024
	stratumReadChunk    = 4096
	stratumWriteTimeout = 30 * time.Second
	// Submits are written from the engine loop, which does nothing else while
	// a write is blocked. A submit that cannot go out in this time drops the
	// connection instead.
	stratumSubmitTimeout = 2 * time.Second

	defaultDialTimeout = 10 * time.Second
	// Pools may stay quiet between jobs; a dead socket is noticed after this.
	defaultReadTimeout = 3 * time.Minute
	defaultKeepAlive   = 60 * time.Second

	// nonceOffsetFlatBlob is where the 4-byte nonce lives in a CryptoNote
	// hashing blob.
	nonceOffsetFlatBlob = 39

	defaultExtranonce2Size = 4

	// Hash workers check their control channel every hashBatchSize hashes.
	hashBatchSize          = 4096
	hashrateReportInterval = 2 * time.Second
	hashrateEMATau         = 30 * time.Second

	workerReportBuffer = 256
	engineEventBuffer  = 64

	idlePollInterval        = 5 * time.Second
	defaultIdleAfterSeconds = 60
	defaultIdleLoadPerCore  = 0.25

	latencyProbeTimeout     = 2 * time.Second
	latencyProbeConcurrency = 8

	poolStatsTimeout        = 10 * time.Second
	defaultPoolStatsRefresh = 10 * time.Minute

	statusLogInterval = 60 * time.Second

	// Recently submitted (job, nonce) keys kept to suppress duplicate shares
	// after a resize restarts the nonce walk.
	duplicateShareCacheSize = 4096
)

var minerAgent = minerSoftwareName + "/" + minerVersion

// buildTime can be overridden at build time with:
//
//	go build -ldflags="-X main.buildTime=2025-01-02T15:04:05Z"
var buildTime = "dev"
