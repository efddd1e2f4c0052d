package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	fasthex "github.com/tmthrgd/go-hex"
)

// hashKernel is the proof-of-work function. Real memory-hard kernels live
// outside this module; sha256d is the built-in one.
type hashKernel interface {
	Name() string
	Sum(input []byte) [32]byte
}

type sha256dKernel struct{}

func (sha256dKernel) Name() string { return "sha256d/" + sha256ImplementationName() }

func (sha256dKernel) Sum(input []byte) [32]byte { return doubleSHA256(input) }

// kernelForAlgorithm returns the kernel for algo and whether it is native.
// Algorithms without a built-in kernel run the sha256d stand-in so the
// pipeline can be exercised; their shares will not validate upstream.
func kernelForAlgorithm(algo string) (hashKernel, bool) {
	switch strings.ToLower(strings.TrimSpace(algo)) {
	case "sha256", "sha256d":
		return sha256dKernel{}, true
	default:
		return sha256dKernel{}, false
	}
}

type workerControlKind int

const (
	controlJob workerControlKind = iota
	controlPause
	controlResume
)

type workerControl struct {
	Kind workerControlKind
	Job  *Job
}

type workerReportKind int

const (
	reportHashrate workerReportKind = iota
	reportSubmit
	reportLog
)

// workerReport is the only way a worker talks to the engine. Generation ties
// it to the spawn that produced it.
type workerReport struct {
	Kind       workerReportKind
	WorkerID   int
	Generation uint64
	Hashrate   float64
	Share      Share
	Text       string
}

// workerUnit is one member of the pool as seen by WorkerPool.
type workerUnit interface {
	Send(msg workerControl)
	Stop()
}

type workerFactory func(id, stride int, generation uint64, reports chan<- workerReport) workerUnit

// newHashWorkerFactory spawns goroutine workers running kernel.
func newHashWorkerFactory(kernel hashKernel) workerFactory {
	return func(id, stride int, generation uint64, reports chan<- workerReport) workerUnit {
		ctx, cancel := context.WithCancel(context.Background())
		w := &hashWorker{
			id:         id,
			stride:     max(1, stride),
			generation: generation,
			kernel:     kernel,
			signal:     make(chan struct{}, 1),
			reports:    reports,
			cancel:     cancel,
			done:       make(chan struct{}),
		}
		go w.run(ctx)
		return w
	}
}

type hashWorker struct {
	id         int
	stride     int
	generation uint64
	kernel     hashKernel
	reports    chan<- workerReport
	cancel     context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once

	// Mailbox. Control messages coalesce: only the latest job and the
	// latest pause state matter, so Send never blocks on a busy worker.
	mu        sync.Mutex
	nextJob   *Job
	hasJob    bool
	nextPause bool
	hasPause  bool
	signal    chan struct{}
}

func (w *hashWorker) Send(msg workerControl) {
	w.mu.Lock()
	switch msg.Kind {
	case controlJob:
		w.nextJob, w.hasJob = msg.Job, true
	case controlPause:
		w.nextPause, w.hasPause = true, true
	case controlResume:
		w.nextPause, w.hasPause = false, true
	}
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *hashWorker) takeMail() (job *Job, hasJob, pause, hasPause bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, hasJob, pause, hasPause = w.nextJob, w.hasJob, w.nextPause, w.hasPause
	w.nextJob, w.hasJob, w.hasPause = nil, false, false
	return
}

// Stop abandons in-flight work. It returns once the goroutine has left its
// current batch.
func (w *hashWorker) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *hashWorker) report(ctx context.Context, r workerReport) {
	r.WorkerID = w.id
	r.Generation = w.generation
	select {
	case w.reports <- r:
	case <-ctx.Done():
	}
}

func (w *hashWorker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("hash worker panic", "worker", w.id, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	var (
		cursor workCursor
		paused bool
		meter  = newHashMeter(time.Now())
	)
	applyMail := func() {
		job, hasJob, pause, hasPause := w.takeMail()
		if hasJob {
			c, err := newWorkCursor(job, w.id, w.stride, generationNonceStart(w.generation))
			if err != nil {
				w.report(ctx, workerReport{Kind: reportLog, Text: fmt.Sprintf("cannot work job: %v", err)})
				cursor = nil
			} else {
				cursor = c
			}
		}
		if hasPause && pause != paused {
			paused = pause
			if !paused {
				meter.restart(time.Now())
			}
		}
	}

	for {
		if cursor == nil || paused || cursor.exhausted() {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
				applyMail()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
			applyMail()
			continue
		default:
		}

		hashes, shares := cursor.scan(w.kernel, hashBatchSize)
		now := time.Now()
		for _, s := range shares {
			s.WorkerID = w.id
			s.FoundAt = now
			w.report(ctx, workerReport{Kind: reportSubmit, Share: s})
		}
		if rate, ok := meter.add(hashes, now); ok {
			w.report(ctx, workerReport{Kind: reportHashrate, Hashrate: rate})
		}
		if cursor.exhausted() {
			w.report(ctx, workerReport{Kind: reportLog, Text: "nonce space exhausted, waiting for next job"})
		}
	}
}

// hashMeter smooths the hash rate with an exponential moving average and
// emits a value every hashrateReportInterval.
type hashMeter struct {
	lastReport time.Time
	count      uint64
	ema        float64
	primed     bool
}

func newHashMeter(now time.Time) *hashMeter {
	return &hashMeter{lastReport: now}
}

func (m *hashMeter) restart(now time.Time) {
	m.lastReport = now
	m.count = 0
}

func (m *hashMeter) add(hashes int, now time.Time) (float64, bool) {
	m.count += uint64(hashes)
	elapsed := now.Sub(m.lastReport)
	if elapsed < hashrateReportInterval {
		return 0, false
	}
	rate := float64(m.count) / elapsed.Seconds()
	if !m.primed {
		m.ema = rate
		m.primed = true
	} else {
		alpha := 1 - math.Exp(-elapsed.Seconds()/hashrateEMATau.Seconds())
		m.ema += alpha * (rate - m.ema)
	}
	m.count = 0
	m.lastReport = now
	return m.ema, true
}

// workCursor walks one worker's slice of a job's search space.
type workCursor interface {
	scan(kernel hashKernel, n int) (hashes int, shares []Share)
	exhausted() bool
}

// generationNonceStart spreads successive spawns over the nonce space so a
// resized pool does not walk the nonces its predecessor already covered.
// Every worker of one generation derives the same start.
func generationNonceStart(generation uint64) uint32 {
	return uint32(generation * 0x9e3779b97f4a7c15 >> 32)
}

func newWorkCursor(job *Job, id, stride int, start uint32) (workCursor, error) {
	if job == nil {
		return nil, fmt.Errorf("nil job")
	}
	switch job.Variant {
	case variantMining:
		return newHeaderCursor(job, id, stride)
	default:
		return newBlobCursor(job, id, stride, start)
	}
}

// blobCursor writes a 32-bit nonce into a copy of the hashing blob. Worker id
// and stride interleave the workers from a common start.
type blobCursor struct {
	job    *Job
	blob   []byte
	target [32]byte
	start  uint32
	next   uint64
	stride uint64
	done   bool
}

func newBlobCursor(job *Job, id, stride int, start uint32) (*blobCursor, error) {
	if job.NonceOffset < 0 || job.NonceOffset+4 > len(job.Blob) {
		return nil, fmt.Errorf("nonce offset %d outside %d-byte blob", job.NonceOffset, len(job.Blob))
	}
	return &blobCursor{
		job:    job,
		blob:   append([]byte(nil), job.Blob...),
		target: targetBytes(job.Target),
		start:  start,
		next:   uint64(id),
		stride: uint64(stride),
	}, nil
}

func (c *blobCursor) exhausted() bool { return c.done }

func (c *blobCursor) scan(kernel hashKernel, n int) (int, []Share) {
	var shares []Share
	nonceBytes := c.blob[c.job.NonceOffset : c.job.NonceOffset+4]
	hashes := 0
	for ; hashes < n; hashes++ {
		if c.next > math.MaxUint32 {
			c.done = true
			break
		}
		nonce := c.start + uint32(c.next)
		c.next += c.stride
		binary.LittleEndian.PutUint32(nonceBytes, nonce)
		sum := kernel.Sum(c.blob)
		if hashBelowTarget(&sum, &c.target) {
			shares = append(shares, Share{
				JobID:      c.job.ID,
				Nonce:      fasthex.EncodeToString(nonceBytes),
				Result:     fasthex.EncodeToString(sum[:]),
				Difficulty: shareDifficulty(sum, variantLogin),
			})
		}
	}
	return hashes, shares
}

// headerCursor scans the full nonce range for each extranonce2 this worker
// owns (id, id+stride, ...), rebuilding the merkle root when it moves on.
type headerCursor struct {
	job    *Job
	work   *headerWork
	target [32]byte
	en2    uint64
	stride uint64
	en2Max uint64
	en2Hex string
	header [blockHeaderSize]byte
	nonce  uint64
	done   bool
}

func newHeaderCursor(job *Job, id, stride int) (*headerCursor, error) {
	work, err := newHeaderWork(job)
	if err != nil {
		return nil, err
	}
	c := &headerCursor{
		job:    job,
		work:   work,
		target: targetBytes(job.Target),
		en2:    uint64(id),
		stride: uint64(stride),
		en2Max: math.MaxUint64,
	}
	if work.en2Size < 8 {
		c.en2Max = uint64(1)<<(8*uint(work.en2Size)) - 1
	}
	if err := c.loadExtraNonce2(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *headerCursor) loadExtraNonce2() error {
	if c.en2 > c.en2Max {
		c.done = true
		return nil
	}
	en2 := extraNonce2Bytes(c.en2, c.work.en2Size)
	hdr, err := c.work.header(c.work.merkleRoot(en2))
	if err != nil {
		return err
	}
	c.header = hdr
	c.en2Hex = fasthex.EncodeToString(en2)
	c.nonce = 0
	return nil
}

func (c *headerCursor) exhausted() bool { return c.done }

func (c *headerCursor) scan(kernel hashKernel, n int) (int, []Share) {
	var shares []Share
	hashes := 0
	for hashes < n && !c.done {
		if c.nonce > math.MaxUint32 {
			if c.en2Max-c.en2 < c.stride {
				c.done = true
				break
			}
			c.en2 += c.stride
			if err := c.loadExtraNonce2(); err != nil {
				c.done = true
				break
			}
			continue
		}
		nonce := uint32(c.nonce)
		c.nonce++
		hashes++
		setHeaderNonce(&c.header, nonce)
		sum := kernel.Sum(c.header[:])
		if hashBelowTarget(&sum, &c.target) {
			display := sum
			reverseBytes32(&display)
			shares = append(shares, Share{
				JobID:       c.job.ID,
				ExtraNonce2: c.en2Hex,
				NTime:       c.job.NTime,
				Nonce:       fmt.Sprintf("%08x", nonce),
				Result:      fasthex.EncodeToString(display[:]),
				Difficulty:  shareDifficulty(sum, variantMining),
			})
		}
	}
	return hashes, shares
}
