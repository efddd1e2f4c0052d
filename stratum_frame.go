package main

import "bytes"

// frameReader splits a stream of chunks into newline-delimited frames. A
// frame may span many chunks and a chunk may carry many frames; the partial
// tail is held until its delimiter arrives.
type frameReader struct {
	buf      []byte
	maxFrame int
	// oversized is set while discarding a frame that exceeded maxFrame, so
	// its remainder is skipped up to the next delimiter.
	oversized bool
	dropped   int
}

func newFrameReader(maxFrame int) *frameReader {
	if maxFrame <= 0 {
		maxFrame = maxStratumFrameSize
	}
	return &frameReader{maxFrame: maxFrame}
}

// Feed appends chunk and returns every complete, non-blank frame in arrival
// order. Returned slices do not alias the reader's buffer.
func (r *frameReader) Feed(chunk []byte) [][]byte {
	var frames [][]byte
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			r.appendPartial(chunk)
			break
		}
		part := chunk[:idx]
		chunk = chunk[idx+1:]
		if r.oversized {
			r.oversized = false
			r.buf = r.buf[:0]
			continue
		}
		// The limit applies to the whole frame, however it was chunked.
		if len(r.buf)+len(part) > r.maxFrame {
			r.dropOversized(len(r.buf) + len(part))
			r.oversized = false
			continue
		}
		var line []byte
		if len(r.buf) > 0 {
			r.buf = append(r.buf, part...)
			line = r.buf
		} else {
			line = part
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			frames = append(frames, append([]byte(nil), line...))
		}
		r.buf = r.buf[:0]
	}
	return frames
}

func (r *frameReader) appendPartial(chunk []byte) {
	if r.oversized {
		return
	}
	if len(r.buf)+len(chunk) > r.maxFrame {
		r.dropOversized(len(r.buf) + len(chunk))
		return
	}
	r.buf = append(r.buf, chunk...)
}

// dropOversized discards the buffered frame and skips the rest of it up to
// the next delimiter.
func (r *frameReader) dropOversized(size int) {
	logger.Warn("stratum frame too large, dropping", "bytes", size, "limit", r.maxFrame)
	r.dropped++
	r.oversized = true
	r.buf = r.buf[:0]
}

// Pending is the number of buffered bytes without a delimiter yet.
func (r *frameReader) Pending() int {
	return len(r.buf)
}

// Reset discards any partial frame; called when a connection is replaced.
func (r *frameReader) Reset() {
	r.buf = r.buf[:0]
	r.oversized = false
}
