package main

import (
	"bytes"
	"strings"
	"testing"
)

func collectFrames(r *frameReader, data []byte, chunk int) []string {
	var out []string
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		for _, f := range r.Feed(data[:n]) {
			out = append(out, string(f))
		}
		data = data[n:]
	}
	return out
}

func TestFrameReaderChunkingInvariance(t *testing.T) {
	stream := []byte("{\"id\":1,\"result\":true}\n\n  \r\n{\"method\":\"job\",\"params\":{}}\r\n{\"id\":2}\n{\"partial\":")
	want := []string{`{"id":1,"result":true}`, `{"method":"job","params":{}}`, `{"id":2}`}

	for chunk := 1; chunk <= len(stream); chunk++ {
		r := newFrameReader(1024)
		got := collectFrames(r, stream, chunk)
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("chunk=%d: got %q want %q", chunk, got, want)
		}
		if r.Pending() != len(`{"partial":`) {
			t.Fatalf("chunk=%d: pending=%d", chunk, r.Pending())
		}
	}
}

func TestFrameReaderOversizeLimitIgnoresSplitPoints(t *testing.T) {
	big := strings.Repeat("x", 100)
	fits := strings.Repeat("y", 64)
	stream := []byte(big + "\n{\"id\":3}\n" + fits + "\n")
	want := []string{`{"id":3}`, fits}

	for chunk := 1; chunk <= len(stream); chunk++ {
		r := newFrameReader(64)
		got := collectFrames(r, stream, chunk)
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("chunk=%d: got %q want %q", chunk, got, want)
		}
		if r.dropped != 1 {
			t.Fatalf("chunk=%d: dropped=%d want 1", chunk, r.dropped)
		}
	}

	// Uneven splits around the buffered partial.
	for _, splits := range [][]int{{50, 51}, {60, 30, 11}, {101}, {1, 99, 1}} {
		r := newFrameReader(64)
		data := []byte(big + "\n")
		var got [][]byte
		for _, n := range splits {
			got = append(got, r.Feed(data[:n])...)
			data = data[n:]
		}
		if len(got) != 0 || r.dropped != 1 {
			t.Fatalf("splits %v: frames %q dropped %d", splits, got, r.dropped)
		}
	}
}

func TestFrameReaderDoesNotAliasBuffer(t *testing.T) {
	r := newFrameReader(1024)
	r.Feed([]byte(`{"a":`))
	frames := r.Feed([]byte("1}\n"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	first := append([]byte(nil), frames[0]...)
	r.Feed([]byte(`{"bbbbbbbb":2`))
	if !bytes.Equal(frames[0], first) {
		t.Fatalf("frame changed after later feed: %q", frames[0])
	}
}

func TestFrameReaderDropsOversizedFrame(t *testing.T) {
	r := newFrameReader(16)
	if frames := r.Feed(bytes.Repeat([]byte("x"), 40)); len(frames) != 0 {
		t.Fatalf("unexpected frames: %q", frames)
	}
	if r.Pending() != 0 {
		t.Fatalf("oversized partial kept: %d bytes", r.Pending())
	}
	frames := r.Feed([]byte("more-garbage\n{\"a\":1}\n"))
	if len(frames) != 1 || string(frames[0]) != `{"a":1}` {
		t.Fatalf("expected only the next frame, got %q", frames)
	}
	if r.dropped != 1 {
		t.Fatalf("dropped=%d want 1", r.dropped)
	}
}

func TestFrameReaderReset(t *testing.T) {
	r := newFrameReader(0)
	r.Feed([]byte(`{"half":`))
	r.Reset()
	frames := r.Feed([]byte("{\"whole\":1}\n"))
	if len(frames) != 1 || string(frames[0]) != `{"whole":1}` {
		t.Fatalf("reset did not discard partial: %q", frames)
	}
}
