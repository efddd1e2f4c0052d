package main

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

// poolProbe is the outcome of dialing one candidate pool.
type poolProbe struct {
	Addr      string
	Latency   time.Duration
	KernelRTT float64
	Err       error
}

// Millis prefers the kernel RTT over the dial time, which also includes DNS.
func (p poolProbe) Millis() float64 {
	if p.KernelRTT > 0 {
		return p.KernelRTT
	}
	return float64(p.Latency) / float64(time.Millisecond)
}

// probePools dials every candidate in parallel and returns the results with
// reachable pools first, fastest first.
func probePools(ctx context.Context, addrs []string, dial dialFunc) []poolProbe {
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	results := make([]poolProbe, len(addrs))
	swg := sizedwaitgroup.New(latencyProbeConcurrency)
	for i, addr := range addrs {
		if err := swg.AddWithContext(ctx); err != nil {
			results[i] = poolProbe{Addr: addr, Err: err}
			continue
		}
		go func(i int, addr string) {
			defer swg.Done()
			results[i] = probePool(ctx, addr, dial)
		}(i, addr)
	}
	swg.Wait()

	sort.SliceStable(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if (ra.Err == nil) != (rb.Err == nil) {
			return ra.Err == nil
		}
		return ra.Millis() < rb.Millis()
	})
	return results
}

func probePool(ctx context.Context, addr string, dial dialFunc) poolProbe {
	ctx, cancel := context.WithTimeout(ctx, latencyProbeTimeout)
	defer cancel()
	start := time.Now()
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return poolProbe{Addr: addr, Err: fmt.Errorf("dial: %w", err)}
	}
	defer conn.Close()
	return poolProbe{
		Addr:      addr,
		Latency:   time.Since(start),
		KernelRTT: estimateConnRTTMS(conn),
	}
}

// bestPool returns the fastest reachable candidate, or fallback when none
// answered.
func bestPool(ctx context.Context, candidates []string, fallback string, dial dialFunc) string {
	if len(candidates) == 0 {
		return fallback
	}
	results := probePools(ctx, candidates, dial)
	for _, r := range results {
		if r.Err != nil {
			logger.Warn("pool unreachable", "addr", r.Addr, "error", r.Err)
			continue
		}
		logger.Info("pool latency", "addr", r.Addr, "ms", fmt.Sprintf("%.1f", r.Millis()))
	}
	if len(results) > 0 && results[0].Err == nil {
		return results[0].Addr
	}
	return fallback
}

// findTCPConn unwraps connections that expose NetConn (TLS and friends) to
// reach the underlying *net.TCPConn.
func findTCPConn(conn net.Conn) *net.TCPConn {
	type netConnGetter interface {
		NetConn() net.Conn
	}

	for i := 0; i < 4 && conn != nil; i++ {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			return tcpConn
		}
		getter, ok := conn.(netConnGetter)
		if !ok {
			return nil
		}
		next := getter.NetConn()
		if next == nil || next == conn {
			return nil
		}
		conn = next
	}
	return nil
}
