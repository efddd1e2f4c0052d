//go:build linux

package main

import (
	"net"

	"golang.org/x/sys/unix"
)

// estimateConnRTTMS reads the kernel's smoothed RTT for a pool connection in
// milliseconds. It returns 0 for non-TCP connections or when TCP_INFO is
// unavailable.
func estimateConnRTTMS(conn net.Conn) float64 {
	tc := findTCPConn(conn)
	if tc == nil {
		return 0
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return 0
	}
	var (
		info    *unix.TCPInfo
		sockErr error
	)
	if err := raw.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil || sockErr != nil || info == nil {
		return 0
	}
	// tcpi_rtt is microseconds.
	return float64(info.Rtt) / 1000.0
}
