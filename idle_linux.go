//go:build linux

package main

import "golang.org/x/sys/unix"

// Sysinfo load averages are fixed point with 16 fractional bits.
const sysinfoLoadScale = 1 << 16

func systemLoadAverage() (float64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	return float64(info.Loads[0]) / sysinfoLoadScale, true
}
