//go:build !linux

package main

func systemLoadAverage() (float64, bool) {
	return 0, false
}
