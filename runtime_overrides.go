package main

import (
	"fmt"
	"strings"
)

// runtimeOverrides carries command-line values. Zero values leave the
// config file setting alone.
type runtimeOverrides struct {
	host       string
	port       int
	algorithm  string
	identity   string
	credential string
	threads    int
	logLevel   string
}

func applyRuntimeOverrides(cfg *Config, o runtimeOverrides) error {
	if o.port < 0 || o.port > 65535 {
		return fmt.Errorf("-port must be 1-65535, got %d", o.port)
	}
	if o.threads < 0 {
		return fmt.Errorf("-threads cannot be negative")
	}
	if v := strings.TrimSpace(o.host); v != "" {
		cfg.PoolHost = v
		// An explicit pool on the command line wins over latency probing.
		cfg.PoolCandidates = nil
	}
	if o.port > 0 {
		cfg.PoolPort = o.port
	}
	if v := strings.TrimSpace(o.algorithm); v != "" {
		cfg.Algorithm = v
	}
	if v := strings.TrimSpace(o.identity); v != "" {
		cfg.Identity = v
	}
	if o.credential != "" {
		cfg.Credential = o.credential
	}
	if o.threads > 0 {
		cfg.ManualThreads = o.threads
	}
	if v := strings.TrimSpace(o.logLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return nil
}
