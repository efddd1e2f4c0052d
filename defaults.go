package main

import (
	"path/filepath"
	"time"
)

const (
	defaultDataDir      = "data"
	defaultPoolHost     = "localhost"
	defaultPoolPort     = 3333
	defaultAlgorithm    = "RandomX"
	defaultCredential   = "x"
	defaultStatusListen = "127.0.0.1:4080"
	defaultLogLevel     = "info"
)

func defaultConfig() Config {
	return Config{
		DataDir:          defaultDataDir,
		PoolHost:         defaultPoolHost,
		PoolPort:         defaultPoolPort,
		Algorithm:        defaultAlgorithm,
		Credential:       defaultCredential,
		Agent:            minerAgent,
		IdleMode:         string(idleModeAuto),
		IdleAfter:        defaultIdleAfterSeconds * time.Second,
		IdleLoadPerCore:  defaultIdleLoadPerCore,
		DialTimeout:      defaultDialTimeout,
		ReadTimeout:      defaultReadTimeout,
		KeepAlive:        defaultKeepAlive,
		LogLevel:         defaultLogLevel,
		StatusListen:     defaultStatusListen,
		PoolStatsRefresh: defaultPoolStatsRefresh,
	}
}

func defaultConfigPath() string {
	return filepath.Join(defaultDataDir, "config", "config.toml")
}
