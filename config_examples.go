package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
)

func ensureExampleFiles(dataDir string) {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	examplesDir := filepath.Join(dataDir, "config", "examples")
	if err := os.MkdirAll(examplesDir, 0o755); err != nil {
		logger.Warn("create examples directory for example configs failed", "dir", examplesDir, "error", err)
		return
	}
	ensureExampleFile(filepath.Join(examplesDir, "config.toml.example"), exampleConfigBytes())
	ensureExampleFile(filepath.Join(examplesDir, "secrets.toml.example"), secretsConfigExample)
}

func ensureExampleFile(path string, contents []byte) {
	if len(contents) == 0 {
		return
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		logger.Warn("write example config failed", "path", path, "error", err)
	}
}

func withPrependedTOMLComments(data []byte, parts ...[]byte) []byte {
	total := len(data)
	for _, part := range parts {
		total += len(part)
	}
	out := make([]byte, 0, total)
	for _, part := range parts {
		out = append(out, part...)
	}
	return append(out, data...)
}

func generatedConfigFileHeader() []byte {
	return []byte(`# goMiner config.toml
# This file is read on startup. Command-line flags override it.
# goMiner rewrites it (keeping a .bak) when started with -rewrite-config.
#
`)
}

func baseConfigDocComments() []byte {
	return []byte(`# Key notes
# - [pool].algorithm: SHA256, Autolykos2, Octopus and KAWPOW speak mining.* Stratum; anything else uses login/job.
# - [pool].worker_name: empty = a generated rig name, remembered in the state database.
# - [pool].candidates: optional host:port list; the lowest-latency one replaces host/port at startup.
# - [mining].max_threads: worker ceiling; 0 = every CPU.
# - [mining].manual_threads: fixed worker count; 0 = one worker per core while a job is active.
# - [mining].idle_mode: auto (load average), always, never.
# - [status].listen: local status API; "" disables it.
# - [status].token_secret: enables the control endpoints (better kept in secrets.toml).
# - [notify].zmq_publish: ZMQ PUB endpoint for engine events, e.g. tcp://127.0.0.1:28400.
# - [stats].pool_stats_url: account API; {identity} is replaced with the pool identity.
#
`)
}

func exampleHeader(text string) []byte {
	return fmt.Appendf(nil, "# Generated %s example (copy to a real config and edit as needed)\n\n", text)
}

func exampleConfigBytes() []byte {
	cfg := defaultConfig()
	cfg.Identity = "YOUR_WALLET_ADDRESS_HERE"
	fc := buildBaseFileConfig(cfg)
	data, err := toml.Marshal(fc)
	if err != nil {
		logger.Warn("encode config example failed", "error", err)
		return nil
	}
	return withPrependedTOMLComments(data, exampleHeader("base config"), baseConfigDocComments())
}

func buildBaseFileConfig(cfg Config) baseFileConfig {
	seconds := func(d time.Duration) *int {
		v := int(d / time.Second)
		return &v
	}
	port := cfg.PoolPort
	maxThreads := cfg.MaxThreads
	manualThreads := cfg.ManualThreads
	startPaused := cfg.StartPaused
	loadPerCore := cfg.IdleLoadPerCore
	statusListen := cfg.StatusListen
	refresh := int(cfg.PoolStatsRefresh / time.Minute)

	return baseFileConfig{
		Pool: poolFileConfig{
			Host:       cfg.PoolHost,
			Port:       &port,
			Algorithm:  cfg.Algorithm,
			Identity:   cfg.Identity,
			Credential: cfg.Credential,
			WorkerName: cfg.WorkerName,
			Agent:      cfg.Agent,
			Candidates: cfg.PoolCandidates,
		},
		Mining: miningFileConfig{
			MaxThreads:       &maxThreads,
			ManualThreads:    &manualThreads,
			StartPaused:      &startPaused,
			IdleMode:         cfg.IdleMode,
			IdleAfterSeconds: seconds(cfg.IdleAfter),
			IdleLoadPerCore:  &loadPerCore,
		},
		Connection: connectionFileConfig{
			DialTimeoutSeconds: seconds(cfg.DialTimeout),
			ReadTimeoutSeconds: seconds(cfg.ReadTimeout),
			KeepAliveSeconds:   seconds(cfg.KeepAlive),
		},
		Logging: loggingFileConfig{Level: cfg.LogLevel},
		Status: statusFileConfig{
			Listen:      &statusListen,
			TokenSecret: cfg.ControlTokenSecret,
		},
		Notify: notifyFileConfig{
			DiscordBotToken:  cfg.DiscordBotToken,
			DiscordChannelID: cfg.DiscordChannelID,
			ZMQPublish:       cfg.ZMQPublishAddr,
		},
		Stats: statsFileConfig{
			PoolStatsURL:   cfg.PoolStatsURL,
			RefreshMinutes: &refresh,
		},
	}
}

func (c Config) hasSecrets() bool {
	return c.ControlTokenSecret != "" || c.DiscordBotToken != ""
}

// rewriteConfigFile writes cfg to path atomically, keeping the previous file
// as path.bak.
func rewriteConfigFile(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	fc := buildBaseFileConfig(cfg)
	data, err := toml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = withPrependedTOMLComments(data, generatedConfigFileHeader(), baseConfigDocComments())

	tmpFile, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmpFile.Name()
	removeTemp := true
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
		}
		if removeTemp {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	tmpFile = nil

	mode := os.FileMode(0o644)
	if cfg.hasSecrets() {
		mode = 0o600
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}

	bakPath := path + ".bak"
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(bakPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", bakPath, err)
		}
		if err := os.Rename(path, bakPath); err != nil {
			return fmt.Errorf("rename %s to %s: %w", path, bakPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	removeTemp = false
	return nil
}
