package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// loadConfig resolves defaults, config.toml and secrets.toml. A missing
// config file is not an error: flags can carry everything a one-off run
// needs, and an example is written next to where the file belongs.
func loadConfig(configPath string) (Config, bool, error) {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	bc, existed, err := loadBaseConfigFile(configPath)
	if err != nil {
		return cfg, existed, err
	}
	if existed {
		applyBaseConfig(&cfg, *bc)
	} else {
		logger.Info("config file missing; using defaults and flags", "path", configPath,
			"example", filepath.Join(cfg.DataDir, "config", "examples", "config.toml.example"))
	}
	ensureExampleFiles(cfg.DataDir)

	secretsPath := filepath.Join(filepath.Dir(configPath), "secrets.toml")
	ensureSecretFilePermissions(secretsPath)
	if sc, ok, err := loadSecretsFile(secretsPath); err != nil {
		return cfg, existed, err
	} else if ok {
		applySecretsConfig(&cfg, *sc)
	}
	return cfg, existed, nil
}

func loadTOMLFile[T any](path string) (*T, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg T
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

func loadBaseConfigFile(path string) (*baseFileConfig, bool, error) {
	return loadTOMLFile[baseFileConfig](path)
}

func loadSecretsFile(path string) (*secretsFileConfig, bool, error) {
	return loadTOMLFile[secretsFileConfig](path)
}

func ensureSecretFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("secrets file stat failed", "path", path, "error", err)
		}
		return
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o077 == 0 {
		return
	}
	if err := os.Chmod(path, 0o600); err != nil {
		logger.Warn("secrets file chmod failed", "path", path, "error", err)
		return
	}
	logger.Warn("secrets file permissions tightened", "path", path, "mode", "0600")
}

func applyBaseConfig(cfg *Config, fc baseFileConfig) {
	if v := strings.TrimSpace(fc.Pool.Host); v != "" {
		cfg.PoolHost = v
	}
	if fc.Pool.Port != nil {
		cfg.PoolPort = *fc.Pool.Port
	}
	if v := strings.TrimSpace(fc.Pool.Algorithm); v != "" {
		cfg.Algorithm = v
	}
	if v := strings.TrimSpace(fc.Pool.Identity); v != "" {
		cfg.Identity = v
	}
	if fc.Pool.Credential != "" {
		cfg.Credential = fc.Pool.Credential
	}
	if v := strings.TrimSpace(fc.Pool.WorkerName); v != "" {
		cfg.WorkerName = v
	}
	if v := strings.TrimSpace(fc.Pool.Agent); v != "" {
		cfg.Agent = v
	}
	if len(fc.Pool.Candidates) > 0 {
		cfg.PoolCandidates = cfg.PoolCandidates[:0]
		for _, c := range fc.Pool.Candidates {
			if c = strings.TrimSpace(c); c != "" {
				cfg.PoolCandidates = append(cfg.PoolCandidates, c)
			}
		}
	}

	if fc.Mining.MaxThreads != nil {
		cfg.MaxThreads = *fc.Mining.MaxThreads
	}
	if fc.Mining.ManualThreads != nil {
		cfg.ManualThreads = *fc.Mining.ManualThreads
	}
	if fc.Mining.StartPaused != nil {
		cfg.StartPaused = *fc.Mining.StartPaused
	}
	if v := strings.TrimSpace(fc.Mining.IdleMode); v != "" {
		cfg.IdleMode = strings.ToLower(v)
	}
	if fc.Mining.IdleAfterSeconds != nil {
		cfg.IdleAfter = time.Duration(*fc.Mining.IdleAfterSeconds) * time.Second
	}
	if fc.Mining.IdleLoadPerCore != nil {
		cfg.IdleLoadPerCore = *fc.Mining.IdleLoadPerCore
	}

	if fc.Connection.DialTimeoutSeconds != nil {
		cfg.DialTimeout = time.Duration(*fc.Connection.DialTimeoutSeconds) * time.Second
	}
	if fc.Connection.ReadTimeoutSeconds != nil {
		cfg.ReadTimeout = time.Duration(*fc.Connection.ReadTimeoutSeconds) * time.Second
	}
	if fc.Connection.KeepAliveSeconds != nil {
		cfg.KeepAlive = time.Duration(*fc.Connection.KeepAliveSeconds) * time.Second
	}

	if v := strings.TrimSpace(fc.Logging.Level); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if fc.Status.Listen != nil {
		cfg.StatusListen = strings.TrimSpace(*fc.Status.Listen)
	}
	if fc.Status.TokenSecret != "" {
		cfg.ControlTokenSecret = fc.Status.TokenSecret
	}

	if v := strings.TrimSpace(fc.Notify.DiscordBotToken); v != "" {
		cfg.DiscordBotToken = v
	}
	if v := strings.TrimSpace(fc.Notify.DiscordChannelID); v != "" {
		cfg.DiscordChannelID = v
	}
	if v := strings.TrimSpace(fc.Notify.ZMQPublish); v != "" {
		cfg.ZMQPublishAddr = v
	}

	if v := strings.TrimSpace(fc.Stats.PoolStatsURL); v != "" {
		cfg.PoolStatsURL = v
	}
	if fc.Stats.RefreshMinutes != nil {
		cfg.PoolStatsRefresh = time.Duration(*fc.Stats.RefreshMinutes) * time.Minute
	}
}

func applySecretsConfig(cfg *Config, sc secretsFileConfig) {
	if sc.Pool.Credential != "" {
		cfg.Credential = sc.Pool.Credential
	}
	if v := strings.TrimSpace(sc.Status.TokenSecret); v != "" {
		cfg.ControlTokenSecret = v
	}
	if v := strings.TrimSpace(sc.Notify.DiscordBotToken); v != "" {
		cfg.DiscordBotToken = v
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
