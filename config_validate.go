package main

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.PoolHost) == "" {
		return fmt.Errorf("pool.host is required")
	}
	if cfg.PoolPort <= 0 || cfg.PoolPort > 65535 {
		return fmt.Errorf("pool.port must be 1-65535, got %d", cfg.PoolPort)
	}
	if strings.TrimSpace(cfg.Algorithm) == "" {
		return fmt.Errorf("pool.algorithm is required")
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return fmt.Errorf("pool.identity is required (wallet or account name)")
	}
	for _, c := range cfg.PoolCandidates {
		if _, _, err := net.SplitHostPort(c); err != nil {
			return fmt.Errorf("pool.candidates entry %q: %w", c, err)
		}
	}
	if cfg.MaxThreads < 0 {
		return fmt.Errorf("mining.max_threads cannot be negative")
	}
	if cfg.ManualThreads < 0 {
		return fmt.Errorf("mining.manual_threads cannot be negative")
	}
	if cfg.MaxThreads > 0 && cfg.ManualThreads > cfg.MaxThreads {
		return fmt.Errorf("mining.manual_threads (%d) exceeds mining.max_threads (%d)", cfg.ManualThreads, cfg.MaxThreads)
	}
	if _, err := parseIdleMode(cfg.IdleMode); err != nil {
		return fmt.Errorf("mining.idle_mode: %w", err)
	}
	if cfg.IdleAfter < 0 {
		return fmt.Errorf("mining.idle_after_seconds cannot be negative")
	}
	if cfg.IdleLoadPerCore < 0 {
		return fmt.Errorf("mining.idle_load_per_core cannot be negative")
	}
	if cfg.DialTimeout <= 0 {
		return fmt.Errorf("connection.dial_timeout_seconds must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("connection.read_timeout_seconds must be > 0")
	}
	if cfg.KeepAlive < 0 {
		return fmt.Errorf("connection.keepalive_seconds cannot be negative")
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.StatusListen != "" {
		if _, _, err := net.SplitHostPort(cfg.StatusListen); err != nil {
			return fmt.Errorf("status.listen %q: %w", cfg.StatusListen, err)
		}
	}
	if (cfg.DiscordBotToken == "") != (cfg.DiscordChannelID == "") {
		return fmt.Errorf("notify.discord_bot_token and notify.discord_channel_id must be set together")
	}
	if cfg.ZMQPublishAddr != "" && !strings.Contains(cfg.ZMQPublishAddr, "://") {
		return fmt.Errorf("notify.zmq_publish %q missing transport (e.g. tcp://127.0.0.1:28400)", cfg.ZMQPublishAddr)
	}
	if cfg.PoolStatsURL != "" {
		parsed, err := url.Parse(cfg.PoolStatsURL)
		if err != nil {
			return fmt.Errorf("stats.pool_stats_url parse error: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("stats.pool_stats_url %q must use http or https scheme", cfg.PoolStatsURL)
		}
		if cfg.PoolStatsRefresh <= 0 {
			return fmt.Errorf("stats.refresh_minutes must be > 0")
		}
	}
	return nil
}
