package main

import "time"

// Config is the fully resolved miner configuration: defaults, then
// config.toml, then secrets.toml, then command-line flags.
type Config struct {
	DataDir string

	// Pool
	PoolHost       string
	PoolPort       int
	Algorithm      string
	Identity       string
	Credential     string
	WorkerName     string
	Agent          string
	PoolCandidates []string

	// Mining
	MaxThreads      int
	ManualThreads   int
	StartPaused     bool
	IdleMode        string
	IdleAfter       time.Duration
	IdleLoadPerCore float64

	// Connection
	DialTimeout time.Duration
	ReadTimeout time.Duration
	KeepAlive   time.Duration

	LogLevel string

	// Status API
	StatusListen       string
	ControlTokenSecret string

	// Notifications
	DiscordBotToken  string
	DiscordChannelID string
	ZMQPublishAddr   string

	// Pool account stats
	PoolStatsURL     string
	PoolStatsRefresh time.Duration
}

// PoolAddr is host:port of the configured pool.
func (c Config) PoolAddr() string {
	return joinHostPort(c.PoolHost, c.PoolPort)
}

var secretsConfigExample = []byte(`# Secrets kept out of config.toml
# Values here override the matching config.toml keys.
#
# [pool]
# credential = "x"
#
# [status]
# token_secret = "change-me"
#
# [notify]
# discord_bot_token = ""
`)
