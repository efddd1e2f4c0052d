package main

// The *FileConfig types mirror config.toml. Pointer fields distinguish "not
// set" from an explicit zero so the file only overrides what it names.

type poolFileConfig struct {
	Host       string   `toml:"host"`
	Port       *int     `toml:"port"`
	Algorithm  string   `toml:"algorithm"`
	Identity   string   `toml:"identity"`
	Credential string   `toml:"credential"`
	WorkerName string   `toml:"worker_name"`
	Agent      string   `toml:"agent"`
	Candidates []string `toml:"candidates"`
}

type miningFileConfig struct {
	MaxThreads       *int     `toml:"max_threads"`
	ManualThreads    *int     `toml:"manual_threads"`
	StartPaused      *bool    `toml:"start_paused"`
	IdleMode         string   `toml:"idle_mode"`
	IdleAfterSeconds *int     `toml:"idle_after_seconds"`
	IdleLoadPerCore  *float64 `toml:"idle_load_per_core"`
}

type connectionFileConfig struct {
	DialTimeoutSeconds *int `toml:"dial_timeout_seconds"`
	ReadTimeoutSeconds *int `toml:"read_timeout_seconds"`
	KeepAliveSeconds   *int `toml:"keepalive_seconds"`
}

type loggingFileConfig struct {
	Level string `toml:"level"`
}

type statusFileConfig struct {
	Listen      *string `toml:"listen"` // nil = default, "" = disabled
	TokenSecret string  `toml:"token_secret"`
}

type notifyFileConfig struct {
	DiscordBotToken  string `toml:"discord_bot_token"`
	DiscordChannelID string `toml:"discord_channel_id"`
	ZMQPublish       string `toml:"zmq_publish"`
}

type statsFileConfig struct {
	PoolStatsURL   string `toml:"pool_stats_url"`
	RefreshMinutes *int   `toml:"refresh_minutes"`
}

type baseFileConfig struct {
	Pool       poolFileConfig       `toml:"pool"`
	Mining     miningFileConfig     `toml:"mining"`
	Connection connectionFileConfig `toml:"connection"`
	Logging    loggingFileConfig    `toml:"logging"`
	Status     statusFileConfig     `toml:"status"`
	Notify     notifyFileConfig     `toml:"notify"`
	Stats      statsFileConfig      `toml:"stats"`
}

type secretsFileConfig struct {
	Pool struct {
		Credential string `toml:"credential"`
	} `toml:"pool"`
	Status struct {
		TokenSecret string `toml:"token_secret"`
	} `toml:"status"`
	Notify struct {
		DiscordBotToken string `toml:"discord_bot_token"`
	} `toml:"notify"`
}
