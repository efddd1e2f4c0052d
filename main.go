package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	debugpkg "runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Top-level panic handler: ensure any unexpected panic is captured to
	// panic.log with a stack trace so operators can inspect it.
	defer func() {
		if r := recover(); r != nil {
			path := "panic.log"
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\nbuild_time=%s\n%s\n\n",
					ts, r, buildTime, debugpkg.Stack())
			}
			panic(r)
		}
	}()

	configFlag := flag.String("config", "", "path to config.toml (default data/config/config.toml)")
	hostFlag := flag.String("host", "", "pool host")
	portFlag := flag.Int("port", 0, "pool port")
	algoFlag := flag.String("algo", "", "mining algorithm (selects the Stratum dialect)")
	userFlag := flag.String("user", "", "pool identity (wallet or account)")
	passFlag := flag.String("pass", "", "pool credential")
	threadsFlag := flag.Int("threads", 0, "fixed worker count (0 = automatic)")
	logLevelFlag := flag.String("log-level", "", "override log level (debug/info/warn/error)")
	stdoutLogFlag := flag.Bool("stdout", false, "mirror logs to stdout")
	probeFlag := flag.Bool("probe", false, "measure latency to the configured pools and exit")
	rewriteConfigFlag := flag.Bool("rewrite-config", false, "rewrite config on startup")
	issueTokenFlag := flag.Duration("issue-token", 0, "print a control API token valid for this long and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = defaultConfigPath()
	}
	cfg, _, err := loadConfig(cfgPath)
	if err != nil {
		fatal("config file", err, "path", cfgPath)
	}
	overrides := runtimeOverrides{
		host:       *hostFlag,
		port:       *portFlag,
		algorithm:  *algoFlag,
		identity:   *userFlag,
		credential: *passFlag,
		threads:    *threadsFlag,
		logLevel:   *logLevelFlag,
	}
	if err := applyRuntimeOverrides(&cfg, overrides); err != nil {
		fatal("config", err)
	}
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		fatal("log level", err)
	}
	setLogLevel(level)
	configureFileLogging(filepath.Join(cfg.DataDir, "logs"), *stdoutLogFlag)
	defer logger.Stop()

	if *rewriteConfigFlag {
		if err := rewriteConfigFile(cfgPath, cfg); err != nil {
			logger.Warn("rewrite config file", "path", cfgPath, "error", err)
		} else {
			logger.Info("rewrote config file", "path", cfgPath)
		}
	}

	if *issueTokenFlag > 0 {
		token, err := newControlAuth(cfg.ControlTokenSecret).Issue(time.Now(), *issueTokenFlag)
		if err != nil {
			fatal("issue control token", err)
		}
		fmt.Println(token)
		return
	}

	if *probeFlag {
		runProbe(ctx, cfg)
		return
	}

	if err := validateConfig(cfg); err != nil {
		fatal("config", err)
	}
	if err := checkPayoutIdentity(cfg.Algorithm, cfg.Identity); err != nil {
		logger.Warn("pool identity does not look like a payout address", "identity", cfg.Identity, "error", err)
	}

	logger.Info("starting miner",
		"version", minerVersion,
		"algorithm", cfg.Algorithm,
		"sha256", sha256ImplementationName(),
		"json", jsonImplementationName())

	var history *historyStore
	var rigStore rigSettings
	if db, err := openStateDB(stateDBPathFromDataDir(cfg.DataDir)); err != nil {
		logger.Warn("open state database; share history disabled", "error", err)
	} else {
		history = newHistoryStore(db)
		rigStore = history
		defer history.Close()
	}
	rig := resolveRigName(cfg.WorkerName, rigStore)

	addr := cfg.PoolAddr()
	if len(cfg.PoolCandidates) > 0 {
		addr = bestPool(ctx, cfg.PoolCandidates, addr, nil)
	}

	engine, err := NewMiningEngine(engineOptions{
		Addr:          addr,
		Identity:      poolIdentity(cfg.Identity, rig),
		Credential:    cfg.Credential,
		Algorithm:     cfg.Algorithm,
		Agent:         cfg.Agent,
		Cores:         cfg.MaxThreads,
		ManualThreads: cfg.ManualThreads,
		StartPaused:   cfg.StartPaused,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		KeepAlive:     cfg.KeepAlive,
	})
	if err != nil {
		fatal("mining engine", err)
	}
	logger.Info("rig", "name", rig, "pool", addr)

	g, gctx := errgroup.WithContext(ctx)

	// Sinks subscribe before the engine starts so they see the first
	// connection.
	if history != nil {
		events, unsubscribe := engine.Subscribe(engineEventBuffer)
		g.Go(func() error {
			defer unsubscribe()
			history.Consume(gctx, events)
			return nil
		})
	}
	notifier, err := newDiscordNotifier(cfg.DiscordBotToken, cfg.DiscordChannelID, rig)
	if err != nil {
		logger.Warn("discord notifier disabled", "error", err)
	} else if notifier != nil {
		events, unsubscribe := engine.Subscribe(engineEventBuffer)
		g.Go(func() error {
			defer unsubscribe()
			notifier.Consume(gctx, events)
			return nil
		})
	}
	zmqPub, err := newZMQEventPublisher(cfg.ZMQPublishAddr)
	if err != nil {
		logger.Warn("zmq event publisher disabled", "error", err)
	} else if zmqPub != nil {
		events, unsubscribe := engine.Subscribe(engineEventBuffer)
		g.Go(func() error {
			defer unsubscribe()
			zmqPub.Consume(gctx, events)
			return nil
		})
	}

	g.Go(func() error {
		return engine.Run(gctx)
	})

	idleMode, _ := parseIdleMode(cfg.IdleMode)
	detector := newIdleDetector(idleMode, cfg.IdleAfter, cfg.IdleLoadPerCore)
	detector.ownLoad = engine.BusyWorkers
	g.Go(func() error {
		detector.Run(gctx, engine.SetIdle)
		return nil
	})

	poolStats := NewPoolStatsService(cfg.PoolStatsURL, cfg.Identity, cfg.PoolStatsRefresh)
	if poolStats != nil {
		g.Go(func() error {
			poolStats.Run(gctx)
			return nil
		})
	}

	if cfg.StatusListen != "" {
		auth := newControlAuth(cfg.ControlTokenSecret)
		srv := NewStatusServer(engine, history, poolStats, auth, rig)
		g.Go(func() error {
			if err := srv.Serve(gctx, cfg.StatusListen); err != nil {
				logger.Error("status API stopped", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("miner stopped", "error", err)
		logger.Stop()
		os.Exit(1)
	}
	logger.Info("miner stopped", "stats", engine.Stats())
}

func runProbe(ctx context.Context, cfg Config) {
	addrs := cfg.PoolCandidates
	if len(addrs) == 0 {
		addrs = []string{cfg.PoolAddr()}
	}
	for _, p := range probePools(ctx, addrs, nil) {
		if p.Err != nil {
			fmt.Printf("%-40s unreachable: %v\n", p.Addr, p.Err)
			continue
		}
		fmt.Printf("%-40s %8.1f ms\n", p.Addr, p.Millis())
	}
}
