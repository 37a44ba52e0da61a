package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/leagueofsolvers/satclient/adapter"
	redisadapter "github.com/leagueofsolvers/satclient/adapter/redis"
	"github.com/leagueofsolvers/satclient/adapter/webhook"
	"github.com/leagueofsolvers/satclient/cli/config"
	"github.com/leagueofsolvers/satclient/conn"
	"github.com/leagueofsolvers/satclient/display"
	"github.com/leagueofsolvers/satclient/log"
	"github.com/leagueofsolvers/satclient/metrics"
	"github.com/leagueofsolvers/satclient/session"
	"github.com/leagueofsolvers/satclient/solver"
	"github.com/leagueofsolvers/satclient/store"
)

// Exit codes for run.
const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitAuthRejected = 2
)

// RunCommand returns the run command, the only command that connects to
// the competition server.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Connect to the competition server and solve matches until interrupted",
		Flags: []cli.Flag{
			ConfigFlag,
			SolverFlag,
			QuietFlag,
			LogLevelFlag,
			&cli.StringFlag{
				Name:  "server",
				Usage: "Override server address from config",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if addr := c.String("server"); addr != "" {
		cfg.Server.Addr = addr
	}
	if c.Bool("quiet") {
		cfg.Quiet = true
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}

	solverName, solverCfg, err := cfg.Solver(c.String("solver"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	// Logs go to stderr; only the countdown display writes to stdout.
	logger := log.New(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received", nil)
		cancel()
	}()

	collector := metrics.NewCollector(solverCfg.Token, solverName)

	retention, err := buildRetention(ctx, cfg, solverName)
	if err != nil {
		return cli.Exit(fmt.Sprintf("retention: %v", err), exitConfigError)
	}

	workDir := solverCfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "satclient", solverName)
	}
	problems, err := store.NewFSStore(workDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("work directory: %v", err), exitConfigError)
	}

	supervisor, err := solver.NewSupervisor(solver.Config{
		ExecutablePath: solverCfg.Path,
		Args:           solverCfg.Args,
		ProblemStore:   problems,
		Retention:      retention,
		OutputFile:     solverCfg.OutputFile,
		Logger:         logger,
		Collector:      collector,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("solver: %v", err), exitConfigError)
	}

	manager, err := conn.NewManager(conn.Config{
		Addr:              cfg.Server.Addr,
		Token:             solverCfg.Token,
		AuthTimeout:       cfg.Server.AuthTimeout.Duration,
		HeartbeatInterval: cfg.Server.HeartbeatInterval.Duration,
		IdleThreshold:     cfg.Server.IdleThreshold.Duration,
		BackoffBase:       cfg.Server.BackoffBase.Duration,
		BackoffCap:        cfg.Server.BackoffCap.Duration,
		Logger:            logger,
		Collector:         collector,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	sink, closeSink, err := buildAdapter(ctx, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitConfigError)
	}
	defer closeSink()

	var notifier session.Notifier
	if cfg.Quiet {
		notifier = session.NopNotifier{}
	} else {
		d := display.New(os.Stdout)
		defer d.Close()
		notifier = d
	}

	runner, err := session.NewRunner(session.Config{
		Conn:       manager,
		Invoker:    supervisor,
		SolverName: solverName,
		Adapter:    sink,
		Notifier:   notifier,
		Margin:     cfg.Margin.Duration,
		AckTimeout: cfg.AckTimeout.Duration,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
		Collector:  collector,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	logger.Sugar().Infof("starting competition client: solver %s against %s", solverName, cfg.Server.Addr)

	errCh := make(chan error, 2)
	go func() { errCh <- manager.Run(ctx) }()
	go func() { errCh <- runner.Run(ctx) }()

	err = <-errCh
	cancel()
	<-errCh

	printSummary(logger, collector)

	if conn.IsAuthError(err) {
		return cli.Exit(err.Error(), exitAuthRejected)
	}
	if err != nil && ctx.Err() == nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	return cli.Exit("", exitSuccess)
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.Set(s); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// buildRetention selects the run archive backend from config. No
// backend configured means no archiving.
func buildRetention(ctx context.Context, cfg *config.Config, solverName string) (store.Store, error) {
	switch cfg.Retention.Backend {
	case "":
		return nil, nil
	case "fs":
		path := cfg.Retention.Path
		if path == "" {
			path = "runs"
		}
		return store.NewFSStore(filepath.Join(path, solverName))
	case "s3":
		bucket, prefix := store.ParseS3Path(cfg.Retention.Path)
		return store.NewS3Store(ctx, store.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Retention.Region,
			Endpoint:     cfg.Retention.Endpoint,
			UsePathStyle: cfg.Retention.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Retention.Backend)
	}
}

// buildAdapter selects the outcome sink from config.
func buildAdapter(ctx context.Context, cfg *config.Config) (adapter.Adapter, func(), error) {
	nop := func() {}
	switch cfg.Adapter.Type {
	case "", "none":
		return adapter.Nop{}, nop, nil
	case "webhook":
		a, err := webhook.New(cfg.Adapter.URL, nil)
		if err != nil {
			return nil, nop, err
		}
		return a, nop, nil
	case "redis":
		a, err := redisadapter.New(ctx, redisadapter.Config{
			Addr:    cfg.Adapter.Addr,
			Channel: cfg.Adapter.Channel,
		})
		if err != nil {
			return nil, nop, err
		}
		return a, func() { _ = a.Close() }, nil
	default:
		return nil, nop, fmt.Errorf("unknown type %q", cfg.Adapter.Type)
	}
}

func printSummary(logger *log.Logger, collector *metrics.Collector) {
	snap := collector.Snapshot()
	logger.Info("run summary", map[string]any{
		"matches_started":   snap.MatchesStarted,
		"matches_completed": snap.MatchesCompleted,
		"matches_aborted":   snap.MatchesAborted,
		"verdicts":          snap.Verdicts,
		"reconnects":        snap.Reconnects,
	})
}
