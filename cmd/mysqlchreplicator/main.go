// Command mysqlchreplicator is the entry point for every process role in
// the replication pipeline: the binlog reader, a per-database
// replicator, the supervisor, and the supplemental optimizer, selected by
// its first positional argument, mirroring main.py's mode dispatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/binlogreader"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/config"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/optimizer"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/replicator"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/sourcedb"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/supervisor"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mysqlchreplicator <run_all|binlog_replicator|db_replicator|db_optimizer> [flags]")
		os.Exit(2)
	}
	mode := os.Args[1]
	fs := flag.NewFlagSet(mode, flag.ExitOnError)

	configPath := fs.String("config", "config.yaml", "path to the YAML settings file")
	database := fs.String("db", "", "source database name (db_replicator mode)")
	targetDB := fs.String("target_db", "", "target database override (db_replicator mode)")
	table := fs.String("table", "", "single table scope, used by parallel snapshot workers")
	initialOnly := fs.Bool("initial_only", false, "exit after the initial snapshot completes")
	workerID := fs.Int("worker_id", -1, "parallel snapshot worker index")
	totalWorkers := fs.Int("total_workers", -1, "parallel snapshot worker count")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	setupLogging(cfg, mode)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	var runErr error
	switch mode {
	case "run_all":
		runErr = runAll(ctx, cfg)
	case "binlog_replicator":
		runErr = runBinlogReplicator(ctx, cfg)
	case "db_replicator":
		runErr = runDBReplicator(ctx, cfg, *database, *targetDB, *table, *initialOnly, *workerID, *totalWorkers)
	case "db_optimizer":
		runErr = runDBOptimizer(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, "unknown mode:", mode)
		os.Exit(2)
	}
	if runErr != nil {
		log.Error("exiting with error", zap.Error(runErr))
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Settings, component string) {
	level := zapcore.InfoLevel
	if cfg.DebugLogLevel {
		level = zapcore.DebugLevel
	}
	var writer zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	if cfg.LogFile != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		})
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, level)
	logger := zap.New(core).With(zap.String("component", component))
	log.ReplaceGlobals(logger, nil)
}

func runAll(ctx context.Context, cfg *config.Settings) error {
	exePath, err := os.Executable()
	if err != nil {
		return err
	}
	sup := supervisor.New(cfg, exePath)
	return sup.Run(ctx)
}

func runBinlogReplicator(ctx context.Context, cfg *config.Settings) error {
	source, err := sourcedb.Connect(cfg.MySQL, "")
	if err != nil {
		return err
	}
	defer source.Close()

	fallback, err := binlogreader.LastMasterPosition(source)
	if err != nil {
		return err
	}

	reader := binlogreader.New(cfg, 100)
	pos, err := reader.ResumePosition(fallback)
	if err != nil {
		return err
	}
	if pos != fallback {
		log.Info("binlog_replicator: resuming from persisted state", zap.String("file", pos.Name), zap.Uint32("pos", pos.Pos))
	}

	err = reader.Run(ctx, pos)
	if err == binlogreader.ErrBinlogIndexCorrupted {
		log.Error("binlog index corrupted, exiting for supervisor restart")
		os.Exit(1)
	}
	return err
}

func runDBReplicator(ctx context.Context, cfg *config.Settings, database, targetDB, table string, initialOnly bool, workerID, totalWorkers int) error {
	if database == "" {
		return fmt.Errorf("db_replicator: --db is required")
	}
	opts := replicator.Options{
		Config:      cfg,
		Database:    database,
		TargetDB:    targetDB,
		InitialOnly: initialOnly,
		Table:       table,
	}
	if workerID >= 0 && totalWorkers > 0 {
		opts.WorkerID = &workerID
		opts.TotalWorkers = &totalWorkers
	}

	r, err := replicator.New(opts)
	if err != nil {
		return err
	}
	defer r.Close()

	switch r.Run(ctx) {
	case replicator.ResultOK, replicator.ResultShutdown:
		return nil
	case replicator.ResultCorruptedIndex:
		os.Exit(1)
		return nil
	default:
		return fmt.Errorf("db_replicator: replication for %s did not complete cleanly", database)
	}
}

func runDBOptimizer(ctx context.Context, cfg *config.Settings) error {
	opt, err := optimizer.New(cfg)
	if err != nil {
		return err
	}
	source, err := sourcedb.Connect(cfg.MySQL, "")
	if err != nil {
		return err
	}
	defer source.Close()
	databases, err := source.GetDatabases()
	if err != nil {
		return err
	}
	var scoped []string
	for _, db := range databases {
		if cfg.IsDatabaseMatches(db) {
			scoped = append(scoped, db)
		}
	}
	return opt.Run(ctx, scoped)
}
