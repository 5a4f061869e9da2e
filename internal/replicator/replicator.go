package replicator

import (
	"context"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/binlogstate"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/config"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/convert"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/replicator/initial"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/replicator/realtime"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/sourcedb"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/targetdb"
)

// Options configures one per-database Replicator run, gathering the CLI
// overrides db_replicator.py's constructor accepts.
type Options struct {
	Config       *config.Settings
	Database     string
	TargetDB     string // overrides config.TargetDatabaseFor when non-empty
	InitialOnly  bool
	WorkerID     *int
	TotalWorkers *int
	Table        string // single-table scope, used by parallel snapshot workers
}

// Replicator owns one source database's full lifecycle: state machine,
// snapshot, and realtime tailing, mirroring DbReplicator.
type Replicator struct {
	opts   Options
	state  *State
	source *sourcedb.API
	target *targetdb.API
	cctx   *convert.Context

	targetDatabase    string
	targetDatabaseTmp string
	isParallelWorker  bool
}

// New wires a Replicator's source/target connections and loads its
// durable state, matching DbReplicator.__init__.
func New(opts Options) (*Replicator, error) {
	targetDB := opts.Config.TargetDatabaseFor(opts.Database)
	if opts.TargetDB != "" {
		targetDB = opts.TargetDB
	}

	isWorker := opts.WorkerID != nil && opts.TotalWorkers != nil
	var path string
	if isWorker {
		path = workerStatePath(opts.Config.BinlogReplicator.DataDir, opts.Database, *opts.WorkerID, *opts.TotalWorkers, initial.TableHash(opts.Table))
	} else {
		path = statePath(opts.Config.BinlogReplicator.DataDir, opts.Database)
	}

	state, err := LoadState(path)
	if err != nil {
		return nil, err
	}

	source, err := sourcedb.Connect(opts.Config.MySQL, opts.Database)
	if err != nil {
		return nil, err
	}
	target, err := targetdb.Connect(opts.Config.ClickHouse, targetDB)
	if err != nil {
		source.Close()
		return nil, err
	}
	for table, v := range state.TablesLastRecordVersion {
		target.SetLastVersion(table, v)
	}

	targetTmp := targetDB + "_tmp"
	if isWorker {
		targetTmp = targetDB
	}

	r := &Replicator{
		opts:   opts,
		state:  state,
		source: source,
		target: target,
		cctx: &convert.Context{
			TypesMapping:   opts.Config.TypesMapping,
			MySQLTimezone:  opts.Config.MySQLTimezone,
			TargetDatabase: func(string) string { return targetDB },
		},
		targetDatabase:    targetDB,
		targetDatabaseTmp: targetTmp,
		isParallelWorker:  isWorker,
	}
	return r, nil
}

// Close releases source/target connections.
func (r *Replicator) Close() {
	r.source.Close()
	r.target.Close()
}

// validateDatabaseSettings warns when ClickHouse's `final` setting isn't
// enabled, matching DbReplicator.validate_database_settings().
func (r *Replicator) validateDatabaseSettings(ctx context.Context) {
	if r.opts.InitialOnly {
		return
	}
	val, err := r.target.GetSystemSetting(ctx, "final")
	if err != nil {
		return
	}
	if val != "1" {
		log.Warn("replicator: clickhouse setting 'final' is not enabled; SELECTs may observe duplicates during merges")
	}
}

// Run executes the full replicator lifecycle for the configured database,
// mirroring DbReplicator.run()'s status-based dispatch.
func (r *Replicator) Run(ctx context.Context) Result {
	r.validateDatabaseSettings(ctx)

	if r.state.Status != StatusNone {
		databases, err := r.target.GetDatabases(ctx)
		if err == nil && !contains(databases, r.targetDatabase) && !contains(databases, r.targetDatabase+"_tmp") {
			log.Warn("replicator: target database missing, restarting from scratch", zap.String("database", r.targetDatabase))
			_ = r.state.Remove()
			r.state, _ = LoadState(r.state.path)
		}
	}

	switch r.state.Status {
	case StatusRunningRealtimeReplication:
		return r.runRealtime(ctx)
	case StatusPerformingInitialReplication:
		if res := r.performInitialReplication(ctx); res != ResultOK {
			return res
		}
		return r.runRealtime(ctx)
	}

	if r.opts.Config.IgnoreDeletes {
		log.Info("replicator: using existing database (ignore_deletes=true)", zap.String("database", r.targetDatabase))
		r.target.SetDatabase(r.targetDatabase)
		r.targetDatabaseTmp = r.targetDatabase
		databases, err := r.target.GetDatabases(ctx)
		if err != nil {
			return ResultTransient
		}
		if !contains(databases, r.targetDatabase) {
			if err := r.target.CreateDatabase(ctx, r.targetDatabase); err != nil {
				return ResultTransient
			}
		}
	} else {
		log.Info("replicator: recreating staging database", zap.String("database", r.targetDatabaseTmp))
		r.target.SetDatabase(r.targetDatabaseTmp)
		if !r.isParallelWorker {
			if err := r.target.RecreateDatabase(ctx); err != nil {
				return ResultTransient
			}
		}
	}

	tables, err := r.source.GetTables()
	if err != nil {
		return ResultTransient
	}
	for _, t := range tables {
		if r.opts.Config.IsTableMatches(t) {
			r.state.Tables = append(r.state.Tables, t)
		}
	}

	ms, err := r.source.GetMasterStatus()
	if err != nil {
		return ResultTransient
	}
	r.state.LastProcessedTransaction = binlogstate.Position{BinlogFile: ms.File, BinlogPos: ms.Pos}
	r.state.Status = StatusCreatingInitialStructures
	if err := r.state.Save(); err != nil {
		return ResultFatal
	}

	if res := r.createInitialStructures(ctx); res != ResultOK {
		return res
	}
	r.state.Status = StatusPerformingInitialReplication
	_ = r.state.Save()

	if res := r.performInitialReplication(ctx); res != ResultOK {
		return res
	}
	return r.runRealtime(ctx)
}

func (r *Replicator) createInitialStructures(ctx context.Context) Result {
	snap := &initial.Snapshotter{Source: r.source, Target: r.target, Ctx: r.cctx, Config: r.opts.Config}
	for _, table := range r.state.Tables {
		if r.opts.Table != "" && table != r.opts.Table {
			continue
		}
		ddl, err := r.source.GetTableCreateStatement(table)
		if err != nil {
			return ResultTransient
		}
		structure, err := convert.ParseCreateTableStructure(ddl)
		if err != nil {
			log.Error("replicator: failed to parse table structure", zap.String("table", table), zap.Error(err))
			return ResultFatal
		}
		initial.ValidateStructure(structure)
		r.state.TablesStructure[table] = structure
		if !r.isParallelWorker {
			if err := snap.CreateTargetStructure(ctx, r.opts.Database, structure); err != nil {
				return ResultTransient
			}
		}
	}
	return ResultOK
}

func (r *Replicator) performInitialReplication(ctx context.Context) Result {
	snap := &initial.Snapshotter{
		Source: r.source, Target: r.target, Ctx: r.cctx, Config: r.opts.Config,
		OnProgress: func(table string, cursor []interface{}) {
			r.state.InitialReplicationTable = table
			r.state.InitialReplicationMaxPK = cursor
			_ = r.state.Save()
			_ = binlogstate.TouchAllFiles(r.opts.Config.BinlogStateDir(r.opts.Database))
		},
	}

	var failed []string
	for _, table := range r.state.Tables {
		if r.opts.Table != "" && table != r.opts.Table {
			continue
		}
		structure, ok := r.state.TablesStructure[table]
		if !ok {
			failed = append(failed, table)
			continue
		}
		var resume []interface{}
		if r.state.InitialReplicationTable == table {
			resume = r.state.InitialReplicationMaxPK
		}
		if _, err := snap.ReplicateTable(ctx, structure, resume); err != nil {
			log.Error("replicator: initial replication failed for table", zap.String("table", table), zap.Error(err))
			failed = append(failed, table)
			continue
		}
		if err := initial.VerifyStructureUnchanged(r.source, structure); err != nil {
			log.Error("replicator: structure verification failed", zap.Error(err))
			failed = append(failed, table)
		}
	}
	if len(failed) > 0 {
		return ResultFatal
	}

	if r.opts.InitialOnly {
		return ResultOK
	}

	if !r.opts.Config.IgnoreDeletes && !r.isParallelWorker {
		if err := r.target.SwapDatabases(ctx, r.targetDatabaseTmp, r.targetDatabase); err != nil {
			return ResultTransient
		}
		r.target.SetDatabase(r.targetDatabase)
	}

	r.state.Status = StatusRunningRealtimeReplication
	if err := r.state.Save(); err != nil {
		return ResultFatal
	}
	return ResultOK
}

func (r *Replicator) runRealtime(ctx context.Context) Result {
	r.source.Close()

	reader, err := binlogstate.NewReaderAtSourcePosition(r.opts.Config.BinlogStateDir(r.opts.Database), r.state.LastProcessedTransaction)
	if err != nil {
		return ResultTransient
	}
	defer reader.Close()

	applier := realtime.NewApplier(nil, r.target, r.cctx, r.opts.Config, r.opts.Database, r)
	applier.OnAdvance = func(pos binlogstate.Position) {
		r.state.LastProcessedTransaction = pos
		r.state.TablesLastRecordVersion = r.target.LastVersions()
		_ = r.state.Save()
	}

	if err := applier.Run(ctx, reader); err != nil {
		return ResultTransient
	}
	return ResultShutdown
}

// Structure implements realtime.TableRegistry.
func (r *Replicator) Structure(table string) (*tablestruct.Structure, bool) {
	s, ok := r.state.TablesStructure[table]
	return s, ok
}

// SetStructure implements realtime.TableRegistry.
func (r *Replicator) SetStructure(table string, structure *tablestruct.Structure) {
	r.state.TablesStructure[table] = structure
}

// Tables implements realtime.TableRegistry.
func (r *Replicator) Tables() []string {
	return r.state.Tables
}

// AddTable implements realtime.TableRegistry.
func (r *Replicator) AddTable(table string) {
	for _, t := range r.state.Tables {
		if t == table {
			return
		}
	}
	r.state.Tables = append(r.state.Tables, table)
}

// DropTable implements realtime.TableRegistry.
func (r *Replicator) DropTable(table string) {
	delete(r.state.TablesStructure, table)
	out := r.state.Tables[:0]
	for _, t := range r.state.Tables {
		if t != table {
			out = append(out, t)
		}
	}
	r.state.Tables = out
}

// RenameTable implements realtime.TableRegistry.
func (r *Replicator) RenameTable(oldName, newName string) {
	if s, ok := r.state.TablesStructure[oldName]; ok {
		s.TableName = newName
		r.state.TablesStructure[newName] = s
		delete(r.state.TablesStructure, oldName)
	}
	for i, t := range r.state.Tables {
		if t == oldName {
			r.state.Tables[i] = newName
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
