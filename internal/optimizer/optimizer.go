// Package optimizer implements the supplemental periodic OPTIMIZE loop
// described in SPEC_FULL.md §9, grounded on db_optimizer.py: once per
// optimize_interval tick, pick one eligible replicated database and issue
// `OPTIMIZE TABLE ... FINAL` for each of its tables, forcing
// ReplacingMergeTree merges so deleted/superseded rows stop appearing in
// non-FINAL reads sooner.
package optimizer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/config"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/targetdb"
)

// state tracks which database was optimized last, round-robining across
// the configured databases the same way db_optimizer.py's
// select_db_to_optimize() does.
type state struct {
	path            string
	LastOptimizedDB string `json:"last_optimized_db"`
}

func loadState(path string) (*state, error) {
	s := &state{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *state) save() error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Optimizer periodically optimizes one target database's tables.
type Optimizer struct {
	cfg   *config.Settings
	state *state
}

// New constructs an Optimizer with its state file under the binlog
// data dir, mirroring db_optimizer.py's own State.
func New(cfg *config.Settings) (*Optimizer, error) {
	s, err := loadState(filepath.Join(cfg.BinlogReplicator.DataDir, "optimizer_state.json"))
	if err != nil {
		return nil, err
	}
	return &Optimizer{cfg: cfg, state: s}, nil
}

// Run loops forever, sleeping OptimizeInterval between ticks, until ctx
// is canceled, mirroring DbOptimizer.run().
func (o *Optimizer) Run(ctx context.Context, databases []string) error {
	if len(databases) == 0 {
		return nil
	}
	ticker := time.NewTicker(time.Duration(o.cfg.OptimizeInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			db := o.selectNext(databases)
			if err := o.optimizeDatabase(ctx, db); err != nil {
				log.Warn("optimizer: failed to optimize database", zap.String("database", db), zap.Error(err))
				continue
			}
			o.state.LastOptimizedDB = db
			_ = o.state.save()
		}
	}
}

func (o *Optimizer) selectNext(databases []string) string {
	for i, db := range databases {
		if db == o.state.LastOptimizedDB {
			return databases[(i+1)%len(databases)]
		}
	}
	return databases[0]
}

func (o *Optimizer) optimizeDatabase(ctx context.Context, sourceDB string) error {
	targetDB := o.cfg.TargetDatabaseFor(sourceDB)
	target, err := targetdb.Connect(o.cfg.ClickHouse, targetDB)
	if err != nil {
		return err
	}
	defer target.Close()

	databases, err := target.GetDatabases(ctx)
	if err != nil {
		return err
	}
	if !containsStr(databases, targetDB) {
		return nil
	}

	tables, err := tablesOf(ctx, target, targetDB)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := target.ExecuteCommand(ctx, "OPTIMIZE TABLE `"+targetDB+"`.`"+table+"` FINAL SETTINGS mutations_sync = 2"); err != nil {
			return err
		}
	}
	return nil
}

func tablesOf(ctx context.Context, target *targetdb.API, database string) ([]string, error) {
	return target.ShowTables(ctx)
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
