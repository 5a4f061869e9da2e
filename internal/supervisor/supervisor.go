// Package supervisor implements component C7: it spawns and restarts the
// binlog reader and one per-database replicator process each, discovers
// newly created source databases, and serves the HTTP restart endpoint,
// mirroring runner.py's Runner/RunAllRunner.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/config"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/procrunner"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/replicator"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/sourcedb"
)

// dbReplicatorRunDelay staggers per-database replicator spawns, matching
// Runner.DB_REPLICATOR_RUN_DELAY.
const dbReplicatorRunDelay = 5 * time.Second

// Supervisor owns the binlog reader process, one per-database replicator
// process, and optionally the optimizer process.
type Supervisor struct {
	cfg     *config.Settings
	exePath string

	mu              sync.Mutex
	binlogRunner    *procrunner.Runner
	optimizerRunner *procrunner.Runner
	dbRunners       map[string]*procrunner.Runner
}

// New constructs a Supervisor for cfg, re-invoking exePath (the current
// binary) for every child process.
func New(cfg *config.Settings, exePath string) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		exePath:   exePath,
		dbRunners: map[string]*procrunner.Runner{},
	}
}

// Run starts the binlog reader, discovers and launches per-database
// replicators, and blocks polling liveness/discovery until ctx is
// canceled, mirroring Runner.run().
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.binlogRunner = procrunner.New(s.exePath, "binlog_replicator", "--config", s.cfg.SettingsFile)
	if err := s.binlogRunner.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: starting binlog reader: %w", err)
	}
	if s.cfg.OptimizeInterval > 0 {
		s.optimizerRunner = procrunner.New(s.exePath, "db_optimizer", "--config", s.cfg.SettingsFile)
		_ = s.optimizerRunner.Start()
	}
	s.mu.Unlock()

	if s.cfg.HTTPPort > 0 {
		go s.serveHTTP(ctx)
	}

	checkTicker := time.NewTicker(time.Duration(s.cfg.CheckDBUpdatedInterval) * time.Second)
	defer checkTicker.Stop()
	liveTicker := time.NewTicker(time.Second)
	defer liveTicker.Stop()

	s.discoverDatabases()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return nil
		case <-liveTicker.C:
			s.restartDeadProcesses()
		case <-checkTicker.C:
			s.discoverDatabases()
		}
	}
}

func (s *Supervisor) discoverDatabases() {
	api, err := sourcedb.Connect(s.cfg.MySQL, "")
	if err != nil {
		log.Warn("supervisor: failed to connect for database discovery", zap.Error(err))
		return
	}
	defer api.Close()

	databases, err := api.GetDatabases()
	if err != nil {
		log.Warn("supervisor: failed to list databases", zap.Error(err))
		return
	}

	matched := make(map[string]bool, len(databases))
	for _, db := range databases {
		if s.cfg.IsDatabaseMatches(db) {
			matched[db] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for db, runner := range s.dbRunners {
		if matched[db] {
			continue
		}
		log.Info("supervisor: database no longer present, stopping its replicator", zap.String("database", db))
		_ = runner.Stop()
		delete(s.dbRunners, db)
	}
	for db := range matched {
		if _, ok := s.dbRunners[db]; ok {
			continue
		}
		runner := procrunner.New(s.exePath, "db_replicator", "--config", s.cfg.SettingsFile, "--db", db)
		if err := runner.Start(); err != nil {
			log.Error("supervisor: failed to start db_replicator", zap.String("database", db), zap.Error(err))
			continue
		}
		s.dbRunners[db] = runner
		time.Sleep(dbReplicatorRunDelay)
	}
}

func (s *Supervisor) restartDeadProcesses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binlogRunner != nil {
		if err := s.binlogRunner.RestartIfDead(); err != nil {
			log.Error("supervisor: failed to restart binlog reader", zap.Error(err))
		}
	}
	if s.optimizerRunner != nil {
		_ = s.optimizerRunner.RestartIfDead()
	}
	for db, runner := range s.dbRunners {
		if err := runner.RestartIfDead(); err != nil {
			log.Error("supervisor: failed to restart db_replicator", zap.String("database", db), zap.Error(err))
		}
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binlogRunner != nil {
		_ = s.binlogRunner.Stop()
	}
	if s.optimizerRunner != nil {
		_ = s.optimizerRunner.Stop()
	}
	for _, runner := range s.dbRunners {
		_ = runner.Stop()
	}
	s.dbRunners = map[string]*procrunner.Runner{}
}

// restartAllDBWorkers stops every per-database replicator, deletes its
// persisted state, and respawns it, blocking until every respawned worker
// is confirmed alive again, matching the /restart_replication endpoint's
// synchronous contract.
func (s *Supervisor) restartAllDBWorkers() {
	s.mu.Lock()
	databases := make([]string, 0, len(s.dbRunners))
	for db, runner := range s.dbRunners {
		_ = runner.Stop()
		databases = append(databases, db)
		delete(s.dbRunners, db)
	}
	s.mu.Unlock()

	for _, db := range databases {
		if err := replicator.RemoveState(s.cfg.BinlogReplicator.DataDir, db); err != nil {
			log.Warn("supervisor: failed to remove state for restarted database", zap.String("database", db), zap.Error(err))
		}
	}

	s.mu.Lock()
	for _, db := range databases {
		runner := procrunner.New(s.exePath, "db_replicator", "--config", s.cfg.SettingsFile, "--db", db)
		if err := runner.Start(); err != nil {
			log.Error("supervisor: failed to restart db_replicator", zap.String("database", db), zap.Error(err))
			continue
		}
		s.dbRunners[db] = runner
	}
	s.mu.Unlock()

	s.waitForWorkersAlive(databases, 30*time.Second)
}

// waitForWorkersAlive blocks until every named database has a live runner
// or timeout elapses, so the HTTP handler can observe the restart before
// responding.
func (s *Supervisor) waitForWorkersAlive(databases []string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		allAlive := true
		s.mu.Lock()
		for _, db := range databases {
			runner, ok := s.dbRunners[db]
			if !ok || !runner.IsAlive() {
				allAlive = false
				break
			}
		}
		s.mu.Unlock()
		if allAlive || time.Now().After(deadline) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// serveHTTP exposes GET /restart_replication, matching runner.py's
// FastAPI router. The handler blocks until the restart completes, then
// reports {"restarted": true}.
func (s *Supervisor) serveHTTP(ctx context.Context) {
	router := httprouter.New()
	router.GET("/restart_replication", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		log.Info("supervisor: restart requested via HTTP endpoint")
		s.restartAllDBWorkers()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"restarted": true}`))
	})

	addr := fmt.Sprintf("%s:%d", s.cfg.HTTPHost, s.cfg.HTTPPort)
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("supervisor: http server failed", zap.Error(err))
	}
}
