package initial

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// workerTimeout bounds a single parallel snapshot worker's runtime,
// matching perform_initial_replication_table_parallel()'s 3600s subprocess
// timeout.
const workerTimeout = 3600 * time.Second

// TableHash returns the filesystem-safe identifier used in a parallel
// worker's state file name, matching db_replicator.py's
// sha256(table_name)[:16].
func TableHash(table string) string {
	sum := sha256.Sum256([]byte(table))
	return hex.EncodeToString(sum[:])[:16]
}

// RunParallelWorkers re-invokes the current binary once per worker,
// mirroring perform_initial_replication_table_parallel()'s subprocess
// spawning. Each worker is given `db_replicator --worker_id --total_workers
// --table --target_db --initial_only=True`, the same CLI shape the original
// implementation forks. The replicator does not call it, and a worker
// process does not apply WorkerPredicate to its scan, so each worker reads
// the whole table rather than one hash partition of it.
func RunParallelWorkers(ctx context.Context, exePath, settingsFile, database, targetDB, table string, totalWorkers int, logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	type result struct {
		workerID int
		err      error
	}
	results := make(chan result, totalWorkers)

	for workerID := 0; workerID < totalWorkers; workerID++ {
		go func(id int) {
			logPath := filepath.Join(logDir, fmt.Sprintf("worker_%d_%s.log", id, table))
			logFile, err := os.Create(logPath)
			if err != nil {
				results <- result{id, err}
				return
			}
			defer logFile.Close()

			workerCtx, cancel := context.WithTimeout(ctx, workerTimeout)
			defer cancel()

			cmd := exec.CommandContext(workerCtx, exePath, "db_replicator",
				"--config", settingsFile,
				"--db", database,
				"--target_db", targetDB,
				"--table", table,
				"--worker_id", fmt.Sprintf("%d", id),
				"--total_workers", fmt.Sprintf("%d", totalWorkers),
				"--initial_only=True",
			)
			cmd.Stdout = logFile
			cmd.Stderr = logFile
			err = cmd.Run()
			results <- result{id, err}
		}(workerID)
	}

	var firstErr error
	for i := 0; i < totalWorkers; i++ {
		r := <-results
		if r.err != nil {
			log.Error("initial: parallel snapshot worker failed", zap.Int("worker_id", r.workerID), zap.Error(r.err))
			if firstErr == nil {
				firstErr = fmt.Errorf("initial: worker %d: %w", r.workerID, r.err)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	// Logs are only cleaned up on full success, matching the original's
	// worker_logs/ retention-on-failure behavior used for debugging.
	_ = os.RemoveAll(logDir)
	return nil
}

// WorkerPredicate returns a SQL fragment selecting the rows a given
// worker owns, partitioning by the hash of the primary key modulo the
// worker count. Neither ReplicateTable nor sourcedb.Scan applies it.
func WorkerPredicate(primaryKey string, workerID, totalWorkers int) string {
	return fmt.Sprintf("cityHash64(`%s`) %% %d = %d", primaryKey, totalWorkers, workerID)
}
