package replicator

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/binlogstate"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

// State is the per-replicated-database durable checkpoint: the state
// machine status, the last fully-applied binlog position, per-table
// version counters, captured table structures, and snapshot progress
// markers. It is the Go analogue of db_replicator.py's State (state.pckl),
// gob-encoded in place of pickle.
type State struct {
	path string

	Status                   Status
	LastProcessedTransaction binlogstate.Position
	TablesLastRecordVersion  map[string]uint64
	InitialReplicationTable  string
	InitialReplicationMaxPK  []interface{}
	TablesStructure          map[string]*tablestruct.Structure
	Tables                   []string
	PID                      int
	SaveTime                 int64
}

func init() {
	gob.Register(State{})
	// Concrete types that can appear in InitialReplicationMaxPK's
	// []interface{} slot, covering the MySQL primary-key column types
	// the snapshotter's keyset cursor commonly advances over.
	for _, v := range []interface{}{int64(0), uint64(0), float64(0), "", []byte(nil)} {
		gob.Register(v)
	}
}

// statePath mirrors DbReplicator's plain (non-worker) state file naming.
func statePath(dataDir, database string) string {
	return filepath.Join(dataDir, database, "state.pckl")
}

// workerStatePath mirrors the deterministic worker state file naming in
// db_replicator.py: sha256(table)[:16] keeps the filename filesystem-safe
// regardless of the table name's characters.
func workerStatePath(dataDir, database string, workerID, totalWorkers int, tableHash string) string {
	return filepath.Join(dataDir, database, tableHashFileName(workerID, totalWorkers, tableHash))
}

func tableHashFileName(workerID, totalWorkers int, tableHash string) string {
	return "state_worker_" + itoa(workerID) + "_of_" + itoa(totalWorkers) + "_" + tableHash + ".pckl"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RemoveState deletes database's persisted state file (and any leftover
// temp file), forcing its next run to start replication from scratch. Used
// by the supervisor's restart endpoint, which must clear worker state
// before respawning.
func RemoveState(dataDir, database string) error {
	s := &State{path: statePath(dataDir, database)}
	return s.Remove()
}

// LoadState reads the state file at path, returning a freshly
// initialized State (Status: StatusNone) if it does not exist yet.
func LoadState(path string) (*State, error) {
	s := &State{
		path:                    path,
		TablesLastRecordVersion: map[string]uint64{},
		TablesStructure:         map[string]*tablestruct.Structure{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(s); err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// Save persists the state atomically via temp-file + rename, matching
// State.save().
func (s *State) Save() error {
	s.PID = os.Getpid()
	s.SaveTime = time.Now().Unix()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Remove deletes the state file and any leftover temp file, forcing a
// from-scratch replication restart.
func (s *State) Remove() error {
	for _, p := range []string{s.path, s.path + ".tmp"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
