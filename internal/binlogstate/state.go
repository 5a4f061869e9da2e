package binlogstate

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// State is the binlog reader's own durable position record: where it last
// flushed to disk, and the position before that, so a crash between the
// rename and the next flush never loses more than one checkpoint. It
// mirrors binlog_replicator.py's State (state.json).
type State struct {
	path string

	LastSeenPosition         Position `json:"last_seen_position"`
	PreviousLastSeenPosition Position `json:"previous_last_seen_position"`
	PID                      int      `json:"pid"`
}

// LoadState reads state.json from dir, returning a zero-value State if the
// file does not exist yet.
func LoadState(dir string) (*State, error) {
	s := &State{path: filepath.Join(dir, "state.json")}
	data, err := os.ReadFile(s.path)
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

// Save rotates LastSeenPosition into PreviousLastSeenPosition and persists
// the new position atomically via a temp-file rename, matching State.save().
func (s *State) Save(pos Position) error {
	s.PreviousLastSeenPosition = s.LastSeenPosition
	s.LastSeenPosition = pos
	s.PID = os.Getpid()

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

// Remove deletes the state file and any leftover temp file, used when a
// downstream consumer detects an unrecoverable inconsistency and forces a
// replication restart from scratch.
func (s *State) Remove() error {
	for _, p := range []string{s.path, s.path + ".tmp"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
