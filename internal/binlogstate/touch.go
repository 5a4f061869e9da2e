package binlogstate

import (
	"os"
	"path/filepath"
	"time"
)

// TouchAllFiles updates every segment file's modification time for a
// database, preventing the retention sweep from reclaiming segments a
// slow-moving snapshot still needs to resume from, mirroring utils.py's
// touch_all_files()/prevent_binlog_removal().
func TouchAllFiles(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_ = os.Chtimes(filepath.Join(dataDir, e.Name()), now, now)
	}
	return nil
}
