package binlogstate

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// PreserveFilesCount mirrors binlog_replicator.py's PRESERVE_FILES_COUNT:
// the retention sweep never removes the most recent N segment files even
// if they are older than the retention period, so a slow consumer always
// has somewhere to resume from.
const PreserveFilesCount = 5

func init() {
	gob.Register(Event{})
	// Concrete types that can appear inside a row's []interface{} values,
	// covering the scalar kinds go-mysql's row decoder produces.
	for _, v := range []interface{}{
		int8(0), int16(0), int32(0), int64(0), int(0),
		uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0), "", []byte(nil), true,
	} {
		gob.Register(v)
	}
}

// Writer appends events to a per-database sequence of numbered segment
// files under dataDir, rotating to a new file every recordsPerFile writes
// and sweeping old files on RemoveOldFiles. It mirrors binlog_replicator.py's
// DataWriter.
type Writer struct {
	dataDir        string
	recordsPerFile int

	currentFileNum   int
	currentFile      *os.File
	currentBuf       *bufio.Writer
	recordsInCurrent int
	lastFlush        time.Time
}

// NewWriter opens (or creates) dataDir and resumes appending after the
// highest-numbered existing segment file.
func NewWriter(dataDir string, recordsPerFile int) (*Writer, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "binlogstate: creating data dir %s", dataDir)
	}
	w := &Writer{dataDir: dataDir, recordsPerFile: recordsPerFile, currentFileNum: -1}
	nums, err := existingFileNums(dataDir)
	if err != nil {
		return nil, err
	}
	if len(nums) > 0 {
		w.currentFileNum = nums[len(nums)-1]
	} else {
		w.currentFileNum = 0
	}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openCurrent() error {
	path := fileNameByNum(w.dataDir, w.currentFileNum)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Annotatef(err, "binlogstate: opening segment %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.currentFile = f
	w.currentBuf = bufio.NewWriter(f)
	w.recordsInCurrent = approxRecordCount(info.Size())
	w.lastFlush = time.Now()
	return nil
}

// approxRecordCount estimates the number of records already in a segment
// file purely from its size, since the writer never reopens a file to
// count frames exactly; it only needs to be close enough to trigger
// rotation around the configured threshold.
func approxRecordCount(size int64) int {
	const avgRecordSize = 128
	if size <= 0 {
		return 0
	}
	return int(size / avgRecordSize)
}

// Append encodes ev and writes it as a length-prefixed frame to the
// current segment file, rotating first if the file is full.
func (w *Writer) Append(ev Event) error {
	if w.recordsInCurrent >= w.recordsPerFile {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ev); err != nil {
		return errors.Annotate(err, "binlogstate: encoding event")
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.currentBuf.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := w.currentBuf.Write(buf.Bytes()); err != nil {
		return err
	}
	w.recordsInCurrent++

	if time.Since(w.lastFlush) >= time.Second {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Flush pushes buffered writes to the OS, matching the FLUSH_INTERVAL=1s
// cadence of the Python FileWriter.
func (w *Writer) Flush() error {
	if err := w.currentBuf.Flush(); err != nil {
		return err
	}
	w.lastFlush = time.Now()
	return nil
}

func (w *Writer) rotate() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.currentFile.Close(); err != nil {
		return err
	}
	w.currentFileNum++
	return w.openCurrent()
}

// CurrentFileNum reports the segment file currently being appended to.
func (w *Writer) CurrentFileNum() int {
	return w.currentFileNum
}

// Close flushes and releases the current segment file handle.
func (w *Writer) Close() error {
	if w.currentBuf != nil {
		_ = w.currentBuf.Flush()
	}
	if w.currentFile != nil {
		return w.currentFile.Close()
	}
	return nil
}

// RemoveOldFiles deletes segment files whose modification time is older
// than retention, always preserving the PreserveFilesCount most recent
// files by number regardless of age, matching
// DataWriter.remove_old_files().
func (w *Writer) RemoveOldFiles(retention time.Duration) error {
	nums, err := existingFileNums(w.dataDir)
	if err != nil {
		return err
	}
	if len(nums) <= PreserveFilesCount {
		return nil
	}
	cutoff := time.Now().Add(-retention)
	candidates := nums[:len(nums)-PreserveFilesCount]
	for _, n := range candidates {
		if n == w.currentFileNum {
			continue
		}
		path := fileNameByNum(w.dataDir, n)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				log.Warn("binlogstate: failed to remove old segment", zap.String("path", path), zap.Error(err))
				continue
			}
		}
	}
	return nil
}

func fileNameByNum(dataDir string, num int) string {
	return filepath.Join(dataDir, fmt.Sprintf("%d.bin", num))
}

func existingFileNums(dataDir string) ([]int, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "binlogstate: listing %s", dataDir)
	}
	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".bin") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".bin"))
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}
