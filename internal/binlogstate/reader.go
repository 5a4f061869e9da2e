package binlogstate

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNoMoreEvents is returned by Reader.Next when the reader has caught up
// with the writer and no new frame is available yet.
var ErrNoMoreEvents = errors.New("binlogstate: no new events")

// Reader sequentially tails the segment files a Writer produces, resuming
// at an arbitrary (fileNum, recordIndex) position, matching
// binlog_replicator.py's DataReader/FileReader pair.
type Reader struct {
	dataDir     string
	fileNum     int
	recordIndex int

	file *os.File
	buf  *bufio.Reader
}

// NewReader opens dataDir positioned at pos: the first call to Next returns
// record pos.RecordIndex of segment file pos.LogFileNum.
func NewReader(dataDir string, pos Position) (*Reader, error) {
	r := &Reader{dataDir: dataDir, fileNum: pos.LogFileNum, recordIndex: 0}
	if err := r.openFile(r.fileNum); err != nil {
		return nil, err
	}
	for i := 0; i < pos.RecordIndex; i++ {
		if _, err := r.readFrame(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		r.recordIndex++
	}
	return r, nil
}

func (r *Reader) openFile(num int) error {
	if r.file != nil {
		r.file.Close()
	}
	path := fileNameByNum(r.dataDir, num)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	r.file = f
	r.buf = bufio.NewReader(f)
	r.fileNum = num
	r.recordIndex = 0
	return nil
}

func (r *Reader) readFrame() ([]byte, error) {
	start, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	start -= int64(r.buf.Buffered())
	var lenPrefix [4]byte
	_, err = io.ReadFull(r.buf, lenPrefix[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	var payload []byte
	if err == nil {
		payload = make([]byte, binary.BigEndian.Uint32(lenPrefix[:]))
		_, err = io.ReadFull(r.buf, payload)
	}
	if err != nil {
		// A trailing partial record (writer died or is mid-flush) is
		// tolerated: treat it the same as EOF rather than a corruption
		// error, and rewind to the frame's start so a later call reads the
		// record whole once the rest of it has been written.
		if _, err := r.file.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
		r.buf.Reset(r.file)
		return nil, io.EOF
	}
	return payload, nil
}

// Next returns the next staged event and its position, advancing to the
// following numbered segment file once the current one is exhausted and a
// successor file already exists.
func (r *Reader) Next() (Event, Position, error) {
	payload, err := r.readFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			if _, statErr := os.Stat(fileNameByNum(r.dataDir, r.fileNum+1)); statErr == nil {
				if err := r.openFile(r.fileNum + 1); err != nil {
					return Event{}, Position{}, err
				}
				return r.Next()
			}
			return Event{}, Position{}, ErrNoMoreEvents
		}
		return Event{}, Position{}, fmt.Errorf("binlogstate: reading frame: %w", err)
	}

	var ev Event
	if err := gob.NewDecoder(newByteReader(payload)).Decode(&ev); err != nil {
		return Event{}, Position{}, fmt.Errorf("binlogstate: decoding event: %w", err)
	}
	pos := Position{LogFileNum: r.fileNum, RecordIndex: r.recordIndex, BinlogFile: ev.TransactionID.BinlogFile, BinlogPos: ev.TransactionID.BinlogPos}
	r.recordIndex++
	return ev, pos, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func newByteReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct {
	b []byte
	i int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.i >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.i:])
	s.i += n
	return n, nil
}

// NewReaderAtSourcePosition opens dataDir positioned to resume immediately
// after target's source binlog coordinates, by locating the file whose
// records straddle target and scanning forward within it past every event
// at or before target, matching binlog_replicator.py's position-based
// resume.
// Unlike NewReader, it does not require target's LogFileNum/RecordIndex to
// already be valid C1 coordinates — only BinlogFile/BinlogPos, which every
// staged Event carries regardless of which segment file it ends up in.
func NewReaderAtSourcePosition(dataDir string, target Position) (*Reader, error) {
	if target.BinlogFile == "" {
		return NewReader(dataDir, Position{})
	}
	nums, err := existingFileNums(dataDir)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return NewReader(dataDir, Position{})
	}

	var lastFileNum, lastIndex int
	for _, fileNum := range nums {
		idx, found, err := scanForFirstAfter(dataDir, fileNum, target)
		if err != nil {
			return nil, err
		}
		if found {
			return NewReader(dataDir, Position{LogFileNum: fileNum, RecordIndex: idx})
		}
		lastFileNum, lastIndex = fileNum, idx
	}
	// target is at or past every retained event: resume at the live tail.
	return NewReader(dataDir, Position{LogFileNum: lastFileNum, RecordIndex: lastIndex})
}

// scanForFirstAfter reads fileNum front to back, returning the index of the
// first event whose source position is after target (found=true), or the
// file's total record count if none qualifies.
func scanForFirstAfter(dataDir string, fileNum int, target Position) (idx int, found bool, err error) {
	r := &Reader{dataDir: dataDir}
	if err := r.openFile(fileNum); err != nil {
		return 0, false, err
	}
	defer r.Close()

	for {
		payload, err := r.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return idx, false, nil
			}
			return 0, false, fmt.Errorf("binlogstate: reading frame: %w", err)
		}
		var ev Event
		if err := gob.NewDecoder(newByteReader(payload)).Decode(&ev); err != nil {
			return 0, false, fmt.Errorf("binlogstate: decoding event: %w", err)
		}
		if sourceBefore(target, ev.TransactionID) {
			return idx, true, nil
		}
		idx++
	}
}

// sourceBefore orders two positions by their source binlog coordinates,
// assuming binlog file names sort lexically with rotation order (MySQL's
// default zero-padded numeric suffix convention).
func sourceBefore(a, b Position) bool {
	if a.BinlogFile != b.BinlogFile {
		return a.BinlogFile < b.BinlogFile
	}
	return a.BinlogPos < b.BinlogPos
}

// LastFileNum returns the highest-numbered existing segment file, or -1 if
// none exist yet.
func LastFileNum(dataDir string) (int, error) {
	nums, err := existingFileNums(dataDir)
	if err != nil {
		return -1, err
	}
	if len(nums) == 0 {
		return -1, nil
	}
	return nums[len(nums)-1], nil
}
