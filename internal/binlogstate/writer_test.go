package binlogstate

import (
	"testing"
	"time"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1000)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	events := []Event{
		{Type: EventInsert, TableName: "orders", Rows: [][]interface{}{{int64(1), "a"}}, TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 100}},
		{Type: EventInsert, TableName: "orders", Rows: [][]interface{}{{int64(2), "b"}}, TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 200}},
		{Type: EventQuery, Query: "ALTER TABLE orders ADD COLUMN c INT", TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 300}},
	}
	for _, ev := range events {
		if err := w.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(dir, Position{LogFileNum: 0, RecordIndex: 0})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	for i, want := range events {
		got, pos, err := r.Next()
		if err != nil {
			t.Fatalf("Next() at %d: %v", i, err)
		}
		if got.Type != want.Type || got.TableName != want.TableName || got.Query != want.Query {
			t.Fatalf("event %d mismatch: got %+v, want %+v", i, got, want)
		}
		if pos.RecordIndex != i {
			t.Fatalf("event %d expected record index %d, got %d", i, i, pos.RecordIndex)
		}
	}

	if _, _, err := r.Next(); err != ErrNoMoreEvents {
		t.Fatalf("expected ErrNoMoreEvents after exhausting log, got %v", err)
	}
}

func TestNewReaderAtSourcePositionResumesAfterTarget(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 2)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	events := []Event{
		{Type: EventInsert, TableName: "t", TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 100}},
		{Type: EventInsert, TableName: "t", TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 200}},
		{Type: EventInsert, TableName: "t", TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 300}},
		{Type: EventInsert, TableName: "t", TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 400}},
	}
	for _, ev := range events {
		if err := w.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReaderAtSourcePosition(dir, Position{BinlogFile: "bin.000001", BinlogPos: 200})
	if err != nil {
		t.Fatalf("NewReaderAtSourcePosition: %v", err)
	}
	defer r.Close()

	got, _, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.TransactionID.BinlogPos != 300 {
		t.Fatalf("expected resume at the first event after the target position, got %+v", got.TransactionID)
	}
}

func TestNewReaderAtSourcePositionEmptyTargetStartsFromBeginning(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1000)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Append(Event{Type: EventInsert, TableName: "t", TransactionID: Position{BinlogFile: "bin.000001", BinlogPos: 100}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Flush()
	w.Close()

	r, err := NewReaderAtSourcePosition(dir, Position{})
	if err != nil {
		t.Fatalf("NewReaderAtSourcePosition: %v", err)
	}
	defer r.Close()

	got, pos, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pos.RecordIndex != 0 || got.TransactionID.BinlogPos != 100 {
		t.Fatalf("expected first event from the start, got %+v at %+v", got, pos)
	}
}

func TestWriterRotatesOnRecordLimit(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 2)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := w.Append(Event{Type: EventInsert, TableName: "t"}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if w.CurrentFileNum() != 1 {
		t.Fatalf("expected rotation to file 1 after exceeding records_per_file, got %d", w.CurrentFileNum())
	}
}

func TestRemoveOldFilesPreservesRecentAndCurrent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 8; i++ {
		if err := w.Append(Event{Type: EventInsert, TableName: "t"}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	w.Flush()

	nums, err := existingFileNums(dir)
	if err != nil {
		t.Fatalf("existingFileNums: %v", err)
	}
	if len(nums) < PreserveFilesCount+1 {
		t.Fatalf("expected more than PreserveFilesCount files to exist, got %d", len(nums))
	}

	if err := w.RemoveOldFiles(0 * time.Second); err != nil {
		t.Fatalf("RemoveOldFiles: %v", err)
	}

	remaining, err := existingFileNums(dir)
	if err != nil {
		t.Fatalf("existingFileNums: %v", err)
	}
	if len(remaining) < PreserveFilesCount {
		t.Fatalf("expected at least PreserveFilesCount files preserved, got %d", len(remaining))
	}
}
