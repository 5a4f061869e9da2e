// Package binlogstate implements the append-only, segmented event log that
// the binlog reader stages events into and each per-database replicator
// tails independently (component C1 of the replication pipeline).
package binlogstate

// EventType enumerates the kinds of events carried in the log, mirroring
// binlog_replicator.py's EventType enum.
type EventType int

const (
	EventUnknown EventType = iota
	EventAddEvent
	EventInsert
	EventUpdate
	EventErase
	EventQuery
)

// Event is one staged log record: a row-level DML batch or a DDL
// statement, tagged with the binlog coordinates it came from.
type Event struct {
	Type          EventType
	TableName     string
	Rows          [][]interface{} // row images for Insert/Update/Erase (Update holds only the after-images)
	Query         string          // raw statement text for EventQuery
	TransactionID Position
}

// Position identifies a point in the source binlog stream: the file name
// MySQL reports plus the byte offset, paired with the log file number and
// record index this event was staged as, mirroring the Python
// implementation's (log_file_num, record_index, event_time) transaction id
// tuple used for resumable reads.
type Position struct {
	LogFileNum  int
	RecordIndex int
	BinlogFile  string
	BinlogPos   uint32
}

// Less reports whether p precedes other in log order.
func (p Position) Less(other Position) bool {
	if p.LogFileNum != other.LogFileNum {
		return p.LogFileNum < other.LogFileNum
	}
	return p.RecordIndex < other.RecordIndex
}
