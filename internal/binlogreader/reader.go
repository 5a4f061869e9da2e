// Package binlogreader implements component C2: a single long-lived
// subscriber to the MySQL binlog stream that classifies row and DDL
// events, filters them against the configured database/table scope, and
// stages matched events into each source database's event log (C1).
package binlogreader

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/binlogstate"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/config"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/sourcedb"
)

const (
	saveUpdateInterval = 60 * time.Second
	cleanInterval      = 300 * time.Second
	readLogInterval    = 300 * time.Millisecond
	eventBatchLimit    = 1000
)

// dbNameFromQuery extracts the schema a CREATE/ALTER/DROP/RENAME/TRUNCATE
// TABLE statement names, mirroring
// BinlogReplicator._try_parse_db_name_from_query()'s regex.
var dbNameFromQuery = regexp.MustCompile(
	`(?is)(?:CREATE|ALTER|DROP|RENAME|TRUNCATE)\s+TABLE\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?` + "`?([\\w]+)`?\\.",
)

// perDatabaseWriter bundles an event-log writer with the database name it
// serves; segment rotation (by record count) is handled inside the Writer.
type perDatabaseWriter struct {
	db     string
	writer *binlogstate.Writer
}

// Reader streams the MySQL binlog and fans matched events out to one
// event-log writer per source database, mirroring BinlogReplicator.run().
type Reader struct {
	cfg    *config.Settings
	syncer *replication.BinlogSyncer

	mu      sync.Mutex
	writers map[string]*perDatabaseWriter

	currentDB string // schema named by the most recent QueryEvent; recorded only, not read when routing events
	lastFlush time.Time
	lastClean time.Time

	// curFile/curPos track the source binlog coordinates of the event
	// currently being handled, so every staged Event can be tagged with the
	// position it came from and state.json can be durably updated.
	curFile string
	curPos  uint32
	state   *binlogstate.State
}

// New constructs a Reader bound to cfg, without yet connecting.
func New(cfg *config.Settings, serverID uint32) *Reader {
	syncerCfg := replication.BinlogSyncerConfig{
		ServerID: serverID,
		Flavor:   "mysql",
		Host:     cfg.MySQL.Host,
		Port:     uint16(cfg.MySQL.Port),
		User:     cfg.MySQL.User,
		Password: cfg.MySQL.Password,
	}
	return &Reader{
		cfg:     cfg,
		syncer:  replication.NewBinlogSyncer(syncerCfg),
		writers: map[string]*perDatabaseWriter{},
	}
}

// ResumePosition loads the durable state.json checkpoint from cfg's
// top-level data directory and reports where Run should subscribe from: the
// previously saved previous_last_seen_position if one exists, or fallback
// (the source's current binlog end) on a first-ever start. It retains the
// loaded state so Run can keep rotating and saving it as it streams.
func (r *Reader) ResumePosition(fallback mysql.Position) (mysql.Position, error) {
	state, err := binlogstate.LoadState(r.cfg.BinlogReplicator.DataDir)
	if err != nil {
		return mysql.Position{}, errors.Annotate(err, "binlogreader: loading state")
	}
	r.state = state
	if state.PreviousLastSeenPosition.BinlogFile != "" {
		return mysql.Position{Name: state.PreviousLastSeenPosition.BinlogFile, Pos: state.PreviousLastSeenPosition.BinlogPos}, nil
	}
	return fallback, nil
}

// writerFor lazily opens the event-log writer for a source database,
// mirroring DataWriter.get_or_create_file_writer().
func (r *Reader) writerFor(db string) (*perDatabaseWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[db]; ok {
		return w, nil
	}
	writer, err := binlogstate.NewWriter(r.cfg.BinlogStateDir(db), r.cfg.BinlogReplicator.RecordsPerFile)
	if err != nil {
		return nil, err
	}
	w := &perDatabaseWriter{db: db, writer: writer}
	r.writers[db] = w
	return w, nil
}

// Run subscribes starting at pos and streams events until ctx is
// canceled, returning nil on a clean shutdown. It mirrors the main loop
// in both binlog_consumption.go (the streaming/shutdown idiom) and
// BinlogReplicator.run() (batch cap, state rotation, cleanup cadence).
func (r *Reader) Run(ctx context.Context, startPos mysql.Position) error {
	streamer, err := r.syncer.StartSync(startPos)
	if err != nil {
		return errors.Annotate(err, "binlogreader: StartSync")
	}
	log.Info("binlogreader: streaming started", zap.String("file", startPos.Name), zap.Uint32("pos", startPos.Pos))

	r.curFile = startPos.Name
	r.curPos = startPos.Pos
	r.lastFlush = time.Now()
	r.lastClean = time.Now()

	eventsSinceYield := 0
	for {
		select {
		case <-ctx.Done():
			return r.shutdown()
		default:
		}

		ev, err := streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.shutdown()
			}
			if isIndexCorrupted(err) {
				return ErrBinlogIndexCorrupted
			}
			log.Warn("binlogreader: transient read error", zap.Error(err))
			time.Sleep(15 * time.Second)
			continue
		}

		if err := r.handleEvent(ev); err != nil {
			return err
		}

		eventsSinceYield++
		if eventsSinceYield >= eventBatchLimit {
			eventsSinceYield = 0
			time.Sleep(readLogInterval)
		}

		if time.Since(r.lastFlush) >= saveUpdateInterval {
			r.flushAll()
			r.saveState()
			r.lastFlush = time.Now()
		}
		if time.Since(r.lastClean) >= cleanInterval {
			r.cleanAll()
			r.lastClean = time.Now()
		}
	}
}

func (r *Reader) handleEvent(ev *replication.BinlogEvent) error {
	// ev.Header.LogPos is the byte offset immediately after this event in
	// the current file; RotateEvent below corrects both file and offset
	// when the stream moves to the next binlog file.
	r.curPos = ev.Header.LogPos

	switch e := ev.Event.(type) {
	case *replication.QueryEvent:
		db := string(e.Schema)
		if db != "" {
			r.currentDB = db
		}
		query := string(e.Query)
		if targetDB := dbNameFromQuery.FindStringSubmatch(query); len(targetDB) == 2 {
			db = targetDB[1]
		}
		if db == "" || strings.EqualFold(strings.TrimSpace(query), "BEGIN") {
			return nil
		}
		if !r.cfg.IsDatabaseMatches(db) {
			return nil
		}
		return r.stage(db, binlogstate.Event{
			Type:          binlogstate.EventQuery,
			Query:         query,
			TransactionID: r.position(),
		})
	case *replication.RowsEvent:
		db := string(e.Table.Schema)
		table := string(e.Table.Table)
		if !r.cfg.IsDatabaseMatches(db) || !r.cfg.IsTableMatches(table) {
			return nil
		}
		evType, rows := classifyRowsEvent(ev.Header.EventType, e)
		if evType == binlogstate.EventUnknown {
			return nil
		}
		return r.stage(db, binlogstate.Event{
			Type:          evType,
			TableName:     table,
			Rows:          rows,
			TransactionID: r.position(),
		})
	case *replication.RotateEvent:
		r.curFile = string(e.NextLogName)
		r.curPos = uint32(e.Position)
		return nil
	}
	return nil
}

// position reports the source binlog coordinates of the event currently
// being handled, staged onto every Event as its TransactionID.
func (r *Reader) position() binlogstate.Position {
	return binlogstate.Position{BinlogFile: r.curFile, BinlogPos: r.curPos}
}

func classifyRowsEvent(headerType replication.EventType, e *replication.RowsEvent) (binlogstate.EventType, [][]interface{}) {
	switch headerType {
	case replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return binlogstate.EventInsert, e.Rows
	case replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return binlogstate.EventErase, e.Rows
	case replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		// Update rows arrive as (before, after) pairs; only the "after"
		// image is staged as the new record, matching
		// handleRowsEvent()'s step=2 iteration in the teacher example.
		var after [][]interface{}
		for i := 1; i < len(e.Rows); i += 2 {
			after = append(after, e.Rows[i])
		}
		return binlogstate.EventUpdate, after
	default:
		return binlogstate.EventUnknown, nil
	}
}

func (r *Reader) stage(db string, ev binlogstate.Event) error {
	w, err := r.writerFor(db)
	if err != nil {
		return err
	}
	return w.writer.Append(ev)
}

func (r *Reader) flushAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.writers {
		if err := w.writer.Flush(); err != nil {
			log.Warn("binlogreader: flush failed", zap.String("db", w.db), zap.Error(err))
		}
	}
}

func (r *Reader) cleanAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.writers {
		if err := w.writer.RemoveOldFiles(r.cfg.BinlogReplicator.RetentionDuration()); err != nil {
			log.Warn("binlogreader: retention sweep failed", zap.String("db", w.db), zap.Error(err))
		}
	}
}

// saveState rotates and persists state.json to r.curFile/r.curPos, the
// durable checkpoint Run resumes from on its next start. A no-op if
// ResumePosition was never called (e.g. in tests that drive Run directly).
func (r *Reader) saveState() {
	if r.state == nil {
		return
	}
	if err := r.state.Save(binlogstate.Position{BinlogFile: r.curFile, BinlogPos: r.curPos}); err != nil {
		log.Warn("binlogreader: failed to save position state", zap.Error(err))
	}
}

func (r *Reader) shutdown() error {
	r.flushAll()
	r.saveState()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.writers {
		_ = w.writer.Close()
	}
	r.syncer.Close()
	return nil
}

// LastMasterPosition reads the source's current binlog coordinates,
// consulted on a fresh start when no persisted state exists, mirroring
// the teacher's `SHOW MASTER STATUS` bootstrap.
func LastMasterPosition(api *sourcedb.API) (mysql.Position, error) {
	ms, err := api.GetMasterStatus()
	if err != nil {
		return mysql.Position{}, err
	}
	return mysql.Position{Name: ms.File, Pos: ms.Pos}, nil
}
