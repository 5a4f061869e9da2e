// Package targetdb implements the ClickHouse target writer component
// (C6): versioned bulk inserts/deletes, table/database DDL, and the
// retry policy around transient target errors.
package targetdb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jpillora/backoff"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/config"
	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

// MaxRetries and RetryIntervalSeconds bound the backoff applied to transient
// target errors, matching ClickhouseApi.MAX_RETRIES/RETRY_INTERVAL.
const (
	MaxRetries           = 5
	RetryIntervalSeconds = 30
)

// API wraps a ClickHouse connection scoped to a target database, tracking
// the last-written `_version` per table so inserts always advance it.
type API struct {
	conn     clickhouse.Conn
	database string

	mu                      sync.Mutex
	tablesLastRecordVersion map[string]uint64

	stats GeneralStats
}

// Connect opens a ClickHouse connection, matching ClickhouseApi.__init__'s
// connection parameters (host/port/user/password/timeouts).
func Connect(cfg config.ClickHouse, database string) (*API, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.ConnectionTimeoutDuration(),
		ReadTimeout: cfg.SendReceiveTimeoutDuration(),
	})
	if err != nil {
		return nil, errors.Annotate(err, "targetdb: opening connection")
	}
	return &API{
		conn:                    conn,
		database:                database,
		tablesLastRecordVersion: map[string]uint64{},
	}, nil
}

// SetDatabase repoints the API at a different target database name, used
// when a replicator switches between the "_tmp" staging database and the
// final name during snapshot cutover.
func (a *API) SetDatabase(database string) {
	a.database = database
}

func (a *API) Database() string { return a.database }

func withRetry(op string, fn func() error) error {
	b := &backoff.Backoff{Min: RetryIntervalSeconds * time.Second, Max: RetryIntervalSeconds * time.Second, Factor: 1}
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			log.Warn("targetdb: transient error, retrying", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
			time.Sleep(b.Duration())
			continue
		}
		return nil
	}
	return fmt.Errorf("targetdb: %s failed after %d attempts: %w", op, MaxRetries, lastErr)
}

// ExecuteCommand runs a DDL/administrative statement with retry, matching
// ClickhouseApi.execute_command().
func (a *API) ExecuteCommand(ctx context.Context, query string) error {
	return withRetry("execute_command", func() error {
		return a.conn.Exec(ctx, query)
	})
}

// CreateDatabase issues `CREATE DATABASE IF NOT EXISTS`.
func (a *API) CreateDatabase(ctx context.Context, name string) error {
	return a.ExecuteCommand(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name))
}

// DropDatabase issues `DROP DATABASE IF EXISTS`.
func (a *API) DropDatabase(ctx context.Context, name string) error {
	return a.ExecuteCommand(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name))
}

// RecreateDatabase drops then recreates the current target database,
// mirroring ClickhouseApi.recreate_database(), used before a fresh
// initial snapshot into the "_tmp" staging database.
func (a *API) RecreateDatabase(ctx context.Context) error {
	if err := a.DropDatabase(ctx, a.database); err != nil {
		return err
	}
	return a.CreateDatabase(ctx, a.database)
}

// SwapDatabases performs the atomic D_tmp -> D rename sequence: the old D
// is renamed to D_old, D_tmp is renamed to D, then D_old is dropped,
// matching the temp-database-swap pattern in db_replicator_initial.py.
func (a *API) SwapDatabases(ctx context.Context, tmpName, finalName string) error {
	oldName := finalName + "_old"
	_ = a.DropDatabase(ctx, oldName)

	databases, err := a.GetDatabases(ctx)
	if err != nil {
		return err
	}
	if contains(databases, finalName) {
		if err := a.ExecuteCommand(ctx, fmt.Sprintf("RENAME DATABASE `%s` TO `%s`", finalName, oldName)); err != nil {
			return err
		}
	}
	if err := a.ExecuteCommand(ctx, fmt.Sprintf("RENAME DATABASE `%s` TO `%s`", tmpName, finalName)); err != nil {
		return err
	}
	return a.DropDatabase(ctx, oldName)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// GetDatabases lists databases visible to the connection.
func (a *API) GetDatabases(ctx context.Context) ([]string, error) {
	rows, err := a.conn.Query(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// ShowTables lists tables in the current target database.
func (a *API) ShowTables(ctx context.Context) ([]string, error) {
	rows, err := a.conn.Query(ctx, fmt.Sprintf("SHOW TABLES FROM `%s`", a.database))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// CreateTable emits a ReplacingMergeTree table for structure, with an
// appended `_version UInt64` column used as the engine's version argument,
// a minmax index on it, a bloom_filter index on the primary key when it is
// a single column, and a default intDiv partitioning scheme for a single
// integer primary key, matching CREATE_TABLE_QUERY in clickhouse_api.py.
func (a *API) CreateTable(ctx context.Context, structure *tablestruct.Structure, extraIndexes, partitionBys []string) error {
	var cols []string
	for _, f := range structure.Fields {
		cols = append(cols, fmt.Sprintf("`%s` %s", f.Name, f.Type))
	}
	cols = append(cols, "`_version` UInt64")
	cols = append(cols, "INDEX _version _version TYPE minmax")
	if len(structure.PrimaryKeys) == 1 {
		cols = append(cols, fmt.Sprintf("INDEX idx_id `%s` TYPE bloom_filter", structure.PrimaryKeys[0]))
	}
	cols = append(cols, extraIndexes...)

	orderBy := strings.Join(quoteIdents(structure.PrimaryKeys), ", ")
	if orderBy == "" {
		orderBy = "tuple()"
	}

	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s`.`%s` (%s) ENGINE = ReplacingMergeTree(_version) ORDER BY (%s)",
		a.database, structure.TableName, strings.Join(cols, ", "), orderBy,
	)
	if partition := partitionExpr(structure, partitionBys); partition != "" {
		ddl += " PARTITION BY " + partition
	}
	return a.ExecuteCommand(ctx, ddl)
}

// partitionExpr honors an explicit partitionBys override first, and
// otherwise falls back to intDiv(pk, 4294967) when structure has exactly
// one integer-typed primary key, matching the spec's default partitioning
// scheme for naturally-ordered integer keys.
func partitionExpr(structure *tablestruct.Structure, partitionBys []string) string {
	if len(partitionBys) > 0 {
		return partitionBys[0]
	}
	if len(structure.PrimaryKeys) != 1 {
		return ""
	}
	pk := structure.PrimaryKeys[0]
	for _, f := range structure.Fields {
		if f.Name == pk && isIntegerType(f.Type) {
			return fmt.Sprintf("intDiv(`%s`, 4294967)", pk)
		}
	}
	return ""
}

func isIntegerType(chType string) bool {
	t := strings.TrimPrefix(chType, "Nullable(")
	t = strings.TrimSuffix(t, ")")
	return strings.HasPrefix(t, "Int") || strings.HasPrefix(t, "UInt")
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "`" + n + "`"
	}
	return out
}

// NextVersion returns the version number the next Insert call for table
// should use: the table's last-seen version plus one. Version 0 is never
// issued by a live writer, reserved as the "no data yet" sentinel
// consolidate_worker_record_versions() falls back to.
func (a *API) NextVersion(table string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tablesLastRecordVersion[table]++
	return a.tablesLastRecordVersion[table]
}

// SetLastVersion seeds the in-memory version counter for table, used on
// replicator startup to resume from the persisted state, and after
// parallel-snapshot-worker consolidation.
func (a *API) SetLastVersion(table string, version uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if version > a.tablesLastRecordVersion[table] {
		a.tablesLastRecordVersion[table] = version
	}
}

// LastVersions snapshots the current per-table version counters, for
// persisting into the replicator's state file.
func (a *API) LastVersions() map[string]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]uint64, len(a.tablesLastRecordVersion))
	for k, v := range a.tablesLastRecordVersion {
		out[k] = v
	}
	return out
}

// GetMaxRecordVersion queries MAX(_version) for table, returning 0 if the
// table is empty or missing, matching
// ClickhouseApi.get_max_record_version() and the worker-consolidation
// contract described in SPEC_FULL.md.
func (a *API) GetMaxRecordVersion(ctx context.Context, table string) (uint64, error) {
	row := a.conn.QueryRow(ctx, fmt.Sprintf("SELECT MAX(_version) FROM `%s`.`%s`", a.database, table))
	var v *uint64
	if err := row.Scan(&v); err != nil {
		return 0, nil
	}
	if v == nil {
		return 0, nil
	}
	return *v, nil
}

// Insert bulk-inserts rows into table, each row tagged with the next
// monotonic version, matching ClickhouseApi.insert()'s batch-insert path.
func (a *API) Insert(ctx context.Context, structure *tablestruct.Structure, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()

	colNames := make([]string, 0, len(structure.Fields)+1)
	for _, f := range structure.Fields {
		colNames = append(colNames, f.Name)
	}
	colNames = append(colNames, "_version")

	return withRetry("insert", func() error {
		batch, err := a.conn.PrepareBatch(ctx, fmt.Sprintf(
			"INSERT INTO `%s`.`%s` (%s)", a.database, structure.TableName, strings.Join(quoteIdents(colNames), ", "),
		))
		if err != nil {
			return err
		}
		for _, row := range rows {
			version := a.NextVersion(structure.TableName)
			values := append(append([]interface{}{}, row...), version)
			if err := batch.Append(values...); err != nil {
				return err
			}
		}
		if err := batch.Send(); err != nil {
			return err
		}
		a.recordStats(structure.TableName, time.Since(start), len(rows), true)
		return nil
	})
}

// Erase deletes rows by primary key with a single composite `DELETE FROM
// t WHERE (pk1,...,pkN) IN (...)` statement, matching ClickhouseApi.erase().
func (a *API) Erase(ctx context.Context, structure *tablestruct.Structure, pkValues [][]interface{}) error {
	if len(pkValues) == 0 {
		return nil
	}
	start := time.Now()
	return withRetry("erase", func() error {
		var tuples []string
		var args []interface{}
		for _, pk := range pkValues {
			placeholders := make([]string, len(pk))
			for i := range pk {
				placeholders[i] = "?"
			}
			tuples = append(tuples, "("+strings.Join(placeholders, ", ")+")")
			args = append(args, pk...)
		}
		query := fmt.Sprintf(
			"DELETE FROM `%s`.`%s` WHERE (%s) IN (%s)",
			a.database, structure.TableName, strings.Join(quoteIdents(structure.PrimaryKeys), ", "), strings.Join(tuples, ", "),
		)
		if err := a.conn.Exec(ctx, query, args...); err != nil {
			return err
		}
		a.recordStats(structure.TableName, time.Since(start), len(pkValues), false)
		return nil
	})
}

// GetSystemSetting reads a ClickHouse server setting value, used at
// startup to warn when `final` isn't enabled by default, matching
// ClickhouseApi.get_system_setting().
func (a *API) GetSystemSetting(ctx context.Context, name string) (string, error) {
	row := a.conn.QueryRow(ctx, "SELECT value FROM system.settings WHERE name = ?", name)
	var value string
	if err := row.Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// Close releases the underlying connection.
func (a *API) Close() error {
	return a.conn.Close()
}
