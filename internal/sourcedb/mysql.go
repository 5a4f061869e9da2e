// Package sourcedb wraps the MySQL source connection used for schema
// introspection and the initial snapshot's keyset-paginated table scans,
// mirroring mysql_api.py's MySQLApi.
package sourcedb

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/config"
)

// API is a thin, reconnect-aware wrapper over database/sql for the source
// MySQL server, scoped to a single database.
type API struct {
	db       *sql.DB
	database string
	dsn      string
}

// Connect opens a connection pool against cfg, optionally selecting
// database as the active schema (pass "" for a database-less connection,
// used for the initial `SHOW DATABASES` discovery).
func Connect(cfg config.MySQL, database string) (*API, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Annotate(err, "sourcedb: opening connection")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "sourcedb: connecting to %s:%d", cfg.Host, cfg.Port)
	}
	return &API{db: db, database: database, dsn: dsn}, nil
}

// Close releases the underlying connection pool.
func (a *API) Close() error {
	return a.db.Close()
}

// GetDatabases lists schemas visible to the connected user, excluding the
// built-in system schemas, matching MySQLApi.get_databases().
func (a *API) GetDatabases() ([]string, error) {
	rows, err := a.db.Query("SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	systemSchemas := map[string]bool{
		"information_schema": true, "mysql": true, "performance_schema": true, "sys": true,
	}
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !systemSchemas[name] {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

// GetTables lists base tables in the connected database.
func (a *API) GetTables() ([]string, error) {
	rows, err := a.db.Query("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// GetTableCreateStatement fetches the verbatim `SHOW CREATE TABLE` text.
func (a *API) GetTableCreateStatement(table string) (string, error) {
	row := a.db.QueryRow(fmt.Sprintf("SHOW CREATE TABLE `%s`", table))
	var name, ddl string
	if err := row.Scan(&name, &ddl); err != nil {
		return "", errors.Annotatef(err, "sourcedb: SHOW CREATE TABLE %s", table)
	}
	return ddl, nil
}

// MasterStatus is the result of `SHOW MASTER STATUS`, the binlog
// coordinates to start streaming from.
type MasterStatus struct {
	File string
	Pos  uint32
}

// GetMasterStatus reads the current binlog coordinates.
func (a *API) GetMasterStatus() (MasterStatus, error) {
	row := a.db.QueryRow("SHOW MASTER STATUS")
	var ms MasterStatus
	var binlogDoDB, binlogIgnoreDB, executedGTIDSet sql.NullString
	if err := row.Scan(&ms.File, &ms.Pos, &binlogDoDB, &binlogIgnoreDB, &executedGTIDSet); err != nil {
		return MasterStatus{}, errors.Annotate(err, "sourcedb: SHOW MASTER STATUS")
	}
	return ms, nil
}

// GetBinlogFiles lists binlog files currently retained by the server.
// Nothing in this repository calls it.
func (a *API) GetBinlogFiles() ([]string, error) {
	rows, err := a.db.Query("SHOW BINARY LOGS")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if len(vals) > 0 {
			if s, ok := vals[0].(string); ok {
				out = append(out, s)
			} else if b, ok := vals[0].([]byte); ok {
				out = append(out, string(b))
			}
		}
	}
	return out, rows.Err()
}

// Scan reads up to limit rows from table ordered by the primary key
// columns, resuming strictly after the given cursor values (keyset
// pagination), mirroring MySQLApi.get_records()'s query builder.
func (a *API) Scan(table string, columns []string, primaryKeys []string, cursor []interface{}, limit int) ([][]interface{}, error) {
	colList := quoteIdentList(columns)
	orderList := quoteIdentList(primaryKeys)

	query := fmt.Sprintf("SELECT %s FROM `%s` ORDER BY %s LIMIT ?", colList, table, orderList)
	args := []interface{}{limit}
	if len(cursor) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(primaryKeys)), ",")
		query = fmt.Sprintf(
			"SELECT %s FROM `%s` WHERE (%s) > (%s) ORDER BY %s LIMIT ?",
			colList, table, orderList, placeholders, orderList,
		)
		args = append(append([]interface{}{}, cursor...), limit)
	}

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errors.Annotatef(err, "sourcedb: scanning %s", table)
	}
	defer rows.Close()

	var out [][]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
	}
	return strings.Join(quoted, ", ")
}
