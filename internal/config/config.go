// Package config loads and validates the replicator's YAML settings file
// and implements the include/exclude glob matching used to scope which
// databases and tables are replicated.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StringList accepts either a bare scalar or a YAML sequence, matching the
// Python config's `str | list` fields (databases, tables, exclude_*, and
// the per-Index/PartitionBy database/table selectors).
type StringList []string

// UnmarshalYAML implements custom decoding for the scalar-or-sequence shape.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v string
		if err := value.Decode(&v); err != nil {
			return err
		}
		*s = StringList{v}
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := value.Decode(&v); err != nil {
			return err
		}
		*s = StringList(v)
		return nil
	default:
		return fmt.Errorf("config: expected scalar or sequence, got %v", value.Kind)
	}
}

// MySQL holds source connection settings.
type MySQL struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func (m *MySQL) setDefaults() {
	if m.Host == "" {
		m.Host = "localhost"
	}
	if m.Port == 0 {
		m.Port = 3306
	}
	if m.User == "" {
		m.User = "root"
	}
}

func (m MySQL) validate() error {
	if m.Host == "" {
		return fmt.Errorf("config: mysql host must not be empty")
	}
	return nil
}

// ClickHouse holds target connection settings.
type ClickHouse struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	ConnectionTimeout  int    `yaml:"connection_timeout"`
	SendReceiveTimeout int    `yaml:"send_receive_timeout"`
}

func (c *ClickHouse) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.User == "" {
		c.User = "root"
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 30
	}
	if c.SendReceiveTimeout == 0 {
		c.SendReceiveTimeout = 120
	}
}

func (c ClickHouse) validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("config: clickhouse connection_timeout should be at least 1 second")
	}
	if c.SendReceiveTimeout <= 0 {
		return fmt.Errorf("config: clickhouse send_receive_timeout should be at least 1 second")
	}
	return nil
}

func (c ClickHouse) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectionTimeout) * time.Second
}

func (c ClickHouse) SendReceiveTimeoutDuration() time.Duration {
	return time.Duration(c.SendReceiveTimeout) * time.Second
}

// BinlogReplicator holds the local on-disk event log store's settings.
type BinlogReplicator struct {
	DataDir               string `yaml:"data_dir"`
	RecordsPerFile        int    `yaml:"records_per_file"`
	BinlogRetentionPeriod int    `yaml:"binlog_retention_period"`
}

func (b *BinlogReplicator) setDefaults() {
	if b.DataDir == "" {
		b.DataDir = "binlog"
	}
	if b.RecordsPerFile == 0 {
		b.RecordsPerFile = 100000
	}
	if b.BinlogRetentionPeriod == 0 {
		b.BinlogRetentionPeriod = 43200
	}
}

func (b BinlogReplicator) validate() error {
	if b.RecordsPerFile <= 0 {
		return fmt.Errorf("config: binlog_replicator records_per_file should be positive")
	}
	if b.BinlogRetentionPeriod <= 0 {
		return fmt.Errorf("config: binlog_replicator binlog_retention_period should be positive")
	}
	return nil
}

func (b BinlogReplicator) RetentionDuration() time.Duration {
	return time.Duration(b.BinlogRetentionPeriod) * time.Second
}

// Index describes an extra ClickHouse index to attach to matching tables.
type Index struct {
	Databases StringList `yaml:"databases"`
	Tables    StringList `yaml:"tables"`
	IndexDDL  string     `yaml:"index"`
}

// PartitionBy describes an extra PARTITION BY clause for matching tables.
type PartitionBy struct {
	Databases   StringList `yaml:"databases"`
	Tables      StringList `yaml:"tables"`
	PartitionBy string     `yaml:"partition_by"`
}

const (
	DefaultLogLevel               = "info"
	DefaultOptimizeInterval       = 86400
	DefaultCheckDBUpdatedInterval = 120
	DefaultAutoRestartInterval    = 3600
)

// Settings is the root configuration object, loaded from YAML.
type Settings struct {
	MySQL      MySQL      `yaml:"mysql"`
	ClickHouse ClickHouse `yaml:"clickhouse"`

	Databases        StringList `yaml:"databases"`
	Tables           StringList `yaml:"tables"`
	ExcludeDatabases StringList `yaml:"exclude_databases"`
	ExcludeTables    StringList `yaml:"exclude_tables"`

	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	DebugLogLevel bool   `yaml:"-"`

	OptimizeInterval       int `yaml:"optimize_interval"`
	CheckDBUpdatedInterval int `yaml:"check_db_updated_interval"`
	AutoRestartInterval    int `yaml:"auto_restart_interval"`

	Indexes      []Index       `yaml:"indexes"`
	PartitionBys []PartitionBy `yaml:"partition_bys"`

	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`

	TypesMapping map[string]string `yaml:"types_mapping"`

	TargetDatabases map[string]string `yaml:"target_databases"`

	InitialReplicationThreads int `yaml:"initial_replication_threads"`

	IgnoreDeletes bool `yaml:"ignore_deletes"`

	MySQLTimezone string `yaml:"mysql_timezone"`

	BinlogReplicator BinlogReplicator `yaml:"binlog_replicator"`

	SettingsFile string `yaml:"-"`
}

// Load reads and validates a YAML settings file, matching Settings.load()
// in the original implementation field for field.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	s := &Settings{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	s.SettingsFile = path

	s.MySQL.setDefaults()
	s.ClickHouse.setDefaults()
	s.BinlogReplicator.setDefaults()

	if len(s.Tables) == 0 {
		s.Tables = StringList{"*"}
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.OptimizeInterval == 0 {
		s.OptimizeInterval = DefaultOptimizeInterval
	}
	if s.CheckDBUpdatedInterval == 0 {
		s.CheckDBUpdatedInterval = DefaultCheckDBUpdatedInterval
	}
	if s.AutoRestartInterval == 0 {
		s.AutoRestartInterval = DefaultAutoRestartInterval
	}
	if s.MySQLTimezone == "" {
		s.MySQLTimezone = "UTC"
	}
	if s.TypesMapping == nil {
		s.TypesMapping = map[string]string{}
	}
	if s.TargetDatabases == nil {
		s.TargetDatabases = map[string]string{}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field invariants, mirroring Settings.validate().
func (s *Settings) Validate() error {
	if err := s.MySQL.validate(); err != nil {
		return err
	}
	if err := s.ClickHouse.validate(); err != nil {
		return err
	}
	if err := s.BinlogReplicator.validate(); err != nil {
		return err
	}
	if err := s.validateLogLevel(); err != nil {
		return err
	}
	if s.InitialReplicationThreads < 0 {
		return fmt.Errorf("config: initial_replication_threads should be non-negative")
	}
	if err := s.validateMySQLTimezone(); err != nil {
		return err
	}
	return nil
}

func (s *Settings) validateLogLevel() error {
	switch s.LogLevel {
	case "critical", "error", "warning", "info", "debug":
	default:
		return fmt.Errorf("config: wrong log level %q", s.LogLevel)
	}
	s.DebugLogLevel = s.LogLevel == "debug"
	return nil
}

func (s *Settings) validateMySQLTimezone() error {
	if _, err := time.LoadLocation(s.MySQLTimezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: use IANA timezone names like \"UTC\", \"Europe/London\", \"America/New_York\"", s.MySQLTimezone)
	}
	return nil
}

// IsPatternMatches reports whether substr matches pattern, where pattern is
// either empty/"*" (match everything), a single glob, or a list of globs
// ORed together — the Go analogue of Settings.is_pattern_matches.
func IsPatternMatches(substr string, pattern StringList) bool {
	if len(pattern) == 0 {
		return true
	}
	for _, p := range pattern {
		if p == "" || p == "*" {
			return true
		}
		if ok, _ := filepath.Match(p, substr); ok {
			return true
		}
	}
	return false
}

// IsDatabaseMatches applies the databases/exclude_databases filter pair,
// exclude taking precedence, matching Settings.is_database_matches.
func (s *Settings) IsDatabaseMatches(dbName string) bool {
	if len(s.ExcludeDatabases) > 0 && IsPatternMatches(dbName, s.ExcludeDatabases) {
		return false
	}
	return IsPatternMatches(dbName, s.Databases)
}

// IsTableMatches applies the tables/exclude_tables filter pair, exclude
// taking precedence, matching Settings.is_table_matches.
func (s *Settings) IsTableMatches(tableName string) bool {
	if len(s.ExcludeTables) > 0 && IsPatternMatches(tableName, s.ExcludeTables) {
		return false
	}
	return IsPatternMatches(tableName, s.Tables)
}

// GetIndexes returns the extra index DDL fragments that apply to db.table.
func (s *Settings) GetIndexes(dbName, tableName string) []string {
	var out []string
	for _, idx := range s.Indexes {
		if !IsPatternMatches(dbName, idx.Databases) {
			continue
		}
		if !IsPatternMatches(tableName, idx.Tables) {
			continue
		}
		out = append(out, idx.IndexDDL)
	}
	return out
}

// GetPartitionBys returns the extra PARTITION BY fragments that apply to
// db.table.
func (s *Settings) GetPartitionBys(dbName, tableName string) []string {
	var out []string
	for _, pb := range s.PartitionBys {
		if !IsPatternMatches(dbName, pb.Databases) {
			continue
		}
		if !IsPatternMatches(tableName, pb.Tables) {
			continue
		}
		out = append(out, pb.PartitionBy)
	}
	return out
}

// TargetDatabaseFor resolves the target database name for a source
// database, applying the config map then leaving the caller's CLI
// override (if any) to take final precedence.
func (s *Settings) TargetDatabaseFor(sourceDB string) string {
	if mapped, ok := s.TargetDatabases[sourceDB]; ok && mapped != "" {
		return mapped
	}
	return sourceDB
}

// BinlogStateDir returns the per-source-database directory under the
// event log store's data_dir.
func (s *Settings) BinlogStateDir(database string) string {
	return filepath.Join(s.BinlogReplicator.DataDir, database)
}
