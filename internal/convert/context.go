package convert

// Context carries the per-replicator knobs that a handful of conversion
// entry points need beyond the bare field/value being converted: a custom
// MySQL-type-to-ClickHouse-type override table, the timezone DATETIME/
// TIMESTAMP values should be interpreted in, and the source-to-target
// database/table name mapping used when rewriting DDL that must name the
// target. It is this package's analogue of the Python converter's back
// reference to its owning DbReplicator.
type Context struct {
	TypesMapping  map[string]string
	MySQLTimezone string

	// TargetDatabase resolves a source database name to its target name,
	// e.g. via config.Settings.TargetDatabaseFor.
	TargetDatabase func(sourceDB string) string
}

func (c *Context) typeOverride(mysqlType string) (string, bool) {
	if c == nil || c.TypesMapping == nil {
		return "", false
	}
	t, ok := c.TypesMapping[mysqlType]
	return t, ok
}

func (c *Context) timezone() string {
	if c == nil || c.MySQLTimezone == "" {
		return "UTC"
	}
	return c.MySQLTimezone
}
