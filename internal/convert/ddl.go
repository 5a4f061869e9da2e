package convert

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

// StripSQLName trims backticks/quotes and whitespace from an identifier,
// mirroring strip_sql_name().
func StripSQLName(name string) string {
	name = strings.TrimSpace(name)
	return strings.Trim(name, "`\"")
}

// StripSQLComments removes `-- ...` line comments and `/* ... */` block
// comments from a statement, mirroring strip_sql_comments()/_strip_comments().
func StripSQLComments(query string) string {
	var out strings.Builder
	inBlock := false
	runes := []rune(query)
	for i := 0; i < len(runes); i++ {
		if inBlock {
			if runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				inBlock = false
				i++
			}
			continue
		}
		if runes[i] == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			inBlock = true
			i++
			continue
		}
		if runes[i] == '-' && i+1 < len(runes) && runes[i+1] == '-' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				out.WriteRune('\n')
			}
			continue
		}
		out.WriteRune(runes[i])
	}
	return out.String()
}

// SplitHighLevel splits s on the separator rune only at paren-depth 0 and
// outside quoted strings, mirroring split_high_level() — used to break a
// multi-clause ALTER TABLE statement at its top-level commas without
// splitting inside e.g. ENUM('a,b') or DECIMAL(10,2).
func SplitHighLevel(s string, sep rune) []string {
	var parts []string
	var cur strings.Builder
	depth := 0
	var quote rune
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			cur.WriteRune(r)
		case r == '(':
			depth++
			cur.WriteRune(r)
		case r == ')':
			depth--
			cur.WriteRune(r)
		case r == sep && depth == 0:
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		parts = append(parts, strings.TrimSpace(cur.String()))
	}
	return parts
}

var (
	alterTableRe  = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+` + "`" + `?([\w.]+)` + "`" + `?\s+(.*)$`)
	createTableRe = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+(IF\s+NOT\s+EXISTS\s+)?` + "`" + `?([\w.]+)` + "`" + `?\s*(.*)$`)
	renameTableRe = regexp.MustCompile(`(?is)^\s*RENAME\s+TABLE\s+` + "`" + `?([\w.]+)` + "`" + `?\s+TO\s+` + "`" + `?([\w.]+)` + "`" + `?`)
	dropTableRe   = regexp.MustCompile(`(?is)^\s*DROP\s+TABLE\s+(IF\s+EXISTS\s+)?` + "`" + `?([\w.]+)` + "`" + `?`)
	truncateRe    = regexp.MustCompile(`(?is)^\s*TRUNCATE\s+(TABLE\s+)?` + "`" + `?([\w.]+)` + "`" + `?`)
)

// QueryKind classifies a DDL statement for the realtime applier's dispatch.
type QueryKind int

const (
	QueryOther QueryKind = iota
	QueryAlterTable
	QueryCreateTable
	QueryRenameTable
	QueryDropTable
	QueryTruncateTable
)

// ClassifyQuery identifies which DDL shape a statement is, after stripping
// comments, mirroring the dispatch in handle_query_event().
func ClassifyQuery(query string) QueryKind {
	q := strings.TrimSpace(StripSQLComments(query))
	switch {
	case alterTableRe.MatchString(q):
		return QueryAlterTable
	case createTableRe.MatchString(q):
		return QueryCreateTable
	case renameTableRe.MatchString(q):
		return QueryRenameTable
	case dropTableRe.MatchString(q):
		return QueryDropTable
	case truncateRe.MatchString(q):
		return QueryTruncateTable
	default:
		return QueryOther
	}
}

// ParsedRename holds the two (possibly db-qualified) names from a RENAME
// TABLE statement.
type ParsedRename struct {
	From, To string
}

// ParseRenameTable extracts old/new table names, rejecting a rename that
// crosses databases, mirroring handle_rename_table_query()'s guard.
func ParseRenameTable(query string) (ParsedRename, error) {
	m := renameTableRe.FindStringSubmatch(strings.TrimSpace(StripSQLComments(query)))
	if m == nil {
		return ParsedRename{}, fmt.Errorf("convert: not a RENAME TABLE statement")
	}
	from, to := m[1], m[2]
	fromDB, _ := splitDBTable(from)
	toDB, _ := splitDBTable(to)
	if fromDB != "" && toDB != "" && fromDB != toDB {
		return ParsedRename{}, fmt.Errorf("convert: cross-database RENAME TABLE is not supported (%s -> %s)", from, to)
	}
	return ParsedRename{From: lastPart(from), To: lastPart(to)}, nil
}

// ParseDropTable extracts the table name from a DROP TABLE statement.
func ParseDropTable(query string) (string, error) {
	m := dropTableRe.FindStringSubmatch(strings.TrimSpace(StripSQLComments(query)))
	if m == nil {
		return "", fmt.Errorf("convert: not a DROP TABLE statement")
	}
	return lastPart(m[2]), nil
}

// ParseTruncateTable extracts the table name from a TRUNCATE statement.
func ParseTruncateTable(query string) (string, error) {
	m := truncateRe.FindStringSubmatch(strings.TrimSpace(StripSQLComments(query)))
	if m == nil {
		return "", fmt.Errorf("convert: not a TRUNCATE TABLE statement")
	}
	return lastPart(m[2]), nil
}

func splitDBTable(qualified string) (db, table string) {
	parts := strings.SplitN(qualified, ".", 2)
	if len(parts) == 2 {
		return StripSQLName(parts[0]), StripSQLName(parts[1])
	}
	return "", StripSQLName(qualified)
}

func lastPart(qualified string) string {
	_, t := splitDBTable(qualified)
	return t
}

// AlterOp is one clause of a (possibly multi-clause) ALTER TABLE statement.
type AlterOp struct {
	Kind    AlterOpKind
	Column  string // target column name (ADD/MODIFY/new name for CHANGE/RENAME)
	OldName string // CHANGE COLUMN's old name
	Type    string // declared MySQL type, for ADD/MODIFY/CHANGE
	Params  string // remaining column parameters (NOT NULL, DEFAULT, etc.)
	After   string // AFTER <col>, empty if not given or FIRST
	First   bool
}

type AlterOpKind int

const (
	AlterOpIgnored AlterOpKind = iota
	AlterAddColumn
	AlterDropColumn
	AlterModifyColumn
	AlterChangeColumn
	AlterRenameColumn
)

var (
	addColumnRe    = regexp.MustCompile(`(?is)^ADD\s+(?:COLUMN\s+)?` + "`" + `?(\w+)` + "`" + `?\s+([\w]+(?:\([^)]*\))?)\s*(.*)$`)
	dropColumnRe   = regexp.MustCompile(`(?is)^DROP\s+(?:COLUMN\s+)?` + "`" + `?(\w+)` + "`" + `?`)
	modifyColumnRe = regexp.MustCompile(`(?is)^MODIFY\s+(?:COLUMN\s+)?` + "`" + `?(\w+)` + "`" + `?\s+([\w]+(?:\([^)]*\))?)\s*(.*)$`)
	changeColumnRe = regexp.MustCompile(`(?is)^CHANGE\s+(?:COLUMN\s+)?` + "`" + `?(\w+)` + "`" + `?\s+` + "`" + `?(\w+)` + "`" + `?\s+([\w]+(?:\([^)]*\))?)\s*(.*)$`)
	renameColumnRe = regexp.MustCompile(`(?is)^RENAME\s+COLUMN\s+` + "`" + `?(\w+)` + "`" + `?\s+TO\s+` + "`" + `?(\w+)` + "`" + `?`)
	afterRe        = regexp.MustCompile(`(?is)AFTER\s+` + "`" + `?(\w+)` + "`" + `?`)
	firstRe        = regexp.MustCompile(`(?is)\bFIRST\b`)
)

// ParseAlterTable splits an ALTER TABLE statement into its table name and
// the list of recognized column operations, dropping index/constraint
// clauses (ADD INDEX, ADD KEY, ADD CONSTRAINT, etc.) the same way
// _tokenize_alter_query() and the private __convert_alter_table_* helpers
// do — those clauses affect MySQL-only concerns (indexes, foreign keys)
// that have no ClickHouse analogue.
func ParseAlterTable(query string) (table string, ops []AlterOp, err error) {
	q := strings.TrimSpace(StripSQLComments(query))
	m := alterTableRe.FindStringSubmatch(q)
	if m == nil {
		return "", nil, fmt.Errorf("convert: not an ALTER TABLE statement")
	}
	table = lastPart(m[1])
	clauses := SplitHighLevel(m[2], ',')
	for _, clause := range clauses {
		op, ok := parseAlterClause(clause)
		if ok {
			ops = append(ops, op)
		}
	}
	return table, ops, nil
}

func parseAlterClause(clause string) (AlterOp, bool) {
	clause = strings.TrimSpace(clause)
	upper := strings.ToUpper(clause)

	if strings.HasPrefix(upper, "ADD") {
		if strings.Contains(upper, "INDEX") || strings.Contains(upper, "KEY") ||
			strings.Contains(upper, "CONSTRAINT") || strings.Contains(upper, "FOREIGN") ||
			strings.Contains(upper, "PRIMARY KEY") || strings.Contains(upper, "UNIQUE") {
			return AlterOp{}, false
		}
		if m := addColumnRe.FindStringSubmatch(clause); m != nil {
			op := AlterOp{Kind: AlterAddColumn, Column: m[1], Type: m[2], Params: m[3]}
			applyPosition(&op, m[3])
			return op, true
		}
		return AlterOp{}, false
	}

	if strings.HasPrefix(upper, "DROP") {
		if strings.Contains(upper, "INDEX") || strings.Contains(upper, "KEY") ||
			strings.Contains(upper, "CONSTRAINT") || strings.Contains(upper, "FOREIGN") ||
			strings.Contains(upper, "PRIMARY KEY") {
			return AlterOp{}, false
		}
		if m := dropColumnRe.FindStringSubmatch(clause); m != nil {
			return AlterOp{Kind: AlterDropColumn, Column: m[1]}, true
		}
		return AlterOp{}, false
	}

	if strings.HasPrefix(upper, "MODIFY") {
		if m := modifyColumnRe.FindStringSubmatch(clause); m != nil {
			op := AlterOp{Kind: AlterModifyColumn, Column: m[1], Type: m[2], Params: m[3]}
			applyPosition(&op, m[3])
			return op, true
		}
		return AlterOp{}, false
	}

	if strings.HasPrefix(upper, "CHANGE") {
		if m := changeColumnRe.FindStringSubmatch(clause); m != nil {
			op := AlterOp{Kind: AlterChangeColumn, OldName: m[1], Column: m[2], Type: m[3], Params: m[4]}
			applyPosition(&op, m[4])
			return op, true
		}
		return AlterOp{}, false
	}

	if strings.HasPrefix(upper, "RENAME COLUMN") {
		if m := renameColumnRe.FindStringSubmatch(clause); m != nil {
			return AlterOp{Kind: AlterRenameColumn, OldName: m[1], Column: m[2]}, true
		}
		return AlterOp{}, false
	}

	// RENAME TO / other table-level clauses (ENGINE=, comment changes,
	// ALGORITHM=, LOCK=, etc.) are ignored the same way the Python
	// converter silently drops unsupported ALTER clauses.
	return AlterOp{}, false
}

func applyPosition(op *AlterOp, tail string) {
	if firstRe.MatchString(tail) {
		op.First = true
		return
	}
	if m := afterRe.FindStringSubmatch(tail); m != nil {
		op.After = m[1]
	}
}

// ApplyAlterOps mutates structure in place to reflect ops, in the order
// MySQL applies multi-clause ALTER TABLE statements, grounded on the
// Python converter's per-clause private handlers.
func ApplyAlterOps(ctx *Context, structure *tablestruct.Structure, ops []AlterOp) error {
	for _, op := range ops {
		switch op.Kind {
		case AlterAddColumn:
			chType := ConvertFieldType(ConvertType(ctx, op.Type, op.Params), op.Params, false)
			f := tablestruct.Field{Name: op.Column, Type: chType, Parameters: op.Params}
			if op.First {
				structure.AddFieldFirst(f)
			} else if err := structure.AddFieldAfter(f, op.After); err != nil {
				return err
			}
		case AlterDropColumn:
			if err := structure.RemoveField(op.Column); err != nil {
				return err
			}
		case AlterModifyColumn:
			isPK := isPrimaryKey(structure, op.Column)
			chType := ConvertFieldType(ConvertType(ctx, op.Type, op.Params), op.Params, isPK)
			if err := structure.UpdateField(tablestruct.Field{Name: op.Column, Type: chType, Parameters: op.Params}); err != nil {
				return err
			}
		case AlterChangeColumn:
			if op.OldName != op.Column {
				if err := structure.RenameField(op.OldName, op.Column); err != nil {
					return err
				}
			}
			isPK := isPrimaryKey(structure, op.Column)
			chType := ConvertFieldType(ConvertType(ctx, op.Type, op.Params), op.Params, isPK)
			if err := structure.UpdateField(tablestruct.Field{Name: op.Column, Type: chType, Parameters: op.Params}); err != nil {
				return err
			}
		case AlterRenameColumn:
			if err := structure.RenameField(op.OldName, op.Column); err != nil {
				return err
			}
		}
	}
	return nil
}

func isPrimaryKey(s *tablestruct.Structure, name string) bool {
	for _, pk := range s.PrimaryKeys {
		if pk == name {
			return true
		}
	}
	return false
}

// ParseCreateTableLike extracts the source table name from
// `CREATE TABLE new_table LIKE old_table`, mirroring
// _handle_create_table_like(). ok is false when query is not this shape.
func ParseCreateTableLike(query string) (newTable, likeTable string, ok bool) {
	q := strings.TrimSpace(StripSQLComments(query))
	m := createTableRe.FindStringSubmatch(q)
	if m == nil {
		return "", "", false
	}
	rest := strings.TrimSpace(m[3])
	likeRe := regexp.MustCompile(`(?is)^LIKE\s+` + "`" + `?([\w.]+)` + "`" + `?`)
	lm := likeRe.FindStringSubmatch(rest)
	if lm == nil {
		return "", "", false
	}
	return lastPart(m[2]), lastPart(lm[1]), true
}
