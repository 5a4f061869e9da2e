package convert

import (
	"regexp"
	"strings"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

var (
	primaryKeyInlineRe = regexp.MustCompile(`(?is)^PRIMARY\s+KEY\s*\(([^)]*)\)`)
	columnDefRe        = regexp.MustCompile("(?is)^`?(\\w+)`?\\s+([\\w]+(?:\\([^)]*\\))?)\\s*(.*)$")
)

// ParseCreateTableStructure parses a `CREATE TABLE ... (...)` statement's
// body into a tablestruct.Structure, mirroring
// parse_mysql_table_structure()'s column/PRIMARY-KEY extraction. It is a
// line-oriented parser over the comma-split column list rather than a
// full SQL grammar, matching the sqlparse-token-walk the original
// implementation uses for the same purpose.
func ParseCreateTableStructure(query string) (*tablestruct.Structure, error) {
	q := strings.TrimSpace(StripSQLComments(query))
	m := createTableRe.FindStringSubmatch(q)
	if m == nil {
		return nil, errNotCreateTable
	}
	tableName := lastPart(m[2])
	body := strings.TrimSpace(m[3])

	open := strings.Index(body, "(")
	if open < 0 {
		return nil, errNotCreateTable
	}
	closeIdx := matchingParen(body, open)
	if closeIdx < 0 {
		return nil, errNotCreateTable
	}
	inner := body[open+1 : closeIdx]

	structure := &tablestruct.Structure{TableName: tableName}

	for _, clause := range SplitHighLevel(inner, ',') {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		upper := strings.ToUpper(clause)
		switch {
		case strings.HasPrefix(upper, "PRIMARY KEY"):
			if pm := primaryKeyInlineRe.FindStringSubmatch(clause); pm != nil {
				structure.PrimaryKeys = splitColumnList(pm[1])
			}
		case strings.HasPrefix(upper, "KEY") || strings.HasPrefix(upper, "INDEX") ||
			strings.HasPrefix(upper, "UNIQUE") || strings.HasPrefix(upper, "CONSTRAINT") ||
			strings.HasPrefix(upper, "FOREIGN KEY") || strings.HasPrefix(upper, "FULLTEXT") ||
			strings.HasPrefix(upper, "SPATIAL") || strings.HasPrefix(upper, "CHECK"):
			// index/constraint clauses have no ClickHouse analogue.
		default:
			if fm := columnDefRe.FindStringSubmatch(clause); fm != nil {
				name := StripSQLName(fm[1])
				colType := fm[2]
				params := strings.TrimSpace(fm[3])
				structure.Fields = append(structure.Fields, tablestruct.Field{
					Name: name, Type: colType, Parameters: params,
				})
				if strings.Contains(strings.ToUpper(params), "PRIMARY KEY") {
					structure.PrimaryKeys = append(structure.PrimaryKeys, name)
				}
			}
		}
	}

	structure.Preprocess()
	return structure, nil
}

func splitColumnList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		out = append(out, StripSQLName(strings.TrimSpace(part)))
	}
	return out
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var errNotCreateTable = &parseError{"convert: not a CREATE TABLE statement"}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
