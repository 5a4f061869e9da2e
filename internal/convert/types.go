// Package convert implements the type/DDL translation component: mapping
// MySQL column types and DDL statements to their ClickHouse equivalents,
// and converting row values between the two systems' wire representations.
package convert

import (
	"fmt"
	"strings"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

// ConvertType maps a MySQL column type string (as it appears in
// information_schema / SHOW CREATE TABLE) to a ClickHouse type, honoring
// any ctx.TypesMapping override first, mirroring
// MysqlToClickhouseConverter.convert_type().
func ConvertType(ctx *Context, mysqlType string, parameters string) string {
	if override, ok := ctx.typeOverride(mysqlType); ok {
		return override
	}

	t := strings.ToLower(strings.TrimSpace(mysqlType))
	base, args := splitTypeArgs(t)

	switch {
	case base == "tinyint":
		if strings.Contains(parameters, "unsigned") {
			return "UInt8"
		}
		return "Int8"
	case base == "smallint":
		if strings.Contains(parameters, "unsigned") {
			return "UInt16"
		}
		return "Int16"
	case base == "mediumint":
		if strings.Contains(parameters, "unsigned") {
			return "UInt32"
		}
		return "Int32"
	case base == "int" || base == "integer":
		if strings.Contains(parameters, "unsigned") {
			return "UInt32"
		}
		return "Int32"
	case base == "bigint":
		if strings.Contains(parameters, "unsigned") {
			return "UInt64"
		}
		return "Int64"
	case base == "float":
		return "Float32"
	case base == "double", base == "double precision", base == "real":
		return "Float64"
	case base == "decimal", base == "numeric":
		precision, scale := decimalArgs(args)
		if scale == 0 {
			switch {
			case precision <= 9:
				return "Int32"
			case precision <= 18:
				return "Int64"
			default:
				return "Int128"
			}
		}
		return fmt.Sprintf("Decimal(%d, %d)", precision, scale)
	case base == "bit":
		return "UInt64"
	case base == "year":
		return "UInt16"
	case base == "date":
		return "Date"
	case base == "datetime", base == "timestamp":
		precision := 0
		if len(args) > 0 {
			precision = atoiSafe(args[0])
		}
		tz := ctx.timezone()
		if precision > 0 {
			return fmt.Sprintf("DateTime64(%d, '%s')", precision, tz)
		}
		return fmt.Sprintf("DateTime('%s')", tz)
	case base == "time":
		return "String"
	case base == "char", base == "varchar", base == "tinytext", base == "text",
		base == "mediumtext", base == "longtext":
		return "String"
	case base == "binary", base == "varbinary", base == "tinyblob", base == "blob",
		base == "mediumblob", base == "longblob":
		return "String"
	case base == "json":
		return "String"
	case base == "enum":
		return fmt.Sprintf("Enum8(%s)", enumValuesToClickhouse(args))
	case base == "set":
		return "String"
	case base == "point", base == "geometry":
		return "Tuple(x Float64, y Float64)"
	case base == "polygon", base == "multipolygon", base == "linestring":
		return "String"
	case base == "boolean", base == "bool":
		return "Bool"
	case base == "uuid":
		return "UUID"
	default:
		return "String"
	}
}

// ConvertFieldType wraps a base ClickHouse type in Nullable() unless the
// column is declared NOT NULL or is part of the primary key, matching
// convert_field_type()'s Nullable-wrapping rule. Primary key columns are
// never nullable in the ClickHouse target regardless of their MySQL
// nullability, since they participate in the ORDER BY/sorting key.
func ConvertFieldType(clickhouseType string, parameters string, isPrimaryKey bool) string {
	if isPrimaryKey {
		return clickhouseType
	}
	if strings.Contains(strings.ToUpper(parameters), "NOT NULL") {
		return clickhouseType
	}
	if strings.HasPrefix(clickhouseType, "Array(") {
		return clickhouseType
	}
	return fmt.Sprintf("Nullable(%s)", clickhouseType)
}

// ConvertTableStructure produces the ClickHouse-side field list and
// primary key set for a MySQL table structure, mirroring
// convert_table_structure(). It does not itself emit DDL text; that is
// the target writer's job (internal/targetdb).
func ConvertTableStructure(ctx *Context, src *tablestruct.Structure) *tablestruct.Structure {
	dst := &tablestruct.Structure{
		TableName:   src.TableName,
		PrimaryKeys: append([]string(nil), src.PrimaryKeys...),
	}
	pk := make(map[string]bool, len(src.PrimaryKeys))
	for _, k := range src.PrimaryKeys {
		pk[k] = true
	}
	for _, f := range src.Fields {
		chType := ConvertType(ctx, f.Type, f.Parameters)
		chType = ConvertFieldType(chType, f.Parameters, pk[f.Name])
		dst.Fields = append(dst.Fields, tablestruct.Field{
			Name:       f.Name,
			Type:       chType,
			Parameters: f.Parameters,
		})
	}
	return dst
}

func splitTypeArgs(t string) (base string, args []string) {
	open := strings.Index(t, "(")
	if open < 0 {
		return t, nil
	}
	base = strings.TrimSpace(t[:open])
	close := strings.LastIndex(t, ")")
	if close < open {
		return base, nil
	}
	inner := t[open+1 : close]
	for _, part := range strings.Split(inner, ",") {
		args = append(args, strings.TrimSpace(part))
	}
	return base, args
}

func decimalArgs(args []string) (precision, scale int) {
	precision, scale = 10, 0
	if len(args) > 0 {
		precision = atoiSafe(args[0])
	}
	if len(args) > 1 {
		scale = atoiSafe(args[1])
	}
	return
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// enumValuesToClickhouse turns the quoted MySQL ENUM('a','b') argument list
// into ClickHouse's Enum8('a' = 1, 'b' = 2, ...) body, 1-indexed and
// lowercased, matching EnumConverter.convert_mysql_to_clickhouse_enum().
func enumValuesToClickhouse(args []string) string {
	var parts []string
	for i, a := range args {
		label := strings.ToLower(strings.Trim(a, "'\""))
		parts = append(parts, fmt.Sprintf("'%s' = %d", label, i+1))
	}
	return strings.Join(parts, ", ")
}
