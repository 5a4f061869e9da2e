package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pingcap/log"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

// ConvertRecord converts one MySQL row (as decoded by the binlog row event
// or the keyset scan) into the value slice ready for insertion into the
// ClickHouse target, applying per-column type-specific conversions.
// Mirrors MysqlToClickhouseConverter.convert_record()/convert_records().
func ConvertRecord(ctx *Context, structure *tablestruct.Structure, row []interface{}) ([]interface{}, error) {
	if len(row) != len(structure.Fields) {
		return nil, fmt.Errorf("convert: row has %d values, structure has %d fields", len(row), len(structure.Fields))
	}
	out := make([]interface{}, len(row))
	for i, f := range structure.Fields {
		v, err := convertValue(ctx, f, row[i])
		if err != nil {
			return nil, fmt.Errorf("convert: column %q: %w", f.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func convertValue(ctx *Context, f tablestruct.Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	base, _ := splitTypeArgs(strings.ToLower(f.Type))

	switch base {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		return normalizeSignedness(base, f.Parameters, v), nil
	case "decimal", "numeric":
		return convertDecimal(v)
	case "json":
		return convertJSON(v)
	case "point", "geometry":
		return convertPoint(v)
	case "polygon", "multipolygon", "linestring":
		return convertPolygonText(v)
	case "year":
		return clampYear(v), nil
	case "set":
		return convertSetBitmask(v, f.Type), nil
	case "enum":
		_, args := splitTypeArgs(strings.ToLower(f.Type))
		return convertEnumIndex(v, args), nil
	case "date", "datetime", "timestamp":
		return convertTemporal(base, v), nil
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext",
		"binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		if b, ok := v.([]byte); ok {
			return ConvertBytes(charsetFromParameters(f.Parameters), b), nil
		}
		return v, nil
	case "uuid":
		return convertUUID(v)
	default:
		return v, nil
	}
}

// normalizeSignedness reinterprets a value the binlog decoder produced as
// signed when the column is declared UNSIGNED, using the same bit-pattern
// arithmetic as convert_record()'s unsigned-int fixups, since go-mysql's
// row decoder does not itself always know a column's signedness for every
// row format.
func normalizeSignedness(base string, parameters string, v interface{}) interface{} {
	if !strings.Contains(strings.ToLower(parameters), "unsigned") {
		return v
	}
	switch n := v.(type) {
	case int8:
		return uint8(n)
	case int16:
		return uint16(n)
	case int32:
		if n < 0 {
			switch base {
			case "mediumint":
				return uint32(n) & 0xFFFFFF
			default:
				return uint32(n)
			}
		}
		return uint32(n)
	case int64:
		if n < 0 {
			return uint64(n)
		}
		return uint64(n)
	case int:
		return normalizeSignedness(base, parameters, int64(n))
	default:
		return v
	}
}

func convertDecimal(v interface{}) (interface{}, error) {
	switch d := v.(type) {
	case string:
		dec, err := decimal.NewFromString(d)
		if err != nil {
			return nil, err
		}
		return dec, nil
	case float64:
		return decimal.NewFromFloat(d), nil
	case decimal.Decimal:
		return d, nil
	default:
		return v, nil
	}
}

func convertJSON(v interface{}) (interface{}, error) {
	switch j := v.(type) {
	case string:
		return j, nil
	case []byte:
		return string(j), nil
	default:
		b, err := json.Marshal(j)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

// convertPoint decodes a MySQL WKB POINT (4-byte SRID + WKB header + two
// float64s) into an (x, y) pair, mirroring parse_mysql_point().
func convertPoint(v interface{}) (interface{}, error) {
	b, ok := v.([]byte)
	if !ok {
		return v, nil
	}
	if len(b) < 25 {
		return nil, fmt.Errorf("convert: point payload too short (%d bytes)", len(b))
	}
	wkb := b[4:]
	byteOrder := binary.LittleEndian
	if wkb[0] == 0 {
		byteOrder = binary.BigEndian
	}
	x := math.Float64frombits(byteOrder.Uint64(wkb[5:13]))
	y := math.Float64frombits(byteOrder.Uint64(wkb[13:21]))
	return [2]float64{x, y}, nil
}

// convertPolygonText renders a WKB polygon payload into a human-readable
// "((x y, x y, ...), ...)" string, mirroring parse_mysql_polygon()'s
// output shape without attempting a structured ClickHouse geo type.
func convertPolygonText(v interface{}) (interface{}, error) {
	b, ok := v.([]byte)
	if !ok {
		return v, nil
	}
	if len(b) < 9 {
		return "", nil
	}
	wkb := b[4:]
	byteOrder := binary.LittleEndian
	if wkb[0] == 0 {
		byteOrder = binary.BigEndian
	}
	numRings := byteOrder.Uint32(wkb[5:9])
	offset := 9
	var rings []string
	for r := uint32(0); r < numRings; r++ {
		if offset+4 > len(wkb) {
			break
		}
		numPoints := byteOrder.Uint32(wkb[offset : offset+4])
		offset += 4
		var points []string
		for p := uint32(0); p < numPoints; p++ {
			if offset+16 > len(wkb) {
				break
			}
			x := math.Float64frombits(byteOrder.Uint64(wkb[offset : offset+8]))
			y := math.Float64frombits(byteOrder.Uint64(wkb[offset+8 : offset+16]))
			offset += 16
			points = append(points, fmt.Sprintf("%g %g", x, y))
		}
		rings = append(rings, "("+strings.Join(points, ", ")+")")
	}
	return "(" + strings.Join(rings, ", ") + ")", nil
}

// clampYear clamps a YEAR value into MySQL's 1901-2155 domain and returns
// it as the UInt16 the ClickHouse column uses, keeping the MySQL zero-year
// sentinel as 0.
func clampYear(v interface{}) interface{} {
	var y int
	switch n := v.(type) {
	case int:
		y = n
	case int16:
		y = int(n)
	case int32:
		y = int(n)
	default:
		return v
	}
	if y != 0 && y < 1901 {
		y = 1901
	} else if y > 2155 {
		y = 2155
	}
	return uint16(y)
}

// convertSetBitmask turns a MySQL SET column's bitmask integer into the
// comma-joined label string, reading the allowed labels out of the
// column's declared type (e.g. "set('a','b','c')"), matching
// converter.py's SET handling in convert_record().
func convertSetBitmask(v interface{}, columnType string) interface{} {
	labels := extractQuotedList(columnType)
	if labels == nil {
		return v
	}
	var mask uint64
	switch n := v.(type) {
	case int64:
		mask = uint64(n)
	case int:
		mask = uint64(n)
	case uint64:
		mask = n
	default:
		return v
	}
	var set []string
	for i, label := range labels {
		if mask&(1<<uint(i)) != 0 {
			set = append(set, label)
		}
	}
	return strings.Join(set, ",")
}

func extractQuotedList(parameters string) []string {
	open := strings.Index(parameters, "(")
	close := strings.LastIndex(parameters, ")")
	if open < 0 || close < open {
		return nil
	}
	inner := parameters[open+1 : close]
	var out []string
	for _, part := range strings.Split(inner, ",") {
		out = append(out, strings.Trim(strings.TrimSpace(part), "'\""))
	}
	return out
}

func charsetFromParameters(parameters string) string {
	idx := strings.Index(strings.ToLower(parameters), "charset=")
	if idx < 0 {
		return ""
	}
	rest := parameters[idx+len("charset="):]
	fields := strings.FieldsFunc(rest, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// convertEnumIndex maps a MySQL ENUM column's stored integer index to its
// lowercased label, mirroring EnumConverter.convert_index_to_value(): index
// 0 (MySQL's invalid-enum-value sentinel) stays 0, and an index outside the
// declared label list is logged and passed through unchanged.
func convertEnumIndex(v interface{}, labels []string) interface{} {
	idx, ok := toInt(v)
	if !ok {
		return v
	}
	if idx == 0 {
		return v
	}
	if idx < 1 || idx > len(labels) {
		log.Warn("convert: enum index out of range", zap.Int("index", idx), zap.Int("labels", len(labels)))
		return v
	}
	return strings.ToLower(strings.Trim(labels[idx-1], "'\""))
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}

// convertTemporal replaces MySQL's invalid date/datetime sentinels
// (0000-00-00 and unrepresentable values) with the Unix epoch, since
// ClickHouse's Date/DateTime types cannot otherwise represent them.
func convertTemporal(base string, v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if isZeroDateString(t) {
			return epochFor(base)
		}
		return v
	case time.Time:
		if t.IsZero() || t.Year() <= 0 {
			return epochFor(base)
		}
		return v
	default:
		return v
	}
}

func isZeroDateString(s string) bool {
	return strings.HasPrefix(s, "0000-00-00")
}

func epochFor(base string) string {
	if base == "date" {
		return "1970-01-01"
	}
	return "1970-01-01 00:00:00"
}

func convertUUID(v interface{}) (interface{}, error) {
	switch u := v.(type) {
	case []byte:
		if len(u) == 16 {
			id, err := uuid.FromBytes(u)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		return string(u), nil
	case string:
		return u, nil
	default:
		return v, nil
	}
}

// QuoteKeyPart renders a primary key component for use in a dedup key
// string, quoting string-typed fields, mirroring
// DbReplicatorRealtime._get_record_id()'s key-string construction.
func QuoteKeyPart(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case []byte:
		return strconv.Quote(string(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}
