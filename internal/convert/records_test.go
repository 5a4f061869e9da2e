package convert

import (
	"testing"

	"github.com/google/uuid"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

func TestConvertRecordLengthMismatch(t *testing.T) {
	structure := &tablestruct.Structure{Fields: []tablestruct.Field{{Name: "a", Type: "int"}}}
	if _, err := ConvertRecord(&Context{}, structure, []interface{}{1, 2}); err == nil {
		t.Fatal("expected error on row/field length mismatch")
	}
}

func TestConvertRecordPassesThroughNil(t *testing.T) {
	structure := &tablestruct.Structure{Fields: []tablestruct.Field{{Name: "a", Type: "int"}}}
	out, err := ConvertRecord(&Context{}, structure, []interface{}{nil})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] != nil {
		t.Fatalf("expected nil passthrough, got %v", out[0])
	}
}

func TestNormalizeSignednessUnsignedInt(t *testing.T) {
	got := normalizeSignedness("int", "unsigned", int32(-1))
	if got != uint32(4294967295) {
		t.Fatalf("expected max uint32 for -1 reinterpreted unsigned, got %v", got)
	}
}

func TestNormalizeSignednessLeavesSignedAlone(t *testing.T) {
	got := normalizeSignedness("int", "", int32(-5))
	if got != int32(-5) {
		t.Fatalf("expected signed value untouched, got %v", got)
	}
}

func TestClampYearZeroSentinel(t *testing.T) {
	if got := clampYear(0); got != uint16(0) {
		t.Fatalf("expected zero year sentinel, got %v", got)
	}
	if got := clampYear(2024); got != uint16(2024) {
		t.Fatalf("expected 2024, got %v", got)
	}
}

func TestConvertSetBitmask(t *testing.T) {
	got := convertSetBitmask(int64(5), "set('a','b','c')")
	if got != "a,c" {
		t.Fatalf("expected a,c for bitmask 0b101, got %v", got)
	}
}

func TestConvertUUIDFromBytes(t *testing.T) {
	id := uuid.New()
	raw, _ := id.MarshalBinary()
	got, err := convertUUID(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id.String() {
		t.Fatalf("expected %q, got %v", id.String(), got)
	}
}

func TestQuoteKeyPart(t *testing.T) {
	if got := QuoteKeyPart("a\"b"); got != `"a\"b"` {
		t.Fatalf("expected quoted string, got %q", got)
	}
	if got := QuoteKeyPart(42); got != "42" {
		t.Fatalf("expected plain int formatting, got %q", got)
	}
}

func TestConvertEnumIndexToLabel(t *testing.T) {
	labels := []string{"'active'", "'paused'", "'done'"}
	if got := convertEnumIndex(int8(2), labels); got != "paused" {
		t.Fatalf("expected paused, got %v", got)
	}
}

func TestConvertEnumIndexZeroSentinelPassesThrough(t *testing.T) {
	labels := []string{"'active'", "'paused'"}
	if got := convertEnumIndex(int8(0), labels); got != int8(0) {
		t.Fatalf("expected zero-index sentinel untouched, got %v", got)
	}
}

func TestConvertEnumIndexOutOfRangePassesThrough(t *testing.T) {
	labels := []string{"'active'", "'paused'"}
	if got := convertEnumIndex(int8(9), labels); got != int8(9) {
		t.Fatalf("expected out-of-range index untouched, got %v", got)
	}
}

func TestConvertValueEnum(t *testing.T) {
	f := tablestruct.Field{Name: "status", Type: "enum('active','paused','done')"}
	got, err := convertValue(&Context{}, f, int8(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "done" {
		t.Fatalf("expected done, got %v", got)
	}
}

func TestConvertTemporalZeroDateString(t *testing.T) {
	if got := convertTemporal("date", "0000-00-00"); got != "1970-01-01" {
		t.Fatalf("expected epoch date, got %v", got)
	}
	if got := convertTemporal("datetime", "0000-00-00 00:00:00"); got != "1970-01-01 00:00:00" {
		t.Fatalf("expected epoch datetime, got %v", got)
	}
}

func TestConvertTemporalLeavesValidDateAlone(t *testing.T) {
	if got := convertTemporal("date", "2024-01-15"); got != "2024-01-15" {
		t.Fatalf("expected valid date untouched, got %v", got)
	}
}

func TestCharsetFromParameters(t *testing.T) {
	if got := charsetFromParameters("CHARSET=latin1 COLLATE=latin1_bin"); got != "latin1" {
		t.Fatalf("got %q", got)
	}
	if got := charsetFromParameters("NOT NULL"); got != "" {
		t.Fatalf("expected empty charset, got %q", got)
	}
}
