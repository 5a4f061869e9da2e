package convert

import "testing"

func TestConvertTypeIntegerWidths(t *testing.T) {
	ctx := &Context{}
	cases := []struct {
		mysqlType, params, want string
	}{
		{"tinyint", "", "Int8"},
		{"tinyint", "unsigned", "UInt8"},
		{"int", "", "Int32"},
		{"int", "unsigned", "UInt32"},
		{"bigint", "unsigned", "UInt64"},
	}
	for _, c := range cases {
		if got := ConvertType(ctx, c.mysqlType, c.params); got != c.want {
			t.Errorf("ConvertType(%q, %q) = %q, want %q", c.mysqlType, c.params, got, c.want)
		}
	}
}

func TestConvertTypeDecimalScaleZeroNarrows(t *testing.T) {
	ctx := &Context{}
	cases := []struct {
		mysqlType, want string
	}{
		{"decimal(9,0)", "Int32"},
		{"decimal(18,0)", "Int64"},
		{"decimal(30,0)", "Int128"},
		{"decimal(10,2)", "Decimal(10, 2)"},
	}
	for _, c := range cases {
		if got := ConvertType(ctx, c.mysqlType, ""); got != c.want {
			t.Errorf("ConvertType(%q) = %q, want %q", c.mysqlType, got, c.want)
		}
	}
}

func TestConvertTypeDatetimePrecisionAndTimezone(t *testing.T) {
	ctx := &Context{MySQLTimezone: "UTC"}
	if got := ConvertType(ctx, "datetime", ""); got != "DateTime('UTC')" {
		t.Fatalf("got %q", got)
	}
	if got := ConvertType(ctx, "datetime(3)", ""); got != "DateTime64(3, 'UTC')" {
		t.Fatalf("got %q", got)
	}
}

func TestConvertTypeEnum(t *testing.T) {
	ctx := &Context{}
	got := ConvertType(ctx, "enum('A','B')", "")
	want := "Enum8('a' = 1, 'b' = 2)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestConvertTypeHonorsOverride(t *testing.T) {
	ctx := &Context{TypesMapping: map[string]string{"int": "Int64"}}
	if got := ConvertType(ctx, "int", ""); got != "Int64" {
		t.Fatalf("expected override to take precedence, got %q", got)
	}
}

func TestConvertFieldTypeNullableWrapping(t *testing.T) {
	if got := ConvertFieldType("String", "", false); got != "Nullable(String)" {
		t.Fatalf("expected nullable wrap, got %q", got)
	}
	if got := ConvertFieldType("String", "NOT NULL", false); got != "String" {
		t.Fatalf("expected NOT NULL to suppress wrap, got %q", got)
	}
	if got := ConvertFieldType("String", "", true); got != "String" {
		t.Fatalf("expected primary key to suppress wrap, got %q", got)
	}
	if got := ConvertFieldType("Array(String)", "", false); got != "Array(String)" {
		t.Fatalf("expected array to suppress wrap, got %q", got)
	}
}
