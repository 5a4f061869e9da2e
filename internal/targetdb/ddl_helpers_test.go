package targetdb

import (
	"testing"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

func TestPartitionExprPrefersExplicitOverride(t *testing.T) {
	structure := &tablestruct.Structure{
		Fields:      []tablestruct.Field{{Name: "id", Type: "Int64"}},
		PrimaryKeys: []string{"id"},
	}
	got := partitionExpr(structure, []string{"toYYYYMM(created_at)"})
	if got != "toYYYYMM(created_at)" {
		t.Fatalf("expected explicit override to win, got %q", got)
	}
}

func TestPartitionExprDefaultsToIntDivForSingleIntegerKey(t *testing.T) {
	structure := &tablestruct.Structure{
		Fields:      []tablestruct.Field{{Name: "id", Type: "UInt64"}, {Name: "name", Type: "String"}},
		PrimaryKeys: []string{"id"},
	}
	got := partitionExpr(structure, nil)
	want := "intDiv(`id`, 4294967)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPartitionExprEmptyForNonIntegerOrCompositeKey(t *testing.T) {
	stringKey := &tablestruct.Structure{
		Fields:      []tablestruct.Field{{Name: "id", Type: "String"}},
		PrimaryKeys: []string{"id"},
	}
	if got := partitionExpr(stringKey, nil); got != "" {
		t.Fatalf("expected no partition for a non-integer key, got %q", got)
	}

	composite := &tablestruct.Structure{
		Fields:      []tablestruct.Field{{Name: "a", Type: "Int32"}, {Name: "b", Type: "Int32"}},
		PrimaryKeys: []string{"a", "b"},
	}
	if got := partitionExpr(composite, nil); got != "" {
		t.Fatalf("expected no partition for a composite key, got %q", got)
	}
}

func TestIsIntegerTypeHandlesNullableWrapping(t *testing.T) {
	cases := map[string]bool{
		"Int64":          true,
		"UInt32":         true,
		"Nullable(Int8)": true,
		"String":         false,
		"Float64":        false,
	}
	for chType, want := range cases {
		if got := isIntegerType(chType); got != want {
			t.Fatalf("isIntegerType(%q) = %v, want %v", chType, got, want)
		}
	}
}

func TestQuoteIdents(t *testing.T) {
	got := quoteIdents([]string{"id", "name"})
	want := []string{"`id`", "`name`"}
	if len(got) != len(want) {
		t.Fatalf("expected %d identifiers, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
