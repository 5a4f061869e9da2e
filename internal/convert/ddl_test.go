package convert

import (
	"testing"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/tablestruct"
)

func TestSplitHighLevelRespectsParensAndQuotes(t *testing.T) {
	in := "ADD COLUMN a ENUM('x,y','z'), MODIFY b DECIMAL(10,2) NOT NULL"
	parts := SplitHighLevel(in, ',')
	if len(parts) != 2 {
		t.Fatalf("expected 2 top-level clauses, got %d: %v", len(parts), parts)
	}
}

func TestClassifyQuery(t *testing.T) {
	cases := []struct {
		q    string
		want QueryKind
	}{
		{"ALTER TABLE t ADD COLUMN a INT", QueryAlterTable},
		{"CREATE TABLE t (id INT)", QueryCreateTable},
		{"RENAME TABLE a TO b", QueryRenameTable},
		{"DROP TABLE t", QueryDropTable},
		{"TRUNCATE TABLE t", QueryTruncateTable},
		{"SELECT 1", QueryOther},
	}
	for _, c := range cases {
		if got := ClassifyQuery(c.q); got != c.want {
			t.Errorf("ClassifyQuery(%q) = %v, want %v", c.q, got, c.want)
		}
	}
}

func TestParseRenameTableRejectsCrossDatabase(t *testing.T) {
	if _, err := ParseRenameTable("RENAME TABLE db1.t1 TO db2.t2"); err == nil {
		t.Fatal("expected cross-database rename to error")
	}
	r, err := ParseRenameTable("RENAME TABLE db1.t1 TO db1.t2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.From != "t1" || r.To != "t2" {
		t.Fatalf("got %+v", r)
	}
}

func TestParseDropAndTruncateTable(t *testing.T) {
	if name, err := ParseDropTable("DROP TABLE IF EXISTS `orders`"); err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
	if name, err := ParseTruncateTable("TRUNCATE TABLE orders"); err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}

func TestParseAlterTableAddDropColumn(t *testing.T) {
	table, ops, err := ParseAlterTable("ALTER TABLE orders ADD COLUMN note VARCHAR(255) AFTER id, DROP COLUMN legacy_flag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table != "orders" {
		t.Fatalf("expected table orders, got %q", table)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %d: %+v", len(ops), ops)
	}
	if ops[0].Kind != AlterAddColumn || ops[0].Column != "note" || ops[0].After != "id" {
		t.Fatalf("unexpected add op: %+v", ops[0])
	}
	if ops[1].Kind != AlterDropColumn || ops[1].Column != "legacy_flag" {
		t.Fatalf("unexpected drop op: %+v", ops[1])
	}
}

func TestParseAlterTableIgnoresIndexClauses(t *testing.T) {
	_, ops, err := ParseAlterTable("ALTER TABLE orders ADD INDEX idx_a (a), ADD COLUMN b INT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].Column != "b" {
		t.Fatalf("expected index clause dropped, got %+v", ops)
	}
}

func TestParseAlterTableChangeColumn(t *testing.T) {
	_, ops, err := ParseAlterTable("ALTER TABLE orders CHANGE old_name new_name INT NOT NULL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != AlterChangeColumn || ops[0].OldName != "old_name" || ops[0].Column != "new_name" {
		t.Fatalf("got %+v", ops)
	}
}

func TestApplyAlterOpsAddAndRename(t *testing.T) {
	s := &tablestruct.Structure{Fields: []tablestruct.Field{{Name: "id", Type: "Int32"}}, PrimaryKeys: []string{"id"}}
	ctx := &Context{}
	ops := []AlterOp{
		{Kind: AlterAddColumn, Column: "note", Type: "varchar(255)", Params: ""},
		{Kind: AlterRenameColumn, OldName: "note", Column: "remark"},
	}
	if err := ApplyAlterOps(ctx, s, ops); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.HasField("remark") {
		t.Fatalf("expected renamed field remark, got %+v", s.Fields)
	}
}

func TestParseCreateTableLike(t *testing.T) {
	newTable, likeTable, ok := ParseCreateTableLike("CREATE TABLE archive_orders LIKE orders")
	if !ok {
		t.Fatal("expected LIKE form to be recognized")
	}
	if newTable != "archive_orders" || likeTable != "orders" {
		t.Fatalf("got %q, %q", newTable, likeTable)
	}
	if _, _, ok := ParseCreateTableLike("CREATE TABLE t (id INT)"); ok {
		t.Fatal("expected non-LIKE CREATE TABLE to not match")
	}
}
