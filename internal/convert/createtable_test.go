package convert

import "testing"

func TestParseCreateTableStructureBasic(t *testing.T) {
	ddl := "CREATE TABLE `orders` (\n" +
		"  `id` int(11) NOT NULL AUTO_INCREMENT,\n" +
		"  `customer_name` varchar(255) NOT NULL,\n" +
		"  `amount` decimal(10,2) DEFAULT NULL,\n" +
		"  PRIMARY KEY (`id`),\n" +
		"  KEY `idx_customer` (`customer_name`)\n" +
		") ENGINE=InnoDB"

	s, err := ParseCreateTableStructure(ddl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TableName != "orders" {
		t.Fatalf("expected table name orders, got %q", s.TableName)
	}
	if len(s.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d: %+v", len(s.Fields), s.Fields)
	}
	if len(s.PrimaryKeys) != 1 || s.PrimaryKeys[0] != "id" {
		t.Fatalf("expected primary key [id], got %v", s.PrimaryKeys)
	}
	amount, ok := s.GetField("amount")
	if !ok || amount.Type != "decimal(10,2)" {
		t.Fatalf("expected amount field with decimal type, got %+v, ok=%v", amount, ok)
	}
}

func TestParseCreateTableStructureNotCreateTable(t *testing.T) {
	if _, err := ParseCreateTableStructure("ALTER TABLE orders ADD COLUMN a INT"); err == nil {
		t.Fatal("expected error for non-CREATE-TABLE input")
	}
}
