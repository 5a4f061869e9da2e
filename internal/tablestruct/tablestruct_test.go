package tablestruct

import "testing"

func TestFieldNotNull(t *testing.T) {
	f := Field{Name: "id", Parameters: "NOT NULL AUTO_INCREMENT"}
	if !f.NotNull() {
		t.Fatal("expected NOT NULL to be detected")
	}
	f2 := Field{Name: "nickname"}
	if f2.NotNull() {
		t.Fatal("expected absent NOT NULL to be false")
	}
}

func TestPreprocessFallsBackToIDColumn(t *testing.T) {
	s := &Structure{Fields: []Field{{Name: "id"}, {Name: "name"}}}
	s.Preprocess()
	if len(s.PrimaryKeys) != 1 || s.PrimaryKeys[0] != "id" {
		t.Fatalf("expected fallback primary key [id], got %v", s.PrimaryKeys)
	}
}

func TestPreprocessKeepsDeclaredPrimaryKeys(t *testing.T) {
	s := &Structure{Fields: []Field{{Name: "id"}}, PrimaryKeys: []string{"uuid"}}
	s.Preprocess()
	if len(s.PrimaryKeys) != 1 || s.PrimaryKeys[0] != "uuid" {
		t.Fatalf("expected declared primary key to survive, got %v", s.PrimaryKeys)
	}
}

func TestAddFieldFirstAndAfter(t *testing.T) {
	s := &Structure{Fields: []Field{{Name: "a"}, {Name: "b"}}}
	s.AddFieldFirst(Field{Name: "z"})
	if s.Fields[0].Name != "z" {
		t.Fatalf("expected z prepended, got %v", s.Fields)
	}
	if err := s.AddFieldAfter(Field{Name: "m"}, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := fieldNames(s)
	want := []string{"z", "a", "m", "b"}
	if !equalStrs(names, want) {
		t.Fatalf("got %v, want %v", names, want)
	}
}

func TestAddFieldAfterMissingColumn(t *testing.T) {
	s := &Structure{Fields: []Field{{Name: "a"}}}
	if err := s.AddFieldAfter(Field{Name: "x"}, "missing"); err == nil {
		t.Fatal("expected error for unknown AFTER reference")
	}
}

func TestRemoveField(t *testing.T) {
	s := &Structure{Fields: []Field{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	if err := s.RemoveField("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.HasField("b") {
		t.Fatal("expected b removed")
	}
	if err := s.RemoveField("b"); err == nil {
		t.Fatal("expected error removing already-removed column")
	}
}

func TestUpdateField(t *testing.T) {
	s := &Structure{Fields: []Field{{Name: "a", Type: "Int32"}}}
	if err := s.UpdateField(Field{Name: "a", Type: "String"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, _ := s.GetField("a")
	if f.Type != "String" {
		t.Fatalf("expected updated type String, got %q", f.Type)
	}
}

func TestRenameFieldUpdatesPrimaryKeys(t *testing.T) {
	s := &Structure{
		Fields:      []Field{{Name: "old"}},
		PrimaryKeys: []string{"old"},
	}
	if err := s.RenameField("old", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Fields[0].Name != "new" {
		t.Fatalf("expected renamed field, got %v", s.Fields)
	}
	if s.PrimaryKeys[0] != "new" {
		t.Fatalf("expected primary key reference updated, got %v", s.PrimaryKeys)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := &Structure{TableName: "t", Fields: []Field{{Name: "a"}}, PrimaryKeys: []string{"a"}}
	c := s.Clone()
	c.Fields[0].Name = "changed"
	c.PrimaryKeys[0] = "changed"
	if s.Fields[0].Name != "a" {
		t.Fatal("expected clone mutation to not affect original fields")
	}
	if s.PrimaryKeys[0] != "a" {
		t.Fatal("expected clone mutation to not affect original primary keys")
	}
}

func fieldNames(s *Structure) []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

func equalStrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
