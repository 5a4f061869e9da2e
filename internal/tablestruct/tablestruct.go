// Package tablestruct models a MySQL table's column layout as carried
// through the replication pipeline, and its ClickHouse counterpart.
package tablestruct

import "fmt"

// Field describes a single column in a source or target table.
type Field struct {
	Name       string
	Type       string
	Parameters string
}

// NotNull reports whether the column's parameters mark it NOT NULL.
func (f Field) NotNull() bool {
	return contains(f.Parameters, "NOT NULL")
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// Structure is the flattened, ordered column list for one table plus its
// primary key column names, mirroring table_structure.py's TableStructure.
type Structure struct {
	TableName        string
	Fields           []Field
	PrimaryKeys      []string
	PrimaryKeyNested bool // comment-derived "compound key is itself a tuple" marker, rarely set
}

// Preprocess fills PrimaryKeys from declared fields when it was left empty,
// mirroring TableStructure.preprocess()'s fallback chain.
func (s *Structure) Preprocess() {
	if len(s.PrimaryKeys) > 0 {
		return
	}
	for _, f := range s.Fields {
		if f.Name == "id" {
			s.PrimaryKeys = []string{"id"}
			return
		}
	}
}

// FieldIndex returns the index of the named field, or -1.
func (s *Structure) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// HasField reports whether the structure already declares the column.
func (s *Structure) HasField(name string) bool {
	return s.FieldIndex(name) >= 0
}

// GetField returns the named field and whether it was found.
func (s *Structure) GetField(name string) (Field, bool) {
	i := s.FieldIndex(name)
	if i < 0 {
		return Field{}, false
	}
	return s.Fields[i], true
}

// AddFieldFirst prepends a column, used when MySQL's "FIRST" clause applies.
func (s *Structure) AddFieldFirst(f Field) {
	s.Fields = append([]Field{f}, s.Fields...)
}

// AddFieldAfter inserts a column immediately after the named one. When
// afterName is empty the column is appended at the end, matching the
// ALTER ... ADD COLUMN (no position clause) default.
func (s *Structure) AddFieldAfter(f Field, afterName string) error {
	if afterName == "" {
		s.Fields = append(s.Fields, f)
		return nil
	}
	i := s.FieldIndex(afterName)
	if i < 0 {
		return fmt.Errorf("tablestruct: column %q referenced by AFTER not found", afterName)
	}
	out := make([]Field, 0, len(s.Fields)+1)
	out = append(out, s.Fields[:i+1]...)
	out = append(out, f)
	out = append(out, s.Fields[i+1:]...)
	s.Fields = out
	return nil
}

// RemoveField drops a column by name, renaming primary key references is
// the caller's responsibility.
func (s *Structure) RemoveField(name string) error {
	i := s.FieldIndex(name)
	if i < 0 {
		return fmt.Errorf("tablestruct: column %q not found for removal", name)
	}
	s.Fields = append(s.Fields[:i], s.Fields[i+1:]...)
	return nil
}

// UpdateField replaces a column's type/parameters in place, keeping its
// position, matching ALTER ... MODIFY COLUMN semantics.
func (s *Structure) UpdateField(f Field) error {
	i := s.FieldIndex(f.Name)
	if i < 0 {
		return fmt.Errorf("tablestruct: column %q not found for modification", f.Name)
	}
	s.Fields[i] = f
	return nil
}

// RenameField renames a column in place, preserving type/parameters and
// position, and updates any primary key reference to the old name.
func (s *Structure) RenameField(oldName, newName string) error {
	i := s.FieldIndex(oldName)
	if i < 0 {
		return fmt.Errorf("tablestruct: column %q not found for rename", oldName)
	}
	s.Fields[i].Name = newName
	for j, pk := range s.PrimaryKeys {
		if pk == oldName {
			s.PrimaryKeys[j] = newName
		}
	}
	return nil
}

// Clone returns a deep copy, used by the realtime applier to apply ALTER
// TABLE operations without touching the stored structure and to copy a
// structure for CREATE TABLE ... LIKE.
func (s *Structure) Clone() *Structure {
	c := &Structure{
		TableName:        s.TableName,
		PrimaryKeyNested: s.PrimaryKeyNested,
	}
	c.Fields = append(c.Fields, s.Fields...)
	c.PrimaryKeys = append(c.PrimaryKeys, s.PrimaryKeys...)
	return c
}
