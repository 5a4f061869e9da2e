package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestIsPatternMatches(t *testing.T) {
	cases := []struct {
		substr  string
		pattern StringList
		want    bool
	}{
		{"orders", nil, true},
		{"orders", StringList{"*"}, true},
		{"orders", StringList{"order*"}, true},
		{"orders", StringList{"users"}, false},
		{"orders", StringList{"users", "orders"}, true},
	}
	for _, c := range cases {
		if got := IsPatternMatches(c.substr, c.pattern); got != c.want {
			t.Errorf("IsPatternMatches(%q, %v) = %v, want %v", c.substr, c.pattern, got, c.want)
		}
	}
}

func TestIsDatabaseMatchesExcludeTakesPrecedence(t *testing.T) {
	s := &Settings{
		Databases:        StringList{"*"},
		ExcludeDatabases: StringList{"test_*"},
	}
	if s.IsDatabaseMatches("test_db") {
		t.Fatal("expected excluded database to not match")
	}
	if !s.IsDatabaseMatches("prod_db") {
		t.Fatal("expected non-excluded database to match")
	}
}

func TestIsTableMatchesEmptyIncludeMatchesAll(t *testing.T) {
	s := &Settings{Tables: StringList{"*"}}
	if !s.IsTableMatches("anything") {
		t.Fatal("expected empty-equivalent include pattern to match everything")
	}
}

func TestStringListUnmarshalScalarOrSequence(t *testing.T) {
	var s Settings
	data := []byte("mysql:\n  host: h\nclickhouse:\n  host: h\nbinlog_replicator:\n  data_dir: /tmp\ndatabases: mydb\ntables:\n  - a\n  - b\n")
	if err := yaml.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(s.Databases) != 1 || s.Databases[0] != "mydb" {
		t.Fatalf("expected scalar databases to decode to one-element list, got %v", s.Databases)
	}
	if len(s.Tables) != 2 {
		t.Fatalf("expected sequence tables to decode to two elements, got %v", s.Tables)
	}
}

func TestValidateLogLevel(t *testing.T) {
	s := &Settings{LogLevel: "trace"}
	if err := s.validateLogLevel(); err == nil {
		t.Fatal("expected invalid log level to error")
	}
	s.LogLevel = "debug"
	if err := s.validateLogLevel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.DebugLogLevel {
		t.Fatal("expected debug log level flag to be set")
	}
}

func TestTargetDatabaseFor(t *testing.T) {
	s := &Settings{TargetDatabases: map[string]string{"src": "dst"}}
	if got := s.TargetDatabaseFor("src"); got != "dst" {
		t.Fatalf("expected mapped target database, got %q", got)
	}
	if got := s.TargetDatabaseFor("other"); got != "other" {
		t.Fatalf("expected default target database to equal source, got %q", got)
	}
}
