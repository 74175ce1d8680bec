package persistence

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMigrator_ListFilesOrdered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_snapshots.up.sql",
		"000001_audit.up.sql",
		"000001_audit.down.sql",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewMigrator(nil, dir)
	files, err := m.listFiles(".up.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"000001_audit.up.sql", "000002_snapshots.up.sql"}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("got %v, want %v", files, want)
		}
	}
}

func TestVersionOf(t *testing.T) {
	tests := []struct {
		filename, want string
	}{
		{"000001_audit.up.sql", "000001"},
		{"000012_fix_index.down.sql", "000012"},
		{"nounderscore", "nounderscore"},
	}
	for _, tt := range tests {
		if got := versionOf(tt.filename); got != tt.want {
			t.Errorf("versionOf(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
