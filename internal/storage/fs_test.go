package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempNotes(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempNotes(t)
	content := []byte("# Hello\n- [ ] World\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempNotes(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWritePreservesMode(t *testing.T) {
	s := tempNotes(t)
	abs := filepath.Join(s.Root(), "ro.md")
	if err := os.WriteFile(abs, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("ro.md", []byte("y")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := s.Stat("ro.md")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempNotes(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestExternalRoots(t *testing.T) {
	s := tempNotes(t)
	ext := t.TempDir()
	target := filepath.Join(ext, "linked.md")

	if err := s.Write(target, []byte("x")); err == nil {
		t.Fatal("expected error before the linked root is registered")
	}
	if err := s.AllowExternal(ext); err != nil {
		t.Fatalf("AllowExternal: %v", err)
	}
	if err := s.Write(target, []byte("- [x] done\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(target)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "- [x] done\n" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read(filepath.Join(filepath.Dir(ext), "sibling.md")); err == nil {
		t.Error("expected error outside the linked root")
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempNotes(t)
	_ = s.Write("atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.Root(), ".nb-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "nb-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
