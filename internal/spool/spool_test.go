package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveNamesPagesPerSession(t *testing.T) {
	dir := t.TempDir()
	s := Spool{Dir: filepath.Join(dir, "spool")}

	got, n, err := s.Save(`a/b:c?`, 0, ".png", strings.NewReader("page"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := filepath.Join(dir, "spool", "abc-p001.png")
	if got != want || n != 4 {
		t.Fatalf("Save()=%q,%d want %q,4", got, n, want)
	}
	if _, _, err := s.Save("abc", 1, ".png", strings.NewReader("page two")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	pages, err := s.Pages("abc")
	if err != nil || len(pages) != 2 || !strings.HasSuffix(pages[1], "abc-p002.png") {
		t.Fatalf("Pages = %v, %v", pages, err)
	}
	count, total, err := s.Usage()
	if err != nil || count != 2 || total != 12 {
		t.Fatalf("Usage = %d, %d, %v", count, total, err)
	}
	if !strings.Contains(s.Describe(), "2 file(s), 12 B") {
		t.Fatalf("Describe = %q", s.Describe())
	}

	if err := s.Remove("abc"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if pages, _ := s.Pages("abc"); len(pages) != 0 {
		t.Fatalf("pages left: %v", pages)
	}
}

func TestPruneRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	s := Spool{Dir: dir}
	oldPath, _, err := s.Save("old", 0, ".png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, _, err := s.Save("new", 0, ".png", strings.NewReader("y")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	now := time.Now()
	if err := os.Chtimes(oldPath, now.Add(-48*time.Hour), now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	removed, err := s.Prune(24*time.Hour, now)
	if err != nil || removed != 1 {
		t.Fatalf("Prune = %d, %v", removed, err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("old file still present")
	}
}

func TestMissingDirIsEmpty(t *testing.T) {
	s := Spool{Dir: filepath.Join(t.TempDir(), "absent")}
	if n, err := s.Prune(time.Hour, time.Now()); err != nil || n != 0 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if c, total, err := s.Usage(); err != nil || c != 0 || total != 0 {
		t.Fatalf("Usage = %d, %d, %v", c, total, err)
	}
}
