package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPageLogLineFormat(t *testing.T) {
	line := PageLogLine(PageLogEntry{
		SessionID: "abc",
		Printer:   "DNP",
		JobID:     42,
		Pages:     3,
		Copies:    3,
		Outcome:   "success",
		Elapsed:   12500 * time.Millisecond,
		Time:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if !strings.HasPrefix(line, "DNP abc 42 [02/Jan/2026:03:04:05 +0000]") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.HasSuffix(line, "3 3 success 12.5") {
		t.Fatalf("unexpected suffix: %q", line)
	}
}

func TestPageLogLineDefaults(t *testing.T) {
	line := PageLogLine(PageLogEntry{})
	if !strings.HasPrefix(line, "- - - [") {
		t.Fatalf("expected placeholders, got %q", line)
	}
	if !strings.Contains(line, " 0 1 unknown ") {
		t.Fatalf("expected default copies/outcome, got %q", line)
	}
}

func TestRotatingFileShiftsGenerations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "error_log")
	r := NewRotatingFile(path, 16, 2)
	defer r.Close()
	for _, line := range []string{"0123456789", "abcdefghij", "klmnopqrst", "uvwxyz0123"} {
		if err := r.WriteLine(line); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}
	want := map[string]string{
		path:        "uvwxyz0123\n",
		path + ".1": "klmnopqrst\n",
		path + ".2": "abcdefghij\n",
	}
	for name, content := range want {
		got, err := os.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != content {
			t.Fatalf("%s = %q, want %q", name, got, content)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected only two generations")
	}
}

func TestRotatingFileResumesExistingSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page_log")
	if err := os.WriteFile(path, []byte("0123456789\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := NewRotatingFile(path, 16, DefaultBackups)
	if err := r.WriteLine("abcdefghij"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got, _ := os.ReadFile(path + ".1"); string(got) != "0123456789\n" {
		t.Fatalf("backup = %q", got)
	}
	if got, _ := os.ReadFile(path); string(got) != "abcdefghij\n" {
		t.Fatalf("current = %q", got)
	}
}

func TestRotatingFileDiscardTargets(t *testing.T) {
	for _, target := range []string{"", "none", "off"} {
		if NewRotatingFile(target, 0, 1).Enabled() {
			t.Fatalf("target %q should be disabled", target)
		}
	}
	if !NewRotatingFile("stderr", 0, 1).Enabled() {
		t.Fatalf("stderr target should be enabled")
	}
}
