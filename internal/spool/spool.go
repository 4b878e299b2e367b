// Package spool keeps rendered pages on disk between layout and submission so
// a crash leaves evidence of what was being printed. Submission sends the
// in-memory pages; the files are never read back by the print path and are
// removed once the session is recorded, or later by Prune.
package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type Spool struct {
	Dir string
}

func (s Spool) Ensure() error {
	return os.MkdirAll(s.Dir, 0755)
}

// Save writes one rendered page of a session.
func (s Spool) Save(sessionID string, page int, ext string, r io.Reader) (string, int64, error) {
	if err := s.Ensure(); err != nil {
		return "", 0, err
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("%s-p%03d%s", sanitizeFileName(sessionID), page+1, ext))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return "", 0, err
	}
	return path, n, nil
}

// Pages lists the files saved for sessionID in page order.
func (s Spool) Pages(sessionID string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, sanitizeFileName(sessionID)+"-p*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Remove deletes every file of sessionID.
func (s Spool) Remove(sessionID string) error {
	pages, err := s.Pages(sessionID)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Prune removes files older than maxAge and returns how many were removed.
func (s Spool) Prune(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Usage reports the file count and total size of the spool directory.
func (s Spool) Usage() (int, int64, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	count, total := 0, int64(0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := e.Info(); err == nil {
			count++
			total += info.Size()
		}
	}
	return count, total, nil
}

// Describe is a one-line summary for logs.
func (s Spool) Describe() string {
	count, total, err := s.Usage()
	if err != nil {
		return fmt.Sprintf("%s: %v", s.Dir, err)
	}
	return fmt.Sprintf("%s: %d file(s), %s", s.Dir, count, humanize.Bytes(uint64(total)))
}

func sanitizeFileName(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			continue
		}
		clean = append(clean, r)
	}
	if len(clean) == 0 {
		return "document"
	}
	return strings.TrimSpace(string(clean))
}
