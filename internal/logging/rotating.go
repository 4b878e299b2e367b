package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultBackups is how many rotated generations a log keeps.
const DefaultBackups = 3

// RotatingFile appends to a log file and rotates it to "<path>.1" once maxSize
// would be exceeded, shifting older generations up to "<path>.<backups>".
// "stderr", "stdout" and "none" select the matching target instead of a file.
type RotatingFile struct {
	path    string
	maxSize int64
	backups int

	mu   sync.Mutex
	out  io.Writer
	file *os.File
	size int64
}

func NewRotatingFile(path string, maxSize int64, backups int) *RotatingFile {
	path = strings.TrimSpace(path)
	r := &RotatingFile{path: path, maxSize: maxSize, backups: max(backups, 1)}
	switch strings.ToLower(path) {
	case "", "none", "off":
		r.out = io.Discard
	case "stderr", "-":
		r.out = os.Stderr
	case "stdout":
		r.out = os.Stdout
	}
	return r
}

func (r *RotatingFile) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RotatingFile) Enabled() bool {
	return r != nil && r.out != io.Discard
}

func (r *RotatingFile) WriteLine(line string) error {
	if r == nil {
		return nil
	}
	_, err := r.Write([]byte(strings.TrimRight(line, "\n") + "\n"))
	return err
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	if r == nil {
		return len(p), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out != nil {
		return r.out.Write(p)
	}
	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.maxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close releases the file handle. The next write reopens it.
func (r *RotatingFile) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *RotatingFile) open() error {
	if dir := filepath.Dir(r.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.file, r.size = f, info.Size()
	return nil
}

func (r *RotatingFile) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	_ = os.Remove(r.generation(r.backups))
	for i := r.backups - 1; i >= 1; i-- {
		if err := os.Rename(r.generation(i), r.generation(i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(r.path, r.generation(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	r.size = 0
	return r.open()
}

func (r *RotatingFile) generation(n int) string {
	return fmt.Sprintf("%s.%d", r.path, n)
}

var _ io.WriteCloser = (*RotatingFile)(nil)
