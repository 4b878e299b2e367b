// Package logging routes the kiosk's error log and page log. The error log
// carries std log output; the page log gets one line per finished session.
package logging

import (
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type manager struct {
	errorLog *RotatingFile
	pageLog  *RotatingFile
	debug    bool
}

var (
	globalMu sync.RWMutex
	global   = manager{}
)

// Configure installs the error and page log targets, closing any previous
// ones. level "debug" enables Debugf.
func Configure(errorPath, pagePath string, maxSize int64, level string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.close()
	global.errorLog = NewRotatingFile(errorPath, maxSize, DefaultBackups)
	global.pageLog = NewRotatingFile(pagePath, maxSize, DefaultBackups)
	global.debug = strings.EqualFold(strings.TrimSpace(level), "debug")
}

// Close flushes and releases the log files.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global.close()
}

func (m *manager) close() error {
	return errors.Join(m.errorLog.Close(), m.pageLog.Close())
}

func ErrorWriter() io.Writer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global.errorLog.Enabled() {
		return global.errorLog
	}
	return os.Stderr
}

func Page(line string) {
	globalMu.RLock()
	logger := global.pageLog
	globalMu.RUnlock()
	_ = logger.WriteLine(line)
}

func Debugf(format string, args ...any) {
	globalMu.RLock()
	enabled := global.debug
	globalMu.RUnlock()
	if enabled {
		log.Printf(format, args...)
	}
}
