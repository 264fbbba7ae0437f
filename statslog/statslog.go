// Package statslog implements the optional persisted statistics log: one
// line per computed sample, appended to a file named for the time the
// log was opened. The file is opened once at construction, appended to
// directly, and never read back.
package statslog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/t-lin/ofsniff/endpoint"
)

// NameLayout is the local-time file name format for a new stats log.
const NameLayout = "2006-01-02.15:04:05.log"

// Writer appends one line per recorded sample to a log file opened at
// construction time. Safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates a new stats log file under dir, named for the current
// local time per NameLayout. The caller must Close it on shutdown.
func Open(dir string) (*Writer, error) {
	name := time.Now().Format(NameLayout)
	path := name
	if dir != "" {
		path = dir + string(os.PathSeparator) + name
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("statslog: %w", err)
	}
	return &Writer{f: f}, nil
}

// Write appends one sample line: "<endpoint_id> <metric_name> <raw> <avg> <var>".
func (w *Writer) Write(ep endpoint.ID, metric string, raw, avg, vr float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.f, "%s %s %f %f %f\n", ep, metric, raw, avg, vr)
}

// Close releases the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
