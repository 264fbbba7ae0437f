package statslog

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/t-lin/ofsniff/endpoint"
)

func TestOpenWritesUnderDir(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	ep := endpoint.New(net.ParseIP("10.0.0.10"), 6672)
	w.Write(ep, "EchoRTT", 5.5, 5.5, 0)

	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one stats log file under %s, got %v", dir, matches)
	}
}

func TestWriteFormatsOneLinePerSample(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ep := endpoint.New(net.ParseIP("10.0.0.11"), 6673)
	w.Write(ep, "PktInRTT", 4.2, 4.2, 0)
	w.Write(ep, "PktInRTT", 3.8, 4.0, 0.08)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Glob() = %v, %v", matches, err)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("Open(%s) error = %v", matches[0], err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	fields := strings.Fields(lines[0])
	if len(fields) != 5 {
		t.Fatalf("expected 5 space-separated fields, got %d: %q", len(fields), lines[0])
	}
	if fields[0] != ep.String() || fields[1] != "PktInRTT" {
		t.Errorf("line = %q, want endpoint %q metric PktInRTT first", lines[0], ep.String())
	}
}

func TestWriteIsConcurrencySafe(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	ep := endpoint.New(net.ParseIP("10.0.0.12"), 6674)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				w.Write(ep, "LinkLatRTT-Port1", 1.0, 1.0, 0)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
