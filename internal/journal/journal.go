// Package journal implements vigil's persistence contract: append-only
// logs with one JSON object per line (newest last), and single JSON
// documents rewritten atomically via a temp file and rename. Readers
// skip malformed lines with a warning instead of failing, so a torn
// write never takes down a consumer.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"vigil/internal/logging"
)

// Log is an append-only JSONL file. Safe for concurrent appenders
// within one process.
type Log struct {
	mu   sync.Mutex
	path string
}

// OpenLog creates the parent directory if needed and returns a log
// handle. The file itself is created lazily on first append.
func OpenLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	return &Log{path: path}, nil
}

// Path returns the underlying file path.
func (l *Log) Path() string { return l.path }

// Append marshals v and appends it as one line. Each append opens,
// writes, and closes so a crash loses at most the line in flight.
func (l *Log) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// ReadAll decodes every line of a JSONL file into T. Malformed lines
// are skipped with a warning. A missing file yields an empty slice.
func ReadAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	log := logging.For(logging.CategoryJournal)

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			log.Warn("skipping malformed journal line",
				zap.String("path", path), zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("failed to read journal: %w", err)
	}
	return out, nil
}

// SaveDoc writes v as an indented JSON document, atomically: marshal,
// write to a sibling temp file, then rename over the target.
func SaveDoc(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

// LoadDoc reads a JSON document into out. Returns os.ErrNotExist when
// the file is absent so callers can start fresh.
func LoadDoc(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse document %s: %w", path, err)
	}
	return nil
}
