package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileSystemSink keeps the run's audit trail under the output directory:
// the metadata.jsonl record log and one-off page snapshots.
type FileSystemSink struct {
	root string
	mu   sync.Mutex
}

// NewFileSystemSink returns a sink rooted at dir.
func NewFileSystemSink(root string) (*FileSystemSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	return &FileSystemSink{root: root}, nil
}

// AppendRecord writes record as one JSON line to metadata.jsonl.
func (s *FileSystemSink) AppendRecord(ctx context.Context, record IngestRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.root, auditName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append audit log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log %s: %w", path, err)
	}
	return nil
}

// SaveSnapshot writes body to name unless it already exists. It reports
// whether a file was written.
func (s *FileSystemSink) SaveSnapshot(ctx context.Context, name string, body []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context canceled: %w", err)
	}
	target := filepath.Join(s.root, filepath.Base(name))

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create snapshot %s: %w", target, err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("write snapshot %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close snapshot %s: %w", target, err)
	}
	return true, nil
}
