package eventlog

import (
	"context"
	"encoding/json"
	"path/filepath"

	"insights/internal/fs"
)

// FileSink writes one JSON file per record under Root, using the record key
// as the relative path.
type FileSink struct {
	Root string
}

func NewFileSink(root string) *FileSink {
	return &FileSink{Root: root}
}

func (s *FileSink) Append(ctx context.Context, rec Record) error {
	path := filepath.Join(s.Root, filepath.FromSlash(rec.Key))
	if err := fs.EnsureDir(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec.Entry, "", "  ")
	if err != nil {
		return err
	}

	return fs.WriteNew(path, data, 0o644)
}

func (s *FileSink) Close() error {
	return nil
}
