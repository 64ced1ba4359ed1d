package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink delivers rendered documents somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, r *Report, docs []Document) error
}

// FileSink writes every document into a directory.
type FileSink struct {
	Dir string
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// Send implements Sink.
func (s *FileSink) Send(_ context.Context, _ *Report, docs []Document) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	for _, d := range docs {
		path := filepath.Join(s.Dir, d.Name)
		if err := os.WriteFile(path, d.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
