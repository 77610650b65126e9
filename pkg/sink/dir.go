package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// DirSink stores bodies as files under a root directory.
type DirSink struct {
	root   string
	logger *slog.Logger
}

// NewDirSink creates root if needed and returns a sink writing below it.
func NewDirSink(root string, logger *slog.Logger) (*DirSink, error) {
	if root == "" {
		return nil, fmt.Errorf("sink directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sink directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DirSink{root: abs, logger: logger}, nil
}

// Put writes r to root/obj.Key. A failed write leaves no file behind.
func (s *DirSink) Put(ctx context.Context, obj Object, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if obj.Key == "" || !filepath.IsLocal(filepath.FromSlash(obj.Key)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, obj.Key)
	}
	path := filepath.Join(s.root, filepath.FromSlash(obj.Key))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return n, fmt.Errorf("failed to write %s: %w", obj.Key, err)
	}

	s.logger.Debug("stored part", "path", path, "bytes", n)
	return n, nil
}
