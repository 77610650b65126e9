// Package sink stores the file parts of decoded uploads.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/epithet-ssh/formdata/pkg/config"
)

// ErrInvalidKey is returned for keys that are empty or escape the sink.
var ErrInvalidKey = errors.New("sink: invalid key")

// Object describes a stored file part.
type Object struct {
	Key         string // slash separated, relative
	Field       string
	FileName    string
	ContentType string
}

// Sink stores part bodies.
type Sink interface {
	// Put consumes r and stores it under obj.Key, returning the number of
	// bytes written.
	Put(ctx context.Context, obj Object, r io.Reader) (int64, error)
}

// New builds the sink selected by cfg.
func New(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch cfg.Kind {
	case "", "discard":
		return Discard{}, nil
	case "stdout":
		return NewWriterSink(os.Stdout), nil
	case "dir":
		return NewDirSink(cfg.Dir, logger)
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewS3Sink(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
}

// JoinKey builds a storage key from untrusted segments such as field names
// and client file names. Separators and dot segments are neutralised so
// each segment stays a single path element.
func JoinKey(segments ...string) string {
	clean := make([]string, len(segments))
	for i, s := range segments {
		s = strings.Map(func(r rune) rune {
			switch {
			case r == '/' || r == '\\':
				return '_'
			case r < 0x20 || r == 0x7f:
				return -1
			}
			return r
		}, s)
		if s == "" || s == "." || s == ".." {
			s = "_"
		}
		clean[i] = s
	}
	return strings.Join(clean, "/")
}

// WriterSink appends every body to a single writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Put(ctx context.Context, obj Object, r io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.Copy(s.w, r)
}

// Discard reads and drops every body.
type Discard struct{}

func (Discard) Put(ctx context.Context, obj Object, r io.Reader) (int64, error) {
	return io.Copy(io.Discard, r)
}
