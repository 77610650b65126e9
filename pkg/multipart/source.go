package multipart

import (
	"context"
	"io"
)

// Default read size for ReaderSource (32KB)
const defaultReadSize = 32 * 1024

// maxEmptyReads bounds consecutive (0, nil) reads, as bufio does.
const maxEmptyReads = 100

// Source supplies the raw bytes of a multipart stream.
//
// Pull returns the next bytes, io.EOF once the stream is exhausted, or any
// other error if the transport failed. Pull may block. The returned slice
// may be reused by the Source on the next call.
type Source interface {
	Pull(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts an ordinary function to a Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Pull calls f(ctx).
func (f SourceFunc) Pull(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// ReaderSource adapts an io.Reader to a Source.
//
// io.Reader cannot be interrupted, so the context is only checked between
// reads. Set deadlines on the underlying connection for timeouts.
type ReaderSource struct {
	r   io.Reader
	buf []byte
	err error
}

// NewReaderSource returns a Source that reads from r in reads of up to
// size bytes. A size of zero or less selects the default of 32KB.
func NewReaderSource(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = defaultReadSize
	}
	return &ReaderSource{r: r, buf: make([]byte, size)}
}

// Pull reads the next chunk from the reader. Data returned together with
// an error is delivered first and the error reported on the next call.
// A reader that keeps returning no data and no error fails with
// io.ErrNoProgress.
func (s *ReaderSource) Pull(ctx context.Context) ([]byte, error) {
	for empty := 0; ; empty++ {
		if empty == maxEmptyReads {
			s.err = io.ErrNoProgress
		}
		if s.err != nil {
			return nil, s.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.r.Read(s.buf)
		if err != nil {
			s.err = err
		}
		if n > 0 {
			return s.buf[:n], nil
		}
	}
}
