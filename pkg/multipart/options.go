package multipart

import "log/slog"

const (
	// Default cap on unresolved delimiter lookahead (64KB)
	defaultMaxLookahead = 64 * 1024

	// Default cap on a single part's header block (64KB)
	defaultMaxHeaderBytes = 64 * 1024
)

// config holds decoder configuration.
type config struct {
	maxLookahead   int
	maxHeaderBytes int
	maxParts       int
	maxPartSize    int64
	allowed        map[string]struct{}
	logger         *slog.Logger
}

// Option configures a Decoder.
type Option func(*config)

// MaxLookahead sets how many unresolved bytes the decoder may hold while
// deciding whether a delimiter is present. Exceeding it fails the decoder
// with ErrBoundaryTooLarge.
//
// Default: 64KB
func MaxLookahead(n int) Option {
	return func(c *config) {
		c.maxLookahead = n
	}
}

// MaxHeaderBytes limits the size of each part's header block.
// Larger blocks fail with ErrMalformedHeader.
//
// Default: 64KB
func MaxHeaderBytes(n int) Option {
	return func(c *config) {
		c.maxHeaderBytes = n
	}
}

// MaxParts limits the number of parts. Zero means unlimited.
func MaxParts(n int) Option {
	return func(c *config) {
		c.maxParts = n
	}
}

// MaxPartSize limits the body size of every part. Zero means unlimited.
func MaxPartSize(n int64) Option {
	return func(c *config) {
		c.maxPartSize = n
	}
}

// AllowedFields restricts field names to the given set. Any other name
// fails with ErrFieldNotAllowed. With no names every field is accepted.
func AllowedFields(names ...string) Option {
	return func(c *config) {
		if len(names) == 0 {
			c.allowed = nil
			return
		}
		c.allowed = make(map[string]struct{}, len(names))
		for _, n := range names {
			c.allowed[n] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for debug tracing of decoder progress.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
