package multipart

import (
	"context"
	"io"
)

// Part is one field of a multipart body.
//
// A Part is a view onto its Decoder and is only usable until the Decoder
// moves on to the next part.
type Part struct {
	dec *Decoder
	ctx context.Context // used by Read

	header         Header
	name           string
	filename       string
	hasFilename    bool
	contentType    string
	hasContentType bool

	size  int64  // body bytes delivered so far
	rest  []byte // undelivered tail of the last chunk, for Read
	done  bool   // closing delimiter consumed
	stale bool   // skipped by NextPart before being drained
}

// Name returns the name parameter of the part's Content-Disposition.
// It may be empty.
func (p *Part) Name() string {
	return p.name
}

// FileName returns the filename parameter of the part's
// Content-Disposition and whether one was present. A present but empty
// filename still marks a file field.
func (p *Part) FileName() (string, bool) {
	return p.filename, p.hasFilename
}

// IsFile reports whether the part carries a filename parameter.
func (p *Part) IsFile() bool {
	return p.hasFilename
}

// ContentType returns the part's Content-Type header and whether one was
// present.
func (p *Part) ContentType() (string, bool) {
	return p.contentType, p.hasContentType
}

// Header returns all headers of the part.
func (p *Part) Header() Header {
	return p.header
}

// Size returns the number of body bytes delivered so far.
func (p *Part) Size() int64 {
	return p.size
}

// NextChunk returns the next run of body bytes.
//
// It returns io.EOF once the body is complete, and on every later call.
// The returned slice is only valid until the next call on the Part or its
// Decoder.
func (p *Part) NextChunk(ctx context.Context) ([]byte, error) {
	if len(p.rest) > 0 {
		chunk := p.rest
		p.rest = nil
		return chunk, nil
	}
	if p.stale {
		return nil, ErrStalePart
	}
	if p.done {
		return nil, io.EOF
	}
	if p.dec.state == stateFailed {
		return nil, p.dec.err
	}
	if p.dec.part != p {
		return nil, ErrStalePart
	}
	return p.dec.nextChunk(ctx)
}

// Read implements io.Reader over the part body, using the context that
// was passed to NextPart.
func (p *Part) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(p.rest) == 0 {
		chunk, err := p.NextChunk(p.ctx)
		if err != nil {
			return 0, err
		}
		p.rest = chunk
	}
	n := copy(b, p.rest)
	p.rest = p.rest[n:]
	return n, nil
}
