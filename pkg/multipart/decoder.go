package multipart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type state int

const (
	statePreamble state = iota
	stateAwaitingPart
	stateHeaders
	stateBody
	stateTerminated
	stateFailed
)

func (s state) String() string {
	switch s {
	case statePreamble:
		return "preamble"
	case stateAwaitingPart:
		return "awaiting-part"
	case stateHeaders:
		return "headers"
	case stateBody:
		return "body"
	case stateTerminated:
		return "terminated"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	crlf     = []byte("\r\n")
	crlfCRLF = []byte("\r\n\r\n")
)

// Decoder reads the parts of a multipart body from a Source.
//
// Parts are returned in document order by NextPart. Only the most recently
// returned Part may be read; calling NextPart again discards whatever is
// left of its body.
//
// A Decoder is not safe for concurrent use. Any decoding error is final:
// every later call returns the same error.
type Decoder struct {
	src  Source
	scan scanner
	cfg  config

	buf    []byte
	pos    int   // buf[pos:] is unconsumed
	offset int64 // stream offset of buf[pos]
	eof    bool

	state     state
	err       error
	last      DelimiterKind // kind of the most recently consumed delimiter
	part      *Part
	bodyStart bool // the unconsumed bytes begin the current part's body
	parts     int
}

// NewDecoder creates a decoder for the multipart body supplied by src.
//
// boundary is the bare boundary token, without the leading "--", usually
// taken from the boundary parameter of a Content-Type header (see
// BoundaryFromContentType).
//
// Example:
//
//	dec, err := multipart.NewDecoder(multipart.NewReaderSource(os.Stdin, 0), boundary,
//		multipart.MaxPartSize(10<<20))
func NewDecoder(src Source, boundary string, opts ...Option) (*Decoder, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: empty boundary", ErrInvalidBoundary)
	}
	if strings.ContainsAny(boundary, "\r\n") {
		return nil, fmt.Errorf("%w: boundary contains a line break", ErrInvalidBoundary)
	}

	cfg := config{
		maxLookahead:   defaultMaxLookahead,
		maxHeaderBytes: defaultMaxHeaderBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	sc := newScanner(boundary)
	// The lookahead must at least fit a delimiter line.
	if floor := len(sc.crlfDash) + 4; cfg.maxLookahead < floor {
		cfg.maxLookahead = floor
	}

	return &Decoder{
		src:   src,
		scan:  sc,
		cfg:   cfg,
		state: statePreamble,
	}, nil
}

// NextPart returns the next part of the body.
//
// It returns io.EOF once the final delimiter has been consumed. If the
// current part has not been read to the end, its remaining bytes are
// discarded first.
func (d *Decoder) NextPart(ctx context.Context) (*Part, error) {
	for {
		switch d.state {
		case stateFailed:
			return nil, d.err
		case stateTerminated:
			return nil, io.EOF
		case statePreamble:
			if err := d.skipPreamble(ctx); err != nil {
				return nil, err
			}
		case stateBody:
			if err := d.drain(ctx); err != nil {
				return nil, err
			}
		case stateAwaitingPart:
			if d.last == Terminator {
				d.terminate()
				continue
			}
			d.state = stateHeaders
		case stateHeaders:
			return d.readPart(ctx)
		}
	}
}

// Parts returns the number of parts yielded so far.
func (d *Decoder) Parts() int {
	return d.parts
}

// Offset returns the number of stream bytes consumed so far.
func (d *Decoder) Offset() int64 {
	return d.offset
}

// skipPreamble discards everything before the first delimiter.
func (d *Decoder) skipPreamble(ctx context.Context) error {
	for {
		res := d.scan.scan(d.pending(), d.offset == 0, d.eof)
		if res.status == found {
			d.consume(res.end)
			d.last = res.kind
			d.state = stateAwaitingPart
			d.cfg.logger.Debug("multipart preamble skipped", "offset", d.offset, "delimiter", res.kind)
			return nil
		}

		d.consume(res.safe)
		if d.eof {
			return d.fail(d.formatError(ErrUnexpectedEOF, "stream ended before the first delimiter"))
		}
		if err := d.checkLookahead(); err != nil {
			return err
		}
		if err := d.fill(ctx); err != nil {
			return d.fail(err)
		}
	}
}

// readPart consumes a header block and returns the part it describes.
func (d *Decoder) readPart(ctx context.Context) (*Part, error) {
	var block []byte
	start := d.offset
	for {
		p := d.pending()
		if bytes.HasPrefix(p, crlf) {
			d.consume(len(crlf))
			break
		}
		if i := bytes.Index(p, crlfCRLF); i >= 0 {
			if i+len(crlfCRLF) > d.cfg.maxHeaderBytes {
				return nil, d.fail(d.formatError(ErrMalformedHeader,
					fmt.Sprintf("header block exceeds %d bytes", d.cfg.maxHeaderBytes)))
			}
			block = p[:i+len(crlf)]
			d.consume(i + len(crlfCRLF))
			break
		}
		if len(p) > d.cfg.maxHeaderBytes {
			return nil, d.fail(d.formatError(ErrMalformedHeader,
				fmt.Sprintf("header block exceeds %d bytes", d.cfg.maxHeaderBytes)))
		}
		if d.eof {
			err := d.formatError(ErrMalformedHeader, "stream ended inside header block")
			err.also = ErrUnexpectedEOF
			return nil, d.fail(err)
		}
		if err := d.fill(ctx); err != nil {
			return nil, d.fail(err)
		}
	}

	header, err := parseHeaderBlock(block)
	if err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Offset += start
		}
		return nil, d.fail(err)
	}

	part, err := d.newPart(ctx, header, start)
	if err != nil {
		return nil, d.fail(err)
	}

	d.parts++
	d.part = part
	d.state = stateBody
	d.bodyStart = true
	d.cfg.logger.Debug("multipart part",
		"index", d.parts,
		"name", part.name,
		"filename", part.filename,
		"content_type", part.contentType,
		"offset", d.offset)
	return part, nil
}

func (d *Decoder) newPart(ctx context.Context, header Header, start int64) (*Part, error) {
	disposition, ok := header.Lookup("Content-Disposition")
	if !ok {
		return nil, &FormatError{Offset: start, Reason: "no Content-Disposition header", Err: ErrMissingFieldName}
	}
	_, params := parseDisposition(disposition)
	name, ok := params["name"]
	if !ok {
		return nil, &FormatError{Offset: start, Reason: "Content-Disposition has no name parameter", Err: ErrMissingFieldName}
	}

	if d.cfg.maxParts > 0 && d.parts >= d.cfg.maxParts {
		return nil, &FormatError{Offset: start, Reason: fmt.Sprintf("more than %d parts", d.cfg.maxParts), Err: ErrTooManyParts}
	}
	if d.cfg.allowed != nil {
		if _, ok := d.cfg.allowed[name]; !ok {
			return nil, &FormatError{Offset: start, Reason: fmt.Sprintf("field %q", name), Err: ErrFieldNotAllowed}
		}
	}

	p := &Part{
		dec:    d,
		ctx:    ctx,
		header: header,
		name:   name,
	}
	p.filename, p.hasFilename = params["filename"]
	p.contentType, p.hasContentType = header.Lookup("Content-Type")
	return p, nil
}

// nextChunk returns the next run of body bytes for the current part.
func (d *Decoder) nextChunk(ctx context.Context) ([]byte, error) {
	for {
		buf := d.pending()
		res := d.scan.scan(buf, d.bodyStart, d.eof)

		if res.status == found {
			if res.at > 0 {
				return d.emit(res.at)
			}
			d.consume(res.end)
			d.last = res.kind
			d.part.done = true
			d.part = nil
			d.state = stateAwaitingPart
			return nil, io.EOF
		}
		if res.safe > 0 {
			return d.emit(res.safe)
		}

		if d.eof {
			return nil, d.fail(d.formatError(ErrUnexpectedEOF, "stream ended inside part body"))
		}
		if err := d.checkLookahead(); err != nil {
			return nil, err
		}
		if err := d.fill(ctx); err != nil {
			return nil, d.fail(err)
		}
	}
}

// emit hands out the next n unconsumed bytes as body data.
func (d *Decoder) emit(n int) ([]byte, error) {
	chunk := d.buf[d.pos : d.pos+n : d.pos+n]
	d.consume(n)
	d.bodyStart = false

	p := d.part
	p.size += int64(n)
	if d.cfg.maxPartSize > 0 && p.size > d.cfg.maxPartSize {
		return nil, d.fail(d.formatError(ErrPartTooLarge,
			fmt.Sprintf("field %q exceeds %d bytes", p.name, d.cfg.maxPartSize)))
	}
	return chunk, nil
}

// drain discards the rest of the current part.
func (d *Decoder) drain(ctx context.Context) error {
	p := d.part
	p.rest = nil
	for {
		_, err := d.nextChunk(ctx)
		if err == io.EOF {
			p.stale = true
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (d *Decoder) pending() []byte {
	return d.buf[d.pos:]
}

func (d *Decoder) consume(n int) {
	d.pos += n
	d.offset += int64(n)
}

// fill pulls the next chunk from the source. Previously returned chunks
// may be overwritten.
func (d *Decoder) fill(ctx context.Context) error {
	if d.pos > 0 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}

	data, err := d.src.Pull(ctx)
	d.buf = append(d.buf, data...)
	if err == io.EOF {
		d.eof = true
		return nil
	}
	if err != nil {
		return &SourceError{Err: err}
	}
	return nil
}

func (d *Decoder) checkLookahead() error {
	if n := len(d.pending()); n > d.cfg.maxLookahead {
		return d.fail(d.formatError(ErrBoundaryTooLarge,
			fmt.Sprintf("%d unresolved bytes, limit %d", n, d.cfg.maxLookahead)))
	}
	return nil
}

func (d *Decoder) terminate() {
	d.state = stateTerminated
	d.buf = nil
	d.pos = 0
	d.cfg.logger.Debug("multipart terminated", "parts", d.parts, "offset", d.offset)
}

// fail records err as the final result of the decoder.
func (d *Decoder) fail(err error) error {
	d.cfg.logger.Debug("multipart decode failed", "state", d.state, "offset", d.offset, "error", err)
	d.state = stateFailed
	d.err = err
	d.buf = nil
	d.pos = 0
	d.part = nil
	return err
}

func (d *Decoder) formatError(sentinel error, reason string) *FormatError {
	return &FormatError{Offset: d.offset, Reason: reason, Err: sentinel}
}
