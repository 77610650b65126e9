package multipart

import "bytes"

// DelimiterKind distinguishes the delimiter lines of a multipart body.
type DelimiterKind int

const (
	// Separator is "--boundary", followed by another part.
	Separator DelimiterKind = iota + 1
	// Terminator is "--boundary--", the end of the multipart body.
	Terminator
)

func (k DelimiterKind) String() string {
	switch k {
	case Separator:
		return "separator"
	case Terminator:
		return "terminator"
	default:
		return "none"
	}
}

type scanStatus int

const (
	// No delimiter, and no partial delimiter at the end of the buffer.
	notFound scanStatus = iota
	// The buffer ends with bytes that could still become a delimiter.
	needMore
	// A complete delimiter line was found.
	found
)

// scanResult reports the outcome of a single scan.
//
// For found, buf[at:end] is the delimiter line including the CRLF that
// precedes it (when there is one) and the line ending that follows it.
// For notFound and needMore, buf[:safe] cannot be part of any delimiter.
type scanResult struct {
	status scanStatus
	at     int
	end    int
	kind   DelimiterKind
	safe   int
}

// scanner finds delimiter lines for one boundary token.
type scanner struct {
	crlfDash []byte // "\r\n--boundary"
	dash     []byte // "--boundary"
}

func newScanner(boundary string) scanner {
	b := []byte("\r\n--" + boundary)
	return scanner{crlfDash: b, dash: b[2:]}
}

// scan searches buf for the leftmost complete delimiter line.
//
// lineStart reports whether buf[0] begins a line, in which case a bare
// "--boundary" at offset 0 is accepted; everywhere else a delimiter must
// be preceded by CRLF. atEOF reports that no more bytes will follow buf.
func (s *scanner) scan(buf []byte, lineStart, atEOF bool) scanResult {
	if lineStart {
		n := min(len(buf), len(s.dash))
		if bytes.Equal(buf[:n], s.dash[:n]) {
			if n < len(s.dash) {
				if !atEOF {
					return scanResult{status: needMore}
				}
			} else {
				kind, end, verdict := s.matchTail(buf, n, atEOF)
				switch verdict {
				case matchYes:
					return scanResult{status: found, at: 0, end: end, kind: kind}
				case matchMaybe:
					return scanResult{status: needMore}
				}
			}
		}
	}

	from := 0
	for {
		i := bytes.Index(buf[from:], s.crlfDash)
		if i < 0 {
			break
		}
		i += from
		kind, end, verdict := s.matchTail(buf, i+len(s.crlfDash), atEOF)
		switch verdict {
		case matchYes:
			return scanResult{status: found, at: i, end: end, kind: kind}
		case matchMaybe:
			return scanResult{status: needMore, safe: i}
		}
		// "--boundaryX" is body data; keep looking past it.
		from = i + 1
	}

	if atEOF {
		return scanResult{status: notFound, safe: len(buf)}
	}
	if k := s.partialSuffix(buf); k > 0 {
		return scanResult{status: needMore, safe: len(buf) - k}
	}
	return scanResult{status: notFound, safe: len(buf)}
}

const (
	matchNo = iota
	matchMaybe
	matchYes
)

// matchTail decides what follows a "--boundary" that ends at buf[p].
//
// Separator:  optional linear whitespace, then CRLF.
// Terminator: "--", optional linear whitespace, then CRLF or end of stream.
func (s *scanner) matchTail(buf []byte, p int, atEOF bool) (DelimiterKind, int, int) {
	kind := Separator
	if p < len(buf) && buf[p] == '-' {
		if p+1 == len(buf) {
			if atEOF {
				return 0, 0, matchNo
			}
			return 0, 0, matchMaybe
		}
		if buf[p+1] != '-' {
			return 0, 0, matchNo
		}
		kind = Terminator
		p += 2
	}

	p += lwspLen(buf[p:])
	if p == len(buf) {
		if !atEOF {
			return 0, 0, matchMaybe
		}
		if kind == Terminator {
			return kind, p, matchYes
		}
		return 0, 0, matchNo
	}
	if buf[p] != '\r' {
		return 0, 0, matchNo
	}
	if p+1 == len(buf) {
		if !atEOF {
			return 0, 0, matchMaybe
		}
		if kind == Terminator {
			return kind, p + 1, matchYes
		}
		return 0, 0, matchNo
	}
	if buf[p+1] != '\n' {
		return 0, 0, matchNo
	}
	return kind, p + 2, matchYes
}

// partialSuffix returns the length of the longest suffix of buf that is a
// proper prefix of "\r\n--boundary".
func (s *scanner) partialSuffix(buf []byte) int {
	for k := min(len(buf), len(s.crlfDash)-1); k > 0; k-- {
		if bytes.Equal(buf[len(buf)-k:], s.crlfDash[:k]) {
			return k
		}
	}
	return 0
}

// lwspLen returns the number of leading spaces and tabs in b.
// RFC 822 defines:
//
//	LWSP-char = SPACE / HTAB
func lwspLen(b []byte) int {
	n := 0
	for n < len(b) && (b[n] == ' ' || b[n] == '\t') {
		n++
	}
	return n
}
