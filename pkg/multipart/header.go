package multipart

import (
	"bytes"
	"fmt"
	"iter"
	"net/textproto"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
)

// Header holds the headers of one part in the order they arrived.
// Names are canonicalized, so lookups are case-insensitive.
type Header struct {
	m *orderedmap.OrderedMap[string, []string]
}

func newHeader() Header {
	return Header{m: orderedmap.NewOrderedMap[string, []string]()}
}

// Add appends value to the values of name.
func (h Header) Add(name, value string) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	values, _ := h.m.Get(key)
	h.m.Set(key, append(values, value))
}

// Get returns the first value of name, or "" if it is not present.
func (h Header) Get(name string) string {
	values := h.Values(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Lookup returns the first value of name and whether it is present.
func (h Header) Lookup(name string) (string, bool) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Values returns every value of name in arrival order.
func (h Header) Values(name string) []string {
	if h.m == nil {
		return nil
	}
	values, _ := h.m.Get(textproto.CanonicalMIMEHeaderKey(name))
	return values
}

// Len returns the number of distinct header names.
func (h Header) Len() int {
	if h.m == nil {
		return 0
	}
	return h.m.Len()
}

// All iterates over header names and their values in arrival order.
func (h Header) All() iter.Seq2[string, []string] {
	return func(yield func(string, []string) bool) {
		if h.m == nil {
			return
		}
		for k, v := range h.m.AllFromFront() {
			if !yield(k, v) {
				return
			}
		}
	}
}

// parseHeaderBlock parses the header lines of one part. block holds the
// lines up to, but not including, the blank line that ends the block.
// Offsets in returned errors are relative to the start of block.
func parseHeaderBlock(block []byte) (Header, error) {
	h := newHeader()
	var lastKey string
	offset := 0

	for len(block) > 0 {
		line := block
		next := len(block)
		if i := bytes.IndexByte(block, '\n'); i >= 0 {
			line = block[:i]
			next = i + 1
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})

		switch {
		case len(bytes.TrimSpace(line)) == 0:
			// Stray blank-ish line inside the block; nothing to record.
		case line[0] == ' ' || line[0] == '\t':
			// Obsolete line folding continues the previous value.
			if lastKey == "" {
				return Header{}, &FormatError{
					Offset: int64(offset),
					Reason: "continuation line before any header",
					Err:    ErrMalformedHeader,
				}
			}
			values, _ := h.m.Get(lastKey)
			cont := strings.TrimSpace(string(line))
			if last := values[len(values)-1]; last != "" {
				cont = last + " " + cont
			}
			values[len(values)-1] = cont
		default:
			name, value, ok := bytes.Cut(line, []byte{':'})
			if !ok {
				return Header{}, &FormatError{
					Offset: int64(offset),
					Reason: fmt.Sprintf("header line without colon: %q", truncate(line, 64)),
					Err:    ErrMalformedHeader,
				}
			}
			name = bytes.TrimSpace(name)
			if len(name) == 0 {
				return Header{}, &FormatError{
					Offset: int64(offset),
					Reason: "empty header name",
					Err:    ErrMalformedHeader,
				}
			}
			lastKey = textproto.CanonicalMIMEHeaderKey(string(name))
			h.Add(lastKey, string(bytes.TrimSpace(value)))
		}

		block = block[next:]
		offset += next
	}
	return h, nil
}

// parseDisposition splits a Content-Disposition value into its
// disposition type and parameters.
//
// Parsing is permissive. Parameter names are lowercased, the first
// occurrence of a parameter wins, quoted values are unquoted, and an
// unterminated quote runs to the end of the value. Inside quotes only
// \" and \\ are treated as escapes; any other backslash is kept, since
// some clients send raw Windows paths.
func parseDisposition(v string) (string, map[string]string) {
	disp, rest, _ := strings.Cut(v, ";")
	params := make(map[string]string)

	for {
		rest = strings.TrimLeft(rest, " \t;")
		if rest == "" {
			break
		}

		var key string
		eq := strings.IndexAny(rest, "=;")
		if eq < 0 || rest[eq] == ';' {
			// Parameter without a value; skip it.
			if eq < 0 {
				break
			}
			rest = rest[eq+1:]
			continue
		}
		key = strings.ToLower(strings.TrimSpace(rest[:eq]))
		rest = strings.TrimLeft(rest[eq+1:], " \t")

		var value string
		if strings.HasPrefix(rest, `"`) {
			value, rest = unquote(rest[1:])
		} else {
			end := strings.IndexByte(rest, ';')
			if end < 0 {
				end = len(rest)
			}
			value = strings.TrimSpace(rest[:end])
			rest = rest[end:]
		}

		if key == "" {
			continue
		}
		if _, dup := params[key]; !dup {
			params[key] = value
		}
	}

	return strings.ToLower(strings.TrimSpace(disp)), params
}

// unquote reads a quoted-string body that starts just after the opening
// quote. It returns the value and the remainder after the closing quote.
func unquote(s string) (string, string) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			return b.String(), s[i+1:]
		case c == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\'):
			b.WriteByte(s[i+1])
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), ""
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
