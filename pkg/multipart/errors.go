package multipart

import (
	"errors"
	"fmt"
	"io"
)

// Sentinel errors
var (
	// ErrUnexpectedEOF indicates the stream ended inside a delimiter, a
	// header block or a part body, before the final delimiter was seen.
	// It also matches io.ErrUnexpectedEOF.
	ErrUnexpectedEOF = fmt.Errorf("multipart: %w", io.ErrUnexpectedEOF)

	// ErrMalformedHeader indicates a part header block could not be parsed.
	ErrMalformedHeader = errors.New("multipart: malformed header")

	// ErrMissingFieldName indicates a part without a Content-Disposition
	// name parameter.
	ErrMissingFieldName = errors.New("multipart: missing field name")

	// ErrBoundaryTooLarge indicates the decoder held more than MaxLookahead
	// unresolved bytes while searching for a delimiter.
	ErrBoundaryTooLarge = errors.New("multipart: delimiter lookahead exceeds maximum")

	// ErrTooManyParts indicates the body has more parts than MaxParts.
	ErrTooManyParts = errors.New("multipart: too many parts")

	// ErrPartTooLarge indicates a part body exceeds MaxPartSize.
	ErrPartTooLarge = errors.New("multipart: part exceeds maximum size")

	// ErrFieldNotAllowed indicates a field name outside AllowedFields.
	ErrFieldNotAllowed = errors.New("multipart: field not allowed")

	// ErrInvalidBoundary indicates an unusable boundary token.
	ErrInvalidBoundary = errors.New("multipart: invalid boundary")

	// ErrNoBoundary indicates a Content-Type without a boundary parameter.
	ErrNoBoundary = errors.New("multipart: no boundary in content type")

	// ErrStalePart indicates a Part was used after the Decoder moved past it.
	ErrStalePart = errors.New("multipart: part used after decoder advanced")
)

// FormatError provides detailed information about a decoding error.
type FormatError struct {
	Offset int64  // Stream offset near where the error was detected
	Reason string // Human-readable explanation
	Err    error  // One of the sentinel errors above

	also error // optional second sentinel, e.g. ErrUnexpectedEOF
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() []error {
	if e.also != nil {
		return []error{e.Err, e.also}
	}
	return []error{e.Err}
}

// SourceError wraps an error returned by a Source. The wrapped error is
// reachable through errors.Is and errors.As.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return "multipart: source: " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
