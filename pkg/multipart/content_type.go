package multipart

import (
	"mime"
	"strings"
)

// BoundaryFromContentType extracts the boundary parameter from a
// Content-Type header value such as
//
//	multipart/form-data; boundary=XYZ
//
// Values that mime.ParseMediaType rejects are scanned for a plain
// "boundary=" parameter instead, since some clients send sloppy headers.
func BoundaryFromContentType(contentType string) (string, error) {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if b := params["boundary"]; b != "" {
			return b, nil
		}
		return "", ErrNoBoundary
	}

	for _, param := range strings.Split(contentType, ";") {
		param = strings.TrimSpace(param)
		if len(param) < len("boundary=") || !strings.EqualFold(param[:len("boundary=")], "boundary=") {
			continue
		}
		if b := strings.Trim(param[len("boundary="):], `"`); b != "" {
			return b, nil
		}
	}
	return "", ErrNoBoundary
}

// IsMultipart reports whether a Content-Type value names a multipart
// media type.
func IsMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "multipart/")
}
