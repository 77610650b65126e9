// Package multipart implements streaming decoding of MIME multipart bodies,
// such as multipart/form-data uploads.
//
// A multipart body is a sequence of parts separated by delimiter lines
// built from a boundary token:
//
//	--XYZ\r\n
//	Content-Disposition: form-data; name="a"\r\n
//	\r\n
//	hello\r\n
//	--XYZ--\r\n
//
// Bytes before the first delimiter (the preamble) and after the final
// delimiter (the epilogue) are ignored.
//
// # Basic Usage
//
//	boundary, err := multipart.BoundaryFromContentType(r.Header.Get("Content-Type"))
//	dec, err := multipart.NewDecoder(multipart.NewReaderSource(r.Body, 0), boundary)
//	for {
//		part, err := dec.NextPart(ctx)
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		for {
//			chunk, err := part.NextChunk(ctx)
//			if err == io.EOF {
//				break
//			}
//			...
//		}
//	}
//
// Part also implements io.Reader, so io.Copy(dst, part) works.
//
// # Design Principles
//
//   - Bounded memory: part bodies are never buffered whole. A chunk is
//     released to the caller as soon as it provably cannot overlap a
//     delimiter, so the decoder holds at most one source read plus a
//     delimiter's worth of lookahead.
//   - Pull based: the decoder does no work until the caller asks for the
//     next part or chunk. The only blocking calls are Source.Pull.
//   - Split independent: results do not depend on how the transport
//     splits the stream into reads.
//
// # Chunk Lifetime
//
// Slices returned by Part.NextChunk alias the decoder's buffer and are
// valid only until the next call on the Decoder or any Part. Copy them if
// they must be retained. Part.Read copies into the caller's buffer and has
// no such restriction.
//
// # Header Quoting
//
// Content-Disposition parameters are parsed permissively: quoted values
// are unquoted and backslash escapes resolved, an unterminated quote runs
// to the end of the header, and the first occurrence of a duplicated
// parameter wins. Real clients vary too much for strict RFC 2183 parsing.
//
// # Security
//
// MaxLookahead (default 64KB) caps how many unresolved bytes the decoder
// keeps while deciding whether a delimiter is present, and MaxHeaderBytes
// (default 64KB) caps each header block. MaxParts, MaxPartSize and
// AllowedFields add optional per-request constraints.
package multipart
