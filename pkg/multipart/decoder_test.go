package multipart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"
)

const simpleBody = "--XYZ\r\n" +
	"Content-Disposition: form-data; name=\"a\"\r\n" +
	"\r\n" +
	"hello\r\n" +
	"--XYZ--\r\n"

const formBody = "This is the preamble.\r\n" +
	"--XYZ\r\n" +
	"Content-Disposition: form-data; name=\"title\"\r\n" +
	"\r\n" +
	"Quarterly report\r\n" +
	"--XYZ\r\n" +
	"Content-Disposition: form-data; name=\"upload\"; filename=\"report.csv\"\r\n" +
	"Content-Type: text/csv\r\n" +
	"\r\n" +
	"a,b\r\n1,2\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Disposition: form-data; name=\"empty\"\r\n" +
	"\r\n" +
	"\r\n" +
	"--XYZ--\r\n" +
	"This is the epilogue.\r\n" +
	"--XYZ\r\n" +
	"Content-Disposition: form-data; name=\"ghost\"\r\n\r\nboo\r\n"

type decodedPart struct {
	Name        string
	FileName    string
	HasFileName bool
	ContentType string
	Body        string
}

// chunkSource delivers chunks one per Pull, then io.EOF.
func chunkSource(chunks ...[]byte) Source {
	i := 0
	return SourceFunc(func(ctx context.Context) ([]byte, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	})
}

// splitEvery cuts data into pieces of n bytes.
func splitEvery(data []byte, n int) [][]byte {
	var out [][]byte
	for len(data) > n {
		out = append(out, data[:n])
		data = data[n:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}

// decodeAll drains every part, copying chunks so they outlive the decoder.
func decodeAll(t *testing.T, src Source, boundary string, opts ...Option) ([]decodedPart, error) {
	t.Helper()
	dec, err := NewDecoder(src, boundary, opts...)
	require.NoError(t, err)

	ctx := t.Context()
	var parts []decodedPart
	for {
		p, err := dec.NextPart(ctx)
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}

		dp := decodedPart{Name: p.Name()}
		dp.FileName, dp.HasFileName = p.FileName()
		dp.ContentType, _ = p.ContentType()

		var body bytes.Buffer
		for {
			chunk, err := p.NextChunk(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return parts, err
			}
			body.Write(chunk)
		}
		dp.Body = body.String()
		parts = append(parts, dp)
	}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(tint.NewHandler(t.Output(), &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05",
	}))
}

func TestDecoder_Simple(t *testing.T) {
	parts, err := decodeAll(t, chunkSource([]byte(simpleBody)), "XYZ", WithLogger(testLogger(t)))
	require.NoError(t, err)
	require.Equal(t, []decodedPart{{Name: "a", Body: "hello"}}, parts)
}

func TestDecoder_Form(t *testing.T) {
	parts, err := decodeAll(t, chunkSource([]byte(formBody)), "XYZ")
	require.NoError(t, err)
	require.Equal(t, []decodedPart{
		{Name: "title", Body: "Quarterly report"},
		{Name: "upload", FileName: "report.csv", HasFileName: true, ContentType: "text/csv", Body: "a,b\r\n1,2\r\n"},
		{Name: "empty", Body: ""},
	}, parts)
}

func TestDecoder_SingleByteChunks(t *testing.T) {
	whole, err := decodeAll(t, chunkSource([]byte(formBody)), "XYZ")
	require.NoError(t, err)

	split, err := decodeAll(t, chunkSource(splitEvery([]byte(formBody), 1)...), "XYZ")
	require.NoError(t, err)
	require.Equal(t, whole, split)
}

func TestDecoder_EmptyFileName(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"f\"; filename=\"\"\r\n" +
		"\r\n" +
		"\r\n" +
		"--XYZ--\r\n"
	parts, err := decodeAll(t, chunkSource([]byte(body)), "XYZ")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.True(t, parts[0].HasFileName)
	require.Equal(t, "", parts[0].FileName)
}

func TestDecoder_BareDelimiterEmptyBody(t *testing.T) {
	// Some clients omit the CRLF before the delimiter of an empty body.
	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"b\"\r\n" +
		"\r\n" +
		"b\r\n" +
		"--XYZ--"
	parts, err := decodeAll(t, chunkSource([]byte(body)), "XYZ")
	require.NoError(t, err)
	require.Equal(t, []decodedPart{{Name: "a"}, {Name: "b", Body: "b"}}, parts)
}

func TestDecoder_EmptyMultipart(t *testing.T) {
	parts, err := decodeAll(t, chunkSource([]byte("--XYZ--\r\n")), "XYZ")
	require.NoError(t, err)
	require.Empty(t, parts)
}

func TestDecoder_EmptyStream(t *testing.T) {
	_, err := decodeAll(t, chunkSource(), "XYZ")
	require.ErrorIs(t, err, ErrUnexpectedEOF)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoder_MissingFieldName(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Disposition: form-data\r\n" +
		"\r\n" +
		"x\r\n" +
		"--XYZ--\r\n"
	dec, err := NewDecoder(chunkSource([]byte(body)), "XYZ")
	require.NoError(t, err)

	p, err := dec.NextPart(t.Context())
	require.Nil(t, p)
	require.ErrorIs(t, err, ErrMissingFieldName)

	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, int64(7), fe.Offset)
}

func TestDecoder_MissingDispositionHeader(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"x\r\n" +
		"--XYZ--\r\n"
	_, err := decodeAll(t, chunkSource([]byte(body)), "XYZ")
	require.ErrorIs(t, err, ErrMissingFieldName)
}

func TestDecoder_MissingTerminator(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"\r\n" +
		"hello\r\n" +
		"--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"b\"\r\n" +
		"\r\n" +
		"wor"
	parts, err := decodeAll(t, chunkSource([]byte(body)), "XYZ")
	require.ErrorIs(t, err, ErrUnexpectedEOF)
	require.Equal(t, []decodedPart{{Name: "a", Body: "hello"}}, parts)
}

func TestDecoder_EOFInsideHeaders(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"\r\n" +
		"hello\r\n" +
		"--XYZ\r\n" +
		"Content-Disposition: form-da"
	parts, err := decodeAll(t, chunkSource([]byte(body)), "XYZ")
	require.ErrorIs(t, err, ErrMalformedHeader)
	require.ErrorIs(t, err, ErrUnexpectedEOF)
	require.Len(t, parts, 1)
}

func TestDecoder_MalformedHeader(t *testing.T) {
	body := "--XYZ\r\n" +
		"this line has no colon\r\n" +
		"\r\n" +
		"x\r\n" +
		"--XYZ--\r\n"
	_, err := decodeAll(t, chunkSource([]byte(body)), "XYZ")
	require.ErrorIs(t, err, ErrMalformedHeader)

	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, int64(7), fe.Offset)
}

func TestDecoder_SkipUndrainedPart(t *testing.T) {
	dec, err := NewDecoder(chunkSource(splitEvery([]byte(formBody), 3)...), "XYZ")
	require.NoError(t, err)
	ctx := t.Context()

	first, err := dec.NextPart(ctx)
	require.NoError(t, err)
	require.Equal(t, "title", first.Name())

	// Read a little of the first part, then move on.
	chunk, err := first.NextChunk(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, chunk)

	second, err := dec.NextPart(ctx)
	require.NoError(t, err)
	require.Equal(t, "upload", second.Name())

	body, err := io.ReadAll(second)
	require.NoError(t, err)
	require.Equal(t, "a,b\r\n1,2\r\n", string(body))

	_, err = first.NextChunk(ctx)
	require.ErrorIs(t, err, ErrStalePart)

	// A drained part keeps reporting EOF.
	_, err = second.NextChunk(ctx)
	require.Equal(t, io.EOF, err)

	third, err := dec.NextPart(ctx)
	require.NoError(t, err)
	require.Equal(t, "empty", third.Name())

	_, err = dec.NextPart(ctx)
	require.Equal(t, io.EOF, err)
	_, err = dec.NextPart(ctx)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 3, dec.Parts())
}

func TestDecoder_NoPullAfterTerminator(t *testing.T) {
	pulls := 0
	src := SourceFunc(func(ctx context.Context) ([]byte, error) {
		pulls++
		if pulls == 1 {
			return []byte(simpleBody), nil
		}
		return nil, errors.New("pulled past the terminator")
	})

	parts, err := decodeAll(t, src, "XYZ")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, 1, pulls)
}

func TestDecoder_SourceError(t *testing.T) {
	boom := errors.New("connection reset")
	sent := false
	src := SourceFunc(func(ctx context.Context) ([]byte, error) {
		if !sent {
			sent = true
			return []byte("--XYZ\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\npartial"), nil
		}
		return nil, boom
	})

	dec, err := NewDecoder(src, "XYZ")
	require.NoError(t, err)
	ctx := t.Context()

	p, err := dec.NextPart(ctx)
	require.NoError(t, err)

	_, err = io.ReadAll(p)
	require.ErrorIs(t, err, boom)
	var se *SourceError
	require.ErrorAs(t, err, &se)

	// The failure is sticky.
	_, err = dec.NextPart(ctx)
	require.ErrorIs(t, err, boom)
	_, err = p.NextChunk(ctx)
	require.ErrorIs(t, err, boom)
}

func TestDecoder_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	dec, err := NewDecoder(NewReaderSource(strings.NewReader(simpleBody), 0), "XYZ")
	require.NoError(t, err)

	_, err = dec.NextPart(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDecoder_BoundaryTooLarge(t *testing.T) {
	body := "--XYZ" + strings.Repeat(" ", 100)
	dec, err := NewDecoder(chunkSource([]byte(body), []byte("\r\n")), "XYZ", MaxLookahead(32))
	require.NoError(t, err)

	_, err = dec.NextPart(t.Context())
	require.ErrorIs(t, err, ErrBoundaryTooLarge)
}

func TestDecoder_LongBodyStaysBounded(t *testing.T) {
	// A body much larger than the lookahead decodes fine because it is
	// released as it is scanned.
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	body := "--XYZ\r\nContent-Disposition: form-data; name=\"big\"\r\n\r\n" +
		string(payload) + "\r\n--XYZ--\r\n"

	parts, err := decodeAll(t, chunkSource(splitEvery([]byte(body), 1000)...), "XYZ", MaxLookahead(64))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, string(payload), parts[0].Body)
}

func TestDecoder_HeaderTooLarge(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"X-Padding: " + strings.Repeat("p", 200) + "\r\n" +
		"\r\n" +
		"x\r\n--XYZ--\r\n"
	_, err := decodeAll(t, chunkSource([]byte(body)), "XYZ", MaxHeaderBytes(64))
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestDecoder_MaxPartSize(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"\r\n" +
		"0123456789\r\n" +
		"--XYZ--\r\n"

	_, err := decodeAll(t, chunkSource([]byte(body)), "XYZ", MaxPartSize(10))
	require.NoError(t, err)

	_, err = decodeAll(t, chunkSource([]byte(body)), "XYZ", MaxPartSize(5))
	require.ErrorIs(t, err, ErrPartTooLarge)
}

func TestDecoder_MaxParts(t *testing.T) {
	parts, err := decodeAll(t, chunkSource([]byte(formBody)), "XYZ", MaxParts(2))
	require.ErrorIs(t, err, ErrTooManyParts)
	require.Len(t, parts, 2)
}

func TestDecoder_AllowedFields(t *testing.T) {
	_, err := decodeAll(t, chunkSource([]byte(formBody)), "XYZ", AllowedFields("title", "upload", "empty"))
	require.NoError(t, err)

	parts, err := decodeAll(t, chunkSource([]byte(formBody)), "XYZ", AllowedFields("title"))
	require.ErrorIs(t, err, ErrFieldNotAllowed)
	require.Len(t, parts, 1)
}

func TestDecoder_BodyLooksLikeDelimiter(t *testing.T) {
	bodies := []string{
		"x--XYZ",
		"\r\n--XY",
		"line\r\n--XYZabc\r\n",
		"\r\n--XYZ-",
		"--XYZ--x",
		"\r\r\n\r\n-\r\n--",
		"trailing CR\r",
	}
	for _, b := range bodies {
		payload := "--XYZ\r\nContent-Disposition: form-data; name=\"f\"\r\n\r\n" + b + "\r\n--XYZ--\r\n"
		for size := 1; size <= len(payload); size++ {
			parts, err := decodeAll(t, chunkSource(splitEvery([]byte(payload), size)...), "XYZ")
			require.NoError(t, err, "body %q split %d", b, size)
			require.Len(t, parts, 1)
			require.Equal(t, b, parts[0].Body, "body %q split %d", b, size)
		}
	}
}

func TestNewDecoder_InvalidBoundary(t *testing.T) {
	_, err := NewDecoder(chunkSource(), "")
	require.ErrorIs(t, err, ErrInvalidBoundary)

	_, err = NewDecoder(chunkSource(), "a\r\nb")
	require.ErrorIs(t, err, ErrInvalidBoundary)
}

func TestPart_Read(t *testing.T) {
	dec, err := NewDecoder(chunkSource([]byte(formBody)), "XYZ")
	require.NoError(t, err)
	ctx := t.Context()

	_, err = dec.NextPart(ctx)
	require.NoError(t, err)
	p, err := dec.NextPart(ctx)
	require.NoError(t, err)

	// Tiny reads exercise the carried-over remainder.
	var got []byte
	buf := make([]byte, 3)
	for {
		n, err := p.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, "a,b\r\n1,2\r\n", string(got))
	require.Equal(t, int64(len(got)), p.Size())
	require.Equal(t, "text/csv", p.Header().Get("content-type"))
	require.True(t, p.IsFile())
}
