// Package upload serves multipart/form-data uploads over HTTP, streaming
// file parts to a sink while they are decoded.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/epithet-ssh/formdata/pkg/metrics"
	"github.com/epithet-ssh/formdata/pkg/multipart"
	"github.com/epithet-ssh/formdata/pkg/oidcauth"
	"github.com/epithet-ssh/formdata/pkg/sink"
)

// ErrValuesTooLarge indicates the non-file fields exceed MaxValueBytes.
var ErrValuesTooLarge = errors.New("upload: form values exceed limit")

// StorageError wraps a sink failure for one file part.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to store %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Config configures the upload handler.
type Config struct {
	Sink    sink.Sink
	Events  EventLogger
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// DecoderOptions are passed to every multipart.Decoder.
	DecoderOptions []multipart.Option

	// MaxValueBytes caps the combined size of non-file fields. Zero
	// means unlimited.
	MaxValueBytes int64

	// MaxBodyBytes caps the request body. Zero means unlimited.
	MaxBodyBytes int64

	// ReadSize is the size of reads from the request body.
	ReadSize int

	// NewID generates upload IDs (default: random UUID)
	NewID func() string
}

// Result is the JSON response for a successful upload.
type Result struct {
	ID     string              `json:"id"`
	Fields map[string][]string `json:"fields"`
	Files  []File              `json:"files"`
}

// File describes one stored file part.
type File struct {
	Field       string `json:"field"`
	FileName    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
}

type handler struct {
	cfg Config
	log *slog.Logger
}

// New returns an http.Handler that decodes multipart/form-data request
// bodies.
func New(cfg Config) http.Handler {
	if cfg.Sink == nil {
		cfg.Sink = sink.Discard{}
	}
	if cfg.Events == nil {
		cfg.Events = NewNoopEventLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &handler{cfg: cfg, log: cfg.Logger}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		textError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := time.Now()
	id := h.cfg.NewID()
	w.Header().Set("X-Upload-Id", id)

	event := &UploadEvent{
		Timestamp:  start,
		ID:         id,
		RemoteAddr: r.RemoteAddr,
	}
	if claims, ok := oidcauth.ClaimsFromContext(r.Context()); ok {
		event.Identity = claims.Identity
	}

	status, reason, msg, result := h.handle(w, r, id)
	event.Status = status
	event.Duration = time.Since(start)
	if result != nil {
		event.Fields = len(result.Fields)
		event.Files = result.Files
	}
	if reason != "" {
		event.Error = msg
		h.cfg.Metrics.RecordDecodeError(reason)
	}
	h.cfg.Metrics.RecordUpload(statusLabel(status), event.Duration)

	if err := h.cfg.Events.LogUpload(r.Context(), event); err != nil {
		h.log.Warn("failed to log upload event", "id", id, "error", err)
	}

	if status != http.StatusOK {
		h.log.Info("upload rejected", "id", id, "status", status, "reason", reason, "error", msg)
		textError(w, status, msg)
		return
	}

	out, err := json.Marshal(result)
	if err != nil {
		h.log.Warn("unable to jsonify response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.log.Warn("unable to write response", "error", err)
	}
}

// handle decodes the request and reports the HTTP outcome.
func (h *handler) handle(w http.ResponseWriter, r *http.Request, id string) (int, string, string, *Result) {
	contentType := r.Header.Get("Content-Type")
	if !multipart.IsMultipart(contentType) {
		return http.StatusUnsupportedMediaType, "unsupported_media_type",
			"expected a multipart/form-data body", nil
	}
	boundary, err := multipart.BoundaryFromContentType(contentType)
	if err != nil {
		return http.StatusBadRequest, "no_boundary", err.Error(), nil
	}

	var body io.Reader = r.Body
	if h.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	}

	result, err := h.decode(r.Context(), body, boundary, id)
	if err != nil {
		status, reason := classify(err)
		return status, reason, err.Error(), result
	}
	return http.StatusOK, "", "", result
}

func (h *handler) decode(ctx context.Context, body io.Reader, boundary, id string) (*Result, error) {
	dec, err := multipart.NewDecoder(multipart.NewReaderSource(body, h.cfg.ReadSize), boundary, h.cfg.DecoderOptions...)
	if err != nil {
		return nil, err
	}

	result := &Result{ID: id, Fields: map[string][]string{}, Files: []File{}}
	var valueBytes int64
	for {
		part, err := dec.NextPart(ctx)
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return result, err
		}

		if part.IsFile() {
			f, err := h.store(ctx, id, dec.Parts(), part)
			if err != nil {
				return result, err
			}
			result.Files = append(result.Files, *f)
			h.cfg.Metrics.RecordPart("file", f.Size)
			continue
		}

		value, err := h.readValue(part, valueBytes)
		if err != nil {
			return result, err
		}
		valueBytes += int64(len(value))
		result.Fields[part.Name()] = append(result.Fields[part.Name()], string(value))
		h.cfg.Metrics.RecordPart("value", int64(len(value)))
	}
}

// store streams a file part to the sink, hashing it on the way. The key
// carries the part's index so repeated field and file names stay distinct.
func (h *handler) store(ctx context.Context, id string, index int, part *multipart.Part) (*File, error) {
	fileName, _ := part.FileName()
	contentType, _ := part.ContentType()
	obj := sink.Object{
		Key:         sink.JoinKey(id, strconv.Itoa(index), part.Name(), fileName),
		Field:       part.Name(),
		FileName:    fileName,
		ContentType: contentType,
	}

	hash := sha256.New()
	src := &readRecorder{r: io.TeeReader(part, hash)}
	n, err := h.cfg.Sink.Put(ctx, obj, src)
	if src.err != nil {
		// The decoder failed while the sink was reading.
		return nil, src.err
	}
	if err != nil {
		return nil, &StorageError{Key: obj.Key, Err: err}
	}

	h.log.Debug("stored file part", "key", obj.Key, "bytes", n)
	return &File{
		Field:       obj.Field,
		FileName:    fileName,
		ContentType: contentType,
		Key:         obj.Key,
		Size:        part.Size(),
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func (h *handler) readValue(part *multipart.Part, used int64) ([]byte, error) {
	var r io.Reader = part
	if h.cfg.MaxValueBytes > 0 {
		r = io.LimitReader(part, h.cfg.MaxValueBytes-used+1)
	}
	value, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if h.cfg.MaxValueBytes > 0 && used+int64(len(value)) > h.cfg.MaxValueBytes {
		return nil, fmt.Errorf("%w: field %q", ErrValuesTooLarge, part.Name())
	}
	return value, nil
}

// readRecorder remembers the first non-EOF read error.
type readRecorder struct {
	r   io.Reader
	err error
}

func (r *readRecorder) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}

// classify maps a decode or storage error to an HTTP status and a metric
// reason.
func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	var storage *StorageError
	switch {
	case errors.As(err, &storage):
		return http.StatusBadGateway, "storage"
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, multipart.ErrPartTooLarge):
		return http.StatusRequestEntityTooLarge, "part_too_large"
	case errors.Is(err, multipart.ErrBoundaryTooLarge):
		return http.StatusRequestEntityTooLarge, "boundary_too_large"
	case errors.Is(err, multipart.ErrTooManyParts):
		return http.StatusRequestEntityTooLarge, "too_many_parts"
	case errors.Is(err, ErrValuesTooLarge):
		return http.StatusRequestEntityTooLarge, "values_too_large"
	case errors.Is(err, multipart.ErrFieldNotAllowed):
		return http.StatusBadRequest, "field_not_allowed"
	case errors.Is(err, multipart.ErrMissingFieldName):
		return http.StatusBadRequest, "missing_field_name"
	case errors.Is(err, multipart.ErrMalformedHeader):
		return http.StatusBadRequest, "malformed_header"
	case errors.Is(err, multipart.ErrUnexpectedEOF):
		return http.StatusBadRequest, "unexpected_eof"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "canceled"
	default:
		return http.StatusBadRequest, "invalid"
	}
}

func statusLabel(status int) string {
	switch {
	case status < 300:
		return "ok"
	case status < 500:
		return "rejected"
	default:
		return "failed"
	}
}

func textError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg + "\n"))
}
