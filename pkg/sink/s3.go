package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink streams bodies to an S3 bucket. Bodies of unknown length are sent
// as multipart uploads by the transfer manager.
type S3Sink struct {
	uploader  uploader
	bucket    string
	keyPrefix string
	logger    *slog.Logger
}

// NewS3Sink returns a sink writing to bucket, with keys under prefix.
func NewS3Sink(client *s3.Client, bucket, prefix string, logger *slog.Logger) *S3Sink {
	return newS3Sink(manager.NewUploader(client), bucket, prefix, logger)
}

func newS3Sink(u uploader, bucket, prefix string, logger *slog.Logger) *S3Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &S3Sink{uploader: u, bucket: bucket, keyPrefix: prefix, logger: logger}
}

func (s *S3Sink) Put(ctx context.Context, obj Object, r io.Reader) (int64, error) {
	if obj.Key == "" {
		return 0, ErrInvalidKey
	}
	key := obj.Key
	if s.keyPrefix != "" {
		key = path.Join(s.keyPrefix, key)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   &countingReader{r: r},
		Metadata: map[string]string{
			"field":    obj.Field,
			"filename": url.PathEscape(obj.FileName),
		},
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}

	out, err := s.uploader.Upload(ctx, input)
	n := input.Body.(*countingReader).n
	if err != nil {
		return n, fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.Debug("stored part in S3",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.String("location", out.Location),
		slog.Int64("bytes", n))
	return n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
