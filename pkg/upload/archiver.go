package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrArchiveFull is returned when the archive queue cannot take an event.
var ErrArchiveFull = errors.New("upload: archiver buffer full")

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3EventArchiver writes upload events to S3 as one JSON line per object,
// partitioned by date. Writes happen on a background goroutine, and events
// are dropped when its queue is full.
type S3EventArchiver struct {
	client    putObjectAPI
	bucket    string
	keyPrefix string
	logger    *slog.Logger

	events chan *UploadEvent
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// S3ArchiverConfig configures an S3EventArchiver.
type S3ArchiverConfig struct {
	Client     *s3.Client
	Bucket     string
	KeyPrefix  string
	Logger     *slog.Logger
	BufferSize int // default 100
}

// NewS3EventArchiver starts the archiver's background writer.
func NewS3EventArchiver(cfg S3ArchiverConfig) *S3EventArchiver {
	return newS3EventArchiver(cfg.Client, cfg)
}

func newS3EventArchiver(client putObjectAPI, cfg S3ArchiverConfig) *S3EventArchiver {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &S3EventArchiver{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		logger:    cfg.Logger,
		events:    make(chan *UploadEvent, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.wg.Add(1)
	go a.run()
	return a
}

// LogUpload queues event without blocking.
func (a *S3EventArchiver) LogUpload(ctx context.Context, event *UploadEvent) error {
	select {
	case a.events <- event:
		return nil
	default:
		a.logger.Warn("upload archiver buffer full, dropping event", slog.String("id", event.ID))
		return ErrArchiveFull
	}
}

// Shutdown stops the writer after flushing queued events, waiting at most
// timeout.
func (a *S3EventArchiver) Shutdown(timeout time.Duration) error {
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("archiver shutdown timeout after %v", timeout)
	}
}

func (a *S3EventArchiver) run() {
	defer a.wg.Done()

	for {
		select {
		case event := <-a.events:
			a.archive(event)
		case <-a.ctx.Done():
			for {
				select {
				case event := <-a.events:
					a.archive(event)
				default:
					return
				}
			}
		}
	}
}

func (a *S3EventArchiver) archive(event *UploadEvent) {
	if err := a.write(event); err != nil {
		a.logger.Error("failed to archive upload event",
			slog.String("id", event.ID),
			slog.String("error", err.Error()))
	}
}

func (a *S3EventArchiver) write(event *UploadEvent) error {
	line, err := event.toJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line = append(line, '\n')

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := a.key(event.Timestamp, event.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(line),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to write to S3: %w", err)
	}

	a.logger.Debug("archived upload event",
		slog.String("bucket", a.bucket),
		slog.String("key", key))
	return nil
}

// key returns [prefix/]year=YYYY/month=MM/day=DD/upload-<id>.json
func (a *S3EventArchiver) key(ts time.Time, id string) string {
	ts = ts.UTC()
	key := fmt.Sprintf("year=%04d/month=%02d/day=%02d/upload-%s.json",
		ts.Year(), int(ts.Month()), ts.Day(), id)
	if a.keyPrefix != "" {
		key = a.keyPrefix + "/" + key
	}
	return key
}
