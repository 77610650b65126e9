package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/epithet-ssh/formdata/pkg/config"
	"github.com/epithet-ssh/formdata/pkg/metrics"
	"github.com/epithet-ssh/formdata/pkg/oidcauth"
	"github.com/epithet-ssh/formdata/pkg/sink"
	"github.com/epithet-ssh/formdata/pkg/upload"
)

const shutdownTimeout = 10 * time.Second

// ServeCLI runs the HTTP upload endpoint.
type ServeCLI struct {
	Listen        string `help:"Address to listen on (host:port or unix:///path)" short:"l" env:"FORMDATA_LISTEN"`
	Sink          string `help:"Where file parts are stored (discard, dir, s3, stdout)" enum:",discard,dir,s3,stdout" default:""`
	Dir           string `help:"Root directory for the dir sink" type:"path"`
	Bucket        string `help:"S3 bucket for the s3 sink" env:"UPLOAD_BUCKET"`
	Prefix        string `help:"Key prefix for stored files" env:"UPLOAD_PREFIX"`
	ArchiveBucket string `help:"S3 bucket for upload event archival (optional)" env:"UPLOAD_ARCHIVE_BUCKET"`
	ArchivePrefix string `help:"S3 key prefix for upload event archival" env:"UPLOAD_ARCHIVE_PREFIX"`
	Timeout       string `help:"Per request timeout (e.g. 60s)"`
	MaxBodyBytes  int64  `help:"Reject request bodies larger than this (0 = unlimited)" default:"0"`
	OIDC          struct {
		Issuer   string `help:"OIDC issuer URL; enables bearer authentication" env:"OIDC_ISSUER"`
		ClientID string `help:"Expected OIDC audience" env:"OIDC_CLIENT_ID"`
		CACert   string `help:"PEM bundle trusted when contacting the issuer" type:"path"`
		Insecure bool   `help:"Skip TLS verification when contacting the issuer"`
	} `embed:"" prefix:"oidc-"`
}

func (c *ServeCLI) Run(logger *slog.Logger, cfg *config.Config) error {
	c.applyOverrides(cfg)
	timeout, err := cfg.Server.RequestTimeout()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := sink.New(ctx, cfg.Sink, logger)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	events, shutdownEvents, err := newEventLogger(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer shutdownEvents()

	var validator oidcauth.TokenValidator
	if cfg.Server.OIDC != nil {
		v, err := oidcauth.NewValidator(ctx, oidcauth.Config{
			Issuer:     cfg.Server.OIDC.Issuer,
			ClientID:   cfg.Server.OIDC.ClientID,
			CACertFile: c.OIDC.CACert,
			Insecure:   c.OIDC.Insecure,
		})
		if err != nil {
			return fmt.Errorf("failed to create OIDC validator: %w", err)
		}
		validator = v
		logger.Info("bearer authentication enabled", "issuer", cfg.Server.OIDC.Issuer)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler := upload.New(upload.Config{
		Sink:           store,
		Events:         events,
		Metrics:        metrics.New(reg),
		Logger:         logger,
		DecoderOptions: cfg.Decoder.Options(logger),
		MaxValueBytes:  cfg.Decoder.MaxValueBytes,
		MaxBodyBytes:   c.MaxBodyBytes,
		ReadSize:       cfg.Decoder.ReadSize,
	})

	ln, err := listen(cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}

	server := &http.Server{
		Handler:           newRouter(handler, reg, validator, timeout, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "address", cfg.Server.Listen, "sink", cfg.Sink.Kind)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// applyOverrides applies CLI-provided values over config file values.
func (c *ServeCLI) applyOverrides(cfg *config.Config) {
	if c.Listen != "" {
		cfg.Server.Listen = c.Listen
	}
	if c.Timeout != "" {
		cfg.Server.Timeout = c.Timeout
	}
	if c.Sink != "" {
		cfg.Sink.Kind = c.Sink
	}
	if c.Dir != "" {
		cfg.Sink.Dir = c.Dir
	}
	if c.Bucket != "" {
		cfg.Sink.Bucket = c.Bucket
		if c.Sink == "" && cfg.Sink.Kind == "discard" {
			cfg.Sink.Kind = "s3"
		}
	}
	if c.Prefix != "" {
		cfg.Sink.Prefix = c.Prefix
	}
	applyArchiveOverrides(cfg, c.ArchiveBucket, c.ArchivePrefix)
	if c.OIDC.Issuer != "" {
		if cfg.Server.OIDC == nil {
			cfg.Server.OIDC = &config.OIDCConfig{}
		}
		cfg.Server.OIDC.Issuer = c.OIDC.Issuer
	}
	if c.OIDC.ClientID != "" && cfg.Server.OIDC != nil {
		cfg.Server.OIDC.ClientID = c.OIDC.ClientID
	}
}

// applyArchiveOverrides enables or adjusts event archival from flags.
func applyArchiveOverrides(cfg *config.Config, bucket, prefix string) {
	if bucket != "" {
		if cfg.Archive == nil {
			cfg.Archive = &config.ArchiveConfig{Prefix: "uploads", BufferSize: 100}
		}
		cfg.Archive.Bucket = bucket
	}
	if prefix != "" && cfg.Archive != nil {
		cfg.Archive.Prefix = prefix
	}
}

// newRouter mounts the upload handler with the standard middleware stack.
// A nil validator leaves uploads unauthenticated.
func newRouter(handler http.Handler, gatherer prometheus.Gatherer, validator oidcauth.TokenValidator, timeout time.Duration, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		if validator != nil {
			r.Use(oidcauth.Middleware(validator, logger))
		}
		r.Method(http.MethodPost, "/upload", handler)
		r.Method(http.MethodPut, "/upload", handler)
	})
	return r
}

// newEventLogger returns the slog event logger, combined with an S3
// archiver when archival is configured. The returned func drains the
// archiver.
func newEventLogger(ctx context.Context, archive *config.ArchiveConfig, logger *slog.Logger) (upload.EventLogger, func(), error) {
	slogEvents := upload.NewSlogEventLogger(logger)
	if archive == nil || archive.Bucket == "" {
		logger.Info("upload event archival disabled (no S3 bucket configured)")
		return slogEvents, func() {}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	archiver := upload.NewS3EventArchiver(upload.S3ArchiverConfig{
		Client:     s3.NewFromConfig(awsCfg),
		Bucket:     archive.Bucket,
		KeyPrefix:  archive.Prefix,
		Logger:     logger,
		BufferSize: archive.BufferSize,
	})
	logger.Info("upload event archival enabled", "bucket", archive.Bucket, "prefix", archive.Prefix)

	shutdown := func() {
		if err := archiver.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("upload event archiver did not drain", "error", err)
		}
	}
	return upload.NewMultiEventLogger(slogEvents, archiver), shutdown, nil
}

