package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/epithet-ssh/formdata/pkg/config"
	"github.com/epithet-ssh/formdata/pkg/sink"
	"github.com/epithet-ssh/formdata/pkg/upload"
)

// LambdaCLI runs the upload handler behind API Gateway.
type LambdaCLI struct {
	ConfigParameter string `help:"SSM Parameter Store parameter containing the configuration document" env:"FORMDATA_CONFIG_PARAMETER"`
	Bucket          string `help:"S3 bucket for uploaded files" env:"UPLOAD_BUCKET"`
	Prefix          string `help:"Key prefix for uploaded files" env:"UPLOAD_PREFIX"`
	ArchiveBucket   string `help:"S3 bucket for upload event archival (optional)" env:"UPLOAD_ARCHIVE_BUCKET"`
	ArchivePrefix   string `help:"S3 key prefix for upload event archival" env:"UPLOAD_ARCHIVE_PREFIX"`
}

// parameterGetter is the part of the SSM client used to fetch config.
type parameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (c *LambdaCLI) Run(logger *slog.Logger, cfg *config.Config) error {
	ctx := context.Background()
	logger.Info("starting upload Lambda handler")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	if c.ConfigParameter != "" {
		cfg, err = configFromParameter(ctx, ssm.NewFromConfig(awsCfg), c.ConfigParameter)
		if err != nil {
			return err
		}
		logger.Info("loaded config from SSM Parameter Store", "parameter", c.ConfigParameter)
	}
	c.applyOverrides(cfg)

	store, err := sink.New(ctx, cfg.Sink, logger)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	// Lambda freezes the process between invocations, so archived events
	// are only flushed while a request is in flight.
	events, _, err := newEventLogger(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}

	handler := upload.New(upload.Config{
		Sink:           store,
		Events:         events,
		Logger:         logger,
		DecoderOptions: cfg.Decoder.Options(logger),
		MaxValueBytes:  cfg.Decoder.MaxValueBytes,
		ReadSize:       cfg.Decoder.ReadSize,
	})

	logger.Info("upload Lambda initialized", "sink", cfg.Sink.Kind, "bucket", cfg.Sink.Bucket)
	lambda.Start(upload.LambdaHandler(handler, logger))
	return nil
}

// applyOverrides applies CLI-provided values over config values. A bucket
// selects the s3 sink.
func (c *LambdaCLI) applyOverrides(cfg *config.Config) {
	if c.Bucket != "" {
		cfg.Sink.Kind = "s3"
		cfg.Sink.Bucket = c.Bucket
	}
	if c.Prefix != "" {
		cfg.Sink.Prefix = c.Prefix
	}
	applyArchiveOverrides(cfg, c.ArchiveBucket, c.ArchivePrefix)
}

func configFromParameter(ctx context.Context, client parameterGetter, name string) (*config.Config, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve SSM parameter: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("SSM parameter %s has no value", name)
	}
	cfg, err := config.LoadReader(strings.NewReader(*out.Parameter.Value))
	if err != nil {
		return nil, fmt.Errorf("failed to load config from SSM parameter %s: %w", name, err)
	}
	return cfg, nil
}
