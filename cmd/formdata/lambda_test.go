package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"

	"github.com/epithet-ssh/formdata/pkg/config"
)

type fakeParameters struct {
	values map[string]string
	input  *ssm.GetParameterInput
}

func (f *fakeParameters) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.input = params
	v, ok := f.values[aws.ToString(params.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(v)}}, nil
}

func TestConfigFromParameter(t *testing.T) {
	params := &fakeParameters{values: map[string]string{
		"/formdata/config": "sink:\n  kind: s3\n  bucket: uploads\ndecoder:\n  max_parts: 10\n",
	}}

	cfg, err := configFromParameter(context.Background(), params, "/formdata/config")
	require.NoError(t, err)
	require.True(t, aws.ToBool(params.input.WithDecryption))
	require.Equal(t, "s3", cfg.Sink.Kind)
	require.Equal(t, "uploads", cfg.Sink.Bucket)
	require.Equal(t, 10, cfg.Decoder.MaxParts)
	require.Equal(t, config.Default().Decoder.MaxLookahead, cfg.Decoder.MaxLookahead)
}

func TestConfigFromParameter_Missing(t *testing.T) {
	_, err := configFromParameter(context.Background(), &fakeParameters{}, "/nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to retrieve SSM parameter")
}

func TestConfigFromParameter_Invalid(t *testing.T) {
	params := &fakeParameters{values: map[string]string{"/bad": "sink:\n  kind: s3\n"}}
	_, err := configFromParameter(context.Background(), params, "/bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "/bad")
}

func TestLambdaCLI_ApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cli := &LambdaCLI{Bucket: "uploads", Prefix: "in", ArchiveBucket: "audit", ArchivePrefix: "events"}

	cli.applyOverrides(cfg)

	require.Equal(t, config.SinkConfig{Kind: "s3", Bucket: "uploads", Prefix: "in"}, cfg.Sink)
	require.Equal(t, &config.ArchiveConfig{Bucket: "audit", Prefix: "events", BufferSize: 100}, cfg.Archive)
}
