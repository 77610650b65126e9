package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/epithet-ssh/formdata/pkg/config"
	"github.com/epithet-ssh/formdata/pkg/multipart"
	"gotest.tools/assert"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 65536, cfg.Decoder.MaxLookahead)
	assert.Equal(t, 65536, cfg.Decoder.MaxHeaderBytes)
	assert.Equal(t, int64(0), cfg.Decoder.MaxPartSize)
	assert.Equal(t, int64(1048576), cfg.Decoder.MaxValueBytes)
	assert.Equal(t, "discard", cfg.Sink.Kind)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Assert(t, cfg.Archive == nil)
	assert.Assert(t, cfg.Server.OIDC == nil)

	timeout, err := cfg.Server.RequestTimeout()
	assert.NilError(t, err)
	assert.Equal(t, time.Minute, timeout)
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "formdata.yaml", `
decoder:
  max_parts: 10
  max_part_size: 10485760
sink:
  kind: s3
  bucket: uploads-bucket
  prefix: incoming
archive:
  bucket: audit-bucket
server:
  listen: ":9090"
  timeout: 5m
  oidc:
    issuer: https://accounts.example.com
    client_id: formdata
`)

	cfg, err := config.Load(path)
	assert.NilError(t, err)

	assert.Equal(t, 10, cfg.Decoder.MaxParts)
	assert.Equal(t, int64(10485760), cfg.Decoder.MaxPartSize)
	assert.Equal(t, 65536, cfg.Decoder.MaxLookahead)
	assert.Equal(t, "s3", cfg.Sink.Kind)
	assert.Equal(t, "uploads-bucket", cfg.Sink.Bucket)
	assert.Equal(t, "incoming", cfg.Sink.Prefix)

	assert.Assert(t, cfg.Archive != nil)
	assert.Equal(t, "audit-bucket", cfg.Archive.Bucket)
	assert.Equal(t, "uploads", cfg.Archive.Prefix)
	assert.Equal(t, 100, cfg.Archive.BufferSize)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Assert(t, cfg.Server.OIDC != nil)
	assert.Equal(t, "formdata", cfg.Server.OIDC.ClientID)

	timeout, err := cfg.Server.RequestTimeout()
	assert.NilError(t, err)
	assert.Equal(t, 5*time.Minute, timeout)
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, "formdata.cue", `
sink: {
	kind: "dir"
	dir:  "/srv/uploads"
}
decoder: allowed_fields: ["title", "upload"]
`)

	cfg, err := config.Load(path)
	assert.NilError(t, err)
	assert.Equal(t, "/srv/uploads", cfg.Sink.Dir)
	assert.DeepEqual(t, []string{"title", "upload"}, cfg.Decoder.AllowedFields)
}

func TestLoadReader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown sink kind", "sink: {kind: ftp}"},
		{"dir sink without dir", "sink: {kind: dir}"},
		{"s3 sink without bucket", "sink: {kind: s3}"},
		{"negative limit", "decoder: {max_parts: -1}"},
		{"lookahead too small", "decoder: {max_lookahead: 4}"},
		{"unknown field", "decoder: {max_part_sise: 10}"},
		{"archive without bucket", "archive: {prefix: x}"},
		{"wrong type", "decoder: {max_parts: many}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadReader(strings.NewReader(tt.doc))
			assert.Assert(t, err != nil, "expected %q to be rejected", tt.doc)
		})
	}
}

func TestDecoderConfig_Options(t *testing.T) {
	cfg := config.Default()
	cfg.Decoder.MaxPartSize = 4
	cfg.Decoder.AllowedFields = []string{"a"}

	body := "--b\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\n0123456789\r\n--b--\r\n"
	dec, err := multipart.NewDecoder(multipart.NewReaderSource(strings.NewReader(body), 0), "b",
		cfg.Decoder.Options(nil)...)
	assert.NilError(t, err)

	part, err := dec.NextPart(t.Context())
	assert.NilError(t, err)

	buf := make([]byte, 64)
	_, err = part.Read(buf)
	assert.ErrorContains(t, err, "exceeds maximum size")
}
