package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/epithet-ssh/formdata/pkg/multipart"
)

//go:embed schema.cue
var schemaSource []byte

// Config is the validated configuration shared by every formdata command.
type Config struct {
	Decoder DecoderConfig  `yaml:"decoder" json:"decoder"`
	Sink    SinkConfig     `yaml:"sink" json:"sink"`
	Archive *ArchiveConfig `yaml:"archive,omitempty" json:"archive,omitempty"`
	Server  ServerConfig   `yaml:"server" json:"server"`
}

// DecoderConfig holds the limits applied to every decoded body.
type DecoderConfig struct {
	MaxLookahead   int      `yaml:"max_lookahead" json:"max_lookahead"`
	MaxHeaderBytes int      `yaml:"max_header_bytes" json:"max_header_bytes"`
	MaxParts       int      `yaml:"max_parts" json:"max_parts"`
	MaxPartSize    int64    `yaml:"max_part_size" json:"max_part_size"`
	MaxValueBytes  int64    `yaml:"max_value_bytes" json:"max_value_bytes"`
	ReadSize       int      `yaml:"read_size" json:"read_size"`
	AllowedFields  []string `yaml:"allowed_fields,omitempty" json:"allowed_fields,omitempty"`
}

// Options converts the limits into decoder options.
func (c DecoderConfig) Options(logger *slog.Logger) []multipart.Option {
	opts := []multipart.Option{
		multipart.MaxParts(c.MaxParts),
		multipart.MaxPartSize(c.MaxPartSize),
		multipart.AllowedFields(c.AllowedFields...),
	}
	if c.MaxLookahead > 0 {
		opts = append(opts, multipart.MaxLookahead(c.MaxLookahead))
	}
	if c.MaxHeaderBytes > 0 {
		opts = append(opts, multipart.MaxHeaderBytes(c.MaxHeaderBytes))
	}
	if logger != nil {
		opts = append(opts, multipart.WithLogger(logger))
	}
	return opts
}

// SinkConfig selects where file parts are stored.
type SinkConfig struct {
	Kind   string `yaml:"kind" json:"kind"` // discard, dir, s3 or stdout
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// ArchiveConfig enables archiving of upload events to S3.
type ArchiveConfig struct {
	Bucket     string `yaml:"bucket" json:"bucket"`
	Prefix     string `yaml:"prefix" json:"prefix"`
	BufferSize int    `yaml:"buffer_size" json:"buffer_size"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Listen  string      `yaml:"listen" json:"listen"`
	Timeout string      `yaml:"timeout" json:"timeout"`
	OIDC    *OIDCConfig `yaml:"oidc,omitempty" json:"oidc,omitempty"`
}

// RequestTimeout parses Timeout.
func (c ServerConfig) RequestTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid server timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// OIDCConfig turns on bearer token authentication.
type OIDCConfig struct {
	Issuer   string `yaml:"issuer" json:"issuer"`
	ClientID string `yaml:"client_id" json:"client_id"`
}

// Load reads a configuration file or CUE package and validates it.
func Load(path string) (*Config, error) {
	val, err := LoadValue(path)
	if err != nil {
		return nil, err
	}
	return FromValue(val)
}

// LoadReader reads a YAML or JSON configuration document and validates it.
func LoadReader(r io.Reader) (*Config, error) {
	val, err := LoadValueFromReader(r)
	if err != nil {
		return nil, err
	}
	return FromValue(val)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := FromValue(cuecontext.New().CompileString("{}"))
	if err != nil {
		// The embedded schema is broken.
		panic(err)
	}
	return cfg
}

// FromValue unifies val with the #Config schema, fills in defaults and
// decodes the result.
func FromValue(val cue.Value) (*Config, error) {
	schema := val.Context().CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
