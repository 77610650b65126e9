package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/epithet-ssh/formdata/pkg/config"
)

var version = "dev"

// CLI is the root command.
type CLI struct {
	Verbose int              `short:"v" type:"counter" help:"Increase log verbosity (-v info, -vv debug)"`
	LogFile string           `help:"Write logs to this file instead of stderr" env:"FORMDATA_LOG_FILE" type:"path"`
	Config  string           `help:"Configuration file or CUE package (YAML, JSON or CUE)" short:"c" env:"FORMDATA_CONFIG" type:"path"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Passthru PassthruCLI `cmd:"" help:"Decode a form body from stdin, copying files to stdout"`
	Inspect  InspectCLI  `cmd:"" help:"List the parts of a form body"`
	Serve    ServeCLI    `cmd:"" help:"Serve an HTTP upload endpoint"`
	Lambda   LambdaCLI   `cmd:"" help:"Run the upload endpoint as an AWS Lambda function"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("formdata"),
		kong.Description("Streaming multipart/form-data decoding"),
		kong.UsageOnError(),
		kong.Vars{
			"version":          version,
			"default_template": defaultTemplate,
		},
	)

	logger, closeLog, err := newLogger(cli.Verbose, cli.LogFile)
	ctx.FatalIfErrorf(err)

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		closeLog()
		ctx.FatalIfErrorf(err)
	}

	ctx.Bind(logger, cfg)
	err = ctx.Run()
	closeLog()
	ctx.FatalIfErrorf(err)
}

// newLogger builds the tint logger: 0=warn, 1=info, 2+=debug.
func newLogger(verbosity int, logFile string) (*slog.Logger, func(), error) {
	level := slog.LevelWarn
	switch {
	case verbosity == 1:
		level = slog.LevelInfo
	case verbosity >= 2:
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	logger := slog.New(tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    logFile != "",
	}))
	return logger, closeFn, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}
