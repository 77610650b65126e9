package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/epithet-ssh/formdata/pkg/config"
	"github.com/epithet-ssh/formdata/pkg/multipart"
)

// PassthruCLI decodes a CGI style request: the body on stdin and its
// content type in $CONTENT_TYPE. File contents go to stdout, everything
// else is reported on stderr.
type PassthruCLI struct {
	ContentType string `help:"Content-Type of the body" env:"CONTENT_TYPE"`
}

func (c *PassthruCLI) Run(logger *slog.Logger, cfg *config.Config) error {
	return c.run(context.Background(), logger, cfg, os.Stdin, os.Stdout, os.Stderr)
}

func (c *PassthruCLI) run(ctx context.Context, logger *slog.Logger, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	if c.ContentType == "" {
		fmt.Fprintln(stderr, "Error: CONTENT_TYPE environment variable not found.")
		return nil
	}
	boundary, err := multipart.BoundaryFromContentType(c.ContentType)
	if err != nil {
		fmt.Fprintln(stderr, "Error: Boundary not found in CONTENT_TYPE.")
		return nil
	}
	logger.Debug("decoding stdin", "boundary", boundary)

	src := multipart.NewReaderSource(stdin, cfg.Decoder.ReadSize)
	dec, err := multipart.NewDecoder(src, boundary, cfg.Decoder.Options(logger)...)
	if err != nil {
		return err
	}

	for {
		part, err := dec.NextPart(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if fileName, ok := part.FileName(); ok {
			fmt.Fprintf(stderr, "Writing a file: %s\n", fileName)
			if err := copyChunks(ctx, part, stdout, stderr); err != nil {
				return err
			}
			continue
		}

		for {
			chunk, err := part.NextChunk(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(stderr, "Field '%s' = %s\n", part.Name(), strings.ToValidUTF8(string(chunk), "\uFFFD"))
		}
	}
}

// copyChunks writes a file part to w. A failed write is reported and the
// rest of the part is skipped.
func copyChunks(ctx context.Context, part *multipart.Part, w, stderr io.Writer) error {
	for {
		chunk, err := part.NextChunk(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			fmt.Fprintf(stderr, "Error writing to stdout: %v\n", err)
			return nil
		}
	}
}
