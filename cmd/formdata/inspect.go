package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cbroglie/mustache"

	"github.com/epithet-ssh/formdata/pkg/config"
	"github.com/epithet-ssh/formdata/pkg/multipart"
)

const defaultTemplate = "{{name}}\t{{filename}}\t{{content_type}}\t{{size}}\t{{sha256}}"

// defaultReadSize matches the decoder's reader default.
const defaultReadSize = 32 * 1024

// InspectCLI lists the parts of a stored form body.
type InspectCLI struct {
	File        string `arg:"" help:"Form body to read, or - for stdin" default:"-"`
	ContentType string `help:"Content-Type of the body" env:"CONTENT_TYPE"`
	Boundary    string `help:"Boundary token (default: from --content-type, else the first line of the body)" short:"b"`
	Template    string `help:"Mustache template rendered once per part" short:"t" default:"${default_template}"`
	JSON        bool   `help:"Output in JSON format" short:"j"`
}

// partSummary is what inspect reports for each part.
type partSummary struct {
	Index       int               `json:"index"`
	Name        string            `json:"name"`
	FileName    string            `json:"filename,omitempty"`
	IsFile      bool              `json:"is_file"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers"`
	Size        int64             `json:"size"`
	SHA256      string            `json:"sha256"`
}

func (s partSummary) templateContext() map[string]any {
	return map[string]any{
		"index":        s.Index,
		"name":         s.Name,
		"filename":     s.FileName,
		"is_file":      s.IsFile,
		"content_type": s.ContentType,
		"headers":      s.Headers,
		"size":         s.Size,
		"sha256":       s.SHA256,
	}
}

func (c *InspectCLI) Run(logger *slog.Logger, cfg *config.Config) error {
	in := io.Reader(os.Stdin)
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", c.File, err)
		}
		defer f.Close()
		in = f
	}
	return c.run(context.Background(), logger, cfg, in, os.Stdout)
}

func (c *InspectCLI) run(ctx context.Context, logger *slog.Logger, cfg *config.Config, in io.Reader, out io.Writer) error {
	tmpl, err := mustache.ParseStringRaw(c.Template, true)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	readSize := cfg.Decoder.ReadSize
	if readSize <= 0 {
		readSize = defaultReadSize
	}
	br := bufio.NewReaderSize(in, readSize)
	boundary, err := c.resolveBoundary(br)
	if err != nil {
		return err
	}
	logger.Debug("inspecting body", "file", c.File, "boundary", boundary)

	dec, err := multipart.NewDecoder(multipart.NewReaderSource(br, readSize), boundary, cfg.Decoder.Options(logger)...)
	if err != nil {
		return err
	}

	var summaries []partSummary
	for {
		part, err := dec.NextPart(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("part %d: %w", dec.Parts()+1, err)
		}

		s, err := summarize(ctx, dec.Parts(), part)
		if err != nil {
			return fmt.Errorf("part %d (%s): %w", s.Index, s.Name, err)
		}

		if c.JSON {
			summaries = append(summaries, s)
			continue
		}
		line, err := tmpl.Render(s.templateContext())
		if err != nil {
			return fmt.Errorf("failed to render part %d: %w", s.Index, err)
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}

	if c.JSON {
		if summaries == nil {
			summaries = []partSummary{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	return nil
}

// resolveBoundary picks the boundary from the flags, falling back to the
// first line of the body, which for a well formed body is the first
// delimiter.
func (c *InspectCLI) resolveBoundary(br *bufio.Reader) (string, error) {
	if c.Boundary != "" {
		return c.Boundary, nil
	}
	if c.ContentType != "" {
		return multipart.BoundaryFromContentType(c.ContentType)
	}
	return sniffBoundary(br)
}

// sniffBoundary peeks at the first line of br without consuming it.
func sniffBoundary(br *bufio.Reader) (string, error) {
	head, err := br.Peek(br.Size())
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	line, _, found := bytes.Cut(head, []byte("\n"))
	if !found {
		return "", fmt.Errorf("%w: body does not start with a delimiter line", multipart.ErrNoBoundary)
	}
	token, ok := strings.CutPrefix(strings.TrimRight(string(line), " \t\r"), "--")
	if !ok || token == "" {
		return "", fmt.Errorf("%w: body does not start with a delimiter line", multipart.ErrNoBoundary)
	}
	return token, nil
}

func summarize(ctx context.Context, index int, part *multipart.Part) (partSummary, error) {
	s := partSummary{
		Index:   index,
		Name:    part.Name(),
		IsFile:  part.IsFile(),
		Headers: make(map[string]string),
	}
	s.FileName, _ = part.FileName()
	s.ContentType, _ = part.ContentType()
	for name, values := range part.Header().All() {
		s.Headers[name] = strings.Join(values, ", ")
	}

	h := sha256.New()
	for {
		chunk, err := part.NextChunk(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return s, err
		}
		h.Write(chunk)
		s.Size += int64(len(chunk))
	}
	s.SHA256 = hex.EncodeToString(h.Sum(nil))
	return s, nil
}
