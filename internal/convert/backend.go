// Package convert turns source documents into Markdown through pluggable
// backends. docmill treats the conversion engine as an external boundary:
// everything behind Backend may fail per document without taking the batch
// down, while a failed Probe is a configuration problem that stops the run
// before any document is touched.
package convert

import (
	"context"
	"fmt"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/domain"
)

// Metadata keys present on conversion results.
const (
	MetaFilename         = "filename"
	MetaFileSize         = "file_size"
	MetaFileType         = "file_type"
	MetaConversionMethod = "conversion_method"
	MetaPageCount        = "page_count"
	MetaPagesProcessed   = "pages_processed"
)

// Options control a single conversion.
type Options struct {
	MaxPages int // 0 converts all pages
}

// Result is the outcome of one successful conversion.
type Result struct {
	Markdown string
	Metadata map[string]string
}

// Backend converts one document at a time.
type Backend interface {
	// Name identifies the backend in config, logs and catalog records.
	Name() string

	// Probe verifies the backend is usable before a run starts. A probe
	// failure is fatal configuration, never a per-file failure.
	Probe() error

	// Convert renders the document at path to Markdown.
	Convert(ctx context.Context, path string, opts Options) (*Result, error)
}

// New returns the backend selected by cfg.
func New(cfg config.ConversionConfig) (Backend, error) {
	switch cfg.Backend {
	case "fitz":
		return NewFitzBackend(), nil
	case "exec":
		return NewExecBackend(cfg.ToolPath), nil
	case "text":
		return NewTextBackend(), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown conversion backend: %s", cfg.Backend), nil)
	}
}
