package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docmill/docmill/internal/domain"
)

// TextBackend passes already-textual documents through with light cleanup.
// It exists for .txt and .md inputs and for exercising the pipeline without
// a document engine.
type TextBackend struct{}

// NewTextBackend creates a passthrough backend.
func NewTextBackend() *TextBackend {
	return &TextBackend{}
}

// Name identifies the backend.
func (b *TextBackend) Name() string {
	return "text"
}

// Probe always succeeds; the backend has no external runtime.
func (b *TextBackend) Probe() error {
	return nil
}

// Convert reads the file, normalizes line endings and guarantees a trailing
// newline. Markdown inputs pass through otherwise untouched.
func (b *TextBackend) Convert(ctx context.Context, path string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("stat document: %s", path), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("read document: %s", path), err)
	}

	text := normalizeNewlines(string(data))
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	return &Result{
		Markdown: text,
		Metadata: map[string]string{
			MetaFilename:         filepath.Base(path),
			MetaFileSize:         strconv.FormatInt(info.Size(), 10),
			MetaFileType:         strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			MetaConversionMethod: b.Name(),
		},
	}, nil
}
