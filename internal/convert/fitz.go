package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/docmill/docmill/internal/domain"
)

// minimalPDF is a complete one-page document used to exercise the MuPDF
// runtime during Probe without touching the filesystem.
const minimalPDF = "%PDF-1.4\n" +
	"1 0 obj\n<</Type/Catalog/Pages 2 0 R>>\nendobj\n" +
	"2 0 obj\n<</Type/Pages/Kids[3 0 R]/Count 1>>\nendobj\n" +
	"3 0 obj\n<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>\nendobj\n" +
	"xref\n0 4\n" +
	"0000000000 65535 f \n" +
	"0000000009 00000 n \n" +
	"0000000054 00000 n \n" +
	"0000000105 00000 n \n" +
	"trailer\n<</Size 4/Root 1 0 R>>\n" +
	"startxref\n170\n%%EOF\n"

// FitzBackend renders PDFs and other MuPDF-supported formats to Markdown,
// one heading per page.
type FitzBackend struct{}

// NewFitzBackend creates a MuPDF-based backend.
func NewFitzBackend() *FitzBackend {
	return &FitzBackend{}
}

// Name identifies the backend.
func (b *FitzBackend) Name() string {
	return "fitz"
}

// Probe opens a known-good in-memory document to verify the MuPDF runtime.
func (b *FitzBackend) Probe() error {
	doc, err := fitz.NewFromMemory([]byte(minimalPDF))
	if err != nil {
		return domain.ConfigError("mupdf runtime unavailable", err)
	}
	return doc.Close()
}

// Convert extracts the text of each page under a "## Page N" heading,
// prefixed with a title heading from the file's base name.
func (b *FitzBackend) Convert(ctx context.Context, path string, opts Options) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("stat document: %s", path), err)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("open document: %s", path), err)
	}
	defer doc.Close()

	total := doc.NumPage()
	pages := total
	if opts.MaxPages > 0 && opts.MaxPages < total {
		pages = opts.MaxPages
	}

	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(stem(path))
	sb.WriteString("\n")

	for i := 0; i < pages; i++ {
		// Check for cancellation between pages
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, err := doc.Text(i)
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("extract page %d of %s", i+1, path), err)
		}

		sb.WriteString(fmt.Sprintf("\n## Page %d\n", i+1))
		text = strings.TrimSpace(normalizeNewlines(text))
		if text != "" {
			sb.WriteString("\n")
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}

	return &Result{
		Markdown: sb.String(),
		Metadata: map[string]string{
			MetaFilename:         filepath.Base(path),
			MetaFileSize:         strconv.FormatInt(info.Size(), 10),
			MetaFileType:         strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			MetaConversionMethod: b.Name(),
			MetaPageCount:        strconv.Itoa(total),
			MetaPagesProcessed:   strconv.Itoa(pages),
		},
	}, nil
}

// stem returns the file's base name without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// normalizeNewlines folds Windows and old Mac line endings to \n.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
