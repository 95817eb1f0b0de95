package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmill/docmill/internal/domain"
)

// twoPagePDF mirrors minimalPDF with a second blank page.
const twoPagePDF = "%PDF-1.4\n" +
	"1 0 obj\n<</Type/Catalog/Pages 2 0 R>>\nendobj\n" +
	"2 0 obj\n<</Type/Pages/Kids[3 0 R 4 0 R]/Count 2>>\nendobj\n" +
	"3 0 obj\n<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>\nendobj\n" +
	"4 0 obj\n<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>\nendobj\n" +
	"xref\n0 5\n" +
	"0000000000 65535 f \n" +
	"0000000009 00000 n \n" +
	"0000000054 00000 n \n" +
	"0000000111 00000 n \n" +
	"0000000176 00000 n \n" +
	"trailer\n<</Size 5/Root 1 0 R>>\n" +
	"startxref\n241\n%%EOF\n"

func TestFitzBackend_Probe(t *testing.T) {
	assert.NoError(t, NewFitzBackend().Probe())
}

func TestFitzBackend_Convert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.pdf")
	require.NoError(t, os.WriteFile(path, []byte(minimalPDF), 0o644))

	res, err := NewFitzBackend().Convert(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Contains(t, res.Markdown, "# blank")
	assert.Contains(t, res.Markdown, "## Page 1")
	assert.Equal(t, "blank.pdf", res.Metadata[MetaFilename])
	assert.Equal(t, "pdf", res.Metadata[MetaFileType])
	assert.Equal(t, "fitz", res.Metadata[MetaConversionMethod])
	assert.Equal(t, "1", res.Metadata[MetaPageCount])
	assert.Equal(t, "1", res.Metadata[MetaPagesProcessed])
}

func TestFitzBackend_MaxPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two.pdf")
	require.NoError(t, os.WriteFile(path, []byte(twoPagePDF), 0o644))

	res, err := NewFitzBackend().Convert(context.Background(), path, Options{MaxPages: 1})
	require.NoError(t, err)

	assert.Contains(t, res.Markdown, "## Page 1")
	assert.NotContains(t, res.Markdown, "## Page 2")
	assert.Equal(t, "2", res.Metadata[MetaPageCount])
	assert.Equal(t, "1", res.Metadata[MetaPagesProcessed])
}

func TestFitzBackend_UnreadableDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o644))

	_, err := NewFitzBackend().Convert(context.Background(), path, Options{})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversion))
}

func TestFitzBackend_MissingDocument(t *testing.T) {
	_, err := NewFitzBackend().Convert(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"), Options{})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversion))
}

func TestFitzBackend_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.pdf")
	require.NoError(t, os.WriteFile(path, []byte(minimalPDF), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFitzBackend().Convert(ctx, path, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
