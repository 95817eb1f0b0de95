package discover

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmill/docmill/internal/domain"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content of "+name), 0o644))
	return path
}

func fixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "b.pdf")
	writeFile(t, root, "a.pdf")
	writeFile(t, root, "c.txt")
	writeFile(t, root, "upper.PDF")
	writeFile(t, root, ".hidden.pdf")
	writeFile(t, root, filepath.Join("sub", "d.pdf"))
	writeFile(t, root, filepath.Join("sub", "nested", "e.pdf"))
	writeFile(t, root, filepath.Join(".secret", "f.pdf"))
	return root
}

func relPaths(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.RelPath)
	}
	return out
}

func TestNew_ValidationErrors(t *testing.T) {
	file := writeFile(t, t.TempDir(), "not-a-dir.pdf")

	tests := []struct {
		name string
		root string
		opts Options
	}{
		{"empty root", "  ", Options{Extensions: []string{".pdf"}}},
		{"missing root", filepath.Join(t.TempDir(), "nope"), Options{Extensions: []string{".pdf"}}},
		{"root is a file", file, Options{Extensions: []string{".pdf"}}},
		{"no extensions", t.TempDir(), Options{}},
		{"blank extensions", t.TempDir(), Options{Extensions: []string{"", "  "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.root, tt.opts)
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
		})
	}
}

func TestFiles_NonRecursive(t *testing.T) {
	root := fixtureTree(t)

	d, err := New(root, Options{Extensions: []string{".pdf"}})
	require.NoError(t, err)

	docs, err := d.Files()
	require.NoError(t, err)

	// Direct children only, lexicographic, case-insensitive on extension,
	// dotfiles excluded.
	assert.Equal(t, []string{"a.pdf", "b.pdf", "upper.PDF"}, relPaths(docs))
}

func TestFiles_Recursive(t *testing.T) {
	root := fixtureTree(t)

	d, err := New(root, Options{Recursive: true, Extensions: []string{".pdf"}})
	require.NoError(t, err)

	docs, err := d.Files()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a.pdf",
		"b.pdf",
		filepath.Join("sub", "d.pdf"),
		filepath.Join("sub", "nested", "e.pdf"),
		"upper.PDF",
	}, relPaths(docs))
}

func TestFiles_Deterministic(t *testing.T) {
	root := fixtureTree(t)

	d, err := New(root, Options{Recursive: true, Extensions: []string{".pdf"}})
	require.NoError(t, err)

	first, err := d.Files()
	require.NoError(t, err)
	second, err := d.Files()
	require.NoError(t, err)

	assert.Equal(t, relPaths(first), relPaths(second))
}

func TestExtensionNormalization(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.docx")
	writeFile(t, root, "page.HTML")

	d, err := New(root, Options{Extensions: []string{"docx", ".html"}})
	require.NoError(t, err)

	docs, err := d.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.docx", "page.HTML"}, relPaths(docs))
}

func TestDocumentAttributes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, filepath.Join("sub", "report.PDF"))

	d, err := New(root, Options{Recursive: true, Extensions: []string{".pdf"}})
	require.NoError(t, err)

	docs, err := d.Files()
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.True(t, filepath.IsAbs(doc.Path))
	assert.Equal(t, filepath.Join("sub", "report.PDF"), doc.RelPath)
	assert.Equal(t, ".pdf", doc.Ext)
	assert.Equal(t, "report.PDF", doc.Name())
	assert.Greater(t, doc.Size, int64(0))
	assert.False(t, doc.DiscoveredAt.IsZero())
}

func TestEach_StopsOnCallbackError(t *testing.T) {
	root := fixtureTree(t)

	d, err := New(root, Options{Extensions: []string{".pdf"}})
	require.NoError(t, err)

	stop := errors.New("stop")
	var seen int
	err = d.Each(func(domain.Document) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}
