// Package discover enumerates candidate documents under an input root.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docmill/docmill/internal/domain"
)

// Options control a discovery walk.
type Options struct {
	Recursive  bool
	Extensions []string // case-insensitive; a missing leading dot is tolerated
}

// Discoverer enumerates files under a validated root in lexicographic order.
// Each call to Each or Files walks the tree fresh, so a discoverer can be
// reused after a partial run.
type Discoverer struct {
	root string
	opts Options
	exts map[string]struct{}
}

// New validates the root and extension set and prepares a discoverer.
func New(root string, opts Options) (*Discoverer, error) {
	if strings.TrimSpace(root) == "" {
		return nil, domain.ValidationError("input root cannot be empty", nil)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("cannot resolve input root: %s", root), err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ValidationError(fmt.Sprintf("input root does not exist: %s", abs), err)
		}
		return nil, domain.ValidationError(fmt.Sprintf("cannot access input root: %s", abs), err)
	}

	if !info.IsDir() {
		return nil, domain.ValidationError(fmt.Sprintf("input root is not a directory: %s", abs), nil)
	}

	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	if len(exts) == 0 {
		return nil, domain.ValidationError("at least one file extension is required", nil)
	}

	return &Discoverer{root: abs, opts: opts, exts: exts}, nil
}

// Root returns the cleaned absolute input root.
func (d *Discoverer) Root() string {
	return d.root
}

// Each walks the root and calls fn for every matching file, in lexicographic
// order. An error from fn stops the walk and is returned unchanged.
func (d *Discoverer) Each(fn func(domain.Document) error) error {
	if d.opts.Recursive {
		return d.walk(fn)
	}
	return d.list(fn)
}

// Files collects every matching file into a slice.
func (d *Discoverer) Files() ([]domain.Document, error) {
	var docs []domain.Document
	err := d.Each(func(doc domain.Document) error {
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *Discoverer) walk(fn func(domain.Document) error) error {
	return filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return domain.IOError(fmt.Sprintf("walk %s", path), err)
		}
		if entry.IsDir() {
			// Hidden directories are not descended into, matching glob behavior.
			if path != d.root && hidden(entry.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden(entry.Name()) || !d.match(entry.Name()) {
			return nil
		}
		doc, err := d.document(path, entry)
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

func (d *Discoverer) list(fn func(domain.Document) error) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return domain.IOError(fmt.Sprintf("read input root: %s", d.root), err)
	}
	for _, entry := range entries {
		if entry.IsDir() || hidden(entry.Name()) || !d.match(entry.Name()) {
			continue
		}
		doc, err := d.document(filepath.Join(d.root, entry.Name()), entry)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discoverer) match(name string) bool {
	_, ok := d.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (d *Discoverer) document(path string, entry fs.DirEntry) (domain.Document, error) {
	info, err := entry.Info()
	if err != nil {
		return domain.Document{}, domain.IOError(fmt.Sprintf("stat %s", path), err)
	}
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return domain.Document{
		Path:         path,
		RelPath:      rel,
		Size:         info.Size(),
		Ext:          strings.ToLower(filepath.Ext(path)),
		DiscoveredAt: time.Now(),
	}, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
