// Package ledger persists per-file batch progress so interrupted runs can
// be resumed without repeating finished work.
package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/docmill/docmill/internal/domain"
)

// Sentinels distinguishing the two fatal ledger conditions.
var (
	ErrCorrupt = errors.New("progress ledger corrupt")
	ErrWrite   = errors.New("progress ledger write failed")
)

const formatVersion = 1

// Entry records the lifecycle of one source file. Entries are keyed by the
// file's absolute path, which stays stable across runs from the same root.
type Entry struct {
	Path       string        `json:"-"`
	Status     domain.Status `json:"status"`
	Attempts   int           `json:"attempts"`
	LastError  string        `json:"last_error,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// fileFormat is the on-disk shape. Indented JSON so an operator can inspect
// or hand-edit the file between runs.
type fileFormat struct {
	Version int               `json:"version"`
	Root    string            `json:"root,omitempty"`
	Entries map[string]*Entry `json:"entries"`
}

// Ledger tracks per-file progress for one input root. Every Record method
// performs a complete durable write before returning, so the file on disk is
// never more than one mutation behind.
type Ledger struct {
	path    string
	root    string
	entries map[string]*Entry
}

// DefaultPath derives the ledger file name for an input root. The base name
// keeps the file recognizable and the hash suffix keeps distinct roots with
// equal base names from colliding.
func DefaultPath(stateDir, root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(stateDir, fmt.Sprintf("progress_%s_%x.json", filepath.Base(abs), sum[:4]))
}

// New returns an empty ledger at path without reading any file already
// there. A fresh run starts here; the old contents are replaced on the
// first Record.
func New(path, root string) *Ledger {
	return &Ledger{path: path, root: root, entries: make(map[string]*Entry)}
}

// Load reads the ledger at path. A missing file yields an empty ledger; an
// unparsable one is reported as corrupt rather than silently discarded.
func Load(path, root string) (*Ledger, error) {
	l := &Ledger{path: path, root: root, entries: make(map[string]*Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, domain.LedgerError(fmt.Sprintf("read progress ledger: %s", path), err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, corruptError(fmt.Sprintf("parse progress ledger: %s", path), err)
	}
	if ff.Version != formatVersion {
		return nil, corruptError(fmt.Sprintf("unsupported progress ledger version %d in %s", ff.Version, path), nil)
	}
	for p, e := range ff.Entries {
		if e == nil || !e.Status.Valid() || e.Attempts < 0 {
			return nil, corruptError(fmt.Sprintf("invalid entry for %s in %s", p, path), nil)
		}
		e.Path = p
	}

	if ff.Entries != nil {
		l.entries = ff.Entries
	}
	if l.root == "" {
		l.root = ff.Root
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Root returns the input root this ledger belongs to.
func (l *Ledger) Root() string {
	return l.root
}

// Len returns the number of tracked files.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Get returns a copy of the entry for path.
func (l *Ledger) Get(path string) (Entry, bool) {
	e, ok := l.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns copies of all entries, sorted by path.
func (l *Ledger) Snapshot() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// RecordStart marks path as in progress and counts the attempt.
func (l *Ledger) RecordStart(path string) error {
	e := l.ensure(path)
	e.Status = domain.StatusInProgress
	e.Attempts++
	e.UpdatedAt = time.Now().UTC()
	return l.Save()
}

// RecordSuccess marks path as succeeded with the location of its output.
func (l *Ledger) RecordSuccess(path, outputPath string) error {
	e := l.ensure(path)
	e.Status = domain.StatusSucceeded
	e.OutputPath = outputPath
	e.LastError = ""
	e.UpdatedAt = time.Now().UTC()
	return l.Save()
}

// RecordFailure marks path as failed with the terminal error.
func (l *Ledger) RecordFailure(path string, cause error) error {
	e := l.ensure(path)
	e.Status = domain.StatusFailed
	e.OutputPath = ""
	if cause != nil {
		e.LastError = cause.Error()
	} else {
		e.LastError = "unknown error"
	}
	e.UpdatedAt = time.Now().UTC()
	return l.Save()
}

// ResetFailed returns failed entries to pending with a fresh attempt count.
// Used when a resumed run is configured to retry earlier failures.
func (l *Ledger) ResetFailed() (int, error) {
	n := 0
	for _, e := range l.entries {
		if e.Status == domain.StatusFailed {
			e.Status = domain.StatusPending
			e.Attempts = 0
			e.LastError = ""
			e.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, l.Save()
}

// Save durably writes the ledger: serialize to a temp file in the same
// directory, fsync, then rename over the destination. After a crash the file
// is either the previous state or the new one, never a torn write.
func (l *Ledger) Save() error {
	payload := fileFormat{Version: formatVersion, Root: l.root, Entries: l.entries}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return writeError("encode progress ledger", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return writeError(fmt.Sprintf("create state directory: %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return writeError("create temp ledger file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return writeError("write temp ledger file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return writeError("sync temp ledger file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return writeError("close temp ledger file", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return writeError(fmt.Sprintf("replace progress ledger: %s", l.path), err)
	}
	return nil
}

func (l *Ledger) ensure(path string) *Entry {
	e, ok := l.entries[path]
	if !ok {
		e = &Entry{Path: path, Status: domain.StatusPending}
		l.entries[path] = e
	}
	return e
}

func corruptError(msg string, err error) error {
	if err == nil {
		return domain.LedgerError(msg, ErrCorrupt)
	}
	return domain.LedgerError(msg, fmt.Errorf("%w: %w", ErrCorrupt, err))
}

func writeError(msg string, err error) error {
	return domain.LedgerError(msg, fmt.Errorf("%w: %w", ErrWrite, err))
}
