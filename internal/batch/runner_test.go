package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmill/docmill/internal/catalog"
	"github.com/docmill/docmill/internal/convert"
	"github.com/docmill/docmill/internal/domain"
	"github.com/docmill/docmill/internal/ledger"
	"github.com/docmill/docmill/internal/observability"
)

// fakeBackend converts instantly and can be scripted to fail per path.
type fakeBackend struct {
	calls     int
	perPath   map[string]int
	failures  map[string]int // leading failures before success
	errs      map[string]error
	onConvert func(path string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		perPath:  make(map[string]int),
		failures: make(map[string]int),
		errs:     make(map[string]error),
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Probe() error { return nil }

func (b *fakeBackend) Convert(ctx context.Context, path string, _ convert.Options) (*convert.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.calls++
	b.perPath[path]++
	if b.onConvert != nil {
		b.onConvert(path)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if err, ok := b.errs[path]; ok {
		return nil, err
	}
	if b.failures[path] > 0 {
		b.failures[path]--
		return nil, domain.ConversionError("simulated failure", nil)
	}
	return &convert.Result{
		Markdown: "# " + filepath.Base(path) + "\n",
		Metadata: map[string]string{convert.MetaConversionMethod: "fake"},
	}, nil
}

type fakeRecorder struct {
	created   []*catalog.Run
	finished  []*catalog.Run
	documents []*catalog.DocumentRecord
	fail      bool
}

func (f *fakeRecorder) CreateRun(_ context.Context, run *catalog.Run) error {
	if f.fail {
		return errors.New("catalog unavailable")
	}
	f.created = append(f.created, run)
	return nil
}

func (f *fakeRecorder) FinishRun(_ context.Context, run *catalog.Run) error {
	if f.fail {
		return errors.New("catalog unavailable")
	}
	f.finished = append(f.finished, run)
	return nil
}

func (f *fakeRecorder) RecordDocument(_ context.Context, doc *catalog.DocumentRecord) error {
	if f.fail {
		return errors.New("catalog unavailable")
	}
	f.documents = append(f.documents, doc)
	return nil
}

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("source content"), 0o644))
	}
}

func testOptions(root string) Options {
	return Options{
		Root:        root,
		Extensions:  []string{".pdf"},
		MaxAttempts: 3,
		GCInterval:  5,
		RetryFailed: true,
	}
}

func newLedger(t *testing.T, root string) *ledger.Ledger {
	t.Helper()
	return ledger.New(filepath.Join(t.TempDir(), "progress.json"), root)
}

func TestRun_ConvertsAll(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf", "c.pdf")
	backend := newFakeBackend()

	runner := New(testOptions(root), backend, newLedger(t, root), observability.Nop(), nil, nil)
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Discovered)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, 3, backend.calls)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "fake", summary.Backend)

	// Artifacts land beside their sources
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		require.NoError(t, err)
		assert.True(t, len(data) > 0)
	}
}

func TestRun_OutputDirMirrorsSubpath(t *testing.T) {
	root := t.TempDir()
	outDir := t.TempDir()
	writeFiles(t, root, "a.pdf", "sub/d.pdf")
	backend := newFakeBackend()

	opts := testOptions(root)
	opts.OutputDir = outDir
	opts.Recursive = true

	runner := New(opts, backend, newLedger(t, root), observability.Nop(), nil, nil)
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)

	_, err = os.Stat(filepath.Join(outDir, "a.md"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "sub", "d.md"))
	assert.NoError(t, err)
}

func TestRun_FailureDoesNotBlockLaterFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf", "c.pdf")
	backend := newFakeBackend()
	backend.errs[filepath.Join(root, "b.pdf")] = domain.ConversionError("document is encrypted", nil)

	led := newLedger(t, root)
	runner := New(testOptions(root), backend, led, observability.Nop(), nil, nil)
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, filepath.Join(root, "b.pdf"), summary.Failures[0].Path)
	assert.Equal(t, 3, summary.Failures[0].Attempts)
	assert.Contains(t, summary.Failures[0].Reason, "after 3 attempts")
	assert.Contains(t, summary.Failures[0].Reason, "document is encrypted")

	// c.pdf was still converted after b.pdf exhausted its attempts
	assert.Equal(t, 1, backend.perPath[filepath.Join(root, "c.pdf")])
	_, err = os.Stat(filepath.Join(root, "c.md"))
	assert.NoError(t, err)
}

func TestRun_ExhaustedAttemptsMatchMax(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf")
	backend := newFakeBackend()
	backend.errs[filepath.Join(root, "a.pdf")] = domain.ConversionError("unreadable", nil)

	led := newLedger(t, root)
	runner := New(testOptions(root), backend, led, observability.Nop(), nil, nil)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, backend.perPath[filepath.Join(root, "a.pdf")])

	// The persisted attempt count equals the attempts actually made
	reloaded, err := ledger.Load(led.Path(), root)
	require.NoError(t, err)
	entry, ok := reloaded.Get(filepath.Join(root, "a.pdf"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
	assert.Contains(t, entry.LastError, "unreadable")
}

func TestRun_RetrySucceedsWithinMaxAttempts(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf")
	backend := newFakeBackend()
	backend.failures[filepath.Join(root, "a.pdf")] = 2

	led := newLedger(t, root)
	runner := New(testOptions(root), backend, led, observability.Nop(), nil, nil)
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	entry, ok := led.Get(filepath.Join(root, "a.pdf"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusSucceeded, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
}

func TestRun_ResumeIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf")
	ledgerPath := filepath.Join(t.TempDir(), "progress.json")
	backend := newFakeBackend()

	runner := New(testOptions(root), backend, ledger.New(ledgerPath, root), observability.Nop(), nil, nil)
	first, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, 2, backend.calls)

	// A second resumed run performs zero conversion attempts
	led, err := ledger.Load(ledgerPath, root)
	require.NoError(t, err)
	opts := testOptions(root)
	opts.Resume = true
	second, err := New(opts, backend, led, observability.Nop(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, backend.calls)
	assert.Equal(t, 2, second.SkippedSucceeded)
	assert.Zero(t, second.Succeeded)
	for _, entry := range led.Snapshot() {
		assert.Equal(t, 1, entry.Attempts)
	}
}

func TestRun_ResumeRetriesFailed(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf")
	ledgerPath := filepath.Join(t.TempDir(), "progress.json")
	bPath := filepath.Join(root, "b.pdf")

	backend := newFakeBackend()
	backend.errs[bPath] = domain.ConversionError("transient engine crash", nil)
	first, err := New(testOptions(root), backend, ledger.New(ledgerPath, root), observability.Nop(), nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)
	assert.Equal(t, 1, first.Failed)

	// The failure clears up; the resumed run converts b.pdf from scratch
	delete(backend.errs, bPath)
	led, err := ledger.Load(ledgerPath, root)
	require.NoError(t, err)
	opts := testOptions(root)
	opts.Resume = true
	second, err := New(opts, backend, led, observability.Nop(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, second.Succeeded)
	assert.Equal(t, 1, second.SkippedSucceeded)
	assert.Zero(t, second.Failed)
	entry, ok := led.Get(bPath)
	require.True(t, ok)
	assert.Equal(t, domain.StatusSucceeded, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
}

func TestRun_ResumeSkipsFailedWhenRetryDisabled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf")
	ledgerPath := filepath.Join(t.TempDir(), "progress.json")
	bPath := filepath.Join(root, "b.pdf")

	backend := newFakeBackend()
	backend.errs[bPath] = domain.ConversionError("unreadable", nil)
	_, err := New(testOptions(root), backend, ledger.New(ledgerPath, root), observability.Nop(), nil, nil).Run(context.Background())
	require.NoError(t, err)
	callsAfterFirst := backend.calls

	led, err := ledger.Load(ledgerPath, root)
	require.NoError(t, err)
	opts := testOptions(root)
	opts.Resume = true
	opts.RetryFailed = false
	second, err := New(opts, backend, led, observability.Nop(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, backend.calls)
	assert.Equal(t, 1, second.SkippedSucceeded)
	assert.Equal(t, 1, second.SkippedFailed)
	entry, _ := led.Get(bPath)
	assert.Equal(t, domain.StatusFailed, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
}

func TestRun_FreshOutputIsCached(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf")
	src := filepath.Join(root, "a.pdf")
	out := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(out, []byte("# earlier conversion\n"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, past, past))

	backend := newFakeBackend()
	led := newLedger(t, root)
	summary, err := New(testOptions(root), backend, led, observability.Nop(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Cached)
	assert.Zero(t, summary.Succeeded)
	assert.Zero(t, backend.calls)
	entry, ok := led.Get(src)
	require.True(t, ok)
	assert.Equal(t, domain.StatusSucceeded, entry.Status)
	assert.Zero(t, entry.Attempts)
	assert.Equal(t, out, entry.OutputPath)
}

func TestRun_ForceConvertsDespiteFreshOutput(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf")
	src := filepath.Join(root, "a.pdf")
	out := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(out, []byte("# earlier conversion\n"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, past, past))

	backend := newFakeBackend()
	opts := testOptions(root)
	opts.Force = true
	summary, err := New(opts, backend, newLedger(t, root), observability.Nop(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Cached)
	assert.Equal(t, 1, backend.calls)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "# a.pdf\n", string(data))
}

func TestRun_CancelledBetweenFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf", "c.pdf")
	backend := newFakeBackend()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := func(done, total int, path string) {
		if done == 1 {
			cancel()
		}
	}

	summary, err := New(testOptions(root), backend, newLedger(t, root), observability.Nop(), nil, progress).Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, backend.calls)
}

func TestRun_CancelledDuringConversionLeavesInProgress(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf")
	bPath := filepath.Join(root, "b.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newFakeBackend()
	backend.onConvert = func(path string) {
		if path == bPath {
			cancel()
		}
	}

	led := newLedger(t, root)
	summary, err := New(testOptions(root), backend, led, observability.Nop(), nil, nil).Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	// The interrupted file stays in_progress with its attempt counted, so a
	// resumed run processes it again.
	entry, ok := led.Get(bPath)
	require.True(t, ok)
	assert.Equal(t, domain.StatusInProgress, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
}

func TestRun_InvalidRoot(t *testing.T) {
	backend := newFakeBackend()
	opts := testOptions(filepath.Join(t.TempDir(), "missing"))

	summary, err := New(opts, backend, newLedger(t, opts.Root), observability.Nop(), nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	assert.Zero(t, backend.calls)
}

func TestRun_RecordsRunInCatalog(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf")
	backend := newFakeBackend()
	backend.errs[filepath.Join(root, "b.pdf")] = domain.ConversionError("unreadable", nil)
	recorder := &fakeRecorder{}

	summary, err := New(testOptions(root), backend, newLedger(t, root), observability.Nop(), recorder, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, recorder.created, 1)
	require.Len(t, recorder.finished, 1)
	assert.Equal(t, summary.RunID, recorder.created[0].ID)

	final := recorder.finished[0]
	assert.Equal(t, 2, final.Discovered)
	assert.Equal(t, 1, final.Succeeded)
	assert.Equal(t, 1, final.Failed)

	require.Len(t, recorder.documents, 2)
	byPath := make(map[string]*catalog.DocumentRecord)
	for _, doc := range recorder.documents {
		byPath[doc.Path] = doc
	}
	aDoc := byPath[filepath.Join(root, "a.pdf")]
	require.NotNil(t, aDoc)
	assert.Equal(t, domain.StatusSucceeded, aDoc.Status)
	require.NotNil(t, aDoc.OutputPath)
	require.NotNil(t, aDoc.SHA256)
	assert.Len(t, *aDoc.SHA256, 64)
	bDoc := byPath[filepath.Join(root, "b.pdf")]
	require.NotNil(t, bDoc)
	assert.Equal(t, domain.StatusFailed, bDoc.Status)
	assert.Equal(t, 3, bDoc.Attempts)
	require.NotNil(t, bDoc.Error)
	assert.Nil(t, bDoc.SHA256)
}

func TestRun_CatalogFailureDoesNotAbort(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf")
	backend := newFakeBackend()
	recorder := &fakeRecorder{fail: true}

	summary, err := New(testOptions(root), backend, newLedger(t, root), observability.Nop(), recorder, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRun_ProgressSequence(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf", "c.pdf")
	backend := newFakeBackend()

	var dones []int
	var paths []string
	progress := func(done, total int, path string) {
		assert.Equal(t, 3, total)
		dones = append(dones, done)
		paths = append(paths, path)
	}

	_, err := New(testOptions(root), backend, newLedger(t, root), observability.Nop(), nil, progress).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, dones)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, paths)
}

func TestOutputPath(t *testing.T) {
	doc := domain.Document{Path: "/data/docs/sub/report.pdf", RelPath: "sub/report.pdf"}

	beside := New(Options{Root: "/data/docs"}, newFakeBackend(), nil, observability.Nop(), nil, nil)
	assert.Equal(t, "/data/docs/sub/report.md", beside.outputPath(doc))

	mirrored := New(Options{Root: "/data/docs", OutputDir: "/out"}, newFakeBackend(), nil, observability.Nop(), nil, nil)
	assert.Equal(t, "/out/sub/report.md", mirrored.outputPath(doc))

	flat := domain.Document{Path: "/data/docs/Upper.PDF", RelPath: "Upper.PDF"}
	assert.Equal(t, "/out/Upper.md", mirrored.outputPath(flat))
}
