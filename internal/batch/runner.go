// Package batch runs the conversion pipeline over a discovered set of
// documents: discovery, resume partitioning, retry-wrapped conversion,
// output writing and progress accounting.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docmill/docmill/internal/catalog"
	"github.com/docmill/docmill/internal/convert"
	"github.com/docmill/docmill/internal/discover"
	"github.com/docmill/docmill/internal/domain"
	"github.com/docmill/docmill/internal/ledger"
	"github.com/docmill/docmill/internal/observability"
	"github.com/docmill/docmill/internal/retry"
)

// Recorder persists run and document records. A nil Recorder disables
// cataloging; the progress ledger stays the source of truth either way.
type Recorder interface {
	CreateRun(ctx context.Context, run *catalog.Run) error
	FinishRun(ctx context.Context, run *catalog.Run) error
	RecordDocument(ctx context.Context, doc *catalog.DocumentRecord) error
}

// ProgressFunc is notified after each file reaches a terminal state for the
// current run. done counts every handled file, including skips.
type ProgressFunc func(done, total int, path string)

// Options configure a batch run.
type Options struct {
	Root        string
	OutputDir   string // empty writes each artifact beside its source
	Recursive   bool
	Extensions  []string
	Resume      bool
	RetryFailed bool
	Force       bool
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
	GCInterval  int
	MaxPages    int
}

// Failure names one file that exhausted its attempts.
type Failure struct {
	Path     string
	Attempts int
	Reason   string
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID            string
	Root             string
	Backend          string
	Resumed          bool
	Interrupted      bool
	Discovered       int
	SkippedSucceeded int
	SkippedFailed    int
	Cached           int
	Succeeded        int
	Failed           int
	StartedAt        time.Time
	CompletedAt      time.Time
	Duration         time.Duration
	Failures         []Failure
}

type outcome int

const (
	outcomeSkippedSucceeded outcome = iota
	outcomeSkippedFailed
	outcomeCached
	outcomeSucceeded
	outcomeFailed
	outcomeInterrupted
)

// Runner executes batch runs over one input root.
type Runner struct {
	opts     Options
	backend  convert.Backend
	ledger   *ledger.Ledger
	logger   *observability.Logger
	recorder Recorder
	progress ProgressFunc
}

// New creates a batch runner.
func New(
	opts Options,
	backend convert.Backend,
	led *ledger.Ledger,
	logger *observability.Logger,
	recorder Recorder,
	progress ProgressFunc,
) *Runner {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Runner{
		opts:     opts,
		backend:  backend,
		ledger:   led,
		logger:   logger,
		recorder: recorder,
		progress: progress,
	}
}

// Run converts every discovered file and returns the run summary.
//
// Per-file conversion failures are recorded and the loop continues; an
// invalid root or a ledger write failure aborts the run. Cancellation stops
// the run cleanly between files with a partial summary, not an error.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.New().String(),
		Backend:   r.backend.Name(),
		Resumed:   r.opts.Resume,
		StartedAt: time.Now(),
	}

	// Step 1: Discover candidate files
	disc, err := discover.New(r.opts.Root, discover.Options{
		Recursive:  r.opts.Recursive,
		Extensions: r.opts.Extensions,
	})
	if err != nil {
		return nil, err
	}
	summary.Root = disc.Root()

	docs, err := disc.Files()
	if err != nil {
		return nil, err
	}
	summary.Discovered = len(docs)

	r.logger.Info().
		Str("run_id", summary.RunID).
		Str("root", summary.Root).
		Str("backend", summary.Backend).
		Bool("resume", r.opts.Resume).
		Int("files", len(docs)).
		Msg("Starting batch run")

	// Step 2: Apply the resume policy for files that failed in earlier runs
	if r.opts.Resume && r.opts.RetryFailed {
		n, err := r.ledger.ResetFailed()
		if err != nil {
			return summary, err
		}
		if n > 0 {
			r.logger.Info().Int("files", n).Msg("Reset previously failed files for retry")
		}
	}

	// Step 3: Open the catalog run record
	r.recordRunStart(ctx, summary)

	// Step 4: Convert files one at a time
	done := 0
	processed := 0
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			summary.Interrupted = true
		default:
		}
		if summary.Interrupted {
			break
		}

		oc, err := r.processOne(ctx, doc, summary)
		if err != nil {
			return summary, err
		}
		if oc == outcomeInterrupted {
			summary.Interrupted = true
			break
		}

		done++
		r.advance(done, len(docs), doc.RelPath)

		if oc == outcomeSucceeded || oc == outcomeFailed {
			processed++
			if r.opts.GCInterval > 0 && processed%r.opts.GCInterval == 0 {
				debug.FreeOSMemory()
			}
		}
	}

	// Step 5: Finalize
	summary.CompletedAt = time.Now()
	summary.Duration = summary.CompletedAt.Sub(summary.StartedAt)
	r.recordRunFinish(summary)

	if summary.Interrupted {
		r.logger.Warn().
			Str("run_id", summary.RunID).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Msg("Batch run interrupted, progress saved")
	} else {
		r.logger.Info().
			Str("run_id", summary.RunID).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Int("skipped", summary.SkippedSucceeded+summary.SkippedFailed).
			Int("cached", summary.Cached).
			Dur("duration", summary.Duration).
			Msg("Batch run complete")
	}

	return summary, nil
}

// processOne takes one file to a terminal state and updates the summary.
// The returned error is fatal to the whole run.
func (r *Runner) processOne(ctx context.Context, doc domain.Document, summary *Summary) (outcome, error) {
	if r.opts.Resume {
		if entry, ok := r.ledger.Get(doc.Path); ok {
			switch entry.Status {
			case domain.StatusSucceeded:
				summary.SkippedSucceeded++
				r.logger.Debug().Str("path", doc.Path).Msg("Skipping file converted in an earlier run")
				return outcomeSkippedSucceeded, nil
			case domain.StatusFailed:
				// Only reachable with retry_failed disabled; ResetFailed
				// cleared these entries otherwise.
				summary.SkippedFailed++
				r.logger.Debug().Str("path", doc.Path).Str("error", entry.LastError).Msg("Skipping file failed in an earlier run")
				return outcomeSkippedFailed, nil
			}
		}
	}

	outPath := r.outputPath(doc)

	if !r.opts.Force && outputFresh(doc.Path, outPath) {
		if err := r.ledger.RecordSuccess(doc.Path, outPath); err != nil {
			return 0, err
		}
		summary.Cached++
		r.logger.Debug().Str("path", doc.Path).Str("output", outPath).Msg("Output newer than source, skipping conversion")
		r.recordDocument(ctx, summary.RunID, doc, outPath, domain.StatusSucceeded, 0, "",
			map[string]string{convert.MetaConversionMethod: "cached"})
		return outcomeCached, nil
	}

	var res *convert.Result
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: r.opts.MaxAttempts,
		Delay:       r.opts.Delay,
		Backoff:     r.opts.Backoff,
		OnAttempt: func(attempt int) error {
			if attempt > 1 {
				r.logger.Warn().
					Str("path", doc.Path).
					Int("attempt", attempt).
					Int("max_attempts", r.opts.MaxAttempts).
					Msg("Retrying conversion")
			}
			return r.ledger.RecordStart(doc.Path)
		},
	}, func(ctx context.Context) error {
		var convErr error
		res, convErr = r.backend.Convert(ctx, doc.Path, convert.Options{MaxPages: r.opts.MaxPages})
		return convErr
	})

	switch {
	case err == nil:
		if werr := r.writeOutput(outPath, res); werr != nil {
			return r.fail(ctx, doc, summary, werr)
		}
		if lerr := r.ledger.RecordSuccess(doc.Path, outPath); lerr != nil {
			return 0, lerr
		}
		summary.Succeeded++
		n := r.attempts(doc.Path)
		r.logger.Info().Str("path", doc.Path).Str("output", outPath).Int("attempts", n).Msg("Converted")
		r.recordDocument(ctx, summary.RunID, doc, outPath, domain.StatusSucceeded, n, "", res.Metadata)
		return outcomeSucceeded, nil

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The file stays in_progress in the ledger; the next resumed run
		// picks it up again.
		return outcomeInterrupted, nil

	case domain.IsType(err, domain.ErrorTypeLedger):
		// RecordStart failed inside the attempt hook.
		return 0, err

	default:
		return r.fail(ctx, doc, summary, err)
	}
}

// fail records a terminal per-file failure and keeps the run going.
func (r *Runner) fail(ctx context.Context, doc domain.Document, summary *Summary, cause error) (outcome, error) {
	if err := r.ledger.RecordFailure(doc.Path, cause); err != nil {
		return 0, err
	}
	n := r.attempts(doc.Path)
	summary.Failed++
	summary.Failures = append(summary.Failures, Failure{Path: doc.Path, Attempts: n, Reason: cause.Error()})
	r.logger.Error().Err(cause).Str("path", doc.Path).Int("attempts", n).Msg("Conversion failed")
	r.recordDocument(ctx, summary.RunID, doc, "", domain.StatusFailed, n, cause.Error(), nil)
	return outcomeFailed, nil
}

func (r *Runner) attempts(path string) int {
	if e, ok := r.ledger.Get(path); ok {
		return e.Attempts
	}
	return 0
}

// outputPath places the Markdown artifact beside its source, or mirrors the
// source's relative subpath under the output directory when one is set.
func (r *Runner) outputPath(doc domain.Document) string {
	name := strings.TrimSuffix(filepath.Base(doc.Path), filepath.Ext(doc.Path)) + ".md"
	if r.opts.OutputDir == "" {
		return filepath.Join(filepath.Dir(doc.Path), name)
	}
	return filepath.Join(r.opts.OutputDir, filepath.Dir(doc.RelPath), name)
}

func (r *Runner) writeOutput(path string, res *convert.Result) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.IOError(fmt.Sprintf("create output directory: %s", dir), err)
	}
	if err := os.WriteFile(path, []byte(res.Markdown), 0o644); err != nil {
		return domain.IOError(fmt.Sprintf("write markdown output: %s", path), err)
	}
	return nil
}

// fileSHA256 returns the hex digest of the file's contents, or nil when the
// file cannot be read.
func fileSHA256(path string) *string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return &sum
}

// outputFresh reports whether the Markdown output for srcPath already exists
// and is newer than the source.
func outputFresh(srcPath, outPath string) bool {
	out, err := os.Stat(outPath)
	if err != nil {
		return false
	}
	src, err := os.Stat(srcPath)
	if err != nil {
		return false
	}
	return out.ModTime().After(src.ModTime())
}

func (r *Runner) advance(done, total int, path string) {
	if r.progress != nil {
		r.progress(done, total, path)
	}
}

func (r *Runner) recordRunStart(ctx context.Context, summary *Summary) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.CreateRun(ctx, r.catalogRun(summary)); err != nil {
		r.logger.Warn().Err(err).Str("run_id", summary.RunID).Msg("Failed to record run in catalog")
	}
}

func (r *Runner) recordRunFinish(summary *Summary) {
	if r.recorder == nil {
		return
	}
	// The run context may already be cancelled when the run was interrupted.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.recorder.FinishRun(ctx, r.catalogRun(summary)); err != nil {
		r.logger.Warn().Err(err).Str("run_id", summary.RunID).Msg("Failed to finalize run in catalog")
	}
}

func (r *Runner) recordDocument(ctx context.Context, runID string, doc domain.Document, outPath string, status domain.Status, attempts int, reason string, meta map[string]string) {
	if r.recorder == nil {
		return
	}
	rec := &catalog.DocumentRecord{
		RunID:     runID,
		Path:      doc.Path,
		Status:    status,
		Attempts:  attempts,
		SizeBytes: doc.Size,
		Metadata:  meta,
		UpdatedAt: time.Now().UTC(),
	}
	if outPath != "" {
		rec.OutputPath = &outPath
	}
	if reason != "" {
		rec.Error = &reason
	}
	// Hash only freshly converted sources. The cached and failed paths never
	// read the file, so hashing there would be extra IO for a reporting field.
	if status == domain.StatusSucceeded && attempts > 0 {
		rec.SHA256 = fileSHA256(doc.Path)
	}
	if err := r.recorder.RecordDocument(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("path", doc.Path).Msg("Failed to record document in catalog")
	}
}

func (r *Runner) catalogRun(summary *Summary) *catalog.Run {
	run := &catalog.Run{
		ID:          summary.RunID,
		Root:        summary.Root,
		Backend:     summary.Backend,
		Resumed:     summary.Resumed,
		Interrupted: summary.Interrupted,
		Discovered:  summary.Discovered,
		Succeeded:   summary.Succeeded,
		Failed:      summary.Failed,
		Skipped:     summary.SkippedSucceeded + summary.SkippedFailed,
		Cached:      summary.Cached,
		StartedAt:   summary.StartedAt,
	}
	if r.opts.OutputDir != "" {
		dir := r.opts.OutputDir
		run.OutputRoot = &dir
	}
	return run
}
