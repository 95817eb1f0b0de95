package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/cmd/docmill/ui"
	"github.com/docmill/docmill/internal/batch"
	"github.com/docmill/docmill/internal/catalog"
	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/convert"
	"github.com/docmill/docmill/internal/ledger"
)

var (
	batchOutputDir   string
	batchRecursive   bool
	batchExtensions  []string
	batchResume      bool
	batchLedgerPath  string
	batchMaxRetries  int
	batchDelay       float64
	batchGCInterval  int
	batchRetryFailed bool
	batchForce       bool
	batchBackend     string
	batchMaxPages    int
)

var batchCmd = &cobra.Command{
	Use:   "batch <input-root>",
	Short: "Convert every matching document under a directory",
	Long: `Batch discovers documents under the input root, converts each one to
Markdown and records per-file progress in the ledger. A run stopped by
Ctrl-C or a crash picks up where it left off when started again with
--resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutputDir, "output-dir", "o", "", "directory for converted Markdown (default: beside each source)")
	batchCmd.Flags().BoolVarP(&batchRecursive, "recursive", "r", false, "descend into subdirectories")
	batchCmd.Flags().StringSliceVar(&batchExtensions, "extensions", []string{".pdf"}, "file extensions to convert")
	batchCmd.Flags().BoolVar(&batchResume, "resume", false, "resume from the existing ledger instead of starting fresh")
	batchCmd.Flags().StringVar(&batchLedgerPath, "ledger", "", "ledger file path (default: derived from the input root)")
	batchCmd.Flags().IntVar(&batchMaxRetries, "max-retries", 3, "conversion attempts per file")
	batchCmd.Flags().Float64Var(&batchDelay, "delay", 1.0, "seconds to wait between attempts")
	batchCmd.Flags().IntVar(&batchGCInterval, "gc-interval", 5, "files between forced memory releases (0 disables)")
	batchCmd.Flags().BoolVar(&batchRetryFailed, "retry-failed", true, "retry files that failed in an earlier run when resuming")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "reconvert even when the output is newer than the source")
	batchCmd.Flags().StringVar(&batchBackend, "backend", "", "conversion backend (fitz, exec, text)")
	batchCmd.Flags().IntVar(&batchMaxPages, "max-pages", 0, "page cap per document (0 means all pages)")

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyBatchFlags(cmd, cfg)

	ui.InitUI(noColor, verbose)
	logger := newLogger(cfg)

	backend, err := convert.New(cfg.Conversion)
	if err != nil {
		return err
	}
	if err := backend.Probe(); err != nil {
		return err
	}

	ledgerPath := batchLedgerPath
	if ledgerPath == "" {
		ledgerPath = ledger.DefaultPath(cfg.State.Dir, root)
	}

	var led *ledger.Ledger
	if batchResume {
		led, err = ledger.Load(ledgerPath, root)
		if err != nil {
			return err
		}
	} else {
		led = ledger.New(ledgerPath, root)
	}

	var recorder batch.Recorder
	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(ctx, cfg.Catalog)
		if err != nil {
			logger.Warn().Err(err).Msg("Catalog unavailable, continuing without it")
		} else {
			defer cat.Close()
			recorder = cat
		}
	}

	var bar *ui.ProgressBar
	progress := func(done, total int, path string) {
		if bar == nil {
			bar = ui.NewProgressBar(int64(total), "converting")
		}
		bar.Describe(path)
		bar.Set(int64(done))
	}

	opts := batch.Options{
		Root:        root,
		OutputDir:   batchOutputDir,
		Recursive:   cfg.Batch.Recursive,
		Extensions:  cfg.Batch.Extensions,
		Resume:      batchResume,
		RetryFailed: cfg.Batch.RetryFailed,
		Force:       batchForce,
		MaxAttempts: cfg.Batch.MaxAttempts,
		Delay:       cfg.Batch.Delay,
		Backoff:     cfg.Batch.BackoffFactor,
		GCInterval:  cfg.Batch.GCInterval,
		MaxPages:    cfg.Conversion.MaxPages,
	}

	runner := batch.New(opts, backend, led, logger, recorder, progress)
	summary, err := runner.Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

// applyBatchFlags copies flags the user actually set over the file-derived
// configuration, so the config file keeps supplying everything else.
func applyBatchFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("recursive") {
		cfg.Batch.Recursive = batchRecursive
	}
	if flags.Changed("extensions") {
		cfg.Batch.Extensions = batchExtensions
	}
	if flags.Changed("max-retries") {
		cfg.Batch.MaxAttempts = batchMaxRetries
	}
	if flags.Changed("delay") {
		cfg.Batch.Delay = time.Duration(batchDelay * float64(time.Second))
	}
	if flags.Changed("gc-interval") {
		cfg.Batch.GCInterval = batchGCInterval
	}
	if flags.Changed("retry-failed") {
		cfg.Batch.RetryFailed = batchRetryFailed
	}
	if flags.Changed("backend") {
		cfg.Conversion.Backend = batchBackend
	}
	if flags.Changed("max-pages") {
		cfg.Conversion.MaxPages = batchMaxPages
	}
}

func printSummary(s *batch.Summary) {
	ui.Newline()
	ui.Section("Run Summary")

	rows := [][]string{
		{"Run ID", s.RunID},
		{"Root", s.Root},
		{"Backend", s.Backend},
		{"Discovered", fmt.Sprintf("%d", s.Discovered)},
		{"Succeeded", fmt.Sprintf("%d", s.Succeeded)},
		{"Cached", fmt.Sprintf("%d", s.Cached)},
		{"Skipped (already converted)", fmt.Sprintf("%d", s.SkippedSucceeded)},
		{"Skipped (previously failed)", fmt.Sprintf("%d", s.SkippedFailed)},
		{"Failed", fmt.Sprintf("%d", s.Failed)},
		{"Duration", ui.FormatDuration(s.Duration)},
	}
	ui.Table([]string{"Metric", "Value"}, rows)

	if len(s.Failures) > 0 {
		ui.Newline()
		ui.Section("Failures")
		for _, f := range s.Failures {
			ui.Error("%s (%d attempts): %s", f.Path, f.Attempts, f.Reason)
		}
	}

	ui.Newline()
	switch {
	case s.Interrupted:
		ui.Warning("Run interrupted; continue with --resume")
	case s.Failed > 0:
		ui.Warning("%d of %d files failed", s.Failed, s.Discovered)
	default:
		ui.Success("All files processed")
	}
}
