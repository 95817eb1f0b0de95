package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/cmd/docmill/ui"
	"github.com/docmill/docmill/internal/catalog"
	"github.com/docmill/docmill/internal/domain"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded batch runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsShowCmd)

	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.InitUI(noColor, verbose)

	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	runs, err := cat.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runState(r),
			r.Backend,
			fmt.Sprintf("%d", r.Discovered),
			fmt.Sprintf("%d", r.Succeeded),
			fmt.Sprintf("%d", r.Failed),
			r.Root,
		})
	}
	ui.Table([]string{"ID", "Started", "State", "Backend", "Files", "OK", "Failed", "Root"}, rows)

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.InitUI(noColor, verbose)

	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	run, err := findRun(ctx, cat, args[0])
	if err != nil {
		return err
	}

	ui.Section("Run " + shortID(run.ID))
	ui.KeyValue("ID", run.ID)
	ui.KeyValue("Root", run.Root)
	if run.OutputRoot != nil {
		ui.KeyValue("Output root", *run.OutputRoot)
	}
	ui.KeyValue("Backend", run.Backend)
	ui.KeyValue("State", runState(run))
	ui.KeyValue("Resumed", fmt.Sprintf("%t", run.Resumed))
	ui.KeyValue("Started", run.StartedAt.Local().Format(time.RFC3339))
	if run.FinishedAt != nil {
		ui.KeyValue("Finished", run.FinishedAt.Local().Format(time.RFC3339))
		ui.KeyValue("Duration", ui.FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	ui.KeyValue("Discovered", fmt.Sprintf("%d", run.Discovered))
	ui.KeyValue("Succeeded", fmt.Sprintf("%d", run.Succeeded))
	ui.KeyValue("Failed", fmt.Sprintf("%d", run.Failed))
	ui.KeyValue("Skipped", fmt.Sprintf("%d", run.Skipped))
	ui.KeyValue("Cached", fmt.Sprintf("%d", run.Cached))

	docs, err := cat.ListDocuments(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	ui.Newline()
	ui.Section("Documents")
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		errText := ""
		if d.Error != nil {
			errText = *d.Error
		}
		rows = append(rows, []string{
			string(d.Status),
			fmt.Sprintf("%d", d.Attempts),
			ui.FormatBytes(d.SizeBytes),
			d.Path,
			errText,
		})
	}
	ui.Table([]string{"Status", "Attempts", "Size", "Path", "Error"}, rows)

	return nil
}

// findRun resolves a full run ID or a unique ID prefix.
func findRun(ctx context.Context, cat *catalog.Catalog, id string) (*catalog.Run, error) {
	run, err := cat.GetRun(ctx, id)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	runs, err := cat.ListRuns(ctx, 1000)
	if err != nil {
		return nil, err
	}
	var match *catalog.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if match != nil {
				return nil, domain.ValidationError(fmt.Sprintf("run ID prefix %q is ambiguous", id), nil)
			}
			match = r
		}
	}
	if match == nil {
		return nil, domain.ValidationError("no run with ID "+id, nil)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runState(r *catalog.Run) string {
	switch {
	case r.FinishedAt == nil:
		return "running"
	case r.Interrupted:
		return "interrupted"
	default:
		return "completed"
	}
}
