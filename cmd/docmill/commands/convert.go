package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/cmd/docmill/ui"
	"github.com/docmill/docmill/internal/convert"
	"github.com/docmill/docmill/internal/domain"
)

var (
	convertOutput   string
	convertBackend  string
	convertMaxPages int
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a single document to Markdown",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output file path (default: beside the source)")
	convertCmd.Flags().StringVar(&convertBackend, "backend", "", "conversion backend (fitz, exec, text)")
	convertCmd.Flags().IntVar(&convertMaxPages, "max-pages", 0, "page cap (0 means all pages)")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	input := args[0]
	if _, err := os.Stat(input); err != nil {
		return domain.ValidationError("input file not found: "+input, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Conversion.Backend = convertBackend
	}
	if cmd.Flags().Changed("max-pages") {
		cfg.Conversion.MaxPages = convertMaxPages
	}

	ui.InitUI(noColor, verbose)

	backend, err := convert.New(cfg.Conversion)
	if err != nil {
		return err
	}
	if err := backend.Probe(); err != nil {
		return err
	}

	output := convertOutput
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".md"
	}

	spin := ui.NewSpinner("Converting " + filepath.Base(input))
	spin.Start()
	start := time.Now()
	res, err := backend.Convert(ctx, input, convert.Options{MaxPages: cfg.Conversion.MaxPages})
	elapsed := time.Since(start)
	spin.Stop()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.IOError("creating output directory "+dir, err)
		}
	}
	if err := os.WriteFile(output, []byte(res.Markdown), 0o644); err != nil {
		return domain.IOError("writing "+output, err)
	}

	ui.Success("Markdown saved to %s", output)

	ui.Newline()
	ui.Section("Conversion Summary")
	rows := [][]string{
		{"Output", output},
		{"Backend", backend.Name()},
		{"Duration", ui.FormatDuration(elapsed)},
	}
	for _, key := range []string{
		convert.MetaConversionMethod,
		convert.MetaPageCount,
		convert.MetaPagesProcessed,
		convert.MetaFileSize,
	} {
		if v, ok := res.Metadata[key]; ok {
			rows = append(rows, []string{strings.ReplaceAll(key, "_", " "), v})
		}
	}
	ui.Table([]string{"Field", "Value"}, rows)

	return nil
}
