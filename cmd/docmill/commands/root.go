package commands

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "docmill",
	Short: "docmill - batch document to Markdown conversion",
	Long: `docmill converts directories of documents to Markdown through a pluggable
conversion backend. Per-file progress is tracked in a durable ledger, so a
batch interrupted halfway can be resumed with --resume instead of starting
over, and files that already converted are never processed twice.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
