package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Build the search index",
	Long: `Chunk, embed and store the corpus. Paths and globs default to
corpus.paths. The previous index is replaced.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := setupLogging(cfg.Logging, true)
	if err != nil {
		return err
	}
	defer lg.Close()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	paths := cfg.Corpus.Paths
	if len(args) > 0 {
		paths = args
	}
	report, err := a.indexer.IndexPaths(cmd.Context(), paths)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d documents into %d chunks (dimension %d)\n", report.Documents, report.Chunks, report.Dimension)
	if report.Summary != "" {
		fmt.Fprintf(out, "\nSummary:\n%s\n", report.Summary)
	}
	return nil
}
