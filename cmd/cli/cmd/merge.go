package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coverage-analysis/internal/execdata"
)

var mergeOutput string

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge -o OUTPUT EXEC_FILE...",
	Short: "Merge execution data files into one",
	Long: `Merge execution data files that share one format version into a single
file of that version. Sessions with the same id are combined and the hits of
each unit within a session are ORed. Nothing is written when the inputs
cannot be merged.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "Output file (required)")
	mergeCmd.MarkFlagRequired("output")
}

func runMerge(cmd *cobra.Command, args []string) error {
	sources := make([]execdata.Source, len(args))
	for i, p := range args {
		sources[i] = execdata.FileSource(p)
	}

	store := execdata.NewSessionStore()
	format, err := execdata.Merge(cmd.Context(), store, execdata.MergeOptions{Workers: GetConfig().Cache.Workers}, sources...)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(mergeOutput), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(mergeOutput), "."+filepath.Base(mergeOutput)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	records, err := writeMerged(tmp, format, store)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), mergeOutput)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", mergeOutput, err)
	}

	GetLogger().Info("merged %d files into %s", len(args), mergeOutput)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: format %s, %d sessions, %d records\n", mergeOutput, format, store.Len(), records)
	return nil
}

func writeMerged(w io.Writer, format execdata.Format, store *execdata.SessionStore) (int, error) {
	enc, err := execdata.NewEncoder(w, format)
	if err != nil {
		return 0, err
	}
	records := 0
	for _, g := range store.Groups() {
		if err := enc.VisitSession(g.Session); err != nil {
			return records, err
		}
		for _, rec := range g.Records {
			if err := enc.VisitExecution(rec); err != nil {
				return records, err
			}
			records++
		}
	}
	return records, enc.Flush()
}
