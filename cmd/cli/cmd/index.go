package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coverage-analysis/internal/repository"
)

var (
	indexRunID   string
	indexSession string
)

// indexCmd groups the report index queries.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Query the report part index",
	Long:  `Query the database that records which report part holds each session of a run.`,
}

var indexPartsCmd = &cobra.Command{
	Use:   "parts",
	Short: "List the report parts of a run",
	RunE:  runIndexParts,
}

var indexFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Find the report part holding a session",
	RunE:  runIndexFind,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexPartsCmd, indexFindCmd)

	indexCmd.PersistentFlags().StringVar(&indexRunID, "run-id", "", "Run identifier (required)")
	indexCmd.MarkPersistentFlagRequired("run-id")
	indexFindCmd.Flags().StringVar(&indexSession, "session", "", "Session id (required)")
	indexFindCmd.MarkFlagRequired("session")
}

// openIndex opens the configured index database. Tests replace it.
var openIndex = func(cmd *cobra.Command) (repository.IndexRepository, func() error, error) {
	idx, err := repository.OpenIndex(cmd.Context(), dbConfig(GetConfig().Index.Database))
	if err != nil {
		return nil, nil, err
	}
	return idx.Repo, idx.Close, nil
}

func runIndexParts(cmd *cobra.Command, args []string) error {
	repo, closeIndex, err := openIndex(cmd)
	if err != nil {
		return err
	}
	defer closeIndex()

	parts, err := repo.ListParts(cmd.Context(), indexRunID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range parts {
		fmt.Fprintf(out, "%s\t%s\t%d sessions\t%s\n", p.Path, p.Format, p.Sessions, p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runIndexFind(cmd *cobra.Command, args []string) error {
	repo, closeIndex, err := openIndex(cmd)
	if err != nil {
		return err
	}
	defer closeIndex()

	entry, err := repo.FindSession(cmd.Context(), indexRunID, indexSession)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d files\t%d covered lines\n",
		entry.SessionID, entry.PartPath, entry.Files, entry.CoveredLines)
	return nil
}
