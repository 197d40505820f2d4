package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/coverage-analysis/internal/storage"
	apperrors "github.com/coverage-analysis/pkg/errors"
)

var archiveOutput string

// archiveCmd groups the report archive operations.
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Browse report parts in the configured storage",
}

var archiveListCmd = &cobra.Command{
	Use:   "list [PREFIX]",
	Short: "List archived report parts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runArchiveList,
}

var archiveGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Download an archived report part",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveGet,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveListCmd, archiveGetCmd)

	archiveGetCmd.Flags().StringVarP(&archiveOutput, "output", "o", "", "Write to file instead of stdout")
}

// newArchive opens the configured storage for archive commands and uploads.
// Tests replace it.
var newArchive = func() (storage.Storage, error) {
	return storage.NewStorage(&GetConfig().Storage)
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	st, err := newArchive()
	if err != nil {
		return err
	}
	prefix := GetConfig().Storage.Prefix
	if len(args) == 1 {
		prefix = args[0]
	}

	keys, err := st.List(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}
	return nil
}

func runArchiveGet(cmd *cobra.Command, args []string) error {
	st, err := newArchive()
	if err != nil {
		return err
	}
	ok, err := st.Exists(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("no archived part %s", args[0]))
	}
	rc, err := st.Download(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer rc.Close()

	if archiveOutput == "" {
		_, err = io.Copy(cmd.OutOrStdout(), rc)
		return err
	}

	f, err := os.Create(archiveOutput)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", args[0], err)
	}
	return nil
}
