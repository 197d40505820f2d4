package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coverage-analysis/internal/execdata"
	"github.com/coverage-analysis/pkg/model"
)

var (
	// Dump command flags
	dumpJSON    bool
	dumpRecords bool
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump [flags] EXEC_FILE...",
	Short: "Print the sessions and records of execution data files",
	Long: `Decode execution data files and print their format version, sessions and,
with --records, every execution record with its probe counts.

Each file is decoded on its own, so files of different format versions can
be inspected together.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().BoolVar(&dumpJSON, "json", false, "Print one JSON object per line")
	dumpCmd.Flags().BoolVarP(&dumpRecords, "records", "r", false, "Print execution records")
}

// dumpLine is the JSON form of one dump event.
type dumpLine struct {
	File    string     `json:"file"`
	Format  string     `json:"format,omitempty"`
	Session string     `json:"session,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	Dump    *time.Time `json:"dump,omitempty"`
	Unit    string     `json:"unit,omitempty"`
	Name    string     `json:"name,omitempty"`
	Probes  int        `json:"probes,omitempty"`
	Hits    int        `json:"hits,omitempty"`
}

func runDump(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, p := range args {
		if err := dumpFile(cmd, out, p); err != nil {
			return err
		}
	}
	return nil
}

func dumpFile(cmd *cobra.Command, out io.Writer, file string) error {
	enc := json.NewEncoder(out)
	sessions, records := 0, 0

	visitor := execdata.VisitorFuncs{
		Session: func(s model.Session) error {
			sessions++
			if dumpJSON {
				return enc.Encode(dumpLine{File: file, Session: s.ID, Start: &s.Start, Dump: &s.Dump})
			}
			_, err := fmt.Fprintf(out, "session %s start=%s dump=%s\n",
				s.ID, s.Start.Format(time.RFC3339), s.Dump.Format(time.RFC3339))
			return err
		},
		Execution: func(rec *model.ExecutionRecord) error {
			records++
			if !dumpRecords {
				return nil
			}
			hits := 0
			if rec.Probes != nil {
				hits = rec.Probes.Count()
			}
			if dumpJSON {
				return enc.Encode(dumpLine{File: file, Unit: rec.ID.String(), Name: rec.Name, Probes: rec.ProbeCount(), Hits: hits})
			}
			_, err := fmt.Fprintf(out, "  %s %s %d/%d\n", rec.ID, rec.Name, hits, rec.ProbeCount())
			return err
		},
	}

	format, err := execdata.Merge(cmd.Context(), visitor, execdata.MergeOptions{}, execdata.FileSource(file))
	if err != nil {
		return err
	}
	if dumpJSON {
		return enc.Encode(dumpLine{File: file, Format: format.String()})
	}
	_, err = fmt.Fprintf(out, "%s: format %s, %d sessions, %d records\n", file, format, sessions, records)
	return err
}
