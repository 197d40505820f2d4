package cmd

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/coverage-analysis/internal/cache"
	"github.com/coverage-analysis/internal/classpath"
	"github.com/coverage-analysis/internal/converter"
	"github.com/coverage-analysis/internal/execdata"
	"github.com/coverage-analysis/internal/report"
	"github.com/coverage-analysis/internal/repository"
	"github.com/coverage-analysis/pkg/compression"
	"github.com/coverage-analysis/pkg/config"
	"github.com/coverage-analysis/pkg/filter"
	"github.com/coverage-analysis/pkg/utils"
)

var (
	// Convert command flags
	classLocations []string
	outputDir      string
	reportFormat   string
	reportName     string
	splitAfter     int
	compressWith   string
	runID          string
	strictUnits    bool
	uploadParts    bool
	indexParts     bool
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert [flags] EXEC_FILE...",
	Short: "Convert execution data into a testwise coverage report",
	Long: `Analyze the classes found on the given class locations, then reconstruct
the line coverage of every session recorded in the execution data files.

Class locations may be directories, class files, or archives (jar, war, ear,
zip, nested at any depth, optionally gzip or zstd compressed). Execution data
files may be plain dumps or archives containing dumps; all of them must share
one format version.

Units with execution data but no analyzed class are reported once as a
missing analysis warning.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringSliceVarP(&classLocations, "classpath", "p", nil, "Class directory, class file or archive (repeatable)")
	convertCmd.MarkFlagRequired("classpath")

	convertCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for report parts (overrides report.output_dir)")
	convertCmd.Flags().StringVarP(&reportFormat, "format", "f", "", "Report format: xml or json")
	convertCmd.Flags().StringVar(&reportName, "name", "", "Base name of report parts")
	convertCmd.Flags().IntVar(&splitAfter, "split", 0, "Start a new part after this many sessions (0 disables splitting)")
	convertCmd.Flags().StringVar(&compressWith, "compression", "", "Compress parts: none, gzip or zstd")
	convertCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier used for archive keys and the index (generated if empty)")
	convertCmd.Flags().BoolVar(&strictUnits, "strict", false, "Fail when one class name is seen with two different contents")
	convertCmd.Flags().BoolVar(&uploadParts, "upload", false, "Archive parts in the configured storage")
	convertCmd.Flags().BoolVar(&indexParts, "index", false, "Record parts in the configured index database")
}

// applyConvertFlags overrides configuration values with the flags that were set.
func applyConvertFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Report.OutputDir = outputDir
	}
	if flags.Changed("format") {
		cfg.Report.Format = reportFormat
	}
	if flags.Changed("name") {
		cfg.Report.Name = reportName
	}
	if flags.Changed("split") {
		cfg.Report.SplitAfter = splitAfter
	}
	if flags.Changed("compression") {
		cfg.Report.Compression = compressWith
	}
	if flags.Changed("strict") {
		cfg.Cache.Strict = strictUnits
	}
	if uploadParts {
		cfg.Storage.Enabled = true
	}
	if indexParts {
		cfg.Index.Enabled = true
	}
	return cfg.Validate()
}

func runConvert(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	ctx := cmd.Context()

	cfg := *GetConfig()
	if err := applyConvertFlags(cmd, &cfg); err != nil {
		return err
	}
	id := runID
	if id == "" {
		id = generateRunID()
	}
	log = log.WithField("run", id)

	analyses := cache.New(cache.WithStrict(cfg.Cache.Strict), cache.WithLogger(log))
	loader := classpath.NewLoader(analyses,
		classpath.WithFilter(newClassFilter(cfg.Classpath)),
		classpath.WithWorkers(cfg.Cache.Workers),
		classpath.WithLogger(log),
	)
	stats, err := loader.Load(ctx, classLocations...)
	if err != nil {
		return err
	}
	log.Info("classpath: %s", stats)

	opts, cleanup, err := reportOptions(ctx, &cfg, id, log)
	if err != nil {
		return err
	}
	defer cleanup()

	w, err := report.NewWriter(opts)
	if err != nil {
		return err
	}

	sources := make([]execdata.Source, len(args))
	for i, p := range args {
		sources[i] = execdata.FileSource(p)
	}

	conv := converter.New(analyses.Lookup,
		converter.WithWorkers(cfg.Cache.Workers),
		converter.WithLogger(log),
		converter.WithTiming(verbose),
	)
	q := converter.NewSessionQueue(conv, w, cfg.Report.QueueCapacity)
	summary, convErr := conv.Submit(ctx, q, sources...)
	drainErr := drainQueue(ctx, q, cfg.Report.DrainTimeout)
	if convErr != nil {
		return convErr
	}
	if drainErr != nil {
		return drainErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d sessions, %d records (format %s), %d analyzed classes\n",
		id, summary.Sessions, summary.Records, summary.Format, analyses.Len())
	for _, part := range w.Parts() {
		fmt.Fprintf(out, "  %s (%d sessions)\n", part.Location, len(part.Sessions))
	}
	for _, warning := range w.Warnings() {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	return nil
}

// drainQueue waits for the queued sessions and closes the report writer.
// A zero timeout waits for all of them.
func drainQueue(ctx context.Context, q *converter.SessionQueue, timeout time.Duration) error {
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return q.Shutdown(ctx)
}

func newClassFilter(cfg config.ClasspathConfig) *filter.ClassFilter {
	f := filter.NewClassFilter()
	f.SetSkipRuntime(cfg.SkipRuntime)
	for _, prefix := range cfg.AgentPrefixes {
		f.AddAgentPrefix(prefix)
	}
	f.AddIncludes(cfg.Includes...)
	f.AddExcludes(cfg.Excludes...)
	return f
}

// reportOptions builds the writer options for a run: the sink factory, the
// part naming and, when enabled, the index listener. cleanup releases
// the index connection.
func reportOptions(ctx context.Context, cfg *config.Config, id string, log utils.Logger) (report.Options, func(), error) {
	cleanup := func() {}

	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return report.Options{}, cleanup, err
	}
	ctype, err := compression.ParseType(cfg.Report.Compression)
	if err != nil {
		return report.Options{}, cleanup, err
	}

	opts := report.Options{
		Format:      format,
		Factory:     report.FileSinkFactory{Dir: cfg.Report.OutputDir},
		BaseName:    cfg.Report.Name,
		SplitAfter:  cfg.Report.SplitAfter,
		Compression: ctype,
		Logger:      log,
	}

	if cfg.Storage.Enabled {
		st, err := newArchive()
		if err != nil {
			return report.Options{}, cleanup, err
		}
		opts.Factory = report.StorageSinkFactory{
			Storage: st,
			Prefix:  path.Join(cfg.Storage.Prefix, id),
			Timeout: cfg.Report.FlushTimeout,
		}
	}

	if cfg.Index.Enabled {
		idx, err := repository.OpenIndex(ctx, dbConfig(cfg.Index.Database))
		if err != nil {
			return report.Options{}, cleanup, err
		}
		cleanup = func() {
			if err := idx.Close(); err != nil {
				log.Warn("failed to close index: %v", err)
			}
		}
		opts.OnPart = repository.PartRecorder(ctx, idx.Repo, id, log)
	}

	return opts, cleanup, nil
}

func dbConfig(cfg config.DatabaseConfig) *repository.DBConfig {
	return &repository.DBConfig{
		Type:     cfg.Type,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		MaxConns: cfg.MaxConns,
	}
}

// generateRunID generates a run identifier from the current time.
func generateRunID() string {
	return "run-" + time.Now().UTC().Format("20060102T150405.000")
}
