// Package converter turns execution data into report sessions: it merges
// dumps, groups them by session, reconstructs line coverage against the
// structural analysis cache and feeds a report writer.
package converter

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/coverage-analysis/internal/coverage"
	"github.com/coverage-analysis/internal/execdata"
	"github.com/coverage-analysis/pkg/model"
	"github.com/coverage-analysis/pkg/telemetry"
	"github.com/coverage-analysis/pkg/utils"
)

// SessionWriter receives reconstructed sessions. *report.Writer implements it.
type SessionWriter interface {
	BeginSession(s model.Session) error
	AddCoverage(files ...*model.FileCoverage) error
	ReportMissing(units ...string) error
	EndSession() error
}

// Summary describes one conversion.
type Summary struct {
	Format   execdata.Format `json:"format"`
	Sessions int             `json:"sessions"`
	Records  int             `json:"records"`
	Files    int             `json:"files"`
	// Missing lists the units that had hits but no structural analysis.
	Missing []string `json:"missing,omitempty"`
}

// Converter reconstructs sessions. It is safe for concurrent use as long
// as each call has its own writer.
type Converter struct {
	lookup        coverage.Lookup
	reconstructor *coverage.Reconstructor
	workers       int
	logger        utils.Logger
	tracer        trace.Tracer
	timing        bool
}

// Option configures a Converter.
type Option func(*Converter)

// WithWorkers bounds concurrent decoding of execution data sources.
func WithWorkers(n int) Option {
	return func(c *Converter) {
		c.workers = n
	}
}

// WithLogger sets the converter logger.
func WithLogger(logger utils.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithTracer overrides the global pipeline tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Converter) {
		c.tracer = tracer
	}
}

// WithTiming logs a per-phase timing summary at debug level.
func WithTiming(enabled bool) Option {
	return func(c *Converter) {
		c.timing = enabled
	}
}

// New creates a converter resolving analyses through lookup.
func New(lookup coverage.Lookup, opts ...Option) *Converter {
	c := &Converter{
		lookup:        lookup,
		reconstructor: coverage.NewReconstructor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrGlobal(c.logger)
	if c.tracer == nil {
		c.tracer = telemetry.Tracer()
	}
	return c
}

// Convert merges sources and writes every session to w in arrival order.
// Nothing is written when the sources cannot be merged.
func (c *Converter) Convert(ctx context.Context, w SessionWriter, sources ...execdata.Source) (summary *Summary, err error) {
	ctx, span := c.tracer.Start(ctx, "converter.Convert",
		trace.WithAttributes(attribute.Int("coverage.sources", len(sources))))
	defer func() { telemetry.EndSpan(span, err) }()

	timer := utils.NewTimer("convert", utils.WithLogger(c.logger), utils.WithEnabled(c.timing))
	defer timer.PrintSummary()

	store, format, err := c.decode(ctx, timer, sources)
	if err != nil {
		return nil, err
	}

	summary = &Summary{Format: format, Sessions: store.Len()}
	missing := make(map[string]struct{})
	_, err = timer.TimeFuncWithError("reconstruct", func() error {
		for _, g := range store.Groups() {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := c.WriteSession(w, g.Session, g.Records)
			if err != nil {
				return err
			}
			summary.Records += len(g.Records)
			summary.Files += len(res.Files)
			for _, name := range res.Missing {
				missing[name] = struct{}{}
			}
		}
		return nil
	})
	for name := range missing {
		summary.Missing = append(summary.Missing, name)
	}
	sort.Strings(summary.Missing)

	span.SetAttributes(
		attribute.String("coverage.format", format.String()),
		attribute.Int("coverage.sessions", summary.Sessions),
		attribute.Int("coverage.records", summary.Records),
		attribute.Int("coverage.missing_units", len(summary.Missing)),
	)
	if err != nil {
		return summary, err
	}
	c.logger.Info("converted %d sessions with %d records (format %s)", summary.Sessions, summary.Records, format)
	return summary, nil
}

// Submit merges sources and hands every session to q in arrival order.
// Sessions are written by the queue; writer failures surface from
// q.Shutdown. Nothing is submitted when the sources cannot be merged.
func (c *Converter) Submit(ctx context.Context, q *SessionQueue, sources ...execdata.Source) (summary *Summary, err error) {
	ctx, span := c.tracer.Start(ctx, "converter.Submit",
		trace.WithAttributes(attribute.Int("coverage.sources", len(sources))))
	defer func() { telemetry.EndSpan(span, err) }()

	timer := utils.NewTimer("submit", utils.WithLogger(c.logger), utils.WithEnabled(c.timing))
	defer timer.PrintSummary()

	store, format, err := c.decode(ctx, timer, sources)
	if err != nil {
		return nil, err
	}

	summary = &Summary{Format: format, Sessions: store.Len()}
	_, err = timer.TimeFuncWithError("enqueue", func() error {
		for _, g := range store.Groups() {
			if err := q.Submit(ctx, g.Session, g.Records); err != nil {
				return err
			}
			summary.Records += len(g.Records)
		}
		return nil
	})
	span.SetAttributes(
		attribute.String("coverage.format", format.String()),
		attribute.Int("coverage.sessions", summary.Sessions),
	)
	return summary, err
}

func (c *Converter) decode(ctx context.Context, timer *utils.Timer, sources []execdata.Source) (*execdata.SessionStore, execdata.Format, error) {
	store := execdata.NewSessionStore()
	var format execdata.Format
	_, err := timer.TimeFuncWithError("decode", func() error {
		var err error
		format, err = execdata.Merge(ctx, store, execdata.MergeOptions{Workers: c.workers}, sources...)
		return err
	})
	return store, format, err
}

// WriteSession reconstructs the records of one session and writes it to w.
// A reconstruction failure leaves w idle.
func (c *Converter) WriteSession(w SessionWriter, s model.Session, records []*model.ExecutionRecord) (*coverage.Result, error) {
	res, err := c.reconstructor.Aggregate(records, c.lookup)
	if err != nil {
		return nil, err
	}
	if err := w.BeginSession(s); err != nil {
		return nil, err
	}
	if err := w.AddCoverage(res.Files...); err != nil {
		return nil, err
	}
	if err := w.ReportMissing(res.Missing...); err != nil {
		return nil, err
	}
	if err := w.EndSession(); err != nil {
		return nil, err
	}
	return res, nil
}
