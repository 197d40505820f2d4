package classpath

import (
	"context"
	"fmt"
	"time"

	"github.com/coverage-analysis/internal/analysis"
	"github.com/coverage-analysis/internal/cache"
	"github.com/coverage-analysis/internal/classfile"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/filter"
	"github.com/coverage-analysis/pkg/parallel"
	"github.com/coverage-analysis/pkg/utils"
)

// LoadStats counts what happened to the classes of one Load call.
type LoadStats struct {
	Units     int `json:"units"`
	Analyzed  int `json:"analyzed"`
	Filtered  int `json:"filtered"`
	Malformed int `json:"malformed"`
}

func (s LoadStats) String() string {
	return fmt.Sprintf("%d classes: %d analyzed, %d filtered, %d malformed",
		s.Units, s.Analyzed, s.Filtered, s.Malformed)
}

type outcome int

const (
	outcomeAnalyzed outcome = iota
	outcomeFiltered
)

// Loader analyzes classes into a cache, in parallel.
type Loader struct {
	cache    *cache.Cache
	filter   *filter.ClassFilter
	pool     parallel.PoolConfig
	provider *Provider
	logger   utils.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFilter restricts the analyzed classes. Filtered classes are never
// cached, so their execution data is reported as missing analysis.
func WithFilter(f *filter.ClassFilter) LoaderOption {
	return func(l *Loader) {
		l.filter = f
	}
}

// WithWorkers sets the number of concurrent analyses.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		l.pool = l.pool.WithWorkers(n)
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger utils.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader that fills c.
func NewLoader(c *cache.Cache, opts ...LoaderOption) *Loader {
	l := &Loader{
		cache:  c,
		filter: filter.NewClassFilter(),
		pool:   parallel.DefaultPoolConfig().WithMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = utils.OrGlobal(l.logger)
	l.provider = NewProvider(l.logger)
	return l
}

// Load collects the classes below paths and analyzes them.
func (l *Loader) Load(ctx context.Context, paths ...string) (LoadStats, error) {
	units, err := l.provider.Collect(ctx, paths...)
	if err != nil {
		return LoadStats{}, err
	}
	return l.LoadUnits(ctx, units)
}

// LoadUnits analyzes units concurrently. Malformed units are logged and
// skipped. A strict cache conflict or cancellation fails the call after all
// started analyses have finished.
func (l *Loader) LoadUnits(ctx context.Context, units []Unit) (LoadStats, error) {
	stats := LoadStats{Units: len(units)}
	if len(units) == 0 {
		return stats, nil
	}

	tracker := parallel.NewProgressTracker(int64(len(units)), func(completed, total int64) {
		l.logger.Debug("analyzed %d/%d classes", completed, total)
	}, 2*time.Second)
	tracker.Start(ctx)

	pool := parallel.NewWorkerPool[Unit, outcome](l.pool)
	results := pool.ExecuteFunc(ctx, units, func(ctx context.Context, u Unit) (outcome, error) {
		defer tracker.Increment()
		_, o, err := l.load(u.Origin, u.Data)
		return o, err
	})
	tracker.Stop()

	var firstErr error
	for _, r := range results {
		switch {
		case r.Error == nil && r.Result == outcomeFiltered:
			stats.Filtered++
		case r.Error == nil:
			stats.Analyzed++
		case apperrors.IsMalformedUnit(r.Error):
			stats.Malformed++
			l.logger.Warn("%v", r.Error)
		case firstErr == nil:
			firstErr = r.Error
		}
	}
	if firstErr != nil {
		return stats, firstErr
	}
	m := pool.Metrics()
	l.logger.Debug("analysis pool: %d tasks in %v, slowest %v", m.TotalTasks, m.TotalDuration, m.MaxTaskTime)
	l.logger.Info("loaded %s", stats)
	return stats, nil
}

// LoadClass analyzes one class, as a class-loading hook would. It returns
// nil without error for classes rejected by the filter.
func (l *Loader) LoadClass(origin string, data []byte) (*analysis.StructuralAnalysis, error) {
	a, _, err := l.load(origin, data)
	return a, err
}

func (l *Loader) load(origin string, data []byte) (*analysis.StructuralAnalysis, outcome, error) {
	name, err := classfile.ReadName(data)
	if err != nil {
		return nil, outcomeAnalyzed, apperrors.MalformedUnit(origin, err)
	}
	if !l.filter.Accept(name) {
		return nil, outcomeFiltered, nil
	}

	id := analysis.ComputeUnitID(data)
	a, err := l.cache.GetOrCompute(id, name, func() (*analysis.StructuralAnalysis, error) {
		return analysis.AnalyzeWithID(id, origin, data)
	})
	if err != nil {
		return nil, outcomeAnalyzed, err
	}
	return a, outcomeAnalyzed, nil
}
