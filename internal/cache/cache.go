// Package cache holds structural analyses keyed by class content fingerprint
// so that each distinct class is decoded once per process.
package cache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/coverage-analysis/internal/analysis"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
	"github.com/coverage-analysis/pkg/utils"
)

// ComputeFunc produces the analysis for a cache miss.
type ComputeFunc func() (*analysis.StructuralAnalysis, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries      int   `json:"entries"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Computations int64 `json:"computations"`
	Conflicts    int64 `json:"conflicts"`
}

// Cache maps UnitIDs to analyses. Entries are written once and never evicted.
// Concurrent misses for one id share a single computation.
type Cache struct {
	mu      sync.RWMutex
	entries map[model.UnitID]*analysis.StructuralAnalysis
	names   map[string]model.UnitID

	group  singleflight.Group
	strict bool
	logger utils.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	conflicts    atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStrict makes name conflicts fail with a DUPLICATE_UNIT error.
func WithStrict(strict bool) Option {
	return func(c *Cache) {
		c.strict = strict
	}
}

// WithLogger sets the logger used to report conflicts.
func WithLogger(logger utils.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[model.UnitID]*analysis.StructuralAnalysis),
		names:   make(map[string]model.UnitID),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrGlobal(c.logger)
	return c
}

// GetOrCompute returns the analysis for id, running compute on a miss.
// name is the logical class name used for conflict detection; it may be empty.
//
// All concurrent callers for one id observe the same analysis instance. A
// failed computation is returned to every waiting caller and not cached.
func (c *Cache) GetOrCompute(id model.UnitID, name string, compute ComputeFunc) (*analysis.StructuralAnalysis, error) {
	if a := c.Get(id); a != nil {
		c.hits.Add(1)
		return a, nil
	}
	c.misses.Add(1)

	if c.strict {
		if err := c.knownConflict(id, name); err != nil {
			c.conflicts.Add(1)
			return nil, err
		}
	}

	v, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		// a flight for id may have completed between Get and Do
		if a := c.Get(id); a != nil {
			return a, nil
		}
		a, err := compute()
		if err != nil {
			return nil, err
		}
		c.computations.Add(1)
		return c.insert(id, name, a)
	})
	if err != nil {
		return nil, err
	}
	return v.(*analysis.StructuralAnalysis), nil
}

// Put stores a precomputed analysis. It reports false when id was already
// present, in which case the existing entry is kept, or when strict mode
// rejects a name conflict.
func (c *Cache) Put(a *analysis.StructuralAnalysis) bool {
	got, err := c.insert(a.ID, a.Name, a)
	return err == nil && got == a
}

// insert adds a under id unless an entry exists. A name already bound to
// another id is a conflict: logged, or rejected in strict mode.
func (c *Cache) insert(id model.UnitID, name string, a *analysis.StructuralAnalysis) (*analysis.StructuralAnalysis, error) {
	c.mu.Lock()
	if existing, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return existing, nil
	}

	var conflict *apperrors.AppError
	if name != "" {
		if known, ok := c.names[name]; !ok {
			c.names[name] = id
		} else if known != id {
			conflict = apperrors.DuplicateUnit(name, uint64(known), uint64(id))
		}
	}
	if conflict != nil && c.strict {
		c.mu.Unlock()
		c.conflicts.Add(1)
		return nil, conflict
	}
	c.entries[id] = a
	c.mu.Unlock()

	if conflict != nil {
		c.conflicts.Add(1)
		c.logger.Warn("%s", conflict.Message)
	}
	return a, nil
}

// knownConflict checks a class name against the ids seen so far, so that a
// strict cache can refuse without computing.
func (c *Cache) knownConflict(id model.UnitID, name string) error {
	if name == "" {
		return nil
	}
	c.mu.RLock()
	known, ok := c.names[name]
	c.mu.RUnlock()
	if !ok || known == id {
		return nil
	}
	return apperrors.DuplicateUnit(name, uint64(known), uint64(id))
}

// Get returns the cached analysis for id or nil.
func (c *Cache) Get(id model.UnitID) *analysis.StructuralAnalysis {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id]
}

// Lookup is Get with an ok flag, for use as a coverage lookup function.
func (c *Cache) Lookup(id model.UnitID) (*analysis.StructuralAnalysis, bool) {
	a := c.Get(id)
	return a, a != nil
}

// Len returns the number of cached analyses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:      c.Len(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Conflicts:    c.conflicts.Load(),
	}
}
