package converter

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
	"github.com/coverage-analysis/pkg/utils"
)

// Boundary turns test start and end signals into queued sessions. Execution
// data collected between TestStart and TestEnd forms the test's session;
// data collected outside a test is discarded.
type Boundary struct {
	queue *SessionQueue
	clock utils.Clock

	mu      sync.Mutex
	current string
	started time.Time
	records map[model.UnitID]*model.ExecutionRecord
	order   []model.UnitID
}

// NewBoundary creates a boundary feeding q. A nil clock uses real time.
func NewBoundary(q *SessionQueue, clock utils.Clock) *Boundary {
	if clock == nil {
		clock = utils.NewRealClock()
	}
	return &Boundary{queue: q, clock: clock}
}

// TestStart opens the session of test id and resets the collected data.
func (b *Boundary) TestStart(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != "" {
		return apperrors.New(apperrors.CodeInvalidState,
			fmt.Sprintf("cannot start test %s while %s is running", id, b.current))
	}
	b.current = id
	b.started = b.clock.Now()
	b.reset()
	return nil
}

// Collect adds execution data to the running test. Records of a unit seen
// before have their hits ORed.
func (b *Boundary) Collect(records ...*model.ExecutionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == "" {
		return nil
	}
	for _, rec := range records {
		if existing, ok := b.records[rec.ID]; ok {
			if err := existing.Merge(rec); err != nil {
				return err
			}
			continue
		}
		own := *rec
		own.SessionID = b.current
		if rec.Probes != nil {
			own.Probes = rec.Probes.Clone()
		}
		b.records[rec.ID] = &own
		b.order = append(b.order, rec.ID)
	}
	return nil
}

// TestEnd closes the session of test id and submits it for writing.
func (b *Boundary) TestEnd(ctx context.Context, id string) error {
	b.mu.Lock()
	if b.current != id {
		running := b.current
		b.mu.Unlock()
		return apperrors.New(apperrors.CodeInvalidState,
			fmt.Sprintf("cannot end test %s, running test is %q", id, running))
	}
	session := model.Session{ID: id, Start: b.started, Dump: b.clock.Now()}
	records := make([]*model.ExecutionRecord, 0, len(b.order))
	for _, uid := range b.order {
		records = append(records, b.records[uid])
	}
	b.current = ""
	b.reset()
	b.mu.Unlock()

	return b.queue.Submit(ctx, session, records)
}

func (b *Boundary) reset() {
	b.records = make(map[model.UnitID]*model.ExecutionRecord)
	b.order = nil
}
