package converter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
	"github.com/coverage-analysis/pkg/utils"
)

// DefaultQueueCapacity is the number of sessions buffered ahead of the writer.
const DefaultQueueCapacity = 64

// ReportWriter is a SessionWriter that can be finalized.
type ReportWriter interface {
	SessionWriter
	Close() error
}

type job struct {
	session model.Session
	records []*model.ExecutionRecord
}

// SessionQueue serializes sessions from any number of producers into one
// writer owned by a background goroutine.
type SessionQueue struct {
	conv   *Converter
	writer ReportWriter
	logger utils.Logger

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	// pending counts Submit calls that may still send on jobs.
	pending sync.WaitGroup
	jobs    chan job
	done    chan struct{}

	abort   atomic.Bool
	written atomic.Int64
	dropped atomic.Int64

	errMu sync.Mutex
	err   error
}

// NewSessionQueue starts the goroutine that owns w. capacity <= 0 uses
// DefaultQueueCapacity.
func NewSessionQueue(conv *Converter, w ReportWriter, capacity int) *SessionQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &SessionQueue{
		conv:    conv,
		writer:  w,
		logger:  conv.logger,
		closing: make(chan struct{}),
		jobs:    make(chan job, capacity),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *SessionQueue) run() {
	defer close(q.done)
	for j := range q.jobs {
		if q.abort.Load() || q.Err() != nil {
			q.dropped.Add(1)
			continue
		}
		if _, err := q.conv.WriteSession(q.writer, j.session, j.records); err != nil {
			q.setErr(fmt.Errorf("session %s: %w", j.session.ID, err))
			q.dropped.Add(1)
			continue
		}
		q.written.Add(1)
	}
}

// Submit enqueues a session, blocking while the queue is full. It fails
// with WRITER_CLOSED once Shutdown has started, including while blocked.
func (q *SessionQueue) Submit(ctx context.Context, s model.Session, records []*model.ExecutionRecord) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return submitClosed(s)
	}
	q.pending.Add(1)
	q.mu.RUnlock()
	defer q.pending.Done()

	select {
	case q.jobs <- job{session: s, records: records}:
		return nil
	case <-q.closing:
		return submitClosed(s)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func submitClosed(s model.Session) error {
	return apperrors.Wrap(apperrors.CodeWriterClosed, fmt.Sprintf("cannot submit session %s", s.ID), apperrors.ErrWriterClosed)
}

// Shutdown stops intake, drains queued sessions until ctx ends and closes
// the writer. When ctx ends first the session being written is finished,
// the rest are dropped and the context error is returned.
func (q *SessionQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return apperrors.Wrap(apperrors.CodeWriterClosed, "session queue already shut down", apperrors.ErrWriterClosed)
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()
	// blocked producers give up on closing, so this wait is short
	q.pending.Wait()
	close(q.jobs)

	var drainErr error
	select {
	case <-q.done:
	case <-ctx.Done():
		q.abort.Store(true)
		<-q.done
		drainErr = fmt.Errorf("shutdown interrupted, %d sessions dropped: %w", q.dropped.Load(), ctx.Err())
	}

	closeErr := q.writer.Close()
	switch {
	case q.Err() != nil:
		return q.Err()
	case drainErr != nil:
		return drainErr
	default:
		q.logger.Debug("session queue drained: %d written", q.written.Load())
		return closeErr
	}
}

// Written returns the number of sessions written so far.
func (q *SessionQueue) Written() int64 {
	return q.written.Load()
}

// Dropped returns the number of queued sessions that were not written.
func (q *SessionQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Err returns the first error met while writing.
func (q *SessionQueue) Err() error {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	return q.err
}

func (q *SessionQueue) setErr(err error) {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	if q.err == nil {
		q.err = err
		q.logger.Error("%v", err)
	}
}
