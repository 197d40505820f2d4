// Package repository indexes finished report parts so sessions can be found
// by run and session id without opening the reports.
package repository

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no index entry matches a query.
var ErrNotFound = errors.New("index entry not found")

// IndexRepository stores report parts and the sessions written to them.
type IndexRepository interface {
	// SavePart records a part and its sessions atomically. part.ID is set on success.
	SavePart(ctx context.Context, part *ReportPart, sessions []SessionEntry) error

	// ListParts returns the parts of a run in the order they were saved.
	ListParts(ctx context.Context, runID string) ([]ReportPart, error)

	// FindSession returns the latest entry of a session within a run.
	FindSession(ctx context.Context, runID, sessionID string) (*SessionEntry, error)
}
