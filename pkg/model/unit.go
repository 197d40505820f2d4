// Package model defines the core data structures used throughout the application.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coverage-analysis/pkg/collections"
	apperrors "github.com/coverage-analysis/pkg/errors"
)

// UnitID is the content fingerprint of one compiled class (JaCoCo class id).
type UnitID uint64

// String returns the id as 16 lowercase hex digits.
func (id UnitID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ParseUnitID parses a hex class id as printed by String.
func ParseUnitID(s string) (UnitID, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unit id %q: %w", s, err)
	}
	return UnitID(v), nil
}

// Session is one recording window, usually one executed test.
type Session struct {
	ID          string    `json:"id"`
	Start       time.Time `json:"start"`
	Dump        time.Time `json:"dump"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Name returns the display name, falling back to the session id.
func (s Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}

// ExecutionRecord is the probe hit vector of one unit within one session.
type ExecutionRecord struct {
	ID        UnitID
	Name      string
	SessionID string
	Probes    *collections.Bitset
}

// ProbeCount returns the length of the hit vector.
func (r *ExecutionRecord) ProbeCount() int {
	if r.Probes == nil {
		return 0
	}
	return r.Probes.Size()
}

// Merge ORs other's hits into r. Both must describe the same unit with the
// same probe count; r is left untouched otherwise.
func (r *ExecutionRecord) Merge(other *ExecutionRecord) error {
	if other.ID != r.ID {
		return fmt.Errorf("cannot merge execution data of %s into %s", other.ID, r.ID)
	}
	if r.ProbeCount() != other.ProbeCount() {
		return apperrors.IncompatibleProbes(r.Name+" ("+r.ID.String()+")", r.ProbeCount(), other.ProbeCount())
	}
	if r.Probes == nil {
		r.Probes = collections.NewBitset(0)
	}
	r.Probes.Or(other.Probes)
	return nil
}
