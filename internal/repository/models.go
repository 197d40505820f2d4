package repository

import (
	"time"

	"github.com/coverage-analysis/internal/report"
)

// ReportPart represents the report_parts table.
type ReportPart struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string    `gorm:"column:run_id;type:varchar(64);index"`
	Path      string    `gorm:"column:path;type:varchar(512)"`
	Format    string    `gorm:"column:format;type:varchar(16)"`
	Sessions  int       `gorm:"column:sessions"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName returns the table name for ReportPart.
func (ReportPart) TableName() string {
	return "report_parts"
}

// SessionEntry represents the session_entries table.
type SessionEntry struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID        string `gorm:"column:run_id;type:varchar(64);index:idx_run_session"`
	PartPath     string `gorm:"column:part_path;type:varchar(512)"`
	SessionID    string `gorm:"column:session_id;type:varchar(255);index:idx_run_session"`
	CoveredLines int    `gorm:"column:covered_lines"`
	Files        int    `gorm:"column:files"`
}

// TableName returns the table name for SessionEntry.
func (SessionEntry) TableName() string {
	return "session_entries"
}

// FromPartInfo converts a finished report part into index rows.
func FromPartInfo(runID string, info report.PartInfo) (*ReportPart, []SessionEntry) {
	part := &ReportPart{
		RunID:     runID,
		Path:      info.Location,
		Format:    info.Format,
		Sessions:  len(info.Sessions),
		CreatedAt: info.Closed,
	}
	entries := make([]SessionEntry, len(info.Sessions))
	for i, s := range info.Sessions {
		entries[i] = SessionEntry{
			RunID:        runID,
			PartPath:     info.Location,
			SessionID:    s.ID,
			CoveredLines: s.CoveredLines,
			Files:        s.Files,
		}
	}
	return part, entries
}
