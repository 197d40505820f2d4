package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Placeholder is the bind parameter style of a database/sql driver.
type Placeholder int

const (
	// Question binds with "?" (MySQL, SQLite).
	Question Placeholder = iota
	// Dollar binds with "$1", "$2"... (PostgreSQL).
	Dollar
)

// SQLIndexRepository implements IndexRepository over database/sql for
// deployments that share a connection pool with other tooling.
type SQLIndexRepository struct {
	db          *sql.DB
	placeholder Placeholder
}

// NewSQLIndexRepository creates a new SQLIndexRepository.
func NewSQLIndexRepository(db *sql.DB, placeholder Placeholder) *SQLIndexRepository {
	return &SQLIndexRepository{db: db, placeholder: placeholder}
}

// bind rewrites "?" placeholders for the configured driver.
func (r *SQLIndexRepository) bind(query string) string {
	if r.placeholder != Dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SavePart records a part and its sessions in one transaction.
func (r *SQLIndexRepository) SavePart(ctx context.Context, part *ReportPart, sessions []SessionEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertPart := `INSERT INTO report_parts (run_id, path, format, sessions, created_at) VALUES (?, ?, ?, ?, ?)`
	args := []interface{}{part.RunID, part.Path, part.Format, part.Sessions, part.CreatedAt}
	if r.placeholder == Dollar {
		if err := tx.QueryRowContext(ctx, r.bind(insertPart+" RETURNING id"), args...).Scan(&part.ID); err != nil {
			return fmt.Errorf("failed to insert part %s: %w", part.Path, err)
		}
	} else {
		res, err := tx.ExecContext(ctx, insertPart, args...)
		if err != nil {
			return fmt.Errorf("failed to insert part %s: %w", part.Path, err)
		}
		if part.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read part id: %w", err)
		}
	}

	if len(sessions) > 0 {
		stmt, err := tx.PrepareContext(ctx, r.bind(
			`INSERT INTO session_entries (run_id, part_path, session_id, covered_lines, files) VALUES (?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, s := range sessions {
			if _, err := stmt.ExecContext(ctx, s.RunID, s.PartPath, s.SessionID, s.CoveredLines, s.Files); err != nil {
				return fmt.Errorf("failed to insert session %s: %w", s.SessionID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListParts returns the parts of a run ordered by id.
func (r *SQLIndexRepository) ListParts(ctx context.Context, runID string) ([]ReportPart, error) {
	query := r.bind(`
		SELECT id, run_id, path, format, sessions, created_at
		FROM report_parts
		WHERE run_id = ?
		ORDER BY id ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	defer rows.Close()

	var parts []ReportPart
	for rows.Next() {
		var p ReportPart
		if err := rows.Scan(&p.ID, &p.RunID, &p.Path, &p.Format, &p.Sessions, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parts: %w", err)
	}
	return parts, nil
}

// FindSession returns the most recently saved entry of a session.
func (r *SQLIndexRepository) FindSession(ctx context.Context, runID, sessionID string) (*SessionEntry, error) {
	query := r.bind(`
		SELECT id, run_id, part_path, session_id, covered_lines, files
		FROM session_entries
		WHERE run_id = ? AND session_id = ?
		ORDER BY id DESC
		LIMIT 1
	`)

	var e SessionEntry
	err := r.db.QueryRowContext(ctx, query, runID, sessionID).Scan(
		&e.ID, &e.RunID, &e.PartPath, &e.SessionID, &e.CoveredLines, &e.Files)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s in run %s: %w", sessionID, runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &e, nil
}
