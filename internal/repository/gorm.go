package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GormIndexRepository implements IndexRepository using GORM.
type GormIndexRepository struct {
	db *gorm.DB
}

// NewGormIndexRepository creates a new GormIndexRepository.
func NewGormIndexRepository(db *gorm.DB) *GormIndexRepository {
	return &GormIndexRepository{db: db}
}

// Migrate creates or updates the index tables.
func (r *GormIndexRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&ReportPart{}, &SessionEntry{}); err != nil {
		return fmt.Errorf("failed to migrate index tables: %w", err)
	}
	return nil
}

// SavePart records a part and its sessions in one transaction.
func (r *GormIndexRepository) SavePart(ctx context.Context, part *ReportPart, sessions []SessionEntry) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(part).Error; err != nil {
			return err
		}
		if len(sessions) == 0 {
			return nil
		}
		return tx.Create(&sessions).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save part %s: %w", part.Path, err)
	}
	return nil
}

// ListParts returns the parts of a run ordered by id.
func (r *GormIndexRepository) ListParts(ctx context.Context, runID string) ([]ReportPart, error) {
	var parts []ReportPart
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&parts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	return parts, nil
}

// FindSession returns the most recently saved entry of a session.
func (r *GormIndexRepository) FindSession(ctx context.Context, runID, sessionID string) (*SessionEntry, error) {
	var entry SessionEntry
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND session_id = ?", runID, sessionID).
		Order("id DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s in run %s: %w", sessionID, runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &entry, nil
}
