package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, NewGormIndexRepository(db).Migrate(context.Background()))
	return db
}

func TestGormIndexRepository_SavePart(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormIndexRepository(db)
	ctx := context.Background()

	part := &ReportPart{RunID: "run-1", Path: "out/report-1.xml", Format: "xml", Sessions: 2, CreatedAt: time.Now()}
	entries := []SessionEntry{
		{RunID: "run-1", PartPath: part.Path, SessionID: "Suite#one", CoveredLines: 12, Files: 2},
		{RunID: "run-1", PartPath: part.Path, SessionID: "Suite#two", CoveredLines: 3, Files: 1},
	}
	require.NoError(t, repo.SavePart(ctx, part, entries))
	assert.NotZero(t, part.ID)

	var count int64
	require.NoError(t, db.Model(&SessionEntry{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestGormIndexRepository_SavePart_NoSessions(t *testing.T) {
	repo := NewGormIndexRepository(setupTestDB(t))
	part := &ReportPart{RunID: "run-1", Path: "empty.json", Format: "json"}
	require.NoError(t, repo.SavePart(context.Background(), part, nil))
	assert.NotZero(t, part.ID)
}

func TestGormIndexRepository_ListParts(t *testing.T) {
	repo := NewGormIndexRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("ListParts_Empty", func(t *testing.T) {
		parts, err := repo.ListParts(ctx, "run-1")
		require.NoError(t, err)
		assert.Empty(t, parts)
	})

	t.Run("ListParts_FiltersByRun", func(t *testing.T) {
		for _, p := range []*ReportPart{
			{RunID: "run-1", Path: "a-1.xml", Format: "xml", Sessions: 1},
			{RunID: "run-2", Path: "b-1.xml", Format: "xml", Sessions: 1},
			{RunID: "run-1", Path: "a-2.xml", Format: "xml", Sessions: 1},
		} {
			require.NoError(t, repo.SavePart(ctx, p, nil))
		}

		parts, err := repo.ListParts(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, parts, 2)
		assert.Equal(t, "a-1.xml", parts[0].Path)
		assert.Equal(t, "a-2.xml", parts[1].Path)
	})
}

func TestGormIndexRepository_FindSession(t *testing.T) {
	repo := NewGormIndexRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("FindSession_NotFound", func(t *testing.T) {
		entry, err := repo.FindSession(ctx, "run-1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, entry)
	})

	t.Run("FindSession_LatestWins", func(t *testing.T) {
		require.NoError(t, repo.SavePart(ctx, &ReportPart{RunID: "run-1", Path: "p-1.xml"},
			[]SessionEntry{{RunID: "run-1", PartPath: "p-1.xml", SessionID: "T#a", CoveredLines: 1}}))
		require.NoError(t, repo.SavePart(ctx, &ReportPart{RunID: "run-1", Path: "p-2.xml"},
			[]SessionEntry{{RunID: "run-1", PartPath: "p-2.xml", SessionID: "T#a", CoveredLines: 5}}))

		entry, err := repo.FindSession(ctx, "run-1", "T#a")
		require.NoError(t, err)
		assert.Equal(t, "p-2.xml", entry.PartPath)
		assert.Equal(t, 5, entry.CoveredLines)
	})
}
