package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverage-analysis/pkg/config"
	apperrors "github.com/coverage-analysis/pkg/errors"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "archive")

		storage, err := NewLocalStorage(path)
		require.NoError(t, err)
		assert.Equal(t, path, storage.GetBasePath())

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("EmptyPathDefaults", func(t *testing.T) {
		t.Chdir(t.TempDir())

		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, "./storage", storage.GetBasePath())
	})
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.Upload(ctx, "run-1/testwise.xml", bytes.NewReader([]byte("<report/>"))))

	rc, err := storage.Download(ctx, "run-1/testwise.xml")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<report/>", string(data))

	entries, err := os.ReadDir(filepath.Join(storage.GetBasePath(), "run-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging file must be renamed away")
}

func TestLocalStorage_UploadFile(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "part.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"tests":[]}`), 0644))

	require.NoError(t, storage.UploadFile(context.Background(), "parts/part.json", src))
	data, err := os.ReadFile(storage.GetURL("parts/part.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"tests":[]}`, string(data))

	err = storage.UploadFile(context.Background(), "parts/missing.json", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, apperrors.CodeStorageError, apperrors.GetErrorCode(err))
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.Download(context.Background(), "nope.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStorage_DeleteAndExists(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.Upload(ctx, "a.xml", bytes.NewReader(nil)))
	ok, err := storage.Exists(ctx, "a.xml")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, storage.Delete(ctx, "a.xml"))
	require.NoError(t, storage.Delete(ctx, "a.xml"), "deleting a missing object is not an error")

	ok, err = storage.Exists(ctx, "a.xml")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_List(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"run-2/r-1.xml", "run-1/r-2.xml", "run-1/r-1.xml", "other.txt"} {
		require.NoError(t, storage.Upload(ctx, key, bytes.NewReader([]byte(key))))
	}
	require.NoError(t, os.WriteFile(filepath.Join(storage.GetBasePath(), "run-1", ".r-3.xml.123.tmp"), nil, 0644))

	keys, err := storage.List(ctx, "run-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1/r-1.xml", "run-1/r-2.xml"}, keys)

	all, err := storage.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = storage.Upload(context.Background(), "../outside.xml", bytes.NewReader(nil))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
	assert.Empty(t, storage.GetURL("a/../../b"))
}

func TestLocalStorage_Cancelled(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, storage.Upload(ctx, "a.xml", bytes.NewReader(nil)), context.Canceled)
	_, err = storage.Exists(ctx, "a.xml")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"a/b.xml", "a/b.xml", false},
		{"/a//b.xml", "a/b.xml", false},
		{"a\\b.xml", "a/b.xml", false},
		{"./a/./b.xml", "a/b.xml", false},
		{"", "", true},
		{"/", "", true},
		{"a/../b", "", true},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.key)
		if tt.wantErr {
			assert.Error(t, err, tt.key)
			continue
		}
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewStorage(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		storage, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
		require.NoError(t, err)
		_, ok := storage.(*LocalStorage)
		assert.True(t, ok)
	})

	t.Run("EmptyTypeIsLocal", func(t *testing.T) {
		storage, err := NewStorage(&config.StorageConfig{LocalPath: t.TempDir()})
		require.NoError(t, err)
		_, ok := storage.(*LocalStorage)
		assert.True(t, ok)
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := NewStorage(&config.StorageConfig{Type: "s3"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported storage type")
	})
}
