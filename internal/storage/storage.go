// Package storage archives finished report parts in object storage.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/coverage-analysis/pkg/config"
	apperrors "github.com/coverage-analysis/pkg/errors"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Upload uploads data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadFile uploads a local file to the specified key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download opens the object at the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete deletes the object at the specified key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// GetURL returns the URL for the specified key (if applicable).
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return invalid("storage config is nil")
	}

	storageType := StorageType(cfg.Type)

	// Empty type defaults to local
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return invalid("COS bucket is required")
		}
		if cfg.Region == "" {
			return invalid("COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return invalid("COS credentials are required")
		}
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return invalid("local storage path is required")
		}
	default:
		return invalid("unsupported storage type: " + cfg.Type)
	}

	return nil
}

// CleanKey normalizes an object key to a slash separated relative path.
// Keys that escape the archive root are rejected.
func CleanKey(key string) (string, error) {
	slashed := strings.ReplaceAll(key, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", invalid("object key escapes archive root: " + key)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", invalid("empty object key")
	}
	return cleaned, nil
}

func invalid(msg string) error {
	return apperrors.New(apperrors.CodeInvalidInput, msg)
}

func storageErr(msg string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageError, msg, err)
}
