package report

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/coverage-analysis/internal/storage"
	apperrors "github.com/coverage-analysis/pkg/errors"
)

// Sink receives the bytes of one report part.
type Sink interface {
	Write(p []byte) (int, error)
	// Close finalizes the part; it is published only if Close succeeds.
	Close() error
	// Location is where the finished part can be found.
	Location() string
}

// SinkFactory opens a sink per part name.
type SinkFactory interface {
	Create(name string) (Sink, error)
}

// FileSinkFactory writes parts into a local directory. Each part is staged
// in a temporary file next to its destination and renamed into place on close.
type FileSinkFactory struct {
	Dir string
}

func (f FileSinkFactory) Create(name string) (Sink, error) {
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to create report directory", err)
	}
	dest := filepath.Join(f.Dir, name)
	tmp, err := os.CreateTemp(f.Dir, "."+name+".*.tmp")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to create %s", dest), err)
	}
	return &fileSink{f: tmp, w: bufio.NewWriterSize(tmp, 64*1024), dest: dest}, nil
}

type fileSink struct {
	f    *os.File
	w    *bufio.Writer
	dest string
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *fileSink) Close() error {
	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(s.f.Name(), s.dest)
	}
	if err != nil {
		_ = os.Remove(s.f.Name())
		return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to write %s", s.dest), err)
	}
	return nil
}

func (s *fileSink) Location() string {
	return s.dest
}

// StorageSinkFactory stages parts on local disk and uploads each one on close.
type StorageSinkFactory struct {
	Storage storage.Storage
	// Prefix is prepended to the part name to form the object key.
	Prefix string
	// TempDir holds staged parts; empty means os.TempDir().
	TempDir string
	// Timeout bounds each upload; zero means no limit.
	Timeout time.Duration
}

func (f StorageSinkFactory) Create(name string) (Sink, error) {
	tmp, err := os.CreateTemp(f.TempDir, "report-*-"+name)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to stage report part", err)
	}
	return &storageSink{
		factory: f,
		f:       tmp,
		w:       bufio.NewWriterSize(tmp, 64*1024),
		key:     path.Join(f.Prefix, name),
	}, nil
}

type storageSink struct {
	factory StorageSinkFactory
	f       *os.File
	w       *bufio.Writer
	key     string
}

func (s *storageSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *storageSink) Close() error {
	defer os.Remove(s.f.Name())

	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to stage %s", s.key), err)
	}

	ctx := context.Background()
	if s.factory.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.factory.Timeout)
		defer cancel()
	}
	if err := s.factory.Storage.UploadFile(ctx, s.key, s.f.Name()); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to upload %s", s.key), err)
	}
	return nil
}

func (s *storageSink) Location() string {
	if url := s.factory.Storage.GetURL(s.key); url != "" {
		return url
	}
	return s.key
}
