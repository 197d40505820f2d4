// Package contenttype sniffs class files, execution data and their containers,
// and walks nested archives and compressed streams down to the leaf content.
package contenttype

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"

	"github.com/coverage-analysis/pkg/compression"
)

// Type is a detected content type.
type Type int

const (
	Unknown Type = iota
	Class
	Exec
	Zip
	Gzip
	Zstd
)

func (t Type) String() string {
	switch t {
	case Class:
		return "class"
	case Exec:
		return "exec"
	case Zip:
		return "zip"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// IsContainer reports whether t wraps other content.
func (t Type) IsContainer() bool {
	return t == Zip || t == Gzip || t == Zstd
}

// HeaderLength is the number of leading bytes Detect looks at.
const HeaderLength = 8

// MaxDepth bounds container nesting.
const MaxDepth = 16

// ErrTooDeep is returned for containers nested deeper than MaxDepth.
var ErrTooDeep = errors.New("containers nested too deeply")

// Detect classifies content from its first bytes.
func Detect(header []byte) Type {
	if len(header) >= 8 && binary.BigEndian.Uint32(header) == 0xCAFEBABE {
		// fat Mach-O binaries share the class magic; their "version" is an arch count
		major := binary.BigEndian.Uint16(header[6:])
		if major >= 45 && major < 100 {
			return Class
		}
		return Unknown
	}
	if len(header) >= 3 && header[0] == 0x01 && header[1] == 0xC0 && header[2] == 0xC0 {
		return Exec
	}
	if len(header) >= 4 && header[0] == 'P' && header[1] == 'K' &&
		((header[2] == 3 && header[3] == 4) || (header[2] == 5 && header[3] == 6)) {
		return Zip
	}
	switch compression.DetectType(header) {
	case compression.TypeGzip:
		return Gzip
	case compression.TypeZstd:
		return Zstd
	}
	return Unknown
}

// VisitFunc receives one leaf stream. origin names its location, using
// "archive@entry" for archive members. r is only valid during the call.
type VisitFunc func(origin string, t Type, r io.Reader) error

// Walk detects the content of r and recurses through containers, calling
// visit for every class and exec leaf. Unknown content is skipped.
func Walk(origin string, r io.Reader, visit VisitFunc) error {
	return walk(origin, r, visit, 0)
}

func walk(origin string, r io.Reader, visit VisitFunc, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%s: %w", origin, ErrTooDeep)
	}

	br := bufio.NewReader(r)
	header, err := br.Peek(HeaderLength)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", origin, err)
	}

	switch t := Detect(header); t {
	case Class, Exec:
		return visit(origin, t, br)
	case Zip:
		return walkZip(origin, br, visit, depth)
	case Gzip, Zstd:
		ct := compression.TypeGzip
		if t == Zstd {
			ct = compression.TypeZstd
		}
		zr, err := compression.NewReader(ct, br)
		if err != nil {
			return fmt.Errorf("%s: %w", origin, err)
		}
		defer zr.Close()
		return walk(origin, zr, visit, depth+1)
	default:
		return nil
	}
}

func walkZip(origin string, r io.Reader, visit VisitFunc, depth int) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%s: %w", origin, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%s: %w", origin, err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := walkZipEntry(origin+"@"+f.Name, f, visit, depth); err != nil {
			return err
		}
	}
	return nil
}

func walkZipEntry(origin string, f *zip.File, visit VisitFunc, depth int) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%s: %w", origin, err)
	}
	defer rc.Close()
	return walk(origin, rc, visit, depth+1)
}

// WalkPath walks a file or, recursively in lexical order, a directory.
func WalkPath(path string, visit VisitFunc) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return walkFile(path, visit)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		if err := walkFile(f, visit); err != nil {
			return err
		}
	}
	return nil
}

func walkFile(path string, visit VisitFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Walk(path, f, visit)
}
