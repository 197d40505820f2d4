// Package report writes per-session coverage reports incrementally, rolling
// over to a new output part after a configurable number of sessions.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/coverage-analysis/pkg/model"
)

// Encoder serializes one report part. Begin and End are called exactly once,
// around any number of WriteSession calls.
type Encoder interface {
	Begin() error
	WriteSession(g *model.CoverageGroup) error
	End() error
}

// Format is an output report format.
type Format interface {
	Name() string
	// Extension is the file suffix without the dot.
	Extension() string
	NewEncoder(w io.Writer) Encoder
	// Read parses a part written by this format.
	Read(r io.Reader) ([]*model.CoverageGroup, error)
}

// Format names accepted by ParseFormat.
const (
	FormatXML  = "xml"
	FormatJSON = "json"
)

// ParseFormat returns the format registered under name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FormatXML:
		return XML{}, nil
	case FormatJSON, "testwise":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown report format: %q", name)
	}
}

// Lines returns session id -> file path -> covered lines, the view two
// reports are compared by.
func Lines(groups []*model.CoverageGroup) map[string]map[string][]int {
	out := make(map[string]map[string][]int, len(groups))
	for _, g := range groups {
		files := out[g.Session.ID]
		if files == nil {
			files = make(map[string][]int)
			out[g.Session.ID] = files
		}
		for _, f := range g.Files {
			if lines := f.CoveredLines(); len(lines) > 0 {
				files[f.Path()] = lines
			}
		}
	}
	return out
}
