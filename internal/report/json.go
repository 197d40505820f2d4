package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/coverage-analysis/pkg/model"
)

// JSON writes the testwise format: one entry per session listing the
// compressed covered line ranges of every file with coverage.
type JSON struct{}

func (JSON) Name() string      { return FormatJSON }
func (JSON) Extension() string { return "json" }

func (JSON) NewEncoder(w io.Writer) Encoder {
	return &jsonEncoder{w: w}
}

type jsonTest struct {
	Test  string     `json:"test"`
	Files []jsonFile `json:"files"`
}

type jsonFile struct {
	FileName     string `json:"fileName"`
	CoveredLines string `json:"coveredLines"`
}

type jsonEncoder struct {
	w       io.Writer
	written int
}

func (e *jsonEncoder) Begin() error {
	_, err := io.WriteString(e.w, "[")
	return err
}

func (e *jsonEncoder) WriteSession(g *model.CoverageGroup) error {
	entry := jsonTest{Test: g.Session.ID, Files: []jsonFile{}}
	for _, f := range g.Files {
		lines := f.CoveredLines()
		if len(lines) == 0 {
			continue
		}
		entry.Files = append(entry.Files, jsonFile{
			FileName:     f.Path(),
			CoveredLines: model.FormatLineRanges(lines),
		})
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	sep := "\n"
	if e.written > 0 {
		sep = ",\n"
	}
	if _, err := io.WriteString(e.w, sep); err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	e.written++
	return nil
}

func (e *jsonEncoder) End() error {
	_, err := io.WriteString(e.w, "\n]\n")
	return err
}

// Read parses a testwise JSON part. Only covered lines are represented, so
// every line read back counts as one covered instruction.
func (JSON) Read(r io.Reader) ([]*model.CoverageGroup, error) {
	var entries []jsonTest
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse JSON report: %w", err)
	}

	groups := make([]*model.CoverageGroup, 0, len(entries))
	for _, e := range entries {
		g := &model.CoverageGroup{Session: model.Session{ID: e.Test}}
		for _, f := range e.Files {
			lines, err := model.ParseLineRanges(f.CoveredLines)
			if err != nil {
				return nil, fmt.Errorf("test %s, file %s: %w", e.Test, f.FileName, err)
			}
			pkg, name := "", f.FileName
			if i := strings.LastIndexByte(f.FileName, '/'); i >= 0 {
				pkg, name = f.FileName[:i], f.FileName[i+1:]
			}
			fc := model.NewFileCoverage(pkg, name)
			for _, nr := range lines {
				fc.Line(nr).CoveredInstructions = 1
			}
			g.Files = append(g.Files, fc)
		}
		groups = append(groups, g)
	}
	return groups, nil
}
