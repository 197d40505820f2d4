package model

import (
	"sort"
)

// LineCounter holds instruction and branch counters of one source line.
type LineCounter struct {
	MissedInstructions  int `json:"mi" xml:"mi,attr"`
	CoveredInstructions int `json:"ci" xml:"ci,attr"`
	MissedBranches      int `json:"mb" xml:"mb,attr"`
	CoveredBranches     int `json:"cb" xml:"cb,attr"`
}

// Covered reports whether at least one instruction of the line was executed.
func (c *LineCounter) Covered() bool {
	return c.CoveredInstructions > 0
}

// Add increments c by other.
func (c *LineCounter) Add(other *LineCounter) {
	c.MissedInstructions += other.MissedInstructions
	c.CoveredInstructions += other.CoveredInstructions
	c.MissedBranches += other.MissedBranches
	c.CoveredBranches += other.CoveredBranches
}

// FileCoverage is the line coverage of one source file.
// Package uses VM notation ("com/example").
type FileCoverage struct {
	Package    string
	SourceFile string
	Lines      map[int]*LineCounter
}

// NewFileCoverage creates an empty file coverage.
func NewFileCoverage(pkg, sourceFile string) *FileCoverage {
	return &FileCoverage{
		Package:    pkg,
		SourceFile: sourceFile,
		Lines:      make(map[int]*LineCounter),
	}
}

// Path returns the package-relative path of the source file.
func (f *FileCoverage) Path() string {
	if f.Package == "" {
		return f.SourceFile
	}
	return f.Package + "/" + f.SourceFile
}

// Line returns the counter for line nr, creating it on first use.
func (f *FileCoverage) Line(nr int) *LineCounter {
	c, ok := f.Lines[nr]
	if !ok {
		c = &LineCounter{}
		f.Lines[nr] = c
	}
	return c
}

// LineNumbers returns all known line numbers in ascending order.
func (f *FileCoverage) LineNumbers() []int {
	nrs := make([]int, 0, len(f.Lines))
	for nr := range f.Lines {
		nrs = append(nrs, nr)
	}
	sort.Ints(nrs)
	return nrs
}

// CoveredLines returns the covered line numbers in ascending order.
func (f *FileCoverage) CoveredLines() []int {
	nrs := make([]int, 0, len(f.Lines))
	for nr, c := range f.Lines {
		if c.Covered() {
			nrs = append(nrs, nr)
		}
	}
	sort.Ints(nrs)
	return nrs
}

// HasCoveredLines reports whether any line is covered.
func (f *FileCoverage) HasCoveredLines() bool {
	for _, c := range f.Lines {
		if c.Covered() {
			return true
		}
	}
	return false
}

// Merge adds the counters of other, which must describe the same path.
func (f *FileCoverage) Merge(other *FileCoverage) {
	for nr, c := range other.Lines {
		f.Line(nr).Add(c)
	}
}

// CoverageGroup is the coverage recorded during one session.
type CoverageGroup struct {
	Session Session
	Files   []*FileCoverage
}

// SortFiles orders files by path.
func (g *CoverageGroup) SortFiles() {
	sort.Slice(g.Files, func(i, j int) bool {
		return g.Files[i].Path() < g.Files[j].Path()
	})
}
