// Package coverage replays execution records against cached structural
// analyses and aggregates the result per source file.
package coverage

import (
	"fmt"
	"sort"

	"github.com/coverage-analysis/internal/analysis"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
)

// Lookup finds the analysis of a unit. The cache's Lookup method satisfies it.
type Lookup func(id model.UnitID) (*analysis.StructuralAnalysis, bool)

// Reconstructor turns execution records into line coverage. It holds no
// per-call state and may be shared between goroutines.
type Reconstructor struct{}

// NewReconstructor creates a reconstructor.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{}
}

// Reconstruct computes the line coverage of one unit. The hit vector must be
// at least as long as the unit's probe count; extra entries are ignored.
func (r *Reconstructor) Reconstruct(rec *model.ExecutionRecord, a *analysis.StructuralAnalysis) (*model.FileCoverage, error) {
	if rec.ID != a.ID {
		return nil, apperrors.New(apperrors.CodeInvalidInput,
			fmt.Sprintf("execution data of %s (%s) does not belong to %s (%s)", rec.Name, rec.ID, a.Name, a.ID))
	}
	if rec.ProbeCount() < a.ProbeCount() {
		return nil, apperrors.ProbeCountMismatch(a.Name, a.ProbeCount(), rec.ProbeCount())
	}

	fc := model.NewFileCoverage(a.Package(), a.SourceFile)
	if len(a.Instructions) == 0 {
		return fc, nil
	}

	o := analysis.NewOverlay(a)
	defer o.Release()
	o.Apply(rec.Probes)

	for _, m := range a.Methods {
		if m.Ignored {
			continue
		}
		for i := m.FirstInsn; i < m.FirstInsn+m.InsnCount; i++ {
			in := &a.Instructions[i]
			if in.Line == analysis.UnknownLine {
				continue
			}
			addInstruction(fc.Line(int(in.Line)), in, o.Covered(i), o.CoveredBranches(i))
		}
	}
	return fc, nil
}

func addInstruction(c *model.LineCounter, in *analysis.Instruction, covered bool, coveredBranches int) {
	if covered {
		c.CoveredInstructions++
	} else {
		c.MissedInstructions++
	}
	if in.Branches > 1 {
		branches := int(in.Branches)
		if coveredBranches > branches {
			coveredBranches = branches
		}
		c.CoveredBranches += coveredBranches
		c.MissedBranches += branches - coveredBranches
	}
}

// Result is the aggregated coverage of one session.
type Result struct {
	// Files is sorted by path.
	Files []*model.FileCoverage
	// Missing holds the sorted names of units without an analysis.
	Missing []string
}

// Aggregate reconstructs every record with hits and merges units that share
// a source file. Units without source file information are skipped; units
// without an analysis are reported in Missing.
func (r *Reconstructor) Aggregate(records []*model.ExecutionRecord, lookup Lookup) (*Result, error) {
	byPath := make(map[string]*model.FileCoverage)
	missing := make(map[string]struct{})

	for _, rec := range records {
		if rec.Probes == nil || !rec.Probes.Any() {
			continue
		}
		a, ok := lookup(rec.ID)
		if !ok {
			missing[rec.Name] = struct{}{}
			continue
		}
		if a.SourceFile == "" {
			continue
		}
		fc, err := r.Reconstruct(rec, a)
		if err != nil {
			return nil, err
		}
		if existing, ok := byPath[fc.Path()]; ok {
			existing.Merge(fc)
		} else {
			byPath[fc.Path()] = fc
		}
	}

	res := &Result{
		Files:   make([]*model.FileCoverage, 0, len(byPath)),
		Missing: make([]string, 0, len(missing)),
	}
	for _, fc := range byPath {
		res.Files = append(res.Files, fc)
	}
	sort.Slice(res.Files, func(i, j int) bool {
		return res.Files[i].Path() < res.Files[j].Path()
	})
	for name := range missing {
		res.Missing = append(res.Missing, name)
	}
	sort.Strings(res.Missing)
	return res, nil
}
