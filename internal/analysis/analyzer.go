package analysis

import (
	"fmt"
	"strings"

	"github.com/coverage-analysis/internal/classfile"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
)

// Analyze decodes raw class bytes into a StructuralAnalysis. origin names the
// unit in errors (file path or archive entry). Any structural problem is
// reported as a MALFORMED_UNIT error.
func Analyze(origin string, data []byte) (*StructuralAnalysis, error) {
	return AnalyzeWithID(ComputeUnitID(data), origin, data)
}

// AnalyzeWithID is Analyze for callers that already fingerprinted the bytes.
func AnalyzeWithID(id model.UnitID, origin string, data []byte) (*StructuralAnalysis, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, apperrors.MalformedUnit(origin, err)
	}

	a := &StructuralAnalysis{
		ID:         id,
		Name:       cf.Name,
		SourceFile: cf.SourceFile,
		Methods:    make([]MethodInfo, 0, len(cf.Methods)),
	}

	b := &arenaBuilder{}
	for _, m := range cf.Methods {
		info := MethodInfo{
			Name:        m.Name,
			Descriptor:  m.Descriptor,
			AccessFlags: m.AccessFlags,
			FirstInsn:   len(b.insns),
			FirstProbe:  len(b.probes),
			Ignored:     isFiltered(m),
		}
		if m.Code != nil {
			flow, err := newMethodFlow(m.Code)
			if err != nil {
				return nil, apperrors.MalformedUnit(origin,
					fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err))
			}
			b.addMethod(flow)
		}
		info.InsnCount = len(b.insns) - info.FirstInsn
		info.ProbeCount = len(b.probes) - info.FirstProbe
		info.FirstLine, info.LastLine = lineRange(b.insns[info.FirstInsn:])
		a.Methods = append(a.Methods, info)
	}

	a.BranchSlots = b.finish()
	a.Instructions = b.insns
	a.Probes = b.probes

	a.FirstLine, a.LastLine = UnknownLine, UnknownLine
	for _, m := range a.Methods {
		if m.Ignored || m.FirstLine == UnknownLine {
			continue
		}
		if a.FirstLine == UnknownLine || m.FirstLine < a.FirstLine {
			a.FirstLine = m.FirstLine
		}
		if m.LastLine > a.LastLine {
			a.LastLine = m.LastLine
		}
	}
	return a, nil
}

// isFiltered reports methods that are instrumented but never reported:
// compiler-generated methods except lambda bodies, and bridges.
func isFiltered(m *classfile.Method) bool {
	if m.IsBridge() {
		return true
	}
	return m.IsSynthetic() && !strings.HasPrefix(m.Name, "lambda$")
}
