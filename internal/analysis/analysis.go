// Package analysis derives the static line, branch and probe topology of a
// compiled class: the structure against which execution data is replayed.
package analysis

import (
	"strings"

	"github.com/coverage-analysis/pkg/model"
)

// UnknownLine marks instructions without line number information.
const UnknownLine = -1

// NoInstruction is the index used when a link has no target.
const NoInstruction = -1

// Instruction is one bytecode instruction in the analysis arena.
type Instruction struct {
	// Line is the source line or UnknownLine.
	Line int32
	// Branches is the number of outgoing edges counted for branch coverage.
	Branches int32
	// Predecessor is the index of the instruction whose coverage this one
	// implies, or NoInstruction.
	Predecessor int32
	// PredecessorBranch is the branch of Predecessor that leads here.
	PredecessorBranch int32
	// BranchBase is the first slot of this instruction in the flat branch overlay.
	BranchBase int32
	// BranchSlots is the number of overlay slots reserved for this instruction.
	BranchSlots int32
}

// ProbePoint attaches a probe to a branch of an instruction.
type ProbePoint struct {
	Insn   int32
	Branch int32
}

// MethodInfo describes where a method lives in the arena.
type MethodInfo struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
	FirstInsn   int
	InsnCount   int
	FirstProbe  int
	ProbeCount  int
	FirstLine   int
	LastLine    int
	// Ignored methods keep their probes but do not contribute lines.
	Ignored bool
}

// StructuralAnalysis is the immutable execution-independent analysis of one class.
// It is shared between concurrent reconstructions and must not be modified.
type StructuralAnalysis struct {
	ID           model.UnitID
	Name         string
	SourceFile   string
	Instructions []Instruction
	Probes       []ProbePoint
	Methods      []MethodInfo
	FirstLine    int
	LastLine     int
	// BranchSlots is the total size of the flat branch overlay.
	BranchSlots int
}

// ProbeCount returns the number of probes the class is instrumented with.
func (a *StructuralAnalysis) ProbeCount() int {
	return len(a.Probes)
}

// Package returns the VM package name of the class ("" for the default package).
func (a *StructuralAnalysis) Package() string {
	if i := strings.LastIndexByte(a.Name, '/'); i >= 0 {
		return a.Name[:i]
	}
	return ""
}
