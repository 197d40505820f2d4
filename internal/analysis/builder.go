package analysis

import (
	"fmt"

	"github.com/coverage-analysis/internal/classfile"
)

// labelInfo carries the control flow facts of one label. A label is a
// bytecode offset that starts a line, is a jump or switch target, or bounds
// an exception range.
type labelInfo struct {
	target         bool
	successor      bool
	multiTarget    bool
	invocationLine bool
}

func (l *labelInfo) setTarget() {
	if l.target || l.successor {
		l.multiTarget = true
	} else {
		l.target = true
	}
}

func (l *labelInfo) setSuccessor() {
	l.successor = true
	if l.target {
		l.multiTarget = true
	}
}

// needsProbe reports whether the fall-through edge into the label gets its own probe.
func (l *labelInfo) needsProbe() bool {
	return l.successor && (l.multiTarget || l.invocationLine)
}

// methodFlow is the decoded body of one method with its labels.
type methodFlow struct {
	insns []classfile.Instruction
	// insnAt maps a bytecode offset to its instruction index, -1 inside operands.
	insnAt []int32
	// labels is indexed by instruction index; nil where no label starts.
	labels []*labelInfo
	// lines maps instruction index to the line starting there.
	lines map[int]int
}

func newMethodFlow(code *classfile.Code) (*methodFlow, error) {
	insns, err := classfile.Decode(code.Bytecode)
	if err != nil {
		return nil, err
	}

	f := &methodFlow{
		insns:  insns,
		insnAt: make([]int32, len(code.Bytecode)+1),
		labels: make([]*labelInfo, len(insns)),
		lines:  make(map[int]int),
	}
	for i := range f.insnAt {
		f.insnAt[i] = NoInstruction
	}
	for i, in := range insns {
		f.insnAt[in.Offset] = int32(i)
	}

	// ASM visits line entries in table order, so the last entry for an offset wins.
	for _, ln := range code.LineNumbers {
		if idx := f.at(ln.StartPC); idx >= 0 {
			f.lines[idx] = ln.Line
			f.label(idx)
		}
	}
	for _, h := range code.ExceptionTable {
		if f.at(h.StartPC) < 0 || f.at(h.HandlerPC) < 0 {
			return nil, fmt.Errorf("exception range [%d,%d) -> %d does not start on an instruction",
				h.StartPC, h.EndPC, h.HandlerPC)
		}
		if idx := f.at(h.EndPC); idx >= 0 {
			f.label(idx)
		}
	}
	f.markLabels(code.ExceptionTable)
	return f, nil
}

func (f *methodFlow) at(offset int) int {
	if offset < 0 || offset >= len(f.insnAt) {
		return NoInstruction
	}
	return int(f.insnAt[offset])
}

func (f *methodFlow) label(idx int) *labelInfo {
	if f.labels[idx] == nil {
		f.labels[idx] = &labelInfo{}
	}
	return f.labels[idx]
}

// switchTargets returns the distinct instruction indexes of a switch, default first.
func (f *methodFlow) switchTargets(in *classfile.Instruction) []int {
	seen := make(map[int]struct{}, len(in.Targets))
	out := make([]int, 0, len(in.Targets))
	for _, off := range in.Targets {
		idx := f.at(off)
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}

// markLabels computes target, successor and multi-target flags in one pass
// over the instructions. Every branch target gets its label up front so a
// backward target is seen as a successor of the instruction before it.
func (f *methodFlow) markLabels(handlers []classfile.ExceptionHandler) {
	for i := len(handlers) - 1; i >= 0; i-- {
		// A try block start that is already a successor becomes multi-target
		// and therefore gets a probe.
		f.label(f.at(handlers[i].StartPC)).setTarget()
		f.label(f.at(handlers[i].HandlerPC)).setTarget()
	}
	for i := range f.insns {
		in := &f.insns[i]
		switch in.Kind {
		case classfile.KindJump:
			f.label(f.at(in.Targets[0]))
		case classfile.KindSwitch:
			for _, idx := range f.switchTargets(in) {
				f.label(idx)
			}
		}
	}

	successor := false
	first := true
	lineStart := NoInstruction
	for i := range f.insns {
		in := &f.insns[i]
		if l := f.labels[i]; l != nil {
			if first {
				l.setTarget()
			}
			if successor {
				l.setSuccessor()
			}
		}
		if _, ok := f.lines[i]; ok {
			lineStart = i
		}

		switch in.Kind {
		case classfile.KindJump:
			f.label(f.at(in.Targets[0])).setTarget()
			successor = !in.IsGoto()
		case classfile.KindSwitch:
			for _, idx := range f.switchTargets(in) {
				f.label(idx).setTarget()
			}
			successor = false
		case classfile.KindExit:
			successor = false
		case classfile.KindInvoke:
			if lineStart >= 0 {
				f.labels[lineStart].invocationLine = true
			}
			successor = true
		default:
			successor = true
		}
		first = false
	}
}

type jump struct {
	source int32
	target int32
	branch int32
}

// arenaBuilder accumulates the instructions and probes of all methods of a class.
type arenaBuilder struct {
	insns  []Instruction
	probes []ProbePoint
}

func (b *arenaBuilder) reserve(insn, branch int32) {
	if branch+1 > b.insns[insn].BranchSlots {
		b.insns[insn].BranchSlots = branch + 1
	}
}

func (b *arenaBuilder) addProbe(insn, branch int32) {
	b.probes = append(b.probes, ProbePoint{Insn: insn, Branch: branch})
	if insn == NoInstruction {
		return
	}
	b.insns[insn].Branches++
	b.reserve(insn, branch)
}

func (b *arenaBuilder) link(source, target, branch int32) {
	b.insns[source].Branches++
	b.reserve(source, branch)
	b.insns[target].Predecessor = source
	b.insns[target].PredecessorBranch = branch
}

// addMethod appends one method body. Probe ids are assigned in instruction
// order: before a label whose fall-through needs one, on a jump to a
// multi-target label, per distinct multi-target switch label, and before
// every return or throw.
func (b *arenaBuilder) addMethod(f *methodFlow) {
	base := int32(len(b.insns))
	current := int32(NoInstruction)
	line := int32(UnknownLine)
	var jumps []jump

	for i := range f.insns {
		in := &f.insns[i]
		if l := f.labels[i]; l != nil {
			if l.needsProbe() {
				b.addProbe(current, 0)
				current = NoInstruction
			}
			if !l.successor {
				current = NoInstruction
			}
		}
		if nr, ok := f.lines[i]; ok {
			line = int32(nr)
		}

		idx := base + int32(i)
		b.insns = append(b.insns, Instruction{
			Line:        line,
			Predecessor: NoInstruction,
		})
		if current != NoInstruction {
			b.link(current, idx, 0)
		}
		current = idx

		switch in.Kind {
		case classfile.KindJump:
			branch := int32(1)
			if in.IsGoto() {
				branch = 0
			}
			target := f.at(in.Targets[0])
			if f.labels[target].multiTarget {
				b.addProbe(idx, branch)
			} else {
				jumps = append(jumps, jump{source: idx, target: base + int32(target), branch: branch})
			}
			if in.IsGoto() {
				current = NoInstruction
			}
		case classfile.KindSwitch:
			for branch, target := range f.switchTargets(in) {
				if f.labels[target].multiTarget {
					b.addProbe(idx, int32(branch))
				} else {
					jumps = append(jumps, jump{source: idx, target: base + int32(target), branch: int32(branch)})
				}
			}
			current = NoInstruction
		case classfile.KindExit:
			b.addProbe(idx, 0)
			current = NoInstruction
		}
	}

	for _, j := range jumps {
		b.link(j.source, j.target, j.branch)
	}
}

// finish lays out the flat branch overlay.
func (b *arenaBuilder) finish() int {
	slots := int32(0)
	for i := range b.insns {
		in := &b.insns[i]
		if in.Branches > in.BranchSlots {
			in.BranchSlots = in.Branches
		}
		in.BranchBase = slots
		slots += in.BranchSlots
	}
	return int(slots)
}

// lineRange returns the first and last known line of insns.
func lineRange(insns []Instruction) (int, int) {
	first, last := UnknownLine, UnknownLine
	for i := range insns {
		nr := int(insns[i].Line)
		if nr == UnknownLine {
			continue
		}
		if first == UnknownLine || nr < first {
			first = nr
		}
		if nr > last {
			last = nr
		}
	}
	return first, last
}
