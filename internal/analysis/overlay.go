package analysis

import (
	"math/bits"

	"github.com/coverage-analysis/pkg/collections"
)

// Overlay is the mutable covered state of one reconstruction, laid out in
// parallel with an immutable StructuralAnalysis. Its buffer comes from a pool:
// call Release when done.
//
// The first words hold one covered bit per instruction, the rest hold the
// flat branch slots.
type Overlay struct {
	analysis  *StructuralAnalysis
	buf       *[]uint64
	insnWords int
}

// NewOverlay returns a cleared overlay for a.
func NewOverlay(a *StructuralAnalysis) *Overlay {
	insnWords := (len(a.Instructions) + 63) / 64
	branchWords := (a.BranchSlots + 63) / 64
	return &Overlay{
		analysis:  a,
		buf:       collections.GetUint64Slice(insnWords + branchWords),
		insnWords: insnWords,
	}
}

// Reset clears all covered state.
func (o *Overlay) Reset() {
	words := *o.buf
	for i := range words {
		words[i] = 0
	}
}

// Release returns the buffer to the pool. The overlay must not be used afterwards.
func (o *Overlay) Release() {
	collections.PutUint64Slice(o.buf)
	o.buf = nil
}

// Apply marks every hit probe. Probes beyond the analysis' probe count are ignored.
func (o *Overlay) Apply(hits *collections.Bitset) {
	n := len(o.analysis.Probes)
	hits.Iterate(func(id int) bool {
		if id >= n {
			return false
		}
		o.MarkProbe(id)
		return true
	})
}

// MarkProbe marks the branch owning probe id as executed and walks the
// predecessor chain. The walk stops at the first instruction that was already
// covered, whose own predecessors were marked when it was first reached, so
// a whole reconstruction touches each instruction a bounded number of times.
func (o *Overlay) MarkProbe(id int) {
	p := o.analysis.Probes[id]
	insn, branch := p.Insn, p.Branch
	for insn != NoInstruction {
		in := &o.analysis.Instructions[insn]
		wasCovered := o.Covered(int(insn))
		o.set(o.insnWords*64 + int(in.BranchBase+branch))
		o.set(int(insn))
		if wasCovered {
			return
		}
		insn, branch = in.Predecessor, in.PredecessorBranch
	}
}

// Covered reports whether instruction i was executed.
func (o *Overlay) Covered(i int) bool {
	return o.test(i)
}

// CoveredBranches returns the number of distinct executed branches of instruction i.
func (o *Overlay) CoveredBranches(i int) int {
	in := &o.analysis.Instructions[i]
	from := o.insnWords*64 + int(in.BranchBase)
	return o.count(from, from+int(in.BranchSlots))
}

func (o *Overlay) set(bit int) {
	(*o.buf)[bit/64] |= 1 << (bit % 64)
}

func (o *Overlay) test(bit int) bool {
	return (*o.buf)[bit/64]&(1<<(bit%64)) != 0
}

func (o *Overlay) count(from, to int) int {
	n := 0
	for bit := from; bit < to; {
		word := (*o.buf)[bit/64] >> (bit % 64)
		take := 64 - bit%64
		if rest := to - bit; rest < take {
			take = rest
			word &= (1 << take) - 1
		}
		n += bits.OnesCount64(word)
		bit += take
	}
	return n
}
