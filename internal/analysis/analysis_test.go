package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverage-analysis/internal/classfile"
	"github.com/coverage-analysis/internal/testutil"
	"github.com/coverage-analysis/pkg/collections"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
)

const (
	opIconst0 = 0x03
	opIconst1 = 0x04
	opIload0  = 0x1a
	opIstore0 = 0x3b
	opAstore0 = 0x4b
	opIfeq    = 0x99
	opIfne    = 0x9a
	opGoto    = 0xa7
	opIreturn = 0xac
	opReturn  = 0xb1
)

func analyzeMethod(t *testing.T, code *testutil.CodeBuilder) *StructuralAnalysis {
	t.Helper()
	data := testutil.NewClass("com/example/Foo").
		Source("Foo.java").
		Method(classfile.AccStatic, "m", "(I)V", code).
		Bytes()
	a, err := Analyze("Foo.class", data)
	require.NoError(t, err)
	return a
}

// covered replays the given probes and returns the covered flag and covered
// branch count of every instruction.
func covered(a *StructuralAnalysis, probes ...int) ([]bool, []int) {
	o := NewOverlay(a)
	defer o.Release()
	for _, p := range probes {
		o.MarkProbe(p)
	}
	flags := make([]bool, len(a.Instructions))
	branches := make([]int, len(a.Instructions))
	for i := range a.Instructions {
		flags[i] = o.Covered(i)
		branches[i] = o.CoveredBranches(i)
	}
	return flags, branches
}

func TestComputeUnitID(t *testing.T) {
	assert.Equal(t, model.UnitID(0), ComputeUnitID(nil))
	assert.Equal(t, model.UnitID(0), ComputeUnitID([]byte{0, 0, 0}))
	// table[1] of the reflected ISO polynomial
	assert.Equal(t, model.UnitID(0x01B0000000000000), ComputeUnitID([]byte{1}))

	java8 := testutil.NewClass("A").Version(52).Bytes()
	java9 := testutil.NewClass("A").Version(53).Bytes()
	java10 := testutil.NewClass("A").Version(54).Bytes()
	assert.Equal(t, ComputeUnitID(java8), ComputeUnitID(java9))
	assert.NotEqual(t, ComputeUnitID(java8), ComputeUnitID(java10))

	other := testutil.NewClass("B").Bytes()
	assert.NotEqual(t, ComputeUnitID(java8), ComputeUnitID(other))
}

func TestAnalyze_StraightLine(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Invoke().
		Line(2).Op(opReturn))

	assert.Equal(t, "com/example/Foo", a.Name)
	assert.Equal(t, "com/example", a.Package())
	assert.Equal(t, "Foo.java", a.SourceFile)
	assert.Equal(t, 1, a.ProbeCount())
	require.Len(t, a.Instructions, 2)
	assert.Equal(t, int32(0), a.Instructions[1].Predecessor)
	assert.Equal(t, 1, a.FirstLine)
	assert.Equal(t, 2, a.LastLine)

	flags, _ := covered(a, 0)
	assert.Equal(t, []bool{true, true}, flags)
}

func TestAnalyze_MethodInvocationLineGetsProbe(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIconst0).Op(opIstore0).
		Line(2).Invoke().
		Line(3).Op(opReturn))

	require.Equal(t, 2, a.ProbeCount())
	assert.Equal(t, ProbePoint{Insn: 1, Branch: 0}, a.Probes[0])
	assert.Equal(t, ProbePoint{Insn: 3, Branch: 0}, a.Probes[1])
	assert.Equal(t, int32(NoInstruction), a.Instructions[2].Predecessor)

	// the invocation threw: only the code before it ran
	flags, _ := covered(a, 0)
	assert.Equal(t, []bool{true, true, false, false}, flags)

	flags, _ = covered(a, 1)
	assert.Equal(t, []bool{false, false, true, true}, flags)
}

func TestAnalyze_IfElse(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIload0).Jump(opIfeq, "else").
		Line(2).Op(opIconst1).Op(opIreturn).
		Label("else").Line(3).Op(opIconst0).Op(opIreturn))

	require.Equal(t, 2, a.ProbeCount())
	require.Len(t, a.Instructions, 6)
	assert.Equal(t, int32(2), a.Instructions[1].Branches)
	assert.Equal(t, int32(1), a.Instructions[4].Predecessor)
	assert.Equal(t, int32(1), a.Instructions[4].PredecessorBranch)

	flags, branches := covered(a, 0)
	assert.Equal(t, []bool{true, true, true, true, false, false}, flags)
	assert.Equal(t, 1, branches[1])

	flags, branches = covered(a, 0, 1)
	assert.Equal(t, []bool{true, true, true, true, true, true}, flags)
	assert.Equal(t, 2, branches[1])
}

func TestAnalyze_LoopHeadIsMultiTarget(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIconst0).Op(opIstore0).
		Label("head").Line(2).Op(opIload0).Jump(opIfne, "end").
		Op(0x84, 0, 1). // iinc
		Jump(opGoto, "head").
		Label("end").Line(3).Op(opReturn))

	// label probe into the loop head, probe on the back edge, probe at return
	require.Equal(t, 3, a.ProbeCount())
	assert.Equal(t, ProbePoint{Insn: 1, Branch: 0}, a.Probes[0])
	assert.Equal(t, ProbePoint{Insn: 5, Branch: 0}, a.Probes[1])
	assert.Equal(t, ProbePoint{Insn: 6, Branch: 0}, a.Probes[2])

	flags, branches := covered(a, 0, 2)
	assert.Equal(t, []bool{true, true, true, true, false, false, true}, flags)
	assert.Equal(t, 1, branches[3])

	flags, branches = covered(a, 0, 1, 2)
	assert.Equal(t, []bool{true, true, true, true, true, true, true}, flags)
	assert.Equal(t, 2, branches[3])
}

func TestAnalyze_BackwardTargetWithoutLine(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIconst0).Op(opIstore0).
		Label("loop").Op(0x84, 0, 1). // iinc
		Op(opIload0).Jump(opIfne, "loop").
		Op(opReturn))

	// the loop head is a successor and a target, so both edges into it get probes
	require.Equal(t, 3, a.ProbeCount())
	require.Len(t, a.Instructions, 6)
	assert.Equal(t, ProbePoint{Insn: 1, Branch: 0}, a.Probes[0])
	assert.Equal(t, ProbePoint{Insn: 4, Branch: 1}, a.Probes[1])
	assert.Equal(t, ProbePoint{Insn: 5, Branch: 0}, a.Probes[2])
	assert.Equal(t, int32(NoInstruction), a.Instructions[2].Predecessor)
	assert.Equal(t, int32(4), a.Instructions[5].Predecessor)
	assert.Equal(t, int32(2), a.Instructions[4].Branches)

	// entered the loop once and left it
	flags, branches := covered(a, 0, 2)
	assert.Equal(t, []bool{true, true, true, true, true, true}, flags)
	assert.Equal(t, 1, branches[4])

	flags, branches = covered(a, 0, 1, 2)
	assert.Equal(t, []bool{true, true, true, true, true, true}, flags)
	assert.Equal(t, 2, branches[4])

	// the method never got past the loop
	flags, _ = covered(a, 0)
	assert.Equal(t, []bool{true, true, false, false, false, false}, flags)
}

func TestAnalyze_BackwardSwitchTargetWithoutLine(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIconst0).Op(opIstore0).
		Label("head").Op(opIload0).
		TableSwitch(0, "end", "head").
		Label("end").Op(opReturn))

	require.Equal(t, 3, a.ProbeCount())
	require.Len(t, a.Instructions, 5)
	assert.Equal(t, ProbePoint{Insn: 1, Branch: 0}, a.Probes[0])
	assert.Equal(t, ProbePoint{Insn: 3, Branch: 1}, a.Probes[1])
	assert.Equal(t, ProbePoint{Insn: 4, Branch: 0}, a.Probes[2])
	assert.Equal(t, int32(2), a.Instructions[3].Branches)
	assert.Equal(t, int32(NoInstruction), a.Instructions[2].Predecessor)
	assert.Equal(t, int32(3), a.Instructions[4].Predecessor)
	assert.Equal(t, int32(0), a.Instructions[4].PredecessorBranch)

	flags, branches := covered(a, 0, 2)
	assert.Equal(t, []bool{true, true, true, true, true}, flags)
	assert.Equal(t, 1, branches[3])

	_, branches = covered(a, 0, 1, 2)
	assert.Equal(t, 2, branches[3])
}

func TestAnalyze_SwitchWithSharedTargets(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIload0).
		TableSwitch(0, "a", "a", "b", "a").
		Label("a").Line(2).Op(opReturn).
		Label("b").Line(3).Op(opReturn))

	require.Equal(t, 2, a.ProbeCount())
	assert.Equal(t, int32(2), a.Instructions[1].Branches)
	assert.Equal(t, int32(0), a.Instructions[2].PredecessorBranch)
	assert.Equal(t, int32(1), a.Instructions[3].PredecessorBranch)

	flags, branches := covered(a, 1)
	assert.Equal(t, []bool{true, true, false, true}, flags)
	assert.Equal(t, 1, branches[1])
}

func TestAnalyze_MultiTargetSwitchLabel(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIload0).Jump(opIfeq, "b").
		Op(opIload0).
		LookupSwitch("a", "b").
		Label("a").Line(2).Op(opReturn).
		Label("b").Line(3).Op(opReturn))

	require.Equal(t, 4, a.ProbeCount())
	assert.Equal(t, ProbePoint{Insn: 1, Branch: 1}, a.Probes[0])
	assert.Equal(t, ProbePoint{Insn: 3, Branch: 1}, a.Probes[1])
	assert.Equal(t, int32(NoInstruction), a.Instructions[5].Predecessor)

	flags, branches := covered(a, 1, 3)
	assert.Equal(t, []bool{true, true, true, true, false, true}, flags)
	assert.Equal(t, 1, branches[1])
	assert.Equal(t, 1, branches[3])
}

func TestAnalyze_TryCatch(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Label("try").Line(1).Invoke().
		Label("tryEnd").Jump(opGoto, "end").
		Label("handler").Line(2).Op(opAstore0).
		Label("end").Line(3).Op(opReturn).
		Try("try", "tryEnd", "handler"))

	require.Equal(t, 3, a.ProbeCount())
	assert.Equal(t, ProbePoint{Insn: 1, Branch: 0}, a.Probes[0])
	assert.Equal(t, ProbePoint{Insn: 2, Branch: 0}, a.Probes[1])

	flags, _ := covered(a, 0, 2)
	assert.Equal(t, []bool{true, true, false, true}, flags)

	flags, _ = covered(a, 1, 2)
	assert.Equal(t, []bool{false, false, true, true}, flags)
}

func TestAnalyze_ProbeIDsSpanMethods(t *testing.T) {
	data := testutil.NewClass("p/Multi").
		Source("Multi.java").
		Method(classfile.AccStatic, "a", "()V", testutil.NewCode().Line(1).Op(opReturn)).
		Method(classfile.AccAbstract, "b", "()V", nil).
		Method(classfile.AccStatic|classfile.AccSynthetic, "access$000", "()V", testutil.NewCode().Line(5).Op(opReturn)).
		Method(classfile.AccStatic|classfile.AccSynthetic, "lambda$run$0", "()V", testutil.NewCode().Line(7).Op(opReturn)).
		Method(classfile.AccBridge|classfile.AccSynthetic, "compareTo", "(Ljava/lang/Object;)I",
			testutil.NewCode().Line(9).Op(opIconst0).Op(opIreturn)).
		Bytes()

	a, err := Analyze("Multi.class", data)
	require.NoError(t, err)

	require.Len(t, a.Methods, 5)
	assert.Equal(t, 4, a.ProbeCount())
	assert.Equal(t, []int{0, 1, 1, 2, 3}, []int{
		a.Methods[0].FirstProbe, a.Methods[1].FirstProbe, a.Methods[2].FirstProbe,
		a.Methods[3].FirstProbe, a.Methods[4].FirstProbe,
	})
	assert.Equal(t, 0, a.Methods[1].ProbeCount)
	assert.False(t, a.Methods[0].Ignored)
	assert.True(t, a.Methods[2].Ignored)
	assert.False(t, a.Methods[3].Ignored)
	assert.True(t, a.Methods[4].Ignored)

	// ignored methods do not widen the class line range
	assert.Equal(t, 1, a.FirstLine)
	assert.Equal(t, 7, a.LastLine)
}

func TestAnalyze_Malformed(t *testing.T) {
	t.Run("not a class", func(t *testing.T) {
		_, err := Analyze("junk.class", []byte("not a class file"))
		require.Error(t, err)
		assert.True(t, apperrors.IsMalformedUnit(err))
		assert.Contains(t, err.Error(), "junk.class")
	})

	t.Run("subroutine", func(t *testing.T) {
		data := testutil.NewClass("Old").
			Method(classfile.AccStatic, "legacy", "()V",
				testutil.NewCode().Jump(classfile.OpJsr, "sub").Op(opReturn).Label("sub").Op(opAstore0).Op(opReturn)).
			Bytes()
		_, err := Analyze("Old.class", data)
		require.Error(t, err)
		assert.True(t, apperrors.IsMalformedUnit(err))
		assert.Contains(t, err.Error(), "legacy()V")
	})
}

func TestOverlay_ResetAndApply(t *testing.T) {
	a := analyzeMethod(t, testutil.NewCode().
		Line(1).Op(opIload0).Jump(opIfeq, "else").
		Line(2).Op(opIconst1).Op(opIreturn).
		Label("else").Line(3).Op(opIconst0).Op(opIreturn))

	o := NewOverlay(a)
	defer o.Release()

	hits := make([]bool, 5) // longer than the probe count
	hits[1] = true
	hits[4] = true
	o.Apply(collections.FromBools(hits))
	assert.True(t, o.Covered(5))
	assert.False(t, o.Covered(3))

	o.Reset()
	for i := range a.Instructions {
		assert.False(t, o.Covered(i))
		assert.Equal(t, 0, o.CoveredBranches(i))
	}
}
