package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSubroutine is returned for jsr/ret, which the analysis does not support.
var ErrSubroutine = errors.New("subroutines (jsr/ret) are not supported")

// Kind classifies an instruction by its effect on control flow.
type Kind uint8

const (
	// KindPlain falls through to the next instruction.
	KindPlain Kind = iota
	// KindInvoke is a method or invokedynamic call; it falls through.
	KindInvoke
	// KindJump is a conditional jump or goto with one target.
	KindJump
	// KindSwitch is a tableswitch or lookupswitch.
	KindSwitch
	// KindExit is a return or athrow.
	KindExit
)

// Selected opcodes.
const (
	OpNop             = 0x00
	OpIfeq            = 0x99
	OpIfIcmpge        = 0xa2
	OpGoto            = 0xa7
	OpJsr             = 0xa8
	OpRet             = 0xa9
	OpTableswitch     = 0xaa
	OpLookupswitch    = 0xab
	OpIreturn         = 0xac
	OpReturn          = 0xb1
	OpInvokevirtual   = 0xb6
	OpInvokespecial   = 0xb7
	OpInvokestatic    = 0xb8
	OpInvokeinterface = 0xb9
	OpInvokedynamic   = 0xba
	OpAthrow          = 0xbf
	OpWide            = 0xc4
	OpIfnull          = 0xc6
	OpIfnonnull       = 0xc7
	OpGotoW           = 0xc8
	OpJsrW            = 0xc9
	OpIinc            = 0x84
)

// Instruction is one decoded bytecode instruction.
//
// For KindJump, Targets holds the single target offset. For KindSwitch,
// Targets[0] is the default target followed by the case targets in table order.
type Instruction struct {
	Offset  int
	Opcode  uint8
	Kind    Kind
	Targets []int
}

// IsGoto reports whether the instruction is an unconditional jump.
func (i *Instruction) IsGoto() bool {
	return i.Opcode == OpGoto || i.Opcode == OpGotoW
}

// operandLen holds the fixed operand length of each opcode, -1 for invalid
// opcodes and -2 for the variable-length switch and wide instructions.
var operandLen [256]int8

func init() {
	for i := range operandLen {
		operandLen[i] = -1
	}
	set := func(from, to int, n int8) {
		for op := from; op <= to; op++ {
			operandLen[op] = n
		}
	}
	set(0x00, 0x0f, 0) // constants
	set(0x10, 0x10, 1) // bipush
	set(0x11, 0x11, 2) // sipush
	set(0x12, 0x12, 1) // ldc
	set(0x13, 0x14, 2) // ldc_w, ldc2_w
	set(0x15, 0x19, 1) // loads
	set(0x1a, 0x35, 0)
	set(0x36, 0x3a, 1) // stores
	set(0x3b, 0x83, 0)
	set(0x84, 0x84, 2) // iinc
	set(0x85, 0x98, 0)
	set(0x99, 0xa8, 2) // if*, goto, jsr
	set(0xa9, 0xa9, 1) // ret
	set(0xaa, 0xab, -2)
	set(0xac, 0xb1, 0) // returns
	set(0xb2, 0xb8, 2) // field access, invokes
	set(0xb9, 0xba, 4) // invokeinterface, invokedynamic
	set(0xbb, 0xbb, 2) // new
	set(0xbc, 0xbc, 1) // newarray
	set(0xbd, 0xbd, 2) // anewarray
	set(0xbe, 0xbf, 0) // arraylength, athrow
	set(0xc0, 0xc1, 2) // checkcast, instanceof
	set(0xc2, 0xc3, 0) // monitors
	set(0xc4, 0xc4, -2)
	set(0xc5, 0xc5, 3) // multianewarray
	set(0xc6, 0xc7, 2) // ifnull, ifnonnull
	set(0xc8, 0xc9, 4) // goto_w, jsr_w
}

func kindOf(op uint8) Kind {
	switch {
	case op >= OpIfeq && op <= OpGoto, op == OpIfnull, op == OpIfnonnull, op == OpGotoW:
		return KindJump
	case op == OpTableswitch || op == OpLookupswitch:
		return KindSwitch
	case op >= OpIreturn && op <= OpReturn, op == OpAthrow:
		return KindExit
	case op >= OpInvokevirtual && op <= OpInvokedynamic:
		return KindInvoke
	default:
		return KindPlain
	}
}

// Decode splits a method's bytecode into instructions. Jump and switch
// targets are validated against instruction boundaries.
func Decode(code []byte) ([]Instruction, error) {
	insns := make([]Instruction, 0, len(code)/2)
	starts := make(map[int]struct{}, len(code)/2)

	for pc := 0; pc < len(code); {
		op := code[pc]
		insn := Instruction{Offset: pc, Opcode: op, Kind: kindOf(op)}
		starts[pc] = struct{}{}

		var size int
		switch op {
		case OpJsr, OpJsrW, OpRet:
			return nil, fmt.Errorf("%w: opcode 0x%02x at offset %d", ErrSubroutine, op, pc)
		case OpWide:
			if pc+1 >= len(code) {
				return nil, fmt.Errorf("%w: wide at offset %d", ErrTruncated, pc)
			}
			switch code[pc+1] {
			case OpIinc:
				size = 6
			case OpRet:
				return nil, fmt.Errorf("%w: wide ret at offset %d", ErrSubroutine, pc)
			case 0x15, 0x16, 0x17, 0x18, 0x19, 0x36, 0x37, 0x38, 0x39, 0x3a:
				size = 4
			default:
				return nil, fmt.Errorf("invalid wide opcode 0x%02x at offset %d", code[pc+1], pc)
			}
		case OpTableswitch, OpLookupswitch:
			targets, n, err := decodeSwitch(code, pc)
			if err != nil {
				return nil, err
			}
			insn.Targets = targets
			size = n
		default:
			n := operandLen[op]
			if n < 0 {
				return nil, fmt.Errorf("invalid opcode 0x%02x at offset %d", op, pc)
			}
			size = 1 + int(n)
		}

		if pc+size > len(code) {
			return nil, fmt.Errorf("%w: instruction at offset %d", ErrTruncated, pc)
		}
		if insn.Kind == KindJump {
			var rel int
			if op == OpGotoW {
				rel = int(int32(binary.BigEndian.Uint32(code[pc+1:])))
			} else {
				rel = int(int16(binary.BigEndian.Uint16(code[pc+1:])))
			}
			insn.Targets = []int{pc + rel}
		}

		insns = append(insns, insn)
		pc += size
	}

	for i := range insns {
		for _, t := range insns[i].Targets {
			if _, ok := starts[t]; !ok {
				return nil, fmt.Errorf("branch target %d of instruction at offset %d is not an instruction boundary",
					t, insns[i].Offset)
			}
		}
	}
	return insns, nil
}

// decodeSwitch returns the absolute targets (default first) and the total
// instruction size including alignment padding.
func decodeSwitch(code []byte, pc int) ([]int, int, error) {
	r := newReader(code)
	r.pos = pc + 1
	// operands start at the next multiple of four from the method start
	if err := r.skip((4 - r.pos%4) % 4); err != nil {
		return nil, 0, err
	}
	readS4 := func() (int, error) {
		v, err := r.u4()
		return int(int32(v)), err
	}

	dflt, err := readS4()
	if err != nil {
		return nil, 0, err
	}
	targets := []int{pc + dflt}

	if code[pc] == OpTableswitch {
		low, err := readS4()
		if err != nil {
			return nil, 0, err
		}
		high, err := readS4()
		if err != nil {
			return nil, 0, err
		}
		if high < low {
			return nil, 0, fmt.Errorf("tableswitch at offset %d: high %d < low %d", pc, high, low)
		}
		n := high - low + 1
		if err := r.need(n * 4); err != nil {
			return nil, 0, err
		}
		for i := 0; i < n; i++ {
			off, _ := readS4()
			targets = append(targets, pc+off)
		}
	} else {
		npairs, err := readS4()
		if err != nil {
			return nil, 0, err
		}
		if npairs < 0 {
			return nil, 0, fmt.Errorf("lookupswitch at offset %d: negative pair count", pc)
		}
		if err := r.need(npairs * 8); err != nil {
			return nil, 0, err
		}
		for i := 0; i < npairs; i++ {
			_, _ = readS4()
			off, _ := readS4()
			targets = append(targets, pc+off)
		}
	}
	return targets, r.pos - pc, nil
}
