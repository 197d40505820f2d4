package classfile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverage-analysis/internal/testutil"
)

func TestParse_Basic(t *testing.T) {
	// iconst_0; ireturn
	code := testutil.NewCode().
		Line(3).Op(0x03).
		Line(4).Op(0xac)
	data := testutil.NewClass("com/example/Foo").
		Source("Foo.java").
		Long(42).
		Method(AccPublic|AccStatic, "answer", "()I", code).
		Method(AccPublic|AccAbstract, "todo", "()V", nil).
		Bytes()

	cf, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, uint16(52), cf.MajorVersion)
	assert.Equal(t, "com/example/Foo", cf.Name)
	assert.Equal(t, "java/lang/Object", cf.SuperName)
	assert.Equal(t, "Foo.java", cf.SourceFile)
	require.Len(t, cf.Methods, 2)

	m := cf.Methods[0]
	assert.Equal(t, "answer", m.Name)
	assert.Equal(t, "()I", m.Descriptor)
	require.NotNil(t, m.Code)
	assert.Equal(t, []byte{0x03, 0xac}, m.Code.Bytecode)
	assert.Equal(t, []LineNumber{{0, 3}, {1, 4}}, m.Code.LineNumbers)

	assert.Nil(t, cf.Methods[1].Code)
	assert.False(t, cf.IsInterface())
}

func TestParse_Errors(t *testing.T) {
	valid := testutil.NewClass("A").
		Method(AccStatic, "m", "()V", testutil.NewCode().Op(0xb1)).
		Bytes()

	t.Run("bad magic", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		data[0] = 0
		_, err := Parse(data)
		assert.ErrorContains(t, err, "bad magic")
	})

	t.Run("truncated at every length", func(t *testing.T) {
		for n := 0; n < len(valid); n++ {
			_, err := Parse(valid[:n])
			require.Error(t, err, "length %d", n)
		}
	})

	t.Run("unknown constant tag", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		data[10] = 99 // first constant pool tag
		_, err := Parse(data)
		assert.ErrorContains(t, err, "unknown constant pool tag")
	})
}

func TestDecode_OperandLengths(t *testing.T) {
	code := testutil.NewCode().
		Op(0x10, 5).                  // bipush
		Op(0x11, 0, 5).               // sipush
		Op(0x84, 1, 1).               // iinc
		Op(OpWide, 0x84, 0, 1, 0, 2). // wide iinc
		Op(OpWide, 0x15, 0, 1).       // wide iload
		Op(0xb9, 0, 1, 1, 0).         // invokeinterface
		Op(0xba, 0, 1, 0, 0).         // invokedynamic
		Op(0xc5, 0, 1, 2).            // multianewarray
		Op(0xb1).
		Bytecode()

	insns, err := Decode(code)
	require.NoError(t, err)

	offsets := make([]int, len(insns))
	for i, in := range insns {
		offsets[i] = in.Offset
	}
	assert.Equal(t, []int{0, 2, 5, 8, 14, 18, 23, 28, 32}, offsets)
	assert.Equal(t, KindInvoke, insns[5].Kind)
	assert.Equal(t, KindInvoke, insns[6].Kind)
	assert.Equal(t, KindExit, insns[8].Kind)
}

func TestDecode_JumpsAndSwitches(t *testing.T) {
	cb := testutil.NewCode().
		Op(0x1a). // iload_0
		TableSwitch(0, "dflt", "a", "b").
		Label("a").Jump(OpGoto, "end").
		Label("b").GotoW("end").
		Label("dflt").Op(0x1a).
		LookupSwitch("end", "a").
		Label("end").Op(0xb1)

	insns, err := Decode(cb.Bytecode())
	require.NoError(t, err)
	require.Len(t, insns, 7)

	ts := insns[1]
	assert.Equal(t, KindSwitch, ts.Kind)
	// tableswitch at 1 pads to 4: 1 + 2 pad + 12 + 2*4 = 23 bytes
	assert.Equal(t, 24, insns[2].Offset)
	assert.Equal(t, []int{insns[4].Offset, insns[2].Offset, insns[3].Offset}, ts.Targets)

	assert.Equal(t, KindJump, insns[2].Kind)
	assert.True(t, insns[2].IsGoto())
	assert.Equal(t, []int{insns[6].Offset}, insns[2].Targets)
	assert.True(t, insns[3].IsGoto())
	assert.Equal(t, []int{insns[6].Offset}, insns[3].Targets)

	ls := insns[5]
	assert.Equal(t, KindSwitch, ls.Kind)
	assert.Equal(t, []int{insns[6].Offset, insns[2].Offset}, ls.Targets)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		is   error
	}{
		{"jsr", []byte{OpJsr, 0, 3, 0xb1}, ErrSubroutine},
		{"ret", []byte{OpRet, 1}, ErrSubroutine},
		{"wide ret", []byte{OpWide, OpRet, 0, 1}, ErrSubroutine},
		{"truncated operand", []byte{0x11, 0}, ErrTruncated},
		{"truncated switch", []byte{OpTableswitch, 0, 0, 0, 0}, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.code)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.is), err.Error())
		})
	}

	_, err := Decode([]byte{0xfe})
	assert.ErrorContains(t, err, "invalid opcode")

	_, err = Decode([]byte{OpGoto, 0, 1, 0xb1})
	assert.ErrorContains(t, err, "not an instruction boundary")
}

func TestModifiedUTF8(t *testing.T) {
	for _, s := range []string{"", "plain", "café", "nul\x00byte", "emoji \U0001F600", "中文"} {
		enc := EncodeModifiedUTF8(s)
		assert.NotContains(t, string(enc), "\x00")
		dec, err := DecodeModifiedUTF8(enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}

	// NUL is two bytes, supplementary characters are six
	assert.Equal(t, []byte{0xC0, 0x80}, EncodeModifiedUTF8("\x00"))
	assert.Len(t, EncodeModifiedUTF8("\U0001F600"), 6)

	_, err := DecodeModifiedUTF8([]byte{0xE0, 0x80})
	assert.Error(t, err)
	_, err = DecodeModifiedUTF8([]byte{0xF0, 0x9F, 0x98, 0x80})
	assert.Error(t, err)
}

func TestReadName(t *testing.T) {
	data := testutil.NewClass("com/example/Only$Name").Bytes()
	name, err := ReadName(data)
	require.NoError(t, err)
	assert.Equal(t, "com/example/Only$Name", name)

	_, err = ReadName(data[:12])
	assert.Error(t, err)
}
