package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ClassBuilder assembles minimal but valid class files for tests.
type ClassBuilder struct {
	major, minor uint16
	access       uint16
	name         string
	super        string
	source       string

	pool      bytes.Buffer
	poolCount uint16
	utf8s     map[string]uint16
	classes   map[string]uint16

	methods []methodDef
}

type methodDef struct {
	access     uint16
	name, desc string
	code       *CodeBuilder
}

// NewClass starts a class file for the VM class name (e.g. "com/example/Foo").
func NewClass(name string) *ClassBuilder {
	return &ClassBuilder{
		major:     52,
		access:    0x0021,
		name:      name,
		super:     "java/lang/Object",
		poolCount: 1,
		utf8s:     make(map[string]uint16),
		classes:   make(map[string]uint16),
	}
}

// Version sets the class file major version.
func (b *ClassBuilder) Version(major uint16) *ClassBuilder {
	b.major = major
	return b
}

// Access sets the class access flags.
func (b *ClassBuilder) Access(flags uint16) *ClassBuilder {
	b.access = flags
	return b
}

// Source sets the SourceFile attribute.
func (b *ClassBuilder) Source(file string) *ClassBuilder {
	b.source = file
	return b
}

// Method adds a method. A nil code builder declares an abstract method.
func (b *ClassBuilder) Method(access uint16, name, desc string, code *CodeBuilder) *ClassBuilder {
	b.methods = append(b.methods, methodDef{access: access, name: name, desc: desc, code: code})
	return b
}

func (b *ClassBuilder) utf8(s string) uint16 {
	if idx, ok := b.utf8s[s]; ok {
		return idx
	}
	idx := b.poolCount
	b.poolCount++
	b.pool.WriteByte(1)
	_ = binary.Write(&b.pool, binary.BigEndian, uint16(len(s)))
	b.pool.WriteString(s)
	b.utf8s[s] = idx
	return idx
}

func (b *ClassBuilder) class(name string) uint16 {
	if idx, ok := b.classes[name]; ok {
		return idx
	}
	nameIdx := b.utf8(name)
	idx := b.poolCount
	b.poolCount++
	b.pool.WriteByte(7)
	_ = binary.Write(&b.pool, binary.BigEndian, nameIdx)
	b.classes[name] = idx
	return idx
}

// Long adds a CONSTANT_Long entry, which occupies two pool slots.
func (b *ClassBuilder) Long(v int64) *ClassBuilder {
	b.pool.WriteByte(5)
	_ = binary.Write(&b.pool, binary.BigEndian, v)
	b.poolCount += 2
	return b
}

// Bytes renders the class file.
func (b *ClassBuilder) Bytes() []byte {
	thisIdx := b.class(b.name)
	superIdx := b.class(b.super)
	codeName := b.utf8("Code")
	lineTable := b.utf8("LineNumberTable")
	var sourceIdx, sourceName uint16
	if b.source != "" {
		sourceName = b.utf8("SourceFile")
		sourceIdx = b.utf8(b.source)
	}

	type renderedMethod struct {
		access, name, desc uint16
		code               []byte
	}
	methods := make([]renderedMethod, 0, len(b.methods))
	for _, m := range b.methods {
		rm := renderedMethod{access: m.access, name: b.utf8(m.name), desc: b.utf8(m.desc)}
		if m.code != nil {
			rm.code = m.code.attribute(b, lineTable)
		}
		methods = append(methods, rm)
	}

	var out bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(uint32(0xCAFEBABE))
	w(b.minor)
	w(b.major)
	w(b.poolCount)
	out.Write(b.pool.Bytes())
	w(b.access)
	w(thisIdx)
	w(superIdx)
	w(uint16(0)) // interfaces
	w(uint16(0)) // fields
	w(uint16(len(methods)))
	for _, m := range methods {
		w(m.access)
		w(m.name)
		w(m.desc)
		if m.code == nil {
			w(uint16(0))
			continue
		}
		w(uint16(1))
		w(codeName)
		w(uint32(len(m.code)))
		out.Write(m.code)
	}
	if b.source != "" {
		w(uint16(1))
		w(sourceName)
		w(uint32(2))
		w(sourceIdx)
	} else {
		w(uint16(0))
	}
	return out.Bytes()
}

// CodeBuilder assembles a method body with symbolic labels.
type CodeBuilder struct {
	code     []byte
	labels   map[string]int
	fixups   []fixup
	lines    [][2]int
	handlers []handler
	maxStack uint16
}

type fixup struct {
	at, base int
	label    string
	wide     bool
}

type handler struct {
	start, end, target string
}

// NewCode starts an empty method body.
func NewCode() *CodeBuilder {
	return &CodeBuilder{labels: make(map[string]int), maxStack: 4}
}

// PC returns the current bytecode offset.
func (c *CodeBuilder) PC() int {
	return len(c.code)
}

// Label binds name to the current offset.
func (c *CodeBuilder) Label(name string) *CodeBuilder {
	c.labels[name] = len(c.code)
	return c
}

// Line starts source line nr at the current offset.
func (c *CodeBuilder) Line(nr int) *CodeBuilder {
	c.lines = append(c.lines, [2]int{len(c.code), nr})
	return c
}

// Op appends an opcode with raw operand bytes.
func (c *CodeBuilder) Op(op byte, operands ...byte) *CodeBuilder {
	c.code = append(c.code, op)
	c.code = append(c.code, operands...)
	return c
}

// Invoke appends invokestatic #1.
func (c *CodeBuilder) Invoke() *CodeBuilder {
	return c.Op(0xb8, 0x00, 0x01)
}

// Jump appends a two-byte branch instruction to label.
func (c *CodeBuilder) Jump(op byte, label string) *CodeBuilder {
	pc := len(c.code)
	c.code = append(c.code, op, 0, 0)
	c.fixups = append(c.fixups, fixup{at: pc + 1, base: pc, label: label})
	return c
}

// GotoW appends goto_w to label.
func (c *CodeBuilder) GotoW(label string) *CodeBuilder {
	pc := len(c.code)
	c.code = append(c.code, 0xc8, 0, 0, 0, 0)
	c.fixups = append(c.fixups, fixup{at: pc + 1, base: pc, label: label, wide: true})
	return c
}

// TableSwitch appends a tableswitch over low..low+len(cases)-1.
func (c *CodeBuilder) TableSwitch(low int32, dflt string, cases ...string) *CodeBuilder {
	pc := len(c.code)
	c.code = append(c.code, 0xaa)
	for len(c.code)%4 != 0 {
		c.code = append(c.code, 0)
	}
	c.wideFixup(pc, dflt)
	c.appendS4(low)
	c.appendS4(low + int32(len(cases)) - 1)
	for _, l := range cases {
		c.wideFixup(pc, l)
	}
	return c
}

// LookupSwitch appends a lookupswitch with keys 0..len(cases)-1.
func (c *CodeBuilder) LookupSwitch(dflt string, cases ...string) *CodeBuilder {
	pc := len(c.code)
	c.code = append(c.code, 0xab)
	for len(c.code)%4 != 0 {
		c.code = append(c.code, 0)
	}
	c.wideFixup(pc, dflt)
	c.appendS4(int32(len(cases)))
	for i, l := range cases {
		c.appendS4(int32(i))
		c.wideFixup(pc, l)
	}
	return c
}

func (c *CodeBuilder) appendS4(v int32) {
	c.code = binary.BigEndian.AppendUint32(c.code, uint32(v))
}

func (c *CodeBuilder) wideFixup(base int, label string) {
	c.fixups = append(c.fixups, fixup{at: len(c.code), base: base, label: label, wide: true})
	c.appendS4(0)
}

// Try registers an exception handler for [start, end) jumping to target.
func (c *CodeBuilder) Try(start, end, target string) *CodeBuilder {
	c.handlers = append(c.handlers, handler{start: start, end: end, target: target})
	return c
}

// Bytecode resolves labels and returns the raw code array.
func (c *CodeBuilder) Bytecode() []byte {
	code := append([]byte(nil), c.code...)
	for _, f := range c.fixups {
		target, ok := c.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("undefined label %q", f.label))
		}
		rel := target - f.base
		if f.wide {
			binary.BigEndian.PutUint32(code[f.at:], uint32(int32(rel)))
		} else {
			binary.BigEndian.PutUint16(code[f.at:], uint16(int16(rel)))
		}
	}
	return code
}

func (c *CodeBuilder) attribute(b *ClassBuilder, lineTable uint16) []byte {
	code := c.Bytecode()

	var out bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(c.maxStack)
	w(uint16(8)) // max locals
	w(uint32(len(code)))
	out.Write(code)
	w(uint16(len(c.handlers)))
	for _, h := range c.handlers {
		w(uint16(c.labels[h.start]))
		w(uint16(c.labels[h.end]))
		w(uint16(c.labels[h.target]))
		w(uint16(0))
	}
	if len(c.lines) == 0 {
		w(uint16(0))
		return out.Bytes()
	}
	w(uint16(1))
	w(lineTable)
	w(uint32(2 + 4*len(c.lines)))
	w(uint16(len(c.lines)))
	for _, l := range c.lines {
		w(uint16(l[0]))
		w(uint16(l[1]))
	}
	return out.Bytes()
}

// ChainClass builds a class with one static method spanning k lines from
// firstLine, each calling a method. Probe j covers exactly line firstLine+j.
func ChainClass(name, source string, firstLine, k int) []byte {
	code := NewCode()
	for i := 0; i < k; i++ {
		code.Line(firstLine + i).Invoke()
	}
	code.Op(0xb1) // return
	return NewClass(name).
		Source(source).
		Method(0x0009, "run", "()V", code).
		Bytes()
}
