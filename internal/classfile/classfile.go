// Package classfile parses the parts of a JVM class file needed for coverage
// analysis: methods, their bytecode, exception tables and line numbers.
package classfile

import (
	"fmt"
)

// Magic is the leading u4 of every class file.
const Magic = 0xCAFEBABE

// Access flags used by the analysis.
const (
	AccPublic    = 0x0001
	AccStatic    = 0x0008
	AccBridge    = 0x0040
	AccNative    = 0x0100
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
	AccModule    = 0x8000
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// ClassFile is the parsed subset of a class file.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
	Name         string
	SuperName    string
	Interfaces   []string
	SourceFile   string
	Methods      []*Method
}

// IsInterface reports whether the class is an interface.
func (c *ClassFile) IsInterface() bool {
	return c.AccessFlags&AccInterface != 0
}

// IsModule reports whether the class file is a module descriptor.
func (c *ClassFile) IsModule() bool {
	return c.AccessFlags&AccModule != 0
}

// Method is one method declaration. Code is nil for abstract and native methods.
type Method struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Code        *Code
}

// IsSynthetic reports whether the compiler generated the method.
func (m *Method) IsSynthetic() bool {
	return m.AccessFlags&AccSynthetic != 0
}

// IsBridge reports whether the method is a generic bridge.
func (m *Method) IsBridge() bool {
	return m.AccessFlags&AccBridge != 0
}

// Code is the Code attribute of a method.
type Code struct {
	MaxStack       uint16
	MaxLocals      uint16
	Bytecode       []byte
	ExceptionTable []ExceptionHandler
	LineNumbers    []LineNumber
}

// ExceptionHandler is one exception table entry. CatchType is empty for finally blocks.
type ExceptionHandler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType string
}

// LineNumber maps a bytecode offset to the source line starting there.
type LineNumber struct {
	StartPC int
	Line    int
}

type cpEntry struct {
	tag   uint8
	str   string // Utf8
	index uint16 // Class, String, MethodType, Module, Package
}

type constantPool []cpEntry

func (cp constantPool) utf8(index uint16) (string, error) {
	if int(index) >= len(cp) || index == 0 || cp[index].tag != TagUtf8 {
		return "", fmt.Errorf("constant #%d is not a Utf8 entry", index)
	}
	return cp[index].str, nil
}

func (cp constantPool) className(index uint16) (string, error) {
	if int(index) >= len(cp) || index == 0 || cp[index].tag != TagClass {
		return "", fmt.Errorf("constant #%d is not a Class entry", index)
	}
	return cp.utf8(cp[index].index)
}

// ReadName returns the VM name of a class without decoding its members.
func ReadName(data []byte) (string, error) {
	cf, _, err := parseHead(newReader(data))
	if err != nil {
		return "", err
	}
	return cf.Name, nil
}

func parseHead(r *reader) (*ClassFile, constantPool, error) {
	magic, err := r.u4()
	if err != nil {
		return nil, nil, err
	}
	if magic != Magic {
		return nil, nil, fmt.Errorf("bad magic 0x%08x", magic)
	}

	cf := &ClassFile{}
	if cf.MinorVersion, err = r.u2(); err != nil {
		return nil, nil, err
	}
	if cf.MajorVersion, err = r.u2(); err != nil {
		return nil, nil, err
	}

	cp, err := readConstantPool(r)
	if err != nil {
		return nil, nil, err
	}

	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, nil, err
	}
	thisIdx, err := r.u2()
	if err != nil {
		return nil, nil, err
	}
	if cf.Name, err = cp.className(thisIdx); err != nil {
		return nil, nil, fmt.Errorf("this_class: %w", err)
	}
	return cf, cp, nil
}

// Parse decodes a class file. Any structural problem is returned as an error;
// callers attach the unit origin.
func Parse(data []byte) (*ClassFile, error) {
	r := newReader(data)
	cf, cp, err := parseHead(r)
	if err != nil {
		return nil, err
	}
	superIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if superIdx != 0 {
		if cf.SuperName, err = cp.className(superIdx); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	ifaceCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := cp.className(idx)
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	fieldCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(fieldCount); i++ {
		if err := r.skip(6); err != nil {
			return nil, err
		}
		if err := skipAttributes(r); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
	}

	methodCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	cf.Methods = make([]*Method, 0, methodCount)
	for i := 0; i < int(methodCount); i++ {
		m, err := readMethod(r, cp)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		cf.Methods = append(cf.Methods, m)
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		name, body, err := readAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		if name == "SourceFile" {
			br := newReader(body)
			idx, err := br.u2()
			if err != nil {
				return nil, fmt.Errorf("SourceFile: %w", err)
			}
			if cf.SourceFile, err = cp.utf8(idx); err != nil {
				return nil, fmt.Errorf("SourceFile: %w", err)
			}
		}
	}

	return cf, nil
}

func readConstantPool(r *reader) (constantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("empty constant pool")
	}

	cp := make(constantPool, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		cp[i].tag = tag
		switch tag {
		case TagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			raw, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			if cp[i].str, err = DecodeModifiedUTF8(raw); err != nil {
				return nil, fmt.Errorf("constant #%d: %w", i, err)
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if cp[i].index, err = r.u2(); err != nil {
				return nil, err
			}
		case TagInteger, TagFloat, TagFieldref, TagMethodref, TagInterfaceMethodref,
			TagNameAndType, TagDynamic, TagInvokeDynamic:
			if err := r.skip(4); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if err := r.skip(3); err != nil {
				return nil, err
			}
		case TagLong, TagDouble:
			if err := r.skip(8); err != nil {
				return nil, err
			}
			// eight-byte constants take two slots
			i++
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at #%d", tag, i)
		}
	}
	return cp, nil
}

func readAttribute(r *reader, cp constantPool) (string, []byte, error) {
	nameIdx, err := r.u2()
	if err != nil {
		return "", nil, err
	}
	name, err := cp.utf8(nameIdx)
	if err != nil {
		return "", nil, fmt.Errorf("attribute name: %w", err)
	}
	n, err := r.u4()
	if err != nil {
		return "", nil, err
	}
	body, err := r.bytes(int(n))
	if err != nil {
		return "", nil, fmt.Errorf("attribute %s: %w", name, err)
	}
	return name, body, nil
}

func skipAttributes(r *reader) error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := r.skip(2); err != nil {
			return err
		}
		n, err := r.u4()
		if err != nil {
			return err
		}
		if err := r.skip(int(n)); err != nil {
			return err
		}
	}
	return nil
}

func readMethod(r *reader, cp constantPool) (*Method, error) {
	m := &Method{}
	var err error
	if m.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	nameIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if m.Name, err = cp.utf8(nameIdx); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	descIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if m.Descriptor, err = cp.utf8(descIdx); err != nil {
		return nil, fmt.Errorf("descriptor: %w", err)
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		name, body, err := readAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		if name != "Code" {
			continue
		}
		if m.Code != nil {
			return nil, fmt.Errorf("%s%s has more than one Code attribute", m.Name, m.Descriptor)
		}
		if m.Code, err = readCode(body, cp); err != nil {
			return nil, fmt.Errorf("%s%s: %w", m.Name, m.Descriptor, err)
		}
	}
	return m, nil
}

func readCode(body []byte, cp constantPool) (*Code, error) {
	r := newReader(body)
	c := &Code{}
	var err error
	if c.MaxStack, err = r.u2(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = r.u2(); err != nil {
		return nil, err
	}
	codeLen, err := r.u4()
	if err != nil {
		return nil, err
	}
	if codeLen == 0 {
		return nil, fmt.Errorf("empty Code attribute")
	}
	if c.Bytecode, err = r.bytes(int(codeLen)); err != nil {
		return nil, err
	}

	handlerCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(handlerCount); i++ {
		var raw [4]uint16
		for j := range raw {
			if raw[j], err = r.u2(); err != nil {
				return nil, err
			}
		}
		h := ExceptionHandler{StartPC: int(raw[0]), EndPC: int(raw[1]), HandlerPC: int(raw[2])}
		if raw[3] != 0 {
			if h.CatchType, err = cp.className(raw[3]); err != nil {
				return nil, fmt.Errorf("exception handler %d: %w", i, err)
			}
		}
		if h.StartPC >= h.EndPC || h.EndPC > len(c.Bytecode) || h.HandlerPC >= len(c.Bytecode) {
			return nil, fmt.Errorf("exception handler %d: range [%d,%d) -> %d outside code of length %d",
				i, h.StartPC, h.EndPC, h.HandlerPC, len(c.Bytecode))
		}
		c.ExceptionTable = append(c.ExceptionTable, h)
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		name, attr, err := readAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		if name != "LineNumberTable" {
			continue
		}
		ar := newReader(attr)
		n, err := ar.u2()
		if err != nil {
			return nil, fmt.Errorf("LineNumberTable: %w", err)
		}
		for j := 0; j < int(n); j++ {
			pc, err := ar.u2()
			if err != nil {
				return nil, fmt.Errorf("LineNumberTable: %w", err)
			}
			line, err := ar.u2()
			if err != nil {
				return nil, fmt.Errorf("LineNumberTable: %w", err)
			}
			c.LineNumbers = append(c.LineNumbers, LineNumber{StartPC: int(pc), Line: int(line)})
		}
	}
	return c, nil
}
