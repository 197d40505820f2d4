package execdata

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coverage-analysis/internal/classfile"
	"github.com/coverage-analysis/pkg/collections"
	"github.com/coverage-analysis/pkg/model"
)

// Encoder writes execution data. It is itself a Visitor, so a decoded or
// merged stream can be re-encoded directly.
type Encoder struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

// NewEncoder writes the header block for f and returns the encoder.
func NewEncoder(w io.Writer, f Format) (*Encoder, error) {
	if _, err := ParseFormat(uint16(f)); err != nil {
		return nil, err
	}
	e := &Encoder{w: bufio.NewWriter(w)}
	e.writeByte(BlockHeader)
	e.writeUint16(Magic)
	e.writeUint16(uint16(f))
	return e, e.err
}

// VisitSession writes a session info block.
func (e *Encoder) VisitSession(s model.Session) error {
	e.writeByte(BlockSessionInfo)
	e.writeUTF(s.ID)
	e.writeInt64(s.Start.UnixMilli())
	e.writeInt64(s.Dump.UnixMilli())
	return e.err
}

// VisitExecution writes an execution data block.
func (e *Encoder) VisitExecution(rec *model.ExecutionRecord) error {
	e.writeByte(BlockExecutionData)
	e.writeInt64(int64(rec.ID))
	e.writeUTF(rec.Name)
	e.writeBooleanArray(rec.Probes)
	return e.err
}

// Flush writes buffered blocks to the underlying writer.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

func (e *Encoder) writeByte(b byte) {
	if e.err == nil {
		e.err = e.w.WriteByte(b)
	}
}

func (e *Encoder) write(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *Encoder) writeUint16(v uint16) {
	binary.BigEndian.PutUint16(e.buf[:2], v)
	e.write(e.buf[:2])
}

func (e *Encoder) writeInt64(v int64) {
	binary.BigEndian.PutUint64(e.buf[:8], uint64(v))
	e.write(e.buf[:8])
}

func (e *Encoder) writeUTF(s string) {
	b := classfile.EncodeModifiedUTF8(s)
	if len(b) > 0xFFFF {
		if e.err == nil {
			e.err = fmt.Errorf("string of %d encoded bytes too long", len(b))
		}
		return
	}
	e.writeUint16(uint16(len(b)))
	e.write(b)
}

func (e *Encoder) writeVarInt(v int) {
	u := uint32(v)
	for u&^0x7F != 0 {
		e.writeByte(byte(u&0x7F) | 0x80)
		u >>= 7
	}
	e.writeByte(byte(u))
}

func (e *Encoder) writeBooleanArray(probes *collections.Bitset) {
	n := 0
	if probes != nil {
		n = probes.Size()
	}
	e.writeVarInt(n)
	var cur byte
	for i := 0; i < n; i++ {
		if probes.Test(i) {
			cur |= 1 << (i % 8)
		}
		if i%8 == 7 {
			e.writeByte(cur)
			cur = 0
		}
	}
	if n%8 != 0 {
		e.writeByte(cur)
	}
}
