package execdata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coverage-analysis/internal/classfile"
	"github.com/coverage-analysis/pkg/collections"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
)

// Visitor receives decoded events in stream order.
type Visitor interface {
	VisitSession(s model.Session) error
	VisitExecution(rec *model.ExecutionRecord) error
}

// VisitorFuncs adapts plain functions to a Visitor. Nil fields ignore the event.
type VisitorFuncs struct {
	Session   func(s model.Session) error
	Execution func(rec *model.ExecutionRecord) error
}

func (v VisitorFuncs) VisitSession(s model.Session) error {
	if v.Session == nil {
		return nil
	}
	return v.Session(s)
}

func (v VisitorFuncs) VisitExecution(rec *model.ExecutionRecord) error {
	if v.Execution == nil {
		return nil
	}
	return v.Execution(rec)
}

// Decoder reads one execution data stream.
type Decoder struct {
	r      *bufio.Reader
	buf    [8]byte
	origin string

	format  Format
	codec   codec
	visitor Visitor

	// records are attributed to the most recent session block
	session string
}

// NewDecoder creates a decoder; origin names the stream in errors.
func NewDecoder(r io.Reader, origin string) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}
	return &Decoder{r: br, origin: origin}
}

// Format returns the version read from the stream header, or 0 before Decode.
func (d *Decoder) Format() Format {
	return d.format
}

// Decode reads blocks until the end of the stream, passing events to v. The
// first block must be a header; later headers must repeat the same version.
// An empty stream yields no events.
func (d *Decoder) Decode(v Visitor) error {
	d.visitor = v
	first := true
	for {
		block, err := d.r.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return d.parseError("failed to read block type", err)
		}
		if first && block != BlockHeader {
			return d.parseError(fmt.Sprintf("invalid execution data: first block 0x%02x is not a header", block), nil)
		}
		first = false
		if err := d.readBlock(block); err != nil {
			return err
		}
	}
}

func (d *Decoder) readBlock(block byte) error {
	switch block {
	case BlockHeader:
		return d.readHeader()
	case BlockSessionInfo:
		return d.codec.readSession(d)
	case BlockExecutionData:
		return d.codec.readExecution(d)
	case BlockCmdOk, BlockCmdDump:
		return d.codec.readCommand(d, block)
	default:
		return d.parseError(fmt.Sprintf("unknown block type 0x%02x", block), nil)
	}
}

func (d *Decoder) readHeader() error {
	magic, err := d.readUint16()
	if err != nil {
		return d.parseError("failed to read header", err)
	}
	if magic != Magic {
		return d.parseError(fmt.Sprintf("invalid execution data magic 0x%04x", magic), nil)
	}
	version, err := d.readUint16()
	if err != nil {
		return d.parseError("failed to read header", err)
	}

	if d.format != 0 {
		if Format(version) != d.format {
			return apperrors.IncompatibleFormat(
				fmt.Sprintf("version %s follows %s in one stream", Format(version), d.format), d.origin)
		}
		return nil
	}
	f, err := ParseFormat(version)
	if err != nil {
		return apperrors.IncompatibleFormat(apperrors.GetErrorMessage(err), d.origin)
	}
	d.format = f
	d.codec, _ = f.codec()
	return nil
}

func (d *Decoder) readSessionInfo() error {
	id, err := d.readUTF()
	if err != nil {
		return d.parseError("failed to read session id", err)
	}
	start, err := d.readInt64()
	if err != nil {
		return d.parseError("failed to read session start", err)
	}
	dump, err := d.readInt64()
	if err != nil {
		return d.parseError("failed to read session dump time", err)
	}
	d.session = id
	return d.visitor.VisitSession(model.Session{
		ID:    id,
		Start: time.UnixMilli(start),
		Dump:  time.UnixMilli(dump),
	})
}

func (d *Decoder) readExecutionData() error {
	id, err := d.readInt64()
	if err != nil {
		return d.parseError("failed to read class id", err)
	}
	name, err := d.readUTF()
	if err != nil {
		return d.parseError("failed to read class name", err)
	}
	probes, err := d.readBooleanArray()
	if err != nil {
		return d.parseError(fmt.Sprintf("failed to read probes of %s", name), err)
	}
	return d.visitor.VisitExecution(&model.ExecutionRecord{
		ID:        model.UnitID(id),
		Name:      name,
		SessionID: d.session,
		Probes:    probes,
	})
}

func (d *Decoder) readCommand(block byte) error {
	if block == BlockCmdDump {
		// dump and reset flags
		if _, err := d.r.Discard(2); err != nil {
			return d.parseError("failed to read dump command", err)
		}
	}
	return nil
}

func (d *Decoder) readUint16() (uint16, error) {
	if _, err := io.ReadFull(d.r, d.buf[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d.buf[:2]), nil
}

func (d *Decoder) readInt64() (int64, error) {
	if _, err := io.ReadFull(d.r, d.buf[:8]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(d.buf[:8])), nil
}

// readUTF reads a DataOutput.writeUTF string.
func (d *Decoder) readUTF() (string, error) {
	n, err := d.readUint16()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return classfile.DecodeModifiedUTF8(b)
}

// readVarInt reads an unsigned value stored little-endian in 7-bit groups.
func (d *Decoder) readVarInt() (int, error) {
	var v uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			if v > 1<<31-1 {
				return 0, fmt.Errorf("varint overflow")
			}
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("varint too long")
}

// readBooleanArray reads a varint length followed by bits packed LSB first.
func (d *Decoder) readBooleanArray() (*collections.Bitset, error) {
	n, err := d.readVarInt()
	if err != nil {
		return nil, err
	}
	// the length is untrusted: buffer what the stream actually holds
	// before sizing the vector
	var packed bytes.Buffer
	if _, err := io.CopyN(&packed, d.r, int64((n+7)/8)); err != nil {
		return nil, err
	}
	probes := collections.NewBitset(n)
	for i, b := range packed.Bytes() {
		for bit := 0; bit < 8 && i*8+bit < n; bit++ {
			if b&(1<<bit) != 0 {
				probes.Set(i*8 + bit)
			}
		}
	}
	return probes, nil
}

func (d *Decoder) parseError(msg string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return apperrors.Wrap(apperrors.CodeParseError, fmt.Sprintf("%s: %s", d.origin, msg), err)
}
