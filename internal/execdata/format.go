// Package execdata reads and writes the JaCoCo binary execution data format:
// a header block followed by session info and per-class probe hit vectors.
package execdata

import (
	"fmt"

	apperrors "github.com/coverage-analysis/pkg/errors"
)

// Block types.
const (
	BlockHeader        byte = 0x01
	BlockSessionInfo   byte = 0x10
	BlockExecutionData byte = 0x11
	BlockCmdOk         byte = 0x20
	BlockCmdDump       byte = 0x40
)

// Magic follows every header block type byte.
const Magic uint16 = 0xC0C0

// Format is the version field of the header block. Data of different
// formats is never merged because probe positions differ between them.
type Format uint16

const (
	// FormatLegacy is written by agents before 0.7.5.
	FormatLegacy Format = 0x1006
	// FormatCurrent is written by agents since 0.7.5.
	FormatCurrent Format = 0x1007
)

// String returns the version in the hex notation used in tool output.
func (f Format) String() string {
	return fmt.Sprintf("0x%04x", uint16(f))
}

// ParseFormat validates a header version field.
func ParseFormat(version uint16) (Format, error) {
	f := Format(version)
	if _, ok := f.codec(); !ok {
		return 0, apperrors.IncompatibleFormat(fmt.Sprintf("incompatible version %s", f))
	}
	return f, nil
}

// codec decodes the version-specific blocks of one format.
type codec struct {
	readSession   func(d *Decoder) error
	readExecution func(d *Decoder) error
	readCommand   func(d *Decoder, block byte) error
}

// blockCodec reads the block grammar shared by every supported format. The
// formats differ only in where the agent placed probes, so their hit vectors
// are decoded alike and kept apart by the header version.
var blockCodec = codec{
	readSession:   (*Decoder).readSessionInfo,
	readExecution: (*Decoder).readExecutionData,
	readCommand:   (*Decoder).readCommand,
}

func (f Format) codec() (codec, bool) {
	switch f {
	case FormatCurrent, FormatLegacy:
		return blockCodec, true
	default:
		return codec{}, false
	}
}
