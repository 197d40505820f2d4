package classfile

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// DecodeModifiedUTF8 decodes the JVM "modified UTF-8" encoding used by
// CONSTANT_Utf8 entries and DataOutput.writeUTF: NUL is stored as 0xC0 0x80
// and supplementary characters are stored as two encoded surrogates.
func DecodeModifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c >= 0x80 || c == 0 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			if c == 0 {
				return "", fmt.Errorf("invalid modified UTF-8: raw NUL at byte %d", i)
			}
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("invalid modified UTF-8 at byte %d", i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("invalid modified UTF-8 at byte %d", i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("invalid modified UTF-8 lead byte 0x%02x at byte %d", c, i)
		}
	}
	return string(utf16.Decode(units)), nil
}

// EncodeModifiedUTF8 is the inverse of DecodeModifiedUTF8.
func EncodeModifiedUTF8(s string) []byte {
	var sb strings.Builder
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u != 0 && u < 0x80:
			sb.WriteByte(byte(u))
		case u < 0x800:
			sb.WriteByte(byte(0xC0 | u>>6))
			sb.WriteByte(byte(0x80 | u&0x3F))
		default:
			sb.WriteByte(byte(0xE0 | u>>12))
			sb.WriteByte(byte(0x80 | (u>>6)&0x3F))
			sb.WriteByte(byte(0x80 | u&0x3F))
		}
	}
	return []byte(sb.String())
}
