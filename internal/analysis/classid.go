package analysis

import (
	"hash/crc64"

	"github.com/coverage-analysis/pkg/model"
)

var isoTable = crc64.MakeTable(crc64.ISO)

// ComputeUnitID returns the JaCoCo class id of raw class bytes: a CRC64 with
// the ISO polynomial and neither pre nor post inversion.
//
// Class files with major version 53 are fingerprinted as if the version were
// 52, which is how early Java 9 class files were identified.
func ComputeUnitID(data []byte) model.UnitID {
	if len(data) >= 8 && data[6] == 0 && data[7] == 53 {
		sum := update(0, data[:7])
		sum = update(sum, []byte{52})
		return model.UnitID(update(sum, data[8:]))
	}
	return model.UnitID(update(0, data))
}

// crc64.Update inverts the checksum on entry and exit, so the table is applied directly.
func update(sum uint64, data []byte) uint64 {
	for _, b := range data {
		sum = (sum >> 8) ^ isoTable[byte(sum)^b]
	}
	return sum
}
