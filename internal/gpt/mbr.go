package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// NewProtectiveMBR builds the one-sector protective MBR that must coexist
// with a GPT: a single 0xEE-type partition record spanning the disk,
// clamped to the 32-bit LBA-count field (spec §4.2).
func NewProtectiveMBR(totalSectors uint64) ProtectiveMBR {
	size := ProtectiveMBRSizeInLBAMaxValue
	if totalSectors-1 < uint64(size) {
		size = uint32(totalSectors - 1)
	}

	pmbr := ProtectiveMBR{
		Signature: ProtectiveMBRSignature,
	}
	pmbr.PartitionRecord[0] = PartitionMBR{
		BootIndicator: 0,
		StartingCHS:   ProtectiveMBRStartingCHS,
		OSType:        ProtectiveMBRTypeOS,
		EndingCHS:     CalculateEndingCHS(size),
		StartingLBA:   uint32(PrimaryHeaderLBA),
		SizeInLBA:     size,
	}
	return pmbr
}

// CalculateEndingCHS produces the ending CHS value used in a protective
// MBR partition record for a region of sizeInLBA sectors.
func CalculateEndingCHS(sizeInLBA uint32) [3]byte {
	if sizeInLBA >= ProtectiveMBREndingCHSMaxValue {
		return ProtectiveMBREndingCHSMaxArray
	}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], sizeInLBA)
	var result [3]byte
	copy(result[:], tmp[:3])
	return result
}

// ReadProtectiveMBR reads the first logical block of the device.
func ReadProtectiveMBR(r io.ReaderAt, lbaSize uint64) (ProtectiveMBR, error) {
	buf := make([]byte, lbaSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return ProtectiveMBR{}, fmt.Errorf("reading protective MBR: %w", err)
	}
	var pmbr ProtectiveMBR
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &pmbr); err != nil {
		return ProtectiveMBR{}, fmt.Errorf("decoding protective MBR: %w", err)
	}
	return pmbr, nil
}

// HasGPT reports whether the protective MBR's first partition record
// carries the GPT-protective OS type. A disk failing this check is "no
// GPT present" — not an error, a valid discovery outcome (spec §4.2,
// §7).
func (m ProtectiveMBR) HasGPT() bool {
	return m.PartitionRecord[0].OSType == ProtectiveMBRTypeOS
}
