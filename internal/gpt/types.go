// Package gpt implements the GUID Partition Table codec: header and
// partition-entry layout, protective MBR, and the little-endian byte
// discipline the UEFI specification requires on disk.
package gpt

import (
	"encoding/binary"
	"math"

	"github.com/Microsoft/go-winio/pkg/guid"
)

// See the UEFI specification (https://uefi.org/specifications) for the
// on-disk layout this package implements.

var (
	SizeOfPMBRInBytes    = binary.Size(ProtectiveMBR{})
	SizeOfHeaderInBytes  = binary.Size(Header{})
	SizeOfPartitionEntry = binary.Size(PartitionEntry{})

	ProtectiveMBRStartingCHS       = [3]byte{0x00, 0x02, 0x00}
	ProtectiveMBREndingCHSMaxArray = [3]byte{0xff, 0xff, 0xff}
	ProtectiveMBRSizeInLBAMaxValue = uint32(math.MaxUint32)

	// Well-known partition type GUIDs (spec §4.3.5).
	TypeESP             = guid.GUID{Data1: 0xC12A7328, Data2: 0xF81F, Data3: 0x11D2, Data4: [8]byte{0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}}
	TypeAndroidBoot      = guid.GUID{Data1: 0x2568845D, Data2: 0x2332, Data3: 0x4675, Data4: [8]byte{0xBC, 0x39, 0x8F, 0xA5, 0xA4, 0x74, 0x8D, 0x15}}
	TypeAndroidMisc      = guid.GUID{Data1: 0xEF32A33B, Data2: 0xA409, Data3: 0x486C, Data4: [8]byte{0x91, 0x41, 0x9F, 0xFB, 0x71, 0x1F, 0x62, 0x31}}
	TypeLinuxFilesystem  = guid.GUID{Data1: 0x0FC63DAF, Data2: 0x8483, Data3: 0x4772, Data4: [8]byte{0x8E, 0x79, 0x3D, 0x69, 0xD8, 0x47, 0x7D, 0xE4}}
	TypeMicrosoftBasic   = guid.GUID{Data1: 0xEBD0A0A2, Data2: 0xB9E5, Data3: 0x4433, Data4: [8]byte{0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7}}
	TypeMicrosoftReserved = guid.GUID{Data1: 0xE3C9E316, Data2: 0x0B5C, Data3: 0x4DB8, Data4: [8]byte{0x81, 0x7D, 0xF9, 0x2D, 0xF0, 0x02, 0x15, 0xAE}}
)

// Partition flag bits (spec §4.3.4).
const (
	FlagSystem  uint64 = 1 << 0
	FlagBoot    uint64 = 1 << 2
	FlagReadOnly uint64 = 1 << 60
	FlagHidden  uint64 = 1 << 62
	FlagNoAuto  uint64 = 1 << 63
)

const (
	BlockSizeLogical                 = 512 // default logical block size in bytes
	MaxPartitions              int   = 128
	ReservedLBAsForEntryArray  int   = 32
	MinFirstUsableLBA          uint64 = 34 // 1 pmbr + 1 header + 32 reserved entry-array blocks

	PrimaryHeaderLBA           uint64 = 1
	PrimaryEntryArrayLBA       uint64 = 2
	HeaderSize                 uint32 = 92
	HeaderRevision             uint32 = 0x00010000
	HeaderSignature            uint64 = 0x5452415020494645 // ASCII "EFI PART"
	DefaultSizeOfPartitionEntry uint32 = 128
	DefaultNumPartitionEntries uint32 = 128

	ProtectiveMBRSignature         uint16 = 0xAA55
	ProtectiveMBRTypeOS            uint8  = 0xEE
	ProtectiveMBREndingCHSMaxValue uint32 = 0xFFFFFF

	// NameCodeUnits is the number of UTF-16LE code units reserved for a
	// partition name on disk.
	NameCodeUnits = 36

	// MaxEntryNameASCII is the longest entry name (ASCII) the partitioner
	// accepts, leaving room for the 16-character install-id prefix within
	// the 36-code-unit field (spec §4.3.3/§7).
	MaxEntryNameASCII = 27

	// InstallIDMagic is the literal 8-byte ASCII prefix marking every
	// partition name this installer ever created.
	InstallIDMagic = "ANDROID!"

	// InstallIDLength is len(InstallIDMagic) + 8 hex digits.
	InstallIDLength = len(InstallIDMagic) + 8
)

// ProtectiveMBR is exactly one logical block (512 bytes default).
type ProtectiveMBR struct {
	BootCode               [440]byte       // unused by UEFI systems
	UniqueMBRDiskSignature uint32          // unused, zero
	Unknown                uint16          // unused, zero
	PartitionRecord        [4]PartitionMBR // one real record, three zeroed
	Signature              uint16          // 0xAA55
}

// PartitionMBR is 16 bytes, one legacy MBR partition record.
type PartitionMBR struct {
	BootIndicator uint8
	StartingCHS   [3]byte
	OSType        uint8
	EndingCHS     [3]byte
	StartingLBA   uint32
	SizeInLBA     uint32
}

// Header is the 92-byte (padded to one block) GPT header. All multi-byte
// fields are little-endian on disk regardless of host byte order; GUIDs
// are not byte-swapped as wholes (spec §3).
type Header struct {
	Signature                uint64
	Revision                 uint32
	HeaderSize               uint32
	HeaderCRC32              uint32
	ReservedMiddle           uint32
	MyLBA                    uint64
	AlternateLBA             uint64
	FirstUsableLBA           uint64
	LastUsableLBA            uint64
	DiskGUID                 guid.GUID
	PartitionEntryLBA        uint64
	NumberOfPartitionEntries uint32
	SizeOfPartitionEntry     uint32
	PartitionEntryArrayCRC32 uint32
	ReservedEnd              [420]byte
}

// PartitionEntry is one 128-byte slot in the GPT entry array. A slot is
// present iff StartingLBA != 0 (spec §3); slot 0 (index 0) is never a
// real partition — entries are addressed 1..N.
type PartitionEntry struct {
	PartitionTypeGUID   guid.GUID
	UniquePartitionGUID guid.GUID
	StartingLBA         uint64
	EndingLBA           uint64
	Attributes          uint64
	PartitionName       [NameCodeUnits]uint16 // UTF-16LE, zero-padded
}

// Present reports whether this slot holds a real partition.
func (e *PartitionEntry) Present() bool {
	return e.StartingLBA != 0
}

// Disk layout produced and consumed by this package:
//
//	| Protective MBR                 | - 1 block
//	| Partition Table header         | - 1 block
//	| Partition entry array          | - NumberOfPartitionEntries * SizeOfPartitionEntry
//	| Partition 0 .. Partition n     |
//	| Backup partition entry array   |
//	| Backup Partition Table header  | - last block
