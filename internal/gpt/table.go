package gpt

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/pkg/errors"
)

// Table is the in-memory representation of a disk's GPT: header, entry
// array, and the disk geometry it was read from or will be written to.
// A zero Table is not usable; construct one with New or Read.
type Table struct {
	Header  Header
	Entries []PartitionEntry
	PMBR    ProtectiveMBR

	LBASize      uint64
	TotalSectors uint64
}

// New synthesizes a fresh GPT and protective MBR for a disk of the given
// geometry — the "wipe path" constructor (spec §4.2). diskGUID should be
// generated with guid.NewV4 in production and pinned in tests so the
// round-trip law in spec §8 is checkable.
func New(totalSectors, lbaSize uint64, diskGUID guid.GUID) (*Table, error) {
	if lbaSize == 0 {
		return nil, errors.New("lba size must be nonzero")
	}
	if totalSectors < MinFirstUsableLBA+2 {
		return nil, errors.New("device too small for a GPT")
	}

	t := &Table{
		Header:       NewHeader(totalSectors, diskGUID),
		Entries:      make([]PartitionEntry, DefaultNumPartitionEntries),
		PMBR:         NewProtectiveMBR(totalSectors),
		LBASize:      lbaSize,
		TotalSectors: totalSectors,
	}
	return t, nil
}

// Read loads the protective MBR, primary GPT header, and entry array from
// dev. If the protective MBR does not carry the 0xEE type byte, the disk
// is reported as having no GPT (hasGPT == false) rather than as an error
// — a valid discovery outcome per spec §4.2/§7. If the primary header
// fails validation, the backup header (at the disk's last LBA) is tried
// before giving up.
func Read(dev io.ReaderAt, totalSectors, lbaSize uint64) (tbl *Table, hasGPT bool, err error) {
	pmbr, err := ReadProtectiveMBR(dev, lbaSize)
	if err != nil {
		return nil, false, err
	}
	if !pmbr.HasGPT() {
		return nil, false, nil
	}

	header, herr := readHeaderAt(dev, PrimaryHeaderLBA, lbaSize)
	if herr == nil {
		herr = validateHeader(header)
	}
	usedBackup := false
	if herr != nil {
		backup, berr := readHeaderAt(dev, totalSectors-1, lbaSize)
		if berr != nil || validateHeader(backup) != nil {
			return nil, true, errors.Wrap(herr, "primary GPT header invalid and backup unreadable")
		}
		header = backup
		usedBackup = true
	}

	entries, err := readEntries(dev, header.PartitionEntryLBA, lbaSize, header.NumberOfPartitionEntries, header.SizeOfPartitionEntry)
	if err != nil {
		return nil, true, err
	}

	entriesCRC, err := CalculateEntriesChecksum(entries)
	if err != nil {
		return nil, true, err
	}
	if entriesCRC != header.PartitionEntryArrayCRC32 && !usedBackup {
		// Entries didn't match primary header's recorded CRC; fall back
		// to the backup copy's entry array location before giving up.
		backup, berr := readHeaderAt(dev, totalSectors-1, lbaSize)
		if berr == nil && validateHeader(backup) == nil {
			if backupEntries, eerr := readEntries(dev, backup.PartitionEntryLBA, lbaSize, backup.NumberOfPartitionEntries, backup.SizeOfPartitionEntry); eerr == nil {
				if crc, cerr := CalculateEntriesChecksum(backupEntries); cerr == nil && crc == backup.PartitionEntryArrayCRC32 {
					header = backup
					entries = backupEntries
				}
			}
		}
	}
	if crc, cerr := CalculateEntriesChecksum(entries); cerr != nil || crc != header.PartitionEntryArrayCRC32 {
		return nil, true, errors.New("partition entry array CRC32 mismatch in both primary and backup GPT")
	}

	return &Table{
		Header:       header,
		Entries:      entries,
		PMBR:         pmbr,
		LBASize:      lbaSize,
		TotalSectors: totalSectors,
	}, true, nil
}

// DeviceNodeForPartition derives the partition device path for a 1-based
// partition index, following Linux conventions for sd*, nvme*, mmcblk*,
// and loop devices: a `p<N>` suffix when the device's basename ends in a
// digit, otherwise a bare `<N>` suffix (spec §4.2).
func DeviceNodeForPartition(devicePath string, index int) string {
	base := filepath.Base(devicePath)
	if n := len(base); n > 0 && unicode.IsDigit(rune(base[n-1])) {
		return devicePath + "p" + itoa(index)
	}
	return devicePath + itoa(index)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// IsValidBlockDevice reports whether path names a block device node,
// grounded on original_source/installer/util.c's is_valid_blkdev.
func IsValidBlockDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice == 0
}

// ExcludedDiskName reports whether a /sys/block entry name should never
// be offered as an install target (spec §4.3.1).
func ExcludedDiskName(name string) bool {
	switch {
	case strings.HasPrefix(name, "."):
		return true
	case strings.HasPrefix(name, "ram"):
		return true
	case strings.HasPrefix(name, "loop"):
		return true
	case strings.HasPrefix(name, "sr"):
		return true
	case strings.HasPrefix(name, "mmcblk") && (strings.Contains(name, "rpmb") || strings.Contains(name, "boot")):
		return true
	default:
		return false
	}
}
