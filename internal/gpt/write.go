package gpt

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// writerAt is the write-side counterpart of readerAt.
type writerAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

// Write recomputes both CRCs, then writes the protective MBR, the
// primary header and entry array, then the backup entry array and the
// backup header (with MyLBA/AlternateLBA and entry-array location
// swapped) (spec §4.2 "Write"). It does not fsync or reread the
// partition table; callers drive that through the blockdev package so
// this package stays free of ioctl/unix concerns.
func (t *Table) Write(w writerAt) error {
	entriesCRC, err := CalculateEntriesChecksum(t.Entries)
	if err != nil {
		return err
	}

	primary := t.Header
	primary.MyLBA = PrimaryHeaderLBA
	primary.AlternateLBA = t.TotalSectors - 1
	primary.PartitionEntryLBA = PrimaryEntryArrayLBA
	primary.PartitionEntryArrayCRC32 = entriesCRC
	if primary.HeaderCRC32, err = CalculateHeaderChecksum(primary); err != nil {
		return err
	}

	entryArrayLBAs := ceilDiv(uint64(primary.NumberOfPartitionEntries)*uint64(primary.SizeOfPartitionEntry), t.LBASize)
	backup := primary
	backup.MyLBA = t.TotalSectors - 1
	backup.AlternateLBA = PrimaryHeaderLBA
	backup.PartitionEntryLBA = t.TotalSectors - 1 - entryArrayLBAs
	if backup.HeaderCRC32, err = CalculateHeaderChecksum(backup); err != nil {
		return err
	}

	if err := writeAt(w, 0, t.PMBR); err != nil {
		return errors.Wrap(err, "writing protective MBR")
	}
	if err := writeAt(w, int64(PrimaryHeaderLBA*t.LBASize), primary); err != nil {
		return errors.Wrap(err, "writing primary header")
	}
	if err := writeEntriesAt(w, int64(primary.PartitionEntryLBA*t.LBASize), t.Entries); err != nil {
		return errors.Wrap(err, "writing primary entry array")
	}
	if err := writeEntriesAt(w, int64(backup.PartitionEntryLBA*t.LBASize), t.Entries); err != nil {
		return errors.Wrap(err, "writing backup entry array")
	}
	if err := writeAt(w, int64(backup.MyLBA*t.LBASize), backup); err != nil {
		return errors.Wrap(err, "writing backup header")
	}

	t.Header = primary
	return nil
}

func writeAt(w writerAt, offset int64, v interface{}) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return err
	}
	_, err := w.WriteAt(buf.Bytes(), offset)
	return err
}

func writeEntriesAt(w writerAt, offset int64, entries []PartitionEntry) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, entries); err != nil {
		return err
	}
	_, err := w.WriteAt(buf.Bytes(), offset)
	return err
}
