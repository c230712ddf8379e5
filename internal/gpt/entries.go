package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/pkg/errors"
)

// readEntries decodes numEntries partition-entry records starting at
// entryArrayLBA.
func readEntries(r readerAt, entryArrayLBA, lbaSize uint64, numEntries, entrySize uint32) ([]PartitionEntry, error) {
	raw := make([]byte, uint64(numEntries)*uint64(entrySize))
	if _, err := r.ReadAt(raw, int64(entryArrayLBA*lbaSize)); err != nil {
		return nil, errors.Wrap(err, "reading partition entry array")
	}

	entries := make([]PartitionEntry, numEntries)
	br := bytes.NewReader(raw)
	for i := range entries {
		if err := binary.Read(br, binary.LittleEndian, &entries[i]); err != nil {
			return nil, errors.Wrapf(err, "decoding entry %d", i)
		}
	}
	return entries, nil
}

type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Entry returns the 1-based entry at index. Index 0 never refers to a
// real partition (spec §3); out-of-range is a programmer error and is
// reported as such rather than silently returning a zero value.
func (t *Table) Entry(index int) (*PartitionEntry, error) {
	if index < 1 || index > len(t.Entries) {
		return nil, fmt.Errorf("partition index %d out of range (1..%d)", index, len(t.Entries))
	}
	return &t.Entries[index-1], nil
}

// IteratePresent visits every present slot (StartingLBA != 0) in index
// order, 1-based, without compacting the backing array.
func (t *Table) IteratePresent(fn func(index int, e *PartitionEntry) bool) {
	for i := range t.Entries {
		if t.Entries[i].Present() {
			if !fn(i+1, &t.Entries[i]) {
				return
			}
		}
	}
}

// lowestFreeSlot returns the 1-based index of the first slot with
// StartingLBA == 0, or 0 if the table is full.
func (t *Table) lowestFreeSlot() int {
	for i := range t.Entries {
		if !t.Entries[i].Present() {
			return i + 1
		}
	}
	return 0
}

// Create allocates the lowest-numbered free slot for a new partition
// spanning [firstLBA, lastLBA] (inclusive both ends), after verifying the
// range lies within the usable area and does not overlap any present
// entry. A full table is fatal to the caller (spec §4.2, §7).
func (t *Table) Create(name string, typeGUID guid.GUID, flags uint64, firstLBA, lastLBA uint64) (int, error) {
	if firstLBA < t.Header.FirstUsableLBA || lastLBA > t.Header.LastUsableLBA || firstLBA > lastLBA {
		return 0, fmt.Errorf("partition range [%d,%d] outside usable area [%d,%d]",
			firstLBA, lastLBA, t.Header.FirstUsableLBA, t.Header.LastUsableLBA)
	}

	var overlap error
	t.IteratePresent(func(_ int, e *PartitionEntry) bool {
		if firstLBA <= e.EndingLBA && e.StartingLBA <= lastLBA {
			overlap = fmt.Errorf("range [%d,%d] overlaps existing partition [%d,%d]",
				firstLBA, lastLBA, e.StartingLBA, e.EndingLBA)
			return false
		}
		return true
	})
	if overlap != nil {
		return 0, overlap
	}

	index := t.lowestFreeSlot()
	if index == 0 {
		return 0, errors.New("partition table is full")
	}

	entry := &t.Entries[index-1]
	*entry = PartitionEntry{
		PartitionTypeGUID: typeGUID,
		StartingLBA:       firstLBA,
		EndingLBA:         lastLBA,
		Attributes:        flags,
	}
	newGUID, err := guid.NewV4()
	if err != nil {
		return 0, errors.Wrap(err, "generating partition GUID")
	}
	entry.UniquePartitionGUID = newGUID
	if err := SetName(entry, name); err != nil {
		return 0, err
	}
	return index, nil
}

// Delete zeroes the slot at index, making it free again.
func (t *Table) Delete(index int) error {
	e, err := t.Entry(index)
	if err != nil {
		return err
	}
	*e = PartitionEntry{}
	return nil
}

// Size returns the byte length of the partition described by e. FirstLBA
// and LastLBA are both inclusive, hence the +1 (spec §4.2).
func Size(e *PartitionEntry, lbaSize uint64) uint64 {
	if !e.Present() {
		return 0
	}
	return (e.EndingLBA - e.StartingLBA + 1) * lbaSize
}

// SetName encodes name as UTF-16LE into the entry's 36-code-unit name
// field, rejecting names that would leave no room for the 16-character
// install-id prefix (spec §4.2, §7).
func SetName(e *PartitionEntry, name string) error {
	if len(name) > MaxEntryNameASCII {
		return fmt.Errorf("partition name %q exceeds %d ASCII characters", name, MaxEntryNameASCII)
	}
	units, err := EncodeUTF16LE(name)
	if err != nil {
		return err
	}
	e.PartitionName = units
	return nil
}

// EncodeUTF16LE encodes s into the fixed 36-code-unit, zero-padded field
// used for on-disk partition names. Names longer than NameCodeUnits code
// units are truncated.
func EncodeUTF16LE(s string) ([NameCodeUnits]uint16, error) {
	var out [NameCodeUnits]uint16
	units := utf16.Encode([]rune(s))
	if len(units) > NameCodeUnits {
		units = units[:NameCodeUnits]
	}
	copy(out[:], units)
	return out, nil
}

// DecodeUTF16LE decodes a fixed name field back to a Go string, stopping
// at the first zero code unit.
func DecodeUTF16LE(units [NameCodeUnits]uint16) string {
	end := 0
	for ; end < len(units); end++ {
		if units[end] == 0 {
			break
		}
	}
	return string(utf16.Decode(units[:end]))
}
