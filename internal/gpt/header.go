package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/pkg/errors"
)

// NewHeader synthesizes a fresh GPT header for a disk of the given
// geometry (spec §4.2 "Construct new GPT (wipe path)"). diskGUID should
// be deterministic in tests and random in production.
func NewHeader(totalSectors uint64, diskGUID guid.GUID) Header {
	entryArrayBytes := uint64(DefaultNumPartitionEntries) * uint64(DefaultSizeOfPartitionEntry)
	entryArrayLBAs := ceilDiv(entryArrayBytes, BlockSizeLogical)

	h := Header{
		Signature:                HeaderSignature,
		Revision:                 HeaderRevision,
		HeaderSize:               HeaderSize,
		MyLBA:                    PrimaryHeaderLBA,
		AlternateLBA:             totalSectors - 1,
		FirstUsableLBA:           2 + entryArrayLBAs,
		LastUsableLBA:            (totalSectors - 1) - 1 - entryArrayLBAs,
		DiskGUID:                 diskGUID,
		PartitionEntryLBA:        PrimaryEntryArrayLBA,
		NumberOfPartitionEntries: DefaultNumPartitionEntries,
		SizeOfPartitionEntry:     DefaultSizeOfPartitionEntry,
	}
	return h
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// FindNextUnusedLogicalBlock returns the first block not (even
// partially) covered by the first bytePosition bytes of the disk, i.e.
// bytePosition divided by the block size, rounded up.
func FindNextUnusedLogicalBlock(bytePosition uint64) uint64 {
	block := bytePosition / BlockSizeLogical
	if bytePosition%BlockSizeLogical == 0 {
		return block
	}
	return block + 1
}

// CalculateHeaderChecksum computes the header's CRC32 with the checksum
// field itself zeroed, as the UEFI spec requires.
func CalculateHeaderChecksum(h Header) (uint32, error) {
	h.HeaderCRC32 = 0
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return 0, errors.Wrap(err, "encoding header for checksum")
	}
	return crc32.ChecksumIEEE(buf.Bytes()[:HeaderSize]), nil
}

// CalculateEntriesChecksum computes the CRC32 over the raw encoded entry
// array (every slot, including empty ones).
func CalculateEntriesChecksum(entries []PartitionEntry) (uint32, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, entries); err != nil {
		return 0, errors.Wrap(err, "encoding entries for checksum")
	}
	return crc32.ChecksumIEEE(buf.Bytes()), nil
}

// readHeaderAt reads and decodes one header-sized block at the given LBA,
// without validating it.
func readHeaderAt(r io.ReaderAt, lba, lbaSize uint64) (Header, error) {
	buf := make([]byte, lbaSize)
	if _, err := r.ReadAt(buf, int64(lba*lbaSize)); err != nil {
		return Header{}, errors.Wrapf(err, "reading header at LBA %d", lba)
	}
	var h Header
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &h); err != nil {
		return Header{}, errors.Wrap(err, "decoding header")
	}
	return h, nil
}

// validateHeader checks signature, revision, size, and CRC32; the
// reserved fields are not checked. Per spec §4.2, CRC validation is a correctness upgrade this
// implementation performs even though the original installer did not.
func validateHeader(h Header) error {
	if h.Signature != HeaderSignature {
		return fmt.Errorf("bad GPT signature %#x", h.Signature)
	}
	if h.Revision != HeaderRevision {
		return fmt.Errorf("unsupported GPT revision %#x", h.Revision)
	}
	if h.HeaderSize != HeaderSize {
		return fmt.Errorf("unexpected header size %d", h.HeaderSize)
	}
	want, err := CalculateHeaderChecksum(h)
	if err != nil {
		return err
	}
	if want != h.HeaderCRC32 {
		return fmt.Errorf("header CRC32 mismatch: got %#x want %#x", h.HeaderCRC32, want)
	}
	return nil
}
