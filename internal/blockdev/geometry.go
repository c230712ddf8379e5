// Package blockdev reads disk geometry and drives the ioctls needed to
// make the kernel notice a freshly written partition table, following
// the conventions gokrazy-tools' packer uses for the same operations
// against SD cards and disk images.
package blockdev

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Geometry describes the addressable size and block size of a disk, as
// read directly from the kernel rather than trusted from a config file
// (spec §4.3.1 "disk discovery").
type Geometry struct {
	SizeBytes        uint64
	LogicalBlockSize uint64
}

// SectorCount is SizeBytes expressed in LogicalBlockSize units.
func (g Geometry) SectorCount() uint64 {
	if g.LogicalBlockSize == 0 {
		return 0
	}
	return g.SizeBytes / g.LogicalBlockSize
}

// ReadGeometry queries an open block device for its size and logical
// sector size via BLKGETSIZE64 and BLKSSZGET. A device that does not
// report a sector size is assumed to use the GPT-standard 512-byte
// logical block, matching how gokr-packer treats devices lacking the
// ioctl.
func ReadGeometry(f *os.File) (Geometry, error) {
	size, err := ioctlUint64(f.Fd(), unix.BLKGETSIZE64)
	if err != nil {
		return Geometry{}, errors.Wrap(err, "BLKGETSIZE64")
	}

	blockSize, err := ioctlUint32(f.Fd(), unix.BLKSSZGET)
	if err != nil || blockSize == 0 {
		blockSize = 512
	}

	return Geometry{SizeBytes: size, LogicalBlockSize: uint64(blockSize)}, nil
}

func ioctlUint64(fd uintptr, req uintptr) (uint64, error) {
	var v uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&v))); errno != 0 {
		return 0, errno
	}
	return v, nil
}

func ioctlUint32(fd uintptr, req uintptr) (uint32, error) {
	var v uint32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&v))); errno != 0 {
		return 0, errno
	}
	return v, nil
}
