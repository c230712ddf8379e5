package blockdev

import (
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// RereadPartitionTable makes the kernel re-read f's partition table,
// following the same syscall sequence fdisk(8) uses and gokr-packer
// copies: a global sync, the BLKRRPART ioctl, an fsync of the device
// file, and a second global sync. BLKRRPART commonly fails with EBUSY
// when a partition on the device is mounted; that failure is logged,
// not returned, since the caller typically reboots to pick up the new
// table anyway (spec §6 "reboot").
func RereadPartitionTable(f *os.File) error {
	unix.Sync()

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKRRPART, 0); errno != 0 {
		logrus.WithError(errno).WithField("device", f.Name()).
			Warn("blockdev: re-reading partition table failed; a reboot will pick up the new layout")
	}

	if err := f.Sync(); err != nil {
		return err
	}

	unix.Sync()
	return nil
}
