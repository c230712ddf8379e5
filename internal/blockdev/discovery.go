package blockdev

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
)

// Disk is a candidate install target surfaced during the partitioner's
// prepare phase (spec §4.3.1).
type Disk struct {
	Name string // e.g. "sda", "nvme0n1", "mmcblk0"
	Path string // e.g. "/dev/sda"
	Geometry
}

// DiscoverDisks lists every non-excluded block device under
// sysBlockDir (normally "/sys/block"), opening each candidate just long
// enough to read its geometry. Entries gpt.ExcludedDiskName rejects
// (loop, ram, optical, eMMC boot/rpmb partitions) are skipped
// silently, matching the original installer's device enumeration in
// installer/partitioner.c.
func DiscoverDisks(sysBlockDir, devDir string) ([]Disk, error) {
	entries, err := os.ReadDir(sysBlockDir)
	if err != nil {
		return nil, errors.Wrap(err, "reading /sys/block")
	}

	var disks []Disk
	for _, entry := range entries {
		name := entry.Name()
		if gpt.ExcludedDiskName(name) {
			continue
		}

		path := filepath.Join(devDir, name)
		if !gpt.IsValidBlockDevice(path) {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			continue
		}
		geom, err := ReadGeometry(f)
		f.Close()
		if err != nil || geom.SizeBytes == 0 {
			continue
		}

		disks = append(disks, Disk{Name: name, Path: path, Geometry: geom})
	}

	sort.Slice(disks, func(i, j int) bool { return disks[i].Name < disks[j].Name })
	return disks, nil
}
