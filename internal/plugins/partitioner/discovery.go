package partitioner

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quanganh2627/platform-bootable-iago/internal/blockdev"
	"github.com/quanganh2627/platform-bootable-iago/internal/exec"
	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

// sysBlockDir and devDir are vars rather than consts so tests can point
// discovery at a fixture directory tree instead of the real /sys and
// /dev.
var (
	sysBlockDir = "/sys/block"
	devDir      = "/dev"
)

const (
	// MinDataPartSizeMiB is the Android CDD's minimum /data partition
	// size, charged against every layout regardless of branch (spec
	// §4.3.2).
	MinDataPartSizeMiB uint64 = 350

	mib = 1024 * 1024
)

var resizeAtPattern = regexp.MustCompile(`You might resize at (\d+) bytes`)

// DiscoverDisks performs the prepare-phase disk enumeration spec
// §4.3.1 describes: geometry, existing-GPT analysis (Windows/previous-
// install detection), and free-region discovery, all recorded into
// store under `disk.<name>:*` keys, with surviving names appended to
// `base:disks`.
func DiscoverDisks(ctx context.Context, store *options.Store, interactive bool) error {
	bootDevice := store.GetDefault("base:boot_device", "")

	disks, err := blockdev.DiscoverDisks(sysBlockDir, devDir)
	if err != nil {
		return errors.Wrap(err, "enumerating block devices")
	}

	var surviving []string
	for _, d := range disks {
		if bootDevice != "" && d.Path == bootDevice {
			continue
		}

		recordDiskGeometry(store, d)

		if err := analyzeExistingGPT(ctx, store, d, interactive); err != nil {
			logrus.WithError(err).WithField("disk", d.Name).Warn("iago::partitioner.prepare - GPT analysis failed, treating as unpartitioned")
		}

		surviving = append(surviving, d.Name)
		store.AppendToList("base:disks", d.Name)
	}

	if len(surviving) == 0 {
		return errors.New("no candidate install disks found")
	}
	return nil
}

func recordDiskGeometry(store *options.Store, d blockdev.Disk) {
	prefix := "disk." + d.Name + ":"
	store.Put(prefix+"sectors", strconv.FormatUint(d.SectorCount(), 10))
	store.Put(prefix+"lba_size", strconv.FormatUint(d.LogicalBlockSize, 10))
	store.Put(prefix+"size", strconv.FormatUint(d.SizeBytes, 10))
	store.Put(prefix+"model", readModel(d.Name))
	store.Put(prefix+"device", d.Path)
}

// readModel reads the sysfs device model attribute, falling back to
// the alternate "name" attribute some platforms expose instead (spec
// §4.3.1 "model (from a sysfs-like attribute with a fallback alternate
// name)").
func readModel(diskName string) string {
	for _, attr := range []string{"device/model", "device/name"} {
		data, err := os.ReadFile(filepath.Join(sysBlockDir, diskName, attr))
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return "unknown"
}

func analyzeExistingGPT(ctx context.Context, store *options.Store, d blockdev.Disk, interactive bool) error {
	f, err := os.Open(d.Path)
	if err != nil {
		return errors.Wrap(err, "opening disk for GPT read")
	}
	defer f.Close()

	tbl, hasGPT, err := gpt.Read(f, d.SectorCount(), d.LogicalBlockSize)
	if err != nil {
		return err
	}
	if !hasGPT {
		return nil
	}

	prefix := "disk." + d.Name + ":"

	var androidBytes uint64
	tbl.IteratePresent(func(index int, e *gpt.PartitionEntry) bool {
		name := gpt.DecodeUTF16LE(e.PartitionName)
		size := gpt.Size(e, d.LogicalBlockSize)

		switch e.PartitionTypeGUID {
		case gpt.TypeMicrosoftReserved:
			if msdata, merr := tbl.Entry(index + 1); merr == nil && msdata.Present() {
				store.Put(prefix+"msdata_index", strconv.Itoa(index+1))
				store.Put(prefix+"msdata_size", strconv.FormatUint(gpt.Size(msdata, d.LogicalBlockSize), 10))
				if interactive {
					probeNTFSMinSize(ctx, store, prefix, gpt.DeviceNodeForPartition(d.Path, index+1))
				}
			}
		case gpt.TypeESP:
			store.Put(prefix+"esp_index", strconv.Itoa(index))
			espMiB := (size + mib - 1) / mib
			store.Put(prefix+"esp_size", strconv.FormatUint(espMiB*mib, 10))
		}

		if HasInstallIDPrefix(name) && EntrySuffix(name) != "bootloader" {
			androidBytes += size
		}
		return true
	})
	store.Put(prefix+"android_size", strconv.FormatUint(androidBytes, 10))

	if start, end, ok := tbl.FindFreeRegion(); ok {
		store.Put(prefix+"free_start_lba", strconv.FormatUint(start, 10))
		store.Put(prefix+"free_end_lba", strconv.FormatUint(end, 10))
		store.Put(prefix+"free_size", strconv.FormatUint((end-start+1)*d.LogicalBlockSize, 10))
	}

	return nil
}

// probeNTFSMinSize shells out to ntfsresize in check-only and info
// modes and parses its "You might resize at " line (spec §4.3.1).
// Failure to determine a minimum size is never fatal: the three
// documented outcomes (not NTFS, chkdsk required, unreadable) all just
// leave msdata_minsize unset.
func probeNTFSMinSize(ctx context.Context, store *options.Store, prefix, partDevice string) {
	check, err := exec.RunCaptured(ctx, "ntfsresize", "--no-action", "--force", partDevice)
	if err != nil || check.ExitCode != 0 {
		logrus.WithField("device", partDevice).Debug("iago::partitioner.prepare - ntfsresize check failed, not probing minsize")
		return
	}

	info, err := exec.RunCaptured(ctx, "ntfsresize", "--info", "--no-action", "--force", partDevice)
	if err != nil {
		return
	}

	m := resizeAtPattern.FindStringSubmatch(info.Stdout)
	if m == nil {
		store.Put(prefix+"msdata_diagnostic", "ntfsresize did not report a minimum resize size (chkdsk may be required)")
		return
	}
	store.Put(prefix+"msdata_minsize", m[1])
}
