package partitioner

import (
	"context"
	"os"
	"strconv"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/pkg/errors"

	"github.com/quanganh2627/platform-bootable-iago/internal/blockdev"
	"github.com/quanganh2627/platform-bootable-iago/internal/exec"
	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

const cmdlineInstallID = "androidboot.install_id"

// Apply runs the execute-phase work spec §4.3.3 describes: install-id
// generation, then one of the wipe or dual-boot branches, then the
// shared guid/write/reread tail.
func Apply(ctx context.Context, stores pipeline.Stores) error {
	installID, err := GenerateInstallID()
	if err != nil {
		return errors.Wrap(err, "generating install-id")
	}
	stores.Options.Put("base:install_id", installID)
	stores.KCmdline.Put(cmdlineInstallID, installID)

	disk := stores.Options.GetDefault("base:install_disk", "")
	if disk == "" {
		return errors.New("no install disk selected")
	}
	prefix := "disk." + disk + ":"
	device := stores.Options.GetDefault(prefix+"device", "")

	dev, err := blockdev.OpenPrivileged(device)
	if err != nil {
		return errors.Wrapf(err, "opening %s for partitioning", device)
	}
	defer dev.Close()

	lbaSize, _ := strconv.ParseUint(stores.Options.GetDefault(prefix+"lba_size", "512"), 10, 64)
	sectors, _ := strconv.ParseUint(stores.Options.GetDefault(prefix+"sectors", "0"), 10, 64)

	plan, err := LoadPlan(stores.Options)
	if err != nil {
		return err
	}

	dualboot := stores.Options.GetDefault("base:dualboot", "0") == "1"

	var tbl *gpt.Table
	if dualboot {
		tbl, err = applyDualBoot(ctx, stores, dev, device, prefix, plan, sectors, lbaSize, installID)
	} else {
		tbl, err = applyWipe(dev, device, plan, sectors, lbaSize, installID)
	}
	if err != nil {
		return err
	}

	for _, pp := range plan {
		if pp.Index != 0 {
			if e, eerr := tbl.Entry(pp.Index); eerr == nil {
				pp.GUID = e.UniquePartitionGUID.String()
			}
		}
		SaveResult(stores.Options, pp)
	}

	if err := tbl.Write(dev); err != nil {
		return errors.Wrap(err, "writing GPT")
	}
	if err := blockdev.RereadPartitionTable(dev); err != nil {
		return errors.Wrap(err, "rereading partition table")
	}
	return nil
}

// applyWipe builds the fresh GPT described in spec §4.3.3's wipe
// branch: a synthesized table, a doubled bootloader/bootloader2 pair,
// and the remaining configured partitions walked in order.
func applyWipe(dev *os.File, device string, plan []*PlannedPartition, sectors, lbaSize uint64, installID string) (*gpt.Table, error) {
	diskGUID, err := guid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "generating disk GUID")
	}
	tbl, err := gpt.New(sectors, lbaSize, diskGUID)
	if err != nil {
		return nil, err
	}

	plan = withDoubledBootloader(plan)

	start, end, ok := tbl.FindFreeRegion()
	if !ok {
		return nil, errors.New("no free region on a freshly initialized disk")
	}

	diskMiB := ((end - start + 1) * lbaSize) / mib
	required := sumFixedMiB(plan)
	if diskMiB < required+MinDataPartSizeMiB {
		return nil, errors.Errorf("free region (%d MiB) smaller than required %d MiB + minimum data partition", diskMiB, required)
	}

	if err := createPartitions(tbl, device, plan, start, end, lbaSize, installID); err != nil {
		return nil, err
	}
	return tbl, nil
}

// applyDualBoot implements spec §4.3.3's dual-boot branch against an
// existing GPT: optional NTFS resize, previous-install cleanup, the
// bootloader/ESP hand-off, and creation of the remaining partitions in
// the surviving free region.
func applyDualBoot(ctx context.Context, stores pipeline.Stores, dev *os.File, device, prefix string, plan []*PlannedPartition, sectors, lbaSize uint64, installID string) (*gpt.Table, error) {
	tbl, hasGPT, err := gpt.Read(dev, sectors, lbaSize)
	if err != nil {
		return nil, err
	}
	if !hasGPT {
		return nil, errors.New("dual-boot branch requires an existing GPT")
	}

	msdataIndexStr, hasMSData := stores.Options.Get(prefix + "msdata_index")
	if resizeStr, ok := stores.Options.Get(prefix + "windows_resize"); ok && hasMSData {
		msdataIndex, _ := strconv.Atoi(msdataIndexStr)
		partDevice := gpt.DeviceNodeForPartition(device, msdataIndex)

		if res, err := exec.Run(ctx, "ntfsresize", "--no-action", "--force", "--size", resizeStr, partDevice); err != nil {
			return nil, errors.Wrap(err, "ntfsresize dry run failed, disk is likely corrupt")
		} else if res.ExitCode != 0 {
			return nil, errors.Errorf("ntfsresize dry run exited %d, disk is likely corrupt", res.ExitCode)
		}
		if res, err := exec.Run(ctx, "ntfsresize", "--force", "--size", resizeStr, partDevice); err != nil {
			return nil, errors.Wrap(err, "ntfsresize failed, aborting dual-boot install")
		} else if res.ExitCode != 0 {
			return nil, errors.Errorf("ntfsresize exited %d, aborting dual-boot install", res.ExitCode)
		}

		resizeBytes, _ := strconv.ParseUint(resizeStr, 10, 64)
		entry, eerr := tbl.Entry(msdataIndex)
		if eerr != nil {
			return nil, eerr
		}
		entry.EndingLBA = entry.StartingLBA + (resizeBytes/lbaSize) - 1
	}

	if hasMSData {
		stores.Properties.Put("ro.rtc_local_time", "1")
	}

	deletePreviousInstallEntries(tbl)

	espIndexStr, hasESP := stores.Options.Get(prefix + "esp_index")
	if !hasESP {
		return nil, errors.New("dual-boot branch requires an existing ESP")
	}
	espIndex, _ := strconv.Atoi(espIndexStr)
	espSize, _ := strconv.ParseUint(stores.Options.GetDefault(prefix+"esp_size", "0"), 10, 64)

	bootloaderPlan := findPlan(plan, "bootloader")
	if bootloaderPlan != nil {
		bootloaderPlan.Mode = "skip"
		bootloaderPlan.LenMiB = int64(espSize / mib)
		bootloaderPlan.Index = espIndex
		bootloaderPlan.Device = gpt.DeviceNodeForPartition(device, espIndex)
	}

	remaining := make([]*PlannedPartition, 0, len(plan))
	for _, pp := range plan {
		if pp.Name != "bootloader" {
			remaining = append(remaining, pp)
		}
	}

	start, end, ok := tbl.FindFreeRegion()
	if !ok {
		return nil, errors.New("no free region remains for the dual-boot install")
	}
	if err := createPartitions(tbl, device, remaining, start, end, lbaSize, installID); err != nil {
		return nil, err
	}

	if espEntry, eerr := tbl.Entry(espIndex); eerr == nil {
		if err := gpt.SetName(espEntry, installID+"bootloader"); err != nil {
			return nil, errors.Wrap(err, "renaming ESP to the new install identity")
		}
	}

	return tbl, nil
}

// withDoubledBootloader returns plan with a synthetic "bootloader2"
// entry inserted immediately after "bootloader", sharing its type,
// flags, and length (spec §4.3.3 step 2).
func withDoubledBootloader(plan []*PlannedPartition) []*PlannedPartition {
	out := make([]*PlannedPartition, 0, len(plan)+1)
	for _, pp := range plan {
		out = append(out, pp)
		if pp.Name == "bootloader" {
			second := *pp
			second.Name = "bootloader2"
			out = append(out, &second)
		}
	}
	return out
}

func findPlan(plan []*PlannedPartition, name string) *PlannedPartition {
	for _, pp := range plan {
		if pp.Name == name {
			return pp
		}
	}
	return nil
}

func sumFixedMiB(plan []*PlannedPartition) uint64 {
	var sum uint64
	for _, pp := range plan {
		if lenMiB, fixed := pp.FixedLenMiB(); fixed && lenMiB > 0 {
			sum += uint64(lenMiB)
		}
	}
	return sum
}

// deletePreviousInstallEntries removes every install-id-prefixed entry
// from a prior run, except one suffixed "bootloader" (the operator's
// ESP, which this run will relabel rather than delete) (spec §4.3.3
// dual-boot step 4).
func deletePreviousInstallEntries(tbl *gpt.Table) {
	var toDelete []int
	tbl.IteratePresent(func(index int, e *gpt.PartitionEntry) bool {
		name := gpt.DecodeUTF16LE(e.PartitionName)
		if HasInstallIDPrefix(name) && EntrySuffix(name) != "bootloader" {
			toDelete = append(toDelete, index)
		}
		return true
	})
	for _, index := range toDelete {
		_ = tbl.Delete(index)
	}
}

// createPartitions walks plan in order, creating each non-skip entry
// within [regionStart, regionEnd], resolving "fill remaining" lengths
// against the region's total MiB (spec §4.3.3 step 4). The first entry
// starts at the first MiB-aligned LBA at or after regionStart; every
// length is a whole number of MiB, so the later entries stay aligned.
func createPartitions(tbl *gpt.Table, device string, plan []*PlannedPartition, regionStart, regionEnd, lbaSize uint64, installID string) error {
	if align := uint64(mib) / lbaSize; align > 1 {
		regionStart = (regionStart + align - 1) / align * align
	}
	if regionStart > regionEnd {
		return errors.New("free region is too small after MiB alignment")
	}
	regionMiB := ((regionEnd - regionStart + 1) * lbaSize) / mib
	fixedMiB := sumFixedMiB(plan)

	cursor := regionStart
	for _, pp := range plan {
		if pp.Mode == "skip" {
			continue
		}

		lenMiB, fixed := pp.FixedLenMiB()
		if !fixed {
			if regionMiB <= fixedMiB {
				return errors.Errorf("partition %s: no space remains for a fill-remaining entry", pp.Name)
			}
			lenMiB = int64(regionMiB - fixedMiB)
		}

		if len(pp.Name) > gpt.MaxEntryNameASCII {
			return errors.Errorf("partition %s: name exceeds %d characters", pp.Name, gpt.MaxEntryNameASCII)
		}

		lenLBA := uint64(lenMiB) * mib / lbaSize
		firstLBA := cursor
		lastLBA := firstLBA + lenLBA - 1
		if lastLBA > regionEnd {
			return errors.Errorf("partition %s: does not fit in the remaining free region", pp.Name)
		}

		flags, err := ParseFlags(pp.Flags)
		if err != nil {
			return err
		}
		typeGUID, err := TypeGUIDForToken(pp.Type)
		if err != nil {
			return err
		}

		index, err := tbl.Create(installID+pp.Name, typeGUID, flags, firstLBA, lastLBA)
		if err != nil {
			return errors.Wrapf(err, "creating partition %s", pp.Name)
		}

		pp.Index = index
		pp.Device = gpt.DeviceNodeForPartition(device, index)
		cursor = lastLBA + 1
	}
	return nil
}
