package partitioner

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/Microsoft/go-winio/pkg/guid"

	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
	"github.com/quanganh2627/platform-bootable-iago/internal/options"
	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

const testLBASize = 512

func newTestDisk(t *testing.T, sectors uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(int64(sectors * testLBASize)); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestStores(diskPath string, sectors uint64) pipeline.Stores {
	s := pipeline.Stores{Options: options.New(), Properties: options.New(), KCmdline: options.New()}

	s.Options.Put("base:install_disk", "testdisk")
	s.Options.Put("base:dualboot", "0")
	s.Options.Put("disk.testdisk:device", diskPath)
	s.Options.Put("disk.testdisk:sectors", strconv.FormatUint(sectors, 10))
	s.Options.Put("disk.testdisk:lba_size", strconv.Itoa(testLBASize))

	s.Options.Put("base:partitions", "bootloader misc system data")

	s.Options.Put("partition.bootloader:type", "esp")
	s.Options.Put("partition.bootloader:len", "64")
	s.Options.Put("partition.bootloader:flags", "system boot")

	s.Options.Put("partition.misc:type", "misc")
	s.Options.Put("partition.misc:len", "16")

	s.Options.Put("partition.system:type", "ext4")
	s.Options.Put("partition.system:len", "512")

	s.Options.Put("partition.data:type", "ext4")
	s.Options.Put("partition.data:len", "-1")
	s.Options.Put("partition.data:flags", "noauto")

	return s
}

func Test_Apply_WipeBranch(t *testing.T) {
	const sectors = 2 * 1024 * 1024 * 1024 / testLBASize // 2 GiB disk
	diskPath := newTestDisk(t, sectors)
	stores := newTestStores(diskPath, sectors)

	if err := Apply(context.Background(), stores); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	installID := stores.Options.GetDefault("base:install_id", "")
	if len(installID) != gpt.InstallIDLength {
		t.Fatalf("base:install_id = %q", installID)
	}
	if v := stores.KCmdline.GetDefault("androidboot.install_id", ""); v != installID {
		t.Fatalf("androidboot.install_id = %q, want %q", v, installID)
	}

	for _, name := range []string{"bootloader", "misc", "system", "data"} {
		if _, ok := stores.Options.Get("partition." + name + ":index"); !ok {
			t.Errorf("partition.%s:index not recorded", name)
		}
		if _, ok := stores.Options.Get("partition." + name + ":device"); !ok {
			t.Errorf("partition.%s:device not recorded", name)
		}
		if _, ok := stores.Options.Get("partition." + name + ":guid"); !ok {
			t.Errorf("partition.%s:guid not recorded", name)
		}
	}

	// bootloader2 is synthesized by the wipe branch but is not a
	// member of base:partitions, so only the GPT itself carries it.
	f, err := os.Open(diskPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tbl, hasGPT, err := gpt.Read(f, sectors, testLBASize)
	if err != nil || !hasGPT {
		t.Fatalf("gpt.Read after Apply: hasGPT=%v err=%v", hasGPT, err)
	}

	present := 0
	var sawPrefixed int
	tbl.IteratePresent(func(_ int, e *gpt.PartitionEntry) bool {
		present++
		name := gpt.DecodeUTF16LE(e.PartitionName)
		if HasInstallIDPrefix(name) {
			sawPrefixed++
		}
		return true
	})
	if present != 5 {
		t.Errorf("present entries = %d, want 5 (bootloader, bootloader2, misc, system, data)", present)
	}
	if sawPrefixed != present {
		t.Errorf("every entry created by Apply should carry the install-id prefix")
	}
}

func Test_Apply_WipeBranch_FailsWhenDiskTooSmall(t *testing.T) {
	const sectors = 200 * 1024 * 1024 / testLBASize // 200 MiB, far below requirement
	diskPath := newTestDisk(t, sectors)
	stores := newTestStores(diskPath, sectors)

	if err := Apply(context.Background(), stores); err == nil {
		t.Fatal("expected Apply to fail on an undersized disk")
	}
}

func mibToLBA(mib uint64) uint64 {
	return mib * 1024 * 1024 / testLBASize
}

// newDualBootFixture writes an existing GPT to a fresh disk image
// carrying an ESP, a Microsoft Reserved partition, and an NTFS data
// partition (all untouched by a prior install), followed by free
// space, and returns the disk path plus each entry's 1-based index.
func newDualBootFixture(t *testing.T, sectors uint64) (diskPath string, espIndex, msrIndex, msdataIndex int) {
	t.Helper()
	diskPath = newTestDisk(t, sectors)

	diskGUID, err := guid.NewV4()
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := gpt.New(sectors, testLBASize, diskGUID)
	if err != nil {
		t.Fatal(err)
	}

	cursor := gpt.MinFirstUsableLBA
	create := func(name string, typ guid.GUID, lenMiB uint64) int {
		lenLBA := mibToLBA(lenMiB)
		index, err := tbl.Create(name, typ, 0, cursor, cursor+lenLBA-1)
		if err != nil {
			t.Fatalf("fixture create %s: %v", name, err)
		}
		cursor += lenLBA
		return index
	}

	espIndex = create("EFI System", gpt.TypeESP, 64)
	msrIndex = create("Microsoft Reserved", gpt.TypeMicrosoftReserved, 16)
	msdataIndex = create("Basic data partition", gpt.TypeMicrosoftBasic, 600)

	f, err := os.OpenFile(diskPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := tbl.Write(f); err != nil {
		t.Fatal(err)
	}

	return diskPath, espIndex, msrIndex, msdataIndex
}

func Test_Apply_DualBoot_NoShrinkNeeded(t *testing.T) {
	const sectors = 4 * 1024 * 1024 * 1024 / testLBASize // 4 GiB disk
	diskPath, espIndex, _, msdataIndex := newDualBootFixture(t, sectors)

	stores := newTestStores(diskPath, sectors)
	stores.Options.Put("base:dualboot", "1")
	prefix := "disk.testdisk:"
	stores.Options.Put(prefix+"esp_index", strconv.Itoa(espIndex))
	stores.Options.Put(prefix+"esp_size", strconv.FormatUint(64*1024*1024, 10))
	stores.Options.Put(prefix+"msdata_index", strconv.Itoa(msdataIndex))
	stores.Options.Put(prefix+"msdata_size", strconv.FormatUint(600*1024*1024, 10))

	if err := Apply(context.Background(), stores); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	installID := stores.Options.GetDefault("base:install_id", "")
	if len(installID) != gpt.InstallIDLength {
		t.Fatalf("base:install_id = %q", installID)
	}
	if got := stores.Properties.GetDefault("ro.rtc_local_time", ""); got != "1" {
		t.Errorf("ro.rtc_local_time = %q, want \"1\"", got)
	}

	f, err := os.Open(diskPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tbl, hasGPT, err := gpt.Read(f, sectors, testLBASize)
	if err != nil || !hasGPT {
		t.Fatalf("gpt.Read after Apply: hasGPT=%v err=%v", hasGPT, err)
	}

	espEntry, err := tbl.Entry(espIndex)
	if err != nil {
		t.Fatal(err)
	}
	if name := gpt.DecodeUTF16LE(espEntry.PartitionName); name != installID+"bootloader" {
		t.Errorf("ESP name = %q, want %q", name, installID+"bootloader")
	}

	msdataEntry, err := tbl.Entry(msdataIndex)
	if err != nil {
		t.Fatal(err)
	}
	if msdataEntry.PartitionTypeGUID != gpt.TypeMicrosoftBasic {
		t.Errorf("Windows data partition was modified, type = %v", msdataEntry.PartitionTypeGUID)
	}

	for _, name := range []string{"misc", "system", "data"} {
		if _, ok := stores.Options.Get("partition." + name + ":index"); !ok {
			t.Errorf("partition.%s:index not recorded", name)
		}
	}
}

func Test_Apply_DualBoot_DeletesPreviousInstallEntries(t *testing.T) {
	const sectors = 4 * 1024 * 1024 * 1024 / testLBASize // 4 GiB disk
	diskPath := newTestDisk(t, sectors)

	oldID, err := GenerateInstallID()
	if err != nil {
		t.Fatal(err)
	}

	diskGUID, err := guid.NewV4()
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := gpt.New(sectors, testLBASize, diskGUID)
	if err != nil {
		t.Fatal(err)
	}

	cursor := gpt.MinFirstUsableLBA
	create := func(name string, typ guid.GUID, lenMiB uint64) int {
		lenLBA := mibToLBA(lenMiB)
		index, cerr := tbl.Create(name, typ, 0, cursor, cursor+lenLBA-1)
		if cerr != nil {
			t.Fatalf("fixture create %s: %v", name, cerr)
		}
		cursor += lenLBA
		return index
	}

	espIndex := create(oldID+"bootloader", gpt.TypeESP, 64)
	create(oldID+"misc", gpt.TypeAndroidMisc, 16)
	create(oldID+"system", gpt.TypeLinuxFilesystem, 512)
	create(oldID+"data", gpt.TypeLinuxFilesystem, 512)

	f, err := os.OpenFile(diskPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.Write(f); err != nil {
		t.Fatal(err)
	}
	f.Close()

	stores := newTestStores(diskPath, sectors)
	stores.Options.Put("base:dualboot", "1")
	prefix := "disk.testdisk:"
	stores.Options.Put(prefix+"esp_index", strconv.Itoa(espIndex))
	stores.Options.Put(prefix+"esp_size", strconv.FormatUint(64*1024*1024, 10))

	if err := Apply(context.Background(), stores); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	installID := stores.Options.GetDefault("base:install_id", "")
	if installID == oldID {
		t.Fatal("expected a freshly generated install-id distinct from the previous install's")
	}

	rf, err := os.Open(diskPath)
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()
	rtbl, hasGPT, err := gpt.Read(rf, sectors, testLBASize)
	if err != nil || !hasGPT {
		t.Fatalf("gpt.Read after Apply: hasGPT=%v err=%v", hasGPT, err)
	}

	var oldSurvivors, newEntries int
	rtbl.IteratePresent(func(_ int, e *gpt.PartitionEntry) bool {
		name := gpt.DecodeUTF16LE(e.PartitionName)
		switch {
		case HasInstallIDPrefix(name) && name[:len(oldID)] == oldID && EntrySuffix(name) != "bootloader":
			oldSurvivors++
		case HasInstallIDPrefix(name) && name[:len(installID)] == installID:
			newEntries++
		}
		return true
	})
	if oldSurvivors != 0 {
		t.Errorf("%d previous-install entries survived, want 0", oldSurvivors)
	}
	// bootloader (renamed, reused slot) + misc + system + data.
	if newEntries != 4 {
		t.Errorf("new-install entries = %d, want 4", newEntries)
	}
}
