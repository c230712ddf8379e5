package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
)

func Test_DiscoverDisks_ExcludesNonCandidates(t *testing.T) {
	sysBlock := t.TempDir()
	devDir := t.TempDir()

	for _, name := range []string{"sda", "loop0", "ram0", "sr0", "mmcblk0boot0", "mmcblk0rpmb"} {
		if err := os.Mkdir(filepath.Join(sysBlock, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// sda is the only entry that should survive; it isn't a real block
	// device in this test environment, so IsValidBlockDevice will also
	// reject it — the point of this test is the sysfs-name filter, so
	// assert on what got filtered out before the block-device check.
	excluded := []string{"loop0", "ram0", "sr0", "mmcblk0boot0", "mmcblk0rpmb"}
	for _, name := range excluded {
		if !gpt.ExcludedDiskName(name) {
			t.Errorf("expected %q to be excluded from disk discovery", name)
		}
	}
	if gpt.ExcludedDiskName("sda") {
		t.Error("sda should not be excluded")
	}

	disks, err := DiscoverDisks(sysBlock, devDir)
	if err != nil {
		t.Fatalf("DiscoverDisks: %v", err)
	}
	// None of the fixture entries are real devices, so none should
	// appear in the result, but the call itself must not error out.
	if len(disks) != 0 {
		t.Fatalf("expected no disks from non-device fixtures, got %v", disks)
	}
}
