package partitioner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

func Test_ResizeAtPattern(t *testing.T) {
	cases := []struct {
		output string
		want   string
		wantOK bool
	}{
		{"Checking filesystems...\nYou might resize at 20971520 bytes or 20 MB\n", "20971520", true},
		{"ntfsresize v2017.3.23\nNTFS volume version: 3.1\n", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		m := resizeAtPattern.FindStringSubmatch(c.output)
		if c.wantOK && (m == nil || m[1] != c.want) {
			t.Errorf("FindStringSubmatch(%q) = %v, want %q", c.output, m, c.want)
		}
		if !c.wantOK && m != nil {
			t.Errorf("FindStringSubmatch(%q) = %v, want no match", c.output, m)
		}
	}
}

func withFixtureDirs(t *testing.T) (sysBlock, dev string) {
	t.Helper()
	origSys, origDev := sysBlockDir, devDir
	sysBlock = filepath.Join(t.TempDir(), "sys-block")
	dev = filepath.Join(t.TempDir(), "dev")
	if err := os.MkdirAll(sysBlock, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dev, 0o755); err != nil {
		t.Fatal(err)
	}
	sysBlockDir, devDir = sysBlock, dev
	t.Cleanup(func() { sysBlockDir, devDir = origSys, origDev })
	return sysBlock, dev
}

func Test_DiscoverDisks_NoCandidatesIsFatal(t *testing.T) {
	sysBlock, _ := withFixtureDirs(t)

	// loop0 is excluded by name, and it carries no backing dev node
	// anyway — DiscoverDisks should end up with zero surviving disks.
	if err := os.MkdirAll(filepath.Join(sysBlock, "loop0"), 0o755); err != nil {
		t.Fatal(err)
	}

	store := options.New()
	if err := DiscoverDisks(context.Background(), store, false); err == nil {
		t.Fatal("expected an error when no candidate disks survive exclusion")
	}
}

func Test_ReadModel_FallsBackToNameAttribute(t *testing.T) {
	sysBlock, _ := withFixtureDirs(t)

	diskDir := filepath.Join(sysBlock, "mmcblk0", "device")
	if err := os.MkdirAll(diskDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(diskDir, "name"), []byte("SDCARD\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := readModel("mmcblk0"); got != "SDCARD" {
		t.Errorf("readModel() = %q, want %q", got, "SDCARD")
	}
}

func Test_ReadModel_Unknown(t *testing.T) {
	withFixtureDirs(t)
	if got := readModel("nonexistent"); got != "unknown" {
		t.Errorf("readModel() = %q, want %q", got, "unknown")
	}
}
