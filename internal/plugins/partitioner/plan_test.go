package partitioner

import (
	"testing"

	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

func Test_LoadPlan(t *testing.T) {
	store := options.New()
	store.Put("base:partitions", "bootloader system")

	store.Put("partition.bootloader:type", "esp")
	store.Put("partition.bootloader:len", "128")
	store.Put("partition.bootloader:mode", "format")
	store.Put("partition.bootloader:flags", "system boot")

	store.Put("partition.system:type", "ext4")
	store.Put("partition.system:len", "-1")

	plan, err := LoadPlan(store)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("len(plan) = %d, want 2", len(plan))
	}

	if plan[0].Name != "bootloader" || plan[0].Type != "esp" || plan[0].LenMiB != 128 {
		t.Errorf("plan[0] = %+v", plan[0])
	}
	if mib, fixed := plan[0].FixedLenMiB(); !fixed || mib != 128 {
		t.Errorf("plan[0].FixedLenMiB() = (%d,%v)", mib, fixed)
	}

	if plan[1].Name != "system" || plan[1].Mode != "format" {
		t.Errorf("plan[1] = %+v", plan[1])
	}
	if _, fixed := plan[1].FixedLenMiB(); fixed {
		t.Errorf("plan[1] should be a fill-remaining entry")
	}
}

func Test_LoadPlan_MissingTypeIsFatal(t *testing.T) {
	store := options.New()
	store.Put("base:partitions", "system")
	store.Put("partition.system:len", "100")

	if _, err := LoadPlan(store); err == nil {
		t.Fatal("expected an error for a missing type key")
	}
}

func Test_SaveResult(t *testing.T) {
	store := options.New()
	pp := &PlannedPartition{Name: "system", Index: 3, Device: "/dev/sda3", GUID: "abc"}
	SaveResult(store, pp)

	if v := store.GetDefault("partition.system:index", ""); v != "3" {
		t.Errorf("index = %q", v)
	}
	if v := store.GetDefault("partition.system:device", ""); v != "/dev/sda3" {
		t.Errorf("device = %q", v)
	}
	if v := store.GetDefault("partition.system:guid", ""); v != "abc" {
		t.Errorf("guid = %q", v)
	}
}
