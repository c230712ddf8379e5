package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_LoadInto_FlattensSections(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.ini", "[base]\ndual_boot=1\n[bootloader]\ntype=efi\n")

	store := options.New()
	if err := LoadInto(store, []string{path}); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if v, ok := store.Get("base:dual_boot"); !ok || v != "1" {
		t.Fatalf("base:dual_boot = (%q,%v)", v, ok)
	}
	if v, ok := store.Get("bootloader:type"); !ok || v != "efi" {
		t.Fatalf("bootloader:type = (%q,%v)", v, ok)
	}
}

func Test_LoadInto_LaterFileOverrides(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ini", "[base]\ndual_boot=0\n")
	b := writeFile(t, dir, "b.ini", "[base]\ndual_boot=1\n")

	store := options.New()
	if err := LoadInto(store, []string{a, b}); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if v, _ := store.Get("base:dual_boot"); v != "1" {
		t.Fatalf("expected later file to win, got %q", v)
	}
}

func Test_LoadInto_RejectsDiskSection(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.ini", "[disk.sda]\nsectors=100\n")

	store := options.New()
	if err := LoadInto(store, []string{path}); err == nil {
		t.Fatal("expected a disk.* section in config to be rejected")
	}
}

func Test_CombineAndWrite_SkipsDiskEntries(t *testing.T) {
	store := options.New()
	store.Put("base:dual_boot", "1")
	store.Put("disk.sda:sectors", "100")

	dest := filepath.Join(t.TempDir(), "combined.ini")
	if err := CombineAndWrite(store, dest); err != nil {
		t.Fatalf("CombineAndWrite: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "dual_boot=1") {
		t.Fatalf("expected combined ini to contain dual_boot=1, got %q", content)
	}
	if strings.Contains(content, "disk.sda") {
		t.Fatalf("expected combined ini to omit disk.* entries, got %q", content)
	}
}
