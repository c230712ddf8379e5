package partitioner

import (
	"strings"
	"testing"

	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
)

func Test_GenerateInstallID_Shape(t *testing.T) {
	id, err := GenerateInstallID()
	if err != nil {
		t.Fatalf("GenerateInstallID: %v", err)
	}
	if len(id) != gpt.InstallIDLength {
		t.Fatalf("install-id length = %d, want %d", len(id), gpt.InstallIDLength)
	}
	if !strings.HasPrefix(id, gpt.InstallIDMagic) {
		t.Fatalf("install-id %q missing magic prefix", id)
	}
	if !HasInstallIDPrefix(id) {
		t.Fatalf("HasInstallIDPrefix(%q) = false", id)
	}
}

func Test_GenerateInstallID_Unique(t *testing.T) {
	a, err := GenerateInstallID()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateInstallID()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("two consecutive install-ids collided: %q", a)
	}
}

func Test_HasInstallIDPrefix(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"ANDROID!0011223Xbootloader", false}, // X is not hex
		{"ANDROID!00112233bootloader", true},
		{"ANDROID!00112233", true},
		{"bootloader", false},
		{"", false},
		{"ANDROID!0011223", false}, // too short
	}
	for _, c := range cases {
		if got := HasInstallIDPrefix(c.name); got != c.want {
			t.Errorf("HasInstallIDPrefix(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func Test_EntrySuffix(t *testing.T) {
	cases := []struct{ name, want string }{
		{"ANDROID!00112233bootloader", "bootloader"},
		{"ANDROID!00112233system", "system"},
		{"bootloader", "bootloader"},
		{"ANDROID!00112233", ""},
	}
	for _, c := range cases {
		if got := EntrySuffix(c.name); got != c.want {
			t.Errorf("EntrySuffix(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}
