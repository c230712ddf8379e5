// Package partitioner implements the installer's core subject: disk
// discovery, existing-installation/Windows analysis, layout planning,
// and GPT construction (spec §4.3).
package partitioner

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
)

// GenerateInstallID returns a fresh 32-bit random install-id stringified
// as gpt.InstallIDMagic followed by eight uppercase hex
// digits (spec §4.3.3). This becomes the leading 16 characters of every
// partition name the installer creates in this run.
func GenerateInstallID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	value := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return fmt.Sprintf("%s%08X", gpt.InstallIDMagic, value), nil
}

// HasInstallIDPrefix reports whether name begins with the install-id
// magic and 8 hex digits, regardless of which run produced it.
func HasInstallIDPrefix(name string) bool {
	if len(name) < gpt.InstallIDLength {
		return false
	}
	if !strings.HasPrefix(name, gpt.InstallIDMagic) {
		return false
	}
	hex := name[len(gpt.InstallIDMagic):gpt.InstallIDLength]
	for _, c := range hex {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// EntrySuffix returns the configured partition name with any
// install-id prefix stripped, e.g. "ANDROID!00112233bootloader" ->
// "bootloader". Used to recognize a prior run's "bootloader"-suffixed
// entry regardless of its install-id.
func EntrySuffix(name string) string {
	if !HasInstallIDPrefix(name) {
		return name
	}
	return name[gpt.InstallIDLength:]
}
