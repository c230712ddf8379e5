// Package bootloader implements the two variants of the Bootloader
// consumer contract spec §4.4 describes: an EFI variant that registers
// a UEFI boot entry natively via go-efilib, and a legacy variant for
// BIOS/protective-MBR targets that relies on the protective MBR's boot
// code to chainload the bootloader partition instead. Exactly one of
// them may claim `base:bootloader`; the other is a no-op when it finds
// a different name there.
package bootloader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quanganh2627/platform-bootable-iago/internal/cliui"
	"github.com/quanganh2627/platform-bootable-iago/internal/exec"
	"github.com/quanganh2627/platform-bootable-iago/internal/options"
	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

// workDir is where the bootloader partition is mounted while its
// filesystem is populated, and is registered with cliui's emergency
// unmount registry for the SIGABRT handler (spec §5).
const workDir = "/tmp/iago-bootloader"

// claims reports whether this plugin is the one `base:bootloader`
// names (spec §4.4 "its own name, or stop").
func claims(s pipeline.Stores, name string) bool {
	return s.Options.GetDefault("base:bootloader", "") == name
}

// mountBootloaderPartition formats the bootloader partition as vfat and
// mounts it, registering the mount point for emergency unmount.
func mountBootloaderPartition(ctx context.Context, device string) (string, error) {
	res, err := exec.Run(ctx, "mkfs.vfat", device)
	if err != nil {
		return "", errors.Wrap(err, "formatting bootloader partition")
	}
	if res.ExitCode != 0 {
		return "", errors.Errorf("mkfs.vfat on %s exited %d", device, res.ExitCode)
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating bootloader mount point")
	}
	if err := unix.Mount(device, workDir, "vfat", 0, ""); err != nil {
		return "", errors.Wrap(err, "mounting bootloader partition")
	}
	cliui.RegisterCleanupMount(workDir)
	return workDir, nil
}

func unmountBootloaderPartition(mountPoint string) {
	if err := unix.Unmount(mountPoint, 0); err != nil {
		logrus.WithError(err).WithField("mount", mountPoint).Warn("iago::bootloader - unmount failed")
		return
	}
	cliui.UnregisterCleanupMount(mountPoint)
}

// copyBootImages copies each configured boot image's already-imaged
// partition onto the mounted bootloader filesystem, returning their
// recorded partition GUIDs keyed by name for composeLoaderConfig.
func copyBootImages(ctx context.Context, s pipeline.Stores, mountPoint string) (map[string]string, error) {
	guids := make(map[string]string)
	var outerErr error
	options.IterateStringList(s.Options.GetDefault("base:bootimages", ""), func(_ int, name string) bool {
		guid := s.Options.GetDefault("partition."+name+":guid", "")
		if guid == "" {
			outerErr = errors.Errorf("bootimage %s has no recorded partition GUID", name)
			return false
		}
		device := s.Options.GetDefault("partition."+name+":device", "")
		if device == "" {
			outerErr = errors.Errorf("bootimage %s has no recorded device", name)
			return false
		}

		guids[name] = guid
		dest := filepath.Join(mountPoint, name+".img")
		if res, err := exec.Run(ctx, "cp", "--sparse=always", device, dest); err != nil {
			outerErr = errors.Wrapf(err, "copying bootimage %s onto bootloader partition", name)
			return false
		} else if res.ExitCode != 0 {
			outerErr = errors.Errorf("copying bootimage %s onto bootloader partition: cp exited %d", name, res.ExitCode)
			return false
		}
		return true
	})
	return guids, outerErr
}

// composeLoaderConfig writes a minimal loader.conf naming the default
// boot image, the misc partition's GUID, and the kernel command line
// assembled from the kcmdline store.
func composeLoaderConfig(s pipeline.Stores, mountPoint string, guids map[string]string) error {
	var defaultImage string
	options.IterateStringList(s.Options.GetDefault("base:bootimages", ""), func(i int, name string) bool {
		if i == 0 {
			defaultImage = name
		}
		return false
	})
	if defaultImage == "" {
		return errors.New("base:bootimages is empty, nothing to boot")
	}

	var cmdline []string
	for _, key := range s.KCmdline.Keys() {
		value, _ := s.KCmdline.Get(key)
		cmdline = append(cmdline, key+"="+value)
	}

	var b strings.Builder
	b.WriteString("default " + defaultImage + "\n")
	b.WriteString("default_guid " + guids[defaultImage] + "\n")
	b.WriteString("misc_guid " + s.Options.GetDefault("partition.misc:guid", "") + "\n")
	b.WriteString("options " + strings.Join(cmdline, " ") + "\n")

	return os.WriteFile(filepath.Join(mountPoint, "loader.conf"), []byte(b.String()), 0o644)
}
