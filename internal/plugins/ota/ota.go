// Package ota implements the OTA stager consumer contract spec §4.4
// describes: when `base:ota` names a real file, stage it onto the
// cache partition for the recovery image to consume on next boot
// (supplemented from `original_source/installer/ota.c`, which is not
// named by spec.md's distillation but whose recovery-command-file
// behavior is worth keeping).
package ota

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quanganh2627/platform-bootable-iago/internal/cliui"
	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

// cacheMountPoint is where the cache partition is mounted while the OTA
// package and recovery command file are staged.
const cacheMountPoint = "/tmp/iago-cache"

// recoveryCommandLine is the line android/bootable/recovery expects
// in /cache/recovery/command to trigger an OTA install.
const recoveryCommandLine = "--update_package=/cache/ota.zip\n"

// Plugin stages an OTA package onto the cache partition, if one was
// configured.
type Plugin struct {
	ctx context.Context
}

// New constructs the OTA stager plugin.
func New(ctx context.Context) *Plugin {
	return &Plugin{ctx: ctx}
}

func (p *Plugin) Name() string { return "ota" }

func (p *Plugin) Execute(s pipeline.Stores) error {
	otaPath := s.Options.GetDefault("base:ota", "")
	if otaPath == "" {
		return nil
	}
	if _, err := os.Stat(otaPath); err != nil {
		return errors.Wrapf(err, "base:ota names %q but it is not a real path", otaPath)
	}

	device := s.Options.GetDefault("partition.cache:device", "")
	if device == "" {
		return errors.New("OTA staging requires a cache partition")
	}

	if err := os.MkdirAll(cacheMountPoint, 0o755); err != nil {
		return errors.Wrap(err, "creating cache mount point")
	}
	if err := unix.Mount(device, cacheMountPoint, "ext4", 0, ""); err != nil {
		return errors.Wrap(err, "mounting cache partition")
	}
	cliui.RegisterCleanupMount(cacheMountPoint)
	defer func() {
		if err := unix.Unmount(cacheMountPoint, 0); err != nil {
			logrus.WithError(err).Warn("iago::ota - unmount failed")
			return
		}
		cliui.UnregisterCleanupMount(cacheMountPoint)
	}()

	if err := copyFile(otaPath, filepath.Join(cacheMountPoint, "ota.zip")); err != nil {
		return errors.Wrap(err, "staging OTA package")
	}

	recoveryDir := filepath.Join(cacheMountPoint, "recovery")
	if err := os.MkdirAll(recoveryDir, 0o755); err != nil {
		return errors.Wrap(err, "creating recovery directory")
	}
	if err := os.WriteFile(filepath.Join(recoveryDir, "command"), []byte(recoveryCommandLine), 0o644); err != nil {
		return errors.Wrap(err, "writing recovery command file")
	}

	s.Options.Put("base:reboot_target", "recovery")
	logrus.WithField("source", otaPath).Info("iago::ota - staged OTA package, next boot targets recovery")
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
