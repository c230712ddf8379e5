// Package finalizer implements the Finalizer consumer contract spec
// §4.4 describes: mount the factory partition and write every key/value
// of the install-properties store onto it as `key=value\n` lines
// (supplemented from `original_source/installer/finalizer.c`'s
// install.prop writer), the last thing the pipeline does before the
// driver reports completion.
package finalizer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quanganh2627/platform-bootable-iago/internal/cliui"
	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

// mountPoint is where the factory partition is mounted while
// install.prop is written.
const mountPoint = "/tmp/iago-factory"

// propsFileName is the file install.prop's key/value lines are written
// to, relative to the mounted factory partition.
const propsFileName = "install.prop"

// Plugin mounts the factory partition and writes the install-properties
// store to it. It is always registered last so every earlier plugin has
// had a chance to populate that store.
type Plugin struct {
	ctx context.Context
}

// New constructs the finalizer plugin.
func New(ctx context.Context) *Plugin {
	return &Plugin{ctx: ctx}
}

func (p *Plugin) Name() string { return "finalizer" }

func (p *Plugin) Execute(s pipeline.Stores) error {
	device, err := s.Options.MustGet("partition.factory:device")
	if err != nil {
		return err
	}
	fsType := s.Options.GetDefault("partition.factory:type", "ext4")

	if err := mkdirMount(device, fsType); err != nil {
		return err
	}
	cliui.RegisterCleanupMount(mountPoint)
	defer func() {
		if err := unix.Unmount(mountPoint, 0); err != nil {
			logrus.WithError(err).Warn("iago::finalizer - unmount failed")
			return
		}
		cliui.UnregisterCleanupMount(mountPoint)
	}()

	return writeInstallProp(s)
}

func mkdirMount(device, fsType string) error {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return errors.Wrap(err, "creating factory mount point")
	}
	if err := unix.Mount(device, mountPoint, fsType, 0, ""); err != nil {
		return errors.Wrap(err, "mounting factory partition")
	}
	return nil
}

// writeInstallProp renders the install-properties store as sorted
// `key=value\n` lines and writes it atomically via renameio, so a
// process killed mid-write never leaves install.prop half-written
// (spec §5 "Supplemented features").
func writeInstallProp(s pipeline.Stores) error {
	props := s.Properties.Snapshot()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + props[k] + "\n")
	}

	dest := filepath.Join(mountPoint, propsFileName)
	if err := renameio.WriteFile(dest, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "writing install.prop")
	}
	logrus.WithField("count", len(keys)).Info("iago::finalizer - wrote install.prop")
	return nil
}
