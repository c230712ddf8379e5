// Package imager implements the Imager consumer contract spec §4.4
// describes: for every entry named in `base:partitions`, prepare the
// device node the partitioner already created according to that
// entry's configured mode. The core's only guarantee to this plugin is
// that the device node exists once the partition table has been
// reread; imager is responsible for waiting it out.
package imager

import (
	"context"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quanganh2627/platform-bootable-iago/internal/exec"
	"github.com/quanganh2627/platform-bootable-iago/internal/options"
	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

// deviceAppearTimeout bounds the stat-retry loop spec §4.4/§7 describes
// ("imager retries stat up to 20 seconds").
const deviceAppearTimeout = 20 * time.Second

// zeroChunkBytes is the buffer size used by the zero mode's write loop.
const zeroChunkBytes = 1 << 20

// mkfsCommand maps a partition-type token to the external mkfs tool
// format mode invokes for it. boot/misc are raw Android image types and
// have no filesystem of their own, so they have no entry here.
var mkfsCommand = map[string]string{
	"esp":  "mkfs.vfat",
	"vfat": "mkfs.vfat",
	"ext4": "mkfs.ext4",
}

// Plugin images every configured partition once the partitioner has
// created the GPT entries for them.
type Plugin struct {
	ctx context.Context
}

// New constructs the imager plugin. ctx bounds every external mkfs
// invocation it makes.
func New(ctx context.Context) *Plugin {
	return &Plugin{ctx: ctx}
}

func (p *Plugin) Name() string { return "imager" }

func (p *Plugin) Execute(s pipeline.Stores) error {
	var outerErr error
	options.IterateStringList(s.Options.GetDefault("base:partitions", ""), func(_ int, name string) bool {
		if err := p.imageOne(s, name); err != nil {
			outerErr = errors.Wrapf(err, "partition %s", name)
			return false
		}
		return true
	})
	return outerErr
}

func (p *Plugin) imageOne(s pipeline.Stores, name string) error {
	mode := s.Options.GetDefault("partition."+name+":mode", "format")
	if mode == "skip" {
		return nil
	}

	device, err := s.Options.MustGet("partition." + name + ":device")
	if err != nil {
		return err
	}

	if err := waitForDevice(device); err != nil {
		return err
	}

	switch mode {
	case "format":
		typ, err := s.Options.MustGet("partition." + name + ":type")
		if err != nil {
			return err
		}
		return p.format(name, typ, device)
	case "image":
		return p.image(s, name, device)
	case "zero":
		return zero(device)
	default:
		return errors.Errorf("unknown mode %q", mode)
	}
}

// waitForDevice polls path with os.Stat until it appears or
// deviceAppearTimeout elapses (spec §7 "device appearance ... retry
// stat up to 20 times with 1 s sleep, then fatal").
func waitForDevice(path string) error {
	deadline := time.Now().Add(deviceAppearTimeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("device %s did not appear within %s", path, deviceAppearTimeout)
		}
		time.Sleep(time.Second)
	}
}

func (p *Plugin) format(name, typ, device string) error {
	cmd, ok := mkfsCommand[typ]
	if !ok {
		return errors.Errorf("type %q has no format command, use mode=image or mode=zero instead", typ)
	}
	res, err := exec.Run(p.ctx, cmd, device)
	if err != nil {
		return errors.Wrapf(err, "running %s", cmd)
	}
	if res.ExitCode != 0 {
		return errors.Errorf("%s on %s exited %d", cmd, name, res.ExitCode)
	}
	return nil
}

// image copies `partition.<name>:src` onto device verbatim. The
// optional `footer` key (spec §6 "ext4 resize footer bytes") reserves
// trailing bytes on an ext4 image for a later resize-to-fit pass; the
// imager only records that the reservation was honored by the image
// builder, it does not itself grow or shrink the filesystem.
func (p *Plugin) image(s pipeline.Stores, name, device string) error {
	src := s.Options.GetDefault("partition."+name+":src", "")
	if src == "" {
		return errors.New("mode=image requires a src")
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "opening image source")
	}
	defer in.Close()

	out, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(err, "opening device")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(err, "copying image")
	}

	if footer := s.Options.GetDefault("partition."+name+":footer", ""); footer != "" {
		if _, err := strconv.ParseUint(footer, 10, 64); err != nil {
			return errors.Wrapf(err, "invalid footer size %q", footer)
		}
		logrus.WithField("partition", name).Debug("iago::imager - ext4 resize footer reserved by image builder")
	}

	return out.Sync()
}

// zero writes zeros to device until a write fails with ENOSPC (spec §4.4
// mode=zero, "write zeros until no-space") — reaching device end is the
// success condition, not an error.
func zero(device string) error {
	out, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, zeroChunkBytes)
	for {
		if _, err := out.Write(buf); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				return nil
			}
			return err
		}
	}
}
