package bootloader

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

// LegacyPluginName is the base:bootloader value selecting the
// protective-MBR/BIOS variant of the bootloader plugin, for targets
// with no UEFI firmware variable store to register with.
const LegacyPluginName = "bootloader-legacy"

// Legacy implements the bootloader consumer contract for BIOS targets:
// it formats and populates the bootloader partition exactly like the
// EFI variant, but registers no firmware boot entry — the protective
// MBR's boot code is expected to chainload the bootloader partition
// directly.
type Legacy struct {
	ctx context.Context
}

// NewLegacy constructs the legacy bootloader plugin.
func NewLegacy(ctx context.Context) *Legacy {
	return &Legacy{ctx: ctx}
}

func (p *Legacy) Name() string { return LegacyPluginName }

func (p *Legacy) Execute(s pipeline.Stores) error {
	if !claims(s, p.Name()) {
		return nil
	}

	device := s.Options.GetDefault("partition.bootloader:device", "")
	if device == "" {
		return errors.New("no bootloader partition device recorded")
	}

	mountPoint, err := mountBootloaderPartition(p.ctx, device)
	if err != nil {
		return err
	}
	defer unmountBootloaderPartition(mountPoint)

	guids, err := copyBootImages(p.ctx, s, mountPoint)
	if err != nil {
		return err
	}
	if err := composeLoaderConfig(s, mountPoint, guids); err != nil {
		return err
	}

	logrus.Info("iago::bootloader.legacy - no EFI firmware variable store on this target, relying on protective MBR boot code to chainload")
	return nil
}
