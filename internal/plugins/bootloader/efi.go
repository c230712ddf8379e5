package bootloader

import (
	"context"
	"encoding/binary"
	"fmt"

	efi "github.com/canonical/go-efilib"
	"github.com/canonical/go-efilib/linux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

// EFIPluginName is the base:bootloader value that selects this plugin
// (spec §4.4 "its own name, or stop").
const EFIPluginName = "bootloader-efi"

// defaultVarAttrs matches the attribute set canonical-snapd's boot
// package uses for its own Boot####/BootOrder variables: non-volatile,
// visible to both boot services and the running OS.
const defaultVarAttrs = efi.AttributeNonVolatile | efi.AttributeBootserviceAccess | efi.AttributeRuntimeAccess

// EFI implements the bootloader consumer contract for UEFI targets: it
// formats and populates the bootloader partition like the legacy
// variant, then registers a Boot#### variable and prepends it to
// BootOrder using go-efilib instead of shelling out to efibootmgr.
type EFI struct {
	ctx context.Context
}

// NewEFI constructs the EFI bootloader plugin. ctx bounds the mkfs/cp
// invocations it makes while populating the bootloader partition.
func NewEFI(ctx context.Context) *EFI {
	return &EFI{ctx: ctx}
}

func (p *EFI) Name() string { return EFIPluginName }

func (p *EFI) Execute(s pipeline.Stores) error {
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

	return registerEFIBootEntry(s)
}

// registerEFIBootEntry writes a new Boot#### variable describing the
// installed loader and prepends it to BootOrder. Grounded on
// canonical-snapd's boot.SetEfiBootVariables flow: construct a load
// option, find a free Boot#### slot by listing existing variables,
// write it, then read-modify-write BootOrder.
func registerEFIBootEntry(s pipeline.Stores) error {
	loaderPath, err := linux.FilePathToDevicePath(`\EFI\BOOT\BOOTX64.EFI`, linux.ShortFormPathMode)
	if err != nil {
		return errors.Wrap(err, "resolving loader device path")
	}

	option := efi.LoadOption{
		Attributes:  efi.LoadOptionActive | efi.LoadOptionCategoryBoot,
		Description: "android-iago",
		FilePath:    loaderPath,
	}
	data, err := option.Bytes()
	if err != nil {
		return errors.Wrap(err, "encoding EFI load option")
	}

	slot, err := findFreeBootSlot()
	if err != nil {
		return err
	}
	if err := efi.WriteVariable(slot, efi.GlobalVariable, defaultVarAttrs, data); err != nil {
		return errors.Wrapf(err, "writing %s EFI variable", slot)
	}

	if err := prependBootOrder(slot); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"disk":     s.Options.GetDefault("base:install_disk", ""),
		"index":    s.Options.GetDefault("partition.bootloader:index", ""),
		"variable": slot,
	}).Info("iago::bootloader.efi - registered boot entry")
	return nil
}

// findFreeBootSlot scans existing Boot#### variables in the global
// namespace and returns the first unused slot name.
func findFreeBootSlot() (string, error) {
	vars, err := efi.ListVariables()
	if err != nil {
		return "", errors.Wrap(err, "listing EFI variables")
	}
	used := make(map[string]bool, len(vars))
	for _, v := range vars {
		if v.GUID == efi.GlobalVariable {
			used[v.Name] = true
		}
	}
	for i := 0; i < 0x10000; i++ {
		name := fmt.Sprintf("Boot%04X", i)
		if !used[name] {
			return name, nil
		}
	}
	return "", errors.New("no free Boot#### slot")
}

// prependBootOrder reads the existing BootOrder (a packed array of
// little-endian uint16 indices), removes any existing occurrence of
// newSlot, and writes it back with newSlot first.
func prependBootOrder(newSlot string) error {
	var newIndex uint16
	if _, err := fmt.Sscanf(newSlot, "Boot%04X", &newIndex); err != nil {
		return errors.Wrapf(err, "parsing boot slot name %q", newSlot)
	}

	existing, _, err := efi.ReadVariable("BootOrder", efi.GlobalVariable)
	if err != nil && !errors.Is(err, efi.ErrVarNotExist) {
		return errors.Wrap(err, "reading BootOrder")
	}

	order := []uint16{newIndex}
	for i := 0; i+1 < len(existing); i += 2 {
		idx := binary.LittleEndian.Uint16(existing[i : i+2])
		if idx != newIndex {
			order = append(order, idx)
		}
	}

	buf := make([]byte, len(order)*2)
	for i, idx := range order {
		binary.LittleEndian.PutUint16(buf[i*2:], idx)
	}

	return efi.WriteVariable("BootOrder", efi.GlobalVariable, defaultVarAttrs, buf)
}
