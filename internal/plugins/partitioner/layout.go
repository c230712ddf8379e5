package partitioner

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/quanganh2627/platform-bootable-iago/internal/cliui"
	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

// PlanLayout runs the cli_session-phase layout decision spec §4.3.2
// describes: disk selection, and — when a Windows data partition was
// found on the chosen disk — the dual-boot confirmation and NTFS
// resize negotiation.
func PlanLayout(store *options.Store) error {
	diskNames := splitDisks(store.GetDefault("base:disks", ""))
	if len(diskNames) == 0 {
		return errors.New("no disks recorded by prepare phase")
	}

	chosen, err := chooseDisk(store, diskNames)
	if err != nil {
		return err
	}
	store.Put("base:install_disk", chosen)

	prefix := "disk." + chosen + ":"
	_, hasMSData := store.Get(prefix + "msdata_index")
	if !hasMSData {
		return confirmWipe(store, chosen)
	}

	return planDualBoot(store, prefix)
}

func splitDisks(list string) []string {
	var out []string
	options.IterateStringList(list, func(_ int, token string) bool {
		out = append(out, token)
		return true
	})
	return out
}

func chooseDisk(store *options.Store, names []string) (string, error) {
	if len(names) == 1 {
		return names[0], nil
	}

	choices := make([]cliui.DiskChoice, 0, len(names))
	for _, name := range names {
		prefix := "disk." + name + ":"
		model := store.GetDefault(prefix+"model", "unknown")
		sizeStr := store.GetDefault(prefix+"size", "0")
		choices = append(choices, cliui.DiskChoice{
			Token:       name,
			Description: name + " — " + model + " (" + sizeStr + " bytes)",
		})
	}
	return cliui.PickDisk(choices)
}

func requiredSizeMiB(store *options.Store, existingESPMiB uint64) (uint64, error) {
	plan, err := LoadPlan(store)
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, pp := range plan {
		if lenMiB, fixed := pp.FixedLenMiB(); fixed && lenMiB > 0 {
			sum += uint64(lenMiB)
		}
	}
	return sum + existingESPMiB + MinDataPartSizeMiB, nil
}

func confirmWipe(store *options.Store, disk string) error {
	prefix := "disk." + disk + ":"
	sizeBytes, _ := strconv.ParseUint(store.GetDefault(prefix+"size", "0"), 10, 64)

	required, err := requiredSizeMiB(store, 0)
	if err != nil {
		return err
	}
	requiredBytes := required*mib + 2*mib

	if sizeBytes < requiredBytes {
		return errors.Errorf("disk %s (%d bytes) is smaller than the required %d bytes", disk, sizeBytes, requiredBytes)
	}

	store.Put("base:dualboot", "0")
	return nil
}

func planDualBoot(store *options.Store, prefix string) error {
	msdataSize, _ := strconv.ParseUint(store.GetDefault(prefix+"msdata_size", "0"), 10, 64)
	windowsSizeMiB := msdataSize / mib

	espSize, _ := strconv.ParseUint(store.GetDefault(prefix+"esp_size", "0"), 10, 64)
	requiredMiB, err := requiredSizeMiB(store, espSize/mib)
	if err != nil {
		return err
	}

	confirmed, err := cliui.ConfirmDualBoot(windowsSizeMiB, requiredMiB)
	if err != nil {
		return err
	}
	if !confirmed {
		return errors.New("dual-boot install declined by operator")
	}

	androidSize, _ := strconv.ParseUint(store.GetDefault(prefix+"android_size", "0"), 10, 64)
	freeSize, _ := strconv.ParseUint(store.GetDefault(prefix+"free_size", "0"), 10, 64)

	// Reuse a previous install's footprint when present; otherwise the
	// raw free region. Approximate when both exist (spec §4.3.2).
	available := freeSize
	if androidSize > 0 {
		available = androidSize
	}

	requiredBytes := requiredMiB * mib

	if requiredBytes > available {
		minSizeStr, hasMin := store.Get(prefix + "msdata_minsize")
		if !hasMin {
			return errors.New("insufficient free space and NTFS shrink is not possible on this partition")
		}
		minSize, _ := strconv.ParseUint(minSizeStr, 10, 64)
		shortfall := requiredBytes - available
		windowsMax := msdataSize - shortfall
		if windowsMax < minSize {
			return errors.Errorf("required shrink of %s below the probed NTFS minimum of %d bytes is mandatory but impossible", prefix, minSize)
		}

		chosen, err := cliui.PromptResizeTarget(minSize / mib)
		if err != nil {
			return err
		}
		if chosen*mib > windowsMax {
			return errors.Errorf("chosen resize target %d MiB exceeds the maximum permissible %d MiB", chosen, windowsMax/mib)
		}
		store.Put(prefix+"windows_resize", strconv.FormatUint(chosen*mib, 10))
	}

	store.Put("base:dualboot", "1")
	return nil
}
