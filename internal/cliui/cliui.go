// Package cliui implements the interactive cli_session prompts spec
// §4.3.2 describes — disk selection, dual-boot confirmation, and the
// NTFS minimum-shrink size prompt — using charmbracelet/huh as the Go-
// native replacement for the original's raw ui_printf/getchar loop
// (original_source/installer/util.c's ui_printf).
package cliui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
)

// DiskChoice is one selectable disk in the disk-picker prompt.
type DiskChoice struct {
	Token       string // option value, e.g. the disk name "sda"
	Description string // human-readable label, e.g. "sda — 64.0 GiB QEMU HARDDISK"
}

// PickDisk prompts the user to choose one of choices, returning the
// selected token. The partitioner calls it only from the interactive
// cli_session phase, and only when more than one candidate exists; a
// single candidate is chosen there without a prompt (spec §4.3.2).
func PickDisk(choices []DiskChoice) (string, error) {
	if len(choices) == 0 {
		return "", errors.New("cliui: no candidate disks to choose from")
	}

	options := make([]huh.Option[string], 0, len(choices))
	for _, c := range choices {
		options = append(options, huh.NewOption(c.Description, c.Token))
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select the install target disk").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return "", errors.Wrap(err, "cliui: disk picker")
	}
	return selected, nil
}

// ConfirmDualBoot asks the user to confirm shrinking an existing
// Windows data partition of windowsSizeMiB to make room for the
// installer, when both a dual-boot layout is possible and configured
// (spec §4.3.2 "layout decision").
func ConfirmDualBoot(windowsSizeMiB, requiredMiB uint64) (bool, error) {
	var confirmed bool
	prompt := fmt.Sprintf(
		"An existing Windows installation was found (%d MiB). Shrink it to free %d MiB for the new install?",
		windowsSizeMiB, requiredMiB)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(prompt).
				Affirmative("Shrink and continue").
				Negative("Cancel install").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.Wrap(err, "cliui: dual-boot confirmation")
	}
	return confirmed, nil
}

// PromptResizeTarget lets the user confirm or override the NTFS
// minimum-shrink size probed from ntfsresize, returning the chosen
// size in MiB (spec §4.3.1 "msdata_minsize").
func PromptResizeTarget(probedMinMiB uint64) (uint64, error) {
	var input string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("NTFS resize target (MiB)").
				Description(fmt.Sprintf("Probed minimum shrink size: %d MiB", probedMinMiB)).
				Value(&input).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					var v uint64
					if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
						return errors.New("enter a whole number of MiB")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return 0, errors.Wrap(err, "cliui: resize-target prompt")
	}
	if input == "" {
		return probedMinMiB, nil
	}
	var chosen uint64
	if _, err := fmt.Sscanf(input, "%d", &chosen); err != nil {
		return 0, errors.Wrap(err, "cliui: parsing resize target")
	}
	if chosen < probedMinMiB {
		return 0, errors.Errorf("cliui: resize target %d MiB is below the probed minimum of %d MiB", chosen, probedMinMiB)
	}
	return chosen, nil
}
