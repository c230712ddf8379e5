package partitioner

import (
	"fmt"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/quanganh2627/platform-bootable-iago/internal/gpt"
	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

// flagBits maps a planned-partition flag token to its GPT attribute
// bit (spec §4.3.4). A leading '!' in the configured token negates it.
var flagBits = map[string]uint64{
	"system": gpt.FlagSystem,
	"boot":   gpt.FlagBoot,
	"ro":     gpt.FlagReadOnly,
	"hidden": gpt.FlagHidden,
	"noauto": gpt.FlagNoAuto,
}

// ParseFlags resolves a whitespace-separated flag token list into a
// GPT attributes bitmask. An unrecognized token is fatal (spec §7
// "Unknown flag or type token").
func ParseFlags(tokenList string) (uint64, error) {
	var result uint64
	var parseErr error
	options.IterateStringList(tokenList, func(_ int, token string) bool {
		negate := false
		if len(token) > 0 && token[0] == '!' {
			negate = true
			token = token[1:]
		}
		bit, ok := flagBits[token]
		if !ok {
			parseErr = fmt.Errorf("unknown partition flag %q", token)
			return false
		}
		if negate {
			result &^= bit
		} else {
			result |= bit
		}
		return true
	})
	return result, parseErr
}

// TypeGUIDForToken resolves a configured partition type token (`esp`,
// `boot`, `misc`, `ext4`, `vfat`) to its GPT type GUID. An unrecognized
// token is fatal (spec §7).
func TypeGUIDForToken(token string) (guid.GUID, error) {
	switch token {
	case "esp":
		return gpt.TypeESP, nil
	case "boot":
		return gpt.TypeAndroidBoot, nil
	case "misc":
		return gpt.TypeAndroidMisc, nil
	case "ext4":
		return gpt.TypeLinuxFilesystem, nil
	case "vfat":
		return gpt.TypeMicrosoftBasic, nil
	default:
		return guid.GUID{}, fmt.Errorf("unknown partition type token %q", token)
	}
}
