package partitioner

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

// PlannedPartition is the in-memory form of one `partition.<name>:*`
// group of option-store keys (spec §3 "Planned partition"). Fields
// below the dashed line are filled in by execute, not configuration.
type PlannedPartition struct {
	Name        string
	Type        string // esp/boot/misc/ext4/vfat
	LenMiB      int64  // negative means "fill the remainder"
	Mode        string // format/image/zero/skip
	Src         string
	Footer      string
	Flags       string
	Description string

	// ---
	Index  int
	Device string
	GUID   string
}

// LoadPlan reads the ordered `base:partitions` list and every
// `partition.<name>:*` group it names from store.
func LoadPlan(store *options.Store) ([]*PlannedPartition, error) {
	list, ok := store.Get("base:partitions")
	if !ok {
		return nil, errors.New("option store: base:partitions is not set")
	}

	var plan []*PlannedPartition
	var parseErr error
	options.IterateStringList(list, func(_ int, name string) bool {
		pp, err := loadOne(store, name)
		if err != nil {
			parseErr = err
			return false
		}
		plan = append(plan, pp)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return plan, nil
}

func loadOne(store *options.Store, name string) (*PlannedPartition, error) {
	pp := &PlannedPartition{Name: name}

	typ, err := store.MustGet("partition." + name + ":type")
	if err != nil {
		return nil, err
	}
	pp.Type = typ

	lenStr, err := store.MustGet("partition." + name + ":len")
	if err != nil {
		return nil, err
	}
	lenMiB, err := strconv.ParseInt(lenStr, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "partition %s: invalid len %q", name, lenStr)
	}
	pp.LenMiB = lenMiB

	pp.Mode = store.GetDefault("partition."+name+":mode", "format")
	pp.Src = store.GetDefault("partition."+name+":src", "")
	pp.Footer = store.GetDefault("partition."+name+":footer", "")
	pp.Flags = store.GetDefault("partition."+name+":flags", "")
	pp.Description = store.GetDefault("partition."+name+":description", "")
	return pp, nil
}

// SaveResult writes the index/device/guid triple execute assigned to
// pp back into store.
func SaveResult(store *options.Store, pp *PlannedPartition) {
	if pp.Index != 0 {
		store.Put("partition."+pp.Name+":index", strconv.Itoa(pp.Index))
	}
	if pp.Device != "" {
		store.Put("partition."+pp.Name+":device", pp.Device)
	}
	if pp.GUID != "" {
		store.Put("partition."+pp.Name+":guid", pp.GUID)
	}
}

// FixedLenMiB reports whether pp has a concrete length (len >= 0).
func (pp *PlannedPartition) FixedLenMiB() (mib int64, fixed bool) {
	if pp.LenMiB < 0 {
		return 0, false
	}
	return pp.LenMiB, true
}
