// Package config loads the installer's ini configuration — one or more
// comma-separated paths named by the ro.boot.iago.ini property — and
// flattens it into the option store's colon-namespaced keys.
package config

import (
	"os"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/mvo5/goconfigparser"
	"github.com/pkg/errors"

	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

// diskSectionPrefix is reserved for the partitioner's own discovery
// output (spec §4.3.1); a config file is not allowed to populate it.
const diskSectionPrefix = "disk."

// LoadInto reads every ini file named in paths (in order, later files
// overriding earlier ones for duplicate keys) and stores each
// `[section]\nkey=value` pair into store under the `section:key`
// option-store key, exactly as spec §6 describes for `ro.boot.iago.ini`.
func LoadInto(store *options.Store, paths []string) error {
	for _, path := range paths {
		if err := loadFileInto(store, path); err != nil {
			return errors.Wrapf(err, "loading ini config %q", path)
		}
	}
	return nil
}

func loadFileInto(store *options.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.ReadString(string(raw)); err != nil {
		return errors.Wrap(err, "parsing ini")
	}

	for _, section := range cfg.Sections() {
		if strings.HasPrefix(section, diskSectionPrefix) {
			return errors.Errorf("section %q is reserved for disk discovery and must not appear in config", section)
		}
		keys, err := cfg.Options(section)
		if err != nil {
			return errors.Wrapf(err, "listing keys in section %q", section)
		}
		for _, key := range keys {
			value, err := cfg.Get(section, key)
			if err != nil {
				return errors.Wrapf(err, "reading %s/%s", section, key)
			}
			store.Put(flattenKey(section, key), value)
		}
	}
	return nil
}

func flattenKey(section, key string) string {
	if section == "" {
		return key
	}
	return section + ":" + key
}

// CombineAndWrite assembles a single combined ini file from the
// key/value pairs currently in store (skipping disk.* entries, which
// are runtime-discovered, not configuration) and writes it atomically
// to destPath using renameio, so a process killed mid-write never
// leaves a half-written combined config behind.
func CombineAndWrite(store *options.Store, destPath string) error {
	var b strings.Builder
	bySection := make(map[string][]string)
	for key := range store.Snapshot() {
		section, leaf, ok := strings.Cut(key, ":")
		if !ok || strings.HasPrefix(section, diskSectionPrefix) {
			continue
		}
		bySection[section] = append(bySection[section], leaf)
	}
	for section, keys := range bySection {
		b.WriteString("[" + section + "]\n")
		for _, leaf := range keys {
			value, _ := store.Get(section + ":" + leaf)
			b.WriteString(leaf + "=" + value + "\n")
		}
	}
	return renameio.WriteFile(destPath, []byte(b.String()), 0o644)
}
