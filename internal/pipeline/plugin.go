// Package pipeline implements the installer's driver: the phased
// plugin sequencer (prepare → cli_session → execute) and the three
// process-wide stores plugins use to communicate, per spec §2/§4.1.
package pipeline

import "github.com/quanganh2627/platform-bootable-iago/internal/options"

// Stores bundles the three process-wide K/V stores the driver owns,
// handed to every plugin handler so a plugin never has to reach
// outside the pipeline package for shared state (spec §3 "Option
// store", "Install-properties store", "Kernel command-line store").
type Stores struct {
	Options    *options.Store
	Properties *options.Store
	KCmdline   *options.Store
}

// Phase identifies one of the three handler kinds a plugin may
// implement (spec §2).
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseCLISession
	PhaseExecute
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseCLISession:
		return "cli_session"
	case PhaseExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Plugin is the pipeline's unit of work. A plugin implements only the
// phases it needs; the driver type-asserts for each optional interface
// below rather than requiring empty stub methods (spec §2 "Plugins
// that do not need a phase omit it").
type Plugin interface {
	// Name identifies the plugin for logging and for the
	// `base:bootloader` single-claimant convention (spec §4.4).
	Name() string
}

// Preparer is implemented by plugins with privileged data-gathering
// work to do before any user prompting.
type Preparer interface {
	Prepare(s Stores) error
}

// CLISessioner is implemented by plugins that refine options
// interactively. The driver only invokes this phase when the run is
// interactive (spec §2, §6 "ro.boot.iago.cli").
type CLISessioner interface {
	CLISession(s Stores) error
}

// Executor is implemented by plugins that apply the final
// configuration: writing partitions, images, boot files, properties.
type Executor interface {
	Execute(s Stores) error
}
